package auth

// Permission names an API capability.
type Permission string

const (
	PermDeviceRead      Permission = "device:read"
	PermDeviceOperate   Permission = "device:operate"
	PermDeviceConfigure Permission = "device:configure"
)

// Roles are tiers: each one holds every permission of the tiers below it.
// requiredRole is the lowest tier granted a permission.
var requiredRole = map[Permission]Role{
	PermDeviceRead:      RoleViewer,
	PermDeviceOperate:   RoleOperator,
	PermDeviceConfigure: RoleAdmin,
}

// allPermissions in ascending tier order.
var allPermissions = []Permission{PermDeviceRead, PermDeviceOperate, PermDeviceConfigure}

// rank is the role's position in ValidRoles, or -1.
func rank(r Role) int {
	for i, v := range ValidRoles {
		if v == r {
			return i
		}
	}
	return -1
}

// HasPermission reports whether role is at or above the tier perm needs.
// Unknown roles and unknown permissions are denied.
func HasPermission(role Role, perm Permission) bool {
	min, ok := requiredRole[perm]
	if !ok {
		return false
	}
	r := rank(role)
	return r >= 0 && r >= rank(min)
}

// PermissionsForRole lists what role may do, or nil for an unknown role.
func PermissionsForRole(role Role) []Permission {
	if rank(role) < 0 {
		return nil
	}
	var perms []Permission
	for _, p := range allPermissions {
		if HasPermission(role, p) {
			perms = append(perms, p)
		}
	}
	return perms
}
