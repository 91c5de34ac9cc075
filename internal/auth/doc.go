// Package auth provides API authentication for the Growcube bridge.
//
// The bridge has no user database. Access tokens are HS256 JWTs minted
// offline with the `token` command and signed with security.jwt.secret.
// Each token carries a role:
//   - viewer: read devices, state and history
//   - operator: viewer plus watering actions
//   - admin: operator plus removing devices from the registry
//
// Role permissions are a static map (compile-time, no database lookup).
package auth
