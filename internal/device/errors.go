package device

import "errors"

// Registry and repository errors; compare with errors.Is.
var (
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidDevice is a nil device or a malformed id.
	ErrInvalidDevice = errors.New("device: invalid")
	ErrInvalidName   = errors.New("device: invalid name")
	ErrInvalidHost   = errors.New("device: invalid host")
	ErrInvalidState  = errors.New("device: invalid state")
)
