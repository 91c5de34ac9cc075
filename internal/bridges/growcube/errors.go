package growcube

import (
	"errors"
	"fmt"
)

// Domain-specific errors for Growcube bridge operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConnectFailed is returned when the device connection cannot be opened
	// or drops before the identity report arrives.
	ErrConnectFailed = errors.New("growcube: connect failed")

	// ErrConnectTimeout is returned when the device does not send its identity
	// report within the identity timeout.
	ErrConnectTimeout = errors.New("growcube: timed out waiting for device identity")

	// ErrShutdown is returned by operations on a coordinator that has been disconnected.
	ErrShutdown = errors.New("growcube: coordinator shut down")

	// ErrNotConnected is returned when an action is requested while the device is offline.
	ErrNotConnected = errors.New("growcube: device not connected")

	// ErrInvalidArgument is wrapped by every ValidationError.
	ErrInvalidArgument = errors.New("growcube: invalid argument")

	// ErrDeviceNotFound is returned by the manager for an unknown device id.
	ErrDeviceNotFound = errors.New("growcube: device not found")

	// ErrUnknownCommand is returned for an unrecognised command name.
	ErrUnknownCommand = errors.New("growcube: unknown command")

	// ErrCommandFailed is returned when a command could not be written to the device.
	ErrCommandFailed = errors.New("growcube: command failed")
)

// ValidationError describes a rejected action argument.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

// Error implements error.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Message)
}

// Unwrap makes errors.Is(err, ErrInvalidArgument) true.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidArgument
}

func errPanic(r any) error {
	return fmt.Errorf("panic: %v", r)
}
