package device

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

// Validation constants.
const (
	maxNameLength = 100
	maxHostLength = 253

	// Size limits for the state map to prevent DoS via memory exhaustion.
	maxStateKeys      = 100
	maxStringValueLen = 1024
	maxArrayLen       = 50
)

// deviceIDPattern matches ids derived from the device's reported id:
// lowercase hexadecimal, or a lowercased non-numeric id.
var deviceIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{0,63}$`)

// ValidateDevice performs validation on a device.
// Returns an error describing the first validation failure found.
func ValidateDevice(d *Device) error {
	if d == nil {
		return ErrInvalidDevice
	}
	if err := ValidateID(d.ID); err != nil {
		return err
	}
	if err := ValidateName(d.Name); err != nil {
		return err
	}
	if err := ValidateHost(d.Host); err != nil {
		return err
	}
	return ValidateState(d.State)
}

// ValidateID checks if a device id is valid.
func ValidateID(id string) error {
	if !deviceIDPattern.MatchString(id) {
		return fmt.Errorf("%w: id %q must be lowercase alphanumeric", ErrInvalidDevice, id)
	}
	return nil
}

// ValidateName checks if a device name is valid.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateHost checks if a device host ("host" or "host:port") is valid.
func ValidateHost(host string) error {
	host = strings.TrimSpace(host)
	if host == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidHost)
	}
	if len(host) > maxHostLength {
		return fmt.Errorf("%w: host exceeds %d characters", ErrInvalidHost, maxHostLength)
	}
	if strings.ContainsAny(host, " /\\") {
		return fmt.Errorf("%w: host %q contains invalid characters", ErrInvalidHost, host)
	}
	if h, _, err := net.SplitHostPort(host); err == nil && h == "" {
		return fmt.Errorf("%w: host %q has no hostname", ErrInvalidHost, host)
	}
	return nil
}

// ValidateState checks the size of a state map.
func ValidateState(state State) error {
	if len(state) > maxStateKeys {
		return fmt.Errorf("%w: state has more than %d keys", ErrInvalidState, maxStateKeys)
	}
	for k, v := range state {
		if len(k) > maxStringValueLen {
			return fmt.Errorf("%w: state key too long", ErrInvalidState)
		}
		if err := validateValueSize(v); err != nil {
			return err
		}
	}
	return nil
}

// validateValueSize checks a state value; state is flat, so nested maps are
// rejected.
func validateValueSize(v any) error {
	switch val := v.(type) {
	case string:
		if len(val) > maxStringValueLen {
			return fmt.Errorf("%w: string value too long", ErrInvalidState)
		}
	case []any:
		if len(val) > maxArrayLen {
			return fmt.Errorf("%w: array too large", ErrInvalidState)
		}
	case map[string]any:
		return fmt.Errorf("%w: nested objects are not allowed", ErrInvalidState)
	}
	// Primitives (bool, int, float64, nil) are safe
	return nil
}
