package device

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Limits on what a bridge may store in a device. They bound the memory a
// misbehaving bridge can pin and the size of every fan-out message.
const (
	maxNameLength   = 100
	maxStateKeys    = 100
	maxNestedKeys   = 50
	maxArrayLen     = 50
	maxStringLen    = 1024
	maxNestingDepth = 10
)

var deviceTypeRegex = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// ValidateDevice checks a whole device before it enters the namespace.
// Type and domain may be empty; everything else must be set and known.
func ValidateDevice(d *Device) error {
	if d == nil {
		return ErrInvalidDevice
	}
	checks := []error{
		ValidateName(d.Name),
		ValidateProtocol(d.Protocol),
		ValidateHealthStatus(d.HealthStatus),
		ValidateState(d.State),
	}
	if d.Type != "" {
		checks = append(checks, ValidateDeviceType(d.Type))
	}
	if d.Domain != "" {
		checks = append(checks, ValidateDomain(d.Domain))
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	return nil
}

// ValidateName rejects blank names and names over 100 bytes.
func ValidateName(name string) error {
	switch n := len(strings.TrimSpace(name)); {
	case n == 0:
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	case n > maxNameLength:
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateDeviceType accepts lowercase identifiers such as "light_switch".
func ValidateDeviceType(t DeviceType) error {
	if !deviceTypeRegex.MatchString(string(t)) {
		return fmt.Errorf("%w: %q", ErrInvalidDeviceType, t)
	}
	return nil
}

func ValidateDomain(d Domain) error { return oneOf(d, validDomains, ErrInvalidDomain) }

func ValidateProtocol(p Protocol) error { return oneOf(p, validProtocols, ErrInvalidProtocol) }

func ValidateHealthStatus(h HealthStatus) error {
	return oneOf(h, validHealthStatuses, ErrInvalidState)
}

func oneOf[T ~string](v T, allowed []T, sentinel error) error {
	if slices.Contains(allowed, v) {
		return nil
	}
	return fmt.Errorf("%w: %q", sentinel, v)
}

// ValidateState bounds the size and nesting of a state map. Errors name
// the offending path, for example state.scenes[3].label.
func ValidateState(s State) error {
	if len(s) > maxStateKeys {
		return fmt.Errorf("%w: state has %d keys, limit %d", ErrInvalidState, len(s), maxStateKeys)
	}
	return walkState("state", map[string]any(s), 0)
}

func walkState(path string, v any, depth int) error {
	if depth > maxNestingDepth {
		return fmt.Errorf("%w: %s nested deeper than %d", ErrInvalidState, path, maxNestingDepth)
	}
	switch val := v.(type) {
	case string:
		if len(val) > maxStringLen {
			return fmt.Errorf("%w: %s longer than %d bytes", ErrInvalidState, path, maxStringLen)
		}
	case map[string]any:
		if depth > 0 && len(val) > maxNestedKeys {
			return fmt.Errorf("%w: %s has more than %d keys", ErrInvalidState, path, maxNestedKeys)
		}
		for k, elem := range val {
			if len(k) > maxStringLen {
				return fmt.Errorf("%w: key under %s longer than %d bytes", ErrInvalidState, path, maxStringLen)
			}
			if err := walkState(path+"."+k, elem, depth+1); err != nil {
				return err
			}
		}
	case []any:
		if len(val) > maxArrayLen {
			return fmt.Errorf("%w: %s has more than %d elements", ErrInvalidState, path, maxArrayLen)
		}
		for i, elem := range val {
			if err := walkState(path+"["+strconv.Itoa(i)+"]", elem, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}
