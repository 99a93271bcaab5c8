package rbac

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Override is the tri-state per-user exception for one permission
type Override int

const (
	// OverrideAbsent means no row exists; the role decides
	OverrideAbsent Override = iota
	// OverrideGrant allows the permission regardless of role
	OverrideGrant
	// OverrideDeny refuses the permission regardless of role
	OverrideDeny
)

func (o Override) String() string {
	switch o {
	case OverrideGrant:
		return "grant"
	case OverrideDeny:
		return "deny"
	default:
		return "absent"
	}
}

// OverrideFromGranted maps a nullable granted column to an Override
func OverrideFromGranted(granted *bool) Override {
	switch {
	case granted == nil:
		return OverrideAbsent
	case *granted:
		return OverrideGrant
	default:
		return OverrideDeny
	}
}

// Granted returns the nullable boolean form of the override
func (o Override) Granted() *bool {
	switch o {
	case OverrideGrant:
		v := true
		return &v
	case OverrideDeny:
		v := false
		return &v
	default:
		return nil
	}
}

// OverrideValue is the write-side value of setUserPermission. It is true,
// false, or null; null clears the override.
type OverrideValue struct {
	valid   bool
	granted *bool
}

// Grant returns a value that stores an explicit grant
func Grant() OverrideValue {
	v := true
	return OverrideValue{valid: true, granted: &v}
}

// Deny returns a value that stores an explicit denial
func Deny() OverrideValue {
	v := false
	return OverrideValue{valid: true, granted: &v}
}

// Clear returns a value that deletes the override
func Clear() OverrideValue {
	return OverrideValue{valid: true}
}

// OverrideValueOf converts a nullable boolean. nil clears.
func OverrideValueOf(granted *bool) OverrideValue {
	if granted == nil {
		return Clear()
	}
	v := *granted
	return OverrideValue{valid: true, granted: &v}
}

// IsClear reports whether the value deletes the override
func (v OverrideValue) IsClear() bool {
	return v.valid && v.granted == nil
}

// Override returns the state the value will store
func (v OverrideValue) Override() Override {
	return OverrideFromGranted(v.granted)
}

// Validate fails for the zero value, which was never set
func (v OverrideValue) Validate() error {
	if !v.valid {
		return ErrInvalidOverrideValue
	}
	return nil
}

// MarshalJSON encodes true, false or null
func (v OverrideValue) MarshalJSON() ([]byte, error) {
	if v.granted == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*v.granted)
}

// UnmarshalJSON accepts true, false or null and rejects anything else
func (v *OverrideValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "null":
		*v = Clear()
	case "true":
		*v = Grant()
	case "false":
		*v = Deny()
	default:
		return fmt.Errorf("%w: %s", ErrInvalidOverrideValue, data)
	}
	return nil
}

func (v OverrideValue) String() string {
	if !v.valid {
		return "unset"
	}
	if v.granted == nil {
		return "null"
	}
	if *v.granted {
		return "true"
	}
	return "false"
}
