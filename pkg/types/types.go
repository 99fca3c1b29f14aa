// Package types defines the shared types used across shadowalign packages.
//
// Each package owns its own domain types; only cross-cutting data structures
// that would otherwise cause circular imports live here.
package types

import (
	"errors"
	"fmt"
)

// Side identifies one of the two recordings in a practice pair.
type Side string

const (
	// SideTarget is the reference recording the learner shadows.
	SideTarget Side = "target"

	// SideAttempt is the learner's own recording.
	SideAttempt Side = "attempt"
)

// Sides lists both sides in pipeline order.
var Sides = [...]Side{SideTarget, SideAttempt}

// IsValid reports whether s is a recognised side.
func (s Side) IsValid() bool {
	return s == SideTarget || s == SideAttempt
}

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == SideTarget {
		return SideAttempt
	}
	return SideTarget
}

// ConfigurationError reports a parameter that is out of range or otherwise
// unusable. It is returned before any pipeline work starts.
type ConfigurationError struct {
	// Field is the dotted parameter name (e.g. "vad.frame_duration_ms").
	Field string

	// Value is the offending value.
	Value any

	// Reason describes the accepted range.
	Reason string
}

// Error implements error.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s = %v: %s", e.Field, e.Value, e.Reason)
}

// NewConfigurationError builds a [ConfigurationError] with a formatted reason.
func NewConfigurationError(field string, value any, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{
		Field:  field,
		Value:  value,
		Reason: fmt.Sprintf(format, args...),
	}
}

// IsConfigurationError reports whether err is or wraps a [ConfigurationError].
// Joined errors are searched as well.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
