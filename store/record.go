package store

import (
	"fmt"
)

// Outcome tags the final result of a task attempt or strategy application.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
	OutcomeUnknown Outcome = "unknown"
)

// Valid reports whether the outcome is one of the recognized tags.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailure, OutcomePartial, OutcomeUnknown:
		return true
	}
	return false
}

// ValidationError rejects a malformed record before any tier is written.
// It is the only error a write path surfaces to the caller; tier failures
// are recovered by falling through to the next tier.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

func invalidField(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidationError reports whether err is a record validation failure.
func IsValidationError(err error) bool {
	_, ok := err.(*ValidationError)
	return ok
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
