package domain

import "fmt"

// ValidationError reports an invalid input value. Expected input oddities
// (missing counters, unknown tiers) are normalized instead; this error is
// reserved for values that cannot be safely defaulted, such as non-positive
// amounts.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a validation error for a field
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}
