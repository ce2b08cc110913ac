// ABOUTME: Validation error taxonomy for the entity service
// ABOUTME: ValidationError matches ErrInvalidInput so callers can map it without inspecting fields

package entity

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is returned when a request is rejected before reaching the store
var ErrInvalidInput = errors.New("invalid input")

// ValidationError represents an input validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %q: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewValidationError creates a ValidationError for field
func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsInvalidInput reports whether err resolves to ErrInvalidInput
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}
