package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidRole       = errors.New("invalid role")
	ErrLastAdmin         = errors.New("cannot remove last admin")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError reports malformed input. Handlers map it to 400 before any
// service logic runs; services return it for checks that need domain config.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// OperationError is an expected, user-facing failure of an otherwise valid
// request (for example an empty id list). It is returned to the client as a
// structured error payload instead of an HTTP failure status.
type OperationError struct {
	Message string
}

func (e *OperationError) Error() string {
	return e.Message
}

// NewOperationError creates an OperationError with the given message.
func NewOperationError(message string) *OperationError {
	return &OperationError{Message: message}
}

// IsValidation reports whether err wraps a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsOperation reports whether err wraps an *OperationError.
func IsOperation(err error) bool {
	var oe *OperationError
	return errors.As(err, &oe)
}
