// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"
)

// Client errors. The HTTP layer maps them to 4xx responses.
var (
	// 400 Bad Request.
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnknownAction  = errors.New("unknown action")

	// 409 Conflict.
	ErrInstanceDeleted   = errors.New("instance is being deleted")
	ErrInvalidTransition = errors.New("action not allowed in current state")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrUnknownAction)
}

// IsConflictError checks if an error is a lifecycle conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrInstanceDeleted) ||
		errors.Is(err, ErrInvalidTransition)
}

func newError(op, code string, err error, format string, args ...any) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}
