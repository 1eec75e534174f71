package engine

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a failed engine call. Status is 0 when no HTTP response was received.
type Error struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Status == 0 && e.Err != nil:
		return fmt.Sprintf("engine %s: %v", e.Op, e.Err)
	case e.Body != "":
		return fmt.Sprintf("engine %s: HTTP %d: %s", e.Op, e.Status, e.Body)
	default:
		return fmt.Sprintf("engine %s: HTTP %d", e.Op, e.Status)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient reports whether the call may succeed if repeated.
func (e *Error) Transient() bool {
	return e.Status == 0 ||
		e.Status == http.StatusRequestTimeout ||
		e.Status == http.StatusTooManyRequests ||
		e.Status >= http.StatusInternalServerError
}

// IsTransient reports whether err is a transient engine error.
func IsTransient(err error) bool {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.Transient()
	}

	return false
}

// IsNotFound reports whether the engine answered 404.
func IsNotFound(err error) bool {
	var engineErr *Error

	return errors.As(err, &engineErr) && engineErr.Status == http.StatusNotFound
}
