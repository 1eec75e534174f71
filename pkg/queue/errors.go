package queue

import "errors"

var (
	ErrInvalidTransition    = errors.New("invalid instance transition")
	ErrCredentialsNotReady  = errors.New("credentials not ready")
	ErrNoWorkflow           = errors.New("instance has no engine workflow")
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")
	ErrPurchaseInactive     = errors.New("purchase is no longer active")
)

// PermanentError marks a failure that no amount of retrying will fix. The job
// is dead-lettered on the first occurrence.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err as a PermanentError. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var permanent *PermanentError

	return errors.As(err, &permanent)
}
