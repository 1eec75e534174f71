package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations use.
var (
	ErrPurchaseNotFound   = errors.New("purchase not found")
	ErrCredentialNotFound = errors.New("credential not found")
	ErrTemplateNotFound   = errors.New("template not found")
	ErrInstanceNotFound   = errors.New("instance not found")
	ErrJobNotFound        = errors.New("job not found")
	ErrOnboardingNotFound = errors.New("onboarding progress not found")

	// ErrTemplateVersionExists indicates a concurrent publish took the version.
	ErrTemplateVersionExists = errors.New("template version already exists")

	// ErrNoJobAvailable indicates the queue has nothing runnable right now.
	ErrNoJobAvailable = errors.New("no job available")

	// ErrJobNotClaimed indicates the job is not processing under the given worker.
	ErrJobNotClaimed = errors.New("job not claimed by worker")

	// ErrJobNotRequeueable indicates the job is not failed or dead-lettered.
	ErrJobNotRequeueable = errors.New("job cannot be requeued")
)

// EntityError wraps a repository failure with the entity it concerns.
type EntityError struct {
	Op     string // Operation being performed (e.g., "GetByID", "Claim")
	Entity string // Entity kind, e.g. "job"
	ID     string
	Err    error
}

func (e *EntityError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Entity, e.Err)
	}

	return fmt.Sprintf("%s %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
}

func (e *EntityError) Unwrap() error {
	return e.Err
}

func (e *EntityError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewEntityError creates an error with context.
func NewEntityError(op, entity, id string, err error) *EntityError {
	return &EntityError{Op: op, Entity: entity, ID: id, Err: err}
}

func IsPurchaseNotFound(err error) bool {
	return errors.Is(err, ErrPurchaseNotFound)
}

func IsCredentialNotFound(err error) bool {
	return errors.Is(err, ErrCredentialNotFound)
}

func IsTemplateNotFound(err error) bool {
	return errors.Is(err, ErrTemplateNotFound)
}

func IsTemplateVersionExists(err error) bool {
	return errors.Is(err, ErrTemplateVersionExists)
}

func IsInstanceNotFound(err error) bool {
	return errors.Is(err, ErrInstanceNotFound)
}

func IsJobNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound)
}

func IsOnboardingNotFound(err error) bool {
	return errors.Is(err, ErrOnboardingNotFound)
}

// IsNotFound reports whether err is any of the not-found sentinels.
func IsNotFound(err error) bool {
	return IsPurchaseNotFound(err) ||
		IsCredentialNotFound(err) ||
		IsTemplateNotFound(err) ||
		IsInstanceNotFound(err) ||
		IsJobNotFound(err) ||
		IsOnboardingNotFound(err)
}
