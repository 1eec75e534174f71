package testutil

import (
	"context"
	"sync/atomic"

	"github.com/dukex/provisioner/pkg/credentials"
	"github.com/dukex/provisioner/pkg/models"
)

// StubValidator answers every validation of one service with a fixed verdict.
type StubValidator struct {
	Name     string
	Required []string
	Valid    bool
	Reason   credentials.Reason

	calls atomic.Int32
}

// AcceptingValidator verifies any complete credential set for service.
func AcceptingValidator(service string, fields ...string) *StubValidator {
	return &StubValidator{Name: service, Required: fields, Valid: true, Reason: credentials.ReasonOK}
}

// RejectingValidator rejects any complete credential set for service.
func RejectingValidator(service string, fields ...string) *StubValidator {
	return &StubValidator{Name: service, Required: fields, Reason: credentials.ReasonRejected}
}

func (v *StubValidator) Service() string {
	return v.Name
}

func (v *StubValidator) Fields() []string {
	return v.Required
}

func (v *StubValidator) Validate(_ context.Context, _ map[string]string) credentials.ValidationResult {
	v.calls.Add(1)

	result := credentials.ValidationResult{
		Service: v.Name,
		Valid:   v.Valid,
		Reason:  v.Reason,
		Level:   models.VerificationNone,
		Message: v.Name + " rejected the credentials",
	}

	switch {
	case v.Valid:
		result.Level = models.VerificationVerified
		result.Message = v.Name + " credentials verified"
	case v.Reason == credentials.ReasonUnreachable:
		result.Message = "could not reach " + v.Name
	}

	return result
}

// Calls is the number of validations performed.
func (v *StubValidator) Calls() int {
	return int(v.calls.Load())
}
