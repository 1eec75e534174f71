package models

import "time"

// CredentialStatus is the validation state of a stored credential set.
type CredentialStatus string

const (
	CredentialStatusPending    CredentialStatus = "pending"
	CredentialStatusValidating CredentialStatus = "validating"
	CredentialStatusValid      CredentialStatus = "valid"
	CredentialStatusInvalid    CredentialStatus = "invalid"
	CredentialStatusExpired    CredentialStatus = "expired"
)

// VerificationLevel tells how strongly a positive validation was established.
type VerificationLevel string

const (
	// VerificationVerified means the provider accepted the credentials.
	VerificationVerified VerificationLevel = "verified"
	// VerificationShapeChecked means only field presence was checked.
	VerificationShapeChecked VerificationLevel = "shape_checked"
	VerificationNone         VerificationLevel = "none"
)

// IntegrationCredential is a tenant's credential set for one external service.
type IntegrationCredential struct {
	ID                string            `json:"id"`
	TenantID          string            `json:"tenant_id"                    validate:"required"`
	Service           string            `json:"service"                      validate:"required"`
	Credentials       map[string]string `json:"credentials"`
	Status            CredentialStatus  `json:"status"`
	VerificationLevel VerificationLevel `json:"verification_level,omitempty"`
	LastValidatedAt   *time.Time        `json:"last_validated_at,omitempty"`
	LastError         string            `json:"last_error,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// MarshalSafe returns a copy with credential values masked, for API responses.
func (c *IntegrationCredential) MarshalSafe() IntegrationCredential {
	masked := *c
	masked.Credentials = make(map[string]string, len(c.Credentials))

	for k := range c.Credentials {
		masked.Credentials[k] = "********"
	}

	return masked
}
