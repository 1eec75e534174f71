package models

import (
	"encoding/json"
	"time"
)

// CredentialBinding maps a placeholder in an engine definition to one field
// of one service's credential set.
type CredentialBinding struct {
	Service string `json:"service" validate:"required"`
	Field   string `json:"field"   validate:"required"`
}

// WorkflowTemplate is an immutable, versioned workflow definition.
type WorkflowTemplate struct {
	AutomationID     string                       `json:"automation_id"     validate:"required"`
	Version          int                          `json:"version"`
	Name             string                       `json:"name"              validate:"required,min=3"`
	Description      string                       `json:"description"`
	RequiredServices []string                     `json:"required_services" validate:"required,min=1,dive,required"`
	Definition       json.RawMessage              `json:"definition"        validate:"required"`
	Bindings         map[string]CredentialBinding `json:"bindings"`
	PublishedAt      time.Time                    `json:"published_at"`
}

// Requires reports whether the template needs credentials for service.
func (t *WorkflowTemplate) Requires(service string) bool {
	for _, s := range t.RequiredServices {
		if s == service {
			return true
		}
	}

	return false
}
