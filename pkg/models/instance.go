// Package models defines the core domain models for automation provisioning.
package models

import "time"

// InstanceStatus represents the lifecycle state of a workflow instance.
type InstanceStatus string

const (
	InstanceStatusPending  InstanceStatus = "pending"
	InstanceStatusCreating InstanceStatus = "creating"
	InstanceStatusActive   InstanceStatus = "active"
	InstanceStatusPaused   InstanceStatus = "paused"
	InstanceStatusError    InstanceStatus = "error"
	InstanceStatusStopped  InstanceStatus = "stopped"
)

var instanceTransitions = map[InstanceStatus][]InstanceStatus{
	InstanceStatusPending:  {InstanceStatusCreating},
	InstanceStatusCreating: {InstanceStatusActive},
	InstanceStatusActive:   {InstanceStatusPaused, InstanceStatusCreating},
	InstanceStatusPaused:   {InstanceStatusActive, InstanceStatusCreating},
	InstanceStatusError:    {InstanceStatusCreating, InstanceStatusStopped},
}

// CanTransitionTo reports whether the instance may move from s to next.
// Any non-terminal state may move to error or stopped; stopped is terminal.
func (s InstanceStatus) CanTransitionTo(next InstanceStatus) bool {
	if s == InstanceStatusStopped {
		return false
	}

	if s == next {
		return true
	}

	if next == InstanceStatusError || next == InstanceStatusStopped {
		return true
	}

	for _, allowed := range instanceTransitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// IsTerminal reports whether no further lifecycle action may be applied.
func (s InstanceStatus) IsTerminal() bool {
	return s == InstanceStatusStopped
}

// HealthGrade is the health axis of an instance, independent of its status.
type HealthGrade string

const (
	HealthUnknown  HealthGrade = "unknown"
	HealthHealthy  HealthGrade = "healthy"
	HealthDegraded HealthGrade = "degraded"
	HealthFailing  HealthGrade = "failing"
	HealthOffline  HealthGrade = "offline"
)

// WorkflowInstance is one materialization of a template for one purchase.
type WorkflowInstance struct {
	ID              string         `json:"id"`
	PurchaseID      string         `json:"purchase_id"                 validate:"required"`
	TenantID        string         `json:"tenant_id"                   validate:"required"`
	AutomationID    string         `json:"automation_id"               validate:"required"`
	TemplateVersion int            `json:"template_version"`
	Status          InstanceStatus `json:"status"                      validate:"required"`
	Health          HealthGrade    `json:"health"`
	ExternalID      *string        `json:"external_id,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	ErrorCount      int            `json:"error_count"`
	RetryCount      int            `json:"retry_count"`
	MaxRetries      int            `json:"max_retries"`
	Config          map[string]any `json:"config,omitempty"`
	LastHealthAt    *time.Time     `json:"last_health_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// HasExternalID reports whether the engine accepted a create for this instance.
func (i *WorkflowInstance) HasExternalID() bool {
	return i.ExternalID != nil && *i.ExternalID != ""
}

// ExternalIDValue returns the engine id or an empty string.
func (i *WorkflowInstance) ExternalIDValue() string {
	if i.ExternalID == nil {
		return ""
	}

	return *i.ExternalID
}

// DefaultMaxRetries is applied to instances created without an explicit budget.
const DefaultMaxRetries = 3
