// Package events defines the lifecycle notifications published while
// provisioning and supervising automation instances.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/dukex/provisioner/pkg/models"
)

type EventType string

// Topic carries every provisioning event.
const Topic = "provisioner.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	InstanceStatusChangedEvent EventType = "instance.status_changed"
	InstanceHealthChangedEvent EventType = "instance.health_changed"
	JobCompletedEvent          EventType = "job.completed"
	JobDeadLetteredEvent       EventType = "job.dead_lettered"
	OnboardingStepChangedEvent EventType = "onboarding.step_changed"
	CredentialsRejectedEvent   EventType = "credentials.rejected"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	PurchaseID string         `json:"purchase_id"`
	WorkerID   string         `json:"worker_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, purchaseID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		PurchaseID: purchaseID,
	}
}

type InstanceStatusChanged struct {
	BaseEvent

	InstanceID   string                `json:"instance_id"`
	AutomationID string                `json:"automation_id"`
	From         models.InstanceStatus `json:"from"`
	To           models.InstanceStatus `json:"to"`
	ExternalID   string                `json:"external_id,omitempty"`
	Error        string                `json:"error,omitempty"`
}

func (e InstanceStatusChanged) GetType() EventType {
	return InstanceStatusChangedEvent
}

type InstanceHealthChanged struct {
	BaseEvent

	InstanceID string             `json:"instance_id"`
	From       models.HealthGrade `json:"from"`
	To         models.HealthGrade `json:"to"`
}

func (e InstanceHealthChanged) GetType() EventType {
	return InstanceHealthChangedEvent
}

type JobCompleted struct {
	BaseEvent

	JobID    string           `json:"job_id"`
	Action   models.JobAction `json:"action"`
	Attempts int              `json:"attempts"`
	Note     string           `json:"note,omitempty"`
}

func (e JobCompleted) GetType() EventType {
	return JobCompletedEvent
}

type JobDeadLettered struct {
	BaseEvent

	JobID     string           `json:"job_id"`
	Action    models.JobAction `json:"action"`
	Attempts  int              `json:"attempts"`
	LastError string           `json:"last_error"`
}

func (e JobDeadLettered) GetType() EventType {
	return JobDeadLetteredEvent
}

type OnboardingStepChanged struct {
	BaseEvent

	From models.OnboardingStep `json:"from"`
	To   models.OnboardingStep `json:"to"`
}

func (e OnboardingStepChanged) GetType() EventType {
	return OnboardingStepChangedEvent
}

// CredentialsRejected reports stored credentials a provider refused while provisioning.
type CredentialsRejected struct {
	BaseEvent

	TenantID string   `json:"tenant_id"`
	Services []string `json:"services"`
}

func (e CredentialsRejected) GetType() EventType {
	return CredentialsRejectedEvent
}
