package models

import "time"

// ExecutionStatus is the outcome of one engine run.
type ExecutionStatus string

const (
	ExecutionStatusRunning ExecutionStatus = "running"
	ExecutionStatusSuccess ExecutionStatus = "success"
	ExecutionStatusError   ExecutionStatus = "error"
	ExecutionStatusTimeout ExecutionStatus = "timeout"
)

// IsFailure reports whether the run ended badly.
func (s ExecutionStatus) IsFailure() bool {
	return s == ExecutionStatusError || s == ExecutionStatusTimeout
}

// WorkflowExecution is one run of an instance on the engine. Append-only.
type WorkflowExecution struct {
	ID             string          `json:"id"`
	InstanceID     string          `json:"instance_id,omitempty"`
	ExternalID     string          `json:"workflow_id"`
	Status         ExecutionStatus `json:"status"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
	DurationMs     *int64          `json:"duration_ms,omitempty"`
	ItemsProcessed int             `json:"items_processed"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
}
