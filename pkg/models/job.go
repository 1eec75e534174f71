package models

import "time"

// JobAction is a lifecycle action requested against one purchase.
type JobAction string

const (
	JobActionCreate      JobAction = "create"
	JobActionUpdate      JobAction = "update"
	JobActionPause       JobAction = "pause"
	JobActionResume      JobAction = "resume"
	JobActionDelete      JobAction = "delete"
	JobActionRetry       JobAction = "retry"
	JobActionHealthCheck JobAction = "health_check"
)

// JobActions lists every action the queue accepts.
var JobActions = []JobAction{
	JobActionCreate,
	JobActionUpdate,
	JobActionPause,
	JobActionResume,
	JobActionDelete,
	JobActionRetry,
	JobActionHealthCheck,
}

// Valid reports whether a is a known action.
func (a JobAction) Valid() bool {
	for _, known := range JobActions {
		if a == known {
			return true
		}
	}

	return false
}

// JobStatus is the processing state of a queue job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusDeadLetter JobStatus = "dead_letter"
)

// IsFinal reports whether the job will not be picked up again by a worker.
// A failed job still has attempts left and waits for its next schedule.
func (s JobStatus) IsFinal() bool {
	return s == JobStatusCompleted || s == JobStatusDeadLetter
}

// Default job settings.
const (
	DefaultJobMaxAttempts = 5
	DefaultJobPriority    = 0
	HealthCheckPriority   = -10
	DeletePriority        = 10
)

// QueueJob is one requested lifecycle action.
type QueueJob struct {
	ID          string         `json:"id"`
	Action      JobAction      `json:"action"                 validate:"required"`
	PurchaseID  string         `json:"purchase_id"            validate:"required"`
	InstanceID  string         `json:"instance_id,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	Status      JobStatus      `json:"status"`
	Priority    int            `json:"priority"`
	Attempts    int            `json:"attempts"`
	MaxAttempts int            `json:"max_attempts"`
	LastError   string         `json:"last_error,omitempty"`
	Result      string         `json:"result,omitempty"`
	ScheduledAt time.Time      `json:"scheduled_at"`
	ClaimedBy   string         `json:"claimed_by,omitempty"`
	ClaimedAt   *time.Time     `json:"claimed_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Exhausted reports whether the attempt budget is used up.
func (j *QueueJob) Exhausted() bool {
	return j.MaxAttempts > 0 && j.Attempts >= j.MaxAttempts
}

// NewQueueJob builds a queued job with default settings for the action.
func NewQueueJob(action JobAction, purchaseID string, payload map[string]any) *QueueJob {
	priority := DefaultJobPriority

	switch action {
	case JobActionDelete:
		priority = DeletePriority
	case JobActionHealthCheck:
		priority = HealthCheckPriority
	default:
	}

	now := time.Now().UTC()

	return &QueueJob{
		Action:      action,
		PurchaseID:  purchaseID,
		Payload:     payload,
		Status:      JobStatusQueued,
		Priority:    priority,
		MaxAttempts: DefaultJobMaxAttempts,
		ScheduledAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
