// Package persistence provides the storage abstraction for purchases, credentials,
// templates, instances, queue jobs, executions and onboarding progress.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/provisioner/pkg/models"
)

// Persistence groups every repository behind one connection.
type Persistence interface {
	Credentials() CredentialRepository
	Purchases() PurchaseRepository
	Templates() TemplateRepository
	Instances() InstanceRepository
	Jobs() JobRepository
	Executions() ExecutionRepository
	Onboarding() OnboardingRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// CredentialRepository stores one credential set per tenant and service.
type CredentialRepository interface {
	Save(ctx context.Context, credential *models.IntegrationCredential) error
	Get(ctx context.Context, tenantID, service string) (*models.IntegrationCredential, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*models.IntegrationCredential, error)
}

type PurchaseRepository interface {
	Save(ctx context.Context, purchase *models.Purchase) error
	GetByID(ctx context.Context, id string) (*models.Purchase, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*models.Purchase, error)
}

// TemplateRepository is an append-only catalog keyed by automation id and version.
type TemplateRepository interface {
	// Insert stores a new version. It fails with ErrTemplateVersionExists when
	// the (automation id, version) pair is already taken.
	Insert(ctx context.Context, template *models.WorkflowTemplate) error
	Get(ctx context.Context, automationID string, version int) (*models.WorkflowTemplate, error)
	// Versions returns every version of an automation, highest first.
	Versions(ctx context.Context, automationID string) ([]*models.WorkflowTemplate, error)
	AutomationIDs(ctx context.Context) ([]string, error)
}

// InstanceFilter narrows instance listings. Empty fields match everything.
type InstanceFilter struct {
	TenantID string
	Status   models.InstanceStatus
}

type InstanceRepository interface {
	Save(ctx context.Context, instance *models.WorkflowInstance) error
	GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error)
	GetByPurchase(ctx context.Context, purchaseID string) (*models.WorkflowInstance, error)
	List(ctx context.Context, filter InstanceFilter) ([]*models.WorkflowInstance, error)
}

// JobFilter narrows job listings. Empty fields match everything.
type JobFilter struct {
	PurchaseID string
	Status     models.JobStatus
	Limit      int
}

// JobRepository is the persisted action queue.
//
// Claim moves one runnable job from queued or failed to processing. A job is
// runnable when its scheduled time has passed, no other job of the same
// purchase is processing and no older job of the same purchase is still
// waiting. Highest priority wins, then oldest.
type JobRepository interface {
	Enqueue(ctx context.Context, job *models.QueueJob) error
	GetByID(ctx context.Context, id string) (*models.QueueJob, error)
	List(ctx context.Context, filter JobFilter) ([]*models.QueueJob, error)

	// Claim returns ErrNoJobAvailable when nothing is runnable.
	Claim(ctx context.Context, workerID string) (*models.QueueJob, error)
	// Complete persists the outcome of a claimed job. It fails with
	// ErrJobNotClaimed unless the job is processing and claimed by workerID.
	Complete(ctx context.Context, workerID string, job *models.QueueJob) error
	// ReleaseStale returns processing jobs claimed before cutoff to the queue,
	// or to dead_letter when they have no attempts left.
	ReleaseStale(ctx context.Context, cutoff time.Time) (int, error)
	// Requeue resurrects a dead-lettered or failed job with a fresh attempt budget.
	Requeue(ctx context.Context, id string) (*models.QueueJob, error)

	// HasDelete reports whether a delete job for the purchase exists that has
	// not been dead-lettered.
	HasDelete(ctx context.Context, purchaseID string) (bool, error)
	// HasPending reports whether a job with the action is waiting or running.
	HasPending(ctx context.Context, purchaseID string, action models.JobAction) (bool, error)
}

// ExecutionRepository keeps engine execution history. Finished executions are
// never rewritten.
type ExecutionRepository interface {
	Record(ctx context.Context, execution *models.WorkflowExecution) error
	// ListByInstance returns executions newest first. A limit <= 0 returns all.
	ListByInstance(ctx context.Context, instanceID string, limit int) ([]*models.WorkflowExecution, error)
}

type OnboardingRepository interface {
	Save(ctx context.Context, progress *models.OnboardingProgress) error
	Get(ctx context.Context, purchaseID string) (*models.OnboardingProgress, error)
}
