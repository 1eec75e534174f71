package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/provisioner/pkg/credentials"
	"github.com/dukex/provisioner/pkg/health"
	"github.com/dukex/provisioner/pkg/metrics"
	"github.com/dukex/provisioner/pkg/models"
	"github.com/dukex/provisioner/pkg/persistence"
	"github.com/dukex/provisioner/pkg/stats"
)

type CredentialChecker interface {
	Validate(ctx context.Context, service string, creds map[string]string) credentials.ValidationResult
	CheckReadiness(ctx context.Context, required []string, credsByService map[string]map[string]string) credentials.ReadinessResult
}

type HealthProber interface {
	ProbeHealth(ctx context.Context, externalID string) (models.HealthGrade, error)
}

type HistorySyncer interface {
	Sync(ctx context.Context, instance *models.WorkflowInstance) ([]*models.WorkflowExecution, error)
}

// CoreDependencies wires a Core. Prober, History and Metrics are optional; a
// zero HourlyRate uses stats.DefaultHourlyRate.
type CoreDependencies struct {
	Persistence persistence.Persistence
	Credentials CredentialChecker
	Prober      HealthProber
	History     HistorySyncer
	Metrics     *metrics.Registry
	HourlyRate  float64
}

// Core is the surface the onboarding and dashboard layers use to reach the
// lifecycle machinery.
type Core struct {
	store       persistence.Persistence
	credentials CredentialChecker
	prober      HealthProber
	history     HistorySyncer
	metrics     *metrics.Registry
	hourlyRate  float64
	logger      *slog.Logger
}

func NewCore(deps CoreDependencies, logger *slog.Logger) *Core {
	rate := deps.HourlyRate
	if rate <= 0 {
		rate = stats.DefaultHourlyRate
	}

	return &Core{
		store:       deps.Persistence,
		credentials: deps.Credentials,
		prober:      deps.Prober,
		history:     deps.History,
		metrics:     deps.Metrics,
		hourlyRate:  rate,
		logger:      logger.With("module", "core"),
	}
}

// HealthCheck checks the health of the persistence layer.
func (c *Core) HealthCheck(ctx context.Context) (string, bool) {
	if c.store == nil {
		return "Persistence layer not initialized", false
	}

	err := c.store.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ValidateIntegration checks one credential set against its provider. It never
// reads cached results.
func (c *Core) ValidateIntegration(ctx context.Context, service string, creds map[string]string) (credentials.ValidationResult, error) {
	if service == "" {
		return credentials.ValidationResult{}, newError("ValidateIntegration", "service_required", ErrInvalidRequest, "service is required")
	}

	result := c.credentials.Validate(ctx, service, creds)

	if c.metrics != nil {
		c.metrics.CredentialValidations.WithLabelValues(result.Service, string(result.Reason)).Inc()
	}

	return result, nil
}

func (c *Core) CheckAutomationReadiness(
	ctx context.Context,
	required []string,
	credsByService map[string]map[string]string,
) (credentials.ReadinessResult, error) {
	if len(required) == 0 {
		return credentials.ReadinessResult{}, newError("CheckAutomationReadiness", "services_required", ErrInvalidRequest, "required_services must not be empty")
	}

	result := c.credentials.CheckReadiness(ctx, required, credsByService)

	if c.metrics != nil {
		for _, r := range result.Results {
			c.metrics.CredentialValidations.WithLabelValues(r.Service, string(r.Reason)).Inc()
		}
	}

	return result, nil
}

// Enqueue queues a lifecycle action for a purchase. Once a delete is queued
// every other action is refused.
func (c *Core) Enqueue(ctx context.Context, action models.JobAction, purchaseID string, payload map[string]any) (*models.QueueJob, error) {
	const op = "Enqueue"

	if !action.Valid() {
		return nil, newError(op, "unknown_action", ErrUnknownAction, "unknown action %q", action)
	}

	if purchaseID == "" {
		return nil, newError(op, "purchase_required", ErrInvalidRequest, "purchase id is required")
	}

	_, err := c.store.Purchases().GetByID(ctx, purchaseID)
	if err != nil {
		return nil, err
	}

	instance, err := c.store.Instances().GetByPurchase(ctx, purchaseID)
	if err != nil && !persistence.IsInstanceNotFound(err) {
		return nil, err
	}

	if action != models.JobActionDelete {
		err = c.ensureNotDeleted(ctx, purchaseID, instance)
		if err != nil {
			return nil, err
		}
	}

	switch action {
	case models.JobActionPause, models.JobActionResume, models.JobActionUpdate, models.JobActionHealthCheck:
		if instance == nil || !instance.HasExternalID() {
			return nil, newError(op, "no_workflow", ErrInvalidTransition, "%s requires a provisioned instance", action)
		}
	default:
	}

	job := models.NewQueueJob(action, purchaseID, payload)

	err = c.store.Jobs().Enqueue(ctx, job)
	if err != nil {
		return nil, err
	}

	if c.metrics != nil {
		c.metrics.JobsEnqueued.WithLabelValues(string(action)).Inc()
	}

	c.logger.InfoContext(ctx, "job enqueued",
		"job_id", job.ID,
		"action", action,
		"purchase_id", purchaseID,
	)

	return job, nil
}

func (c *Core) ensureNotDeleted(ctx context.Context, purchaseID string, instance *models.WorkflowInstance) error {
	if instance != nil && instance.Status.IsTerminal() {
		return newError("Enqueue", "instance_stopped", ErrInstanceDeleted, "instance for purchase %s is stopped", purchaseID)
	}

	deleting, err := c.store.Jobs().HasDelete(ctx, purchaseID)
	if err != nil {
		return err
	}

	if deleting {
		return newError("Enqueue", "delete_pending", ErrInstanceDeleted, "a delete is queued for purchase %s", purchaseID)
	}

	return nil
}

// InstanceHealth is the health view of one purchase's instance. Live is false
// when the grade comes from the last recorded check.
type InstanceHealth struct {
	PurchaseID   string                `json:"purchase_id"`
	InstanceID   string                `json:"instance_id"`
	Status       models.InstanceStatus `json:"status"`
	Health       models.HealthGrade    `json:"health"`
	Live         bool                  `json:"live"`
	LastHealthAt *time.Time            `json:"last_health_at,omitempty"`
	ErrorMessage string                `json:"error_message,omitempty"`
}

// GetInstanceHealth grades the instance without changing it.
func (c *Core) GetInstanceHealth(ctx context.Context, purchaseID string) (*InstanceHealth, error) {
	instance, err := c.store.Instances().GetByPurchase(ctx, purchaseID)
	if err != nil {
		return nil, err
	}

	view := &InstanceHealth{
		PurchaseID:   purchaseID,
		InstanceID:   instance.ID,
		Status:       instance.Status,
		Health:       instance.Health,
		LastHealthAt: instance.LastHealthAt,
		ErrorMessage: instance.ErrorMessage,
	}

	if view.Health == "" {
		view.Health = models.HealthUnknown
	}

	if c.prober == nil || !instance.HasExternalID() {
		return view, nil
	}

	grade, err := c.prober.ProbeHealth(ctx, instance.ExternalIDValue())
	if err != nil {
		c.logger.WarnContext(ctx, "health probe failed, using recorded grade",
			"purchase_id", purchaseID,
			"instance_id", instance.ID,
			"error", err,
		)

		return view, nil
	}

	view.Health = grade
	view.Live = true

	return view, nil
}

// GetStats computes execution statistics for the purchase's instance.
func (c *Core) GetStats(ctx context.Context, purchaseID string) (stats.WorkflowStats, error) {
	instance, err := c.store.Instances().GetByPurchase(ctx, purchaseID)
	if err != nil {
		return stats.WorkflowStats{}, err
	}

	executions, err := c.executions(ctx, instance)
	if err != nil {
		return stats.WorkflowStats{}, err
	}

	return stats.Compute(executions, instance.AutomationID, c.hourlyRate), nil
}

func (c *Core) executions(ctx context.Context, instance *models.WorkflowInstance) ([]*models.WorkflowExecution, error) {
	if c.history != nil {
		executions, err := c.history.Sync(ctx, instance)
		if err == nil {
			return executions, nil
		}

		c.logger.WarnContext(ctx, "execution sync failed, using stored history",
			"instance_id", instance.ID,
			"error", err,
		)
	}

	return c.store.Executions().ListByInstance(ctx, instance.ID, 0)
}

// FleetHealth aggregates the recorded grades of a tenant's live instances.
// Stopped instances are left out. An empty tenant covers every tenant.
func (c *Core) FleetHealth(ctx context.Context, tenantID string) (health.Summary, error) {
	instances, err := c.store.Instances().List(ctx, persistence.InstanceFilter{TenantID: tenantID})
	if err != nil {
		return health.Summary{}, err
	}

	live := make([]*models.WorkflowInstance, 0, len(instances))

	for _, instance := range instances {
		if instance.Status == models.InstanceStatusStopped {
			continue
		}

		live = append(live, instance)
	}

	return health.Aggregate(live), nil
}
