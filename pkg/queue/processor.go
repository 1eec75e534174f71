// Package queue applies lifecycle jobs to workflow instances on the engine.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/provisioner/pkg/credentials"
	"github.com/dukex/provisioner/pkg/engine"
	"github.com/dukex/provisioner/pkg/eventbus"
	"github.com/dukex/provisioner/pkg/events"
	"github.com/dukex/provisioner/pkg/metrics"
	"github.com/dukex/provisioner/pkg/models"
	"github.com/dukex/provisioner/pkg/otelhelper"
	"github.com/dukex/provisioner/pkg/persistence"
)

// NoteSupersededByDelete is the result of any job short-circuited by a delete.
const NoteSupersededByDelete = "superseded by delete"

// Engine is the part of the engine client the processor drives.
type Engine interface {
	Create(ctx context.Context, tmpl *models.WorkflowTemplate, creds map[string]map[string]string, tenantLabel string) (engine.CreateResult, error)
	Activate(ctx context.Context, externalID string) error
	Deactivate(ctx context.Context, externalID string) error
	Delete(ctx context.Context, externalID string) error
	ProbeHealth(ctx context.Context, externalID string) (models.HealthGrade, error)
}

type Templates interface {
	Latest(ctx context.Context, automationID string) (*models.WorkflowTemplate, error)
}

type Readiness interface {
	CheckReadiness(ctx context.Context, required []string, credsByService map[string]map[string]string) credentials.ReadinessResult
}

type HistorySyncer interface {
	Sync(ctx context.Context, instance *models.WorkflowInstance) ([]*models.WorkflowExecution, error)
}

// Dependencies of a Processor. History, Publisher and Metrics are optional.
type Dependencies struct {
	Persistence persistence.Persistence
	Engine      Engine
	Templates   Templates
	Readiness   Readiness
	History     HistorySyncer
	Publisher   eventbus.EventPublisher
	Metrics     *metrics.Registry
}

// Result is the outcome of applying one job.
type Result struct {
	Success bool
	Note    string
	Err     error
}

type Processor struct {
	store     persistence.Persistence
	engine    Engine
	templates Templates
	readiness Readiness
	history   HistorySyncer
	publisher eventbus.EventPublisher
	metrics   *metrics.Registry
	tracer    trace.Tracer
	logger    *slog.Logger
	now       func() time.Time
}

func NewProcessor(deps Dependencies, logger *slog.Logger) (*Processor, error) {
	switch {
	case deps.Persistence == nil:
		return nil, errors.New("queue processor requires persistence")
	case deps.Engine == nil:
		return nil, errors.New("queue processor requires an engine")
	case deps.Templates == nil:
		return nil, errors.New("queue processor requires templates")
	case deps.Readiness == nil:
		return nil, errors.New("queue processor requires a readiness checker")
	}

	publisher := deps.Publisher
	if publisher == nil {
		publisher = eventbus.Discard{}
	}

	registry := deps.Metrics
	if registry == nil {
		registry = metrics.NewRegistry()
	}

	return &Processor{
		store:     deps.Persistence,
		engine:    deps.Engine,
		templates: deps.Templates,
		readiness: deps.Readiness,
		history:   deps.History,
		publisher: publisher,
		metrics:   registry,
		tracer:    otelhelper.Tracer(),
		logger:    logger.With("module", "queue"),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Process applies a claimed job and persists its outcome. The returned error
// only reports a failure to record the outcome; job failures are written to
// the job itself.
func (p *Processor) Process(ctx context.Context, workerID string, job *models.QueueJob) error {
	ctx, span := otelhelper.StartSpan(ctx, p.tracer, "queue.process",
		attribute.String(otelhelper.JobIDKey, job.ID),
		attribute.String(otelhelper.JobActionKey, string(job.Action)),
		attribute.Int(otelhelper.JobAttemptKey, job.Attempts),
		attribute.String(otelhelper.PurchaseIDKey, job.PurchaseID),
		attribute.String(otelhelper.WorkerIDKey, workerID),
	)
	defer span.End()

	logger := p.logger.With(
		"job_id", job.ID,
		"action", job.Action,
		"purchase_id", job.PurchaseID,
		"worker_id", workerID,
		"attempt", job.Attempts,
	)

	started := time.Now()
	result := p.Apply(ctx, job)
	p.metrics.JobDuration.WithLabelValues(string(job.Action)).Observe(time.Since(started).Seconds())

	outcome := p.settle(ctx, job, result)

	err := p.store.Jobs().Complete(ctx, workerID, job)
	if err != nil {
		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "failed to record job outcome", "error", err)

		return fmt.Errorf("failed to complete job %s: %w", job.ID, err)
	}

	p.metrics.JobsProcessed.WithLabelValues(string(job.Action), outcome).Inc()
	span.SetAttributes(attribute.String("provisioner.job.outcome", outcome))

	switch outcome {
	case metrics.OutcomeRetry:
		otelhelper.SetError(span, result.Err)
		logger.WarnContext(ctx, "job failed, will retry",
			"error", result.Err,
			"next_attempt_at", job.ScheduledAt,
		)
	case metrics.OutcomeDeadLetter:
		otelhelper.SetError(span, result.Err)
		logger.ErrorContext(ctx, "job dead-lettered", "error", result.Err)
		p.publish(ctx, job.PurchaseID, events.JobDeadLettered{
			BaseEvent: p.baseEvent(events.JobDeadLetteredEvent, job.PurchaseID, workerID),
			JobID:     job.ID,
			Action:    job.Action,
			Attempts:  job.Attempts,
			LastError: job.LastError,
		})
	default:
		logger.InfoContext(ctx, "job completed", "result", job.Result)
		p.publish(ctx, job.PurchaseID, events.JobCompleted{
			BaseEvent: p.baseEvent(events.JobCompletedEvent, job.PurchaseID, workerID),
			JobID:     job.ID,
			Action:    job.Action,
			Attempts:  job.Attempts,
			Note:      job.Result,
		})
	}

	return nil
}

// Apply runs the action of job against its instance without touching the job
// row. Panics are converted into failures.
func (p *Processor) Apply(ctx context.Context, job *models.QueueJob) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorContext(ctx, "recovered panic while processing job",
				"job_id", job.ID,
				"action", job.Action,
				"panic", r,
			)

			result = Result{Err: fmt.Errorf("panic while processing %s: %v", job.Action, r)}
		}
	}()

	note, err := p.handle(ctx, job)
	if err != nil {
		return Result{Err: err}
	}

	return Result{Success: true, Note: note}
}

// settle moves the job to its next status and returns the metrics outcome.
func (p *Processor) settle(ctx context.Context, job *models.QueueJob, result Result) string {
	now := p.now()

	if result.Success {
		job.Status = models.JobStatusCompleted
		job.CompletedAt = &now
		job.LastError = ""
		job.Result = result.Note

		if result.Note == NoteSupersededByDelete {
			return metrics.OutcomeSuperseded
		}

		return metrics.OutcomeCompleted
	}

	job.LastError = result.Err.Error()
	terminal := IsPermanent(result.Err) || job.Exhausted()

	p.recordInstanceFailure(ctx, job, result.Err, terminal)

	if terminal {
		job.Status = models.JobStatusDeadLetter
		job.CompletedAt = &now

		return metrics.OutcomeDeadLetter
	}

	job.Status = models.JobStatusFailed
	job.ScheduledAt = now.Add(Backoff(job.Attempts))

	return metrics.OutcomeRetry
}

// recordInstanceFailure keeps the last error on the instance. Health checks
// never change lifecycle bookkeeping.
func (p *Processor) recordInstanceFailure(ctx context.Context, job *models.QueueJob, cause error, terminal bool) {
	if job.Action == models.JobActionHealthCheck {
		return
	}

	instance, err := p.store.Instances().GetByPurchase(ctx, job.PurchaseID)
	if err != nil {
		if !persistence.IsInstanceNotFound(err) {
			p.logger.WarnContext(ctx, "failed to load instance for failure bookkeeping",
				"purchase_id", job.PurchaseID,
				"error", err,
			)
		}

		return
	}

	from := instance.Status
	instance.ErrorMessage = cause.Error()
	instance.ErrorCount++

	if terminal && from != models.InstanceStatusError && from.CanTransitionTo(models.InstanceStatusError) {
		instance.Status = models.InstanceStatusError
	}

	err = p.store.Instances().Save(ctx, instance)
	if err != nil {
		p.logger.WarnContext(ctx, "failed to save instance failure",
			"instance_id", instance.ID,
			"error", err,
		)

		return
	}

	if instance.Status != from {
		p.publishStatus(ctx, instance, from)
	}
}

func (p *Processor) handle(ctx context.Context, job *models.QueueJob) (string, error) {
	if !job.Action.Valid() {
		return "", Permanent(fmt.Errorf("unknown action %q", job.Action))
	}

	if job.Action != models.JobActionDelete {
		superseded, err := p.supersededByDelete(ctx, job.PurchaseID)
		if err != nil {
			return "", err
		}

		if superseded {
			return NoteSupersededByDelete, nil
		}
	}

	switch job.Action {
	case models.JobActionCreate:
		return p.create(ctx, job)
	case models.JobActionRetry:
		return p.retry(ctx, job)
	case models.JobActionUpdate:
		return p.update(ctx, job)
	case models.JobActionPause:
		return p.pause(ctx, job)
	case models.JobActionResume:
		return p.resume(ctx, job)
	case models.JobActionDelete:
		return p.remove(ctx, job)
	case models.JobActionHealthCheck:
		return p.checkHealth(ctx, job)
	default:
		return "", Permanent(fmt.Errorf("unknown action %q", job.Action))
	}
}

func (p *Processor) supersededByDelete(ctx context.Context, purchaseID string) (bool, error) {
	deleted, err := p.store.Jobs().HasDelete(ctx, purchaseID)
	if err != nil {
		return false, fmt.Errorf("failed to check delete jobs: %w", err)
	}

	if deleted {
		return true, nil
	}

	instance, err := p.store.Instances().GetByPurchase(ctx, purchaseID)
	if err != nil {
		if persistence.IsInstanceNotFound(err) {
			return false, nil
		}

		return false, fmt.Errorf("failed to load instance: %w", err)
	}

	return instance.Status.IsTerminal(), nil
}

func (p *Processor) create(ctx context.Context, job *models.QueueJob) (string, error) {
	purchase, err := p.purchase(ctx, job.PurchaseID)
	if err != nil {
		return "", err
	}

	instance, err := p.ensureInstance(ctx, purchase)
	if err != nil {
		return "", err
	}

	job.InstanceID = instance.ID

	if instance.HasExternalID() {
		if instance.Status == models.InstanceStatusActive {
			return "instance already active", nil
		}

		return p.activateExisting(ctx, instance)
	}

	tmpl, err := p.latestTemplate(ctx, purchase.AutomationID)
	if err != nil {
		return "", err
	}

	return p.provision(ctx, purchase, instance, tmpl)
}

// activateExisting finishes a create whose workflow exists on the engine but
// was never activated.
func (p *Processor) activateExisting(ctx context.Context, instance *models.WorkflowInstance) (string, error) {
	if !instance.Status.CanTransitionTo(models.InstanceStatusActive) {
		err := p.transition(ctx, instance, models.InstanceStatusCreating)
		if err != nil {
			return "", err
		}
	}

	err := p.engine.Activate(ctx, instance.ExternalIDValue())
	if err != nil {
		return "", fmt.Errorf("failed to activate workflow %s: %w", instance.ExternalIDValue(), err)
	}

	err = p.transition(ctx, instance, models.InstanceStatusActive)
	if err != nil {
		return "", err
	}

	return "activated existing workflow " + instance.ExternalIDValue(), nil
}

func (p *Processor) retry(ctx context.Context, job *models.QueueJob) (string, error) {
	purchase, err := p.purchase(ctx, job.PurchaseID)
	if err != nil {
		return "", err
	}

	instance, err := p.ensureInstance(ctx, purchase)
	if err != nil {
		return "", err
	}

	job.InstanceID = instance.ID

	budget := instance.MaxRetries
	if budget <= 0 {
		budget = models.DefaultMaxRetries
	}

	// Later attempts of the same retry job reuse the retry already counted.
	firstAttempt := job.Attempts <= 1
	if firstAttempt && instance.RetryCount >= budget {
		return "", Permanent(fmt.Errorf("%w: %d of %d retries used", ErrRetryBudgetExhausted, instance.RetryCount, budget))
	}

	if instance.HasExternalID() {
		previous := instance.ExternalIDValue()

		err = p.engine.Delete(ctx, previous)
		if err != nil {
			p.logger.WarnContext(ctx, "failed to delete previous workflow before retry",
				"instance_id", instance.ID,
				"external_id", previous,
				"error", err,
			)
		}

		instance.ExternalID = nil
	}

	if firstAttempt {
		instance.RetryCount++
	}

	err = p.saveInstance(ctx, instance)
	if err != nil {
		return "", err
	}

	tmpl, err := p.latestTemplate(ctx, purchase.AutomationID)
	if err != nil {
		return "", err
	}

	return p.provision(ctx, purchase, instance, tmpl)
}

func (p *Processor) update(ctx context.Context, job *models.QueueJob) (string, error) {
	purchase, err := p.purchase(ctx, job.PurchaseID)
	if err != nil {
		return "", err
	}

	instance, err := p.instanceWithWorkflow(ctx, job)
	if err != nil {
		return "", err
	}

	tmpl, err := p.latestTemplate(ctx, purchase.AutomationID)
	if err != nil {
		return "", err
	}

	if instance.Status == models.InstanceStatusActive && instance.TemplateVersion == tmpl.Version {
		return fmt.Sprintf("already on version %d", tmpl.Version), nil
	}

	if !instance.Status.CanTransitionTo(models.InstanceStatusCreating) {
		return "", p.invalidTransition(instance, models.InstanceStatusCreating)
	}

	err = p.engine.Delete(ctx, instance.ExternalIDValue())
	if err != nil {
		return "", fmt.Errorf("failed to delete workflow %s: %w", instance.ExternalIDValue(), err)
	}

	instance.ExternalID = nil

	err = p.saveInstance(ctx, instance)
	if err != nil {
		return "", err
	}

	return p.provision(ctx, purchase, instance, tmpl)
}

func (p *Processor) pause(ctx context.Context, job *models.QueueJob) (string, error) {
	instance, err := p.instanceWithWorkflow(ctx, job)
	if err != nil {
		return "", err
	}

	if instance.Status == models.InstanceStatusPaused {
		return "instance already paused", nil
	}

	if !instance.Status.CanTransitionTo(models.InstanceStatusPaused) {
		return "", p.invalidTransition(instance, models.InstanceStatusPaused)
	}

	err = p.engine.Deactivate(ctx, instance.ExternalIDValue())
	if err != nil {
		return "", fmt.Errorf("failed to deactivate workflow %s: %w", instance.ExternalIDValue(), err)
	}

	err = p.transition(ctx, instance, models.InstanceStatusPaused)
	if err != nil {
		return "", err
	}

	return "workflow paused", nil
}

func (p *Processor) resume(ctx context.Context, job *models.QueueJob) (string, error) {
	instance, err := p.instanceWithWorkflow(ctx, job)
	if err != nil {
		return "", err
	}

	if instance.Status == models.InstanceStatusActive {
		return "instance already active", nil
	}

	if !instance.Status.CanTransitionTo(models.InstanceStatusActive) {
		return "", p.invalidTransition(instance, models.InstanceStatusActive)
	}

	err = p.engine.Activate(ctx, instance.ExternalIDValue())
	if err != nil {
		return "", fmt.Errorf("failed to activate workflow %s: %w", instance.ExternalIDValue(), err)
	}

	err = p.transition(ctx, instance, models.InstanceStatusActive)
	if err != nil {
		return "", err
	}

	return "workflow resumed", nil
}

func (p *Processor) remove(ctx context.Context, job *models.QueueJob) (string, error) {
	instance, err := p.store.Instances().GetByPurchase(ctx, job.PurchaseID)
	if err != nil {
		if persistence.IsInstanceNotFound(err) {
			return "no instance to delete", nil
		}

		return "", fmt.Errorf("failed to load instance: %w", err)
	}

	job.InstanceID = instance.ID

	if instance.Status == models.InstanceStatusStopped {
		return "instance already stopped", nil
	}

	if instance.HasExternalID() {
		err = p.engine.Delete(ctx, instance.ExternalIDValue())
		if err != nil {
			return "", fmt.Errorf("failed to delete workflow %s: %w", instance.ExternalIDValue(), err)
		}
	}

	err = p.transition(ctx, instance, models.InstanceStatusStopped)
	if err != nil {
		return "", err
	}

	return "workflow deleted", nil
}

func (p *Processor) checkHealth(ctx context.Context, job *models.QueueJob) (string, error) {
	instance, err := p.instanceWithWorkflow(ctx, job)
	if err != nil {
		return "", err
	}

	grade, err := p.engine.ProbeHealth(ctx, instance.ExternalIDValue())
	if err != nil {
		return "", fmt.Errorf("failed to probe workflow %s: %w", instance.ExternalIDValue(), err)
	}

	if p.history != nil {
		_, err = p.history.Sync(ctx, instance)
		if err != nil {
			p.logger.WarnContext(ctx, "failed to sync execution history",
				"instance_id", instance.ID,
				"error", err,
			)
		}
	}

	previous := instance.Health
	checkedAt := p.now()
	instance.Health = grade
	instance.LastHealthAt = &checkedAt

	err = p.saveInstance(ctx, instance)
	if err != nil {
		return "", err
	}

	if previous != grade {
		p.publish(ctx, instance.PurchaseID, events.InstanceHealthChanged{
			BaseEvent:  p.baseEvent(events.InstanceHealthChangedEvent, instance.PurchaseID, ""),
			InstanceID: instance.ID,
			From:       previous,
			To:         grade,
		})
	}

	return "health " + string(grade), nil
}

// provision creates the workflow for tmpl on the engine and activates it.
func (p *Processor) provision(
	ctx context.Context,
	purchase *models.Purchase,
	instance *models.WorkflowInstance,
	tmpl *models.WorkflowTemplate,
) (string, error) {
	creds, err := p.credentialsFor(ctx, purchase.TenantID, tmpl.RequiredServices)
	if err != nil {
		return "", err
	}

	readiness := p.readiness.CheckReadiness(ctx, tmpl.RequiredServices, creds)
	if !readiness.Ready {
		err = p.recordRejections(ctx, purchase, readiness)
		if err != nil {
			return "", err
		}

		return "", notReady(readiness)
	}

	err = p.transition(ctx, instance, models.InstanceStatusCreating)
	if err != nil {
		return "", err
	}

	ctx, span := otelhelper.StartSpan(ctx, p.tracer, "engine.create",
		attribute.String(otelhelper.InstanceIDKey, instance.ID),
		attribute.String(otelhelper.AutomationIDKey, tmpl.AutomationID),
	)
	defer span.End()

	created, err := p.engine.Create(ctx, tmpl, creds, purchase.TenantID)
	if err != nil {
		otelhelper.SetError(span, err)

		return "", fmt.Errorf("failed to create workflow: %w", err)
	}

	span.SetAttributes(attribute.String(otelhelper.ExternalIDKey, created.ExternalID))

	externalID := created.ExternalID
	instance.ExternalID = &externalID
	instance.TemplateVersion = tmpl.Version

	err = p.saveInstance(ctx, instance)
	if err != nil {
		return "", err
	}

	if !created.Active {
		err = p.engine.Activate(ctx, externalID)
		if err != nil {
			otelhelper.SetError(span, err)

			return "", fmt.Errorf("failed to activate workflow %s: %w", externalID, err)
		}
	}

	err = p.transition(ctx, instance, models.InstanceStatusActive)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("workflow %s active on version %d", externalID, tmpl.Version), nil
}

// notReady is permanent unless some provider could not be reached.
func notReady(readiness credentials.ReadinessResult) error {
	messages := make([]string, 0, len(readiness.Results))
	unreachable := false

	for _, result := range readiness.Results {
		if result.Valid {
			continue
		}

		messages = append(messages, result.Message)

		if result.Reason == credentials.ReasonUnreachable {
			unreachable = true
		}
	}

	err := fmt.Errorf("%w: %s", ErrCredentialsNotReady, strings.Join(messages, "; "))
	if unreachable {
		return err
	}

	return Permanent(err)
}

func (p *Processor) purchase(ctx context.Context, purchaseID string) (*models.Purchase, error) {
	purchase, err := p.store.Purchases().GetByID(ctx, purchaseID)
	if err != nil {
		if persistence.IsPurchaseNotFound(err) {
			return nil, Permanent(err)
		}

		return nil, fmt.Errorf("failed to load purchase: %w", err)
	}

	if purchase.Status.IsTerminal() {
		return nil, Permanent(fmt.Errorf("%w: purchase %s is %s", ErrPurchaseInactive, purchase.ID, purchase.Status))
	}

	return purchase, nil
}

func (p *Processor) ensureInstance(ctx context.Context, purchase *models.Purchase) (*models.WorkflowInstance, error) {
	instance, err := p.store.Instances().GetByPurchase(ctx, purchase.ID)
	if err == nil {
		return instance, nil
	}

	if !persistence.IsInstanceNotFound(err) {
		return nil, fmt.Errorf("failed to load instance: %w", err)
	}

	instance = &models.WorkflowInstance{
		PurchaseID:   purchase.ID,
		TenantID:     purchase.TenantID,
		AutomationID: purchase.AutomationID,
		Status:       models.InstanceStatusPending,
		Health:       models.HealthUnknown,
		MaxRetries:   models.DefaultMaxRetries,
	}

	err = p.saveInstance(ctx, instance)
	if err != nil {
		return nil, err
	}

	return instance, nil
}

func (p *Processor) instanceWithWorkflow(ctx context.Context, job *models.QueueJob) (*models.WorkflowInstance, error) {
	instance, err := p.store.Instances().GetByPurchase(ctx, job.PurchaseID)
	if err != nil {
		if persistence.IsInstanceNotFound(err) {
			return nil, Permanent(err)
		}

		return nil, fmt.Errorf("failed to load instance: %w", err)
	}

	job.InstanceID = instance.ID

	if !instance.HasExternalID() {
		return nil, Permanent(fmt.Errorf("%w: instance %s", ErrNoWorkflow, instance.ID))
	}

	return instance, nil
}

func (p *Processor) latestTemplate(ctx context.Context, automationID string) (*models.WorkflowTemplate, error) {
	tmpl, err := p.templates.Latest(ctx, automationID)
	if err != nil {
		if persistence.IsTemplateNotFound(err) {
			return nil, Permanent(err)
		}

		return nil, fmt.Errorf("failed to resolve template: %w", err)
	}

	return tmpl, nil
}

func (p *Processor) credentialsFor(ctx context.Context, tenantID string, services []string) (map[string]map[string]string, error) {
	creds := make(map[string]map[string]string, len(services))

	for _, service := range services {
		credential, err := p.store.Credentials().Get(ctx, tenantID, service)
		if err != nil {
			if persistence.IsCredentialNotFound(err) {
				continue
			}

			return nil, fmt.Errorf("failed to load %s credentials: %w", service, err)
		}

		creds[service] = credential.Credentials
	}

	return creds, nil
}

// recordRejections stores the outcome on every credential a provider refused
// and tells onboarding about them. Unreachable providers change nothing.
func (p *Processor) recordRejections(ctx context.Context, purchase *models.Purchase, readiness credentials.ReadinessResult) error {
	services := make([]string, 0, len(readiness.Results))

	for _, result := range readiness.Results {
		if result.Valid || result.Reason == credentials.ReasonUnreachable {
			continue
		}

		credential, err := p.store.Credentials().Get(ctx, purchase.TenantID, result.Service)
		if err != nil {
			if persistence.IsCredentialNotFound(err) {
				continue
			}

			return fmt.Errorf("failed to load %s credentials: %w", result.Service, err)
		}

		testedAt := result.TestedAt
		credential.Status = result.CredentialStatus()
		credential.LastError = result.Message
		credential.VerificationLevel = result.Level
		credential.LastValidatedAt = &testedAt

		err = p.store.Credentials().Save(ctx, credential)
		if err != nil {
			return fmt.Errorf("failed to save %s credential status: %w", result.Service, err)
		}

		services = append(services, result.Service)
	}

	if len(services) == 0 {
		return nil
	}

	p.logger.WarnContext(ctx, "stored credentials rejected",
		"purchase_id", purchase.ID,
		"services", services,
	)

	p.publish(ctx, purchase.ID, events.CredentialsRejected{
		BaseEvent: p.baseEvent(events.CredentialsRejectedEvent, purchase.ID, ""),
		TenantID:  purchase.TenantID,
		Services:  services,
	})

	return nil
}

func (p *Processor) invalidTransition(instance *models.WorkflowInstance, to models.InstanceStatus) error {
	return Permanent(fmt.Errorf("%w: instance %s cannot move from %s to %s", ErrInvalidTransition, instance.ID, instance.Status, to))
}

func (p *Processor) transition(ctx context.Context, instance *models.WorkflowInstance, to models.InstanceStatus) error {
	from := instance.Status
	if !from.CanTransitionTo(to) {
		return p.invalidTransition(instance, to)
	}

	instance.Status = to
	if to == models.InstanceStatusActive {
		instance.ErrorMessage = ""
	}

	err := p.saveInstance(ctx, instance)
	if err != nil {
		return err
	}

	if from != to {
		p.publishStatus(ctx, instance, from)
	}

	return nil
}

func (p *Processor) saveInstance(ctx context.Context, instance *models.WorkflowInstance) error {
	err := p.store.Instances().Save(ctx, instance)
	if err != nil {
		return fmt.Errorf("failed to save instance: %w", err)
	}

	return nil
}

func (p *Processor) publishStatus(ctx context.Context, instance *models.WorkflowInstance, from models.InstanceStatus) {
	p.logger.InfoContext(ctx, "instance status changed",
		"instance_id", instance.ID,
		"purchase_id", instance.PurchaseID,
		"from", from,
		"to", instance.Status,
	)

	p.publish(ctx, instance.PurchaseID, events.InstanceStatusChanged{
		BaseEvent:    p.baseEvent(events.InstanceStatusChangedEvent, instance.PurchaseID, ""),
		InstanceID:   instance.ID,
		AutomationID: instance.AutomationID,
		From:         from,
		To:           instance.Status,
		ExternalID:   instance.ExternalIDValue(),
		Error:        instance.ErrorMessage,
	})
}

func (p *Processor) baseEvent(eventType events.EventType, purchaseID, workerID string) events.BaseEvent {
	base := events.NewBaseEvent(eventType, purchaseID)
	base.Timestamp = p.now()
	base.WorkerID = workerID

	return base
}

// publish never fails the job; the database is the source of truth.
func (p *Processor) publish(ctx context.Context, key string, event eventbus.Event) {
	err := p.publisher.Publish(ctx, key, event)
	if err != nil {
		p.logger.WarnContext(ctx, "failed to publish event",
			"event_type", event.GetType(),
			"purchase_id", key,
			"error", err,
		)
	}
}
