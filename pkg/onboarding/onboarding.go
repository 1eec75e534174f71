// Package onboarding walks a purchase from checkout to a running automation.
//
// Progress only moves forward one step at a time, and never past
// integrations_validated while a required service is unconnected. A credential
// that stops validating sends the purchase back to integrations_pending from
// any later step.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dukex/provisioner/pkg/credentials"
	"github.com/dukex/provisioner/pkg/eventbus"
	"github.com/dukex/provisioner/pkg/events"
	"github.com/dukex/provisioner/pkg/metrics"
	"github.com/dukex/provisioner/pkg/models"
	"github.com/dukex/provisioner/pkg/persistence"
)

var (
	ErrInvalidStep        = errors.New("onboarding step not allowed")
	ErrInvalidPurchase    = errors.New("invalid purchase")
	ErrServiceNotRequired = errors.New("service not required by automation")
)

type Requirements interface {
	RequiredServices(ctx context.Context, automationID string) ([]string, error)
}

type CredentialChecker interface {
	Validate(ctx context.Context, service string, creds map[string]string) credentials.ValidationResult
	CheckReadiness(ctx context.Context, required []string, credsByService map[string]map[string]string) credentials.ReadinessResult
}

type Enqueuer interface {
	Enqueue(ctx context.Context, action models.JobAction, purchaseID string, payload map[string]any) (*models.QueueJob, error)
}

type Machine struct {
	store        persistence.Persistence
	requirements Requirements
	checker      CredentialChecker
	enqueuer     Enqueuer
	publisher    eventbus.EventPublisher
	metrics      *metrics.Registry
	validate     *validator.Validate
	logger       *slog.Logger
}

// NewMachine builds the state machine. publisher and registry may be nil.
func NewMachine(
	store persistence.Persistence,
	requirements Requirements,
	checker CredentialChecker,
	enqueuer Enqueuer,
	publisher eventbus.EventPublisher,
	registry *metrics.Registry,
	logger *slog.Logger,
) *Machine {
	if publisher == nil {
		publisher = eventbus.Discard{}
	}

	return &Machine{
		store:        store,
		requirements: requirements,
		checker:      checker,
		enqueuer:     enqueuer,
		publisher:    publisher,
		metrics:      registry,
		validate:     validator.New(),
		logger:       logger.With("module", "onboarding"),
	}
}

func (m *Machine) Get(ctx context.Context, purchaseID string) (*models.OnboardingProgress, error) {
	return m.store.Onboarding().Get(ctx, purchaseID)
}

// Start records a new purchase and resolves the services it needs.
func (m *Machine) Start(ctx context.Context, purchase *models.Purchase) (*models.OnboardingProgress, error) {
	if purchase.Status == "" {
		purchase.Status = models.PurchaseStatusActive
	}

	err := m.validate.Struct(purchase)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPurchase, err)
	}

	err = m.store.Purchases().Save(ctx, purchase)
	if err != nil {
		return nil, fmt.Errorf("failed to save purchase: %w", err)
	}

	progress := &models.OnboardingProgress{
		PurchaseID:        purchase.ID,
		TenantID:          purchase.TenantID,
		AutomationID:      purchase.AutomationID,
		Step:              models.StepPurchased,
		RequiredServices:  []string{},
		ConnectedServices: []string{},
	}

	err = m.save(ctx, progress, "")
	if err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "onboarding started",
		"purchase_id", purchase.ID,
		"tenant_id", purchase.TenantID,
		"automation_id", purchase.AutomationID,
	)

	return m.RefreshRequirements(ctx, purchase.ID)
}

// RefreshRequirements reloads the required services from the latest template.
func (m *Machine) RefreshRequirements(ctx context.Context, purchaseID string) (*models.OnboardingProgress, error) {
	progress, err := m.Get(ctx, purchaseID)
	if err != nil {
		return nil, err
	}

	required, err := m.requirements.RequiredServices(ctx, progress.AutomationID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve required services: %w", err)
	}

	from := progress.Step
	progress.RequiredServices = required
	progress.ConnectedServices = slices.DeleteFunc(progress.ConnectedServices, func(s string) bool {
		return !slices.Contains(required, s)
	})

	if progress.Step == models.StepPurchased {
		progress.Step = models.StepIntegrationsPending
	}

	err = m.save(ctx, progress, from)
	if err != nil {
		return nil, err
	}

	return progress, nil
}

// SubmitCredentials stores and validates one service's credentials, then
// re-evaluates the purchase.
func (m *Machine) SubmitCredentials(
	ctx context.Context,
	purchaseID string,
	service string,
	creds map[string]string,
) (credentials.ValidationResult, *models.OnboardingProgress, error) {
	progress, err := m.Get(ctx, purchaseID)
	if err != nil {
		return credentials.ValidationResult{}, nil, err
	}

	if !slices.Contains(progress.RequiredServices, service) {
		return credentials.ValidationResult{}, nil, fmt.Errorf("%w: %s is not used by %s", ErrServiceNotRequired, service, progress.AutomationID)
	}

	credential, err := m.store.Credentials().Get(ctx, progress.TenantID, service)
	if err != nil {
		if !persistence.IsCredentialNotFound(err) {
			return credentials.ValidationResult{}, nil, err
		}

		credential = &models.IntegrationCredential{TenantID: progress.TenantID, Service: service}
	}

	credential.Credentials = creds
	credential.Status = models.CredentialStatusValidating

	err = m.store.Credentials().Save(ctx, credential)
	if err != nil {
		return credentials.ValidationResult{}, nil, fmt.Errorf("failed to save credentials: %w", err)
	}

	result := m.checker.Validate(ctx, service, creds)
	m.observe(result)

	err = m.recordResult(ctx, credential, result)
	if err != nil {
		return credentials.ValidationResult{}, nil, err
	}

	progress, err = m.Evaluate(ctx, purchaseID)
	if err != nil {
		return credentials.ValidationResult{}, nil, err
	}

	return result, progress, nil
}

// Evaluate checks the stored credentials of every required service and moves
// the purchase forward to integrations_validated or back to
// integrations_pending.
func (m *Machine) Evaluate(ctx context.Context, purchaseID string) (*models.OnboardingProgress, error) {
	progress, err := m.Get(ctx, purchaseID)
	if err != nil {
		return nil, err
	}

	if progress.Step == models.StepPurchased {
		return progress, nil
	}

	stored := make(map[string]*models.IntegrationCredential, len(progress.RequiredServices))
	creds := make(map[string]map[string]string, len(progress.RequiredServices))

	for _, service := range progress.RequiredServices {
		credential, err := m.store.Credentials().Get(ctx, progress.TenantID, service)
		if err != nil {
			if persistence.IsCredentialNotFound(err) {
				continue
			}

			return nil, fmt.Errorf("failed to load %s credentials: %w", service, err)
		}

		stored[service] = credential
		creds[service] = credential.Credentials
	}

	readiness := m.checker.CheckReadiness(ctx, progress.RequiredServices, creds)

	connected := make([]string, 0, len(readiness.Results))
	problems := make([]string, 0)

	for _, result := range readiness.Results {
		if !result.Valid {
			problems = append(problems, result.Message)
		}

		credential, ok := stored[result.Service]
		if ok {
			err = m.recordResult(ctx, credential, result)
			if err != nil {
				return nil, err
			}
		}

		// An unreachable provider keeps a previously verified service connected.
		if result.Valid || (ok && result.Reason == credentials.ReasonUnreachable && credential.Status == models.CredentialStatusValid) {
			connected = append(connected, result.Service)
		}
	}

	from := progress.Step
	progress.ConnectedServices = connected
	progress.LastError = strings.Join(problems, "; ")

	switch {
	case readiness.Ready && progress.Step == models.StepIntegrationsPending:
		progress.Step = models.StepIntegrationsValidated
	case !progress.AllConnected() && progress.Step.Rank() > models.StepIntegrationsPending.Rank():
		progress.Step = models.StepIntegrationsPending
		progress.ActivationRequested = false

		m.logger.WarnContext(ctx, "credentials regressed, onboarding moved back",
			"purchase_id", purchaseID,
			"from", from,
			"problems", progress.LastError,
		)
	}

	err = m.save(ctx, progress, from)
	if err != nil {
		return nil, err
	}

	return progress, nil
}

// ConfirmReview records that the customer has reviewed the configuration.
func (m *Machine) ConfirmReview(ctx context.Context, purchaseID string) (*models.OnboardingProgress, error) {
	progress, err := m.Get(ctx, purchaseID)
	if err != nil {
		return nil, err
	}

	if progress.Step == models.StepReview {
		return progress, nil
	}

	err = m.advance(ctx, progress, models.StepIntegrationsValidated, models.StepReview)
	if err != nil {
		return nil, err
	}

	return progress, nil
}

// Activate is the explicit customer action that provisions the automation.
func (m *Machine) Activate(ctx context.Context, purchaseID string) (*models.OnboardingProgress, *models.QueueJob, error) {
	progress, err := m.Get(ctx, purchaseID)
	if err != nil {
		return nil, nil, err
	}

	if progress.Step != models.StepReview || !progress.CanAdvanceTo(models.StepActivated) {
		return nil, nil, fmt.Errorf("%w: cannot activate from %s", ErrInvalidStep, progress.Step)
	}

	job, err := m.enqueuer.Enqueue(ctx, models.JobActionCreate, purchaseID, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to enqueue create: %w", err)
	}

	progress.ActivationRequested = true

	err = m.advance(ctx, progress, models.StepReview, models.StepActivated)
	if err != nil {
		return nil, nil, err
	}

	m.logger.InfoContext(ctx, "automation activation requested", "purchase_id", purchaseID, "job_id", job.ID)

	return progress, job, nil
}

// SyncInstance completes onboarding once the instance is running.
func (m *Machine) SyncInstance(ctx context.Context, purchaseID string) (*models.OnboardingProgress, error) {
	progress, err := m.Get(ctx, purchaseID)
	if err != nil {
		return nil, err
	}

	if progress.Step != models.StepActivated {
		return progress, nil
	}

	instance, err := m.store.Instances().GetByPurchase(ctx, purchaseID)
	if err != nil {
		if persistence.IsInstanceNotFound(err) {
			return progress, nil
		}

		return nil, err
	}

	if instance.Status != models.InstanceStatusActive {
		return progress, nil
	}

	err = m.advance(ctx, progress, models.StepActivated, models.StepCompleted)
	if err != nil {
		return nil, err
	}

	return progress, nil
}

// HandleInstanceStatusChanged completes onboarding when an instance becomes
// active. Purchases without onboarding progress are ignored.
func (m *Machine) HandleInstanceStatusChanged(ctx context.Context, event any) error {
	changed, ok := event.(*events.InstanceStatusChanged)
	if !ok || changed.To != models.InstanceStatusActive {
		return nil
	}

	_, err := m.SyncInstance(ctx, changed.PurchaseID)
	if persistence.IsOnboardingNotFound(err) {
		return nil
	}

	return err
}

// HandleCredentialsRejected re-evaluates onboarding after a provider refused
// stored credentials, moving it back to integrations_pending.
func (m *Machine) HandleCredentialsRejected(ctx context.Context, event any) error {
	rejected, ok := event.(*events.CredentialsRejected)
	if !ok {
		return nil
	}

	_, err := m.Evaluate(ctx, rejected.PurchaseID)
	if persistence.IsOnboardingNotFound(err) {
		return nil
	}

	return err
}

func (m *Machine) advance(ctx context.Context, progress *models.OnboardingProgress, from, to models.OnboardingStep) error {
	if progress.Step != from || !progress.CanAdvanceTo(to) {
		return fmt.Errorf("%w: cannot move from %s to %s", ErrInvalidStep, progress.Step, to)
	}

	progress.Step = to

	return m.save(ctx, progress, from)
}

// recordResult stores the outcome on credential. An unreachable provider only
// sets LastError on a credential that was already valid.
func (m *Machine) recordResult(ctx context.Context, credential *models.IntegrationCredential, result credentials.ValidationResult) error {
	credential.LastError = result.Message

	if result.Reason == credentials.ReasonUnreachable && credential.Status == models.CredentialStatusValid {
		err := m.store.Credentials().Save(ctx, credential)
		if err != nil {
			return fmt.Errorf("failed to save %s credential status: %w", credential.Service, err)
		}

		return nil
	}

	credential.Status = result.CredentialStatus()

	if result.Valid {
		credential.LastError = ""
	}

	testedAt := result.TestedAt
	credential.VerificationLevel = result.Level
	credential.LastValidatedAt = &testedAt

	err := m.store.Credentials().Save(ctx, credential)
	if err != nil {
		return fmt.Errorf("failed to save %s credential status: %w", credential.Service, err)
	}

	return nil
}

func (m *Machine) save(ctx context.Context, progress *models.OnboardingProgress, from models.OnboardingStep) error {
	err := m.store.Onboarding().Save(ctx, progress)
	if err != nil {
		return fmt.Errorf("failed to save onboarding progress: %w", err)
	}

	if from == progress.Step {
		return nil
	}

	m.logger.InfoContext(ctx, "onboarding step changed",
		"purchase_id", progress.PurchaseID,
		"from", from,
		"to", progress.Step,
	)

	err = m.publisher.Publish(ctx, progress.PurchaseID, events.OnboardingStepChanged{
		BaseEvent: events.NewBaseEvent(events.OnboardingStepChangedEvent, progress.PurchaseID),
		From:      from,
		To:        progress.Step,
	})
	if err != nil {
		m.logger.WarnContext(ctx, "failed to publish onboarding event", "purchase_id", progress.PurchaseID, "error", err)
	}

	return nil
}

func (m *Machine) observe(result credentials.ValidationResult) {
	if m.metrics == nil {
		return
	}

	m.metrics.CredentialValidations.WithLabelValues(result.Service, string(result.Reason)).Inc()
}
