package onboarding_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/provisioner/pkg/credentials"
	"github.com/dukex/provisioner/pkg/events"
	"github.com/dukex/provisioner/pkg/log"
	"github.com/dukex/provisioner/pkg/mocks"
	"github.com/dukex/provisioner/pkg/models"
	"github.com/dukex/provisioner/pkg/onboarding"
	"github.com/dukex/provisioner/pkg/persistence"
	"github.com/dukex/provisioner/pkg/persistence/file"
	"github.com/dukex/provisioner/pkg/templates"
	"github.com/dukex/provisioner/pkg/testutil"
)

type recordingEnqueuer struct {
	jobs persistence.JobRepository
	err  error
}

func (e *recordingEnqueuer) Enqueue(
	ctx context.Context,
	action models.JobAction,
	purchaseID string,
	payload map[string]any,
) (*models.QueueJob, error) {
	if e.err != nil {
		return nil, e.err
	}

	job := models.NewQueueJob(action, purchaseID, payload)

	return job, e.jobs.Enqueue(ctx, job)
}

type fixture struct {
	store     *file.Persistence
	validator *testutil.StubValidator
	enqueuer  *recordingEnqueuer
	events    *mocks.RecordingPublisher
	machine   *onboarding.Machine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := log.Discard()
	store := file.NewPersistence(t.TempDir())
	require.NoError(t, store.Templates().Insert(context.Background(), testutil.NewTemplate()))

	validator := testutil.AcceptingValidator("tripletex", "employee_token")
	enqueuer := &recordingEnqueuer{jobs: store.Jobs()}
	recorder := &mocks.RecordingPublisher{}

	machine := onboarding.NewMachine(
		store,
		templates.NewRegistry(store.Templates(), logger),
		credentials.NewService(logger, credentials.WithValidator(validator)),
		enqueuer,
		recorder,
		nil,
		logger,
	)

	return &fixture{
		store:     store,
		validator: validator,
		enqueuer:  enqueuer,
		events:    recorder,
		machine:   machine,
	}
}

func (f *fixture) start(t *testing.T) *models.Purchase {
	t.Helper()

	purchase := testutil.NewPurchase(func(p *models.Purchase) {
		p.ID = ""
	})

	_, err := f.machine.Start(context.Background(), purchase)
	require.NoError(t, err)

	return purchase
}

func (f *fixture) toReview(t *testing.T) *models.Purchase {
	t.Helper()

	ctx := context.Background()
	purchase := f.start(t)

	_, _, err := f.machine.SubmitCredentials(ctx, purchase.ID, "tripletex", map[string]string{"employee_token": "tok"})
	require.NoError(t, err)

	_, err = f.machine.ConfirmReview(ctx, purchase.ID)
	require.NoError(t, err)

	return purchase
}

func TestStart(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	purchase := f.start(t)

	require.NotEmpty(t, purchase.ID)

	progress, err := f.machine.Get(context.Background(), purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepIntegrationsPending, progress.Step)
	assert.Equal(t, []string{"tripletex"}, progress.RequiredServices)
	assert.Empty(t, progress.ConnectedServices)
	assert.False(t, progress.ActivationRequested)

	stored, err := f.store.Purchases().GetByID(context.Background(), purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseStatusActive, stored.Status)

	assert.Equal(t, []events.EventType{
		events.OnboardingStepChangedEvent,
		events.OnboardingStepChangedEvent,
	}, f.events.Types())
}

func TestStart_InvalidPurchase(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	purchase := testutil.NewPurchase(func(p *models.Purchase) {
		p.TenantID = ""
	})

	_, err := f.machine.Start(context.Background(), purchase)
	require.ErrorIs(t, err, onboarding.ErrInvalidPurchase)
}

func TestStart_UnknownAutomationStaysPurchased(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	purchase := testutil.NewPurchase(func(p *models.Purchase) {
		p.AutomationID = "does_not_exist"
	})

	_, err := f.machine.Start(context.Background(), purchase)
	require.Error(t, err)
	assert.True(t, persistence.IsTemplateNotFound(err))

	progress, err := f.machine.Get(context.Background(), purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepPurchased, progress.Step)
}

func TestOnboarding_FullFlow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	purchase := f.start(t)

	result, progress, err := f.machine.SubmitCredentials(ctx, purchase.ID, "tripletex", map[string]string{"employee_token": "tok"})
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, models.StepIntegrationsValidated, progress.Step)
	assert.Equal(t, []string{"tripletex"}, progress.ConnectedServices)

	credential, err := f.store.Credentials().Get(ctx, purchase.TenantID, "tripletex")
	require.NoError(t, err)
	assert.Equal(t, models.CredentialStatusValid, credential.Status)
	assert.Equal(t, models.VerificationVerified, credential.VerificationLevel)
	assert.NotNil(t, credential.LastValidatedAt)

	progress, err = f.machine.ConfirmReview(ctx, purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepReview, progress.Step)

	progress, job, err := f.machine.Activate(ctx, purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepActivated, progress.Step)
	assert.True(t, progress.ActivationRequested)
	assert.Equal(t, models.JobActionCreate, job.Action)

	jobs, err := f.store.Jobs().List(ctx, persistence.JobFilter{PurchaseID: purchase.ID})
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	progress, err = f.machine.SyncInstance(ctx, purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepActivated, progress.Step, "no instance yet")

	require.NoError(t, f.store.Instances().Save(ctx, testutil.NewInstance(purchase, testutil.WithExternalID("wf-1", models.InstanceStatusActive))))

	progress, err = f.machine.SyncInstance(ctx, purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepCompleted, progress.Step)
}

func TestActivate_RequiresReview(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	purchase := f.start(t)

	_, _, err := f.machine.Activate(ctx, purchase.ID)
	require.ErrorIs(t, err, onboarding.ErrInvalidStep)

	jobs, err := f.store.Jobs().List(ctx, persistence.JobFilter{PurchaseID: purchase.ID})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestActivate_EnqueueFailureKeepsReview(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	purchase := f.toReview(t)
	f.enqueuer.err = errors.New("queue unavailable")

	_, _, err := f.machine.Activate(ctx, purchase.ID)
	require.Error(t, err)

	progress, err := f.machine.Get(ctx, purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepReview, progress.Step)
	assert.False(t, progress.ActivationRequested)
}

func TestConfirmReview_RequiresValidatedIntegrations(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	purchase := f.start(t)

	_, err := f.machine.ConfirmReview(context.Background(), purchase.ID)
	require.ErrorIs(t, err, onboarding.ErrInvalidStep)
}

func TestSubmitCredentials_Rejected(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.validator.Valid = false
	f.validator.Reason = credentials.ReasonRejected
	purchase := f.start(t)

	result, progress, err := f.machine.SubmitCredentials(ctx, purchase.ID, "tripletex", map[string]string{"employee_token": "bad"})
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, models.StepIntegrationsPending, progress.Step)
	assert.Empty(t, progress.ConnectedServices)
	assert.Contains(t, progress.LastError, "tripletex rejected the credentials")

	credential, err := f.store.Credentials().Get(ctx, purchase.TenantID, "tripletex")
	require.NoError(t, err)
	assert.Equal(t, models.CredentialStatusInvalid, credential.Status)
}

func TestSubmitCredentials_ServiceNotRequired(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	purchase := f.start(t)

	_, _, err := f.machine.SubmitCredentials(context.Background(), purchase.ID, "slack", map[string]string{"bot_token": "x"})
	require.ErrorIs(t, err, onboarding.ErrServiceNotRequired)
}

func TestEvaluate_RegressionMovesBack(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	purchase := f.toReview(t)

	_, _, err := f.machine.Activate(ctx, purchase.ID)
	require.NoError(t, err)

	f.validator.Valid = false
	f.validator.Reason = credentials.ReasonRejected

	progress, err := f.machine.Evaluate(ctx, purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepIntegrationsPending, progress.Step)
	assert.False(t, progress.ActivationRequested)
	assert.Empty(t, progress.ConnectedServices)

	credential, err := f.store.Credentials().Get(ctx, purchase.TenantID, "tripletex")
	require.NoError(t, err)
	assert.Equal(t, models.CredentialStatusInvalid, credential.Status)
}

func TestHandleInstanceStatusChanged(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	purchase := f.toReview(t)

	_, _, err := f.machine.Activate(ctx, purchase.ID)
	require.NoError(t, err)

	require.NoError(t, f.store.Instances().Save(ctx, testutil.NewInstance(purchase, testutil.WithExternalID("wf-1", models.InstanceStatusActive))))

	paused := &events.InstanceStatusChanged{
		BaseEvent: events.NewBaseEvent(events.InstanceStatusChangedEvent, purchase.ID),
		From:      models.InstanceStatusActive,
		To:        models.InstanceStatusPaused,
	}
	require.NoError(t, f.machine.HandleInstanceStatusChanged(ctx, paused))

	progress, err := f.machine.Get(ctx, purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepActivated, progress.Step)

	active := &events.InstanceStatusChanged{
		BaseEvent: events.NewBaseEvent(events.InstanceStatusChangedEvent, purchase.ID),
		From:      models.InstanceStatusCreating,
		To:        models.InstanceStatusActive,
	}
	require.NoError(t, f.machine.HandleInstanceStatusChanged(ctx, active))

	progress, err = f.machine.Get(ctx, purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepCompleted, progress.Step)

	unknown := &events.InstanceStatusChanged{
		BaseEvent: events.NewBaseEvent(events.InstanceStatusChangedEvent, "not-onboarded"),
		To:        models.InstanceStatusActive,
	}
	require.NoError(t, f.machine.HandleInstanceStatusChanged(ctx, unknown))
}

func TestHandleCredentialsRejected(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	purchase := f.toReview(t)

	_, _, err := f.machine.Activate(ctx, purchase.ID)
	require.NoError(t, err)

	require.NoError(t, f.store.Instances().Save(ctx, testutil.NewInstance(purchase, testutil.WithExternalID("wf-1", models.InstanceStatusActive))))

	_, err = f.machine.SyncInstance(ctx, purchase.ID)
	require.NoError(t, err)

	f.validator.Valid = false
	f.validator.Reason = credentials.ReasonRejected

	rejected := &events.CredentialsRejected{
		BaseEvent: events.NewBaseEvent(events.CredentialsRejectedEvent, purchase.ID),
		TenantID:  purchase.TenantID,
		Services:  []string{"tripletex"},
	}
	require.NoError(t, f.machine.HandleCredentialsRejected(ctx, rejected))

	progress, err := f.machine.Get(ctx, purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepIntegrationsPending, progress.Step)
	assert.Contains(t, progress.LastError, "tripletex rejected the credentials")

	unknown := &events.CredentialsRejected{
		BaseEvent: events.NewBaseEvent(events.CredentialsRejectedEvent, "not-onboarded"),
	}
	require.NoError(t, f.machine.HandleCredentialsRejected(ctx, unknown))
}

func TestEvaluate_ExpiredCredential(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	purchase := f.toReview(t)

	f.validator.Valid = false
	f.validator.Reason = credentials.ReasonExpired

	progress, err := f.machine.Evaluate(ctx, purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepIntegrationsPending, progress.Step)

	credential, err := f.store.Credentials().Get(ctx, purchase.TenantID, "tripletex")
	require.NoError(t, err)
	assert.Equal(t, models.CredentialStatusExpired, credential.Status)
}

func TestEvaluate_UnreachableProviderKeepsCompleted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	purchase := f.toReview(t)

	_, _, err := f.machine.Activate(ctx, purchase.ID)
	require.NoError(t, err)

	require.NoError(t, f.store.Instances().Save(ctx, testutil.NewInstance(purchase, testutil.WithExternalID("wf-1", models.InstanceStatusActive))))

	progress, err := f.machine.SyncInstance(ctx, purchase.ID)
	require.NoError(t, err)
	require.Equal(t, models.StepCompleted, progress.Step)

	f.validator.Valid = false
	f.validator.Reason = credentials.ReasonUnreachable

	progress, err = f.machine.Evaluate(ctx, purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepCompleted, progress.Step)
	assert.True(t, progress.ActivationRequested)
	assert.Equal(t, []string{"tripletex"}, progress.ConnectedServices)
	assert.Contains(t, progress.LastError, "could not reach tripletex")

	credential, err := f.store.Credentials().Get(ctx, purchase.TenantID, "tripletex")
	require.NoError(t, err)
	assert.Equal(t, models.CredentialStatusValid, credential.Status)
	assert.Contains(t, credential.LastError, "could not reach tripletex")

	f.validator.Valid = true
	f.validator.Reason = credentials.ReasonOK

	progress, err = f.machine.Evaluate(ctx, purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepCompleted, progress.Step)
	assert.Empty(t, progress.LastError)

	credential, err = f.store.Credentials().Get(ctx, purchase.TenantID, "tripletex")
	require.NoError(t, err)
	assert.Empty(t, credential.LastError)
}

func TestSubmitCredentials_UnreachableProviderLeavesPending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.validator.Valid = false
	f.validator.Reason = credentials.ReasonUnreachable
	purchase := f.start(t)

	result, progress, err := f.machine.SubmitCredentials(ctx, purchase.ID, "tripletex", map[string]string{"employee_token": "tok"})
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, models.StepIntegrationsPending, progress.Step)
	assert.Empty(t, progress.ConnectedServices)

	credential, err := f.store.Credentials().Get(ctx, purchase.TenantID, "tripletex")
	require.NoError(t, err)
	assert.Equal(t, models.CredentialStatusPending, credential.Status)
}
