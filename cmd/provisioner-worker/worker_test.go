package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/provisioner/pkg/cmd"
	"github.com/dukex/provisioner/pkg/log"
	"github.com/dukex/provisioner/pkg/models"
	"github.com/dukex/provisioner/pkg/queue"
	"github.com/dukex/provisioner/pkg/testutil"
)

func newComponents(t *testing.T, withEngine bool) *cmd.Components {
	t.Helper()

	cfg := cmd.Config{
		ServiceName: "provisioner-worker-test",
		DatabaseURL: "file://" + t.TempDir(),
		EventBus:    "gochannel",
	}

	if withEngine {
		cfg.EngineURL = "http://127.0.0.1:1/api/v1"
		cfg.EngineAPIKey = "test-key"
	}

	components, err := cmd.NewComponents(context.Background(), cfg, log.Discard())
	require.NoError(t, err)

	t.Cleanup(func() { _ = components.Close(context.Background()) })

	return components
}

func testConfig() WorkerConfig {
	return WorkerConfig{
		Pool: queue.PoolConfig{
			Workers:      2,
			PollInterval: 10 * time.Millisecond,
			WorkerPrefix: "test",
		},
		SweepSpec: "@every 1h",
	}
}

func TestNewWorker_RequiresEngine(t *testing.T) {
	t.Parallel()

	_, err := NewWorker(newComponents(t, false), testConfig(), log.Discard())
	require.ErrorIs(t, err, cmd.ErrEngineNotConfigured)
}

func TestNewWorker_InvalidSweepSpec(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.SweepSpec = "every now and then"

	_, err := NewWorker(newComponents(t, true), cfg, log.Discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron expression")
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	worker, err := NewWorker(newComponents(t, true), testConfig(), log.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)

	go func() { done <- worker.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}

func TestWorker_App(t *testing.T) {
	t.Parallel()

	worker, err := NewWorker(newComponents(t, true), testConfig(), log.Discard())
	require.NoError(t, err)

	app := worker.App()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "provisioner_stale_jobs_released_total")
}

func TestWorker_RejectedCredentialsMoveOnboardingBack(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	components := newComponents(t, true)
	store := components.Persistence

	require.NoError(t, store.Templates().Insert(ctx, testutil.NewTemplate()))

	purchase := testutil.NewPurchase()
	_, err := components.Onboarding.Start(ctx, purchase)
	require.NoError(t, err)

	progress, err := store.Onboarding().Get(ctx, purchase.ID)
	require.NoError(t, err)

	progress.Step = models.StepActivated
	progress.ConnectedServices = []string{"tripletex"}
	progress.ActivationRequested = true
	require.NoError(t, store.Onboarding().Save(ctx, progress))

	// Stored as valid but no longer complete enough to pass validation.
	require.NoError(t, store.Credentials().Save(ctx, &models.IntegrationCredential{
		TenantID:    purchase.TenantID,
		Service:     "tripletex",
		Credentials: map[string]string{"employee_token": "tok"},
		Status:      models.CredentialStatusValid,
	}))

	job := models.NewQueueJob(models.JobActionCreate, purchase.ID, nil)
	require.NoError(t, store.Jobs().Enqueue(ctx, job))

	worker, err := NewWorker(components, testConfig(), log.Discard())
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)

	go func() { done <- worker.Run(runCtx) }()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		progress, err := store.Onboarding().Get(ctx, purchase.ID)

		return err == nil && progress.Step == models.StepIntegrationsPending
	}, 5*time.Second, 20*time.Millisecond)

	progress, err = store.Onboarding().Get(ctx, purchase.ID)
	require.NoError(t, err)
	assert.False(t, progress.ActivationRequested)
	assert.Empty(t, progress.ConnectedServices)

	credential, err := store.Credentials().Get(ctx, purchase.TenantID, "tripletex")
	require.NoError(t, err)
	assert.Equal(t, models.CredentialStatusInvalid, credential.Status)
	assert.Contains(t, credential.LastError, "consumer_token")

	stored, err := store.Jobs().GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusDeadLetter, stored.Status)
}
