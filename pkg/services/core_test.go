package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dukex/provisioner/pkg/credentials"
	"github.com/dukex/provisioner/pkg/health"
	"github.com/dukex/provisioner/pkg/log"
	"github.com/dukex/provisioner/pkg/metrics"
	"github.com/dukex/provisioner/pkg/mocks"
	"github.com/dukex/provisioner/pkg/models"
	"github.com/dukex/provisioner/pkg/persistence"
	"github.com/dukex/provisioner/pkg/persistence/file"
	"github.com/dukex/provisioner/pkg/services"
	"github.com/dukex/provisioner/pkg/testutil"
)

type coreFixture struct {
	store    *file.Persistence
	engine   *mocks.MockEngine
	metrics  *metrics.Registry
	core     *services.Core
	purchase *models.Purchase
}

func newCoreFixture(t *testing.T, withHistory bool) *coreFixture {
	t.Helper()

	logger := log.Discard()
	store := file.NewPersistence(t.TempDir())
	engine := &mocks.MockEngine{}
	registry := metrics.NewRegistry()
	purchase := testutil.NewPurchase()

	require.NoError(t, store.Purchases().Save(context.Background(), purchase))

	deps := services.CoreDependencies{
		Persistence: store,
		Credentials: credentials.NewService(logger, credentials.WithValidator(testutil.AcceptingValidator("tripletex", "employee_token"))),
		Prober:      engine,
		Metrics:     registry,
	}

	if withHistory {
		deps.History = health.NewHistory(engine, store.Executions(), logger)
	}

	return &coreFixture{
		store:    store,
		engine:   engine,
		metrics:  registry,
		core:     services.NewCore(deps, logger),
		purchase: purchase,
	}
}

func (f *coreFixture) instance(t *testing.T, overrides ...func(*models.WorkflowInstance)) *models.WorkflowInstance {
	t.Helper()

	instance := testutil.NewInstance(f.purchase, overrides...)
	require.NoError(t, f.store.Instances().Save(context.Background(), instance))

	return instance
}

func TestCore_ValidateIntegration(t *testing.T) {
	t.Parallel()

	f := newCoreFixture(t, false)

	_, err := f.core.ValidateIntegration(context.Background(), "", nil)
	require.ErrorIs(t, err, services.ErrInvalidRequest)

	result, err := f.core.ValidateIntegration(context.Background(), "tripletex", map[string]string{"employee_token": "tok"})
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, credentials.ReasonOK, result.Reason)
	assert.InDelta(t, 1, promtestutil.ToFloat64(f.metrics.CredentialValidations.WithLabelValues("tripletex", "ok")), 0)
}

func TestCore_CheckAutomationReadiness_MissingService(t *testing.T) {
	t.Parallel()

	f := newCoreFixture(t, false)

	result, err := f.core.CheckAutomationReadiness(context.Background(),
		[]string{"tripletex", "vipps"},
		map[string]map[string]string{"tripletex": {"employee_token": "tok"}},
	)
	require.NoError(t, err)

	assert.False(t, result.Ready)
	require.Len(t, result.Results, 2)
	assert.True(t, result.Results[0].Valid)
	assert.False(t, result.Results[1].Valid)
	assert.Equal(t, "vipps", result.Results[1].Service)
	assert.Contains(t, result.Results[1].Message, "not connected")

	_, err = f.core.CheckAutomationReadiness(context.Background(), nil, nil)
	require.ErrorIs(t, err, services.ErrInvalidRequest)
}

func TestCore_Enqueue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newCoreFixture(t, false)

	job, err := f.core.Enqueue(ctx, models.JobActionCreate, f.purchase.ID, map[string]any{"source": "test"})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, models.JobActionCreate, job.Action)

	stored, err := f.store.Jobs().GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, f.purchase.ID, stored.PurchaseID)
	assert.InDelta(t, 1, promtestutil.ToFloat64(f.metrics.JobsEnqueued.WithLabelValues("create")), 0)
}

func TestCore_Enqueue_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		setup      func(t *testing.T, f *coreFixture)
		action     models.JobAction
		purchaseID func(f *coreFixture) string
		check      func(t *testing.T, err error)
	}{
		{
			name:       "unknown action",
			action:     "reboot",
			purchaseID: func(f *coreFixture) string { return f.purchase.ID },
			check: func(t *testing.T, err error) {
				t.Helper()
				require.ErrorIs(t, err, services.ErrUnknownAction)
				assert.True(t, services.IsValidationError(err))
			},
		},
		{
			name:       "empty purchase",
			action:     models.JobActionCreate,
			purchaseID: func(*coreFixture) string { return "" },
			check: func(t *testing.T, err error) {
				t.Helper()
				require.ErrorIs(t, err, services.ErrInvalidRequest)
			},
		},
		{
			name:       "unknown purchase",
			action:     models.JobActionCreate,
			purchaseID: func(*coreFixture) string { return "missing" },
			check: func(t *testing.T, err error) {
				t.Helper()
				assert.True(t, persistence.IsPurchaseNotFound(err))
			},
		},
		{
			name: "action after delete",
			setup: func(t *testing.T, f *coreFixture) {
				t.Helper()
				_, err := f.core.Enqueue(context.Background(), models.JobActionDelete, f.purchase.ID, nil)
				require.NoError(t, err)
			},
			action:     models.JobActionCreate,
			purchaseID: func(f *coreFixture) string { return f.purchase.ID },
			check: func(t *testing.T, err error) {
				t.Helper()
				require.ErrorIs(t, err, services.ErrInstanceDeleted)
				assert.True(t, services.IsConflictError(err))
			},
		},
		{
			name: "stopped instance",
			setup: func(t *testing.T, f *coreFixture) {
				t.Helper()
				f.instance(t, testutil.WithExternalID("wf-1", models.InstanceStatusStopped))
			},
			action:     models.JobActionResume,
			purchaseID: func(f *coreFixture) string { return f.purchase.ID },
			check: func(t *testing.T, err error) {
				t.Helper()
				require.ErrorIs(t, err, services.ErrInstanceDeleted)
			},
		},
		{
			name:       "pause without workflow",
			action:     models.JobActionPause,
			purchaseID: func(f *coreFixture) string { return f.purchase.ID },
			check: func(t *testing.T, err error) {
				t.Helper()
				require.ErrorIs(t, err, services.ErrInvalidTransition)
			},
		},
		{
			name: "health check on pending instance",
			setup: func(t *testing.T, f *coreFixture) {
				t.Helper()
				f.instance(t)
			},
			action:     models.JobActionHealthCheck,
			purchaseID: func(f *coreFixture) string { return f.purchase.ID },
			check: func(t *testing.T, err error) {
				t.Helper()
				require.ErrorIs(t, err, services.ErrInvalidTransition)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newCoreFixture(t, false)
			if tt.setup != nil {
				tt.setup(t, f)
			}

			job, err := f.core.Enqueue(context.Background(), tt.action, tt.purchaseID(f), nil)
			require.Error(t, err)
			assert.Nil(t, job)
			tt.check(t, err)
		})
	}
}

func TestCore_Enqueue_DeleteAfterDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newCoreFixture(t, false)
	f.instance(t, testutil.WithExternalID("wf-1", models.InstanceStatusActive))

	_, err := f.core.Enqueue(ctx, models.JobActionDelete, f.purchase.ID, nil)
	require.NoError(t, err)

	_, err = f.core.Enqueue(ctx, models.JobActionDelete, f.purchase.ID, nil)
	require.NoError(t, err)
}

func TestCore_GetInstanceHealth(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("without workflow uses recorded grade", func(t *testing.T) {
		t.Parallel()

		f := newCoreFixture(t, false)
		f.instance(t)

		view, err := f.core.GetInstanceHealth(ctx, f.purchase.ID)
		require.NoError(t, err)
		assert.Equal(t, models.HealthUnknown, view.Health)
		assert.False(t, view.Live)
		f.engine.AssertNotCalled(t, "ProbeHealth", mock.Anything, mock.Anything)
	})

	t.Run("probes the engine", func(t *testing.T) {
		t.Parallel()

		f := newCoreFixture(t, false)
		instance := f.instance(t, testutil.WithExternalID("wf-1", models.InstanceStatusActive))
		f.engine.On("ProbeHealth", mock.Anything, "wf-1").Return(models.HealthDegraded, nil)

		view, err := f.core.GetInstanceHealth(ctx, f.purchase.ID)
		require.NoError(t, err)
		assert.Equal(t, models.HealthDegraded, view.Health)
		assert.True(t, view.Live)
		assert.Equal(t, instance.ID, view.InstanceID)

		stored, err := f.store.Instances().GetByID(ctx, instance.ID)
		require.NoError(t, err)
		assert.Equal(t, models.HealthUnknown, stored.Health, "reads never change the instance")
	})

	t.Run("probe failure falls back", func(t *testing.T) {
		t.Parallel()

		f := newCoreFixture(t, false)
		f.instance(t, testutil.WithExternalID("wf-1", models.InstanceStatusActive), func(i *models.WorkflowInstance) {
			i.Health = models.HealthHealthy
		})
		f.engine.On("ProbeHealth", mock.Anything, "wf-1").Return(models.HealthUnknown, errors.New("connection refused"))

		view, err := f.core.GetInstanceHealth(ctx, f.purchase.ID)
		require.NoError(t, err)
		assert.Equal(t, models.HealthHealthy, view.Health)
		assert.False(t, view.Live)
	})

	t.Run("no instance", func(t *testing.T) {
		t.Parallel()

		f := newCoreFixture(t, false)

		_, err := f.core.GetInstanceHealth(ctx, f.purchase.ID)
		assert.True(t, persistence.IsInstanceNotFound(err))
	})
}

func TestCore_GetStats_FromStoredHistory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newCoreFixture(t, false)
	instance := f.instance(t, testutil.WithExternalID("wf-1", models.InstanceStatusActive))

	now := time.Now().UTC()
	statuses := []models.ExecutionStatus{
		models.ExecutionStatusSuccess,
		models.ExecutionStatusSuccess,
		models.ExecutionStatusError,
		models.ExecutionStatusSuccess,
		models.ExecutionStatusSuccess,
	}

	for i, status := range statuses {
		execution := testutil.NewExecution(status, now.Add(-time.Duration(i)*time.Minute), func(e *models.WorkflowExecution) {
			e.InstanceID = instance.ID
		})
		require.NoError(t, f.store.Executions().Record(ctx, execution))
	}

	result, err := f.core.GetStats(ctx, f.purchase.ID)
	require.NoError(t, err)

	assert.Equal(t, 5, result.Total)
	assert.Equal(t, 4, result.Successful)
	assert.Equal(t, 1, result.Failed)
	assert.InDelta(t, 80, result.UptimePercentage, 0.001)
	assert.InDelta(t, 1.0, result.HoursSaved, 0.001)
	assert.InDelta(t, 500, result.CurrencySaved, 0.001)
}

func TestCore_GetStats_SyncsEngineHistory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newCoreFixture(t, true)
	f.instance(t, testutil.WithExternalID("wf-1", models.InstanceStatusActive))

	f.engine.On("ListExecutions", mock.Anything, "wf-1", health.SyncLimit).
		Return(testutil.Executions(models.ExecutionStatusSuccess, models.ExecutionStatusSuccess))

	result, err := f.core.GetStats(ctx, f.purchase.ID)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Total)
	assert.InDelta(t, 100, result.UptimePercentage, 0.001)
	f.engine.AssertExpectations(t)
}

func TestCore_GetStats_NoExecutions(t *testing.T) {
	t.Parallel()

	f := newCoreFixture(t, false)
	f.instance(t)

	result, err := f.core.GetStats(context.Background(), f.purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Total)
	assert.InDelta(t, 100, result.UptimePercentage, 0)
	assert.InDelta(t, 0, result.HoursSaved, 0)
}

func TestCore_FleetHealth(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newCoreFixture(t, false)

	grades := []struct {
		tenant string
		status models.InstanceStatus
		health models.HealthGrade
	}{
		{"acme", models.InstanceStatusActive, models.HealthHealthy},
		{"acme", models.InstanceStatusActive, models.HealthUnknown},
		{"acme", models.InstanceStatusStopped, models.HealthOffline},
		{"globex", models.InstanceStatusActive, models.HealthFailing},
	}

	for _, g := range grades {
		purchase := testutil.NewPurchase(func(p *models.Purchase) { p.TenantID = g.tenant })
		instance := testutil.NewInstance(purchase, func(i *models.WorkflowInstance) {
			i.Status = g.status
			i.Health = g.health
		})
		require.NoError(t, f.store.Instances().Save(ctx, instance))
	}

	acme, err := f.core.FleetHealth(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, models.HealthHealthy, acme.Overall)
	assert.Equal(t, 2, acme.Total)

	all, err := f.core.FleetHealth(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, models.HealthFailing, all.Overall)
	assert.Equal(t, 3, all.Total)

	empty, err := f.core.FleetHealth(ctx, "initech")
	require.NoError(t, err)
	assert.Equal(t, models.HealthUnknown, empty.Overall)
}

func TestCore_HealthCheck(t *testing.T) {
	t.Parallel()

	f := newCoreFixture(t, false)

	message, ok := f.core.HealthCheck(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "Persistence layer is healthy", message)
}
