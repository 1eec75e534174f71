package file_test

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/provisioner/pkg/models"
	"github.com/dukex/provisioner/pkg/persistence"
	"github.com/dukex/provisioner/pkg/persistence/file"
	"github.com/dukex/provisioner/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobRepository(t *testing.T) {
	t.Parallel()

	testutil.RunJobRepositorySuite(t, func(t *testing.T) persistence.JobRepository {
		t.Helper()

		return file.NewPersistence(t.TempDir()).Jobs()
	})
}

func TestNewPersistence_AcceptsFileScheme(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := file.NewPersistence("file://" + dir)

	require.NoError(t, p.HealthCheck(context.Background()))
	require.NoError(t, p.Purchases().Save(context.Background(), testutil.NewPurchase()))

	reopened := file.NewPersistence(dir)
	purchases, err := reopened.Purchases().ListByTenant(context.Background(), "acme")
	require.NoError(t, err)
	assert.Len(t, purchases, 1)
}

func TestTemplateRepository_AppendOnly(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := file.NewPersistence(t.TempDir()).Templates()

	require.NoError(t, repo.Insert(ctx, testutil.NewTemplate()))
	require.NoError(t, repo.Insert(ctx, testutil.NewTemplate(func(tpl *models.WorkflowTemplate) {
		tpl.Version = 2
	})))
	require.NoError(t, repo.Insert(ctx, testutil.NewTemplate(func(tpl *models.WorkflowTemplate) {
		tpl.AutomationID = "lead_capture"
	})))

	err := repo.Insert(ctx, testutil.NewTemplate())
	require.ErrorIs(t, err, persistence.ErrTemplateVersionExists)

	versions, err := repo.Versions(ctx, "fakturering")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].Version)
	assert.False(t, versions[0].PublishedAt.IsZero())

	_, err = repo.Get(ctx, "fakturering", 9)
	require.ErrorIs(t, err, persistence.ErrTemplateNotFound)

	ids, err := repo.AutomationIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"fakturering", "lead_capture"}, ids)
}

func TestCredentialRepository_UpsertKeepsIdentity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := file.NewPersistence(t.TempDir()).Credentials()

	first := &models.IntegrationCredential{
		TenantID:    "acme",
		Service:     "fiken",
		Credentials: map[string]string{"api_token": "old"},
		Status:      models.CredentialStatusPending,
	}
	require.NoError(t, repo.Save(ctx, first))

	second := &models.IntegrationCredential{
		TenantID:    "acme",
		Service:     "fiken",
		Credentials: map[string]string{"api_token": "new"},
		Status:      models.CredentialStatusValid,
	}
	require.NoError(t, repo.Save(ctx, second))

	assert.Equal(t, first.ID, second.ID)

	stored, err := repo.Get(ctx, "acme", "fiken")
	require.NoError(t, err)
	assert.Equal(t, "new", stored.Credentials["api_token"])

	_, err = repo.Get(ctx, "acme", "stripe")
	require.ErrorIs(t, err, persistence.ErrCredentialNotFound)
	assert.True(t, persistence.IsNotFound(err))
}

func TestInstanceRepository_OnePerPurchase(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := file.NewPersistence(t.TempDir()).Instances()
	purchase := testutil.NewPurchase()

	instance := testutil.NewInstance(purchase)
	require.NoError(t, repo.Save(ctx, instance))
	require.NotEmpty(t, instance.ID)

	require.Error(t, repo.Save(ctx, testutil.NewInstance(purchase)))

	instance.Status = models.InstanceStatusCreating
	require.NoError(t, repo.Save(ctx, instance))

	stored, err := repo.GetByPurchase(ctx, purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCreating, stored.Status)

	listed, err := repo.List(ctx, persistence.InstanceFilter{Status: models.InstanceStatusActive})
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestExecutionRepository_FinishedIsImmutable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := file.NewPersistence(t.TempDir()).Executions()
	started := time.Now().UTC().Add(-time.Hour)

	running := testutil.NewExecution(models.ExecutionStatusRunning, started, func(e *models.WorkflowExecution) {
		e.ID = "exec-1"
		e.InstanceID = "instance-1"
	})
	require.NoError(t, repo.Record(ctx, running))

	finished := testutil.NewExecution(models.ExecutionStatusError, started, func(e *models.WorkflowExecution) {
		e.ID = "exec-1"
		e.InstanceID = "instance-1"
	})
	require.NoError(t, repo.Record(ctx, finished))

	rewritten := testutil.NewExecution(models.ExecutionStatusSuccess, started, func(e *models.WorkflowExecution) {
		e.ID = "exec-1"
		e.InstanceID = "instance-1"
	})
	require.NoError(t, repo.Record(ctx, rewritten))

	newer := testutil.NewExecution(models.ExecutionStatusSuccess, started.Add(time.Minute), func(e *models.WorkflowExecution) {
		e.ID = "exec-2"
		e.InstanceID = "instance-1"
	})
	require.NoError(t, repo.Record(ctx, newer))

	executions, err := repo.ListByInstance(ctx, "instance-1", 0)
	require.NoError(t, err)
	require.Len(t, executions, 2)
	assert.Equal(t, "exec-2", executions[0].ID)
	assert.Equal(t, models.ExecutionStatusError, executions[1].Status)

	limited, err := repo.ListByInstance(ctx, "instance-1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestOnboardingRepository_NotFound(t *testing.T) {
	t.Parallel()

	_, err := file.NewPersistence(t.TempDir()).Onboarding().Get(context.Background(), "missing")
	require.ErrorIs(t, err, persistence.ErrOnboardingNotFound)
}
