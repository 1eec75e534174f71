package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dukex/provisioner/pkg/engine"
	"github.com/dukex/provisioner/pkg/models"
)

// MockEngine is a mock of the engine operations used by the queue processor.
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Create(
	ctx context.Context,
	tmpl *models.WorkflowTemplate,
	creds map[string]map[string]string,
	tenantLabel string,
) (engine.CreateResult, error) {
	args := m.Called(ctx, tmpl, creds, tenantLabel)

	return args.Get(0).(engine.CreateResult), args.Error(1)
}

func (m *MockEngine) Activate(ctx context.Context, externalID string) error {
	args := m.Called(ctx, externalID)

	return args.Error(0)
}

func (m *MockEngine) Deactivate(ctx context.Context, externalID string) error {
	args := m.Called(ctx, externalID)

	return args.Error(0)
}

func (m *MockEngine) Delete(ctx context.Context, externalID string) error {
	args := m.Called(ctx, externalID)

	return args.Error(0)
}

func (m *MockEngine) ProbeHealth(ctx context.Context, externalID string) (models.HealthGrade, error) {
	args := m.Called(ctx, externalID)

	return args.Get(0).(models.HealthGrade), args.Error(1)
}

func (m *MockEngine) ListExecutions(ctx context.Context, externalID string, limit int) []models.WorkflowExecution {
	args := m.Called(ctx, externalID, limit)

	return args.Get(0).([]models.WorkflowExecution)
}
