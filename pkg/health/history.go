package health

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/provisioner/pkg/models"
	"github.com/dukex/provisioner/pkg/persistence"
)

// SyncLimit bounds how many engine executions one sync pulls.
const SyncLimit = 50

// ExecutionLister reads execution history from the engine. It returns an
// empty slice when the engine cannot answer.
type ExecutionLister interface {
	ListExecutions(ctx context.Context, externalID string, limit int) []models.WorkflowExecution
}

// History copies engine executions into the execution repository so grading
// and statistics read from one place.
type History struct {
	engine ExecutionLister
	repo   persistence.ExecutionRepository
	logger *slog.Logger
}

func NewHistory(engine ExecutionLister, repo persistence.ExecutionRepository, logger *slog.Logger) *History {
	return &History{engine: engine, repo: repo, logger: logger.With("module", "health_history")}
}

// Sync records the engine's latest executions for the instance and returns the
// stored history, newest first. Instances never created on the engine only
// return what is already stored.
func (h *History) Sync(ctx context.Context, instance *models.WorkflowInstance) ([]*models.WorkflowExecution, error) {
	if instance.HasExternalID() {
		for _, execution := range h.engine.ListExecutions(ctx, instance.ExternalIDValue(), SyncLimit) {
			execution.InstanceID = instance.ID

			err := h.repo.Record(ctx, &execution)
			if err != nil {
				return nil, fmt.Errorf("failed to record execution %s: %w", execution.ID, err)
			}
		}
	}

	executions, err := h.repo.ListByInstance(ctx, instance.ID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	h.logger.DebugContext(ctx, "synced execution history",
		"instance_id", instance.ID,
		"executions", len(executions),
	)

	return executions, nil
}
