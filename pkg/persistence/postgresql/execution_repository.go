package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dukex/provisioner/pkg/models"
)

const executionColumns = `
	id
  , instance_id
  , external_id
  , status
  , started_at
  , finished_at
  , duration_ms
  , items_processed
  , error_message
  , metadata
`

// ExecutionRepository keeps synced engine execution history.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

// Record inserts an execution, or completes a stored one that has not finished yet.
func (r *ExecutionRepository) Record(ctx context.Context, execution *models.WorkflowExecution) error {
	metadataJSON, err := json.Marshal(execution.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO workflow_executions (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			finished_at = EXCLUDED.finished_at,
			duration_ms = EXCLUDED.duration_ms,
			items_processed = EXCLUDED.items_processed,
			error_message = EXCLUDED.error_message,
			metadata = EXCLUDED.metadata
		WHERE workflow_executions.finished_at IS NULL
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.InstanceID,
		execution.ExternalID,
		execution.Status,
		execution.StartedAt,
		execution.FinishedAt,
		execution.DurationMs,
		execution.ItemsProcessed,
		nullString(execution.ErrorMessage),
		metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}

	return nil
}

func (r *ExecutionRepository) ListByInstance(ctx context.Context, instanceID string, limit int) ([]*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions WHERE instance_id = $1 ORDER BY started_at DESC`
	args := []any{instanceID}

	if limit > 0 {
		query += ` LIMIT $2`

		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		var (
			execution    models.WorkflowExecution
			finishedAt   sql.NullTime
			durationMs   sql.NullInt64
			errorMessage sql.NullString
			metadataJSON []byte
		)

		err := rows.Scan(
			&execution.ID,
			&execution.InstanceID,
			&execution.ExternalID,
			&execution.Status,
			&execution.StartedAt,
			&finishedAt,
			&durationMs,
			&execution.ItemsProcessed,
			&errorMessage,
			&metadataJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		err = json.Unmarshal(metadataJSON, &execution.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}

		if finishedAt.Valid {
			execution.FinishedAt = &finishedAt.Time
		}

		if durationMs.Valid {
			execution.DurationMs = &durationMs.Int64
		}

		execution.ErrorMessage = errorMessage.String

		executions = append(executions, &execution)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}
