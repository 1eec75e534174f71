package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/provisioner/pkg/models"
	"github.com/dukex/provisioner/pkg/persistence"
	"github.com/google/uuid"
)

const instanceColumns = `
	id
  , purchase_id
  , tenant_id
  , automation_id
  , template_version
  , status
  , health
  , external_id
  , error_message
  , error_count
  , retry_count
  , max_retries
  , config
  , last_health_at
  , created_at
  , updated_at
`

// InstanceRepository handles workflow instance database operations.
type InstanceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewInstanceRepository(db *sql.DB, logger *slog.Logger) *InstanceRepository {
	return &InstanceRepository{db: db, logger: logger}
}

func (r *InstanceRepository) Save(ctx context.Context, instance *models.WorkflowInstance) error {
	now := time.Now().UTC()

	if instance.CreatedAt.IsZero() {
		instance.CreatedAt = now
	}

	instance.UpdatedAt = now

	if instance.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate instance ID: %w", err)
		}

		instance.ID = id.String()
	}

	configJSON, err := json.Marshal(instance.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	query := `
		INSERT INTO workflow_instances (` + instanceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			template_version = EXCLUDED.template_version,
			status = EXCLUDED.status,
			health = EXCLUDED.health,
			external_id = EXCLUDED.external_id,
			error_message = EXCLUDED.error_message,
			error_count = EXCLUDED.error_count,
			retry_count = EXCLUDED.retry_count,
			max_retries = EXCLUDED.max_retries,
			config = EXCLUDED.config,
			last_health_at = EXCLUDED.last_health_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		instance.ID,
		instance.PurchaseID,
		instance.TenantID,
		instance.AutomationID,
		instance.TemplateVersion,
		instance.Status,
		instance.Health,
		instance.ExternalID,
		nullString(instance.ErrorMessage),
		instance.ErrorCount,
		instance.RetryCount,
		instance.MaxRetries,
		configJSON,
		instance.LastHealthAt,
		instance.CreatedAt,
		instance.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save instance: %w", err)
	}

	return nil
}

func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	return r.getOne(ctx, "GetByID", "id", id)
}

func (r *InstanceRepository) GetByPurchase(ctx context.Context, purchaseID string) (*models.WorkflowInstance, error) {
	return r.getOne(ctx, "GetByPurchase", "purchase_id", purchaseID)
}

func (r *InstanceRepository) getOne(ctx context.Context, op, column, value string) (*models.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE ` + column + ` = $1`

	instance, err := scanInstance(r.db.QueryRowContext(ctx, query, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError(op, "instance", value, persistence.ErrInstanceNotFound)
		}

		return nil, fmt.Errorf("failed to scan instance: %w", err)
	}

	return instance, nil
}

func (r *InstanceRepository) List(ctx context.Context, filter persistence.InstanceFilter) ([]*models.WorkflowInstance, error) {
	conditions := make([]string, 0, 2)
	args := make([]any, 0, 2)

	if filter.TenantID != "" {
		args = append(args, filter.TenantID)
		conditions = append(conditions, "tenant_id = $"+strconv.Itoa(len(args)))
	}

	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, "status = $"+strconv.Itoa(len(args)))
	}

	query := `SELECT ` + instanceColumns + ` FROM workflow_instances`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}

	query += ` ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	instances := make([]*models.WorkflowInstance, 0)

	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}

		instances = append(instances, instance)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating instances: %w", err)
	}

	return instances, nil
}

func scanInstance(row scanner) (*models.WorkflowInstance, error) {
	var (
		instance     models.WorkflowInstance
		externalID   sql.NullString
		errorMessage sql.NullString
		configJSON   []byte
		lastHealthAt sql.NullTime
	)

	err := row.Scan(
		&instance.ID,
		&instance.PurchaseID,
		&instance.TenantID,
		&instance.AutomationID,
		&instance.TemplateVersion,
		&instance.Status,
		&instance.Health,
		&externalID,
		&errorMessage,
		&instance.ErrorCount,
		&instance.RetryCount,
		&instance.MaxRetries,
		&configJSON,
		&lastHealthAt,
		&instance.CreatedAt,
		&instance.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(configJSON, &instance.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if externalID.Valid {
		instance.ExternalID = &externalID.String
	}

	if lastHealthAt.Valid {
		instance.LastHealthAt = &lastHealthAt.Time
	}

	instance.ErrorMessage = errorMessage.String

	return &instance, nil
}
