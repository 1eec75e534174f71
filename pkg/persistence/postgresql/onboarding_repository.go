package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/provisioner/pkg/models"
	"github.com/dukex/provisioner/pkg/persistence"
)

// OnboardingRepository stores per-purchase onboarding progress.
type OnboardingRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewOnboardingRepository(db *sql.DB, logger *slog.Logger) *OnboardingRepository {
	return &OnboardingRepository{db: db, logger: logger}
}

func (r *OnboardingRepository) Save(ctx context.Context, progress *models.OnboardingProgress) error {
	now := time.Now().UTC()

	if progress.CreatedAt.IsZero() {
		progress.CreatedAt = now
	}

	progress.UpdatedAt = now

	requiredJSON, err := json.Marshal(progress.RequiredServices)
	if err != nil {
		return fmt.Errorf("failed to marshal required services: %w", err)
	}

	connectedJSON, err := json.Marshal(progress.ConnectedServices)
	if err != nil {
		return fmt.Errorf("failed to marshal connected services: %w", err)
	}

	query := `
		INSERT INTO onboarding_progress (
			purchase_id, tenant_id, automation_id, step, required_services,
			connected_services, activation_requested, last_error, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (purchase_id) DO UPDATE SET
			step = EXCLUDED.step,
			required_services = EXCLUDED.required_services,
			connected_services = EXCLUDED.connected_services,
			activation_requested = EXCLUDED.activation_requested,
			last_error = EXCLUDED.last_error,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		progress.PurchaseID,
		progress.TenantID,
		progress.AutomationID,
		progress.Step,
		requiredJSON,
		connectedJSON,
		progress.ActivationRequested,
		nullString(progress.LastError),
		progress.CreatedAt,
		progress.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save onboarding progress: %w", err)
	}

	return nil
}

func (r *OnboardingRepository) Get(ctx context.Context, purchaseID string) (*models.OnboardingProgress, error) {
	query := `
		SELECT purchase_id, tenant_id, automation_id, step, required_services,
			connected_services, activation_requested, last_error, created_at, updated_at
		FROM onboarding_progress
		WHERE purchase_id = $1
	`

	var (
		progress      models.OnboardingProgress
		requiredJSON  []byte
		connectedJSON []byte
		lastError     sql.NullString
	)

	err := r.db.QueryRowContext(ctx, query, purchaseID).Scan(
		&progress.PurchaseID,
		&progress.TenantID,
		&progress.AutomationID,
		&progress.Step,
		&requiredJSON,
		&connectedJSON,
		&progress.ActivationRequested,
		&lastError,
		&progress.CreatedAt,
		&progress.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("Get", "onboarding", purchaseID, persistence.ErrOnboardingNotFound)
		}

		return nil, fmt.Errorf("failed to scan onboarding progress: %w", err)
	}

	err = json.Unmarshal(requiredJSON, &progress.RequiredServices)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal required services: %w", err)
	}

	err = json.Unmarshal(connectedJSON, &progress.ConnectedServices)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal connected services: %w", err)
	}

	progress.LastError = lastError.String

	return &progress, nil
}
