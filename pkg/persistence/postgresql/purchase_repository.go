package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/provisioner/pkg/models"
	"github.com/dukex/provisioner/pkg/persistence"
	"github.com/google/uuid"
)

const purchaseColumns = `
	id
  , tenant_id
  , automation_id
  , package_tier
  , billing_cycle
  , status
  , price_minor
  , currency
  , created_at
  , updated_at
`

// PurchaseRepository handles purchase database operations.
type PurchaseRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewPurchaseRepository(db *sql.DB, logger *slog.Logger) *PurchaseRepository {
	return &PurchaseRepository{db: db, logger: logger}
}

func (r *PurchaseRepository) Save(ctx context.Context, purchase *models.Purchase) error {
	now := time.Now().UTC()

	if purchase.CreatedAt.IsZero() {
		purchase.CreatedAt = now
	}

	purchase.UpdatedAt = now

	if purchase.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate purchase ID: %w", err)
		}

		purchase.ID = id.String()
	}

	query := `
		INSERT INTO purchases (` + purchaseColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			package_tier = EXCLUDED.package_tier,
			billing_cycle = EXCLUDED.billing_cycle,
			status = EXCLUDED.status,
			price_minor = EXCLUDED.price_minor,
			currency = EXCLUDED.currency,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		purchase.ID,
		purchase.TenantID,
		purchase.AutomationID,
		purchase.PackageTier,
		purchase.BillingCycle,
		purchase.Status,
		purchase.PriceMinor,
		purchase.Currency,
		purchase.CreatedAt,
		purchase.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save purchase: %w", err)
	}

	return nil
}

func (r *PurchaseRepository) GetByID(ctx context.Context, id string) (*models.Purchase, error) {
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE id = $1`

	purchase, err := scanPurchase(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("GetByID", "purchase", id, persistence.ErrPurchaseNotFound)
		}

		return nil, fmt.Errorf("failed to scan purchase: %w", err)
	}

	return purchase, nil
}

func (r *PurchaseRepository) ListByTenant(ctx context.Context, tenantID string) ([]*models.Purchase, error) {
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE tenant_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query purchases: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	purchases := make([]*models.Purchase, 0)

	for rows.Next() {
		purchase, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}

		purchases = append(purchases, purchase)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating purchases: %w", err)
	}

	return purchases, nil
}

func scanPurchase(row scanner) (*models.Purchase, error) {
	var purchase models.Purchase

	err := row.Scan(
		&purchase.ID,
		&purchase.TenantID,
		&purchase.AutomationID,
		&purchase.PackageTier,
		&purchase.BillingCycle,
		&purchase.Status,
		&purchase.PriceMinor,
		&purchase.Currency,
		&purchase.CreatedAt,
		&purchase.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &purchase, nil
}
