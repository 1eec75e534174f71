// Package postgresql provides the PostgreSQL implementation of the persistence layer.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/provisioner/pkg/persistence"
	"github.com/dukex/provisioner/pkg/persistence/sqlbase"
	_ "github.com/lib/pq"
)

// Persistence implements persistence.Persistence for PostgreSQL.
type Persistence struct {
	db             *sql.DB
	logger         *slog.Logger
	credentialRepo *CredentialRepository
	purchaseRepo   *PurchaseRepository
	templateRepo   *TemplateRepository
	instanceRepo   *InstanceRepository
	jobRepo        *JobRepository
	executionRepo  *ExecutionRepository
	onboardingRepo *OnboardingRepository
}

// NewPersistence connects to databaseURL and runs pending migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	err = NewMigrationManager(logger, database).RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:             database,
		logger:         logger,
		credentialRepo: NewCredentialRepository(database, logger),
		purchaseRepo:   NewPurchaseRepository(database, logger),
		templateRepo:   NewTemplateRepository(database, logger),
		instanceRepo:   NewInstanceRepository(database, logger),
		jobRepo:        NewJobRepository(database, logger),
		executionRepo:  NewExecutionRepository(database, logger),
		onboardingRepo: NewOnboardingRepository(database, logger),
	}, nil
}

// NewMigrationManager returns a manager loaded with this backend's schema.
func NewMigrationManager(logger *slog.Logger, db *sql.DB) *sqlbase.MigrationManager {
	return sqlbase.NewMigrationManager(logger, db, migrations())
}

func (p *Persistence) Credentials() persistence.CredentialRepository {
	return p.credentialRepo
}

func (p *Persistence) Purchases() persistence.PurchaseRepository {
	return p.purchaseRepo
}

func (p *Persistence) Templates() persistence.TemplateRepository {
	return p.templateRepo
}

func (p *Persistence) Instances() persistence.InstanceRepository {
	return p.instanceRepo
}

func (p *Persistence) Jobs() persistence.JobRepository {
	return p.jobRepo
}

func (p *Persistence) Executions() persistence.ExecutionRepository {
	return p.executionRepo
}

func (p *Persistence) Onboarding() persistence.OnboardingRepository {
	return p.onboardingRepo
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
