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
	"github.com/google/uuid"
)

const credentialColumns = `
	id
  , tenant_id
  , service
  , credentials
  , status
  , verification_level
  , last_validated_at
  , last_error
  , created_at
  , updated_at
`

// CredentialRepository handles integration credential database operations.
type CredentialRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewCredentialRepository(db *sql.DB, logger *slog.Logger) *CredentialRepository {
	return &CredentialRepository{db: db, logger: logger}
}

// Save upserts the credential set for its tenant and service.
func (r *CredentialRepository) Save(ctx context.Context, credential *models.IntegrationCredential) error {
	now := time.Now().UTC()

	if credential.CreatedAt.IsZero() {
		credential.CreatedAt = now
	}

	credential.UpdatedAt = now

	if credential.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate credential ID: %w", err)
		}

		credential.ID = id.String()
	}

	credentialsJSON, err := json.Marshal(credential.Credentials)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	query := `
		INSERT INTO integration_credentials (` + credentialColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tenant_id, service) DO UPDATE SET
			credentials = EXCLUDED.credentials,
			status = EXCLUDED.status,
			verification_level = EXCLUDED.verification_level,
			last_validated_at = EXCLUDED.last_validated_at,
			last_error = EXCLUDED.last_error,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`

	err = r.db.QueryRowContext(ctx, query,
		credential.ID,
		credential.TenantID,
		credential.Service,
		credentialsJSON,
		credential.Status,
		nullString(string(credential.VerificationLevel)),
		credential.LastValidatedAt,
		nullString(credential.LastError),
		credential.CreatedAt,
		credential.UpdatedAt,
	).Scan(&credential.ID, &credential.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}

	return nil
}

func (r *CredentialRepository) Get(ctx context.Context, tenantID, service string) (*models.IntegrationCredential, error) {
	query := `SELECT ` + credentialColumns + ` FROM integration_credentials WHERE tenant_id = $1 AND service = $2`

	credential, err := scanCredential(r.db.QueryRowContext(ctx, query, tenantID, service))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("Get", "credential", tenantID+"/"+service, persistence.ErrCredentialNotFound)
		}

		return nil, fmt.Errorf("failed to scan credential: %w", err)
	}

	return credential, nil
}

func (r *CredentialRepository) ListByTenant(ctx context.Context, tenantID string) ([]*models.IntegrationCredential, error) {
	query := `SELECT ` + credentialColumns + ` FROM integration_credentials WHERE tenant_id = $1 ORDER BY service`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query credentials: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	credentials := make([]*models.IntegrationCredential, 0)

	for rows.Next() {
		credential, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}

		credentials = append(credentials, credential)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating credentials: %w", err)
	}

	return credentials, nil
}

func scanCredential(row scanner) (*models.IntegrationCredential, error) {
	var (
		credential      models.IntegrationCredential
		credentialsJSON []byte
		level           sql.NullString
		lastValidatedAt sql.NullTime
		lastError       sql.NullString
	)

	err := row.Scan(
		&credential.ID,
		&credential.TenantID,
		&credential.Service,
		&credentialsJSON,
		&credential.Status,
		&level,
		&lastValidatedAt,
		&lastError,
		&credential.CreatedAt,
		&credential.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(credentialsJSON, &credential.Credentials)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal credentials: %w", err)
	}

	credential.VerificationLevel = models.VerificationLevel(level.String)
	credential.LastError = lastError.String

	if lastValidatedAt.Valid {
		credential.LastValidatedAt = &lastValidatedAt.Time
	}

	return &credential, nil
}
