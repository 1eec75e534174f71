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
	"github.com/lib/pq"
)

const templateColumns = `
	automation_id
  , version
  , name
  , description
  , required_services
  , definition
  , bindings
  , published_at
`

// uniqueViolation is the PostgreSQL error code for duplicate keys.
const uniqueViolation = "23505"

// TemplateRepository stores immutable template versions.
type TemplateRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewTemplateRepository(db *sql.DB, logger *slog.Logger) *TemplateRepository {
	return &TemplateRepository{db: db, logger: logger}
}

func (r *TemplateRepository) Insert(ctx context.Context, template *models.WorkflowTemplate) error {
	if template.PublishedAt.IsZero() {
		template.PublishedAt = time.Now().UTC()
	}

	servicesJSON, err := json.Marshal(template.RequiredServices)
	if err != nil {
		return fmt.Errorf("failed to marshal required services: %w", err)
	}

	bindingsJSON, err := json.Marshal(template.Bindings)
	if err != nil {
		return fmt.Errorf("failed to marshal bindings: %w", err)
	}

	query := `
		INSERT INTO workflow_templates (` + templateColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.db.ExecContext(ctx, query,
		template.AutomationID,
		template.Version,
		template.Name,
		template.Description,
		servicesJSON,
		[]byte(template.Definition),
		bindingsJSON,
		template.PublishedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return persistence.NewEntityError("Insert", "template", template.AutomationID, persistence.ErrTemplateVersionExists)
		}

		return fmt.Errorf("failed to insert template: %w", err)
	}

	return nil
}

func (r *TemplateRepository) Get(ctx context.Context, automationID string, version int) (*models.WorkflowTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM workflow_templates WHERE automation_id = $1 AND version = $2`

	template, err := scanTemplate(r.db.QueryRowContext(ctx, query, automationID, version))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("Get", "template", fmt.Sprintf("%s@%d", automationID, version), persistence.ErrTemplateNotFound)
		}

		return nil, fmt.Errorf("failed to scan template: %w", err)
	}

	return template, nil
}

func (r *TemplateRepository) Versions(ctx context.Context, automationID string) ([]*models.WorkflowTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM workflow_templates WHERE automation_id = $1 ORDER BY version DESC`

	rows, err := r.db.QueryContext(ctx, query, automationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	templates := make([]*models.WorkflowTemplate, 0)

	for rows.Next() {
		template, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}

		templates = append(templates, template)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating templates: %w", err)
	}

	return templates, nil
}

func (r *TemplateRepository) AutomationIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT automation_id FROM workflow_templates ORDER BY automation_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query automation ids: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	ids := make([]string, 0)

	for rows.Next() {
		var id string

		err := rows.Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("failed to scan automation id: %w", err)
		}

		ids = append(ids, id)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating automation ids: %w", err)
	}

	return ids, nil
}

func scanTemplate(row scanner) (*models.WorkflowTemplate, error) {
	var (
		template     models.WorkflowTemplate
		servicesJSON []byte
		definition   []byte
		bindingsJSON []byte
	)

	err := row.Scan(
		&template.AutomationID,
		&template.Version,
		&template.Name,
		&template.Description,
		&servicesJSON,
		&definition,
		&bindingsJSON,
		&template.PublishedAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(servicesJSON, &template.RequiredServices)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal required services: %w", err)
	}

	err = json.Unmarshal(bindingsJSON, &template.Bindings)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal bindings: %w", err)
	}

	template.Definition = json.RawMessage(definition)

	return &template, nil
}
