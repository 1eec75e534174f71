// Package templates resolves and publishes versioned workflow templates.
package templates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dukex/provisioner/pkg/credentials"
	"github.com/dukex/provisioner/pkg/models"
	"github.com/dukex/provisioner/pkg/persistence"
)

// ErrInvalidTemplate wraps every publish-time validation failure.
var ErrInvalidTemplate = errors.New("invalid template")

const publishAttempts = 3

var serviceNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Registry is the read and publish surface over the template catalog. The
// latest version is always derived from the stored versions.
type Registry struct {
	repo     persistence.TemplateRepository
	validate *validator.Validate
	logger   *slog.Logger
}

func NewRegistry(repo persistence.TemplateRepository, logger *slog.Logger) *Registry {
	return &Registry{
		repo:     repo,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With("module", "templates"),
	}
}

// Latest returns the highest version of an automation.
func (r *Registry) Latest(ctx context.Context, automationID string) (*models.WorkflowTemplate, error) {
	versions, err := r.repo.Versions(ctx, automationID)
	if err != nil {
		return nil, err
	}

	if len(versions) == 0 {
		return nil, persistence.NewEntityError("Latest", "template", automationID, persistence.ErrTemplateNotFound)
	}

	return versions[0], nil
}

// Versions returns every published version, highest first.
func (r *Registry) Versions(ctx context.Context, automationID string) ([]*models.WorkflowTemplate, error) {
	return r.repo.Versions(ctx, automationID)
}

func (r *Registry) Get(ctx context.Context, automationID string, version int) (*models.WorkflowTemplate, error) {
	return r.repo.Get(ctx, automationID, version)
}

// AvailableAutomations lists automation ids with at least one version, sorted.
func (r *Registry) AvailableAutomations(ctx context.Context) ([]string, error) {
	return r.repo.AutomationIDs(ctx)
}

func (r *Registry) RequiredServices(ctx context.Context, automationID string) ([]string, error) {
	latest, err := r.Latest(ctx, automationID)
	if err != nil {
		return nil, err
	}

	return slices.Clone(latest.RequiredServices), nil
}

// Publish validates tmpl and stores it as the next version of its automation.
// The version field of tmpl is overwritten.
func (r *Registry) Publish(ctx context.Context, tmpl *models.WorkflowTemplate) (*models.WorkflowTemplate, error) {
	err := r.Check(tmpl)
	if err != nil {
		return nil, err
	}

	for range publishAttempts {
		versions, err := r.repo.Versions(ctx, tmpl.AutomationID)
		if err != nil {
			return nil, err
		}

		tmpl.Version = 1
		if len(versions) > 0 {
			tmpl.Version = versions[0].Version + 1
		}

		err = r.repo.Insert(ctx, tmpl)
		if err == nil {
			r.logger.InfoContext(ctx, "published template",
				"automation_id", tmpl.AutomationID,
				"version", tmpl.Version,
			)

			return tmpl, nil
		}

		if !persistence.IsTemplateVersionExists(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("failed to publish %s after %d attempts: %w",
		tmpl.AutomationID, publishAttempts, persistence.ErrTemplateVersionExists)
}

// Check runs publish-time validation without storing anything.
func (r *Registry) Check(tmpl *models.WorkflowTemplate) error {
	problems := make([]string, 0)

	err := r.validate.Struct(tmpl)
	if err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			for _, fieldErr := range validationErrors {
				problems = append(problems, fmt.Sprintf("%s failed %s", fieldErr.Field(), fieldErr.Tag()))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}

	for _, service := range tmpl.RequiredServices {
		if !serviceNamePattern.MatchString(service) {
			problems = append(problems, fmt.Sprintf("service %q is not a valid service name", service))
		}
	}

	if tmpl.Definition != nil {
		problems = append(problems, r.checkDefinition(tmpl)...)
	}

	if len(problems) == 0 {
		return nil
	}

	return fmt.Errorf("%w: %s", ErrInvalidTemplate, strings.Join(problems, "; "))
}

func (r *Registry) checkDefinition(tmpl *models.WorkflowTemplate) []string {
	err := ValidateDefinition(tmpl.Definition)
	if err != nil {
		return []string{err.Error()}
	}

	names, err := Placeholders(tmpl.Definition)
	if err != nil {
		return []string{err.Error()}
	}

	problems := make([]string, 0)

	for _, name := range names {
		binding, ok := tmpl.Bindings[name]
		if !ok {
			problems = append(problems, fmt.Sprintf("placeholder %q has no binding", name))

			continue
		}

		if !tmpl.Requires(binding.Service) {
			problems = append(problems, fmt.Sprintf("placeholder %q binds service %q which is not required", name, binding.Service))

			continue
		}

		fields, known := credentials.Fields(binding.Service)
		if known && !slices.Contains(fields, binding.Field) {
			problems = append(problems, fmt.Sprintf("placeholder %q binds unknown field %q of %s", name, binding.Field, binding.Service))
		}
	}

	return problems
}

// Seed publishes every catalog automation that has no version yet.
func (r *Registry) Seed(ctx context.Context, catalog []*models.WorkflowTemplate) (int, error) {
	seeded := 0

	for _, tmpl := range catalog {
		versions, err := r.repo.Versions(ctx, tmpl.AutomationID)
		if err != nil {
			return seeded, err
		}

		if len(versions) > 0 {
			continue
		}

		_, err = r.Publish(ctx, tmpl)
		if err != nil {
			return seeded, fmt.Errorf("failed to seed %s: %w", tmpl.AutomationID, err)
		}

		seeded++
	}

	return seeded, nil
}
