package file

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strconv"

	"github.com/dukex/provisioner/pkg/models"
	"github.com/dukex/provisioner/pkg/persistence"
	"github.com/google/uuid"
)

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate ID: %w", err)
	}

	return id.String(), nil
}

// CredentialRepository stores credentials keyed by tenant and service.
type CredentialRepository struct {
	store *store
}

func credentialKey(tenantID, service string) string {
	return tenantID + "/" + service
}

func (r *CredentialRepository) Save(_ context.Context, credential *models.IntegrationCredential) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	items, err := load[models.IntegrationCredential](r.store, credentialsCollection)
	if err != nil {
		return err
	}

	key := credentialKey(credential.TenantID, credential.Service)
	now := r.store.now()

	if existing, ok := items[key]; ok {
		credential.ID = existing.ID
		credential.CreatedAt = existing.CreatedAt
	}

	if credential.ID == "" {
		credential.ID, err = newID()
		if err != nil {
			return err
		}
	}

	if credential.CreatedAt.IsZero() {
		credential.CreatedAt = now
	}

	credential.UpdatedAt = now
	items[key] = credential

	return persist(r.store, credentialsCollection, items)
}

func (r *CredentialRepository) Get(_ context.Context, tenantID, service string) (*models.IntegrationCredential, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	items, err := load[models.IntegrationCredential](r.store, credentialsCollection)
	if err != nil {
		return nil, err
	}

	credential, ok := items[credentialKey(tenantID, service)]
	if !ok {
		return nil, persistence.NewEntityError("Get", "credential", credentialKey(tenantID, service), persistence.ErrCredentialNotFound)
	}

	return credential, nil
}

func (r *CredentialRepository) ListByTenant(_ context.Context, tenantID string) ([]*models.IntegrationCredential, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	items, err := load[models.IntegrationCredential](r.store, credentialsCollection)
	if err != nil {
		return nil, err
	}

	credentials := make([]*models.IntegrationCredential, 0)

	for _, credential := range items {
		if credential.TenantID == tenantID {
			credentials = append(credentials, credential)
		}
	}

	sort.Slice(credentials, func(i, j int) bool { return credentials[i].Service < credentials[j].Service })

	return credentials, nil
}

type PurchaseRepository struct {
	store *store
}

func (r *PurchaseRepository) Save(_ context.Context, purchase *models.Purchase) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	items, err := load[models.Purchase](r.store, purchasesCollection)
	if err != nil {
		return err
	}

	if purchase.ID == "" {
		purchase.ID, err = newID()
		if err != nil {
			return err
		}
	}

	now := r.store.now()
	if purchase.CreatedAt.IsZero() {
		purchase.CreatedAt = now
	}

	purchase.UpdatedAt = now
	items[purchase.ID] = purchase

	return persist(r.store, purchasesCollection, items)
}

func (r *PurchaseRepository) GetByID(_ context.Context, id string) (*models.Purchase, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	items, err := load[models.Purchase](r.store, purchasesCollection)
	if err != nil {
		return nil, err
	}

	purchase, ok := items[id]
	if !ok {
		return nil, persistence.NewEntityError("GetByID", "purchase", id, persistence.ErrPurchaseNotFound)
	}

	return purchase, nil
}

func (r *PurchaseRepository) ListByTenant(_ context.Context, tenantID string) ([]*models.Purchase, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	items, err := load[models.Purchase](r.store, purchasesCollection)
	if err != nil {
		return nil, err
	}

	purchases := make([]*models.Purchase, 0)

	for _, purchase := range items {
		if purchase.TenantID == tenantID {
			purchases = append(purchases, purchase)
		}
	}

	sort.Slice(purchases, func(i, j int) bool { return purchases[i].CreatedAt.After(purchases[j].CreatedAt) })

	return purchases, nil
}

// TemplateRepository keeps template versions keyed by "<automation>@<version>".
type TemplateRepository struct {
	store *store
}

func templateKey(automationID string, version int) string {
	return automationID + "@" + strconv.Itoa(version)
}

func (r *TemplateRepository) Insert(_ context.Context, template *models.WorkflowTemplate) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	items, err := load[models.WorkflowTemplate](r.store, templatesCollection)
	if err != nil {
		return err
	}

	key := templateKey(template.AutomationID, template.Version)
	if _, exists := items[key]; exists {
		return persistence.NewEntityError("Insert", "template", key, persistence.ErrTemplateVersionExists)
	}

	if template.PublishedAt.IsZero() {
		template.PublishedAt = r.store.now()
	}

	items[key] = template

	return persist(r.store, templatesCollection, items)
}

func (r *TemplateRepository) Get(_ context.Context, automationID string, version int) (*models.WorkflowTemplate, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	items, err := load[models.WorkflowTemplate](r.store, templatesCollection)
	if err != nil {
		return nil, err
	}

	template, ok := items[templateKey(automationID, version)]
	if !ok {
		return nil, persistence.NewEntityError("Get", "template", templateKey(automationID, version), persistence.ErrTemplateNotFound)
	}

	return template, nil
}

func (r *TemplateRepository) Versions(_ context.Context, automationID string) ([]*models.WorkflowTemplate, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	items, err := load[models.WorkflowTemplate](r.store, templatesCollection)
	if err != nil {
		return nil, err
	}

	templates := make([]*models.WorkflowTemplate, 0)

	for _, template := range items {
		if template.AutomationID == automationID {
			templates = append(templates, template)
		}
	}

	sort.Slice(templates, func(i, j int) bool { return templates[i].Version > templates[j].Version })

	return templates, nil
}

func (r *TemplateRepository) AutomationIDs(_ context.Context) ([]string, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	items, err := load[models.WorkflowTemplate](r.store, templatesCollection)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0)

	for _, template := range items {
		if !slices.Contains(ids, template.AutomationID) {
			ids = append(ids, template.AutomationID)
		}
	}

	sort.Strings(ids)

	return ids, nil
}

type InstanceRepository struct {
	store *store
}

func (r *InstanceRepository) Save(_ context.Context, instance *models.WorkflowInstance) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	items, err := load[models.WorkflowInstance](r.store, instancesCollection)
	if err != nil {
		return err
	}

	if instance.ID == "" {
		for _, existing := range items {
			if existing.PurchaseID == instance.PurchaseID {
				return fmt.Errorf("instance for purchase %s already exists", instance.PurchaseID)
			}
		}

		instance.ID, err = newID()
		if err != nil {
			return err
		}
	}

	now := r.store.now()
	if instance.CreatedAt.IsZero() {
		instance.CreatedAt = now
	}

	instance.UpdatedAt = now
	items[instance.ID] = instance

	return persist(r.store, instancesCollection, items)
}

func (r *InstanceRepository) GetByID(_ context.Context, id string) (*models.WorkflowInstance, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	items, err := load[models.WorkflowInstance](r.store, instancesCollection)
	if err != nil {
		return nil, err
	}

	instance, ok := items[id]
	if !ok {
		return nil, persistence.NewEntityError("GetByID", "instance", id, persistence.ErrInstanceNotFound)
	}

	return instance, nil
}

func (r *InstanceRepository) GetByPurchase(_ context.Context, purchaseID string) (*models.WorkflowInstance, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	items, err := load[models.WorkflowInstance](r.store, instancesCollection)
	if err != nil {
		return nil, err
	}

	for _, instance := range items {
		if instance.PurchaseID == purchaseID {
			return instance, nil
		}
	}

	return nil, persistence.NewEntityError("GetByPurchase", "instance", purchaseID, persistence.ErrInstanceNotFound)
}

func (r *InstanceRepository) List(_ context.Context, filter persistence.InstanceFilter) ([]*models.WorkflowInstance, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	items, err := load[models.WorkflowInstance](r.store, instancesCollection)
	if err != nil {
		return nil, err
	}

	instances := make([]*models.WorkflowInstance, 0)

	for _, instance := range items {
		if filter.TenantID != "" && instance.TenantID != filter.TenantID {
			continue
		}

		if filter.Status != "" && instance.Status != filter.Status {
			continue
		}

		instances = append(instances, instance)
	}

	sort.Slice(instances, func(i, j int) bool { return instances[i].CreatedAt.Before(instances[j].CreatedAt) })

	return instances, nil
}

type ExecutionRepository struct {
	store *store
}

func (r *ExecutionRepository) Record(_ context.Context, execution *models.WorkflowExecution) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	items, err := load[models.WorkflowExecution](r.store, executionsCollection)
	if err != nil {
		return err
	}

	if existing, ok := items[execution.ID]; ok && existing.FinishedAt != nil {
		return nil
	}

	items[execution.ID] = execution

	return persist(r.store, executionsCollection, items)
}

func (r *ExecutionRepository) ListByInstance(_ context.Context, instanceID string, limit int) ([]*models.WorkflowExecution, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	items, err := load[models.WorkflowExecution](r.store, executionsCollection)
	if err != nil {
		return nil, err
	}

	executions := make([]*models.WorkflowExecution, 0)

	for _, execution := range items {
		if execution.InstanceID == instanceID {
			executions = append(executions, execution)
		}
	}

	sort.Slice(executions, func(i, j int) bool { return executions[i].StartedAt.After(executions[j].StartedAt) })

	if limit > 0 && len(executions) > limit {
		executions = executions[:limit]
	}

	return executions, nil
}

type OnboardingRepository struct {
	store *store
}

func (r *OnboardingRepository) Save(_ context.Context, progress *models.OnboardingProgress) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	items, err := load[models.OnboardingProgress](r.store, onboardingCollection)
	if err != nil {
		return err
	}

	now := r.store.now()
	if progress.CreatedAt.IsZero() {
		progress.CreatedAt = now
	}

	progress.UpdatedAt = now
	items[progress.PurchaseID] = progress

	return persist(r.store, onboardingCollection, items)
}

func (r *OnboardingRepository) Get(_ context.Context, purchaseID string) (*models.OnboardingProgress, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	items, err := load[models.OnboardingProgress](r.store, onboardingCollection)
	if err != nil {
		return nil, err
	}

	progress, ok := items[purchaseID]
	if !ok {
		return nil, persistence.NewEntityError("Get", "onboarding", purchaseID, persistence.ErrOnboardingNotFound)
	}

	return progress, nil
}
