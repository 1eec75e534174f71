// Package testutil provides test data builders and shared repository checks.
package testutil

import (
	"encoding/json"
	"time"

	"github.com/dukex/provisioner/pkg/models"
	"github.com/google/uuid"
)

// NewPurchase creates an active monthly purchase with defaults that can be overridden.
func NewPurchase(overrides ...func(*models.Purchase)) *models.Purchase {
	purchase := &models.Purchase{
		ID:           uuid.NewString(),
		TenantID:     "acme",
		AutomationID: "fakturering",
		PackageTier:  "standard",
		BillingCycle: models.BillingMonthly,
		Status:       models.PurchaseStatusActive,
		PriceMinor:   149900,
		Currency:     "NOK",
	}

	for _, override := range overrides {
		override(purchase)
	}

	return purchase
}

// NewTemplate creates a template with one node using a tripletex credential placeholder.
func NewTemplate(overrides ...func(*models.WorkflowTemplate)) *models.WorkflowTemplate {
	template := &models.WorkflowTemplate{
		AutomationID:     "fakturering",
		Version:          1,
		Name:             "Fakturering",
		Description:      "Automated invoicing",
		RequiredServices: []string{"tripletex"},
		Definition: json.RawMessage(`{
			"nodes": [
				{
					"name": "Create invoice",
					"type": "tripletex.invoice",
					"parameters": {"token": "{{credential:tripletex_employee}}"}
				}
			],
			"connections": {}
		}`),
		Bindings: map[string]models.CredentialBinding{
			"tripletex_employee": {Service: "tripletex", Field: "employee_token"},
		},
	}

	for _, override := range overrides {
		override(template)
	}

	return template
}

// NewInstance creates a pending instance for the purchase.
func NewInstance(purchase *models.Purchase, overrides ...func(*models.WorkflowInstance)) *models.WorkflowInstance {
	instance := &models.WorkflowInstance{
		PurchaseID:   purchase.ID,
		TenantID:     purchase.TenantID,
		AutomationID: purchase.AutomationID,
		Status:       models.InstanceStatusPending,
		Health:       models.HealthUnknown,
		MaxRetries:   models.DefaultMaxRetries,
	}

	for _, override := range overrides {
		override(instance)
	}

	return instance
}

// WithExternalID sets the engine id and status of an instance.
func WithExternalID(externalID string, status models.InstanceStatus) func(*models.WorkflowInstance) {
	return func(i *models.WorkflowInstance) {
		i.ExternalID = &externalID
		i.Status = status
	}
}

// NewExecution creates a finished execution with the given status.
func NewExecution(status models.ExecutionStatus, startedAt time.Time, overrides ...func(*models.WorkflowExecution)) *models.WorkflowExecution {
	finishedAt := startedAt.Add(2 * time.Second)
	duration := int64(2000)

	execution := &models.WorkflowExecution{
		ID:             uuid.NewString(),
		ExternalID:     "wf-1",
		Status:         status,
		StartedAt:      startedAt,
		FinishedAt:     &finishedAt,
		DurationMs:     &duration,
		ItemsProcessed: 1,
	}

	if status == models.ExecutionStatusRunning {
		execution.FinishedAt = nil
		execution.DurationMs = nil
	}

	for _, override := range overrides {
		override(execution)
	}

	return execution
}

// Executions builds one execution per status, newest first, one minute apart.
func Executions(statuses ...models.ExecutionStatus) []models.WorkflowExecution {
	now := time.Now().UTC()
	executions := make([]models.WorkflowExecution, 0, len(statuses))

	for i, status := range statuses {
		executions = append(executions, *NewExecution(status, now.Add(-time.Duration(i)*time.Minute)))
	}

	return executions
}
