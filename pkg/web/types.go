// Package web provides HTTP request and response types for the provisioning API.
package web

import (
	"time"

	"github.com/dukex/provisioner/pkg/models"
)

// ValidateIntegrationRequest represents the request body for validating one service's credentials.
type ValidateIntegrationRequest struct {
	Service     string            `json:"service"     validate:"required"`
	Credentials map[string]string `json:"credentials" validate:"required"`
}

// ReadinessRequest represents the request body for checking an automation's credentials.
type ReadinessRequest struct {
	RequiredServices []string                     `json:"required_services" validate:"required,min=1,dive,required"`
	Credentials      map[string]map[string]string `json:"credentials"`
}

// EnqueueRequest represents the request body for queueing a lifecycle action.
type EnqueueRequest struct {
	Action  models.JobAction `json:"action"  validate:"required"`
	Payload map[string]any   `json:"payload"`
}

// CreatePurchaseRequest represents a checkout that starts onboarding.
type CreatePurchaseRequest struct {
	TenantID     string              `json:"tenant_id"     validate:"required"`
	AutomationID string              `json:"automation_id" validate:"required"`
	PackageTier  string              `json:"package_tier"  validate:"required"`
	BillingCycle models.BillingCycle `json:"billing_cycle" validate:"required,oneof=monthly yearly"`
	PriceMinor   int64               `json:"price_minor"   validate:"min=0"`
	Currency     string              `json:"currency"      validate:"required,len=3"`
}

func (r CreatePurchaseRequest) Purchase() *models.Purchase {
	return &models.Purchase{
		TenantID:     r.TenantID,
		AutomationID: r.AutomationID,
		PackageTier:  r.PackageTier,
		BillingCycle: r.BillingCycle,
		Status:       models.PurchaseStatusActive,
		PriceMinor:   r.PriceMinor,
		Currency:     r.Currency,
	}
}

// SubmitCredentialsRequest represents the credentials a customer enters during onboarding.
type SubmitCredentialsRequest struct {
	Service     string            `json:"service"     validate:"required"`
	Credentials map[string]string `json:"credentials" validate:"required,min=1"`
}

// AutomationResponse summarizes the latest version of an automation.
type AutomationResponse struct {
	AutomationID     string   `json:"automation_id"`
	Name             string   `json:"name"`
	Description      string   `json:"description"`
	LatestVersion    int      `json:"latest_version"`
	RequiredServices []string `json:"required_services"`
}

func TransformAutomationResponse(template *models.WorkflowTemplate) AutomationResponse {
	return AutomationResponse{
		AutomationID:     template.AutomationID,
		Name:             template.Name,
		Description:      template.Description,
		LatestVersion:    template.Version,
		RequiredServices: template.RequiredServices,
	}
}

// TemplateVersionResponse describes one published version without its definition.
type TemplateVersionResponse struct {
	Version          int       `json:"version"`
	Name             string    `json:"name"`
	RequiredServices []string  `json:"required_services"`
	PublishedAt      time.Time `json:"published_at"`
}

func TransformTemplateVersions(versions []*models.WorkflowTemplate) []TemplateVersionResponse {
	response := make([]TemplateVersionResponse, 0, len(versions))
	for _, v := range versions {
		response = append(response, TemplateVersionResponse{
			Version:          v.Version,
			Name:             v.Name,
			RequiredServices: v.RequiredServices,
			PublishedAt:      v.PublishedAt,
		})
	}

	return response
}
