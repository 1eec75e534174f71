package models

import (
	"slices"
	"time"
)

// OnboardingStep is a stage of the purchase-to-running flow.
type OnboardingStep string

const (
	StepPurchased             OnboardingStep = "purchased"
	StepIntegrationsPending   OnboardingStep = "integrations_pending"
	StepIntegrationsValidated OnboardingStep = "integrations_validated"
	StepReview                OnboardingStep = "review"
	StepActivated             OnboardingStep = "activated"
	StepCompleted             OnboardingStep = "completed"
)

var stepOrder = map[OnboardingStep]int{
	StepPurchased:             0,
	StepIntegrationsPending:   1,
	StepIntegrationsValidated: 2,
	StepReview:                3,
	StepActivated:             4,
	StepCompleted:             5,
}

// Rank is the position of the step in the flow.
func (s OnboardingStep) Rank() int {
	rank, ok := stepOrder[s]
	if !ok {
		return -1
	}

	return rank
}

// OnboardingProgress tracks one purchase through onboarding.
type OnboardingProgress struct {
	PurchaseID          string         `json:"purchase_id"`
	TenantID            string         `json:"tenant_id"`
	AutomationID        string         `json:"automation_id"`
	Step                OnboardingStep `json:"step"`
	RequiredServices    []string       `json:"required_services"`
	ConnectedServices   []string       `json:"connected_services"`
	ActivationRequested bool           `json:"activation_requested"`
	LastError           string         `json:"last_error,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// AllConnected reports whether every required service is connected.
func (p *OnboardingProgress) AllConnected() bool {
	for _, s := range p.RequiredServices {
		if !slices.Contains(p.ConnectedServices, s) {
			return false
		}
	}

	return true
}

// MissingServices lists required services that are not connected.
func (p *OnboardingProgress) MissingServices() []string {
	missing := make([]string, 0)

	for _, s := range p.RequiredServices {
		if !slices.Contains(p.ConnectedServices, s) {
			missing = append(missing, s)
		}
	}

	return missing
}

// CanAdvanceTo reports whether progress may move to next. Moving backwards is
// always allowed; moving past integrations_validated requires every required
// service to be connected.
func (p *OnboardingProgress) CanAdvanceTo(next OnboardingStep) bool {
	if next.Rank() < 0 {
		return false
	}

	if next.Rank() <= p.Step.Rank() {
		return true
	}

	if next.Rank() > StepIntegrationsPending.Rank() && !p.AllConnected() {
		return false
	}

	return next.Rank() == p.Step.Rank()+1
}
