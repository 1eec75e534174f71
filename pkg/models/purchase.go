package models

import "time"

// PurchaseStatus is the commercial state of a purchase.
type PurchaseStatus string

const (
	PurchaseStatusActive    PurchaseStatus = "active"
	PurchaseStatusPaused    PurchaseStatus = "paused"
	PurchaseStatusCancelled PurchaseStatus = "cancelled"
	PurchaseStatusExpired   PurchaseStatus = "expired"
)

// IsTerminal reports whether the purchase can no longer change.
func (s PurchaseStatus) IsTerminal() bool {
	return s == PurchaseStatusCancelled || s == PurchaseStatusExpired
}

// BillingCycle of a purchase.
type BillingCycle string

const (
	BillingMonthly BillingCycle = "monthly"
	BillingYearly  BillingCycle = "yearly"
)

// Purchase is created at checkout and drives onboarding.
type Purchase struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenant_id"       validate:"required"`
	AutomationID string         `json:"automation_id"   validate:"required"`
	PackageTier  string         `json:"package_tier"    validate:"required"`
	BillingCycle BillingCycle   `json:"billing_cycle"   validate:"required,oneof=monthly yearly"`
	Status       PurchaseStatus `json:"status"`
	PriceMinor   int64          `json:"price_minor"     validate:"min=0"`
	Currency     string         `json:"currency"        validate:"required,len=3"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
