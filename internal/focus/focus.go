// Package focus defines the vendor-neutral cost line-item schema that every
// provider's native billing export is normalized into. The field set follows
// the FinOps Open Cost & Usage Specification (FOCUS).
package focus

import (
	"time"

	"github.com/costlens/backend/internal/model"
)

// ChargeCategory is the closed classification every provider-native charge
// type must map onto. Unrecognized native types map to USAGE so ingestion
// stays resilient to provider API drift.
type ChargeCategory string

const (
	ChargeCategoryUsage      ChargeCategory = "USAGE"
	ChargeCategoryPurchase   ChargeCategory = "PURCHASE"
	ChargeCategoryTax        ChargeCategory = "TAX"
	ChargeCategoryCredit     ChargeCategory = "CREDIT"
	ChargeCategoryAdjustment ChargeCategory = "ADJUSTMENT"
	ChargeCategorySupport    ChargeCategory = "SUPPORT"
)

// CostItem represents one billed unit of cloud usage in a vendor-neutral
// shape. ProviderName and ChargeCategory are always set; everything else is
// best effort from the source export.
type CostItem struct {
	// Identity / period. Start inclusive, End exclusive.
	BillingPeriodStart time.Time `json:"billing_period_start"`
	BillingPeriodEnd   time.Time `json:"billing_period_end"`

	// Classification. ChargeType retains the provider-native label for
	// traceability.
	ChargeCategory ChargeCategory `json:"charge_category"`
	ChargeType     string         `json:"charge_type"`

	// Monetary.
	BilledCost      float64        `json:"billed_cost"`
	EffectiveCost   float64        `json:"effective_cost"`
	ListCost        float64        `json:"list_cost,omitempty"`
	BillingCurrency model.Currency `json:"billing_currency"`

	// Resource context.
	ServiceCategory  string `json:"service_category,omitempty"`
	ServiceName      string `json:"service_name,omitempty"`
	RegionID         string `json:"region_id,omitempty"`
	RegionName       string `json:"region_name,omitempty"`
	AvailabilityZone string `json:"availability_zone,omitempty"`
	ResourceID       string `json:"resource_id,omitempty"`
	ResourceName     string `json:"resource_name,omitempty"`
	ResourceType     string `json:"resource_type,omitempty"`

	// Pricing / usage.
	PricingCategory string  `json:"pricing_category,omitempty"`
	PricingQuantity float64 `json:"pricing_quantity,omitempty"`
	PricingUnit     string  `json:"pricing_unit,omitempty"`
	UsageQuantity   float64 `json:"usage_quantity,omitempty"`
	UsageUnit       string  `json:"usage_unit,omitempty"`

	// Commitment linkage (Reserved Instance / Savings Plan).
	CommitmentDiscountID   string `json:"commitment_discount_id,omitempty"`
	CommitmentDiscountName string `json:"commitment_discount_name,omitempty"`
	CommitmentDiscountType string `json:"commitment_discount_type,omitempty"`

	// Provenance.
	ProviderName     model.Provider `json:"provider_name"`
	PublisherName    string         `json:"publisher_name,omitempty"`
	InvoiceSectionID string         `json:"invoice_section_id,omitempty"`
	SubAccountID     string         `json:"sub_account_id,omitempty"`
	SubAccountName   string         `json:"sub_account_name,omitempty"`

	Tags model.Tags `json:"tags,omitempty"`
}

// RawRecord is the opaque envelope for one provider-native billing record
// prior to normalization. It is produced by an adapter's GetCosts, consumed
// by the same adapter's NormalizeToFocus, and never persisted.
type RawRecord struct {
	Provider model.Provider
	Data     map[string]any
}
