// Package model contains the core domain entities for CostLens.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Provider identifies a supported cloud provider.
type Provider string

const (
	ProviderAWS        Provider = "AWS"
	ProviderAzure      Provider = "AZURE"
	ProviderGCP        Provider = "GCP"
	ProviderKubernetes Provider = "KUBERNETES"
)

// Currency represents monetary currency codes.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
)

// Granularity represents time granularity for cost data.
type Granularity string

const (
	GranularityDaily   Granularity = "DAILY"
	GranularityMonthly Granularity = "MONTHLY"
)

// DateRange represents a time period. Start is inclusive, End exclusive.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Tags represents user-defined cost-allocation tags.
type Tags map[string]string

// BaseEntity contains common fields for all entities.
type BaseEntity struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NewBaseEntity creates a new BaseEntity with generated ID and timestamps.
func NewBaseEntity() BaseEntity {
	now := time.Now().UTC()
	return BaseEntity{
		ID:        uuid.New(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}
