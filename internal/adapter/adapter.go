// Package adapter defines the provider-agnostic contract that every cloud
// billing integration implements, the registry that resolves provider
// identifiers to adapter singletons, and the structured error taxonomy the
// job queue's retry policy branches on.
package adapter

import (
	"context"
	"time"

	"github.com/costlens/backend/internal/focus"
	"github.com/costlens/backend/internal/model"
)

// Credentials is the decrypted credential map for one cloud account. The
// required keys are provider-specific (see model.CredentialKeys).
type Credentials map[string]string

// CostParams defines parameters for a raw cost fetch. StartDate is
// inclusive, EndDate exclusive.
type CostParams struct {
	StartDate   time.Time
	EndDate     time.Time
	Granularity model.Granularity
	Filters     map[string][]string
}

// CloudAdapter is the contract implemented per provider. Adapters hold no
// per-account state: credentials travel with each call, so a single
// registered instance is safe to share across concurrent jobs.
type CloudAdapter interface {
	// Provider returns the provider tag this adapter serves.
	Provider() model.Provider

	// GetCosts fetches raw provider-native billing records for the window.
	// An empty window is not an error: it returns an empty slice. Credential
	// and throttling failures come back as *Error with KindAuth or
	// KindRateLimit.
	GetCosts(ctx context.Context, creds Credentials, params CostParams) ([]focus.RawRecord, error)

	// NormalizeToFocus maps raw records into FOCUS line items. It is pure:
	// no network calls, same input yields same output. Malformed records are
	// defaulted (zero cost, USAGE category), never dropped and never a
	// reason to fail the batch.
	NormalizeToFocus(raw []focus.RawRecord) []focus.CostItem

	// ValidateCredentials checks the credential map. The shape check is
	// mandatory and side-effect free; implementations may follow up with a
	// live identity call, whose failure must surface as false, never as an
	// error.
	ValidateCredentials(ctx context.Context, creds Credentials) bool
}

// Resource describes one billable resource discovered in the provider.
type Resource struct {
	ID     string     `json:"id"`
	Name   string     `json:"name,omitempty"`
	Type   string     `json:"type"`
	Region string     `json:"region,omitempty"`
	Tags   model.Tags `json:"tags,omitempty"`
}

// ResourceLister is the optional resource-inventory capability. Callers
// discover support with a type assertion; absence means "unsupported for
// this provider", not an error.
type ResourceLister interface {
	ListResources(ctx context.Context, creds Credentials) ([]Resource, error)
}

// Recommendation is one provider-sourced cost optimization suggestion.
type Recommendation struct {
	ID               string  `json:"id"`
	Type             string  `json:"type"`
	ResourceID       string  `json:"resource_id,omitempty"`
	ResourceType     string  `json:"resource_type"`
	Description      string  `json:"description"`
	EstimatedSavings float64 `json:"estimated_savings"`
	Currency         string  `json:"currency"`
}

// RecommendationFetcher is the optional recommendations capability,
// discovered the same way as ResourceLister.
type RecommendationFetcher interface {
	GetRecommendations(ctx context.Context, creds Credentials) ([]Recommendation, error)
}
