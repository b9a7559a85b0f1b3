// Package azure implements the CloudAdapter contract against the Azure Cost
// Management query API.
package azure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/costmanagement/armcostmanagement"

	"github.com/costlens/backend/internal/adapter"
	"github.com/costlens/backend/internal/focus"
	"github.com/costlens/backend/internal/model"
)

const dateLayout = "2006-01-02"

// chargeCategories maps Azure ChargeType values onto the closed FOCUS enum.
// Unlisted values fall back to USAGE.
var chargeCategories = map[string]focus.ChargeCategory{
	"usage":             focus.ChargeCategoryUsage,
	"purchase":          focus.ChargeCategoryPurchase,
	"tax":               focus.ChargeCategoryTax,
	"refund":            focus.ChargeCategoryAdjustment,
	"credit":            focus.ChargeCategoryCredit,
	"unusedreservation": focus.ChargeCategoryPurchase,
	"unusedsavingsplan": focus.ChargeCategoryPurchase,
}

// Adapter implements adapter.CloudAdapter for Azure. Stateless; a query
// client is built per call from the account's service principal.
type Adapter struct {
	logger *slog.Logger
}

// New creates the Azure adapter.
func New(logger *slog.Logger) *Adapter {
	return &Adapter{logger: logger}
}

// Provider returns the Azure provider tag.
func (a *Adapter) Provider() model.Provider { return model.ProviderAzure }

// GetCosts runs an ActualCost query scoped to the account's subscription,
// grouped by service, resource, and charge type.
func (a *Adapter) GetCosts(ctx context.Context, creds adapter.Credentials, params adapter.CostParams) ([]focus.RawRecord, error) {
	client, err := a.newQueryClient(creds)
	if err != nil {
		return nil, adapter.NewAuthError(model.ProviderAzure, err)
	}

	granularity := armcostmanagement.GranularityTypeDaily
	if params.Granularity == model.GranularityMonthly {
		granularity = armcostmanagement.GranularityType("Monthly")
	}

	scope := fmt.Sprintf("/subscriptions/%s", creds["subscriptionId"])
	query := armcostmanagement.QueryDefinition{
		Type:      to.Ptr(armcostmanagement.ExportTypeActualCost),
		Timeframe: to.Ptr(armcostmanagement.TimeframeTypeCustom),
		TimePeriod: &armcostmanagement.QueryTimePeriod{
			From: to.Ptr(params.StartDate),
			// The query API treats To as inclusive; the fetch window's end is
			// exclusive.
			To: to.Ptr(params.EndDate.Add(-24 * time.Hour)),
		},
		Dataset: &armcostmanagement.QueryDataset{
			Granularity: to.Ptr(granularity),
			Aggregation: map[string]*armcostmanagement.QueryAggregation{
				"totalCost": {
					Name:     to.Ptr("Cost"),
					Function: to.Ptr(armcostmanagement.FunctionTypeSum),
				},
			},
			Grouping: []*armcostmanagement.QueryGrouping{
				{Type: to.Ptr(armcostmanagement.QueryColumnTypeDimension), Name: to.Ptr("ServiceName")},
				{Type: to.Ptr(armcostmanagement.QueryColumnTypeDimension), Name: to.Ptr("ResourceId")},
				{Type: to.Ptr(armcostmanagement.QueryColumnTypeDimension), Name: to.Ptr("ChargeType")},
			},
		},
	}

	a.logger.Info("fetching Azure costs",
		"subscription", creds["subscriptionId"],
		"start", params.StartDate.Format(dateLayout),
		"end", params.EndDate.Format(dateLayout),
	)

	result, err := client.Usage(ctx, scope, query, nil)
	if err != nil {
		return nil, classify(err)
	}

	return parseQueryResult(result.QueryResult), nil
}

// parseQueryResult flattens the columnar query response into raw records.
// Column positions are not stable across API versions, so they are resolved
// by name.
func parseQueryResult(result armcostmanagement.QueryResult) []focus.RawRecord {
	if result.Properties == nil {
		return nil
	}

	index := make(map[string]int, len(result.Properties.Columns))
	for i, col := range result.Properties.Columns {
		if col != nil && col.Name != nil {
			index[strings.ToLower(*col.Name)] = i
		}
	}

	cell := func(row []any, name string) any {
		i, ok := index[name]
		if !ok || i >= len(row) {
			return nil
		}
		return row[i]
	}

	records := make([]focus.RawRecord, 0, len(result.Properties.Rows))
	for _, row := range result.Properties.Rows {
		data := map[string]any{
			"cost":         cell(row, "cost"),
			"usage_date":   cell(row, "usagedate"),
			"service_name": cell(row, "servicename"),
			"resource_id":  cell(row, "resourceid"),
			"charge_type":  cell(row, "chargetype"),
			"currency":     cell(row, "currency"),
		}
		records = append(records, focus.RawRecord{Provider: model.ProviderAzure, Data: data})
	}
	return records
}

// NormalizeToFocus maps Cost Management rows into FOCUS line items. Usage
// dates arrive as numeric YYYYMMDD values.
func (a *Adapter) NormalizeToFocus(raw []focus.RawRecord) []focus.CostItem {
	items := make([]focus.CostItem, 0, len(raw))
	for _, r := range raw {
		cost := adapter.RawFloat(r.Data, "cost")
		start := usageDate(r.Data)

		currency := model.Currency(adapter.RawString(r.Data, "currency"))
		if currency == "" {
			currency = model.CurrencyUSD
		}

		chargeType := adapter.RawString(r.Data, "charge_type")
		resourceID := adapter.RawString(r.Data, "resource_id")

		items = append(items, focus.CostItem{
			BillingPeriodStart: start,
			BillingPeriodEnd:   billingPeriodEnd(start),
			ChargeCategory:     chargeCategory(chargeType),
			ChargeType:         chargeType,
			BilledCost:         cost,
			EffectiveCost:      cost,
			BillingCurrency:    currency,
			ServiceName:        adapter.RawString(r.Data, "service_name"),
			ResourceID:         resourceID,
			ResourceName:       resourceNameFromID(resourceID),
			ProviderName:       model.ProviderAzure,
			Tags:               adapter.RawTags(r.Data, "tags", ""),
		})
	}
	return items
}

// ValidateCredentials checks the service principal shape, then attempts a
// token acquisition against the ARM scope.
func (a *Adapter) ValidateCredentials(ctx context.Context, creds adapter.Credentials) bool {
	if !model.HasCredentialShape(model.ProviderAzure, creds) {
		return false
	}
	cred, err := a.newCredential(creds)
	if err != nil {
		return false
	}
	callCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	_, err = cred.GetToken(callCtx, policy.TokenRequestOptions{
		Scopes: []string{"https://management.azure.com/.default"},
	})
	if err != nil {
		a.logger.Warn("Azure credential check failed", "error", err)
		return false
	}
	return true
}

func (a *Adapter) newCredential(creds adapter.Credentials) (*azidentity.ClientSecretCredential, error) {
	cred, err := azidentity.NewClientSecretCredential(
		creds["tenantId"], creds["clientId"], creds["clientSecret"], nil,
	)
	if err != nil {
		return nil, fmt.Errorf("azure: failed to build credential: %w", err)
	}
	return cred, nil
}

func (a *Adapter) newQueryClient(creds adapter.Credentials) (*armcostmanagement.QueryClient, error) {
	cred, err := a.newCredential(creds)
	if err != nil {
		return nil, err
	}
	client, err := armcostmanagement.NewQueryClient(cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azure: failed to build query client: %w", err)
	}
	return client, nil
}

// classify turns ARM failures into tagged pipeline errors by HTTP status.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return adapter.NewTimeoutError(model.ProviderAzure, err)
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case 429:
			return adapter.NewRateLimitError(model.ProviderAzure, err)
		case 401, 403:
			return adapter.NewAuthError(model.ProviderAzure, err)
		}
	}
	return fmt.Errorf("azure: cost query failed: %w", err)
}

func chargeCategory(chargeType string) focus.ChargeCategory {
	if c, ok := chargeCategories[strings.ToLower(chargeType)]; ok {
		return c
	}
	return focus.ChargeCategoryUsage
}

// usageDate parses the UsageDate column, which arrives as a numeric
// YYYYMMDD (sometimes a string).
func usageDate(data map[string]any) time.Time {
	switch v := data["usage_date"].(type) {
	case float64:
		t, err := time.Parse("20060102", fmt.Sprintf("%08.0f", v))
		if err != nil {
			return time.Time{}
		}
		return t
	case string:
		for _, layout := range []string{"20060102", dateLayout, time.RFC3339} {
			if t, err := time.Parse(layout, v); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

func billingPeriodEnd(start time.Time) time.Time {
	if start.IsZero() {
		return start
	}
	return start.Add(24 * time.Hour)
}

// resourceNameFromID extracts the trailing segment of an ARM resource ID.
func resourceNameFromID(id string) string {
	if id == "" {
		return ""
	}
	parts := strings.Split(id, "/")
	return parts[len(parts)-1]
}
