package azure

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/costmanagement/armcostmanagement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/costlens/backend/internal/adapter"
	"github.com/costlens/backend/internal/focus"
	"github.com/costlens/backend/internal/model"
)

func testAdapter() *Adapter {
	return New(slog.Default())
}

func TestParseQueryResultMapsColumnsByName(t *testing.T) {
	result := armcostmanagement.QueryResult{
		Properties: &armcostmanagement.QueryProperties{
			Columns: []*armcostmanagement.QueryColumn{
				{Name: to.Ptr("Cost")},
				{Name: to.Ptr("UsageDate")},
				{Name: to.Ptr("ServiceName")},
				{Name: to.Ptr("ResourceId")},
				{Name: to.Ptr("ChargeType")},
				{Name: to.Ptr("Currency")},
			},
			Rows: [][]any{
				{42.5, float64(20250701), "Virtual Machines", "/subscriptions/s/vm1", "Usage", "USD"},
			},
		},
	}

	records := parseQueryResult(result)
	require.Len(t, records, 1)
	assert.Equal(t, model.ProviderAzure, records[0].Provider)
	assert.Equal(t, 42.5, records[0].Data["cost"])
	assert.Equal(t, "Virtual Machines", records[0].Data["service_name"])
	assert.Equal(t, "Usage", records[0].Data["charge_type"])
}

func TestParseQueryResultShuffledColumns(t *testing.T) {
	// Column order differs across API versions; mapping must survive it.
	result := armcostmanagement.QueryResult{
		Properties: &armcostmanagement.QueryProperties{
			Columns: []*armcostmanagement.QueryColumn{
				{Name: to.Ptr("ServiceName")},
				{Name: to.Ptr("Cost")},
			},
			Rows: [][]any{{"Storage", 7.0}},
		},
	}

	records := parseQueryResult(result)
	require.Len(t, records, 1)
	assert.Equal(t, "Storage", records[0].Data["service_name"])
	assert.Equal(t, 7.0, records[0].Data["cost"])
	assert.Nil(t, records[0].Data["currency"])
}

func TestNormalizeToFocus(t *testing.T) {
	a := testAdapter()
	items := a.NormalizeToFocus([]focus.RawRecord{
		{Provider: model.ProviderAzure, Data: map[string]any{
			"cost":         12.5,
			"usage_date":   float64(20250701),
			"service_name": "Virtual Machines",
			"resource_id":  "/subscriptions/s/resourceGroups/rg/providers/Microsoft.Compute/virtualMachines/vm1",
			"charge_type":  "Usage",
			"currency":     "EUR",
		}},
	})

	require.Len(t, items, 1)
	item := items[0]
	assert.Equal(t, model.ProviderAzure, item.ProviderName)
	assert.Equal(t, focus.ChargeCategoryUsage, item.ChargeCategory)
	assert.InDelta(t, 12.5, item.BilledCost, 1e-9)
	assert.Equal(t, model.Currency("EUR"), item.BillingCurrency)
	assert.Equal(t, "vm1", item.ResourceName)
	assert.Equal(t, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), item.BillingPeriodStart)
	assert.Equal(t, time.Date(2025, 7, 2, 0, 0, 0, 0, time.UTC), item.BillingPeriodEnd)
}

func TestNormalizeUnknownChargeTypeDefaultsToUsage(t *testing.T) {
	a := testAdapter()
	items := a.NormalizeToFocus([]focus.RawRecord{
		{Provider: model.ProviderAzure, Data: map[string]any{
			"cost":        1.0,
			"charge_type": "MysteryCharge",
		}},
	})

	require.Len(t, items, 1)
	assert.Equal(t, focus.ChargeCategoryUsage, items[0].ChargeCategory)
	assert.Equal(t, "MysteryCharge", items[0].ChargeType)
}

func TestNormalizeMalformedDefaults(t *testing.T) {
	a := testAdapter()
	items := a.NormalizeToFocus([]focus.RawRecord{
		{Provider: model.ProviderAzure, Data: map[string]any{}},
	})

	require.Len(t, items, 1)
	assert.Zero(t, items[0].BilledCost)
	assert.True(t, items[0].BillingPeriodStart.IsZero())
	assert.Equal(t, model.CurrencyUSD, items[0].BillingCurrency)
	assert.Equal(t, focus.ChargeCategoryUsage, items[0].ChargeCategory)
}

func TestChargeCategoryTable(t *testing.T) {
	tests := map[string]focus.ChargeCategory{
		"Usage":             focus.ChargeCategoryUsage,
		"Purchase":          focus.ChargeCategoryPurchase,
		"Tax":               focus.ChargeCategoryTax,
		"Refund":            focus.ChargeCategoryAdjustment,
		"UnusedReservation": focus.ChargeCategoryPurchase,
		"NewThing":          focus.ChargeCategoryUsage,
	}
	for chargeType, want := range tests {
		assert.Equal(t, want, chargeCategory(chargeType), "charge type %q", chargeType)
	}
}

func TestUsageDate(t *testing.T) {
	assert.Equal(t,
		time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		usageDate(map[string]any{"usage_date": float64(20250701)}),
	)
	assert.Equal(t,
		time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		usageDate(map[string]any{"usage_date": "2025-07-01"}),
	)
	assert.True(t, usageDate(map[string]any{"usage_date": "garbage"}).IsZero())
	assert.True(t, usageDate(map[string]any{}).IsZero())
}

func TestValidateCredentialsShape(t *testing.T) {
	a := testAdapter()
	ctx := context.Background()

	assert.False(t, a.ValidateCredentials(ctx, adapter.Credentials{}))
	assert.False(t, a.ValidateCredentials(ctx, adapter.Credentials{
		"clientId": "id", "clientSecret": "secret", "tenantId": "tenant",
	}))
}
