package aws

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/costlens/backend/internal/adapter"
	"github.com/costlens/backend/internal/focus"
	"github.com/costlens/backend/internal/model"
)

func testAdapter() *Adapter {
	return New(slog.Default())
}

func rawRecord(recordType string, overrides map[string]any) focus.RawRecord {
	data := map[string]any{
		"time_period_start": "2025-07-01",
		"time_period_end":   "2025-07-02",
		"service":           "Amazon EC2",
		"record_type":       recordType,
		"unblended_cost":    "12.34",
		"currency":          "USD",
	}
	for k, v := range overrides {
		data[k] = v
	}
	return focus.RawRecord{Provider: model.ProviderAWS, Data: data}
}

func TestNormalizeChargeCategories(t *testing.T) {
	a := testAdapter()
	items := a.NormalizeToFocus([]focus.RawRecord{
		rawRecord("Usage", nil),
		rawRecord("Tax", nil),
		rawRecord("FooBarFee", nil),
	})

	require.Len(t, items, 3)
	assert.Equal(t, focus.ChargeCategoryUsage, items[0].ChargeCategory)
	assert.Equal(t, focus.ChargeCategoryTax, items[1].ChargeCategory)
	assert.Equal(t, focus.ChargeCategoryUsage, items[2].ChargeCategory)
	for _, item := range items {
		assert.Equal(t, model.ProviderAWS, item.ProviderName)
	}
	assert.Equal(t, "FooBarFee", items[2].ChargeType)
}

func TestNormalizeFields(t *testing.T) {
	a := testAdapter()
	items := a.NormalizeToFocus([]focus.RawRecord{
		rawRecord("DiscountedUsage", map[string]any{
			"net_unblended_cost": "10.00",
			"usage_quantity":     "730",
			"usage_unit":         "Hrs",
		}),
	})

	require.Len(t, items, 1)
	item := items[0]
	assert.Equal(t, focus.ChargeCategoryUsage, item.ChargeCategory)
	assert.InDelta(t, 12.34, item.BilledCost, 1e-9)
	assert.InDelta(t, 10.00, item.EffectiveCost, 1e-9)
	assert.InDelta(t, 730, item.UsageQuantity, 1e-9)
	assert.Equal(t, "Hrs", item.UsageUnit)
	assert.Equal(t, "Amazon EC2", item.ServiceName)
	assert.Equal(t, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), item.BillingPeriodStart)
	assert.Equal(t, model.CurrencyUSD, item.BillingCurrency)
}

func TestNormalizeMalformedRecordDefaults(t *testing.T) {
	a := testAdapter()
	items := a.NormalizeToFocus([]focus.RawRecord{
		rawRecord("Usage", nil),
		{Provider: model.ProviderAWS, Data: map[string]any{
			"record_type":    "Usage",
			"unblended_cost": "not-a-number",
		}},
		rawRecord("Credit", nil),
	})

	require.Len(t, items, 3)
	malformed := items[1]
	assert.Zero(t, malformed.BilledCost)
	assert.True(t, malformed.BillingPeriodStart.IsZero())
	assert.Equal(t, focus.ChargeCategoryUsage, malformed.ChargeCategory)
	assert.Equal(t, model.CurrencyUSD, malformed.BillingCurrency)
}

func TestNormalizeStripsUserTagPrefix(t *testing.T) {
	a := testAdapter()
	items := a.NormalizeToFocus([]focus.RawRecord{
		rawRecord("Usage", map[string]any{
			"tags": map[string]any{
				"user:team":        "payments",
				"aws:createdBy":    "iam-user",
				"user:cost-center": "cc-42",
			},
		}),
	})

	require.Len(t, items, 1)
	assert.Equal(t, "payments", items[0].Tags["team"])
	assert.Equal(t, "cc-42", items[0].Tags["cost-center"])
	assert.Equal(t, "iam-user", items[0].Tags["aws:createdBy"])
}

func TestNormalizeEmptyInput(t *testing.T) {
	a := testAdapter()
	assert.Empty(t, a.NormalizeToFocus(nil))
}

func TestValidateCredentialsShape(t *testing.T) {
	a := testAdapter()
	ctx := context.Background()

	// Shape failures return before any network call.
	assert.False(t, a.ValidateCredentials(ctx, adapter.Credentials{}))
	assert.False(t, a.ValidateCredentials(ctx, adapter.Credentials{"accessKeyId": "AKIA"}))
	assert.False(t, a.ValidateCredentials(ctx, adapter.Credentials{"secretAccessKey": "s3cret"}))
}

func TestChargeCategoryTable(t *testing.T) {
	tests := map[string]focus.ChargeCategory{
		"Usage":                   focus.ChargeCategoryUsage,
		"DiscountedUsage":         focus.ChargeCategoryUsage,
		"SavingsPlanCoveredUsage": focus.ChargeCategoryUsage,
		"Tax":                     focus.ChargeCategoryTax,
		"Credit":                  focus.ChargeCategoryCredit,
		"Refund":                  focus.ChargeCategoryAdjustment,
		"Fee":                     focus.ChargeCategoryPurchase,
		"RIFee":                   focus.ChargeCategoryPurchase,
		"SavingsPlanRecurringFee": focus.ChargeCategoryPurchase,
		"Support":                 focus.ChargeCategorySupport,
		"SomethingNew":            focus.ChargeCategoryUsage,
		"":                        focus.ChargeCategoryUsage,
	}
	for recordType, want := range tests {
		assert.Equal(t, want, chargeCategory(recordType), "record type %q", recordType)
	}
}

func TestBuildFilter(t *testing.T) {
	assert.Nil(t, buildFilter(nil))
	assert.Nil(t, buildFilter(map[string][]string{}))

	single := buildFilter(map[string][]string{"service": {"Amazon EC2"}})
	require.NotNil(t, single)
	require.NotNil(t, single.Dimensions)
	assert.Equal(t, []string{"Amazon EC2"}, single.Dimensions.Values)

	combined := buildFilter(map[string][]string{
		"service": {"Amazon EC2"},
		"region":  {"us-east-1"},
	})
	require.NotNil(t, combined)
	assert.Len(t, combined.And, 2)
}
