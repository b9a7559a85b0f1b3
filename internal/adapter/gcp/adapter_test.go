package gcp

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

func TestGetCostsReturnsEmptyWithoutExport(t *testing.T) {
	a := testAdapter()
	records, err := a.GetCosts(context.Background(), adapter.Credentials{"projectId": "p"}, adapter.CostParams{
		StartDate: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestNormalizeToFocus(t *testing.T) {
	a := testAdapter()
	items := a.NormalizeToFocus([]focus.RawRecord{
		{Provider: model.ProviderGCP, Data: map[string]any{
			"cost":                5.0,
			"credits_total":       -1.5,
			"cost_type":           "regular",
			"usage_start_time":    "2025-07-01T00:00:00Z",
			"usage_end_time":      "2025-07-02T00:00:00Z",
			"service_description": "Compute Engine",
			"project_id":          "my-project",
			"usage_amount":        "24",
			"usage_unit":          "hour",
			"labels": map[string]any{
				"labels.env":  "prod",
				"labels.team": "data",
			},
		}},
	})

	require.Len(t, items, 1)
	item := items[0]
	assert.Equal(t, model.ProviderGCP, item.ProviderName)
	assert.Equal(t, focus.ChargeCategoryUsage, item.ChargeCategory)
	assert.InDelta(t, 5.0, item.BilledCost, 1e-9)
	assert.InDelta(t, 3.5, item.EffectiveCost, 1e-9)
	assert.Equal(t, "Compute Engine", item.ServiceName)
	assert.Equal(t, "my-project", item.SubAccountID)
	assert.Equal(t, "prod", item.Tags["env"])
	assert.Equal(t, "data", item.Tags["team"])
	assert.Equal(t, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), item.BillingPeriodStart)
}

func TestNormalizeUnknownCostTypeDefaultsToUsage(t *testing.T) {
	a := testAdapter()
	items := a.NormalizeToFocus([]focus.RawRecord{
		{Provider: model.ProviderGCP, Data: map[string]any{
			"cost":      1.0,
			"cost_type": "quantum_surcharge",
		}},
	})

	require.Len(t, items, 1)
	assert.Equal(t, focus.ChargeCategoryUsage, items[0].ChargeCategory)
}

func TestChargeCategoryTable(t *testing.T) {
	tests := map[string]focus.ChargeCategory{
		"regular":        focus.ChargeCategoryUsage,
		"tax":            focus.ChargeCategoryTax,
		"adjustment":     focus.ChargeCategoryAdjustment,
		"rounding_error": focus.ChargeCategoryAdjustment,
		"Tax":            focus.ChargeCategoryTax,
		"whatever":       focus.ChargeCategoryUsage,
	}
	for costType, want := range tests {
		assert.Equal(t, want, chargeCategory(costType), "cost type %q", costType)
	}
}

func TestValidateCredentials(t *testing.T) {
	a := testAdapter()
	ctx := context.Background()

	assert.False(t, a.ValidateCredentials(ctx, adapter.Credentials{}))
	assert.False(t, a.ValidateCredentials(ctx, adapter.Credentials{
		"projectId":         "p",
		"serviceAccountKey": "not json",
	}))
	assert.False(t, a.ValidateCredentials(ctx, adapter.Credentials{
		"projectId":         "p",
		"serviceAccountKey": `{"type":"authorized_user"}`,
	}))
}
