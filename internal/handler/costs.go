package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/costlens/backend/internal/apierrors"
	"github.com/costlens/backend/internal/cache"
	"github.com/costlens/backend/internal/model"
	"github.com/costlens/backend/internal/repository"
)

// CostSummary is the aggregate shape the dashboard and chat layers consume.
type CostSummary struct {
	TotalBilled float64                    `json:"total_billed"`
	TotalCost   float64                    `json:"total_cost"`
	Currency    model.Currency             `json:"currency"`
	ByProvider  map[model.Provider]float64 `json:"by_provider"`
	ByService   []ServiceSpend             `json:"by_service"`
	Window      model.DateRange            `json:"window"`
}

// ServiceSpend is one service's share of the summary.
type ServiceSpend struct {
	Provider    model.Provider `json:"provider"`
	ServiceName string         `json:"service_name"`
	TotalCost   float64        `json:"total_cost"`
}

// CostHandler serves the spend rollup read path.
type CostHandler struct {
	costs   repository.CostLineRepository
	summary *cache.TTL[string, *CostSummary]
	logger  *slog.Logger
}

// NewCostHandler creates the handler.
func NewCostHandler(costs repository.CostLineRepository, summary *cache.TTL[string, *CostSummary], logger *slog.Logger) *CostHandler {
	return &CostHandler{costs: costs, summary: summary, logger: logger}
}

// Summary aggregates the tenant's spend for the window, served from the TTL
// cache when fresh.
func (h *CostHandler) Summary(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(w, r)
	if !ok {
		return
	}
	start, end, err := dateWindow(r)
	if err != nil {
		apierrors.BadRequest(w, r, "invalid date range")
		return
	}
	window := model.DateRange{Start: start, End: end}

	key := summaryKey(tenant, window)
	if cached, ok := h.summary.Get(key); ok {
		respondJSON(w, http.StatusOK, cached)
		return
	}

	aggregates, err := h.costs.Aggregate(r.Context(), tenant, window)
	if err != nil {
		h.logger.Error("failed to aggregate costs", "error", err)
		apierrors.Internal(w, r)
		return
	}

	summary := buildSummary(aggregates, window)
	h.summary.Set(key, summary)
	respondJSON(w, http.StatusOK, summary)
}

func buildSummary(aggregates []repository.CostLineAggregate, window model.DateRange) *CostSummary {
	byProvider := lo.MapValues(
		lo.GroupBy(aggregates, func(a repository.CostLineAggregate) model.Provider {
			return a.Provider
		}),
		func(rows []repository.CostLineAggregate, _ model.Provider) float64 {
			return lo.SumBy(rows, func(a repository.CostLineAggregate) float64 { return a.TotalCost })
		},
	)

	byService := lo.Map(aggregates, func(a repository.CostLineAggregate, _ int) ServiceSpend {
		return ServiceSpend{Provider: a.Provider, ServiceName: a.ServiceName, TotalCost: a.TotalCost}
	})

	currency := model.CurrencyUSD
	if len(aggregates) > 0 {
		currency = aggregates[0].Currency
	}

	return &CostSummary{
		TotalBilled: lo.SumBy(aggregates, func(a repository.CostLineAggregate) float64 { return a.TotalBilled }),
		TotalCost:   lo.SumBy(aggregates, func(a repository.CostLineAggregate) float64 { return a.TotalCost }),
		Currency:    currency,
		ByProvider:  byProvider,
		ByService:   byService,
		Window:      window,
	}
}

func summaryKey(tenant uuid.UUID, window model.DateRange) string {
	return fmt.Sprintf("%s|%d|%d", tenant, window.Start.Unix(), window.End.Unix())
}
