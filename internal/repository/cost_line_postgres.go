package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/costlens/backend/internal/focus"
	"github.com/costlens/backend/internal/model"
)

// PostgresCostLineRepository implements CostLineRepository over
// database/sql.
type PostgresCostLineRepository struct {
	db *sql.DB
}

// NewPostgresCostLineRepository creates the repository.
func NewPostgresCostLineRepository(db *sql.DB) *PostgresCostLineRepository {
	return &PostgresCostLineRepository{db: db}
}

const insertCostLineQuery = `
	INSERT INTO cost_line_items (
		id, tenant_id, cloud_account_id,
		billing_period_start, billing_period_end,
		charge_category, charge_type,
		billed_cost, effective_cost, list_cost, billing_currency,
		service_category, service_name,
		region_id, region_name, availability_zone,
		resource_id, resource_name, resource_type,
		pricing_category, pricing_quantity, pricing_unit,
		usage_quantity, usage_unit,
		commitment_discount_id, commitment_discount_name, commitment_discount_type,
		provider_name, publisher_name, invoice_section_id,
		sub_account_id, sub_account_name, tags
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30,
		$31, $32, $33
	)
	ON CONFLICT (tenant_id, cloud_account_id, provider_name, service_name,
		resource_id, billing_period_start, charge_type) DO NOTHING`

// InsertBatch writes items inside one transaction with insert-or-skip
// semantics and returns the count actually inserted. Conflicting rows are
// silently skipped, which makes window replays safe.
func (r *PostgresCostLineRepository) InsertBatch(ctx context.Context, tenantID, accountID uuid.UUID, items []focus.CostItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("repository: failed to begin batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertCostLineQuery)
	if err != nil {
		return 0, fmt.Errorf("repository: failed to prepare batch insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, item := range items {
		tags, err := marshalTags(item.Tags)
		if err != nil {
			return 0, err
		}
		result, err := stmt.ExecContext(ctx,
			uuid.New(), tenantID, accountID,
			item.BillingPeriodStart, item.BillingPeriodEnd,
			item.ChargeCategory, item.ChargeType,
			item.BilledCost, item.EffectiveCost, item.ListCost, item.BillingCurrency,
			item.ServiceCategory, item.ServiceName,
			item.RegionID, item.RegionName, item.AvailabilityZone,
			item.ResourceID, item.ResourceName, item.ResourceType,
			item.PricingCategory, item.PricingQuantity, item.PricingUnit,
			item.UsageQuantity, item.UsageUnit,
			item.CommitmentDiscountID, item.CommitmentDiscountName, item.CommitmentDiscountType,
			item.ProviderName, item.PublisherName, item.InvoiceSectionID,
			item.SubAccountID, item.SubAccountName, tags,
		)
		if err != nil {
			return 0, fmt.Errorf("repository: failed to insert cost line: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("repository: failed to read rows affected: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("repository: failed to commit batch: %w", err)
	}
	return inserted, nil
}

func (r *PostgresCostLineRepository) CountByAccount(ctx context.Context, accountID uuid.UUID, window model.DateRange) (int, error) {
	query := `
		SELECT COUNT(*) FROM cost_line_items
		WHERE cloud_account_id = $1
		  AND billing_period_start >= $2 AND billing_period_start < $3`
	var count int
	err := r.db.QueryRowContext(ctx, query, accountID, window.Start, window.End).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("repository: failed to count cost lines: %w", err)
	}
	return count, nil
}

func (r *PostgresCostLineRepository) Aggregate(ctx context.Context, tenantID uuid.UUID, window model.DateRange) ([]CostLineAggregate, error) {
	query := `
		SELECT provider_name, service_name, SUM(billed_cost), SUM(effective_cost), billing_currency
		FROM cost_line_items
		WHERE tenant_id = $1
		  AND billing_period_start >= $2 AND billing_period_start < $3
		GROUP BY provider_name, service_name, billing_currency
		ORDER BY SUM(effective_cost) DESC`
	rows, err := r.db.QueryContext(ctx, query, tenantID, window.Start, window.End)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to aggregate cost lines: %w", err)
	}
	defer rows.Close()

	var aggregates []CostLineAggregate
	for rows.Next() {
		var agg CostLineAggregate
		if err := rows.Scan(&agg.Provider, &agg.ServiceName, &agg.TotalBilled, &agg.TotalCost, &agg.Currency); err != nil {
			return nil, fmt.Errorf("repository: failed to scan aggregate: %w", err)
		}
		aggregates = append(aggregates, agg)
	}
	return aggregates, rows.Err()
}

func (r *PostgresCostLineRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, window model.DateRange, limit, offset int) ([]focus.CostItem, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := `
		SELECT billing_period_start, billing_period_end, charge_category, charge_type,
			billed_cost, effective_cost, list_cost, billing_currency,
			service_category, service_name, region_id, region_name, availability_zone,
			resource_id, resource_name, resource_type,
			pricing_category, pricing_quantity, pricing_unit, usage_quantity, usage_unit,
			commitment_discount_id, commitment_discount_name, commitment_discount_type,
			provider_name, publisher_name, invoice_section_id, sub_account_id, sub_account_name, tags
		FROM cost_line_items
		WHERE cloud_account_id = $1
		  AND billing_period_start >= $2 AND billing_period_start < $3
		ORDER BY billing_period_start, service_name, resource_id
		LIMIT $4 OFFSET $5`
	rows, err := r.db.QueryContext(ctx, query, accountID, window.Start, window.End, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to list cost lines: %w", err)
	}
	defer rows.Close()

	var items []focus.CostItem
	for rows.Next() {
		var (
			item focus.CostItem
			tags []byte
		)
		err := rows.Scan(
			&item.BillingPeriodStart, &item.BillingPeriodEnd, &item.ChargeCategory, &item.ChargeType,
			&item.BilledCost, &item.EffectiveCost, &item.ListCost, &item.BillingCurrency,
			&item.ServiceCategory, &item.ServiceName, &item.RegionID, &item.RegionName, &item.AvailabilityZone,
			&item.ResourceID, &item.ResourceName, &item.ResourceType,
			&item.PricingCategory, &item.PricingQuantity, &item.PricingUnit, &item.UsageQuantity, &item.UsageUnit,
			&item.CommitmentDiscountID, &item.CommitmentDiscountName, &item.CommitmentDiscountType,
			&item.ProviderName, &item.PublisherName, &item.InvoiceSectionID, &item.SubAccountID, &item.SubAccountName, &tags,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan cost line: %w", err)
		}
		if len(tags) > 0 {
			if err := json.Unmarshal(tags, &item.Tags); err != nil {
				return nil, fmt.Errorf("repository: failed to decode tags: %w", err)
			}
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func marshalTags(tags model.Tags) ([]byte, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to encode tags: %w", err)
	}
	return encoded, nil
}
