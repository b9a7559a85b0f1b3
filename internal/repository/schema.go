package repository

import (
	"context"
	"database/sql"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS cloud_accounts (
		id UUID PRIMARY KEY,
		tenant_id UUID NOT NULL,
		provider VARCHAR(20) NOT NULL,
		external_id VARCHAR(255) NOT NULL,
		name VARCHAR(255) NOT NULL,
		credentials BYTEA NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
		last_sync_at TIMESTAMPTZ,
		last_sync_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (tenant_id, provider, external_id)
	)`,

	`CREATE TABLE IF NOT EXISTS sync_jobs (
		id UUID PRIMARY KEY,
		cloud_account_id UUID NOT NULL REFERENCES cloud_accounts(id) ON DELETE CASCADE,
		job_type VARCHAR(50) NOT NULL,
		status VARCHAR(20) NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ,
		metadata JSONB,
		error TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_jobs_account
		ON sync_jobs (cloud_account_id, started_at DESC)`,

	// The uniqueness constraint is the dedup guarantee for ingestion
	// retries. service_name participates because grouped records without a
	// resource id would otherwise collide across services.
	`CREATE TABLE IF NOT EXISTS cost_line_items (
		id UUID PRIMARY KEY,
		tenant_id UUID NOT NULL,
		cloud_account_id UUID NOT NULL REFERENCES cloud_accounts(id) ON DELETE CASCADE,
		billing_period_start TIMESTAMPTZ NOT NULL,
		billing_period_end TIMESTAMPTZ NOT NULL,
		charge_category VARCHAR(20) NOT NULL,
		charge_type VARCHAR(100) NOT NULL DEFAULT '',
		billed_cost DOUBLE PRECISION NOT NULL,
		effective_cost DOUBLE PRECISION NOT NULL,
		list_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
		billing_currency VARCHAR(10) NOT NULL DEFAULT 'USD',
		service_category VARCHAR(100) NOT NULL DEFAULT '',
		service_name VARCHAR(255) NOT NULL DEFAULT '',
		region_id VARCHAR(100) NOT NULL DEFAULT '',
		region_name VARCHAR(100) NOT NULL DEFAULT '',
		availability_zone VARCHAR(100) NOT NULL DEFAULT '',
		resource_id TEXT NOT NULL DEFAULT '',
		resource_name VARCHAR(255) NOT NULL DEFAULT '',
		resource_type VARCHAR(100) NOT NULL DEFAULT '',
		pricing_category VARCHAR(100) NOT NULL DEFAULT '',
		pricing_quantity DOUBLE PRECISION NOT NULL DEFAULT 0,
		pricing_unit VARCHAR(50) NOT NULL DEFAULT '',
		usage_quantity DOUBLE PRECISION NOT NULL DEFAULT 0,
		usage_unit VARCHAR(50) NOT NULL DEFAULT '',
		commitment_discount_id VARCHAR(255) NOT NULL DEFAULT '',
		commitment_discount_name VARCHAR(255) NOT NULL DEFAULT '',
		commitment_discount_type VARCHAR(50) NOT NULL DEFAULT '',
		provider_name VARCHAR(20) NOT NULL,
		publisher_name VARCHAR(255) NOT NULL DEFAULT '',
		invoice_section_id VARCHAR(255) NOT NULL DEFAULT '',
		sub_account_id VARCHAR(255) NOT NULL DEFAULT '',
		sub_account_name VARCHAR(255) NOT NULL DEFAULT '',
		tags JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (tenant_id, cloud_account_id, provider_name, service_name,
			resource_id, billing_period_start, charge_type)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cost_line_items_tenant_period
		ON cost_line_items (tenant_id, billing_period_start)`,
	`CREATE INDEX IF NOT EXISTS idx_cost_line_items_account_period
		ON cost_line_items (cloud_account_id, billing_period_start)`,
}

// EnsureSchema creates the tables and indexes if they do not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("repository: failed to apply schema: %w", err)
		}
	}
	return nil
}
