// Package repository defines the persistence contracts for accounts, sync
// jobs, and normalized cost line items, with Postgres implementations.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/costlens/backend/internal/focus"
	"github.com/costlens/backend/internal/model"
)

// CloudAccountRepository manages connected cloud account rows.
type CloudAccountRepository interface {
	Create(ctx context.Context, account *model.CloudAccount) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.CloudAccount, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*model.CloudAccount, error)
	ListAll(ctx context.Context) ([]*model.CloudAccount, error)
	Update(ctx context.Context, account *model.CloudAccount) error
	Delete(ctx context.Context, id uuid.UUID) error

	// UpdateSyncStatus records the outcome of an ingestion run: status plus
	// last sync timestamp on success, status plus error message on failure.
	UpdateSyncStatus(ctx context.Context, id uuid.UUID, status string, syncedAt *time.Time, syncErr string) error
}

// SyncJobRepository manages ingestion audit records.
type SyncJobRepository interface {
	Create(ctx context.Context, job *model.SyncJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.SyncJob, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]*model.SyncJob, error)

	// Complete transitions the job to a terminal state exactly once.
	Complete(ctx context.Context, id uuid.UUID, status string, metadata map[string]any, errMsg string) error
}

// CostLineAggregate is one row of the spend rollup consumed by the summary
// read path.
type CostLineAggregate struct {
	Provider    model.Provider `json:"provider"`
	ServiceName string         `json:"service_name"`
	TotalBilled float64        `json:"total_billed"`
	TotalCost   float64        `json:"total_cost"`
	Currency    model.Currency `json:"currency"`
}

// CostLineRepository is the write contract for normalized line items. The
// store is the sole owner of the deduplication guarantee.
type CostLineRepository interface {
	// InsertBatch writes items with insert-or-skip semantics on the natural
	// uniqueness key and returns the count actually inserted. Safe to
	// re-invoke for the same window.
	InsertBatch(ctx context.Context, tenantID, accountID uuid.UUID, items []focus.CostItem) (int, error)

	// CountByAccount returns the number of persisted line items for the
	// account within the window.
	CountByAccount(ctx context.Context, accountID uuid.UUID, window model.DateRange) (int, error)

	// Aggregate rolls up spend per provider and service for the tenant
	// within the window.
	Aggregate(ctx context.Context, tenantID uuid.UUID, window model.DateRange) ([]CostLineAggregate, error)

	// ListByAccount pages persisted line items for export.
	ListByAccount(ctx context.Context, accountID uuid.UUID, window model.DateRange, limit, offset int) ([]focus.CostItem, error)
}
