// Package ingest contains the cost ingestion pipeline: the runner that
// executes one sync end to end, and the rate-limited worker pool that
// schedules runs.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/costlens/backend/internal/adapter"
	"github.com/costlens/backend/internal/focus"
	"github.com/costlens/backend/internal/model"
	"github.com/costlens/backend/internal/repository"
)

const (
	defaultBatchSize   = 1000
	fetchTimeout       = 10 * time.Minute
	bookkeepingTimeout = 30 * time.Second
)

// Payload identifies one unit of ingestion work.
type Payload struct {
	CloudAccountID uuid.UUID      `json:"cloud_account_id"`
	TenantID       uuid.UUID      `json:"tenant_id"`
	Provider       model.Provider `json:"provider"`
	StartDate      time.Time      `json:"start_date"`
	EndDate        time.Time      `json:"end_date"`
}

// Result summarizes a completed run.
type Result struct {
	JobID          uuid.UUID `json:"job_id"`
	RecordsFetched int       `json:"records_fetched"`
	ItemsInserted  int       `json:"items_inserted"`
	BatchesSkipped int       `json:"batches_skipped"`
}

// ProgressFunc receives coarse completion percentages during a run.
type ProgressFunc func(jobID uuid.UUID, percent int)

// CredentialOpener decrypts a stored credential payload. Satisfied by
// crypto.Encryptor.
type CredentialOpener interface {
	DecryptCredentials(ciphertext []byte) (map[string]string, error)
}

// Runner executes one ingestion job: fetch, normalize, persist, and record
// the outcome on the SyncJob and CloudAccount rows.
type Runner struct {
	registry  *adapter.Registry
	accounts  repository.CloudAccountRepository
	jobs      repository.SyncJobRepository
	costs     repository.CostLineRepository
	secrets   CredentialOpener
	logger    *slog.Logger
	batchSize int
	progress  ProgressFunc
}

// NewRunner wires the runner. progress may be nil.
func NewRunner(
	registry *adapter.Registry,
	accounts repository.CloudAccountRepository,
	jobs repository.SyncJobRepository,
	costs repository.CostLineRepository,
	secrets CredentialOpener,
	logger *slog.Logger,
	progress ProgressFunc,
) *Runner {
	return &Runner{
		registry:  registry,
		accounts:  accounts,
		jobs:      jobs,
		costs:     costs,
		secrets:   secrets,
		logger:    logger,
		batchSize: defaultBatchSize,
		progress:  progress,
	}
}

// Run executes one sync. Exactly one of the terminal bookkeeping paths
// executes: the SyncJob is never left RUNNING, and the CloudAccount row
// reflects the outcome. The returned error carries the adapter error kind
// so the queue's retry policy can branch on it.
func (r *Runner) Run(ctx context.Context, p Payload) (*Result, error) {
	job := &model.SyncJob{
		ID:             uuid.New(),
		CloudAccountID: p.CloudAccountID,
		JobType:        model.JobTypeCostIngestion,
		Status:         model.SyncJobRunning,
		StartedAt:      time.Now().UTC(),
	}
	if err := r.jobs.Create(ctx, job); err != nil {
		return nil, adapter.NewPersistenceError(err)
	}

	result, err := r.execute(ctx, p, job)
	if err != nil {
		r.fail(ctx, p, job, err)
		return nil, err
	}
	r.complete(ctx, p, job, result)
	return result, nil
}

func (r *Runner) execute(ctx context.Context, p Payload, job *model.SyncJob) (*Result, error) {
	cloudAdapter, err := r.registry.Resolve(p.Provider)
	if err != nil {
		return nil, err
	}

	account, err := r.accounts.GetByID(ctx, p.CloudAccountID)
	if err != nil {
		return nil, adapter.NewPersistenceError(err)
	}

	creds, err := r.secrets.DecryptCredentials(account.Credentials)
	if err != nil {
		return nil, adapter.NewAuthError(p.Provider, err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	raw, err := cloudAdapter.GetCosts(fetchCtx, creds, adapter.CostParams{
		StartDate:   p.StartDate,
		EndDate:     p.EndDate,
		Granularity: model.GranularityDaily,
	})
	if err != nil {
		return nil, err
	}
	r.report(job.ID, 10)

	result := &Result{JobID: job.ID, RecordsFetched: len(raw)}
	batches := chunk(raw, r.batchSize)
	for i, batch := range batches {
		items, err := normalizeBatch(cloudAdapter, batch)
		if err != nil {
			// A whole batch failing to map is non-fatal: skip it, keep the
			// rest, and reflect the skip in the job metadata.
			r.logger.Warn("skipping unmappable batch",
				"job_id", job.ID, "batch", i, "size", len(batch), "error", err)
			result.BatchesSkipped++
			continue
		}
		inserted, err := r.costs.InsertBatch(ctx, p.TenantID, p.CloudAccountID, items)
		if err != nil {
			return nil, adapter.NewPersistenceError(err)
		}
		result.ItemsInserted += inserted
		r.report(job.ID, 10+(90*(i+1))/len(batches))
	}
	r.report(job.ID, 100)
	return result, nil
}

// terminalContext detaches bookkeeping from the run's context. A job whose
// context was canceled mid-flight (shutdown, fetch timeout) must still
// reach a terminal SyncJob state; writing that state with the dead context
// would abort the very updates that record the failure.
func terminalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
}

func (r *Runner) complete(ctx context.Context, p Payload, job *model.SyncJob, result *Result) {
	ctx, cancel := terminalContext(ctx)
	defer cancel()

	now := time.Now().UTC()
	metadata := map[string]any{
		"item_count":      result.ItemsInserted,
		"records_fetched": result.RecordsFetched,
		"batches_skipped": result.BatchesSkipped,
	}
	if err := r.jobs.Complete(ctx, job.ID, model.SyncJobCompleted, metadata, ""); err != nil {
		r.logger.Error("failed to mark sync job completed", "job_id", job.ID, "error", err)
	}
	if err := r.accounts.UpdateSyncStatus(ctx, p.CloudAccountID, model.AccountStatusConnected, &now, ""); err != nil {
		r.logger.Error("failed to update account sync status", "account_id", p.CloudAccountID, "error", err)
	}
	r.logger.Info("ingestion completed",
		"job_id", job.ID,
		"account_id", p.CloudAccountID,
		"provider", p.Provider,
		"fetched", result.RecordsFetched,
		"inserted", result.ItemsInserted,
		"batches_skipped", result.BatchesSkipped,
	)
}

func (r *Runner) fail(ctx context.Context, p Payload, job *model.SyncJob, runErr error) {
	ctx, cancel := terminalContext(ctx)
	defer cancel()

	if err := r.jobs.Complete(ctx, job.ID, model.SyncJobFailed, nil, runErr.Error()); err != nil {
		r.logger.Error("failed to mark sync job failed", "job_id", job.ID, "error", err)
	}
	if err := r.accounts.UpdateSyncStatus(ctx, p.CloudAccountID, model.AccountStatusError, nil, runErr.Error()); err != nil {
		r.logger.Error("failed to update account sync status", "account_id", p.CloudAccountID, "error", err)
	}
	r.logger.Error("ingestion failed",
		"job_id", job.ID,
		"account_id", p.CloudAccountID,
		"provider", p.Provider,
		"kind", adapter.KindOf(runErr),
		"error", runErr,
	)
}

func (r *Runner) report(jobID uuid.UUID, percent int) {
	if r.progress != nil {
		r.progress(jobID, percent)
	}
}

// normalizeBatch guards the adapter's pure mapping against a panic so one
// bad batch cannot take the worker down.
func normalizeBatch(a adapter.CloudAdapter, batch []focus.RawRecord) (items []focus.CostItem, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			items = nil
			err = &adapter.Error{
				Kind: adapter.KindNormalization,
				Msg:  fmt.Sprintf("normalization panicked: %v", rec),
			}
		}
	}()
	return a.NormalizeToFocus(batch), nil
}

func chunk(records []focus.RawRecord, size int) [][]focus.RawRecord {
	if size <= 0 {
		size = defaultBatchSize
	}
	var batches [][]focus.RawRecord
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		batches = append(batches, records[start:end])
	}
	return batches
}
