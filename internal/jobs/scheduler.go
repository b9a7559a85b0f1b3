// Package jobs schedules recurring ingestion work.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/costlens/backend/internal/ingest"
	"github.com/costlens/backend/internal/repository"
)

// syncWindowDays is how far back the nightly sync reaches. Providers
// restate recent line items, so the window overlaps; the store's idempotent
// writes absorb the replay.
const syncWindowDays = 3

// Scheduler runs the nightly cost sync for every connected account.
type Scheduler struct {
	cron     *cron.Cron
	accounts repository.CloudAccountRepository
	queue    *ingest.Queue
	logger   *slog.Logger
}

// NewScheduler creates the scheduler.
func NewScheduler(accounts repository.CloudAccountRepository, queue *ingest.Queue, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		accounts: accounts,
		queue:    queue,
		logger:   logger,
	}
}

// Start registers the sync at the given cron spec and starts the timer.
func (s *Scheduler) Start(spec string) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := s.SyncAllAccounts(ctx); err != nil {
			s.logger.Error("scheduled sync failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("jobs: failed to schedule sync: %w", err)
	}
	s.cron.Start()
	s.logger.Info("sync scheduler started", "spec", spec)
	return nil
}

// Stop halts the timer and waits for a running trigger to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("sync scheduler stopped")
}

// SyncAllAccounts enqueues an ingestion job per account for the trailing
// window. Accounts already syncing are skipped, not errors.
func (s *Scheduler) SyncAllAccounts(ctx context.Context) error {
	accounts, err := s.accounts.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("jobs: failed to list accounts: %w", err)
	}

	end := time.Now().UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -syncWindowDays)

	enqueued := 0
	for _, account := range accounts {
		err := s.queue.Enqueue(ingest.Payload{
			CloudAccountID: account.ID,
			TenantID:       account.TenantID,
			Provider:       account.Provider,
			StartDate:      start,
			EndDate:        end,
		})
		switch {
		case err == nil:
			enqueued++
		case errors.Is(err, ingest.ErrAccountBusy):
			s.logger.Info("account already syncing, skipped", "account_id", account.ID)
		default:
			s.logger.Warn("failed to enqueue sync", "account_id", account.ID, "error", err)
		}
	}
	s.logger.Info("nightly sync enqueued", "accounts", len(accounts), "enqueued", enqueued)
	return nil
}
