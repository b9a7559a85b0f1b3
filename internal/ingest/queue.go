package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/costlens/backend/internal/adapter"
)

// Enqueue failure modes.
var (
	ErrQueueClosed = errors.New("ingest: queue is draining")
	ErrQueueFull   = errors.New("ingest: queue is full")
	ErrAccountBusy = errors.New("ingest: account already has a job queued or running")
)

// JobRunner executes one ingestion payload. Satisfied by *Runner.
type JobRunner interface {
	Run(ctx context.Context, p Payload) (*Result, error)
}

// QueueConfig bounds the worker pool.
type QueueConfig struct {
	// Workers is the concurrency bound. Ingestion is I/O-bound against
	// provider APIs that throttle, so this stays small.
	Workers int
	// Capacity is the number of pending jobs the queue buffers.
	Capacity int
	// MaxAttempts bounds retries of a single payload, first try included.
	MaxAttempts int
	// RetryBackoff is the base delay, doubled per failed attempt.
	RetryBackoff time.Duration
	// RateLimit / RateWindow cap job starts per rolling window across all
	// workers.
	RateLimit  int
	RateWindow time.Duration
}

// DefaultQueueConfig mirrors the limits provider billing APIs tolerate.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Workers:      3,
		Capacity:     64,
		MaxAttempts:  3,
		RetryBackoff: 5 * time.Second,
		RateLimit:    10,
		RateWindow:   time.Minute,
	}
}

// Queue executes ingestion payloads on a bounded worker pool with a rolling
// start-rate limit and per-account mutual exclusion. Retry policy lives
// here, not in the job body: transient error kinds retry with exponential
// backoff, fatal kinds fail immediately.
type Queue struct {
	runner  JobRunner
	logger  *slog.Logger
	cfg     QueueConfig
	limiter *WindowLimiter

	jobs chan Payload
	wg   sync.WaitGroup

	mu     sync.Mutex
	active map[uuid.UUID]struct{}
	closed bool

	cancel context.CancelFunc
}

// NewQueue creates the queue. Zero or negative config fields fall back to
// defaults.
func NewQueue(runner JobRunner, logger *slog.Logger, cfg QueueConfig) *Queue {
	defaults := DefaultQueueConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = defaults.Capacity
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaults.RetryBackoff
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaults.RateLimit
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = defaults.RateWindow
	}
	return &Queue{
		runner:  runner,
		logger:  logger,
		cfg:     cfg,
		limiter: NewWindowLimiter(cfg.RateLimit, cfg.RateWindow),
		jobs:    make(chan Payload, cfg.Capacity),
		active:  make(map[uuid.UUID]struct{}),
	}
}

// Start launches the worker pool. Workers run until Drain is called: the
// pool's lifetime is deliberately detached from the caller's context so
// that a canceled signal context does not kill in-flight jobs before Drain
// gets to wait for them. Drain's deadline is the only thing that cancels
// workers.
func (q *Queue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(context.WithoutCancel(ctx))
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
	q.logger.Info("ingestion queue started",
		"workers", q.cfg.Workers,
		"rate_limit", q.cfg.RateLimit,
		"rate_window", q.cfg.RateWindow,
	)
}

// Enqueue submits a payload. A payload for an account that already has a
// job queued or running is rejected: concurrent syncs for one account
// would race on the store's uniqueness constraint.
func (q *Queue) Enqueue(p Payload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if _, busy := q.active[p.CloudAccountID]; busy {
		return ErrAccountBusy
	}

	// The send stays under the mutex: Drain closes the channel under the
	// same lock, so the send can never race a close.
	select {
	case q.jobs <- p:
		q.active[p.CloudAccountID] = struct{}{}
		return nil
	default:
		return ErrQueueFull
	}
}

// Drain stops accepting jobs, lets in-flight jobs reach a terminal SyncJob
// state, and returns when the pool is idle or the context ends.
func (q *Queue) Drain(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("ingestion queue drained")
		return nil
	case <-ctx.Done():
		// Give up waiting; cancel worker contexts so in-flight jobs fail
		// over to their terminal bookkeeping.
		if q.cancel != nil {
			q.cancel()
		}
		<-done
		return ctx.Err()
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	for p := range q.jobs {
		if err := q.limiter.Wait(ctx); err != nil {
			q.logger.Warn("worker stopping before job start", "worker", id, "error", err)
			q.release(p.CloudAccountID)
			continue
		}
		q.process(ctx, id, p)
		q.release(p.CloudAccountID)
	}
}

func (q *Queue) process(ctx context.Context, workerID int, p Payload) {
	backoff := q.cfg.RetryBackoff
	for attempt := 1; ; attempt++ {
		result, err := q.runner.Run(ctx, p)
		if err == nil {
			q.logger.Info("job succeeded",
				"worker", workerID,
				"account_id", p.CloudAccountID,
				"attempt", attempt,
				"inserted", result.ItemsInserted,
			)
			return
		}

		kind := adapter.KindOf(err)
		if !adapter.Retryable(err) || attempt >= q.cfg.MaxAttempts {
			q.logger.Error("job failed",
				"worker", workerID,
				"account_id", p.CloudAccountID,
				"attempt", attempt,
				"kind", kind,
				"error", err,
			)
			return
		}

		q.logger.Warn("job failed, retrying",
			"worker", workerID,
			"account_id", p.CloudAccountID,
			"attempt", attempt,
			"kind", kind,
			"backoff", backoff,
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (q *Queue) release(accountID uuid.UUID) {
	q.mu.Lock()
	delete(q.active, accountID)
	q.mu.Unlock()
}
