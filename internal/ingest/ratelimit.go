package ingest

import (
	"context"
	"sync"
	"time"
)

// WindowLimiter caps job starts per rolling time window. It exists
// independently of the worker concurrency bound: provider cost APIs are
// billed per request, so even three workers must not start more than the
// window allows.
type WindowLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	starts []time.Time

	now func() time.Time
}

// NewWindowLimiter allows at most limit starts per rolling window.
func NewWindowLimiter(limit int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow records a start and returns true if the window has room, or returns
// false without recording.
func (l *WindowLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune()
	if len(l.starts) >= l.limit {
		return false
	}
	l.starts = append(l.starts, l.now())
	return true
}

// Wait blocks until a start is permitted or the context ends.
func (l *WindowLimiter) Wait(ctx context.Context) error {
	for {
		if l.Allow() {
			return nil
		}
		timer := time.NewTimer(l.retryAfter())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// retryAfter returns how long until the oldest recorded start leaves the
// window.
func (l *WindowLimiter) retryAfter() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune()
	if len(l.starts) < l.limit {
		return time.Millisecond
	}
	wait := l.window - l.now().Sub(l.starts[0])
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait
}

func (l *WindowLimiter) prune() {
	cutoff := l.now().Add(-l.window)
	i := 0
	for i < len(l.starts) && l.starts[i].Before(cutoff) {
		i++
	}
	l.starts = l.starts[i:]
}
