package github

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/reposcribe/reposcribe/internal/metrics"
)

// Priority orders scheduled operations. High-priority operations skip the
// inter-call spacing wait; they still consume reservoir capacity and respect
// the concurrency bound.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

const (
	// scheduleMaxRetries bounds how often a scheduled operation is retried
	// before its error surfaces to the caller.
	scheduleMaxRetries = 3

	scheduleInitialBackoff = 1 * time.Second
	scheduleMaxBackoff     = 30 * time.Second

	// lowWatermark is the remaining-request threshold below which
	// CheckAndThrottle sleeps the caller until the window resets.
	lowWatermark = 100
)

// Status is a snapshot of the remote quota.
type Status struct {
	Limit     int
	Remaining int
	Used      int
	ResetAt   time.Time
}

// StatusFunc queries the quota-status endpoint directly, bypassing the
// limiter's own throttling and retry.
type StatusFunc func(ctx context.Context) (Status, error)

// Limiter keeps the aggregate outbound call rate within a known hourly quota.
// It combines a capacity reservoir (refilled once per window), a minimum
// inter-call spacing bucket, and a bounded-concurrency semaphore. It is safe
// for concurrent use.
type Limiter struct {
	mu sync.Mutex

	// quota is the full hourly call budget.
	quota int

	// remaining is the reservoir: calls left in the current window.
	remaining int

	// windowReset is when the current window rolls over.
	windowReset time.Time

	spacing *rate.Limiter
	sem     chan struct{}
	status  StatusFunc
	logger  *logrus.Entry

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewLimiter creates a Limiter for the given hourly quota. maxConcurrent
// bounds in-flight scheduled operations; minSpacing is the minimum delay
// between consecutive calls (zero disables spacing). status fetches the
// authoritative quota state.
func NewLimiter(quota, maxConcurrent int, minSpacing time.Duration, status StatusFunc, logger *logrus.Entry) *Limiter {
	if quota < 1 {
		quota = 1
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	var spacing *rate.Limiter
	if minSpacing <= 0 {
		spacing = rate.NewLimiter(rate.Inf, 0)
	} else {
		spacing = rate.NewLimiter(rate.Every(minSpacing), 1)
	}

	return &Limiter{
		quota:     quota,
		remaining: quota,
		spacing:   spacing,
		sem:       make(chan struct{}, maxConcurrent),
		status:    status,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Schedule runs op under the limiter: it acquires a concurrency slot, reserves
// capacity, honours spacing, and retries transient failures with exponential
// backoff. Queued work is never silently dropped; the last error surfaces
// once retries are exhausted.
func (l *Limiter) Schedule(ctx context.Context, priority Priority, op func(ctx context.Context) error) error {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.sem }()

	var lastErr error
	backoff := scheduleInitialBackoff

	for attempt := 0; attempt <= scheduleMaxRetries; attempt++ {
		if attempt > 0 {
			metrics.APIRetries.Inc()
			l.logger.WithFields(logrus.Fields{
				"attempt": attempt,
				"backoff": backoff,
			}).WithError(lastErr).Warn("scheduled operation failed, retrying")
			if err := l.sleep(ctx, backoff); err != nil {
				return err
			}
			backoff *= 2
			if backoff > scheduleMaxBackoff {
				backoff = scheduleMaxBackoff
			}
		}

		if err := l.reserve(ctx, priority); err != nil {
			return err
		}
		metrics.APIRequests.Inc()

		err := op(ctx)
		if err == nil {
			if attempt > 0 {
				l.logger.WithField("attempt", attempt+1).Debug("operation succeeded after retry")
			}
			return nil
		}

		lastErr = err
		if !IsRetryable(err) {
			return err
		}
	}

	return fmt.Errorf("scheduled operation failed after %d attempts: %w", scheduleMaxRetries+1, lastErr)
}

// reserve takes one unit from the reservoir, refilling it when the window has
// rolled over and blocking when the reservoir is empty.
func (l *Limiter) reserve(ctx context.Context, priority Priority) error {
	l.mu.Lock()
	now := time.Now()
	if l.windowReset.IsZero() || now.After(l.windowReset) {
		l.remaining = l.quota
		l.windowReset = now.Add(time.Hour)
	}

	for l.remaining <= 0 {
		wait := time.Until(l.windowReset)
		l.mu.Unlock()
		l.logger.WithField("wait", wait.Round(time.Second)).
			Warn("reservoir empty, waiting for window reset")
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
		l.mu.Lock()
		now = time.Now()
		if now.After(l.windowReset) {
			l.remaining = l.quota
			l.windowReset = now.Add(time.Hour)
		}
	}

	l.remaining--
	metrics.ReservoirRemaining.Set(float64(l.remaining))
	l.mu.Unlock()

	if priority != PriorityHigh {
		return l.spacing.Wait(ctx)
	}
	return nil
}

// FetchStatus queries the quota-status endpoint directly and resynchronizes
// the reservoir against the authoritative remaining count. It deliberately
// bypasses Schedule: throttling the status probe through the limiter would
// recurse.
func (l *Limiter) FetchStatus(ctx context.Context) (Status, error) {
	st, err := l.status(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("fetching rate limit status: %w", err)
	}

	l.mu.Lock()
	l.remaining = st.Remaining
	if !st.ResetAt.IsZero() {
		l.windowReset = st.ResetAt
	}
	metrics.ReservoirRemaining.Set(float64(l.remaining))
	l.mu.Unlock()

	return st, nil
}

// CheckAndThrottle probes the remote quota. Below 10% remaining it logs a
// warning; below lowWatermark it sleeps the caller until the window resets.
// A failed probe is advisory only and never blocks the export.
func (l *Limiter) CheckAndThrottle(ctx context.Context) error {
	st, err := l.FetchStatus(ctx)
	if err != nil {
		l.logger.WithError(err).Warn("quota status unavailable, continuing without throttle check")
		return nil
	}

	if st.Limit > 0 && st.Remaining < st.Limit/10 {
		l.logger.WithFields(logrus.Fields{
			"remaining": st.Remaining,
			"limit":     st.Limit,
		}).Warn("rate limit below 10% of quota")
	}

	if st.Remaining < lowWatermark {
		wait := time.Until(st.ResetAt)
		if wait > 0 {
			l.logger.WithFields(logrus.Fields{
				"remaining": st.Remaining,
				"wait":      wait.Round(time.Second),
			}).Warn("rate limit nearly exhausted, sleeping until reset")
			return l.sleep(ctx, wait)
		}
	}

	return nil
}

// UpdateReservoir resynchronizes the internal capacity counter against the
// authoritative remaining count, typically parsed from response headers.
func (l *Limiter) UpdateReservoir(remaining int) {
	if remaining < 0 {
		return
	}
	l.mu.Lock()
	l.remaining = remaining
	metrics.ReservoirRemaining.Set(float64(remaining))
	l.mu.Unlock()
}

// Snapshot returns the limiter's current local view of the quota.
func (l *Limiter) Snapshot() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{
		Limit:     l.quota,
		Remaining: l.remaining,
		Used:      l.quota - l.remaining,
		ResetAt:   l.windowReset,
	}
}
