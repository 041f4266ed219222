// Package retry provides a retry/backoff policy and a chunked-paging strategy
// whose aggressiveness scales with the declared dataset size.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/reposcribe/reposcribe/internal/metrics"
)

// Strategy is a retry/backoff policy derived from a declared dataset size.
type Strategy struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// StrategyForSize derives the retry strategy for a dataset of the given size.
// Larger datasets get more retries, longer delays, and a wider multiplier:
// losing a half-finished large export to one flaky page is far more expensive
// than waiting out a few extra backoffs.
func StrategyForSize(size int) Strategy {
	switch {
	case size < 1000:
		return Strategy{
			MaxRetries:        3,
			InitialDelay:      1 * time.Second,
			MaxDelay:          10 * time.Second,
			BackoffMultiplier: 2.0,
		}
	case size < 5000:
		return Strategy{
			MaxRetries:        5,
			InitialDelay:      2 * time.Second,
			MaxDelay:          30 * time.Second,
			BackoffMultiplier: 2.0,
		}
	case size < 10000:
		return Strategy{
			MaxRetries:        7,
			InitialDelay:      3 * time.Second,
			MaxDelay:          60 * time.Second,
			BackoffMultiplier: 2.5,
		}
	default:
		return Strategy{
			MaxRetries:        10,
			InitialDelay:      5 * time.Second,
			MaxDelay:          120 * time.Second,
			BackoffMultiplier: 3.0,
		}
	}
}

// DelayFor returns the backoff delay before retry attempt n (0-based):
// min(InitialDelay * BackoffMultiplier^n, MaxDelay).
func (s Strategy) DelayFor(attempt int) time.Duration {
	d := time.Duration(float64(s.InitialDelay) * math.Pow(s.BackoffMultiplier, float64(attempt)))
	if d > s.MaxDelay || d < 0 {
		return s.MaxDelay
	}
	return d
}

// worstCaseDelay is the total sleep time of a fully exhausted retry budget.
func (s Strategy) worstCaseDelay() time.Duration {
	var total time.Duration
	for i := 0; i < s.MaxRetries; i++ {
		total += s.DelayFor(i)
	}
	return total
}

// Info exposes the computed parameters for observability and testing.
type Info struct {
	Strategy       Strategy
	DatasetSize    int
	WorstCaseDelay time.Duration
}

// Executor binds a strategy to a dataset size.
type Executor struct {
	size     int
	strategy Strategy
	logger   *logrus.Entry

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an Executor with the strategy derived from size.
func NewExecutor(size int, logger *logrus.Entry) *Executor {
	return NewExecutorWithStrategy(size, StrategyForSize(size), logger)
}

// NewExecutorWithStrategy creates an Executor with an explicit strategy.
func NewExecutorWithStrategy(size int, strategy Strategy, logger *logrus.Entry) *Executor {
	return &Executor{
		size:     size,
		strategy: strategy,
		logger:   logger,
		sleep:    sleepCtx,
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

// StrategyInfo returns the computed parameters and a worst-case duration
// estimate for a single fully-exhausted retry budget.
func (e *Executor) StrategyInfo() Info {
	return Info{
		Strategy:       e.strategy,
		DatasetSize:    e.size,
		WorstCaseDelay: e.strategy.worstCaseDelay(),
	}
}

// Result is the outcome of a recovered or chunked execution.
type Result[T any] struct {
	// Data holds the fetched items in chunk order.
	Data []T

	// Success is true only if no chunk or attempt permanently failed.
	Success bool

	// ItemsProcessed is len(Data).
	ItemsProcessed int

	// Errors lists every permanent failure, one entry per failed chunk.
	Errors []string
}

// ExecuteWithPartialRecovery runs fetch under the executor's retry budget.
// fetch may report partial progress through its progress callback; once
// retries are exhausted, whatever progress was recorded is returned as a
// non-success Result instead of being discarded. The error return is non-nil
// only when zero progress was made.
func ExecuteWithPartialRecovery[T any](
	ctx context.Context,
	e *Executor,
	fetch func(ctx context.Context, progress func(items []T)) ([]T, error),
	shouldRetry func(error) bool,
) (*Result[T], error) {
	var partial []T
	progress := func(items []T) {
		partial = append(partial, items...)
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		data, err := fetch(ctx, progress)
		if err == nil {
			return &Result[T]{
				Data:           data,
				Success:        true,
				ItemsProcessed: len(data),
			}, nil
		}

		lastErr = err
		if attempt >= e.strategy.MaxRetries || !shouldRetry(err) {
			break
		}

		delay := e.strategy.DelayFor(attempt)
		metrics.APIRetries.Inc()
		e.logger.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"delay":   delay,
		}).WithError(err).Warn("fetch failed, backing off")

		if serr := e.sleep(ctx, delay); serr != nil {
			lastErr = serr
			break
		}
	}

	if len(partial) == 0 {
		return nil, lastErr
	}

	e.logger.WithFields(logrus.Fields{
		"recovered": len(partial),
	}).WithError(lastErr).Warn("retries exhausted, keeping partial progress")

	return &Result[T]{
		Data:           partial,
		Success:        false,
		ItemsProcessed: len(partial),
		Errors:         []string{lastErr.Error()},
	}, nil
}

// Chunk identifies one slice of the declared dataset.
type Chunk struct {
	// Index is the 0-based chunk number.
	Index int

	// Offset is the absolute position of the chunk's first item.
	Offset int

	// Size is the number of items in this chunk.
	Size int
}

// ExecuteWithChunking splits the declared dataset into ceil(size/chunkSize)
// chunks and fetches each with its own retry budget. A chunk that exhausts
// its retries is recorded as an error and skipped; remaining chunks still
// proceed. The returned error is non-nil only when the context was cancelled
// mid-run.
func ExecuteWithChunking[T any](
	ctx context.Context,
	e *Executor,
	chunkSize int,
	fetchChunk func(ctx context.Context, chunk Chunk) ([]T, error),
	shouldRetry func(error) bool,
) (*Result[T], error) {
	if chunkSize < 1 {
		chunkSize = 1
	}
	numChunks := (e.size + chunkSize - 1) / chunkSize

	result := &Result[T]{Success: true}

	for i := 0; i < numChunks; i++ {
		chunk := Chunk{
			Index:  i,
			Offset: i * chunkSize,
			Size:   chunkSize,
		}
		if remaining := e.size - chunk.Offset; remaining < chunkSize {
			chunk.Size = remaining
		}

		data, err := fetchChunkWithRetry(ctx, e, chunk, fetchChunk, shouldRetry)
		if err != nil {
			if ctx.Err() != nil {
				result.Success = false
				result.ItemsProcessed = len(result.Data)
				return result, ctx.Err()
			}
			metrics.ChunksFailed.Inc()
			result.Success = false
			result.Errors = append(result.Errors,
				fmt.Sprintf("chunk %d (offset %d): %v", chunk.Index, chunk.Offset, err))
			e.logger.WithFields(logrus.Fields{
				"chunk":  chunk.Index,
				"offset": chunk.Offset,
			}).WithError(err).Warn("chunk permanently failed, skipping")
			continue
		}

		result.Data = append(result.Data, data...)
	}

	result.ItemsProcessed = len(result.Data)
	return result, nil
}

// fetchChunkWithRetry runs one chunk fetch under the per-chunk retry budget,
// using the same backoff formula as the recovery path.
func fetchChunkWithRetry[T any](
	ctx context.Context,
	e *Executor,
	chunk Chunk,
	fetchChunk func(ctx context.Context, chunk Chunk) ([]T, error),
	shouldRetry func(error) bool,
) ([]T, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		data, err := fetchChunk(ctx, chunk)
		if err == nil {
			return data, nil
		}

		lastErr = err
		if attempt >= e.strategy.MaxRetries || !shouldRetry(err) {
			return nil, lastErr
		}

		delay := e.strategy.DelayFor(attempt)
		metrics.APIRetries.Inc()
		e.logger.WithFields(logrus.Fields{
			"chunk":   chunk.Index,
			"attempt": attempt + 1,
			"delay":   delay,
		}).WithError(err).Debug("chunk fetch failed, backing off")

		if serr := e.sleep(ctx, delay); serr != nil {
			return nil, lastErr
		}
	}
}
