package github

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("test", true)
}

// stubStatus serves canned quota snapshots.
type stubStatus struct {
	mu     sync.Mutex
	status Status
	err    error
	calls  int
}

func (s *stubStatus) fetch(_ context.Context) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return Status{}, s.err
	}
	return s.status, nil
}

func newTestLimiter(quota, maxConcurrent int, status *stubStatus) (*Limiter, *[]time.Duration) {
	l := NewLimiter(quota, maxConcurrent, 0, status.fetch, testLogger())
	var slept []time.Duration
	var mu sync.Mutex
	l.sleep = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		slept = append(slept, d)
		mu.Unlock()
		return nil
	}
	return l, &slept
}

func TestLimiterSchedule(t *testing.T) {
	t.Run("runs the operation and decrements the reservoir", func(t *testing.T) {
		l, _ := newTestLimiter(100, 2, &stubStatus{})

		ran := false
		err := l.Schedule(context.Background(), PriorityNormal, func(_ context.Context) error {
			ran = true
			return nil
		})

		require.NoError(t, err)
		assert.True(t, ran)
		assert.Equal(t, 99, l.Snapshot().Remaining)
	})

	t.Run("retries transient errors with backoff", func(t *testing.T) {
		l, slept := newTestLimiter(100, 2, &stubStatus{})

		attempts := 0
		err := l.Schedule(context.Background(), PriorityNormal, func(_ context.Context) error {
			attempts++
			if attempts < 3 {
				return errors.New("transient")
			}
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
		// 1s then 2s of backoff before the successful attempt.
		assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, *slept)
	})

	t.Run("gives up after the retry budget", func(t *testing.T) {
		l, _ := newTestLimiter(100, 2, &stubStatus{})

		attempts := 0
		err := l.Schedule(context.Background(), PriorityNormal, func(_ context.Context) error {
			attempts++
			return errors.New("always failing")
		})

		require.Error(t, err)
		assert.Equal(t, 4, attempts)
		assert.Contains(t, err.Error(), "after 4 attempts")
	})

	t.Run("does not retry permanent errors", func(t *testing.T) {
		l, _ := newTestLimiter(100, 2, &stubStatus{})

		permanent := &APIError{StatusCode: 404, Message: "missing"}
		attempts := 0
		err := l.Schedule(context.Background(), PriorityNormal, func(_ context.Context) error {
			attempts++
			return permanent
		})

		require.Error(t, err)
		assert.Equal(t, 1, attempts)
		var apiErr *APIError
		assert.ErrorAs(t, err, &apiErr)
	})

	t.Run("bounds concurrent operations", func(t *testing.T) {
		l, _ := newTestLimiter(1000, 2, &stubStatus{})

		var active, peak atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = l.Schedule(context.Background(), PriorityNormal, func(_ context.Context) error {
					cur := active.Add(1)
					for {
						p := peak.Load()
						if cur <= p || peak.CompareAndSwap(p, cur) {
							break
						}
					}
					time.Sleep(5 * time.Millisecond)
					active.Add(-1)
					return nil
				})
			}()
		}
		wg.Wait()

		assert.LessOrEqual(t, peak.Load(), int32(2))
	})

	t.Run("respects context cancellation while queued", func(t *testing.T) {
		l, _ := newTestLimiter(100, 1, &stubStatus{})

		release := make(chan struct{})
		go func() {
			_ = l.Schedule(context.Background(), PriorityNormal, func(_ context.Context) error {
				<-release
				return nil
			})
		}()

		// Give the first operation time to take the only slot.
		time.Sleep(10 * time.Millisecond)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := l.Schedule(ctx, PriorityNormal, func(_ context.Context) error { return nil })
		assert.ErrorIs(t, err, context.Canceled)

		close(release)
	})
}

func TestLimiterReservoir(t *testing.T) {
	t.Run("refills when the window rolls over", func(t *testing.T) {
		l, _ := newTestLimiter(1, 1, &stubStatus{})

		// First call drains the quota.
		require.NoError(t, l.Schedule(context.Background(), PriorityNormal, func(_ context.Context) error { return nil }))

		// Roll the window over so the second call gets a fresh reservoir.
		l.mu.Lock()
		l.windowReset = time.Now().Add(10 * time.Millisecond)
		l.mu.Unlock()
		time.Sleep(20 * time.Millisecond)

		require.NoError(t, l.Schedule(context.Background(), PriorityNormal, func(_ context.Context) error { return nil }))
		assert.Equal(t, 1, l.Snapshot().Used)
	})

	t.Run("update resynchronizes the remaining count", func(t *testing.T) {
		l, _ := newTestLimiter(5000, 1, &stubStatus{})

		l.UpdateReservoir(1234)
		snap := l.Snapshot()
		assert.Equal(t, 1234, snap.Remaining)
		assert.Equal(t, 5000-1234, snap.Used)

		// Negative values from missing headers are ignored.
		l.UpdateReservoir(-1)
		assert.Equal(t, 1234, l.Snapshot().Remaining)
	})
}

func TestLimiterFetchStatus(t *testing.T) {
	reset := time.Now().Add(30 * time.Minute)
	status := &stubStatus{status: Status{Limit: 5000, Remaining: 420, ResetAt: reset}}
	l, _ := newTestLimiter(5000, 1, status)

	st, err := l.FetchStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 420, st.Remaining)

	snap := l.Snapshot()
	assert.Equal(t, 420, snap.Remaining)
	assert.Equal(t, reset, snap.ResetAt)
}

func TestLimiterCheckAndThrottle(t *testing.T) {
	t.Run("plenty of quota does not sleep", func(t *testing.T) {
		status := &stubStatus{status: Status{Limit: 5000, Remaining: 4000, ResetAt: time.Now().Add(time.Hour)}}
		l, slept := newTestLimiter(5000, 1, status)

		require.NoError(t, l.CheckAndThrottle(context.Background()))
		assert.Empty(t, *slept)
	})

	t.Run("near-exhausted quota sleeps until reset", func(t *testing.T) {
		status := &stubStatus{status: Status{Limit: 5000, Remaining: 5, ResetAt: time.Now().Add(10 * time.Minute)}}
		l, slept := newTestLimiter(5000, 1, status)

		require.NoError(t, l.CheckAndThrottle(context.Background()))
		require.Len(t, *slept, 1)
		assert.Greater(t, (*slept)[0], 9*time.Minute)
	})

	t.Run("failed probe is advisory", func(t *testing.T) {
		status := &stubStatus{err: errors.New("api unreachable")}
		l, slept := newTestLimiter(5000, 1, status)

		require.NoError(t, l.CheckAndThrottle(context.Background()))
		assert.Empty(t, *slept)
	})
}

func TestSplitRepository(t *testing.T) {
	t.Run("valid reference", func(t *testing.T) {
		owner, name, err := SplitRepository("octocat/hello-world")
		require.NoError(t, err)
		assert.Equal(t, "octocat", owner)
		assert.Equal(t, "hello-world", name)
	})

	t.Run("invalid references", func(t *testing.T) {
		for _, ref := range []string{"", "octocat", "octocat/", "/hello", "a/b/c"} {
			_, _, err := SplitRepository(ref)
			assert.ErrorIs(t, err, ErrInvalidRepository, "ref %q", ref)
		}
	})
}
