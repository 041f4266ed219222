package cache

import (
	"context"
	"fmt"
	"io"
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

func newTestMemory(t *testing.T, budget int64, policy string) *Memory {
	t.Helper()
	p, err := PolicyByName(policy)
	require.NoError(t, err)
	return NewMemory(budget, p, time.Minute, time.Minute, testLogger())
}

func TestMemoryGetSet(t *testing.T) {
	t.Run("round-trips a value", func(t *testing.T) {
		m := newTestMemory(t, 1<<20, PolicyLRU)
		m.Set("k", "hello")

		v, ok := m.Get("k")
		require.True(t, ok)
		assert.Equal(t, "hello", v)

		stats := m.Stats()
		assert.Equal(t, int64(1), stats.Hits)
		assert.Equal(t, int64(0), stats.Misses)
	})

	t.Run("missing key is a miss", func(t *testing.T) {
		m := newTestMemory(t, 1<<20, PolicyLRU)

		_, ok := m.Get("absent")
		assert.False(t, ok)
		assert.Equal(t, int64(1), m.Stats().Misses)
	})

	t.Run("expired entry is evicted lazily", func(t *testing.T) {
		m := newTestMemory(t, 1<<20, PolicyLRU)
		m.SetWithTTL("k", "v", 10*time.Millisecond)
		time.Sleep(50 * time.Millisecond)

		_, ok := m.Get("k")
		assert.False(t, ok)
		assert.Equal(t, int64(1), m.Stats().Misses)
		assert.Equal(t, 0, m.Stats().Entries)
	})

	t.Run("replacing a key does not leak size", func(t *testing.T) {
		m := newTestMemory(t, 1<<20, PolicyLRU)
		m.Set("k", "aaaaaaaaaa")
		m.Set("k", "bb")

		stats := m.Stats()
		assert.Equal(t, 1, stats.Entries)
		assert.Empty(t, m.Validate())
	})
}

func TestMemoryEviction(t *testing.T) {
	t.Run("stays within the byte budget", func(t *testing.T) {
		// Each value is 22 serialized bytes; budget fits roughly 4.
		m := newTestMemory(t, 100, PolicyLRU)
		for i := 0; i < 20; i++ {
			m.Set(fmt.Sprintf("key-%02d", i), "aaaaaaaaaaaaaaaaaaaa")
		}

		stats := m.Stats()
		assert.Less(t, stats.Entries, 20)
		assert.Greater(t, stats.Evictions, int64(0))
		assert.LessOrEqual(t, stats.TotalSize, int64(100))
		assert.Empty(t, m.Validate())
	})

	t.Run("lru keeps the freshly accessed key", func(t *testing.T) {
		m := newTestMemory(t, 60, PolicyLRU)
		m.Set("old", "aaaaaaaaaaaaaaaaaaaa")
		m.Set("hot", "bbbbbbbbbbbbbbbbbbbb")

		// Touch "hot" so "old" is the LRU victim.
		_, ok := m.Get("hot")
		require.True(t, ok)

		m.Set("new", "cccccccccccccccccccc")

		_, ok = m.Get("hot")
		assert.True(t, ok)
		_, ok = m.Get("old")
		assert.False(t, ok)
	})

	t.Run("lfu evicts the least hit key", func(t *testing.T) {
		m := newTestMemory(t, 60, PolicyLFU)
		m.Set("cold", "aaaaaaaaaaaaaaaaaaaa")
		m.Set("hot", "bbbbbbbbbbbbbbbbbbbb")
		for i := 0; i < 3; i++ {
			m.Get("hot")
		}

		m.Set("new", "cccccccccccccccccccc")

		_, ok := m.Get("hot")
		assert.True(t, ok)
		_, ok = m.Get("cold")
		assert.False(t, ok)
	})

	t.Run("oversized entry is rejected outright", func(t *testing.T) {
		m := newTestMemory(t, 10, PolicyLRU)
		m.Set("huge", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

		_, ok := m.Get("huge")
		assert.False(t, ok)
		assert.Equal(t, 0, m.Stats().Entries)
	})
}

func TestMemoryStats(t *testing.T) {
	m := newTestMemory(t, 1<<20, PolicyLRU)
	m.Set("a", "x")
	m.Set("b", "y")
	m.Get("a")
	m.Get("a")
	m.Get("absent")

	stats := m.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 2, stats.Entries)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 0.001)
	assert.Greater(t, stats.AverageSize, int64(0))
}

func TestMemorySweeper(t *testing.T) {
	p, err := PolicyByName(PolicyLRU)
	require.NoError(t, err)
	m := NewMemory(1<<20, p, time.Minute, 20*time.Millisecond, testLogger())

	m.SetWithTTL("short", "v", 10*time.Millisecond)
	m.Set("long", "v")

	m.StartSweeper(context.Background())
	defer m.StopSweeper()

	assert.Eventually(t, func() bool {
		return m.Stats().Entries == 1
	}, time.Second, 10*time.Millisecond)

	_, ok := m.Get("long")
	assert.True(t, ok)
}

func TestMemorySweeperLifecycle(t *testing.T) {
	m := newTestMemory(t, 1<<20, PolicyLRU)

	// Stop without start is a no-op.
	m.StopSweeper()

	m.StartSweeper(context.Background())
	// Second start is a no-op.
	m.StartSweeper(context.Background())
	m.StopSweeper()
	// Stop is idempotent.
	m.StopSweeper()
}

func TestPolicyByName(t *testing.T) {
	for _, name := range []string{PolicyLRU, PolicyLFU, PolicyFIFO, PolicyTTL} {
		p, err := PolicyByName(name)
		require.NoError(t, err)
		assert.Equal(t, name, p.Name())
	}

	t.Run("empty name defaults to lru", func(t *testing.T) {
		p, err := PolicyByName("")
		require.NoError(t, err)
		assert.Equal(t, PolicyLRU, p.Name())
	})

	t.Run("unknown name errors", func(t *testing.T) {
		_, err := PolicyByName("random")
		assert.Error(t, err)
	})
}

func TestPolicyCandidates(t *testing.T) {
	base := time.Now()
	entries := []EntryMeta{
		{Key: "a", Hits: 5, CreatedAt: base.Add(-3 * time.Hour), LastAccessedAt: base.Add(-1 * time.Minute), ExpiresAt: base.Add(3 * time.Hour)},
		{Key: "b", Hits: 1, CreatedAt: base.Add(-1 * time.Hour), LastAccessedAt: base.Add(-2 * time.Hour), ExpiresAt: base.Add(1 * time.Hour)},
		{Key: "c", Hits: 9, CreatedAt: base.Add(-2 * time.Hour), LastAccessedAt: base.Add(-5 * time.Minute), ExpiresAt: base.Add(2 * time.Hour)},
	}

	tests := []struct {
		policy string
		victim string
	}{
		{PolicyLRU, "b"},  // accessed longest ago
		{PolicyLFU, "b"},  // fewest hits
		{PolicyFIFO, "a"}, // inserted earliest
		{PolicyTTL, "b"},  // expires soonest
	}
	for _, tt := range tests {
		p, err := PolicyByName(tt.policy)
		require.NoError(t, err)
		assert.Equal(t, tt.victim, p.Candidate(entries), "policy %s", tt.policy)
	}
}
