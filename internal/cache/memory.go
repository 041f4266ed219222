// Package cache provides the two cooperating caches: a durable file-backed
// keyed cache surviving process restarts, and an in-process byte-budgeted
// cache living for one run.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/reposcribe/reposcribe/internal/metrics"
)

// fallbackEntrySize is used when a value cannot be serialized for size
// estimation.
const fallbackEntrySize = 512

type memoryEntry struct {
	value          any
	size           int64
	hits           int64
	createdAt      time.Time
	lastAccessedAt time.Time
	ttl            time.Duration
}

func (e *memoryEntry) expiresAt() time.Time {
	return e.createdAt.Add(e.ttl)
}

func (e *memoryEntry) expired(now time.Time) bool {
	return now.Sub(e.createdAt) > e.ttl
}

// Stats is a snapshot of the in-process cache's counters.
type Stats struct {
	Hits        int64
	Misses      int64
	Evictions   int64
	Entries     int
	TotalSize   int64
	AverageSize int64
	HitRate     float64
}

// Memory is a byte-budgeted in-process cache with a pluggable eviction
// policy. It is safe for concurrent use. The expiry sweeper must be started
// and stopped explicitly by the owning run.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry

	budget     int64
	totalSize  int64
	policy     EvictionPolicy
	defaultTTL time.Duration

	hits      int64
	misses    int64
	evictions int64

	sweepInterval time.Duration
	sweepCancel   context.CancelFunc
	sweepDone     chan struct{}

	logger *logrus.Entry
}

// NewMemory creates an in-process cache with the given byte budget, eviction
// policy, default TTL, and sweep interval.
func NewMemory(budget int64, policy EvictionPolicy, defaultTTL, sweepInterval time.Duration, logger *logrus.Entry) *Memory {
	if budget < 1 {
		budget = 1
	}
	return &Memory{
		entries:       make(map[string]*memoryEntry),
		budget:        budget,
		policy:        policy,
		defaultTTL:    defaultTTL,
		sweepInterval: sweepInterval,
		logger:        logger,
	}
}

// Get returns the cached value for key. An entry past its TTL is evicted
// lazily and counts as a miss.
func (m *Memory) Get(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		m.misses++
		metrics.CacheMisses.WithLabelValues("memory").Inc()
		return nil, false
	}

	if e.expired(time.Now()) {
		m.removeLocked(key)
		m.misses++
		metrics.CacheMisses.WithLabelValues("memory").Inc()
		return nil, false
	}

	e.hits++
	e.lastAccessedAt = time.Now()
	m.hits++
	metrics.CacheHits.WithLabelValues("memory").Inc()
	return e.value, true
}

// Set stores value under key with the default TTL.
func (m *Memory) Set(key string, value any) {
	m.SetWithTTL(key, value, m.defaultTTL)
}

// SetWithTTL stores value under key. The entry's size is estimated from its
// serialized form; if the insertion would exceed the byte budget, entries
// chosen by the eviction policy are removed one at a time until it fits. A
// value larger than the whole budget is not stored.
func (m *Memory) SetWithTTL(key string, value any, ttl time.Duration) {
	size := estimateSize(value)

	m.mu.Lock()
	defer m.mu.Unlock()

	if size > m.budget {
		m.logger.WithFields(logrus.Fields{
			"key":  key,
			"size": size,
		}).Warn("entry exceeds cache budget, not caching")
		return
	}

	// Replacing an existing entry frees its space first.
	if _, ok := m.entries[key]; ok {
		m.removeLocked(key)
	}

	for m.totalSize+size > m.budget && len(m.entries) > 0 {
		victim := m.policy.Candidate(m.metasLocked())
		m.removeLocked(victim)
		m.evictions++
		metrics.CacheEvictions.Inc()
	}

	now := time.Now()
	m.entries[key] = &memoryEntry{
		value:          value,
		size:           size,
		createdAt:      now,
		lastAccessedAt: now,
		ttl:            ttl,
	}
	m.totalSize += size
}

// Delete removes key if present.
func (m *Memory) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(key)
}

// Clear removes every entry.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*memoryEntry)
	m.totalSize = 0
}

// removeLocked deletes key and adjusts the size accounting. Caller holds mu.
func (m *Memory) removeLocked(key string) {
	if e, ok := m.entries[key]; ok {
		m.totalSize -= e.size
		delete(m.entries, key)
	}
}

// metasLocked snapshots per-entry bookkeeping for the policy. Caller holds mu.
func (m *Memory) metasLocked() []EntryMeta {
	metas := make([]EntryMeta, 0, len(m.entries))
	for k, e := range m.entries {
		metas = append(metas, EntryMeta{
			Key:            k,
			Hits:           e.hits,
			Size:           e.size,
			CreatedAt:      e.createdAt,
			LastAccessedAt: e.lastAccessedAt,
			ExpiresAt:      e.expiresAt(),
		})
	}
	return metas
}

// Stats returns a snapshot of the cache's counters.
func (m *Memory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		Hits:      m.hits,
		Misses:    m.misses,
		Evictions: m.evictions,
		Entries:   len(m.entries),
		TotalSize: m.totalSize,
	}
	if s.Entries > 0 {
		s.AverageSize = s.TotalSize / int64(s.Entries)
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// Validate cross-verifies the tracked aggregate size against the live entry
// set and flags expired-but-present entries. It returns a list of
// inconsistencies, empty when the cache is healthy.
func (m *Memory) Validate() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var problems []string

	var sum int64
	now := time.Now()
	for k, e := range m.entries {
		sum += e.size
		if e.expired(now) {
			problems = append(problems, fmt.Sprintf("entry %q expired but still present", k))
		}
	}
	if sum != m.totalSize {
		problems = append(problems, fmt.Sprintf("tracked size %d != live sum %d", m.totalSize, sum))
	}

	return problems
}

// StartSweeper launches the periodic expiry sweep. It stops when ctx is
// cancelled or StopSweeper is called. Starting an already-running sweeper is
// a no-op.
func (m *Memory) StartSweeper(ctx context.Context) {
	m.mu.Lock()
	if m.sweepCancel != nil || m.sweepInterval <= 0 {
		m.mu.Unlock()
		return
	}
	ctx, m.sweepCancel = context.WithCancel(ctx)
	m.sweepDone = make(chan struct{})
	done := m.sweepDone
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.sweepExpired(); n > 0 {
					m.logger.WithField("removed", n).Debug("expiry sweep removed entries")
				}
			}
		}
	}()
}

// StopSweeper stops the periodic sweep and blocks until the goroutine exits.
func (m *Memory) StopSweeper() {
	m.mu.Lock()
	cancel := m.sweepCancel
	done := m.sweepDone
	m.sweepCancel = nil
	m.sweepDone = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// sweepExpired removes every expired entry, returning how many were removed.
func (m *Memory) sweepExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	removed := 0
	for k, e := range m.entries {
		if e.expired(now) {
			m.removeLocked(k)
			removed++
		}
	}
	return removed
}

// estimateSize approximates an entry's memory footprint from its serialized
// form.
func estimateSize(value any) int64 {
	data, err := json.Marshal(value)
	if err != nil {
		return fallbackEntrySize
	}
	return int64(len(data))
}
