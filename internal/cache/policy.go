package cache

import (
	"fmt"
	"time"
)

// Policy names accepted by PolicyByName.
const (
	PolicyLRU  = "lru"  // least recently accessed
	PolicyLFU  = "lfu"  // fewest hits
	PolicyFIFO = "fifo" // earliest inserted
	PolicyTTL  = "ttl"  // soonest to expire
)

// EntryMeta is the per-entry bookkeeping an eviction policy may inspect.
type EntryMeta struct {
	Key            string
	Hits           int64
	Size           int64
	CreatedAt      time.Time
	LastAccessedAt time.Time
	ExpiresAt      time.Time
}

// EvictionPolicy chooses which entry to remove when the byte budget would be
// exceeded. Candidate is called with the live entry set and returns the key
// to evict; it is never called with an empty set.
type EvictionPolicy interface {
	Name() string
	Candidate(entries []EntryMeta) string
}

// PolicyByName returns the eviction policy registered under name.
func PolicyByName(name string) (EvictionPolicy, error) {
	switch name {
	case PolicyLRU, "":
		return leastRecentlyAccessed{}, nil
	case PolicyLFU:
		return fewestHits{}, nil
	case PolicyFIFO:
		return earliestInserted{}, nil
	case PolicyTTL:
		return soonestToExpire{}, nil
	default:
		return nil, fmt.Errorf("unknown eviction policy %q", name)
	}
}

type leastRecentlyAccessed struct{}

func (leastRecentlyAccessed) Name() string { return PolicyLRU }

func (leastRecentlyAccessed) Candidate(entries []EntryMeta) string {
	best := entries[0]
	for _, e := range entries[1:] {
		if e.LastAccessedAt.Before(best.LastAccessedAt) {
			best = e
		}
	}
	return best.Key
}

type fewestHits struct{}

func (fewestHits) Name() string { return PolicyLFU }

func (fewestHits) Candidate(entries []EntryMeta) string {
	best := entries[0]
	for _, e := range entries[1:] {
		if e.Hits < best.Hits {
			best = e
		}
	}
	return best.Key
}

type earliestInserted struct{}

func (earliestInserted) Name() string { return PolicyFIFO }

func (earliestInserted) Candidate(entries []EntryMeta) string {
	best := entries[0]
	for _, e := range entries[1:] {
		if e.CreatedAt.Before(best.CreatedAt) {
			best = e
		}
	}
	return best.Key
}

type soonestToExpire struct{}

func (soonestToExpire) Name() string { return PolicyTTL }

func (soonestToExpire) Candidate(entries []EntryMeta) string {
	best := entries[0]
	for _, e := range entries[1:] {
		if e.ExpiresAt.Before(best.ExpiresAt) {
			best = e
		}
	}
	return best.Key
}
