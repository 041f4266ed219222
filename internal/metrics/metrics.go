// Package metrics holds the process-wide Prometheus instrumentation shared by
// the client, caches, and retry layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APIRequests counts outbound GitHub API requests.
	APIRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reposcribe_api_requests_total",
		Help: "Total GitHub API requests issued.",
	})

	// APIRetries counts retry attempts made by the rate limiter and the
	// adaptive retry layer.
	APIRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reposcribe_api_request_retries_total",
		Help: "Total retry attempts for failed API requests.",
	})

	// CacheHits counts cache hits per cache kind ("durable" or "memory").
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reposcribe_cache_hits_total",
		Help: "Total cache hits.",
	}, []string{"cache"})

	// CacheMisses counts cache misses per cache kind.
	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reposcribe_cache_misses_total",
		Help: "Total cache misses.",
	}, []string{"cache"})

	// CacheEvictions counts in-process cache evictions.
	CacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reposcribe_cache_evictions_total",
		Help: "Total entries evicted from the in-process cache.",
	})

	// ReservoirRemaining tracks the rate limiter's remaining call budget.
	ReservoirRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reposcribe_reservoir_remaining",
		Help: "Remaining requests in the current rate-limit window.",
	})

	// ChunksFailed counts chunks that permanently exhausted their retry budget.
	ChunksFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reposcribe_chunks_failed_total",
		Help: "Total chunks skipped after exhausting retries.",
	})

	// ItemsExported counts exported items per resource type.
	ItemsExported = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reposcribe_items_exported_total",
		Help: "Total items written to the output directory.",
	}, []string{"resource"})
)
