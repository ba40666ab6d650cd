package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by tier (memory, redis).
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_cache_hits_total",
			Help: "Total number of response cache hits",
		},
		[]string{"tier"},
	)

	// CacheMisses tracks cache misses.
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fetch_cache_misses_total",
			Help: "Total number of response cache misses",
		},
	)

	// CacheEvictions tracks LRU evictions and sweep removals.
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_cache_evictions_total",
			Help: "Total number of cache entries removed",
		},
		[]string{"reason"}, // "lru", "expired", "invalidated"
	)

	// CacheSizeBytes tracks the estimated memory tier footprint.
	CacheSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fetch_cache_size_bytes",
			Help: "Estimated size of the in-memory response cache",
		},
	)

	// CacheEntries tracks the memory tier entry count.
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fetch_cache_entries",
			Help: "Number of entries in the in-memory response cache",
		},
	)

	// NotModifiedResponses tracks 304 revalidations.
	NotModifiedResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fetch_304_responses_total",
			Help: "Total number of 304 Not Modified revalidations",
		},
	)

	// ConditionalRequestsSent tracks requests carrying validators.
	ConditionalRequestsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fetch_conditional_requests_total",
			Help: "Total number of conditional requests sent with cache validators",
		},
	)

	// CacheErrors tracks remote tier failures (always degraded to a miss).
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_cache_errors_total",
			Help: "Total number of cache tier errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
