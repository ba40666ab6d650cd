// Package metrics documents the Prometheus metrics exposed by the
// source client. The metrics themselves are defined next to the code
// that drives them (breaker, ratelimit, gate, cache, client) to keep
// the packages independent; this package holds the registry reference
// and the inventory.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the Prometheus registerer used by all client metrics.
// Everything is registered via promauto in its own package.
var Registry = prometheus.DefaultRegisterer

// Metrics Inventory
//
// Circuit Breaker (pkg/breaker):
//   - fetch_circuit_trips_total{endpoint} (Counter): Closed to Open transitions
//   - fetch_circuit_state{endpoint} (Gauge): 0 closed, 1 open, 2 half-open
//
// Rate Limit (pkg/ratelimit):
//   - fetch_rate_limit_waits_total{endpoint} (Counter): Callers suspended for window capacity
//   - fetch_rate_limit_burst_total{endpoint} (Counter): Requests admitted on burst allowance
//   - fetch_rate_limit_wait_seconds (Histogram): Time callers spent waiting
//
// Concurrency Gate (pkg/gate):
//   - fetch_inflight_requests (Gauge): Requests currently executing
//   - fetch_queue_depth (Gauge): Requests waiting for a slot
//   - fetch_queue_rejections_total (Counter): Requests rejected by a full queue
//
// Cache (pkg/cache):
//   - fetch_cache_hits_total{tier} (Counter): Hits by tier (memory, redis)
//   - fetch_cache_misses_total (Counter): Misses across all tiers
//   - fetch_cache_evictions_total{reason} (Counter): Removals (lru, expired, invalidated)
//   - fetch_cache_size_bytes (Gauge): Estimated memory tier footprint
//   - fetch_cache_entries (Gauge): Memory tier entry count
//   - fetch_304_responses_total (Counter): Revalidations answered Not Modified
//   - fetch_conditional_requests_total (Counter): Requests sent with validators
//   - fetch_cache_errors_total{operation} (Counter): Tier errors, degraded to misses
//
// Requests (pkg/client):
//   - fetch_requests_total{endpoint, status} (Counter): Outcomes per endpoint
//   - fetch_request_duration_seconds{endpoint} (Histogram): End-to-end latency
//   - fetch_errors_total{class} (Counter): Failures by class (client, server, rate_limit, network)
//
// Retries (pkg/client):
//   - fetch_retries_total{error_class} (Counter): Retry attempts
//   - fetch_retry_backoff_seconds{error_class} (Histogram): Backoff before retries
//   - fetch_retry_exhausted_total{error_class} (Counter): Requests that ran out of budget
//
// Example Prometheus Queries:
//
//   # Cache hit rate
//   sum(rate(fetch_cache_hits_total[5m])) /
//   (sum(rate(fetch_cache_hits_total[5m])) + sum(rate(fetch_cache_misses_total[5m])))
//
//   # Endpoints currently tripped
//   fetch_circuit_state == 1
//
//   # P95 request latency
//   histogram_quantile(0.95, rate(fetch_request_duration_seconds_bucket[5m]))
//
//   # Revalidation effectiveness
//   rate(fetch_304_responses_total[5m]) / rate(fetch_conditional_requests_total[5m])
