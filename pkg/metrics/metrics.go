// Package metrics provides the Prometheus registry and handler for the
// Manuals client. All metrics are defined in their respective packages (bus,
// cache, retry, storage) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the Manuals client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer collects the metrics registered with Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the registered metrics in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Request Metrics (pkg/bus):
//   - manuals_requests_total{method, status} (Counter): Requests by method and HTTP status ("cache", "network_error", "invalid")
//   - manuals_request_duration_seconds{method} (Histogram): Network round trip duration
//
// Cache Metrics (pkg/cache):
//   - manuals_cache_hits_total (Counter): Reads answered from the cache
//   - manuals_cache_misses_total (Counter): Reads that went to the network
//   - manuals_cache_sets_total (Counter): Responses stored
//   - manuals_cache_evictions_total (Counter): Entries evicted at capacity
//   - manuals_cache_invalidations_total (Counter): Entries removed by pattern invalidation
//   - manuals_cache_entries (Gauge): Current number of entries
//   - manuals_cache_errors_total{operation} (Counter): Cache operation errors
//
// Retry Metrics (pkg/retry):
//   - manuals_retries_scheduled_total{status} (Counter): Scheduled replays by failure status (0 = network error)
//   - manuals_retry_backoff_seconds (Histogram): Backoff before each replay
//   - manuals_retry_exhausted_total (Counter): Requests that ran out of retries
//   - manuals_retry_aborted_total (Counter): Replays abandoned because the request could not be re-issued
//
// Storage Metrics (pkg/storage):
//   - manuals_storage_errors_total{operation} (Counter): Redis store errors
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(manuals_cache_hits_total[5m])) /
//   (sum(rate(manuals_cache_hits_total[5m])) + sum(rate(manuals_cache_misses_total[5m])))
//
//   # Retry Rate by Status
//   sum by (status) (rate(manuals_retries_scheduled_total[5m]))
//
//   # Exhausted Retries
//   increase(manuals_retry_exhausted_total[1h]) > 0
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(manuals_request_duration_seconds_bucket[5m]))
