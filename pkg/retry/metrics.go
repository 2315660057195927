package retry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry operations.
var (
	retriesScheduled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "manuals_retries_scheduled_total",
		Help: "Total number of scheduled retries by failure status",
	}, []string{"status"})

	retryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "manuals_retry_backoff_seconds",
		Help:    "Backoff duration of scheduled retries",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30},
	})

	retryExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "manuals_retry_exhausted_total",
		Help: "Total number of requests that ran out of retries",
	})

	retryAborted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "manuals_retry_aborted_total",
		Help: "Total number of retries abandoned because the request could not be replayed",
	})
)
