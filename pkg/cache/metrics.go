package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "manuals_cache_hits_total",
			Help: "Total number of response cache hits",
		},
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "manuals_cache_misses_total",
			Help: "Total number of response cache misses",
		},
	)

	// CacheSets tracks stored entries
	CacheSets = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "manuals_cache_sets_total",
			Help: "Total number of responses stored in the cache",
		},
	)

	// CacheEvictions tracks capacity evictions
	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "manuals_cache_evictions_total",
			Help: "Total number of entries evicted to stay within capacity",
		},
	)

	// CacheInvalidations tracks entries removed by write invalidation
	CacheInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "manuals_cache_invalidations_total",
			Help: "Total number of entries removed by pattern invalidation",
		},
	)

	// CacheEntries tracks the current number of entries
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "manuals_cache_entries",
			Help: "Current number of entries in the response cache",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manuals_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "key", "set"
	)
)
