// Package cache provides the in-memory response cache of the Manuals
// client pipeline.
//
// The cache manager implements the following behavior:
//
// - Entries live for a TTL taken from Cache-Control max-age or Expires
// - Expired entries are never served (lazy removal on lookup)
// - A background sweep removes expired entries once per minute
// - When full, the oldest entry by creation time is evicted
// - Successful writes invalidate entries by path substring
// - Prometheus metrics for observability
//
// # Basic Usage
//
//	manager := cache.NewManager(cache.DefaultConfig())
//	manager.StartSweeper(ctx)
//	defer manager.Close()
//
//	key := cache.Key{Path: "/api/2025.12/devices/5", APIKey: apiKey}
//	if entry, ok := manager.Get(key.String()); ok {
//		// use entry.Data
//	}
//
// # Request Pipeline
//
// The Observer plugs the manager into a bus.Dispatcher:
//
//	dispatcher.Use(cache.NewObserver(manager))
//
// A GET that hits the cache never reaches the network; the dispatcher
// synthesizes a completion so downstream observers behave as for a live
// response. Any failure inside the cache (key derivation, oversized
// bodies) degrades to a plain network request.
//
// # Metrics
//
// The cache manager exports Prometheus metrics:
//
//   - manuals_cache_hits_total - Cache hits
//   - manuals_cache_misses_total - Cache misses
//   - manuals_cache_sets_total - Stored responses
//   - manuals_cache_evictions_total - Capacity evictions
//   - manuals_cache_invalidations_total - Entries removed by invalidation
//   - manuals_cache_entries - Current entry count
//   - manuals_cache_errors_total{operation} - Cache operation errors
package cache
