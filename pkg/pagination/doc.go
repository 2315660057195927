// Package pagination provides parallel batch fetching for paginated Manuals
// listing endpoints.
//
// Listings such as /devices and /documents are paged with limit/offset
// parameters and report the total number of items. This package implements
// a worker pool that fetches every page of such a listing concurrently.
//
// Example usage:
//
//	config := pagination.DefaultConfig()
//	fetcher := pagination.NewBatchFetcher(manualsClient, config)
//	results, err := fetcher.FetchAllPages(ctx, "/devices?domain=hardware")
//	for _, page := range pagination.Ordered(results) {
//		// decode page
//	}
//
// The batch fetcher:
//   - Fetches first page to determine total pages
//   - Spawns worker pool (default 4 workers)
//   - Distributes remaining pages across workers
//   - Handles errors gracefully (returns partial data)
//
// Each page goes through the client pipeline, so cached pages are served
// without a network call and failed pages are retried before a worker gives up.
package pagination
