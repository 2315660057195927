package pagination

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config controls the worker pool.
type Config struct {
	// MaxConcurrency is the maximum number of parallel requests
	MaxConcurrency int
	// Timeout per page fetch
	Timeout time.Duration
	// BufferSize of the page queue and result channels
	BufferSize int
}

// DefaultConfig returns a conservative configuration for the Manuals API
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        15 * time.Second,
		BufferSize:     100,
	}
}

// PageFetcher fetches a single page of a listing endpoint
type PageFetcher interface {
	// FetchPage fetches page pageNum (1-indexed) and returns data + total page count
	FetchPage(ctx context.Context, endpoint string, pageNum int) (data []byte, totalPages int, err error)
}

// PageResult represents the result of fetching a single page
type PageResult struct {
	PageNumber int
	Data       []byte
	Error      error
}

// BatchFetcher handles parallel fetching of multiple pages
type BatchFetcher struct {
	fetcher PageFetcher
	config  Config
}

// NewBatchFetcher creates a new batch fetcher
func NewBatchFetcher(fetcher PageFetcher, config Config) *BatchFetcher {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 100
	}

	return &BatchFetcher{
		fetcher: fetcher,
		config:  config,
	}
}

// FetchAllPages fetches every page of endpoint. Page 1 is fetched first to
// learn the page count, the rest go through a pool of MaxConcurrency workers.
// The returned map is keyed by page number. When a page fails, the pages
// fetched so far are returned together with the error.
func (bf *BatchFetcher) FetchAllPages(ctx context.Context, endpoint string) (map[int][]byte, error) {
	start := time.Now()
	logger := log.With().Str("component", "pagination").Str("endpoint", endpoint).Logger()

	first, totalPages, err := bf.fetcher.FetchPage(ctx, endpoint, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch first page: %w", err)
	}
	results := map[int][]byte{1: first}
	if totalPages <= 1 {
		logger.Debug().Dur("duration", time.Since(start)).Msg("Listing fits in one page")
		return results, nil
	}

	logger.Info().
		Int("total_pages", totalPages).
		Int("workers", bf.config.MaxConcurrency).
		Msg("Fetching remaining pages")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	run := &pageRun{
		fetcher:  bf.fetcher,
		endpoint: endpoint,
		timeout:  bf.config.Timeout,
		logger:   logger,
		queue:    make(chan int, bf.config.BufferSize),
		pages:    make(chan PageResult, bf.config.BufferSize),
	}
	go run.enqueue(ctx, 2, totalPages)

	var wg sync.WaitGroup
	for id := range bf.config.MaxConcurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run.work(ctx, id)
		}()
	}
	go func() {
		wg.Wait()
		close(run.pages)
	}()

	for page := range run.pages {
		if page.Error != nil {
			// First failure stops the pool; later pages are drained.
			if err == nil {
				err = page.Error
				cancel()
			}
			continue
		}
		results[page.PageNumber] = page.Data
	}

	fetched := len(results)
	if err != nil {
		logger.Warn().
			Err(err).
			Int("fetched_pages", fetched).
			Int("total_pages", totalPages).
			Msg("Returning partial listing")
		return results, fmt.Errorf("page fetch failed (partial data: %d/%d pages): %w", fetched, totalPages, err)
	}
	if fetched < totalPages {
		return results, fmt.Errorf("fetch interrupted (partial data: %d/%d pages): %w", fetched, totalPages, ctx.Err())
	}

	logger.Info().
		Int("pages", fetched).
		Dur("duration", time.Since(start)).
		Msg("Listing fetched")
	return results, nil
}

// pageRun is the shared state of one FetchAllPages call.
type pageRun struct {
	fetcher  PageFetcher
	endpoint string
	timeout  time.Duration
	logger   zerolog.Logger
	queue    chan int
	pages    chan PageResult
}

func (r *pageRun) enqueue(ctx context.Context, from, to int) {
	defer close(r.queue)
	for page := from; page <= to; page++ {
		select {
		case r.queue <- page:
		case <-ctx.Done():
			return
		}
	}
}

func (r *pageRun) work(ctx context.Context, id int) {
	done := 0
	for pageNum := range r.queue {
		if ctx.Err() != nil {
			r.logger.Debug().Int("worker_id", id).Int("pages_processed", done).Msg("Worker stopped")
			return
		}

		pageCtx, cancel := context.WithTimeout(ctx, r.timeout)
		data, _, err := r.fetcher.FetchPage(pageCtx, r.endpoint, pageNum)
		cancel()

		result := PageResult{PageNumber: pageNum, Data: data}
		if err != nil {
			r.logger.Warn().Err(err).Int("worker_id", id).Int("page", pageNum).Msg("Page fetch failed")
			result = PageResult{PageNumber: pageNum, Error: fmt.Errorf("page %d: %w", pageNum, err)}
		}
		// pages is drained until every worker returns, so this never blocks forever.
		r.pages <- result
		if err != nil {
			return
		}
		done++
	}
}

// Ordered returns the fetched pages sorted by page number.
func Ordered(results map[int][]byte) [][]byte {
	pages := slices.Sorted(maps.Keys(results))

	out := make([][]byte, 0, len(pages))
	for _, page := range pages {
		out = append(out, results[page])
	}
	return out
}

// TotalPages returns the number of pages needed for total items at
// pageSize items per page.
func TotalPages(total, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 1
	}
	return (total + pageSize - 1) / pageSize
}
