// Package client provides the Manuals API client built on the request bus,
// with the response cache and the retry manager attached as observers.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/manuals-client/pkg/bus"
	"github.com/Sternrassler/manuals-client/pkg/cache"
	"github.com/Sternrassler/manuals-client/pkg/notify"
	"github.com/Sternrassler/manuals-client/pkg/retry"
)

// APIVersion is the API version to use.
const APIVersion = "2025.12"

// Client is the Manuals API client.
type Client struct {
	config     Config
	dispatcher *bus.Dispatcher
	direct     *bus.Dispatcher
	cache      *cache.Manager
	retry      *retry.Manager
	notifier   notify.Notifier
	logger     zerolog.Logger

	stopSweeper context.CancelFunc
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the Manuals API, e.g. "http://localhost:8080" (REQUIRED)
	BaseURL string

	// APIKey is sent as X-API-Key when set (anonymous access otherwise)
	APIKey string

	// UserAgent header (REQUIRED)
	UserAgent string

	// Timeout per HTTP round trip
	Timeout time.Duration

	// HTTPClient overrides the transport (tests)
	HTTPClient bus.Doer

	// Cache configures the response cache
	Cache cache.Config

	// Retry configures the retry manager
	Retry retry.Config

	// DisableRetry detaches the retry manager
	DisableRetry bool

	// Notifier receives user-facing messages (default: discard)
	Notifier notify.Notifier

	// RetryOptions are passed to the retry manager (tests)
	RetryOptions []retry.Option

	// CacheOptions are passed to the cache manager (tests)
	CacheOptions []cache.Option
}

// DefaultConfig returns a default configuration for the API at baseURL.
func DefaultConfig(baseURL, apiKey string) Config {
	return Config{
		BaseURL:   baseURL,
		APIKey:    apiKey,
		UserAgent: "manuals-client/0.1.0",
		Timeout:   30 * time.Second,
		Cache:     cache.DefaultConfig(),
		Retry:     retry.DefaultConfig(),
	}
}

// New creates a new Manuals client and starts the cache sweeper.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL is required", ErrInvalidConfig)
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: base URL %q must be absolute", ErrInvalidConfig, cfg.BaseURL)
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("%w: user-agent is required", ErrInvalidConfig)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Discard
	}

	logger := log.With().Str("component", "manuals-client").Logger()

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	busCfg := bus.Config{
		BaseURL:    cfg.BaseURL,
		HTTPClient: httpClient,
		UserAgent:  cfg.UserAgent,
	}
	dispatcher := bus.NewDispatcher(busCfg)

	cacheManager := cache.NewManager(cfg.Cache, cfg.CacheOptions...)
	dispatcher.Use(cache.NewObserver(cacheManager))

	var retryManager *retry.Manager
	if !cfg.DisableRetry {
		opts := append([]retry.Option{retry.WithNotifier(cfg.Notifier)}, cfg.RetryOptions...)
		retryManager = retry.NewManager(cfg.Retry, dispatcher, opts...)
		dispatcher.Use(retry.NewObserver(retryManager))
	}

	dispatcher.Use(notify.NewObserver(cfg.Notifier))

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	cacheManager.StartSweeper(sweepCtx)

	return &Client{
		config:      cfg,
		dispatcher:  dispatcher,
		direct:      bus.NewDispatcher(busCfg),
		cache:       cacheManager,
		retry:       retryManager,
		notifier:    cfg.Notifier,
		logger:      logger,
		stopSweeper: stopSweeper,
	}, nil
}

// Do sends a request through the pipeline. When the request fails with a
// retryable status, Do waits for the scheduled replays and returns the
// final completion. The completion is returned together with an error for
// non-2xx results so callers can forward the upstream response.
func (c *Client) Do(ctx context.Context, req *bus.Request) (*bus.Completion, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	maxCompletions := 1
	if c.retry != nil {
		maxCompletions += c.retry.Config().MaxRetries
	}
	results := bus.NewResultTarget(maxCompletions + 1)

	// Replays reuse this request, so the target stays attached to it.
	prev := req.Target
	req.Target = bus.TargetFunc(func(comp *bus.Completion) {
		if prev != nil {
			prev.Deliver(comp)
		}
		results.Deliver(comp)
	})

	if _, err := c.dispatcher.Dispatch(ctx, req); err != nil {
		return nil, err
	}

	replays := 0
	for {
		select {
		case comp := <-results.C:
			if comp.Successful || c.retry == nil || !c.retry.Pending(req.ID) {
				return comp, c.completionError(ctx, comp, replays)
			}
			replays++
			c.logger.Debug().
				Str("request_id", req.ID).
				Int("status", comp.StatusCode).
				Msg("Waiting for retry")
		case <-ctx.Done():
			if c.retry != nil {
				c.retry.Cancel(req.ID)
			}
			return nil, fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		}
	}
}

// completionError turns a failed completion into the error returned by Do.
func (c *Client) completionError(ctx context.Context, comp *bus.Completion, replays int) error {
	if comp.Successful {
		return nil
	}

	var err error
	if comp.Err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		}
		err = fmt.Errorf("request failed: %w", comp.Err)
	} else {
		err = newAPIError(comp)
	}

	if c.retry != nil && retry.ShouldRetry(comp.StatusCode) && replays >= c.retry.Config().MaxRetries {
		return fmt.Errorf("%w after %d retries: %w", ErrRetryExhausted, replays, err)
	}
	return err
}

// newRequest builds a request for a versioned API path.
func (c *Client) newRequest(method, path string, body any) (*bus.Request, error) {
	req := bus.NewRequest(method, "/api/"+APIVersion+path)
	// Only add API key header if configured (allows anonymous access)
	if c.config.APIKey != "" {
		req.Header.Set(cache.APIKeyHeader, c.config.APIKey)
	}
	req.Header.Set("Accept", "application/json")

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		req.Body = data
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// call performs a request and decodes a JSON response into result (if not nil).
func (c *Client) call(ctx context.Context, method, path string, body, result any) error {
	req, err := c.newRequest(method, path, body)
	if err != nil {
		return err
	}

	comp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}

	if result == nil || len(bytes.TrimSpace(comp.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(comp.Body, result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	return c.call(ctx, http.MethodGet, path, nil, result)
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	return c.call(ctx, http.MethodPost, path, body, result)
}

func (c *Client) put(ctx context.Context, path string, body any) error {
	return c.call(ctx, http.MethodPut, path, body, nil)
}

func (c *Client) delete(ctx context.Context, path string) error {
	return c.call(ctx, http.MethodDelete, path, nil, nil)
}

// Cache returns the response cache.
func (c *Client) Cache() *cache.Manager {
	return c.cache
}

// Retry returns the retry manager, nil when retries are disabled.
func (c *Client) Retry() *retry.Manager {
	return c.retry
}

// Dispatcher returns the request bus the client sends through.
func (c *Client) Dispatcher() *bus.Dispatcher {
	return c.dispatcher
}

// APIKey returns the API key for use in proxied requests.
func (c *Client) APIKey() string {
	return c.config.APIKey
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// Close stops the cache sweeper, drops pending retries and clears the cache.
func (c *Client) Close() error {
	c.stopSweeper()
	if c.retry != nil {
		c.retry.Close()
	}
	c.cache.Close()
	c.logger.Info().Msg("Client closed")
	return nil
}
