package bus

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Doer executes HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the dispatcher configuration.
type Config struct {
	// BaseURL is prefixed to every request path.
	BaseURL string

	// HTTPClient executes requests (default: http.Client with 30s timeout).
	HTTPClient Doer

	// UserAgent is sent with every request when set.
	UserAgent string

	// Logger overrides the component logger.
	Logger *zerolog.Logger
}

// Dispatcher sends requests and notifies observers. It is the explicit
// replacement for document-global request events.
type Dispatcher struct {
	baseURL    string
	httpClient Doer
	userAgent  string
	logger     zerolog.Logger

	mu        sync.RWMutex
	observers []RequestObserver
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg Config) *Dispatcher {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	logger := log.With().Str("component", "bus").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Dispatcher{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		userAgent:  cfg.UserAgent,
		logger:     logger,
	}
}

// Use registers observers. Observers are notified in registration order.
func (d *Dispatcher) Use(observers ...RequestObserver) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, observers...)
}

func (d *Dispatcher) snapshot() []RequestObserver {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]RequestObserver, len(d.observers))
	copy(out, d.observers)
	return out
}

// Dispatch runs a request through the pipeline: before-send observers,
// network call (unless short-circuited), after-complete observers, target.
// The returned error is only set for local descriptor errors; transport and
// HTTP failures are reported on the Completion.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (*Completion, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Header == nil {
		req.Header = make(http.Header)
	}

	observers := d.snapshot()

	before := &BeforeSend{Request: req}
	for _, obs := range observers {
		obs.BeforeSend(ctx, before)
		if before.Responded() {
			break
		}
	}

	var comp *Completion
	if before.Responded() {
		// Synthesized completion so downstream observers behave as for a
		// live response.
		comp = &Completion{
			Request:    req,
			StatusCode: http.StatusOK,
			Header:     before.header,
			Body:       before.body,
			Successful: true,
			FromCache:  true,
		}
		requestsTotal.WithLabelValues(req.Method, "cache").Inc()
		d.logger.Debug().
			Str("method", req.Method).
			Str("path", req.Path).
			Msg("Request served from cache")
	} else {
		comp = d.send(ctx, req)
	}

	for _, obs := range observers {
		obs.AfterComplete(ctx, comp)
	}

	if req.Target != nil {
		req.Target.Deliver(comp)
	}

	return comp, nil
}

// Replay re-issues a request verbatim.
func (d *Dispatcher) Replay(ctx context.Context, req *Request) error {
	_, err := d.Dispatch(ctx, req)
	return err
}

// send performs the HTTP round trip and turns the outcome into a Completion.
func (d *Dispatcher) send(ctx context.Context, req *Request) *Completion {
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
	}()

	comp := &Completion{Request: req}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, d.baseURL+req.Path, body)
	if err != nil {
		comp.Err = fmt.Errorf("create request: %w", err)
		requestsTotal.WithLabelValues(req.Method, "invalid").Inc()
		return comp
	}
	httpReq.Header = req.Header.Clone()
	if d.userAgent != "" {
		httpReq.Header.Set("User-Agent", d.userAgent)
	}

	d.logger.Debug().
		Str("method", req.Method).
		Str("path", req.Path).
		Str("request_id", req.ID).
		Msg("Executing request")

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		d.logger.Warn().Err(err).Str("path", req.Path).Msg("HTTP request failed")
		comp.Err = fmt.Errorf("request failed: %w", err)
		requestsTotal.WithLabelValues(req.Method, "network_error").Inc()
		return comp
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		// A truncated body is treated like no response at all.
		d.logger.Warn().Err(err).Str("path", req.Path).Msg("Failed to read response body")
		comp.Err = fmt.Errorf("read response body: %w", err)
		requestsTotal.WithLabelValues(req.Method, "network_error").Inc()
		return comp
	}

	comp.StatusCode = resp.StatusCode
	comp.Header = resp.Header.Clone()
	comp.Body = data
	comp.Successful = resp.StatusCode >= 200 && resp.StatusCode < 300

	requestsTotal.WithLabelValues(req.Method, strconv.Itoa(resp.StatusCode)).Inc()

	if !comp.Successful {
		d.logger.Warn().
			Str("method", req.Method).
			Str("path", req.Path).
			Int("status", resp.StatusCode).
			Msg("Request error")
	}

	return comp
}
