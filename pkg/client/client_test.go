package client

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/manuals-client/internal/testutil"
	"github.com/Sternrassler/manuals-client/pkg/bus"
	"github.com/Sternrassler/manuals-client/pkg/notify"
	"github.com/Sternrassler/manuals-client/pkg/retry"
)

// fastRetry keeps backoffs in the millisecond range.
func fastRetry() retry.Config {
	return retry.Config{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		JitterMax:  time.Millisecond,
		MaxDelay:   10 * time.Millisecond,
	}
}

// newTestClient creates a client against the mock with fast retries.
func newTestClient(t *testing.T, mock *testutil.MockManuals, mutate ...func(*Config)) (*Client, *notify.Bus) {
	t.Helper()

	notifications := notify.NewBus()
	cfg := DefaultConfig(mock.URL(), "test-key")
	cfg.Retry = fastRetry()
	cfg.Notifier = notifications
	for _, m := range mutate {
		m(&cfg)
	}

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, notifications
}

func hasNotification(b *notify.Bus, level notify.Level, prefix string) bool {
	for _, n := range b.Recent() {
		if n.Level == level && strings.HasPrefix(n.Message, prefix) {
			return true
		}
	}
	return false
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid config",
			config:      DefaultConfig("http://localhost:8080", "key"),
			expectError: false,
		},
		{
			name:        "anonymous access",
			config:      DefaultConfig("http://localhost:8080", ""),
			expectError: false,
		},
		{
			name:        "empty base URL",
			config:      DefaultConfig("", "key"),
			expectError: true,
			errorMsg:    "base URL is required",
		},
		{
			name:        "relative base URL",
			config:      DefaultConfig("localhost", "key"),
			expectError: true,
			errorMsg:    "must be absolute",
		},
		{
			name: "empty user agent",
			config: func() Config {
				cfg := DefaultConfig("http://localhost:8080", "key")
				cfg.UserAgent = ""
				return cfg
			}(),
			expectError: true,
			errorMsg:    "user-agent is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.config)
			if tt.expectError {
				if err == nil {
					t.Fatal("Expected error, got nil")
				}
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("Expected ErrInvalidConfig, got %v", err)
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Error %q does not contain %q", err, tt.errorMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			c.Close()
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("http://localhost:8080", "key")

	if cfg.UserAgent == "" {
		t.Error("UserAgent should have a default")
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}
	if !cfg.Cache.Enabled {
		t.Error("Cache should be enabled by default")
	}
	if cfg.Retry.MaxRetries != retry.DefaultMaxRetries {
		t.Errorf("MaxRetries = %d, want %d", cfg.Retry.MaxRetries, retry.DefaultMaxRetries)
	}
}

func TestDo_HeadersSet(t *testing.T) {
	mock := testutil.NewMockManuals()
	defer mock.Close()
	mock.SetResponse(testutil.APIPrefix+"/status", testutil.NewJSONResponse(`{"status":"ok"}`))

	c, _ := newTestClient(t, mock)
	if _, err := c.GetStatus(context.Background()); err != nil {
		t.Fatalf("GetStatus() failed: %v", err)
	}

	header := mock.GetLastRequestHeader()
	if got := header.Get("X-API-Key"); got != "test-key" {
		t.Errorf("X-API-Key = %q, want test-key", got)
	}
	if got := header.Get("User-Agent"); got != c.config.UserAgent {
		t.Errorf("User-Agent = %q, want %q", got, c.config.UserAgent)
	}
}

func TestDo_AnonymousOmitsAPIKey(t *testing.T) {
	mock := testutil.NewMockManuals()
	defer mock.Close()
	mock.SetResponse(testutil.APIPrefix+"/status", testutil.NewJSONResponse(`{"status":"ok"}`))

	c, _ := newTestClient(t, mock, func(cfg *Config) { cfg.APIKey = "" })
	if _, err := c.GetStatus(context.Background()); err != nil {
		t.Fatalf("GetStatus() failed: %v", err)
	}

	if _, ok := mock.GetLastRequestHeader()["X-Api-Key"]; ok {
		t.Error("X-API-Key header should not be sent for anonymous access")
	}
}

func TestDo_CacheHit(t *testing.T) {
	mock := testutil.NewMockManuals()
	defer mock.Close()
	mock.SetResponse(testutil.APIPrefix+"/devices/5", testutil.NewJSONResponse(`{"id":"5","name":"ESP32"}`))

	c, _ := newTestClient(t, mock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		device, err := c.GetDevice(ctx, "5", false)
		if err != nil {
			t.Fatalf("GetDevice() failed: %v", err)
		}
		if device.Name != "ESP32" {
			t.Errorf("Name = %q, want ESP32", device.Name)
		}
	}

	if n := mock.GetPathCount("GET " + testutil.APIPrefix + "/devices/5"); n != 1 {
		t.Errorf("Expected 1 upstream request, got %d", n)
	}

	stats := c.Cache().Stats()
	if stats.Hits != 2 || stats.Misses != 1 {
		t.Errorf("Stats = %+v, want 2 hits and 1 miss", stats)
	}
}

func TestDo_WriteInvalidatesCache(t *testing.T) {
	mock := testutil.NewMockManuals()
	defer mock.Close()
	path := testutil.APIPrefix + "/devices/5"
	mock.SetResponse("GET "+path, testutil.NewJSONResponse(`{"id":"5"}`))
	mock.SetResponse("PUT "+path, testutil.MockResponse{StatusCode: http.StatusNoContent})

	c, _ := newTestClient(t, mock)
	ctx := context.Background()

	if _, err := c.GetDevice(ctx, "5", false); err != nil {
		t.Fatalf("GetDevice() failed: %v", err)
	}

	req := bus.NewRequest(http.MethodPut, path)
	req.Header.Set("X-API-Key", "test-key")
	req.Body = []byte(`{"name":"renamed"}`)
	if _, err := c.Do(ctx, req); err != nil {
		t.Fatalf("Do(PUT) failed: %v", err)
	}

	if _, err := c.GetDevice(ctx, "5", false); err != nil {
		t.Fatalf("GetDevice() failed: %v", err)
	}
	if n := mock.GetPathCount("GET " + path); n != 2 {
		t.Errorf("Expected refetch after write, got %d upstream GETs", n)
	}
}

func TestDo_CacheSeparatedByAPIKey(t *testing.T) {
	mock := testutil.NewMockManuals()
	defer mock.Close()
	mock.SetResponse(testutil.APIPrefix+"/me", testutil.NewJSONResponse(`{"user":{"id":"u1"}}`))

	c, _ := newTestClient(t, mock)
	ctx := context.Background()

	for _, key := range []string{"key-a", "key-b", "key-a"} {
		req := bus.NewRequest(http.MethodGet, testutil.APIPrefix+"/me")
		req.Header.Set("X-API-Key", key)
		if _, err := c.Do(ctx, req); err != nil {
			t.Fatalf("Do() failed: %v", err)
		}
	}

	if n := mock.GetPathCount("GET " + testutil.APIPrefix + "/me"); n != 2 {
		t.Errorf("Expected 2 upstream requests (one per key), got %d", n)
	}
}

func TestDo_RetryOnServerError(t *testing.T) {
	mock := testutil.NewMockManuals()
	defer mock.Close()
	path := testutil.APIPrefix + "/status"
	mock.SetSequence(path,
		testutil.NewUnavailableResponse(),
		testutil.NewServerErrorResponse(),
		testutil.NewJSONResponse(`{"status":"ok"}`),
	)

	c, notifications := newTestClient(t, mock)

	status, err := c.GetStatus(context.Background())
	if err != nil {
		t.Fatalf("GetStatus() failed: %v", err)
	}
	if status.Status != "ok" {
		t.Errorf("Status = %q, want ok", status.Status)
	}
	if n := mock.GetPathCount("GET " + path); n != 3 {
		t.Errorf("Expected 3 attempts (2 retries), got %d", n)
	}
	if !hasNotification(notifications, notify.LevelWarning, "Request failed (503). Retrying in") {
		t.Errorf("Missing retry warning, got %+v", notifications.Recent())
	}
}

func TestDo_RetryOnRateLimit(t *testing.T) {
	mock := testutil.NewMockManuals()
	defer mock.Close()
	path := testutil.APIPrefix + "/status"
	mock.SetSequence(path, testutil.NewRateLimitResponse(), testutil.NewJSONResponse(`{"status":"ok"}`))

	c, _ := newTestClient(t, mock)
	if _, err := c.GetStatus(context.Background()); err != nil {
		t.Fatalf("GetStatus() failed: %v", err)
	}
	if n := mock.GetPathCount("GET " + path); n != 2 {
		t.Errorf("Expected 2 attempts (1 retry), got %d", n)
	}
}

func TestDo_NoRetryOnClientError(t *testing.T) {
	mock := testutil.NewMockManuals()
	defer mock.Close()
	path := testutil.APIPrefix + "/devices/missing"
	mock.SetResponse(path, testutil.NewErrorResponse(http.StatusNotFound, "device not found"))

	c, notifications := newTestClient(t, mock)

	_, err := c.GetDevice(context.Background(), "missing", false)
	if !IsNotFound(err) {
		t.Fatalf("Expected not found error, got %v", err)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "device not found" {
		t.Errorf("APIError = %+v, want message from body", apiErr)
	}
	if n := mock.GetPathCount("GET " + path); n != 1 {
		t.Errorf("Expected 1 attempt (no retry for 404), got %d", n)
	}
	if !hasNotification(notifications, notify.LevelError, "Resource not found.") {
		t.Errorf("Missing failure notification, got %+v", notifications.Recent())
	}
}

func TestDo_RetryExhausted(t *testing.T) {
	mock := testutil.NewMockManuals()
	defer mock.Close()
	path := testutil.APIPrefix + "/status"
	mock.SetResponse(path, testutil.NewServerErrorResponse())

	c, notifications := newTestClient(t, mock)

	comp, err := c.Do(context.Background(), mustRequest(t, c, http.MethodGet, "/status"))
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("Expected ErrRetryExhausted, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected wrapped APIError 500, got %v", err)
	}
	if comp == nil || comp.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected final completion with status 500, got %+v", comp)
	}

	// Initial request plus MaxRetries replays
	if n := mock.GetPathCount("GET " + path); n != 4 {
		t.Errorf("Expected 4 attempts, got %d", n)
	}
	if !hasNotification(notifications, notify.LevelError, "Request failed after 3 attempts") {
		t.Errorf("Missing exhaustion notification, got %+v", notifications.Recent())
	}
}

func TestDo_RetryDisabled(t *testing.T) {
	mock := testutil.NewMockManuals()
	defer mock.Close()
	path := testutil.APIPrefix + "/status"
	mock.SetResponse(path, testutil.NewUnavailableResponse())

	c, _ := newTestClient(t, mock, func(cfg *Config) { cfg.DisableRetry = true })
	if c.Retry() != nil {
		t.Fatal("Retry() should be nil when retries are disabled")
	}

	_, err := c.GetStatus(context.Background())
	if errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Did not expect ErrRetryExhausted without retries: %v", err)
	}
	if n := mock.GetPathCount("GET " + path); n != 1 {
		t.Errorf("Expected 1 attempt, got %d", n)
	}
}

func TestDo_ContextCancelledWhileWaiting(t *testing.T) {
	mock := testutil.NewMockManuals()
	defer mock.Close()
	path := testutil.APIPrefix + "/status"
	mock.SetResponse(path, testutil.NewUnavailableResponse())

	c, _ := newTestClient(t, mock, func(cfg *Config) {
		cfg.Retry = retry.Config{MaxRetries: 3, BaseDelay: time.Hour, MaxDelay: time.Hour}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	req := mustRequest(t, c, http.MethodGet, "/status")
	_, err := c.Do(ctx, req)
	if !errors.Is(err, ErrContextCancelled) {
		t.Fatalf("Expected ErrContextCancelled, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected wrapped deadline error, got %v", err)
	}
	if c.Retry().Pending(req.ID) {
		t.Error("Pending retry should be cancelled with the caller's context")
	}
	if n := mock.GetPathCount("GET " + path); n != 1 {
		t.Errorf("Expected 1 attempt, got %d", n)
	}
}

func TestDo_NetworkError(t *testing.T) {
	mock := testutil.NewMockManuals()
	url := mock.URL()
	mock.Close()

	notifications := notify.NewBus()
	cfg := DefaultConfig(url, "")
	cfg.Retry = retry.Config{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	cfg.Notifier = notifications
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer c.Close()

	_, err = c.GetStatus(context.Background())
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("Expected ErrRetryExhausted for network error, got %v", err)
	}
	if !hasNotification(notifications, notify.LevelWarning, "Request failed (network error)") {
		t.Errorf("Missing network error warning, got %+v", notifications.Recent())
	}
}

func TestGetHealth(t *testing.T) {
	mock := testutil.NewMockManuals()
	defer mock.Close()
	mock.SetResponse("/health", testutil.NewJSONResponse(`{"status":"healthy"}`))

	c, _ := newTestClient(t, mock)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		body, err := c.GetHealth(ctx)
		if err != nil {
			t.Fatalf("GetHealth() failed: %v", err)
		}
		if string(body) != `{"status":"healthy"}` {
			t.Errorf("body = %s", body)
		}
	}

	if n := mock.GetPathCount("GET /health"); n != 2 {
		t.Errorf("Health checks must bypass the cache, got %d upstream requests", n)
	}
	if _, ok := mock.GetLastRequestHeader()["X-Api-Key"]; ok {
		t.Error("Health check must not send an API key")
	}
}

func TestGetHealth_Failure(t *testing.T) {
	mock := testutil.NewMockManuals()
	defer mock.Close()
	mock.SetResponse("/health", testutil.NewUnavailableResponse())

	c, _ := newTestClient(t, mock)
	if _, err := c.GetHealth(context.Background()); err == nil {
		t.Fatal("Expected error for unhealthy API")
	}
	if n := mock.GetPathCount("GET /health"); n != 1 {
		t.Errorf("Health checks are not retried, got %d requests", n)
	}
}

func TestClose(t *testing.T) {
	mock := testutil.NewMockManuals()
	defer mock.Close()
	mock.SetResponse(testutil.APIPrefix+"/status", testutil.NewJSONResponse(`{"status":"ok"}`))

	c, err := New(DefaultConfig(mock.URL(), ""))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	if _, err := c.GetStatus(context.Background()); err != nil {
		t.Fatalf("GetStatus() failed: %v", err)
	}
	if c.Cache().Len() != 1 {
		t.Fatalf("Expected 1 cached entry, got %d", c.Cache().Len())
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if c.Cache().Len() != 0 {
		t.Errorf("Cache should be empty after Close, got %d entries", c.Cache().Len())
	}
}

func mustRequest(t *testing.T, c *Client, method, path string) *bus.Request {
	t.Helper()
	req, err := c.newRequest(method, path, nil)
	if err != nil {
		t.Fatalf("newRequest() failed: %v", err)
	}
	return req
}
