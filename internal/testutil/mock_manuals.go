// Package testutil provides testing utilities for the Manuals client.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// APIPrefix is the versioned API prefix served by the mock.
const APIPrefix = "/api/2025.12"

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockManuals is a configurable mock Manuals API server for testing.
type MockManuals struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount      int
	PathCounts        map[string]int
	LastRequestHeader http.Header
	LastRequestBody   []byte
}

// NewMockManuals creates a new mock Manuals API server.
func NewMockManuals() *MockManuals {
	mock := &MockManuals{
		handlers:   make(map[string]func(w http.ResponseWriter, r *http.Request)),
		PathCounts: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		mock.mu.Lock()
		mock.RequestCount++
		mock.PathCounts[r.Method+" "+r.URL.Path]++
		mock.LastRequestHeader = r.Header.Clone()
		mock.LastRequestBody = body
		handler, exists := mock.handlers[r.Method+" "+r.URL.Path]
		if !exists {
			handler, exists = mock.handlers[r.URL.Path]
		}
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockManuals) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockManuals) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockManuals) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.PathCounts = make(map[string]int)
	m.LastRequestHeader = nil
	m.LastRequestBody = nil
}

// SetHandler sets a custom handler for a path. The path may be prefixed with
// a method ("DELETE /api/2025.12/admin/users/1") to match only that method.
func (m *MockManuals) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockManuals) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, resp)
	})
}

// SetSequence answers successive requests to path with the given responses.
// The last response repeats once the sequence is used up.
func (m *MockManuals) SetSequence(path string, responses ...MockResponse) {
	var mu sync.Mutex
	next := 0
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		resp := responses[next]
		if next < len(responses)-1 {
			next++
		}
		mu.Unlock()
		writeResponse(w, resp)
	})
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockManuals) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetPathCount returns the number of requests for "METHOD /path".
func (m *MockManuals) GetPathCount(methodAndPath string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.PathCounts[methodAndPath]
}

// GetLastRequestHeader returns the headers of the most recent request.
func (m *MockManuals) GetLastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader.Clone()
}

// GetLastRequestBody returns the body of the most recent request.
func (m *MockManuals) GetLastRequestBody() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.LastRequestBody...)
}

// defaultHandler answers unknown paths like the API does for a missing resource.
func (m *MockManuals) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	fmt.Fprintf(w, `{"error": "not found: %s"}`, r.URL.Path)
}

// NewJSONResponse creates a 200 OK JSON response cacheable for five minutes.
func NewJSONResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"Content-Type":  "application/json",
			"Cache-Control": "max-age=300",
		},
	}
}

// NewErrorResponse creates a JSON error response with the given status.
func NewErrorResponse(status int, message string) MockResponse {
	return MockResponse{
		StatusCode: status,
		Body:       fmt.Sprintf(`{"error": %q}`, message),
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return NewErrorResponse(http.StatusInternalServerError, "Internal server error")
}

// NewUnavailableResponse creates a 503 Service Unavailable response.
func NewUnavailableResponse() MockResponse {
	return NewErrorResponse(http.StatusServiceUnavailable, "Service unavailable")
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return NewErrorResponse(http.StatusTooManyRequests, "Rate limit exceeded")
}

// NewDeviceListHandler serves a device listing of total devices honoring
// limit and offset query parameters.
func NewDeviceListHandler(total int) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		if limit <= 0 {
			limit = 50
		}

		type device struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		}
		data := []device{}
		for i := offset; i < offset+limit && i < total; i++ {
			data = append(data, device{ID: fmt.Sprintf("dev-%03d", i), Name: fmt.Sprintf("Device %d", i)})
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "max-age=60")
		json.NewEncoder(w).Encode(map[string]any{
			"data":   data,
			"total":  total,
			"limit":  limit,
			"offset": offset,
		})
	}
}
