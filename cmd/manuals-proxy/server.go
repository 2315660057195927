package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/manuals-client/pkg/bus"
	"github.com/Sternrassler/manuals-client/pkg/cache"
	"github.com/Sternrassler/manuals-client/pkg/client"
	"github.com/Sternrassler/manuals-client/pkg/history"
	"github.com/Sternrassler/manuals-client/pkg/logging"
	"github.com/Sternrassler/manuals-client/pkg/metrics"
	"github.com/Sternrassler/manuals-client/pkg/notify"
)

// maxProxyBody bounds request bodies forwarded upstream.
const maxProxyBody = 1 << 20

// forwardedHeaders are the upstream response headers passed to callers.
var forwardedHeaders = []string{"Content-Type", "Cache-Control", "Expires", "ETag", "Last-Modified", "Content-Disposition"}

// pinger is implemented by stores that can report their health.
type pinger interface {
	Ping(ctx context.Context) error
}

// server holds the proxy's dependencies.
type server struct {
	client        *client.Client
	history       *history.Manager
	notifications *notify.Bus
	store         pinger
	logger        zerolog.Logger
}

func newServer(c *client.Client, h *history.Manager, n *notify.Bus, store pinger) *server {
	return &server{
		client:        c,
		history:       h,
		notifications: n,
		store:         store,
		logger:        logging.NewLogger("proxy"),
	}
}

// routes returns the proxy's HTTP handler.
func (s *server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", s.readyHandler)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("/api/", s.proxyHandler)

	mux.HandleFunc("GET /debug/cache/stats", s.cacheStatsHandler)
	mux.HandleFunc("POST /debug/cache/clear", s.cacheClearHandler)
	mux.HandleFunc("POST /debug/cache/enable", s.cacheToggleHandler(true))
	mux.HandleFunc("POST /debug/cache/disable", s.cacheToggleHandler(false))
	mux.HandleFunc("POST /debug/cache/invalidate", s.cacheInvalidateHandler)
	mux.HandleFunc("POST /debug/cache/configure", s.cacheConfigureHandler)
	mux.HandleFunc("GET /debug/notifications", s.notificationsHandler)

	mux.HandleFunc("GET /history", s.historyListHandler)
	mux.HandleFunc("DELETE /history", s.historyClearHandler)
	mux.HandleFunc("DELETE /history/{query}", s.historyRemoveHandler)

	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "OK")
}

// readyHandler reports whether the upstream API and the shared store are
// reachable.
func (s *server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			s.logger.Warn().Err(err).Msg("Store not ready")
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	if _, err := s.client.GetHealth(r.Context()); err != nil {
		s.logger.Warn().Err(err).Msg("Upstream not ready")
		http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "OK")
}

// proxyHandler forwards /api/... through the client pipeline.
func (s *server) proxyHandler(w http.ResponseWriter, r *http.Request) {
	req := bus.NewRequest(r.Method, r.URL.RequestURI())

	apiKey := r.Header.Get(cache.APIKeyHeader)
	if apiKey == "" {
		apiKey = s.client.APIKey()
	}
	if apiKey != "" {
		req.Header.Set(cache.APIKeyHeader, apiKey)
	}
	for _, h := range []string{"Accept", "Content-Type"} {
		if v := r.Header.Get(h); v != "" {
			req.Header.Set(h, v)
		}
	}

	if r.Body != nil {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxProxyBody))
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		req.Body = body
	}

	comp, err := s.client.Do(r.Context(), req)
	if comp == nil {
		status := http.StatusBadGateway
		if errors.Is(err, client.ErrContextCancelled) {
			status = http.StatusGatewayTimeout
		}
		s.logger.Warn().Err(err).Str("path", req.Path).Msg("Proxy request failed")
		http.Error(w, "upstream request failed: "+errString(err), status)
		return
	}
	if comp.Err != nil {
		http.Error(w, "upstream request failed: "+errString(err), http.StatusBadGateway)
		return
	}

	if comp.Successful && req.IsRead() && strings.HasSuffix(req.RequestPath(), "/search") {
		if q := r.URL.Query().Get("q"); q != "" {
			s.history.Add(r.Context(), q)
		}
	}

	for _, h := range forwardedHeaders {
		if v := comp.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
	if req.IsRead() {
		if comp.FromCache {
			w.Header().Set("X-Cache", "HIT")
		} else {
			w.Header().Set("X-Cache", "MISS")
		}
	}
	w.WriteHeader(comp.StatusCode)
	w.Write(comp.Body)
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

type cacheStatsResponse struct {
	cache.Stats
	HitRatePercent string `json:"hit_rate_percent"`
	Enabled        bool   `json:"enabled"`
	MaxSize        int    `json:"max_size"`
	DefaultTTL     string `json:"default_ttl"`
}

func (s *server) cacheStatsHandler(w http.ResponseWriter, r *http.Request) {
	c := s.client.Cache()
	stats := c.Stats()
	cfg := c.Config()
	writeJSON(w, http.StatusOK, cacheStatsResponse{
		Stats:          stats,
		HitRatePercent: stats.HitRatePercent(),
		Enabled:        c.Enabled(),
		MaxSize:        cfg.MaxSize,
		DefaultTTL:     cfg.DefaultTTL.String(),
	})
}

func (s *server) cacheClearHandler(w http.ResponseWriter, r *http.Request) {
	s.client.Cache().Clear()
	notify.Success(s.notifications, "Cache cleared")
	writeJSON(w, http.StatusOK, map[string]any{"cleared": true})
}

func (s *server) cacheToggleHandler(enable bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if enable {
			s.client.Cache().Enable()
		} else {
			s.client.Cache().Disable()
		}
		writeJSON(w, http.StatusOK, map[string]any{"enabled": s.client.Cache().Enabled()})
	}
}

func (s *server) cacheInvalidateHandler(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "pattern is required"})
		return
	}
	count := s.client.Cache().Invalidate(pattern)
	writeJSON(w, http.StatusOK, map[string]any{"pattern": pattern, "invalidated": count})
}

// cacheConfigureRequest changes the cache settings. Omitted fields keep
// their current value.
type cacheConfigureRequest struct {
	DefaultTTL string `json:"default_ttl"`
	MaxSize    int    `json:"max_size"`
}

func (s *server) cacheConfigureHandler(w http.ResponseWriter, r *http.Request) {
	var body cacheConfigureRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxProxyBody)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	cfg := s.client.Cache().Config()
	if body.DefaultTTL != "" {
		ttl, err := time.ParseDuration(body.DefaultTTL)
		if err != nil || ttl <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "default_ttl must be a positive duration"})
			return
		}
		cfg.DefaultTTL = ttl
	}
	if body.MaxSize < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "max_size must not be negative"})
		return
	}
	if body.MaxSize > 0 {
		cfg.MaxSize = body.MaxSize
	}

	s.client.Cache().Configure(cfg)
	s.cacheStatsHandler(w, r)
}

func (s *server) notificationsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"notifications": s.notifications.Recent()})
}

type historyEntry struct {
	history.Item
	Age string `json:"age"`
}

func (s *server) historyListHandler(w http.ResponseWriter, r *http.Request) {
	items := s.history.List(r.Context())
	now := s.client.Cache().Now()

	entries := make([]historyEntry, 0, len(items))
	for _, item := range items {
		entries = append(entries, historyEntry{Item: item, Age: item.Age(now)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

func (s *server) historyClearHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.history.Clear(r.Context()); err != nil {
		s.logger.Error().Err(err).Msg("Failed to clear history")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to clear history"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) historyRemoveHandler(w http.ResponseWriter, r *http.Request) {
	s.history.Remove(r.Context(), r.PathValue("query"))
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger := logging.NewLogger("proxy")
		logger.Warn().Err(err).Msg("Failed to write response")
	}
}
