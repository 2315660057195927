package cache

import (
	"context"
	"net/http"

	"github.com/Sternrassler/manuals-client/pkg/bus"
)

// Observer attaches a Manager to the request bus.
//
// Reads are answered from the cache when possible, successful reads are
// stored, and successful writes invalidate every entry whose key contains
// the written path.
type Observer struct {
	manager *Manager
}

// NewObserver creates a bus observer for the manager.
func NewObserver(manager *Manager) *Observer {
	if manager == nil {
		panic("cache manager cannot be nil")
	}
	return &Observer{manager: manager}
}

// BeforeSend answers a GET from the cache on hit.
func (o *Observer) BeforeSend(_ context.Context, e *bus.BeforeSend) {
	if !o.manager.Enabled() || !e.Request.IsRead() {
		return
	}

	key, err := KeyFromRequest(e.Request)
	if err != nil {
		// Fail open: a key problem only costs a network round trip.
		CacheErrors.WithLabelValues("key").Inc()
		o.manager.logger.Debug().Err(err).Msg("Cache key derivation failed, treating as miss")
		return
	}

	entry, ok := o.manager.Get(key.String())
	if !ok {
		o.manager.logger.Debug().Str("key", key.String()).Msg("MISS")
		return
	}

	e.Respond(entry.Data, entry.Header.Clone())
	o.manager.logger.Debug().Str("key", key.String()).Msg("HIT")
}

// AfterComplete stores successful reads and invalidates on successful
// writes. Other methods (HEAD, OPTIONS) leave the cache untouched.
func (o *Observer) AfterComplete(_ context.Context, c *bus.Completion) {
	if c.Request.IsRead() {
		o.store(c)
		return
	}

	// Invalidation also runs while the cache is disabled so that
	// re-enabling never serves data older than a write.
	if !c.Successful || !c.Request.IsWrite() {
		return
	}
	path := c.Request.RequestPath()
	if path == "" {
		return
	}
	count := o.manager.Invalidate(path)
	o.manager.logger.Debug().
		Str("method", c.Request.Method).
		Str("path", path).
		Int("count", count).
		Msg("INVALIDATED")
}

func (o *Observer) store(c *bus.Completion) {
	if !o.manager.Enabled() || c.FromCache || !c.Successful {
		return
	}
	if c.StatusCode != http.StatusOK || len(c.Body) == 0 {
		return
	}

	key, err := KeyFromRequest(c.Request)
	if err != nil {
		CacheErrors.WithLabelValues("key").Inc()
		o.manager.logger.Debug().Err(err).Msg("Cache key derivation failed, not storing")
		return
	}

	ttl := TTLFromHeaders(c.Header, o.manager.Now(), o.manager.DefaultTTL())
	if err := o.manager.Set(key.String(), c.Body, c.Header, ttl); err != nil {
		// Dropping the write only costs a future refetch.
		o.manager.logger.Warn().Err(err).Str("key", key.String()).Msg("Failed to cache response")
		return
	}

	o.manager.logger.Debug().
		Str("key", key.String()).
		Dur("ttl", ttl).
		Msg("SET")
}
