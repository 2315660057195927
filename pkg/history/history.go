// Package history keeps the list of recent search queries.
//
// The list is stored as a single JSON document in a storage.Store, newest
// query first. Storage problems never reach the caller as failures of the
// search itself: an unreadable history is treated as empty.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/manuals-client/pkg/notify"
	"github.com/Sternrassler/manuals-client/pkg/storage"
)

const (
	// DefaultStorageKey is the store key holding the history document.
	DefaultStorageKey = "search_history"

	// DefaultMaxItems is the number of queries kept.
	DefaultMaxItems = 10
)

// Item is a remembered search.
type Item struct {
	Query     string    `json:"query"`
	Timestamp time.Time `json:"timestamp"`
}

// Age renders how long ago the search happened ("just now", "5m ago",
// "3h ago", "2d ago", or the date for anything older than a week).
func (i Item) Age(now time.Time) string {
	seconds := int64(now.Sub(i.Timestamp) / time.Second)
	switch {
	case seconds < 60:
		return "just now"
	case seconds < 3600:
		return fmt.Sprintf("%dm ago", seconds/60)
	case seconds < 86400:
		return fmt.Sprintf("%dh ago", seconds/3600)
	case seconds < 604800:
		return fmt.Sprintf("%dd ago", seconds/86400)
	}
	return i.Timestamp.Format("2006-01-02")
}

// Config holds history settings.
type Config struct {
	StorageKey string
	MaxItems   int
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithNotifier sets where confirmation messages are posted.
func WithNotifier(n notify.Notifier) Option {
	return func(m *Manager) {
		m.notifier = n
	}
}

// Manager reads and writes the search history.
type Manager struct {
	// mu serializes read-modify-write cycles within this process.
	mu       sync.Mutex
	store    storage.Store
	key      string
	maxItems int
	now      func() time.Time
	notifier notify.Notifier
	logger   zerolog.Logger
}

// NewManager creates a history manager over store.
func NewManager(store storage.Store, cfg Config, opts ...Option) *Manager {
	if store == nil {
		panic("history store cannot be nil")
	}
	if cfg.StorageKey == "" {
		cfg.StorageKey = DefaultStorageKey
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = DefaultMaxItems
	}

	m := &Manager{
		store:    store,
		key:      cfg.StorageKey,
		maxItems: cfg.MaxItems,
		now:      time.Now,
		notifier: notify.Discard,
		logger:   log.With().Str("component", "history").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// List returns the history, newest first.
func (m *Manager) List(ctx context.Context) []Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(ctx)
}

// Add records a query. Blank queries are ignored; a repeated query moves
// to the front.
func (m *Manager) Add(ctx context.Context, query string) {
	query = strings.TrimSpace(query)
	if query == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	items := m.load(ctx)
	out := make([]Item, 0, len(items)+1)
	out = append(out, Item{Query: query, Timestamp: m.now()})
	for _, item := range items {
		if item.Query != query {
			out = append(out, item)
		}
	}
	if len(out) > m.maxItems {
		out = out[:m.maxItems]
	}

	m.save(ctx, out)
	m.logger.Debug().Str("query", query).Msg("Added search")
}

// Remove deletes a single query.
func (m *Manager) Remove(ctx context.Context, query string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := m.load(ctx)
	out := items[:0]
	for _, item := range items {
		if item.Query != query {
			out = append(out, item)
		}
	}
	m.save(ctx, out)
}

// Clear removes the whole history.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Remove(ctx, m.key); err != nil {
		m.logger.Error().Err(err).Msg("Error clearing history")
		return fmt.Errorf("clear history: %w", err)
	}
	m.logger.Info().Msg("Cleared")
	notify.Success(m.notifier, "Search history cleared")
	return nil
}

func (m *Manager) load(ctx context.Context) []Item {
	data, err := m.store.Get(ctx, m.key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		m.logger.Error().Err(err).Msg("Error reading history")
		return nil
	}

	var items []Item
	if err := json.Unmarshal([]byte(data), &items); err != nil {
		m.logger.Error().Err(err).Msg("Error parsing history")
		return nil
	}
	return items
}

func (m *Manager) save(ctx context.Context, items []Item) {
	data, err := json.Marshal(items)
	if err != nil {
		m.logger.Error().Err(err).Msg("Error encoding history")
		return
	}
	if err := m.store.Set(ctx, m.key, string(data)); err != nil {
		m.logger.Error().Err(err).Msg("Error saving history")
	}
}
