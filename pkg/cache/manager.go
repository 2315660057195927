package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultMaxSize is the default maximum number of entries
	DefaultMaxSize = 100

	// DefaultMaxEntryBytes is the largest body the cache accepts
	DefaultMaxEntryBytes = 5 * 1024 * 1024

	// SweepInterval is how often expired entries are removed
	SweepInterval = time.Minute
)

var (
	// ErrEntryTooLarge indicates a body exceeding the per-entry limit
	ErrEntryTooLarge = errors.New("cache entry exceeds max entry bytes")
)

// Config holds the runtime-adjustable cache settings.
type Config struct {
	// DefaultTTL applies when a response carries no usable caching headers
	DefaultTTL time.Duration `yaml:"default_ttl"`

	// MaxSize is the maximum number of entries
	MaxSize int `yaml:"max_size"`

	// Enabled turns lookups and stores on or off
	Enabled bool `yaml:"enabled"`

	// MaxEntryBytes bounds a single body (0 = DefaultMaxEntryBytes)
	MaxEntryBytes int `yaml:"max_entry_bytes"`
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:    DefaultTTL,
		MaxSize:       DefaultMaxSize,
		Enabled:       true,
		MaxEntryBytes: DefaultMaxEntryBytes,
	}
}

func (c Config) normalized() Config {
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = DefaultTTL
	}
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultMaxSize
	}
	if c.MaxEntryBytes <= 0 {
		c.MaxEntryBytes = DefaultMaxEntryBytes
	}
	return c
}

// Stats is a snapshot of the cache counters since the manager was created.
type Stats struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Sets      uint64  `json:"sets"`
	Evictions uint64  `json:"evictions"`
	Size      int     `json:"size"`
	HitRate   float64 `json:"hit_rate"`
}

// HitRatePercent renders the hit rate with two decimals, e.g. "75.00%".
func (s Stats) HitRatePercent() string {
	return fmt.Sprintf("%.2f%%", s.HitRate*100)
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLogger overrides the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// Manager is the in-memory response cache.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*Entry
	config  Config
	seq     uint64

	hits      uint64
	misses    uint64
	sets      uint64
	evictions uint64

	now    func() time.Time
	logger zerolog.Logger

	sweepMu     sync.Mutex
	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// NewManager creates a new cache manager.
func NewManager(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		entries: make(map[string]*Entry),
		config:  cfg.normalized(),
		now:     time.Now,
		logger:  log.With().Str("component", "cache").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get retrieves an unexpired entry by key. An expired entry found on the
// way is removed. Disabled caches always miss without counting.
func (m *Manager) Get(key string) (*Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.config.Enabled {
		return nil, false
	}

	entry, ok := m.entries[key]
	if ok && entry.ExpiredAt(m.now()) {
		delete(m.entries, key)
		CacheEntries.Set(float64(len(m.entries)))
		ok = false
	}

	if !ok {
		m.misses++
		CacheMisses.Inc()
		return nil, false
	}

	m.hits++
	CacheHits.Inc()

	cp := *entry
	cp.Data = bytes.Clone(entry.Data)
	cp.Header = entry.Header.Clone()
	return &cp, true
}

// Set stores a body under key with the given TTL (<= 0 uses the default).
// When the cache is full and key is new, the oldest entry by creation time
// is evicted first. Existing entries for the key are overwritten.
func (m *Manager) Set(key string, data []byte, header http.Header, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.config.Enabled {
		return nil
	}

	if len(data) > m.config.MaxEntryBytes {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("%w: %d bytes", ErrEntryTooLarge, len(data))
	}

	if ttl <= 0 {
		ttl = m.config.DefaultTTL
	}

	if _, exists := m.entries[key]; !exists {
		for len(m.entries) >= m.config.MaxSize {
			m.evictOldestLocked()
		}
	}

	now := m.now()
	m.seq++
	m.entries[key] = &Entry{
		Key:       key,
		Data:      bytes.Clone(data),
		Header:    header.Clone(),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		seq:       m.seq,
	}
	m.sets++

	CacheSets.Inc()
	CacheEntries.Set(float64(len(m.entries)))

	return nil
}

// Delete removes a single entry. Returns true if it existed.
func (m *Manager) Delete(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.entries[key]
	delete(m.entries, key)
	CacheEntries.Set(float64(len(m.entries)))
	return ok
}

// Clear removes every entry. Counters are kept.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.entries = make(map[string]*Entry)
	m.mu.Unlock()

	CacheEntries.Set(0)
	m.logger.Info().Msg("Cleared all entries")
}

// Invalidate removes every entry whose key contains pattern and returns the
// number removed. The match is a raw substring match.
func (m *Manager) Invalidate(pattern string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for key := range m.entries {
		if strings.Contains(key, pattern) {
			delete(m.entries, key)
			count++
		}
	}

	CacheInvalidations.Add(float64(count))
	CacheEntries.Set(float64(len(m.entries)))

	m.logger.Debug().
		Str("pattern", pattern).
		Int("count", count).
		Msg("Invalidated entries")

	return count
}

// Sweep removes all expired entries and returns the number removed.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	count := 0
	for key, entry := range m.entries {
		if entry.ExpiredAt(now) {
			delete(m.entries, key)
			count++
		}
	}

	CacheEntries.Set(float64(len(m.entries)))

	if count > 0 {
		m.logger.Debug().Int("count", count).Msg("Cleaned up expired entries")
	}
	return count
}

// evictOldestLocked removes the entry with the smallest CreatedAt.
// m.mu must be held.
func (m *Manager) evictOldestLocked() {
	var oldest *Entry
	for _, entry := range m.entries {
		if oldest == nil ||
			entry.CreatedAt.Before(oldest.CreatedAt) ||
			(entry.CreatedAt.Equal(oldest.CreatedAt) && entry.seq < oldest.seq) {
			oldest = entry
		}
	}
	if oldest == nil {
		return
	}

	delete(m.entries, oldest.Key)
	m.evictions++
	CacheEvictions.Inc()

	m.logger.Debug().Str("key", oldest.Key).Msg("Evicted oldest entry")
}

// Configure replaces the runtime settings. Shrinking MaxSize evicts the
// oldest entries until the store fits.
func (m *Manager) Configure(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = cfg.normalized()
	for len(m.entries) > m.config.MaxSize {
		m.evictOldestLocked()
	}
	CacheEntries.Set(float64(len(m.entries)))

	m.logger.Info().
		Dur("default_ttl", m.config.DefaultTTL).
		Int("max_size", m.config.MaxSize).
		Bool("enabled", m.config.Enabled).
		Msg("Cache configured")
}

// Config returns the current settings.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// Enabled reports whether the cache is active.
func (m *Manager) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config.Enabled
}

// Enable turns the cache on.
func (m *Manager) Enable() {
	m.mu.Lock()
	m.config.Enabled = true
	m.mu.Unlock()
	m.logger.Info().Msg("Enabled")
}

// Disable turns the cache off. Stored entries are kept.
func (m *Manager) Disable() {
	m.mu.Lock()
	m.config.Enabled = false
	m.mu.Unlock()
	m.logger.Info().Msg("Disabled")
}

// Stats returns the counters since creation.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		Hits:      m.hits,
		Misses:    m.misses,
		Sets:      m.sets,
		Evictions: m.evictions,
		Size:      len(m.entries),
	}
	if lookups := s.Hits + s.Misses; lookups > 0 {
		s.HitRate = float64(s.Hits) / float64(lookups)
	}
	return s
}

// Len returns the number of stored entries, expired ones included.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// DefaultTTL returns the configured fallback TTL.
func (m *Manager) DefaultTTL() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config.DefaultTTL
}

// Now returns the manager's current time.
func (m *Manager) Now() time.Time {
	return m.now()
}

// StartSweeper runs Sweep every SweepInterval until ctx ends or Close is
// called. Calling it again while running is a no-op.
func (m *Manager) StartSweeper(ctx context.Context) {
	m.startSweeper(ctx, SweepInterval)
}

func (m *Manager) startSweeper(ctx context.Context, interval time.Duration) {
	m.sweepMu.Lock()
	defer m.sweepMu.Unlock()

	if m.sweepCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.sweepCancel = cancel
	m.sweepDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}

// Close stops the sweeper and clears the store.
func (m *Manager) Close() {
	m.sweepMu.Lock()
	cancel, done := m.sweepCancel, m.sweepDone
	m.sweepCancel, m.sweepDone = nil, nil
	m.sweepMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	m.Clear()
}
