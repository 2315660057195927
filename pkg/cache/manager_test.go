package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	return NewManager(cfg, WithClock(clock.Now)), clock
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.DefaultTTL != 5*time.Minute {
		t.Errorf("DefaultTTL = %v, want 5m", cfg.DefaultTTL)
	}
	if cfg.MaxSize != 100 {
		t.Errorf("MaxSize = %d, want 100", cfg.MaxSize)
	}
	if !cfg.Enabled {
		t.Error("Enabled should be true")
	}
}

func TestManager_SetAndGet(t *testing.T) {
	manager, clock := newTestManager(t, DefaultConfig())

	header := http.Header{"Content-Type": []string{"application/json"}}
	if err := manager.Set("k", []byte(`{"test": "data"}`), header, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	entry, ok := manager.Get("k")
	if !ok {
		t.Fatal("Get returned miss for stored entry")
	}
	if string(entry.Data) != `{"test": "data"}` {
		t.Errorf("Data mismatch: got %s", entry.Data)
	}
	if entry.Header.Get("Content-Type") != "application/json" {
		t.Errorf("Header not stored: %v", entry.Header)
	}
	if !entry.CreatedAt.Equal(clock.Now()) {
		t.Errorf("CreatedAt = %v, want %v", entry.CreatedAt, clock.Now())
	}
	if got := entry.ExpiresAt.Sub(entry.CreatedAt); got != time.Minute {
		t.Errorf("ExpiresAt - CreatedAt = %v, want 1m", got)
	}
}

func TestManager_Set_DefaultTTL(t *testing.T) {
	manager, _ := newTestManager(t, Config{DefaultTTL: 2 * time.Minute, MaxSize: 10, Enabled: true})

	for _, ttl := range []time.Duration{0, -time.Second} {
		if err := manager.Set("k", []byte("v"), nil, ttl); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		entry, _ := manager.Get("k")
		if got := entry.ExpiresAt.Sub(entry.CreatedAt); got != 2*time.Minute {
			t.Errorf("ttl %v: lifetime = %v, want default 2m", ttl, got)
		}
	}
}

func TestManager_Get_CacheMiss(t *testing.T) {
	manager, _ := newTestManager(t, DefaultConfig())

	if _, ok := manager.Get("nonexistent"); ok {
		t.Error("Expected miss for unknown key")
	}
}

func TestManager_Get_ExpiredEntry(t *testing.T) {
	manager, clock := newTestManager(t, DefaultConfig())

	if err := manager.Set("k", []byte("v"), nil, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Exactly at ExpiresAt the entry is still valid.
	clock.Advance(time.Minute)
	if _, ok := manager.Get("k"); !ok {
		t.Fatal("entry should be valid at ExpiresAt")
	}

	clock.Advance(time.Millisecond)
	if _, ok := manager.Get("k"); ok {
		t.Error("Expected miss for expired entry")
	}
	if manager.Len() != 0 {
		t.Errorf("expired entry not removed on lookup, Len() = %d", manager.Len())
	}
}

func TestManager_Eviction_OldestCreatedAt(t *testing.T) {
	manager, clock := newTestManager(t, Config{MaxSize: 3, Enabled: true})

	for i := 1; i <= 3; i++ {
		if err := manager.Set(fmt.Sprintf("k%d", i), []byte("v"), nil, time.Hour); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		clock.Advance(time.Second)
	}

	// Overwriting an existing key at capacity must not evict.
	if err := manager.Set("k2", []byte("v2"), nil, time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if manager.Len() != 3 || manager.Stats().Evictions != 0 {
		t.Fatalf("overwrite evicted: Len=%d evictions=%d", manager.Len(), manager.Stats().Evictions)
	}

	// The 4th distinct key evicts exactly k1 (smallest CreatedAt).
	if err := manager.Set("k4", []byte("v"), nil, time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if _, ok := manager.Get("k1"); ok {
		t.Error("k1 should have been evicted")
	}
	for _, key := range []string{"k2", "k3", "k4"} {
		if _, ok := manager.Get(key); !ok {
			t.Errorf("%s should still be cached", key)
		}
	}
	if got := manager.Stats().Evictions; got != 1 {
		t.Errorf("Evictions = %d, want 1", got)
	}
}

func TestManager_Eviction_TieBreakByInsertion(t *testing.T) {
	manager, _ := newTestManager(t, Config{MaxSize: 2, Enabled: true})

	// Same CreatedAt for all entries: insertion order decides.
	_ = manager.Set("first", []byte("v"), nil, time.Hour)
	_ = manager.Set("second", []byte("v"), nil, time.Hour)
	_ = manager.Set("third", []byte("v"), nil, time.Hour)

	if _, ok := manager.Get("first"); ok {
		t.Error("first should have been evicted")
	}
	if _, ok := manager.Get("second"); !ok {
		t.Error("second should still be cached")
	}
}

func TestManager_Invalidate(t *testing.T) {
	manager, _ := newTestManager(t, DefaultConfig())

	keys := []string{
		Key{Path: "/devices/5"}.String(),
		Key{Path: "/devices/5/pinout"}.String(),
		Key{Path: "/devices/50", APIKey: "k"}.String(),
		Key{Path: "/devices/6"}.String(),
		Key{Path: "/documents"}.String(),
	}
	for _, key := range keys {
		_ = manager.Set(key, []byte("v"), nil, time.Hour)
	}

	// Raw substring matching also drops /devices/50.
	if got := manager.Invalidate("/devices/5"); got != 3 {
		t.Errorf("Invalidate() = %d, want 3", got)
	}

	for _, key := range keys[:3] {
		if _, ok := manager.Get(key); ok {
			t.Errorf("%s should have been invalidated", key)
		}
	}
	for _, key := range keys[3:] {
		if _, ok := manager.Get(key); !ok {
			t.Errorf("%s should not have been invalidated", key)
		}
	}
}

func TestManager_Sweep(t *testing.T) {
	manager, clock := newTestManager(t, DefaultConfig())

	_ = manager.Set("short", []byte("v"), nil, time.Second)
	_ = manager.Set("long", []byte("v"), nil, time.Hour)

	clock.Advance(2 * time.Second)

	if got := manager.Sweep(); got != 1 {
		t.Errorf("Sweep() = %d, want 1", got)
	}
	if manager.Len() != 1 {
		t.Errorf("Len() = %d, want 1", manager.Len())
	}
	// Sweeping does not count as a lookup.
	if s := manager.Stats(); s.Hits != 0 || s.Misses != 0 {
		t.Errorf("Sweep changed lookup counters: %+v", s)
	}
}

func TestManager_Disabled(t *testing.T) {
	manager, _ := newTestManager(t, DefaultConfig())
	_ = manager.Set("k", []byte("v"), nil, time.Hour)

	manager.Disable()
	if manager.Enabled() {
		t.Fatal("Enabled() should be false after Disable")
	}

	if _, ok := manager.Get("k"); ok {
		t.Error("disabled cache must not return entries")
	}
	if err := manager.Set("other", []byte("v"), nil, time.Hour); err != nil {
		t.Errorf("Set on disabled cache should be a silent no-op, got %v", err)
	}
	if manager.Len() != 1 {
		t.Errorf("disabled Set stored an entry, Len() = %d", manager.Len())
	}
	if s := manager.Stats(); s.Hits != 0 || s.Misses != 0 || s.Sets != 1 {
		t.Errorf("disabled cache touched counters: %+v", s)
	}

	manager.Enable()
	if _, ok := manager.Get("k"); !ok {
		t.Error("entry should be served again after Enable")
	}
}

func TestManager_Set_TooLarge(t *testing.T) {
	manager, _ := newTestManager(t, Config{MaxSize: 10, Enabled: true, MaxEntryBytes: 4})

	err := manager.Set("k", []byte("12345"), nil, time.Hour)
	if !errors.Is(err, ErrEntryTooLarge) {
		t.Errorf("Set() error = %v, want ErrEntryTooLarge", err)
	}
	if manager.Len() != 0 {
		t.Error("oversized entry must not be stored")
	}
}

func TestManager_Stats(t *testing.T) {
	manager, _ := newTestManager(t, DefaultConfig())

	if got := manager.Stats(); got.HitRate != 0 || got.HitRatePercent() != "0.00%" {
		t.Errorf("empty stats hit rate = %v (%s), want 0", got.HitRate, got.HitRatePercent())
	}

	_ = manager.Set("k", []byte("v"), nil, time.Hour)
	manager.Get("k")
	manager.Get("k")
	manager.Get("k")
	manager.Get("missing")

	s := manager.Stats()
	if s.Hits != 3 || s.Misses != 1 || s.Sets != 1 || s.Size != 1 {
		t.Errorf("Stats() = %+v", s)
	}
	if s.HitRate != 0.75 {
		t.Errorf("HitRate = %v, want 0.75", s.HitRate)
	}
	if s.HitRatePercent() != "75.00%" {
		t.Errorf("HitRatePercent() = %q, want 75.00%%", s.HitRatePercent())
	}
}

func TestManager_Configure(t *testing.T) {
	manager, clock := newTestManager(t, Config{MaxSize: 5, Enabled: true})

	for i := 0; i < 5; i++ {
		_ = manager.Set(fmt.Sprintf("k%d", i), []byte("v"), nil, time.Hour)
		clock.Advance(time.Second)
	}

	manager.Configure(Config{DefaultTTL: time.Minute, MaxSize: 2, Enabled: true})

	if manager.Len() != 2 {
		t.Fatalf("Len() = %d after shrinking, want 2", manager.Len())
	}
	if _, ok := manager.Get("k4"); !ok {
		t.Error("newest entry should survive shrinking")
	}
	if got := manager.Config(); got.DefaultTTL != time.Minute || got.MaxSize != 2 {
		t.Errorf("Config() = %+v", got)
	}

	// Zero values fall back to defaults.
	manager.Configure(Config{Enabled: false})
	if got := manager.Config(); got.DefaultTTL != DefaultTTL || got.MaxSize != DefaultMaxSize || got.Enabled {
		t.Errorf("Config() = %+v, want defaults with Enabled=false", got)
	}
}

func TestManager_Delete_Clear(t *testing.T) {
	manager, _ := newTestManager(t, DefaultConfig())
	_ = manager.Set("a", []byte("v"), nil, time.Hour)
	_ = manager.Set("b", []byte("v"), nil, time.Hour)

	if !manager.Delete("a") {
		t.Error("Delete(a) = false, want true")
	}
	if manager.Delete("a") {
		t.Error("second Delete(a) = true, want false")
	}

	manager.Clear()
	if manager.Len() != 0 {
		t.Errorf("Len() = %d after Clear, want 0", manager.Len())
	}
	if manager.Stats().Sets != 2 {
		t.Error("Clear must keep counters")
	}
}

func TestManager_Sweeper(t *testing.T) {
	clock := newFakeClock()
	manager := NewManager(DefaultConfig(), WithClock(clock.Now))

	_ = manager.Set("k", []byte("v"), nil, time.Second)
	clock.Advance(time.Minute)

	manager.startSweeper(context.Background(), 10*time.Millisecond)
	// Second start is a no-op.
	manager.startSweeper(context.Background(), 10*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for manager.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if manager.Len() != 0 {
		t.Error("sweeper did not remove the expired entry")
	}

	manager.Close()
	// Close is idempotent.
	manager.Close()
}
