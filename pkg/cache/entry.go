package cache

import (
	"net/http"
	"time"
)

// Entry represents a cached read response.
type Entry struct {
	// Key is the composite cache key (see Key).
	Key string

	// Data is the raw response body.
	Data []byte

	// Header holds the response headers served with a cache hit.
	Header http.Header

	// CreatedAt is when the entry was stored.
	CreatedAt time.Time

	// ExpiresAt is CreatedAt plus the resolved TTL.
	ExpiresAt time.Time

	// seq breaks CreatedAt ties during eviction (insertion order).
	seq uint64
}

// IsExpired returns true if the entry has expired.
func (e *Entry) IsExpired() bool {
	return e.ExpiredAt(time.Now())
}

// ExpiredAt reports whether the entry is expired at the given instant.
// An entry is gone the moment now passes ExpiresAt.
func (e *Entry) ExpiredAt(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.ExpiresAt)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Size returns the number of body bytes held by the entry.
func (e *Entry) Size() int {
	return len(e.Data)
}
