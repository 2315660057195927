package cache

import (
	"bytes"
	"io"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"time"
)

const (
	// DefaultTTL is the fallback TTL when no caching headers are present
	DefaultTTL = 5 * time.Minute
)

var maxAgePattern = regexp.MustCompile(`max-age=(\d+)`)

// TTLFromHeaders resolves the TTL for a response.
// Cache-Control max-age (seconds) wins; otherwise a future Expires date is
// used; otherwise the given default. Unparseable headers fall back to the
// default.
func TTLFromHeaders(headers http.Header, now time.Time, defaultTTL time.Duration) time.Duration {
	if headers == nil {
		return defaultTTL
	}

	if cacheControl := headers.Get("Cache-Control"); cacheControl != "" {
		if m := maxAgePattern.FindStringSubmatch(cacheControl); m != nil {
			seconds, err := strconv.ParseInt(m[1], 10, 64)
			if err == nil && seconds <= math.MaxInt64/int64(time.Second) {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	if expiresStr := headers.Get("Expires"); expiresStr != "" {
		expires, err := http.ParseTime(expiresStr)
		if err == nil && expires.After(now) {
			return expires.Sub(now)
		}
	}

	return defaultTTL
}

// EntryToResponse converts a cache entry back to an HTTP response.
func EntryToResponse(entry *Entry) *http.Response {
	if entry == nil {
		return nil
	}

	header := entry.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set("X-Cache", "HIT")

	return &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(entry.Data)),
		ContentLength: int64(len(entry.Data)),
	}
}
