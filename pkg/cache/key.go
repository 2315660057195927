package cache

import (
	"encoding/json"
	"errors"

	"github.com/Sternrassler/manuals-client/pkg/bus"
)

// APIKeyHeader is the only request header that takes part in the cache key.
const APIKeyHeader = "X-API-Key"

// ErrInvalidKey indicates a cache key could not be derived from a request.
var ErrInvalidKey = errors.New("cannot derive cache key")

// Key represents a unique identifier for a cached response.
type Key struct {
	// Path is the request path including its query string.
	Path string

	// APIKey is the X-API-Key header value ("" for anonymous access).
	APIKey string
}

// relevantHeaders is the header subset encoded into the key.
type relevantHeaders struct {
	APIKey string `json:"X-API-Key"`
}

// String generates the deterministic key string.
// Format: <path>:{"X-API-Key":"<key>"}
//
// Example:
//
//	/api/2025.12/devices?limit=20:{"X-API-Key":""}
func (k Key) String() string {
	headers, err := json.Marshal(relevantHeaders{APIKey: k.APIKey})
	if err != nil {
		// Marshalling a single string field cannot fail.
		headers = []byte(`{}`)
	}
	return k.Path + ":" + string(headers)
}

// KeyFromRequest derives the cache key for a request.
func KeyFromRequest(req *bus.Request) (Key, error) {
	if req == nil {
		return Key{}, errors.Join(ErrInvalidKey, errors.New("request is nil"))
	}
	if req.Path == "" {
		return Key{}, errors.Join(ErrInvalidKey, errors.New("request path is empty"))
	}

	key := Key{Path: req.Path}
	if req.Header != nil {
		key.APIKey = req.Header.Get(APIKeyHeader)
	}
	return key, nil
}
