// Package bus provides the request/response event bus that the Manuals
// client pipeline is built on. Observers (response cache, retry manager)
// register with a Dispatcher and see every request before it is sent and
// every completion after it finished.
package bus

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrInvalidRequest indicates a missing or malformed request descriptor.
	ErrInvalidRequest = errors.New("invalid request descriptor")
)

// Request describes one logical request. The same Request value is
// re-issued verbatim when a retry is replayed.
type Request struct {
	// ID is the request-element identity. Retry state is tracked per ID.
	ID string

	// Method is the HTTP method (GET, POST, ...).
	Method string

	// Path is relative to the API base URL and may include a query string.
	Path string

	// Header holds request headers (X-API-Key among them).
	Header http.Header

	// Body is the raw request body for write requests.
	Body []byte

	// Target receives every completion for this request. Optional.
	Target Target
}

// NewRequest creates a request with a fresh random identity.
func NewRequest(method, path string) *Request {
	return &Request{
		ID:     uuid.NewString(),
		Method: strings.ToUpper(method),
		Path:   path,
		Header: make(http.Header),
	}
}

// IsRead reports whether the request is a read (GET) request.
func (r *Request) IsRead() bool {
	return strings.EqualFold(r.Method, http.MethodGet)
}

// IsWrite reports whether the request modifies server state
// (POST, PUT, PATCH or DELETE).
func (r *Request) IsWrite() bool {
	switch strings.ToUpper(r.Method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// RequestPath returns the path without any query string.
func (r *Request) RequestPath() string {
	if i := strings.IndexByte(r.Path, '?'); i >= 0 {
		return r.Path[:i]
	}
	return r.Path
}

// Validate checks that the descriptor can be sent.
func (r *Request) Validate() error {
	switch {
	case r == nil:
		return ErrInvalidRequest
	case r.Method == "":
		return errors.Join(ErrInvalidRequest, errors.New("method is empty"))
	case r.Path == "":
		return errors.Join(ErrInvalidRequest, errors.New("path is empty"))
	}
	return nil
}

// BeforeSend is raised before a request is dispatched. An observer can
// short-circuit the network call with Respond.
type BeforeSend struct {
	Request *Request

	responded bool
	body      []byte
	header    http.Header
}

// Respond cancels the network call and hands the given body to the caller
// as if it had arrived live. The first responder wins.
func (e *BeforeSend) Respond(body []byte, header http.Header) {
	if e.responded {
		return
	}
	e.responded = true
	e.body = body
	e.header = header
}

// Responded reports whether an observer short-circuited the request.
func (e *BeforeSend) Responded() bool {
	return e.responded
}

// Completion is raised after a request finished, successfully or not.
type Completion struct {
	Request *Request

	// StatusCode is 0 when no response was received (network failure).
	StatusCode int

	Header http.Header
	Body   []byte

	// Successful is true for 2xx responses.
	Successful bool

	// FromCache marks completions synthesized from a cached body.
	FromCache bool

	// Err is the transport error for network-level failures.
	Err error
}

// HasResponse reports whether a response (of any status) was received.
func (c *Completion) HasResponse() bool {
	return c.StatusCode != 0
}

// RequestObserver is implemented by pipeline components that react to
// request lifecycle events.
type RequestObserver interface {
	BeforeSend(ctx context.Context, e *BeforeSend)
	AfterComplete(ctx context.Context, c *Completion)
}

// Target receives completions for a request.
type Target interface {
	Deliver(c *Completion)
}

// TargetFunc adapts a function to the Target interface.
type TargetFunc func(c *Completion)

// Deliver calls f(c).
func (f TargetFunc) Deliver(c *Completion) {
	f(c)
}
