package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Sternrassler/manuals-client/pkg/bus"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the caller's context ended while
	// waiting for a response or a scheduled retry.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrInvalidConfig is returned by New for an unusable configuration.
	ErrInvalidConfig = errors.New("invalid client configuration")
)

// APIError is a non-2xx response from the Manuals API.
type APIError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// errorResponse is the API's JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}

// newAPIError builds an APIError from a failed completion. The message is
// the JSON "error" field when present, the raw body otherwise.
func newAPIError(c *bus.Completion) *APIError {
	var body errorResponse
	msg := strings.TrimSpace(string(c.Body))
	if err := json.Unmarshal(c.Body, &body); err == nil && body.Error != "" {
		msg = body.Error
	}
	return &APIError{StatusCode: c.StatusCode, Message: msg}
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}

// IsUnauthorized reports whether err is an APIError with status 401 or 403.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && (apiErr.StatusCode == 401 || apiErr.StatusCode == 403)
}
