package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Sternrassler/manuals-client/pkg/bus"
)

// FailureMessage returns the user-facing text for a failed request.
// Status 0 means no response was received.
func FailureMessage(status int) string {
	switch {
	case status == 0:
		return "Cannot connect to server. Please check your connection."
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "Authentication failed. Please check your API key."
	case status == http.StatusNotFound:
		return "Resource not found."
	case status >= 500:
		return "Server error. Please try again later."
	default:
		return fmt.Sprintf("Request failed with status %d", status)
	}
}

// Observer posts an error notification for every failed request.
type Observer struct {
	notifier Notifier
}

// NewObserver creates a bus observer posting to n.
func NewObserver(n Notifier) *Observer {
	if n == nil {
		n = Discard
	}
	return &Observer{notifier: n}
}

// BeforeSend implements bus.RequestObserver.
func (o *Observer) BeforeSend(context.Context, *bus.BeforeSend) {}

// AfterComplete implements bus.RequestObserver.
func (o *Observer) AfterComplete(ctx context.Context, c *bus.Completion) {
	if c.Successful || ctx.Err() != nil {
		return
	}
	Error(o.notifier, "%s", FailureMessage(c.StatusCode))
}
