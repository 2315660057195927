package retry

import (
	"context"
	"errors"

	"github.com/Sternrassler/manuals-client/pkg/bus"
)

// Observer attaches a Manager to the request bus.
type Observer struct {
	manager *Manager
}

// NewObserver creates a bus observer for the manager.
func NewObserver(manager *Manager) *Observer {
	if manager == nil {
		panic("retry manager cannot be nil")
	}
	return &Observer{manager: manager}
}

// BeforeSend implements bus.RequestObserver.
func (o *Observer) BeforeSend(context.Context, *bus.BeforeSend) {}

// AfterComplete clears the record on success and hands failures to the
// manager. Requests abandoned by their caller are not retried.
func (o *Observer) AfterComplete(ctx context.Context, c *bus.Completion) {
	if c.Successful {
		o.manager.OnSuccess(c.Request.ID)
		return
	}
	if ctx.Err() != nil || errors.Is(c.Err, context.Canceled) {
		return
	}
	o.manager.OnFailure(ctx, c.Request, c.StatusCode)
}
