package bus

import (
	"github.com/rs/zerolog/log"
)

// ResultTarget collects completions on a buffered channel. Delivery never
// blocks the dispatcher; completions that do not fit are dropped.
type ResultTarget struct {
	C chan *Completion
}

// NewResultTarget creates a target with the given buffer size.
func NewResultTarget(size int) *ResultTarget {
	if size <= 0 {
		size = 1
	}
	return &ResultTarget{C: make(chan *Completion, size)}
}

// Deliver implements Target.
func (t *ResultTarget) Deliver(c *Completion) {
	select {
	case t.C <- c:
	default:
		log.Warn().
			Str("component", "bus").
			Str("request_id", c.Request.ID).
			Msg("Result target full, dropping completion")
	}
}
