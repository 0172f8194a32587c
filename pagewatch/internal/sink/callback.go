package sink

import (
	"context"

	"github.com/hazyhaar/codementor/problem"
)

// EventFunc is called for each event.
type EventFunc func(ctx context.Context, ev problem.Event) error

// Callback delivers events via a Go function call. This is the path used
// when the mentor store lives in the same binary as the observer: no
// serialisation at all.
type Callback struct {
	fn EventFunc
}

// NewCallback creates a Callback sink. fn may be nil (events are dropped).
func NewCallback(fn EventFunc) *Callback {
	return &Callback{fn: fn}
}

func (c *Callback) Send(ctx context.Context, ev problem.Event) error {
	if c.fn != nil {
		return c.fn(ctx, ev)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
