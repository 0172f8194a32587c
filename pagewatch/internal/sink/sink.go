// Package sink defines output backends for problem events.
package sink

import (
	"context"

	"github.com/hazyhaar/codementor/problem"
)

// Sink receives problem events. Implementations deliver them to different
// backends (stdout, webhook, in-process callback). The observer never
// retries a failed Send: the next change cycle sends a fresher snapshot.
type Sink interface {
	Send(ctx context.Context, ev problem.Event) error
	Close() error
}
