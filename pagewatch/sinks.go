package pagewatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/hazyhaar/codementor/pagewatch/internal/sink"
	"github.com/hazyhaar/codementor/problem"
)

// Sink is the output interface for problem events.
type Sink = sink.Sink

// EventFunc is called for each event by a callback sink.
type EventFunc = sink.EventFunc

// NewStdoutSink creates a stdout JSON-lines sink.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, retries int, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookRetries(retries), sink.WithWebhookLogger(logger))
}

// NewCallbackSink creates an in-process sink: the mentor store receives
// events without serialisation.
func NewCallbackSink(fn func(ctx context.Context, ev problem.Event) error) Sink {
	return sink.NewCallback(fn)
}

// SinksFromConfig builds the sinks listed in cfg.
func SinksFromConfig(cfg *Config, logger *slog.Logger) ([]Sink, error) {
	var out []Sink
	for _, s := range cfg.Sinks {
		switch s.Type {
		case "stdout":
			out = append(out, NewStdoutSink(os.Stdout))
		case "webhook":
			out = append(out, NewWebhookSink(s.URL, s.Retries, logger))
		default:
			return nil, fmt.Errorf("pagewatch: unknown sink type %q", s.Type)
		}
	}
	return out, nil
}
