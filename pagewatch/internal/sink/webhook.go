package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/hazyhaar/codementor/problem"
)

// Webhook POSTs each event as JSON to a URL. Transport errors and 5xx
// responses are retried with exponential backoff.
type Webhook struct {
	url    string
	client *retryablehttp.Client
	logger *slog.Logger
}

// WebhookOption configures a Webhook sink.
type WebhookOption func(*Webhook)

// WithWebhookRetries sets the maximum number of retries. Default: 3.
func WithWebhookRetries(n int) WebhookOption {
	return func(w *Webhook) { w.client.RetryMax = n }
}

// WithWebhookBackoff sets the minimum and maximum wait between retries.
// Default: 1s, 8s.
func WithWebhookBackoff(min, max time.Duration) WebhookOption {
	return func(w *Webhook) {
		w.client.RetryWaitMin = min
		w.client.RetryWaitMax = max
	}
}

// WithWebhookLogger sets a custom logger.
func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *Webhook) { w.logger = l }
}

// NewWebhook creates a Webhook sink targeting the given URL.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = time.Second
	c.RetryWaitMax = 8 * time.Second
	c.HTTPClient.Timeout = 10 * time.Second
	c.Logger = nil

	w := &Webhook{url: url, client: c, logger: slog.Default()}
	for _, o := range opts {
		o(w)
	}
	c.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			w.logger.Warn("webhook: retrying", "url", req.URL.String(), "attempt", attempt+1)
		}
	}
	return w
}

func (w *Webhook) Send(ctx context.Context, ev problem.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: status %d", resp.StatusCode)
	}
	return nil
}

func (w *Webhook) Close() error {
	w.client.HTTPClient.CloseIdleConnections()
	return nil
}
