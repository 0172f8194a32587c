// Package fetcher retrieves a page over plain HTTP, without a browser. It
// backs one-shot extraction of saved or server-rendered problem pages.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hazyhaar/codementor/guard"
)

// maxBody caps downloads at 10MB. The limit is enforced while reading.
const maxBody = 10 << 20

// maxRedirects bounds redirect chains.
const maxRedirects = 5

// Result is the outcome of a fetch.
type Result struct {
	URL        string // final URL after redirects
	HTML       string
	StatusCode int
	FetchedAt  time.Time
}

// Fetcher performs HTTP GETs.
type Fetcher struct {
	client *resty.Client
	logger *slog.Logger
	// checkURL vets the requested URL and every redirect target. nil
	// accepts any URL.
	checkURL func(string) error
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.client.SetHeader("User-Agent", ua) }
}

// WithRetries sets how many times a failed GET is retried. Default: 2.
func WithRetries(n int) Option {
	return func(f *Fetcher) { f.client.SetRetryCount(n) }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// WithPublicOnly refuses targets that are, or resolve to, loopback,
// private or link-local addresses. The check runs on the requested URL, on
// every redirect hop and on the address actually dialled.
func WithPublicOnly() Option {
	return func(f *Fetcher) {
		f.checkURL = guard.ValidateURL
		dialer := &net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
			Control:   guard.DialControl,
		}
		f.client.SetTransport(&http.Transport{
			DialContext:         dialer.DialContext,
			ForceAttemptHTTP2:   true,
			TLSHandshakeTimeout: 10 * time.Second,
			IdleConnTimeout:     90 * time.Second,
			MaxIdleConns:        10,
		})
	}
}

// New creates a Fetcher.
func New(opts ...Option) *Fetcher {
	c := resty.New().
		SetTimeout(30*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetHeader("User-Agent", "Mozilla/5.0 (compatible; codementor/1.0)").
		SetHeader("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8").
		SetHeader("Accept-Language", "en-US,en;q=0.5").
		SetResponseBodyLimit(maxBody).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if errors.Is(err, resty.ErrResponseBodyTooLarge) || errors.Is(err, guard.ErrPrivateHost) {
				return false
			}
			return err != nil || r.StatusCode() >= 500
		})
	f := &Fetcher{client: c, logger: slog.Default()}
	c.SetRedirectPolicy(
		resty.FlexibleRedirectPolicy(maxRedirects),
		resty.RedirectPolicyFunc(func(req *http.Request, _ []*http.Request) error {
			if f.checkURL == nil {
				return nil
			}
			if err := f.checkURL(req.URL.String()); err != nil {
				return fmt.Errorf("redirect to %s: %w", req.URL.Redacted(), err)
			}
			return nil
		}),
	)
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch GETs pageURL. Non-2xx responses are errors.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (*Result, error) {
	if f.checkURL != nil {
		if err := f.checkURL(pageURL); err != nil {
			return nil, fmt.Errorf("fetcher: get %s: %w", pageURL, err)
		}
	}
	resp, err := f.client.R().SetContext(ctx).Get(pageURL)
	if err != nil {
		return nil, fmt.Errorf("fetcher: get %s: %w", pageURL, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("fetcher: get %s: status %d", pageURL, resp.StatusCode())
	}
	body := resp.String()

	res := &Result{
		URL:        resp.Request.RawRequest.URL.String(),
		HTML:       body,
		StatusCode: resp.StatusCode(),
		FetchedAt:  time.Now(),
	}
	f.logger.Debug("fetcher: fetched", "url", res.URL, "status", res.StatusCode, "size", len(body))
	return res, nil
}
