// Package provider calls generative-AI completion APIs. Each provider owns a
// resty client and a request-pacing limiter.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// Provider turns a prompt into an answer.
type Provider interface {
	Name() string
	Complete(ctx context.Context, apiKey, prompt string) (string, error)
}

// Options configures a provider client.
type Options struct {
	BaseURL       string
	Model         string
	Timeout       time.Duration
	Retries       int // retried on 429 and 5xx; negative disables
	RatePerMinute int // 0 means unlimited
	Logger        *slog.Logger
}

// UpstreamError is a failed provider call.
type UpstreamError struct {
	Provider string
	Status   int // 0 when no response was received
	Message  string
}

func (e *UpstreamError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("provider %s: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("provider %s: status %d: %s", e.Provider, e.Status, e.Message)
}

// apiError is the error body shared by both APIs: {"error":{"message":...}}.
type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

type client struct {
	name    string
	model   string
	resty   *resty.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

func newClient(name, defaultURL, defaultModel string, o Options) *client {
	if o.BaseURL == "" {
		o.BaseURL = defaultURL
	}
	if o.Model == "" {
		o.Model = defaultModel
	}
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	if o.Retries == 0 {
		o.Retries = 2
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if o.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(o.RatePerMinute)), 1)
	}

	r := resty.New().
		SetBaseURL(o.BaseURL).
		SetTimeout(o.Timeout).
		SetRetryCount(o.Retries).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(10*time.Second).
		SetHeader("Content-Type", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == 429 || r.StatusCode() >= 500
		})

	return &client{name: name, model: o.Model, resty: r, limiter: limiter, logger: o.Logger}
}

// post paces the call, sends body and decodes a 2xx response into out.
func (c *client) post(ctx context.Context, req *resty.Request, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &UpstreamError{Provider: c.name, Message: err.Error()}
	}
	start := time.Now()
	resp, err := req.
		SetContext(ctx).
		SetBody(body).
		SetResult(out).
		SetError(&apiError{}).
		Post(path)
	if err != nil {
		return &UpstreamError{Provider: c.name, Message: err.Error()}
	}
	c.logger.Debug("provider: call", "provider", c.name, "status", resp.StatusCode(), "duration", time.Since(start))

	if resp.IsError() || !resp.IsSuccess() {
		msg := "failed to get AI response"
		if e, ok := resp.Error().(*apiError); ok && e.Error.Message != "" {
			msg = e.Error.Message
		}
		return &UpstreamError{Provider: c.name, Status: resp.StatusCode(), Message: msg}
	}
	return nil
}

// Registry holds the configured providers by name.
type Registry map[string]Provider

// NewRegistry builds the registry from per-provider options.
func NewRegistry(openai, google Options) Registry {
	return Registry{
		OpenAIName: NewOpenAI(openai),
		GoogleName: NewGoogle(google),
	}
}

// Names returns the registered provider names, sorted.
func (r Registry) Names() []string {
	out := make([]string, 0, len(r))
	for n := range r {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
