package provider

import (
	"context"
)

const (
	GoogleName         = "google"
	DefaultGoogleURL   = "https://generativelanguage.googleapis.com"
	DefaultGoogleModel = "gemini-2.0-flash"
)

// Google calls the Gemini generateContent API.
type Google struct {
	c *client
}

// NewGoogle creates a Gemini provider.
func NewGoogle(o Options) *Google {
	return &Google{c: newClient(GoogleName, DefaultGoogleURL, DefaultGoogleModel, o)}
}

func (p *Google) Name() string { return GoogleName }

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Complete sends prompt as a single content part. The key travels as the
// key query parameter.
func (p *Google) Complete(ctx context.Context, apiKey, prompt string) (string, error) {
	body := generateRequest{Contents: []content{{Parts: []part{{Text: prompt}}}}}
	var out generateResponse
	req := p.c.resty.R().SetQueryParam("key", apiKey)
	path := "/v1beta/models/" + p.c.model + ":generateContent"
	if err := p.c.post(ctx, req, path, body, &out); err != nil {
		return "", err
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", &UpstreamError{Provider: GoogleName, Status: 200, Message: "response has no candidates"}
	}
	return out.Candidates[0].Content.Parts[0].Text, nil
}
