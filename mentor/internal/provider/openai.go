package provider

import (
	"context"
)

const (
	OpenAIName         = "openai"
	DefaultOpenAIURL   = "https://api.openai.com"
	DefaultOpenAIModel = "gpt-3.5-turbo"
)

// OpenAI calls the chat completions API.
type OpenAI struct {
	c *client
}

// NewOpenAI creates an OpenAI provider.
func NewOpenAI(o Options) *OpenAI {
	return &OpenAI{c: newClient(OpenAIName, DefaultOpenAIURL, DefaultOpenAIModel, o)}
}

func (p *OpenAI) Name() string { return OpenAIName }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends prompt as a single user message.
func (p *OpenAI) Complete(ctx context.Context, apiKey, prompt string) (string, error) {
	body := chatRequest{
		Model:       p.c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0.7,
	}
	var out chatResponse
	req := p.c.resty.R().SetAuthToken(apiKey)
	if err := p.c.post(ctx, req, "/v1/chat/completions", body, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", &UpstreamError{Provider: OpenAIName, Status: 200, Message: "response has no choices"}
	}
	return out.Choices[0].Message.Content, nil
}
