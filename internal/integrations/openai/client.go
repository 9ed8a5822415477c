package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"tutor-agent/internal/domain"
)

const (
	defaultModel       = "doubao-1-5-pro-32k-250115"
	defaultMaxTokens   = 1000
	defaultTemperature = 0.7
	completionsSuffix  = "/chat/completions"
)

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
	Err        error
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

func (e *HTTPStatusError) Unwrap() error {
	return e.Err
}

// Client is a focused OpenAI-compatible client for chat completions. It talks
// to any endpoint speaking the chat completions protocol.
type Client struct {
	api         *openai.Client
	url         string
	model       string
	maxTokens   int
	temperature float32
}

type Option func(*Client, *openai.ClientConfig)

// WithHTTPClient routes requests through doer, normally a *retry.Client.
func WithHTTPClient(doer openai.HTTPDoer) Option {
	return func(_ *Client, cfg *openai.ClientConfig) {
		if doer != nil {
			cfg.HTTPClient = doer
		}
	}
}

func WithModel(model string) Option {
	return func(c *Client, _ *openai.ClientConfig) {
		if m := strings.TrimSpace(model); m != "" {
			c.model = m
		}
	}
}

// WithMaxTokens sets the default completion budget.
func WithMaxTokens(n int) Option {
	return func(c *Client, _ *openai.ClientConfig) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

func WithTemperature(t float32) Option {
	return func(c *Client, _ *openai.ClientConfig) {
		c.temperature = t
	}
}

// NewClient creates a Client for the full chat completions URL, e.g.
// https://ark.cn-beijing.volces.com/api/v3/chat/completions.
func NewClient(apiKey, apiURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai: api key must not be empty")
	}
	base, err := BaseURL(apiURL)
	if err != nil {
		return nil, err
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = base
	c := &Client{
		url:         base + completionsSuffix,
		model:       defaultModel,
		maxTokens:   defaultMaxTokens,
		temperature: defaultTemperature,
	}
	for _, opt := range opts {
		opt(c, &cfg)
	}
	c.api = openai.NewClientWithConfig(cfg)
	return c, nil
}

// BaseURL strips the "/chat/completions" suffix so the SDK can append it.
func BaseURL(apiURL string) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(apiURL), "/")
	base = strings.TrimSuffix(base, completionsSuffix)
	if base == "" {
		return "", errors.New("openai: api url must not be empty")
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return "", fmt.Errorf("openai: api url %q must be http(s)", apiURL)
	}
	return base, nil
}

// Chat sends messages and returns the trimmed content of the first choice.
// maxTokens <= 0 uses the client default.
func (c *Client) Chat(ctx context.Context, messages []domain.ChatMessage, maxTokens int) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("openai: messages must not be empty")
	}
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
		MaxTokens:   maxTokens,
		Temperature: c.temperature,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai: request failed: %w", c.classify(err))
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no choices in response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// classify turns the SDK's status-bearing errors into *HTTPStatusError so
// callers can branch on HTTPStatusCode without importing the SDK.
func (c *Client) classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &HTTPStatusError{StatusCode: apiErr.HTTPStatusCode, URL: c.url, Body: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &HTTPStatusError{StatusCode: reqErr.HTTPStatusCode, URL: c.url, Body: fmt.Sprint(reqErr.Err), Err: err}
	}
	return err
}
