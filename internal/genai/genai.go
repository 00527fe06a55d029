// Package genai provides the model gateway: a single free-text prompt sent to an
// OpenAI-compatible chat completion endpoint (Groq by default).
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BTreeMap/RepLog/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Defaults for the gateway. The base URL and model match the Groq deployment
// the assistant was built against.
const (
	DefaultBaseURL   = "https://api.groq.com/openai/v1"
	DefaultModel     = "llama-3.3-70b-versatile"
	DefaultMaxTokens = 1024
)

var (
	// ErrMissingAPIKey is returned by NewClient when no key is configured.
	ErrMissingAPIKey = errors.New("model API key not set")
	// ErrNoChoicesReturned is returned when the completion has no choices.
	ErrNoChoicesReturned = fmt.Errorf("no choices returned: %w", models.ErrModel)
	// ErrEmptyResponse is returned when the first choice has no text.
	ErrEmptyResponse = fmt.Errorf("empty response from model: %w", models.ErrModel)
)

// ClientInterface is the contract the engine depends on.
type ClientInterface interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// chatService defines the minimal chat completion surface used by Client.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completionsAdapter adapts the SDK's completion service to chatService.
type completionsAdapter struct {
	svc     openai.ChatCompletionService
	timeout time.Duration
}

func (a completionsAdapter) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	var reqOpts []option.RequestOption
	if a.timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(a.timeout))
	}
	resp, err := a.svc.New(ctx, params, reqOpts...)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration for the gateway client.
type Opts struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int64
	Temperature float64
	Timeout     time.Duration
}

// Option configures the gateway client.
type Option func(*Opts)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithModel selects the model name.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int64) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithTimeout bounds each HTTP request made to the endpoint.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// Client sends prompts to the model endpoint.
type Client struct {
	chat        chatService
	model       string
	maxTokens   int64
	temperature float64
}

// NewClient builds a gateway client. The API key falls back to $GROQ_API_KEY
// and then $OPENAI_API_KEY.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{BaseURL: DefaultBaseURL, Model: DefaultModel, MaxTokens: DefaultMaxTokens}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GROQ_API_KEY")
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	slog.Debug("genai.NewClient: configuring client", "base_url", cfg.BaseURL, "model", cfg.Model, "max_tokens", cfg.MaxTokens, "timeout", cfg.Timeout)

	clientOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(clientOpts...)
	return &Client{
		chat:        completionsAdapter{svc: cli.Chat.Completions, timeout: cfg.Timeout},
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Complete sends prompt as a single user message and returns the raw text of
// the first choice. Every failure wraps models.ErrModel.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(c.maxTokens)
	}
	if c.temperature > 0 {
		params.Temperature = openai.Float(c.temperature)
	}

	start := time.Now()
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Error("genai.Complete: request failed", "error", err, "model", c.model, "elapsed", time.Since(start))
		return "", fmt.Errorf("%w: %v", models.ErrModel, err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyResponse
	}
	slog.Debug("genai.Complete: response received", "model", c.model, "prompt_length", len(prompt), "response_length", len(content), "elapsed", time.Since(start))
	return content, nil
}
