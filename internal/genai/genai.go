// Package genai provides the generation-provider client for LeadRelay.
//
// It wraps the OpenAI chat completion API behind a narrow interface so the
// conversation engine can be tested against mocks. Every call carries a
// bounded timeout and passes through an injected rate limiter; token usage is
// reported for cost accounting.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/leadrelay/leadrelay/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"golang.org/x/time/rate"
)

// Default client configuration constants.
const (
	// DefaultTimeout bounds a single generation call.
	DefaultTimeout = 30 * time.Second
	// DefaultRateLimit is the default generation calls per second.
	DefaultRateLimit = 5
	// DefaultRateBurst is the default rate limiter burst size.
	DefaultRateBurst = 10
)

// GenerationResult is the outcome of one generation call.
type GenerationResult struct {
	Content string
	Model   string
	Usage   models.TokenUsage
}

// ClientInterface defines the generation operations the engine depends on.
type ClientInterface interface {
	// Generate performs one chat completion described entirely by cfg.
	Generate(ctx context.Context, cfg models.PromptConfig) (*GenerationResult, error)
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey    string
	BaseURL   string
	Timeout   time.Duration
	RateLimit rate.Limit
	RateBurst int
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL overrides the API base URL (for proxies or compatible backends).
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithRateLimit sets the generation call rate limit and burst.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(o *Opts) {
		o.RateLimit = rate.Limit(perSecond)
		o.RateBurst = burst
	}
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	api     openai.Client
	timeout time.Duration
	limiter *rate.Limiter
}

// NewClient initializes a new GenAI client. The API key falls back to the
// OPENAI_API_KEY environment variable when not set via options.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Timeout:   DefaultTimeout,
		RateLimit: rate.Limit(DefaultRateLimit),
		RateBurst: DefaultRateBurst,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		slog.Error("genai.NewClient: OpenAI API key not set")
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}

	slog.Debug("genai.NewClient: creating client",
		"timeout", cfg.Timeout, "rateLimit", float64(cfg.RateLimit), "rateBurst", cfg.RateBurst, "baseURL_set", cfg.BaseURL != "")
	return &Client{
		api:     openai.NewClient(reqOpts...),
		timeout: cfg.Timeout,
		limiter: rate.NewLimiter(cfg.RateLimit, cfg.RateBurst),
	}, nil
}

// Generate performs one chat completion. The prompt config is self-contained:
// model, instructions, message history and budgets all come from cfg.
func (c *Client) Generate(ctx context.Context, cfg models.PromptConfig) (*GenerationResult, error) {
	if len(cfg.Messages) == 0 && cfg.SystemPrompt == "" {
		return nil, fmt.Errorf("prompt config has no messages")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		slog.Warn("genai.Generate: rate limiter wait aborted", "error", err)
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(cfg.Messages)+1)
	if cfg.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(cfg.SystemPrompt))
	}
	for _, m := range cfg.Messages {
		switch m.Role {
		case models.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case models.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(cfg.Model),
		Messages: messages,
	}
	if cfg.MaxTokens > 0 {
		params.MaxTokens = param.NewOpt(cfg.MaxTokens)
	}
	params.Temperature = param.NewOpt(cfg.Temperature)

	start := time.Now()
	resp, err := c.api.Chat.Completions.New(callCtx, params)
	if err != nil {
		slog.Error("genai.Generate: chat completion failed", "error", err, "model", cfg.Model, "elapsed", time.Since(start))
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Error("genai.Generate: no choices returned", "model", cfg.Model)
		return nil, fmt.Errorf("no choices returned")
	}

	result := &GenerationResult{
		Content: strings.TrimSpace(resp.Choices[0].Message.Content),
		Model:   cfg.Model,
		Usage: models.TokenUsage{
			Input:  resp.Usage.PromptTokens,
			Output: resp.Usage.CompletionTokens,
			Total:  resp.Usage.TotalTokens,
		},
	}
	slog.Debug("genai.Generate: completion succeeded",
		"model", cfg.Model, "inputTokens", result.Usage.Input, "outputTokens", result.Usage.Output, "elapsed", time.Since(start))
	return result, nil
}
