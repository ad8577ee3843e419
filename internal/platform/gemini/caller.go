package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"

	"github.com/jotstack/jotstack/internal/backoff"
	"github.com/jotstack/jotstack/internal/llm"
	"github.com/jotstack/jotstack/internal/retry"
)

// Config holds the Gemini client settings.
type Config struct {
	// APIKey authenticates against the Gemini API.
	APIKey string

	// Model is the default model identifier, used when a request does not
	// name one.
	Model string

	// MaxRetries bounds the number of attempts for transient failures.
	MaxRetries int

	// RetryDelay is the base delay before the first retry.
	RetryDelay time.Duration
}

// Caller implements llm.Caller against Google's Gemini API. Transient
// failures are retried with exponential backoff; safety blocks and
// malformed responses are not.
type Caller struct {
	logger *slog.Logger
	client *genai.Client
	cfg    Config
}

// NewCaller creates a Gemini-backed model caller.
func NewCaller(ctx context.Context, logger *slog.Logger, cfg Config) (*Caller, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", llm.ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", llm.ErrInvalidConfig)
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create gemini client: %v", llm.ErrInvalidConfig, err)
	}

	return &Caller{
		logger: logger.With("component", "gemini_caller"),
		client: client,
		cfg:    cfg,
	}, nil
}

// Call implements llm.Caller.
func (c *Caller) Call(ctx context.Context, req llm.Request) (string, error) {
	if req.UserPrompt == "" {
		return "", fmt.Errorf("%w: user prompt cannot be empty", llm.ErrInvalidConfig)
	}

	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}

	genCfg := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		genCfg.Temperature = genai.Ptr(float32(req.Temperature))
	}

	opts := retry.Options{
		MaxAttempts: c.cfg.MaxRetries,
		Backoff: backoff.Config{
			InitialDelay: c.cfg.RetryDelay,
			Multiplier:   2,
			MaxDelay:     30 * time.Second,
			Jitter:       true,
		},
		IsRetryable: llm.IsTransient,
		OnRetry: func(err error, attempt int) {
			c.logger.WarnContext(ctx, "retrying gemini call",
				"model", model,
				"attempt", attempt,
				"error", err)
		},
	}

	return retry.Do(ctx, func(ctx context.Context) (string, error) {
		return c.generate(ctx, model, req.UserPrompt, genCfg)
	}, opts)
}

// generate performs one API call and classifies its outcome.
func (c *Caller) generate(ctx context.Context, model, prompt string, cfg *genai.GenerateContentConfig) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, model, genai.Text(prompt), cfg)
	if err != nil {
		// API-level failures (rate limits, timeouts, 5xx) are worth
		// another attempt.
		return "", fmt.Errorf("%w: %v", llm.ErrTransient, err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates returned", llm.ErrInvalidResponse)
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", fmt.Errorf("%w: response blocked by safety filters", llm.ErrContentBlocked)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("%w: empty response text", llm.ErrInvalidResponse)
	}

	c.logger.DebugContext(ctx, "gemini call succeeded", "model", model)
	return text, nil
}

var _ llm.Caller = (*Caller)(nil)
