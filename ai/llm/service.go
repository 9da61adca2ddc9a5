// Package llm wraps OpenAI-compatible chat providers behind one service
// interface with typed failure classification.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Typed provider failures. The orchestrator keys retry and fallback
// behavior off these, never off provider-specific error strings.
var (
	ErrRateLimited         = errors.New("llm: rate limited")
	ErrAuthFailed          = errors.New("llm: authentication failed")
	ErrModelUnavailable    = errors.New("llm: model unavailable")
	ErrTimeout             = errors.New("llm: request timed out")
	ErrProviderUnavailable = errors.New("llm: provider unavailable")
)

// Message represents a chat message.
type Message struct {
	Role    string // system, user, assistant
	Content string
}

// SystemPrompt creates a system message.
func SystemPrompt(content string) Message {
	return Message{Role: "system", Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content}
}

// GenerationConfig selects the concrete model for one call. The router
// produces it; this package never chooses models on its own.
type GenerationConfig struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

// Result is a completed generation.
type Result struct {
	Text       string
	TokensUsed int
	LatencyMs  int64
}

// Service is the LLM provider interface.
type Service interface {
	// Generate performs a synchronous chat completion.
	Generate(ctx context.Context, messages []Message, cfg GenerationConfig) (*Result, error)

	// Warmup sends a lightweight ping to establish the connection.
	Warmup(ctx context.Context, model string)
}

// Config represents LLM service configuration.
type Config struct {
	Provider string // openai, deepseek, siliconflow, ollama
	APIKey   string
	BaseURL  string
	Timeout  int // request timeout in seconds (default: 120)
}

type service struct {
	client   *openai.Client
	provider string
	timeout  time.Duration
}

// NewService creates a new LLM Service against any OpenAI-compatible
// endpoint.
func NewService(cfg *Config) (Service, error) {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = newHTTPClient()

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120
	}

	return &service{
		client:   openai.NewClientWithConfig(clientConfig),
		provider: cfg.Provider,
		timeout:  time.Duration(timeout) * time.Second,
	}, nil
}

func (s *service) Generate(ctx context.Context, messages []Message, cfg GenerationConfig) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	slog.Debug("llm: generate request",
		"provider", s.provider,
		"model", cfg.Model,
		"messages", len(messages),
		"max_tokens", cfg.MaxTokens,
	)

	startTime := time.Now()
	req := openai.ChatCompletionRequest{
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Messages:    convertMessages(messages),
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		classified := classifyError(err)
		slog.Error("llm: generate request failed",
			"provider", s.provider,
			"model", cfg.Model,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %v", classified, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrModelUnavailable)
	}

	latency := time.Since(startTime)
	result := &Result{
		Text:       resp.Choices[0].Message.Content,
		TokensUsed: resp.Usage.TotalTokens,
		LatencyMs:  latency.Milliseconds(),
	}

	slog.Debug("llm: generate response received",
		"model", cfg.Model,
		"tokens", result.TokensUsed,
		"duration_ms", result.LatencyMs,
	)
	return result, nil
}

func (s *service) Warmup(ctx context.Context, model string) {
	warmupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	startTime := time.Now()
	req := openai.ChatCompletionRequest{
		Model:       model,
		MaxTokens:   1,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "Hi"},
		},
	}
	if _, err := s.client.CreateChatCompletion(warmupCtx, req); err != nil {
		slog.Warn("llm: warmup ping failed (first request may be slower)",
			"provider", s.provider,
			"model", model,
			"error", err,
		)
		return
	}
	slog.Info("llm: connection warmed up",
		"provider", s.provider,
		"model", model,
		"duration_ms", time.Since(startTime).Milliseconds(),
	)
}

// classifyError maps transport and API errors onto the typed failure
// set.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests:
			return ErrRateLimited
		case http.StatusUnauthorized, http.StatusForbidden:
			return ErrAuthFailed
		case http.StatusNotFound:
			return ErrModelUnavailable
		case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
			return ErrProviderUnavailable
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrTimeout
		}
		return ErrProviderUnavailable
	}
	return ErrProviderUnavailable
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	converted := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		role := m.Role
		switch role {
		case "system", "user", "assistant":
		default:
			role = openai.ChatMessageRoleUser
		}
		converted[i] = openai.ChatCompletionMessage{Role: role, Content: m.Content}
	}
	return converted
}

func newHTTPClient() *http.Client {
	// No client-level timeout; the per-call context carries the deadline.
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}
