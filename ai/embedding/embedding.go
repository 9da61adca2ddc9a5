// Package embedding provides text embedding generation for memory and
// vector search.
package embedding

import (
	"context"
	"fmt"
	"time"

	"log/slog"

	"github.com/sashabaranov/go-openai"
)

// Provider generates vector embeddings from text.
type Provider interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one
	// round trip. The result is index-aligned with the input.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector dimensionality this provider
	// produces.
	Dimensions() int
}

// Config represents embedding provider configuration.
type Config struct {
	Provider   string // siliconflow, openai, local
	Model      string
	APIKey     string
	BaseURL    string
	Dimensions int
}

type openAIProvider struct {
	client     *openai.Client
	model      string
	dimensions int
}

// NewProvider creates an embedding provider. The local provider is a
// deterministic hash embedder for development and tests; everything
// else goes through an OpenAI-compatible embeddings endpoint.
func NewProvider(cfg *Config) (Provider, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("embedding: dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.Provider == "local" {
		return NewLocalProvider(cfg.Dimensions), nil
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedding: API key required for provider %q", cfg.Provider)
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &openAIProvider{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

func (p *openAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (p *openAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	startTime := time.Now()
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(p.model),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding: got %d vectors for %d texts", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding: response index %d out of range", item.Index)
		}
		if len(item.Embedding) != p.dimensions {
			return nil, fmt.Errorf("embedding: model returned %d dimensions, expected %d", len(item.Embedding), p.dimensions)
		}
		vectors[item.Index] = item.Embedding
	}

	slog.Debug("embedding: batch generated",
		"model", p.model,
		"texts", len(texts),
		"duration_ms", time.Since(startTime).Milliseconds(),
	)
	return vectors, nil
}

func (p *openAIProvider) Dimensions() int {
	return p.dimensions
}
