// Package embed generates vector embeddings for note chunks and search queries.
package embed

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/thomas-villani/nb-sub001/internal/apperr"
)

// Provider generates vector embeddings from text.
type Provider interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Model() string
}

// Config selects and configures a provider.
type Config struct {
	Provider   string // "" disables embeddings, "openai" for any OpenAI-compatible endpoint
	Model      string
	BaseURL    string
	APIKey     string
	Dimensions int
}

// ErrDisabled is returned by New when no provider is configured.
var ErrDisabled = errors.New("embed: no provider configured")

// New builds the configured provider.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "":
		return nil, ErrDisabled
	case "openai":
		return NewOpenAI(cfg), nil
	default:
		return nil, fmt.Errorf("embed: unknown provider %q", cfg.Provider)
	}
}

// OpenAIProvider implements Provider for OpenAI and compatible servers
// (Ollama, LM Studio, vLLM) through base_url.
type OpenAIProvider struct {
	client    openai.Client
	model     string
	dimension int
}

// NewOpenAI creates a new OpenAI embedding provider.
func NewOpenAI(cfg Config) *OpenAIProvider {
	opts := []option.RequestOption{option.WithMaxRetries(1)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}
	dimension := cfg.Dimensions
	if dimension <= 0 {
		dimension = 1536
		if model == "text-embedding-3-large" {
			dimension = 3072
		}
	}
	return &OpenAIProvider{
		client:    openai.NewClient(opts...),
		model:     model,
		dimension: dimension,
	}
}

func (p *OpenAIProvider) Dimension() int { return p.dimension }

func (p *OpenAIProvider) Model() string { return p.model }

func (p *OpenAIProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := p.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// GenerateEmbeddings embeds texts in one request. Transport failures are wrapped
// with apperr.ErrBackendUnavailable.
func (p *OpenAIProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(p.model),
	}
	// ada-002 rejects the dimensions parameter.
	if p.model != "text-embedding-ada-002" {
		params.Dimensions = openai.Int(int64(p.dimension))
	}
	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("embed: %w: %w", apperr.ErrBackendUnavailable, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embed: %w: got %d embeddings for %d inputs", apperr.ErrBackendUnavailable, len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, fmt.Errorf("embed: response index %d out of range", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[d.Index] = vec
	}
	return out, nil
}
