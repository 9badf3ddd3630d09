package embedder

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// CompatConfig configures an OpenAI-compatible embedding server such as Ollama or vLLM
type CompatConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	Dimension int
}

// CompatProvider implements Embedder for any OpenAI-compatible server
// through langchaingo. The server does not report its dimension, so it
// must be configured.
type CompatProvider struct {
	embedder  embeddings.Embedder
	model     string
	dimension int
	cache     *Cache
}

// NewCompatProvider creates an embedder for an OpenAI-compatible endpoint
func NewCompatProvider(cfg CompatConfig, cache *Cache) (*CompatProvider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOllamaBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = OllamaDimension
	}
	// Local servers usually ignore the token but the client requires one
	token := cfg.APIKey
	if token == "" {
		token = "none"
	}

	client, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(token),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("create openai-compatible client: %w", err)
	}

	emb, err := embeddings.NewEmbedder(client,
		embeddings.WithStripNewLines(false),
		embeddings.WithBatchSize(MaxBatchSize),
	)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	return &CompatProvider{
		embedder:  emb,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		cache:     cache,
	}, nil
}

func (c *CompatProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	resp, err := c.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (c *CompatProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	out := make([]*Embedding, len(req.Texts))
	var missing []string
	var missingIdx []int
	for i, text := range req.Texts {
		if c.cache != nil {
			if emb, ok := c.cache.Get(ComputeHash(c.model, text)); ok {
				out[i] = emb
				continue
			}
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) > 0 {
		vectors, err := c.embedder.EmbedDocuments(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrProviderFailed, err)
		}
		if len(vectors) != len(missing) {
			return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrProviderFailed, len(missing), len(vectors))
		}

		for j, vector := range vectors {
			emb := &Embedding{
				Vector:    vector,
				Dimension: len(vector),
				Provider:  ProviderOllama,
				Model:     c.model,
				Hash:      ComputeHash(c.model, missing[j]),
			}
			if c.cache != nil {
				c.cache.Set(emb.Hash, emb)
			}
			out[missingIdx[j]] = emb
		}
	}

	return &BatchEmbeddingResponse{
		Embeddings: out,
		Provider:   ProviderOllama,
		Model:      c.model,
	}, nil
}

func (c *CompatProvider) Dimension() int {
	return c.dimension
}

func (c *CompatProvider) Provider() string {
	return ProviderOllama
}

func (c *CompatProvider) Model() string {
	return c.model
}

func (c *CompatProvider) Close() error {
	return nil
}
