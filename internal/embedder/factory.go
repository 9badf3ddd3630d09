package embedder

import (
	"fmt"
	"os"
	"strings"
)

// EnvProvider selects the provider when no explicit configuration is given
const EnvProvider = "POSTSEARCH_EMBEDDING_PROVIDER"

// Config holds embedder configuration
type Config struct {
	Provider  string
	APIKey    string
	BaseURL   string // endpoint for jina/openai, server base URL for ollama
	Model     string
	Dimension int
	CacheSize int
}

// NewFromEnv creates an embedder based on environment variables
// Priority:
// 1. POSTSEARCH_EMBEDDING_PROVIDER (jina, openai, ollama, local)
// 2. Check for API keys: JINA_API_KEY, OPENAI_API_KEY
// 3. Default to local if no API keys found
func NewFromEnv() (Embedder, error) {
	return New(Config{Provider: DetectProvider(), CacheSize: DefaultCacheSize})
}

// New creates an embedder with explicit configuration. An empty provider
// is resolved with DetectProvider.
func New(cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	provider := strings.ToLower(cfg.Provider)
	if provider == "" {
		provider = DetectProvider()
	}

	switch provider {
	case ProviderJina:
		return NewJinaProvider(cfg.APIKey, cache, WithEndpoint(cfg.BaseURL), WithModel(cfg.Model, cfg.Dimension))
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg.APIKey, cache, WithEndpoint(cfg.BaseURL), WithModel(cfg.Model, cfg.Dimension))
	case ProviderOllama:
		return NewCompatProvider(CompatConfig{
			BaseURL:   cfg.BaseURL,
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
		}, cache)
	case ProviderLocal:
		return NewLocalProvider(cache, cfg.Dimension)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// DetectProvider returns the provider that would be used based on current environment
func DetectProvider() string {
	provider := os.Getenv(EnvProvider)
	if provider != "" {
		return strings.ToLower(provider)
	}

	if os.Getenv(EnvJinaAPIKey) != "" {
		return ProviderJina
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}

	return ProviderLocal
}
