package embedder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectProvider(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		jinaKey  string
		openKey  string
		want     string
	}{
		{"explicit", "OLLAMA", "", "", ProviderOllama},
		{"jina key", "", "k", "", ProviderJina},
		{"openai key", "", "", "k", ProviderOpenAI},
		{"jina wins", "", "k", "k", ProviderJina},
		{"fallback", "", "", "", ProviderLocal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvProvider, tt.provider)
			t.Setenv(EnvJinaAPIKey, tt.jinaKey)
			t.Setenv(EnvOpenAIAPIKey, tt.openKey)
			assert.Equal(t, tt.want, DetectProvider())
		})
	}
}

func TestNew(t *testing.T) {
	t.Run("local with dimension", func(t *testing.T) {
		emb, err := New(Config{Provider: "local", Dimension: 32, CacheSize: 10})
		require.NoError(t, err)
		assert.Equal(t, ProviderLocal, emb.Provider())
		assert.Equal(t, 32, emb.Dimension())
	})

	t.Run("jina with overrides", func(t *testing.T) {
		emb, err := New(Config{Provider: "jina", APIKey: "k", Model: "jina-embeddings-v2-small-en", Dimension: 512})
		require.NoError(t, err)
		assert.Equal(t, 512, emb.Dimension())
		assert.Equal(t, "jina-embeddings-v2-small-en", emb.Model())
	})

	t.Run("openai defaults", func(t *testing.T) {
		emb, err := New(Config{Provider: "openai", APIKey: "k"})
		require.NoError(t, err)
		assert.Equal(t, OpenAIDimension, emb.Dimension())
	})

	t.Run("ollama", func(t *testing.T) {
		emb, err := New(Config{Provider: "ollama", BaseURL: "http://127.0.0.1:11434/v1", Dimension: 1024})
		require.NoError(t, err)
		assert.Equal(t, ProviderOllama, emb.Provider())
		assert.Equal(t, 1024, emb.Dimension())
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := New(Config{Provider: "word2vec"})
		assert.ErrorIs(t, err, ErrUnsupportedModel)
	})

	t.Run("from env", func(t *testing.T) {
		t.Setenv(EnvProvider, "")
		t.Setenv(EnvJinaAPIKey, "")
		t.Setenv(EnvOpenAIAPIKey, "")
		emb, err := NewFromEnv()
		require.NoError(t, err)
		assert.Equal(t, ProviderLocal, emb.Provider())
	})
}
