package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lostnfound/postsearch/pkg/types"
)

// embeddingsServer answers /embeddings requests with vectors of the given
// dimension whose first component encodes the input index.
func embeddingsServer(t *testing.T, dim int, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		// Reverse order to check that index, not position, is honored
		data := make([]map[string]interface{}, 0, len(body.Input))
		for i := len(body.Input) - 1; i >= 0; i-- {
			vec := make([]float32, dim)
			vec[0] = float32(len(body.Input[i]))
			data = append(data, map[string]interface{}{"index": i, "embedding": vec})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"model": body.Model, "data": data})
	}))
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestHTTPProvider_GenerateEmbedding(t *testing.T) {
	var calls atomic.Int32
	server := embeddingsServer(t, JinaDimension, &calls)
	defer server.Close()

	provider, err := NewJinaProvider("test-key", NewCache(10), WithEndpoint(server.URL), WithRetry(fastRetry()))
	require.NoError(t, err)
	defer provider.Close()

	ctx := context.Background()
	emb, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "Black Wallet\nlost near park"})
	require.NoError(t, err)
	assert.Len(t, emb.Vector, JinaDimension)
	assert.Equal(t, ProviderJina, emb.Provider)
	assert.Equal(t, DefaultJinaModel, emb.Model)

	// Second call is served from cache
	_, err = provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "Black Wallet\nlost near park"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPProvider_GenerateBatch(t *testing.T) {
	var calls atomic.Int32
	server := embeddingsServer(t, 4, &calls)
	defer server.Close()

	provider, err := NewOpenAIProvider("test-key", NewCache(10),
		WithEndpoint(server.URL), WithModel("small", 4), WithRetry(fastRetry()))
	require.NoError(t, err)
	assert.Equal(t, 4, provider.Dimension())
	assert.Equal(t, "small", provider.Model())

	ctx := context.Background()
	_, err = provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "bb"})
	require.NoError(t, err)

	resp, err := provider.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"a", "bb", "cccc"}})
	require.NoError(t, err)
	require.Len(t, resp.Embeddings, 3)
	assert.Equal(t, float32(1), resp.Embeddings[0].Vector[0])
	assert.Equal(t, float32(2), resp.Embeddings[1].Vector[0])
	assert.Equal(t, float32(4), resp.Embeddings[2].Vector[0])
	assert.Equal(t, ProviderOpenAI, resp.Provider)
	assert.Equal(t, int32(2), calls.Load(), "cached text is not requested again")
}

func TestHTTPProvider_Errors(t *testing.T) {
	t.Run("server errors are retried then reported", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
		}))
		defer server.Close()

		provider, err := NewJinaProvider("test-key", nil, WithEndpoint(server.URL), WithRetry(fastRetry()))
		require.NoError(t, err)

		_, err = provider.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "x"})
		assert.ErrorIs(t, err, ErrProviderFailed)
		assert.ErrorIs(t, Classify(err), types.ErrProvider)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("unauthorized is not retried", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			http.Error(w, "bad key", http.StatusUnauthorized)
		}))
		defer server.Close()

		provider, err := NewJinaProvider("test-key", nil, WithEndpoint(server.URL), WithRetry(fastRetry()))
		require.NoError(t, err)

		_, err = provider.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "x"})
		assert.ErrorIs(t, err, ErrProviderFailed)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("deadline classified as timeout", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer server.Close()

		provider, err := NewOpenAIProvider("test-key", nil, WithEndpoint(server.URL), WithRetry(fastRetry()))
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err = provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "x"})
		assert.ErrorIs(t, Classify(err), types.ErrProviderTimeout)
	})

	t.Run("mismatched count rejected", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": []interface{}{}})
		}))
		defer server.Close()

		provider, err := NewJinaProvider("test-key", nil, WithEndpoint(server.URL), WithRetry(RetryConfig{MaxRetries: 1}))
		require.NoError(t, err)

		_, err = provider.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "x"})
		assert.ErrorIs(t, err, ErrProviderFailed)
	})

	t.Run("missing api key", func(t *testing.T) {
		t.Setenv(EnvJinaAPIKey, "")
		_, err := NewJinaProvider("", nil)
		assert.ErrorIs(t, err, ErrNoProviderEnabled)
	})

	t.Run("api key read from environment", func(t *testing.T) {
		t.Setenv(EnvOpenAIAPIKey, "env-key")
		provider, err := NewOpenAIProvider("", nil)
		require.NoError(t, err)
		assert.Equal(t, "env-key", provider.apiKey)
	})
}

func TestNormalizeVector(t *testing.T) {
	v := NormalizeVector([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := []float32{0, 0}
	assert.Equal(t, zero, NormalizeVector(zero))
}
