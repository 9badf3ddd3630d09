package embedder

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestLocalProvider(t *testing.T) {
	provider, err := NewLocalProvider(NewCache(10), 0)
	require.NoError(t, err)
	assert.Equal(t, LocalDimension, provider.Dimension())
	assert.Equal(t, ProviderLocal, provider.Provider())
	assert.Equal(t, DefaultLocalModel, provider.Model())

	ctx := context.Background()

	t.Run("deterministic and unit length", func(t *testing.T) {
		a, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "Black Wallet\nlost near park"})
		require.NoError(t, err)
		fresh, err := NewLocalProvider(nil, 0)
		require.NoError(t, err)
		b, err := fresh.GenerateEmbedding(ctx, EmbeddingRequest{Text: "Black Wallet\nlost near park"})
		require.NoError(t, err)

		assert.Equal(t, a.Vector, b.Vector)
		assert.Len(t, a.Vector, LocalDimension)
		assert.InDelta(t, 1.0, cosine(a.Vector, a.Vector), 1e-6)
	})

	t.Run("shared vocabulary ranks higher", func(t *testing.T) {
		query, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "black wallet"})
		require.NoError(t, err)
		near, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "Found a black leather wallet"})
		require.NoError(t, err)
		far, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "grey cat with blue collar"})
		require.NoError(t, err)

		assert.Greater(t, cosine(query.Vector, near.Vector), cosine(query.Vector, far.Vector))
	})

	t.Run("case insensitive", func(t *testing.T) {
		a, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "KEYS"})
		require.NoError(t, err)
		b, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "keys"})
		require.NoError(t, err)
		assert.Equal(t, a.Vector, b.Vector)
	})

	t.Run("batch", func(t *testing.T) {
		resp, err := provider.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"a", "b"}})
		require.NoError(t, err)
		assert.Len(t, resp.Embeddings, 2)

		_, err = provider.GenerateBatch(ctx, BatchEmbeddingRequest{})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("canceled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := provider.GenerateEmbedding(cctx, EmbeddingRequest{Text: "never cached"})
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("custom dimension", func(t *testing.T) {
		small, err := NewLocalProvider(nil, 16)
		require.NoError(t, err)
		emb, err := small.GenerateEmbedding(ctx, EmbeddingRequest{Text: "umbrella"})
		require.NoError(t, err)
		assert.Len(t, emb.Vector, 16)
	})
}
