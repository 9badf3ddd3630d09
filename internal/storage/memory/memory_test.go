package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lostnfound/postsearch/internal/storage"
	"github.com/lostnfound/postsearch/internal/storage/storagetest"
)

func TestStoreSuite(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage { return New() })
}

func TestStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	post := storagetest.Create(t, s, storagetest.Fixture{ID: "p1", Vector: []float32{1, 0}})

	post.ItemName = "mutated"
	got, err := s.GetPost(ctx, "p1")
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", got.ItemName)

	got.ContentEmbedding[0] = 42
	again, err := s.GetPost(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, float32(1), again.ContentEmbedding[0])
}

func TestStoreCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New()
	_, err := s.GetPost(ctx, "p1")
	assert.ErrorIs(t, err, context.Canceled)
	_, _, err = s.GetPaged(ctx, storage.PagedQuery{Limit: 1})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.SaveEmbedding(ctx, "p1", storage.EmbeddingRecord{Vector: []float32{1}, ContentHash: "h"}), context.Canceled)
	_, err = s.Stats(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, s.Close())
}
