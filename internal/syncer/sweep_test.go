package syncer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lostnfound/postsearch/internal/contenthash"
	"github.com/lostnfound/postsearch/internal/storage"
	"github.com/lostnfound/postsearch/pkg/types"
)

func TestSyncPending(t *testing.T) {
	svc, store, emb := setup(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		createPost(t, store, fmt.Sprintf("p%d", i), fmt.Sprintf("item %d", i), "")
	}
	createPost(t, store, "ready", "already synced", "")
	_, err := svc.SyncEmbedding(ctx, "ready")
	require.NoError(t, err)
	createPost(t, store, "failed", "failed earlier", "")
	require.NoError(t, store.SetEmbeddingStatus(ctx, "failed", types.EmbeddingFailed, "timeout"))

	stats, err := svc.SyncPending(ctx, &SweepConfig{Workers: 3})
	require.NoError(t, err)
	assert.Equal(t, 6, stats.PostsUpdated)
	assert.Equal(t, 0, stats.PostsFailed)
	assert.Empty(t, stats.ErrorMessages)
	assert.Equal(t, 7, emb.Calls())

	s, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, s.ByStatus[types.EmbeddingReady])

	// Nothing left to do
	stats, err = svc.SyncPending(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.PostsUpdated)
	assert.Equal(t, 7, emb.Calls())
}

func TestSyncPending_BatchSize(t *testing.T) {
	svc, store, _ := setup(t)
	for i := 0; i < 5; i++ {
		createPost(t, store, fmt.Sprintf("p%d", i), "item", "")
	}

	stats, err := svc.SyncPending(context.Background(), &SweepConfig{Workers: 2, BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.PostsUpdated)

	ids, err := store.ListStalePostIDs(context.Background(), storage.StaleQuery{})
	require.NoError(t, err)
	assert.Len(t, ids, 3)
}

func TestSyncPending_ResyncsEditedReadyPost(t *testing.T) {
	svc, store, emb := setup(t)
	ctx := context.Background()
	createPost(t, store, "p1", "Black Wallet", "lost near park")
	_, err := svc.SyncEmbedding(ctx, "p1")
	require.NoError(t, err)

	// The edit's sync job never ran, so the post is still Ready with an old embedding
	editDescription(t, store, "p1", "lost near station")

	stats, err := svc.SyncPending(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PostsUpdated)
	assert.Equal(t, 2, emb.Calls())

	post, err := store.GetPost(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, contenthash.Hash("Black Wallet", "lost near station"), post.ContentHash)
	assert.Equal(t, types.EmbeddingReady, post.EmbeddingStatus)

	stats, err = svc.SyncPending(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.PostsUpdated)
}

func TestSyncPending_RetriesAbandonedProcessing(t *testing.T) {
	svc, store, emb := setup(t)
	ctx := context.Background()
	createPost(t, store, "p1", "Keys", "")
	// A worker marked the post and crashed before finishing
	require.NoError(t, store.SetEmbeddingStatus(ctx, "p1", types.EmbeddingProcessing, ""))

	stats, err := svc.SyncPending(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.PostsUpdated, "still within the default lease")
	assert.Equal(t, 0, emb.Calls())

	stats, err = svc.SyncPending(ctx, &SweepConfig{ProcessingLease: -1})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.PostsUpdated, "negative lease never retries")

	time.Sleep(5 * time.Millisecond)
	stats, err = svc.SyncPending(ctx, &SweepConfig{ProcessingLease: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PostsUpdated)
	assert.Equal(t, 1, emb.Calls())

	post, err := store.GetPost(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, types.EmbeddingReady, post.EmbeddingStatus)
}

func TestSyncPending_CountsFailures(t *testing.T) {
	svc, store, emb := setup(t)
	createPost(t, store, "p1", "Wallet", "")
	createPost(t, store, "p2", "Keys", "")
	emb.SetError(errors.New("quota exceeded"))

	stats, err := svc.SyncPending(context.Background(), &SweepConfig{Workers: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.PostsFailed)
	require.Len(t, stats.ErrorMessages, 2)
	assert.Contains(t, stats.ErrorMessages[0], "quota exceeded")
}

func TestSyncPending_RejectsOverlap(t *testing.T) {
	svc, _, _ := setup(t)
	require.True(t, svc.sweep.TryAcquire())

	_, err := svc.SyncPending(context.Background(), nil)
	assert.ErrorIs(t, err, ErrSweepInProgress)

	svc.sweep.Release()
	_, err = svc.SyncPending(context.Background(), nil)
	assert.NoError(t, err)
}

func TestSweepLock(t *testing.T) {
	var l SweepLock
	assert.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())
	l.Release()
	assert.True(t, l.TryAcquire())
}
