package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lostnfound/postsearch/internal/config"
	"github.com/lostnfound/postsearch/internal/embedder"
	"github.com/lostnfound/postsearch/internal/jobs"
	"github.com/lostnfound/postsearch/pkg/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Driver = config.DriverMemory
	cfg.Embedder.Provider = embedder.ProviderLocal
	cfg.Server.Port = "0"
	cfg.Server.GinMode = "test"
	cfg.Sync.WorkerBackoffMs = 10
	require.NoError(t, cfg.Validate())
	return cfg
}

func createPost(t *testing.T, a *App, name, desc string) *types.Post {
	t.Helper()
	post := &types.Post{PostType: types.PostTypeLost, ItemName: name, Description: desc, AuthorID: "u1"}
	require.NoError(t, a.Store.CreatePost(context.Background(), post))
	return post
}

func TestNewWiresComponents(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, embedder.ProviderLocal, a.Embedder.Provider())
	assert.IsType(t, &jobs.MemoryQueue{}, a.Queue)
	assert.Equal(t, 20, a.Searcher.Config().DefaultPageSize)
}

func TestNewSQLite(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Driver = config.DriverSQLite
	cfg.Storage.Path = filepath.Join(t.TempDir(), "data", "posts.db")

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	post := createPost(t, a, "Umbrella", "red, left on bus 42")
	got, err := a.Store.GetPost(context.Background(), post.ID)
	require.NoError(t, err)
	assert.Equal(t, "Umbrella", got.ItemName)
}

func TestOpenStorageUnknownDriver(t *testing.T) {
	_, err := OpenStorage(context.Background(), config.StorageConfig{Driver: "mysql"})
	assert.Error(t, err)
}

func TestOpenQueue(t *testing.T) {
	q, err := OpenQueue(config.QueueConfig{Backend: config.QueueRedis}, jobs.RedisConfig{Host: "127.0.0.1", Port: 6379})
	require.NoError(t, err)
	assert.IsType(t, &jobs.RedisQueue{}, q)
	require.NoError(t, q.Close())

	_, err = OpenQueue(config.QueueConfig{Backend: "kafka"}, jobs.RedisConfig{})
	assert.Error(t, err)
}

func TestSweep(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	defer a.Close()

	p1 := createPost(t, a, "Black Wallet", "lost near park")
	createPost(t, a, "Keys", "three keys on a ring")

	stats, err := a.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.PostsUpdated)

	got, err := a.Store.GetPost(context.Background(), p1.ID)
	require.NoError(t, err)
	assert.Equal(t, types.EmbeddingReady, got.EmbeddingStatus)
}

func TestRunServerConsumesJobs(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.RunServer(ctx) }()

	post := createPost(t, a, "Phone", "black phone with cracked screen")
	require.NoError(t, a.Queue.Enqueue(context.Background(), jobs.NewJob(post.ID)))

	require.Eventually(t, func() bool {
		got, err := a.Store.GetPost(context.Background(), post.ID)
		return err == nil && got.EmbeddingStatus == types.EmbeddingReady
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(20 * time.Second):
		t.Fatal("server did not stop")
	}
}
