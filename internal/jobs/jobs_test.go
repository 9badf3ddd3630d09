package jobs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lostnfound/postsearch/internal/syncer"
	"github.com/lostnfound/postsearch/pkg/types"
)

// fakeSyncer fails a post as many times as scripted, then succeeds
type fakeSyncer struct {
	mu       sync.Mutex
	failures map[string][]error
	calls    map[string]int
}

func newFakeSyncer() *fakeSyncer {
	return &fakeSyncer{failures: map[string][]error{}, calls: map[string]int{}}
}

func (f *fakeSyncer) fail(postID string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[postID] = errs
}

func (f *fakeSyncer) callCount(postID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[postID]
}

func (f *fakeSyncer) SyncEmbedding(ctx context.Context, postID string) (*syncer.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[postID]++
	if errs := f.failures[postID]; len(errs) > 0 {
		f.failures[postID] = errs[1:]
		return nil, errs[0]
	}
	return &syncer.Result{PostID: postID, Outcome: syncer.OutcomeUpdated}, nil
}

func runWorker(t *testing.T, q Queue, s Syncer, cfg WorkerConfig) (*Worker, context.CancelFunc) {
	t.Helper()
	w, err := NewWorker(q, s, cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, w.Run(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		w.Release()
	})
	return w, cancel
}

func TestMemoryQueue(t *testing.T) {
	q := NewMemoryQueue(2)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, NewJob("a")))
	require.NoError(t, q.Enqueue(ctx, NewJob("b")))
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Full queue blocks until the context gives up
	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Enqueue(short, NewJob("c")), context.DeadlineExceeded)

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", job.PostID)
	assert.Equal(t, 1, job.Attempt)

	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Enqueue(ctx, NewJob("d")), ErrQueueClosed)
}

func TestMemoryQueueDequeueWaits(t *testing.T) {
	q := NewMemoryQueue(0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWorkerProcessesJobs(t *testing.T) {
	q := NewMemoryQueue(16)
	s := newFakeSyncer()
	w, _ := runWorker(t, q, s, WorkerConfig{Concurrency: 3})

	for i := 0; i < 10; i++ {
		require.NoError(t, q.Enqueue(context.Background(), NewJob(fmt.Sprintf("p%d", i))))
	}

	require.Eventually(t, func() bool { return w.Stats().Processed == 10 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(0), w.Stats().Failed)
	assert.Equal(t, 1, s.callCount("p7"))
}

func TestWorkerRetriesTransientFailures(t *testing.T) {
	q := NewMemoryQueue(16)
	s := newFakeSyncer()
	s.fail("p1", fmt.Errorf("%w: 503", types.ErrProvider), fmt.Errorf("%w: slow", types.ErrProviderTimeout))
	w, _ := runWorker(t, q, s, WorkerConfig{BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond})

	require.NoError(t, q.Enqueue(context.Background(), NewJob("p1")))

	require.Eventually(t, func() bool { return w.Stats().Processed == 1 }, 2*time.Second, 5*time.Millisecond)
	stats := w.Stats()
	assert.Equal(t, int64(2), stats.Failed)
	assert.Equal(t, int64(2), stats.Retried)
	assert.Equal(t, int64(0), stats.Dropped)
	assert.Equal(t, 3, s.callCount("p1"))
}

func TestWorkerDropsAfterMaxAttempts(t *testing.T) {
	q := NewMemoryQueue(16)
	s := newFakeSyncer()
	boom := fmt.Errorf("%w: down", types.ErrProvider)
	s.fail("p1", boom, boom, boom, boom)
	w, _ := runWorker(t, q, s, WorkerConfig{MaxAttempts: 2, BaseBackoff: time.Millisecond})

	require.NoError(t, q.Enqueue(context.Background(), NewJob("p1")))

	require.Eventually(t, func() bool { return w.Stats().Dropped == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, s.callCount("p1"))
	assert.Equal(t, int64(0), w.Stats().Processed)
}

func TestWorkerDropsPermanentFailures(t *testing.T) {
	q := NewMemoryQueue(16)
	s := newFakeSyncer()
	s.fail("gone", fmt.Errorf("%w: post gone", types.ErrNotFound))
	w, _ := runWorker(t, q, s, WorkerConfig{BaseBackoff: time.Millisecond})

	require.NoError(t, q.Enqueue(context.Background(), NewJob("gone")))

	require.Eventually(t, func() bool { return w.Stats().Dropped == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(0), w.Stats().Retried)
	assert.Equal(t, 1, s.callCount("gone"))
}

func TestWorkerStopsWhenQueueCloses(t *testing.T) {
	q := NewMemoryQueue(1)
	w, err := NewWorker(q, newFakeSyncer(), WorkerConfig{}, nil)
	require.NoError(t, err)
	defer w.Release()

	require.NoError(t, q.Close())
	assert.NoError(t, w.Run(context.Background()))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(types.ErrProvider))
	assert.True(t, Retryable(types.ErrProviderTimeout))
	assert.True(t, Retryable(errors.New("database is locked")))
	assert.False(t, Retryable(fmt.Errorf("%w: p1", types.ErrNotFound)))
	assert.False(t, Retryable(types.ErrInvalidArgument))
	assert.False(t, Retryable(fmt.Errorf("sync canceled: %w", context.Canceled)))
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{60, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(time.Second, 30*time.Second, tt.attempt), "attempt %d", tt.attempt)
	}
}

// Needs a running Redis, e.g. POSTSEARCH_TEST_REDIS_ADDR=localhost:6379
func TestRedisQueue(t *testing.T) {
	addr := os.Getenv("POSTSEARCH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("POSTSEARCH_TEST_REDIS_ADDR not set")
	}
	host, port := splitAddr(t, addr)
	client := NewRedisClient(RedisConfig{Host: host, Port: port})
	key := fmt.Sprintf("postsearch:test:%d", time.Now().UnixNano())
	q := NewRedisQueue(client, key)
	defer q.Close()
	ctx := context.Background()
	require.NoError(t, q.Ping(ctx))
	defer client.Del(ctx, key)

	require.NoError(t, q.Enqueue(ctx, NewJob("a")))
	require.NoError(t, q.Enqueue(ctx, Job{PostID: "b", Attempt: 2}))
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", job.PostID)
	job, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", job.PostID)
	assert.Equal(t, 2, job.Attempt)

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = q.Dequeue(short)
	assert.Error(t, err)
}

func splitAddr(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, rawPort, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(rawPort)
	require.NoError(t, err)
	return host, port
}
