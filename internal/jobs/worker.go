package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/lostnfound/postsearch/internal/syncer"
	"github.com/lostnfound/postsearch/pkg/types"
)

// Syncer syncs the embedding of one post
type Syncer interface {
	SyncEmbedding(ctx context.Context, postID string) (*syncer.Result, error)
}

// WorkerConfig contains configuration for the worker
type WorkerConfig struct {
	Concurrency int           // Parallel syncs (default: 4)
	MaxAttempts int           // Attempts per job before it is dropped (default: 3)
	BaseBackoff time.Duration // Delay before the second attempt, doubled after (default: 1s)
	MaxBackoff  time.Duration // Upper bound on the retry delay (default: 30s)
	JobTimeout  time.Duration // Upper bound on one sync (default: 2m)
}

func (c *WorkerConfig) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 2 * time.Minute
	}
}

// Worker consumes sync jobs on a bounded pool and retries failed ones
// with exponential backoff
type Worker struct {
	queue  Queue
	syncer Syncer
	config WorkerConfig
	logger *zap.Logger
	pool   *ants.Pool

	inflight sync.WaitGroup

	processed atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
	dropped   atomic.Int64
}

// WorkerStats is a snapshot of worker counters
type WorkerStats struct {
	Processed int64 // jobs that synced successfully
	Failed    int64 // attempts that returned an error
	Retried   int64 // jobs re-enqueued
	Dropped   int64 // jobs given up on
}

// NewWorker creates a worker. Call Release when done.
func NewWorker(queue Queue, s Syncer, config WorkerConfig, logger *zap.Logger) (*Worker, error) {
	config.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := ants.NewPool(config.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	return &Worker{
		queue:  queue,
		syncer: s,
		config: config,
		logger: logger,
		pool:   pool,
	}, nil
}

// Run consumes jobs until ctx is done or the queue is closed, then waits
// for in-flight jobs
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("sync worker started", zap.Int("concurrency", w.config.Concurrency))
	defer w.inflight.Wait()

	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) || ctx.Err() != nil {
				w.logger.Info("sync worker stopped")
				return nil
			}
			w.logger.Error("failed to dequeue job", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.config.BaseBackoff):
			}
			continue
		}

		w.inflight.Add(1)
		if err := w.pool.Submit(func() {
			defer w.inflight.Done()
			w.handle(ctx, job)
		}); err != nil {
			w.inflight.Done()
			return fmt.Errorf("failed to submit job: %w", err)
		}
	}
}

// Release frees the pool. Retries still waiting for their backoff are
// lost; the posts stay Failed and the sweep picks them up.
func (w *Worker) Release() {
	w.pool.Release()
}

// Stats returns the current counters
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		Processed: w.processed.Load(),
		Failed:    w.failed.Load(),
		Retried:   w.retried.Load(),
		Dropped:   w.dropped.Load(),
	}
}

func (w *Worker) handle(ctx context.Context, job Job) {
	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()

	result, err := w.syncer.SyncEmbedding(jobCtx, job.PostID)
	if err == nil {
		w.processed.Add(1)
		w.logger.Debug("job done",
			zap.String("post_id", job.PostID),
			zap.String("outcome", string(result.Outcome)),
			zap.Int("attempt", job.Attempt))
		return
	}

	w.failed.Add(1)
	log := w.logger.With(zap.String("post_id", job.PostID), zap.Int("attempt", job.Attempt), zap.Error(err))
	if !Retryable(err) || job.Attempt >= w.config.MaxAttempts || ctx.Err() != nil {
		w.dropped.Add(1)
		log.Warn("dropping sync job")
		return
	}

	next := job
	next.Attempt++
	delay := Backoff(w.config.BaseBackoff, w.config.MaxBackoff, job.Attempt)
	log.Info("retrying sync job", zap.Duration("delay", delay))
	w.retried.Add(1)

	time.AfterFunc(delay, func() {
		enqueueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := w.queue.Enqueue(enqueueCtx, next); err != nil {
			w.logger.Error("failed to re-enqueue job", zap.String("post_id", next.PostID), zap.Error(err))
		}
	})
}

// Retryable reports whether a failed sync may succeed on a later attempt.
// Missing posts and bad arguments never will.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, types.ErrNotFound),
		errors.Is(err, types.ErrValidation),
		errors.Is(err, types.ErrInvalidArgument),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// Backoff returns the delay after the given failed attempt: base doubled
// per attempt, capped at max
func Backoff(base, maxDelay time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}
