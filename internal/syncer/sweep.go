package syncer

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/lostnfound/postsearch/internal/storage"
)

// ErrSweepInProgress is returned when a sweep is already running
var ErrSweepInProgress = errors.New("embedding sweep already in progress")

// DefaultProcessingLease is how long a post may stay Processing before a
// sweep treats its sync as abandoned
const DefaultProcessingLease = 10 * time.Minute

// SweepConfig contains configuration for a sweep
type SweepConfig struct {
	Workers         int           // Number of concurrent syncs (default: runtime.NumCPU())
	BatchSize       int           // Max posts picked up per sweep (default: 100, <0 means all)
	ProcessingLease time.Duration // Age after which Processing posts are retried (default: 10m, <0 never)
}

// Statistics contains statistics about a sweep
type Statistics struct {
	PostsUpdated    int
	PostsSkipped    int
	PostsRepaired   int
	PostsSuperseded int
	PostsFailed     int
	Duration        time.Duration
	ErrorMessages   []string
}

// SyncPending syncs posts whose embedding is stale: Pending or Failed posts,
// Ready posts edited since their last sync, and posts left Processing for
// longer than the lease, as after a worker crash or a lost job.
func (s *Service) SyncPending(ctx context.Context, config *SweepConfig) (*Statistics, error) {
	if !s.sweep.TryAcquire() {
		return nil, ErrSweepInProgress
	}
	defer s.sweep.Release()

	if config == nil {
		config = &SweepConfig{}
	}
	workers := config.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	batchSize := config.BatchSize
	if batchSize == 0 {
		batchSize = 100
	}

	lease := config.ProcessingLease
	if lease == 0 {
		lease = DefaultProcessingLease
	}

	startTime := time.Now()
	query := storage.StaleQuery{Limit: batchSize}
	if lease > 0 {
		query.ProcessingBefore = startTime.Add(-lease)
	}
	ids, err := s.storage.ListStalePostIDs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsynced posts: %w", err)
	}

	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer pool.Release()

	var (
		updated, skipped, repaired, superseded, failed atomic.Int32
		wg                                             sync.WaitGroup
		mu                                             sync.Mutex // Protect stats.ErrorMessages
	)
	stats := &Statistics{ErrorMessages: make([]string, 0)}

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			result, err := s.SyncEmbedding(ctx, id)
			if err != nil {
				failed.Add(1)
				mu.Lock()
				stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s: %v", id, err))
				mu.Unlock()
				return
			}
			switch result.Outcome {
			case OutcomeUpdated:
				updated.Add(1)
			case OutcomeSkipped:
				skipped.Add(1)
			case OutcomeRepaired:
				repaired.Add(1)
			case OutcomeSuperseded:
				superseded.Add(1)
			}
		})
		if submitErr != nil {
			wg.Done()
			wg.Wait()
			return nil, fmt.Errorf("failed to submit sync of %s: %w", id, submitErr)
		}
	}
	wg.Wait()

	stats.PostsUpdated = int(updated.Load())
	stats.PostsSkipped = int(skipped.Load())
	stats.PostsRepaired = int(repaired.Load())
	stats.PostsSuperseded = int(superseded.Load())
	stats.PostsFailed = int(failed.Load())
	stats.Duration = time.Since(startTime)

	s.logger.Info("embedding sweep finished",
		zap.Int("candidates", len(ids)),
		zap.Int("updated", stats.PostsUpdated),
		zap.Int("failed", stats.PostsFailed),
		zap.Duration("duration", stats.Duration))

	if err := ctx.Err(); err != nil {
		return stats, err
	}
	return stats, nil
}
