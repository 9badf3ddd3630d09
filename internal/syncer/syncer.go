package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/lostnfound/postsearch/internal/contenthash"
	"github.com/lostnfound/postsearch/internal/embedder"
	"github.com/lostnfound/postsearch/internal/storage"
	"github.com/lostnfound/postsearch/pkg/types"
)

const (
	// DefaultProviderTimeout bounds one embedding provider call
	DefaultProviderTimeout = 30 * time.Second

	// DefaultStatusTimeout bounds the Failed-status write after a provider error
	DefaultStatusTimeout = 5 * time.Second

	// DefaultMaxRestarts is how often a sync restarts after the post was
	// edited while its embedding was being computed
	DefaultMaxRestarts = 3
)

// Outcome describes what a sync did
type Outcome string

const (
	// OutcomeSkipped means the stored embedding was already fresh
	OutcomeSkipped Outcome = "skipped"
	// OutcomeUpdated means a new embedding was computed and stored
	OutcomeUpdated Outcome = "updated"
	// OutcomeRepaired means a fresh embedding was kept and only the status fixed
	OutcomeRepaired Outcome = "repaired"
	// OutcomeSuperseded means the post kept changing and the result was dropped
	OutcomeSuperseded Outcome = "superseded"
)

// Result reports a finished sync
type Result struct {
	PostID      string                `json:"post_id"`
	Outcome     Outcome               `json:"outcome"`
	ContentHash string                `json:"content_hash"`
	Status      types.EmbeddingStatus `json:"embedding_status"`
	Duration    time.Duration         `json:"-"`
}

// Service keeps post embeddings in step with post content
type Service struct {
	storage  storage.Storage
	embedder embedder.Embedder
	logger   *zap.Logger

	providerTimeout time.Duration
	statusTimeout   time.Duration
	maxRestarts     int

	group singleflight.Group
	sweep SweepLock
}

// Option configures a Service
type Option func(*Service)

// WithLogger sets the logger. Default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithProviderTimeout bounds each embedding provider call
func WithProviderTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.providerTimeout = d
		}
	}
}

// WithStatusTimeout bounds the Failed-status write that follows a provider error
func WithStatusTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.statusTimeout = d
		}
	}
}

// WithMaxRestarts sets how many times a sync starts over when the post is
// edited mid-flight
func WithMaxRestarts(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxRestarts = n
		}
	}
}

// New creates a sync service
func New(store storage.Storage, emb embedder.Embedder, opts ...Option) *Service {
	s := &Service{
		storage:         store,
		embedder:        emb,
		logger:          zap.NewNop(),
		providerTimeout: DefaultProviderTimeout,
		statusTimeout:   DefaultStatusTimeout,
		maxRestarts:     DefaultMaxRestarts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncEmbedding makes the stored embedding of postID reflect its current
// content. Concurrent calls for the same post share one execution.
func (s *Service) SyncEmbedding(ctx context.Context, postID string) (*Result, error) {
	v, err, shared := s.group.Do(postID, func() (interface{}, error) {
		return s.syncWithRestarts(ctx, postID)
	})
	if err != nil {
		return nil, err
	}
	result := *(v.(*Result))
	if shared {
		s.logger.Debug("sync coalesced", zap.String("post_id", postID))
	}
	return &result, nil
}

func (s *Service) syncWithRestarts(ctx context.Context, postID string) (*Result, error) {
	start := time.Now()
	for attempt := 0; ; attempt++ {
		result, err := s.syncOnce(ctx, postID)
		if err == nil {
			result.Duration = time.Since(start)
			s.logger.Info("embedding synced",
				zap.String("post_id", postID),
				zap.String("outcome", string(result.Outcome)),
				zap.Duration("duration", result.Duration))
			return result, nil
		}
		if !errors.Is(err, types.ErrContentChanged) {
			return nil, err
		}
		if attempt >= s.maxRestarts {
			s.logger.Warn("giving up on post that keeps changing",
				zap.String("post_id", postID), zap.Int("restarts", attempt))
			s.markFailed(ctx, postID, err)
			return &Result{
				PostID:   postID,
				Outcome:  OutcomeSuperseded,
				Status:   types.EmbeddingFailed,
				Duration: time.Since(start),
			}, nil
		}
		s.logger.Debug("post changed during sync, restarting", zap.String("post_id", postID))
	}
}

// syncOnce runs one load, hash, embed, save pass
func (s *Service) syncOnce(ctx context.Context, postID string) (*Result, error) {
	post, err := s.storage.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}

	hash := contenthash.PostContent(post.ItemName, post.Description)
	record := storage.EmbeddingRecord{
		ContentHash: hash,
		ItemName:    post.ItemName,
		Description: post.Description,
	}

	if post.HasFreshEmbedding(hash) {
		if post.EmbeddingStatus == types.EmbeddingReady && post.EmbeddingCurrent() {
			return &Result{PostID: postID, Outcome: OutcomeSkipped, ContentHash: hash, Status: types.EmbeddingReady}, nil
		}
		// A failed resync or an edit back to earlier content left a matching embedding in place
		record.Vector = post.ContentEmbedding
		if err := s.storage.SaveEmbedding(ctx, postID, record); err != nil {
			return nil, err
		}
		return &Result{PostID: postID, Outcome: OutcomeRepaired, ContentHash: hash, Status: types.EmbeddingReady}, nil
	}

	if err := s.storage.SetEmbeddingStatus(ctx, postID, types.EmbeddingProcessing, ""); err != nil {
		return nil, fmt.Errorf("failed to mark post processing: %w", err)
	}

	vector, err := s.generate(ctx, contenthash.PostText(post.ItemName, post.Description))
	if err != nil {
		s.markFailed(ctx, postID, err)
		if ctx.Err() == context.Canceled {
			return nil, fmt.Errorf("sync of post %s canceled: %w", postID, ctx.Err())
		}
		return nil, err
	}

	record.Vector = vector
	if err := s.storage.SaveEmbedding(ctx, postID, record); err != nil {
		return nil, err
	}
	return &Result{PostID: postID, Outcome: OutcomeUpdated, ContentHash: hash, Status: types.EmbeddingReady}, nil
}

// generate calls the provider under the provider timeout and maps failures
// onto the error taxonomy
func (s *Service) generate(ctx context.Context, text string) ([]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	emb, err := s.embedder.GenerateEmbedding(callCtx, embedder.EmbeddingRequest{Text: text})
	if err != nil {
		return nil, embedder.Classify(err)
	}
	if err := embedder.CheckDimension(s.embedder, emb.Vector); err != nil {
		return nil, err
	}
	return emb.Vector, nil
}

// markFailed records the error on the post. It runs even when ctx is done,
// bounded by the status timeout.
func (s *Service) markFailed(ctx context.Context, postID string, cause error) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.statusTimeout)
	defer cancel()

	if err := s.storage.SetEmbeddingStatus(writeCtx, postID, types.EmbeddingFailed, cause.Error()); err != nil {
		s.logger.Error("failed to mark embedding failed",
			zap.String("post_id", postID), zap.Error(err))
		return
	}
	s.logger.Warn("embedding sync failed", zap.String("post_id", postID), zap.Error(cause))
}
