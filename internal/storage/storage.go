package storage

import (
	"context"
	"errors"
	"time"

	"github.com/lostnfound/postsearch/pkg/types"
)

var (
	// ErrNotFound is returned when a post doesn't exist or was soft-deleted
	ErrNotFound = types.ErrNotFound
	// ErrAlreadyExists is returned when creating a post with a duplicate ID
	ErrAlreadyExists = errors.New("already exists")
)

// Storage defines the interface for persisting and querying posts
type Storage interface {
	// Post operations
	CreatePost(ctx context.Context, post *types.Post) error
	GetPost(ctx context.Context, id string) (*types.Post, error)
	UpdatePostContent(ctx context.Context, id string, update ContentUpdate) (*types.Post, error)
	SoftDeletePost(ctx context.Context, id string) error

	// Embedding operations
	SetEmbeddingStatus(ctx context.Context, id string, status types.EmbeddingStatus, lastError string) error
	SaveEmbedding(ctx context.Context, id string, record EmbeddingRecord) error
	ListStalePostIDs(ctx context.Context, query StaleQuery) ([]string, error)

	// Search operations
	GetPaged(ctx context.Context, query PagedQuery) ([]*types.Post, int, error)
	SearchBySemantic(ctx context.Context, query SemanticQuery) ([]types.ScoredPost, int, error)
	GetSimilarPosts(ctx context.Context, query SimilarQuery) ([]types.ScoredPost, error)

	// Status operations
	Stats(ctx context.Context) (*Stats, error)

	// Database operations
	Close() error
}

// ContentUpdate carries an edit of a post's user-visible content.
// Nil fields are left unchanged.
type ContentUpdate struct {
	ItemName    *string
	Description *string
	ImageURLs   *[]string
}

// Empty reports whether the update changes nothing
func (u ContentUpdate) Empty() bool {
	return u.ItemName == nil && u.Description == nil && u.ImageURLs == nil
}

// Apply writes the update onto post
func (u ContentUpdate) Apply(post *types.Post) {
	if u.ItemName != nil {
		post.ItemName = *u.ItemName
	}
	if u.Description != nil {
		post.Description = *u.Description
	}
	if u.ImageURLs != nil {
		post.ImageURLs = append([]string(nil), (*u.ImageURLs)...)
	}
}

// EmbeddingRecord is the result of one embedding computation. ItemName and
// Description are the content the vector was computed from; the write is
// dropped with types.ErrContentChanged when the post no longer has that
// content.
type EmbeddingRecord struct {
	Vector      []float32
	ContentHash string
	ItemName    string
	Description string
}

// StaleQuery selects live posts whose embedding needs a sync: Pending and
// Failed posts, Ready posts edited since their embedding was saved, and
// Processing posts abandoned before ProcessingBefore.
type StaleQuery struct {
	// Processing posts whose status was last written before this time are
	// considered abandoned. Zero leaves Processing posts out.
	ProcessingBefore time.Time
	// Limit caps the result; non-positive returns all
	Limit int
}

// Matches reports whether q selects post
func (q StaleQuery) Matches(post *types.Post) bool {
	if post.IsDeleted() {
		return false
	}
	switch post.EmbeddingStatus {
	case types.EmbeddingPending, types.EmbeddingFailed:
		return true
	case types.EmbeddingReady:
		return !post.EmbeddingCurrent()
	case types.EmbeddingProcessing:
		return !q.ProcessingBefore.IsZero() && post.EmbeddingUpdatedAt.Before(q.ProcessingBefore)
	}
	return false
}

// Stats contains counts about stored posts
type Stats struct {
	TotalPosts   int
	DeletedPosts int
	ByStatus     map[types.EmbeddingStatus]int
}
