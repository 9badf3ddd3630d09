// Package memory provides an in-process Storage backed by a map. It is
// used by tests and by the "memory" storage driver.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lostnfound/postsearch/internal/geo"
	"github.com/lostnfound/postsearch/internal/storage"
	"github.com/lostnfound/postsearch/pkg/types"
)

var _ storage.Storage = (*Store)(nil)

// Store implements storage.Storage in memory. Posts are cloned on the way
// in and out, so callers never share state with the store.
type Store struct {
	mu    sync.RWMutex
	posts map[string]*types.Post
	now   func() time.Time
}

// New creates an empty store
func New() *Store {
	return &Store{
		posts: make(map[string]*types.Post),
		now:   time.Now,
	}
}

func notFound(id string) error {
	return fmt.Errorf("%w: post %s", types.ErrNotFound, id)
}

// live returns the stored post if it exists and is not deleted. Callers hold mu.
func (s *Store) live(id string) (*types.Post, bool) {
	post, ok := s.posts[id]
	if !ok || post.IsDeleted() {
		return nil, false
	}
	return post, true
}

func (s *Store) CreatePost(ctx context.Context, post *types.Post) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if post.ID == "" {
		post.ID = uuid.NewString()
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = s.now().UTC()
	}
	if post.EventTime.IsZero() {
		post.EventTime = post.CreatedAt
	}
	post.UpdatedAt = post.CreatedAt
	post.ContentEmbedding = nil
	post.ContentHash = ""
	post.EmbeddingStatus = types.EmbeddingPending
	post.EmbeddingError = ""
	post.EmbeddingUpdatedAt = post.CreatedAt
	post.ContentVersion = 1
	post.EmbeddedVersion = 0
	post.DeletedAt = nil
	if post.ImageURLs == nil {
		post.ImageURLs = []string{}
	}
	if err := post.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.posts[post.ID]; exists {
		return fmt.Errorf("%w: post %s", storage.ErrAlreadyExists, post.ID)
	}
	s.posts[post.ID] = post.Clone()
	return nil
}

func (s *Store) GetPost(ctx context.Context, id string) (*types.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	post, ok := s.live(id)
	if !ok {
		return nil, notFound(id)
	}
	return post.Clone(), nil
}

func (s *Store) UpdatePostContent(ctx context.Context, id string, update storage.ContentUpdate) (*types.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	post, ok := s.live(id)
	if !ok {
		return nil, notFound(id)
	}
	if update.Empty() {
		return post.Clone(), nil
	}

	edited := post.Clone()
	update.Apply(edited)
	if err := edited.Validate(); err != nil {
		return nil, err
	}
	if edited.ItemName != post.ItemName || edited.Description != post.Description {
		edited.ContentVersion++
	}
	edited.UpdatedAt = s.now().UTC()
	s.posts[id] = edited
	return edited.Clone(), nil
}

func (s *Store) SoftDeletePost(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	post, ok := s.live(id)
	if !ok {
		return notFound(id)
	}
	now := s.now().UTC()
	post.DeletedAt = &now
	post.UpdatedAt = now
	return nil
}

func (s *Store) SetEmbeddingStatus(ctx context.Context, id string, status types.EmbeddingStatus, lastError string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !status.Valid() {
		return fmt.Errorf("%w: invalid embedding status %q", types.ErrInvalidArgument, status)
	}
	if status == types.EmbeddingReady {
		return fmt.Errorf("%w: Ready is only set together with an embedding", types.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	post, ok := s.live(id)
	if !ok {
		return notFound(id)
	}
	post.EmbeddingStatus = status
	post.EmbeddingError = lastError
	post.EmbeddingUpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) SaveEmbedding(ctx context.Context, id string, record storage.EmbeddingRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.ValidateEmbeddingRecord(record); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	post, ok := s.live(id)
	if !ok {
		return notFound(id)
	}
	if post.ItemName != record.ItemName || post.Description != record.Description {
		return fmt.Errorf("%w: post %s", types.ErrContentChanged, id)
	}
	post.ContentEmbedding = append([]float32(nil), record.Vector...)
	post.ContentHash = record.ContentHash
	post.EmbeddingStatus = types.EmbeddingReady
	post.EmbeddingError = ""
	post.EmbeddingUpdatedAt = s.now().UTC()
	post.EmbeddedVersion = post.ContentVersion
	return nil
}

func (s *Store) ListStalePostIDs(ctx context.Context, q storage.StaleQuery) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	matches := make([]*types.Post, 0)
	for _, post := range s.posts {
		if q.Matches(post) {
			matches = append(matches, post)
		}
	}
	s.mu.RUnlock()

	sortOldestFirst(matches)
	if q.Limit > 0 && len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}
	ids := make([]string, len(matches))
	for i, post := range matches {
		ids[i] = post.ID
	}
	return ids, nil
}

// withinGeo applies an active geo filter to a post
func withinGeo(g storage.GeoFilter, post *types.Post) bool {
	if !g.Active() {
		return true
	}
	if post.Place == nil {
		return false
	}
	return geo.Within(*g.Latitude, *g.Longitude, post.Place.Latitude, post.Place.Longitude, *g.RadiusKm)
}

func (s *Store) GetPaged(ctx context.Context, q storage.PagedQuery) ([]*types.Post, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if err := q.Validate(); err != nil {
		return nil, 0, err
	}
	term := q.FoldedTerm()

	s.mu.RLock()
	matches := make([]*types.Post, 0)
	for _, post := range s.posts {
		switch {
		case post.IsDeleted():
		case q.PostType != "" && post.PostType != q.PostType:
		case q.AuthorID != "" && post.AuthorID != q.AuthorID:
		case !storage.MatchesTerm(post, term):
		case !withinGeo(q.Geo, post):
		default:
			matches = append(matches, post.Clone())
		}
	}
	s.mu.RUnlock()

	sortNewestFirst(matches)
	start, end := storage.PageBounds(len(matches), q.Offset, q.Limit)
	return matches[start:end], len(matches), nil
}

// rank scores Ready posts accepted by keep against vector
func (s *Store) rank(vector []float32, keep func(*types.Post) bool) ([]storage.Candidate, map[string]*types.Post) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := make([]storage.Candidate, 0)
	byID := make(map[string]*types.Post)
	for _, post := range s.posts {
		if post.IsDeleted() || post.EmbeddingStatus != types.EmbeddingReady ||
			len(post.ContentEmbedding) != len(vector) || !keep(post) {
			continue
		}
		candidates = append(candidates, storage.Candidate{
			ID:         post.ID,
			CreatedAt:  post.CreatedAt,
			Similarity: storage.CosineSimilarity(vector, post.ContentEmbedding),
		})
		byID[post.ID] = post.Clone()
	}
	storage.SortCandidates(candidates)
	return candidates, byID
}

func scored(page []storage.Candidate, byID map[string]*types.Post) []types.ScoredPost {
	results := make([]types.ScoredPost, len(page))
	for i, cand := range page {
		results[i] = types.ScoredPost{Post: byID[cand.ID], Score: storage.ClampScore(cand.Similarity)}
	}
	return results
}

func (s *Store) SearchBySemantic(ctx context.Context, q storage.SemanticQuery) ([]types.ScoredPost, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if err := q.Validate(); err != nil {
		return nil, 0, err
	}
	candidates, byID := s.rank(q.Vector, func(post *types.Post) bool {
		return (q.PostType == "" || post.PostType == q.PostType) && withinGeo(q.Geo, post)
	})
	start, end := storage.PageBounds(len(candidates), q.Offset, q.Limit)
	return scored(candidates[start:end], byID), len(candidates), nil
}

func (s *Store) GetSimilarPosts(ctx context.Context, q storage.SimilarQuery) ([]types.ScoredPost, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	g := q.Geo()
	candidates, byID := s.rank(q.Vector, func(post *types.Post) bool {
		return post.ID != q.PostID && post.PostType == q.PostType && withinGeo(g, post)
	})
	_, end := storage.PageBounds(len(candidates), 0, q.EffectiveLimit())
	return scored(candidates[:end], byID), nil
}

func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &storage.Stats{ByStatus: make(map[types.EmbeddingStatus]int)}
	for _, post := range s.posts {
		if post.IsDeleted() {
			stats.DeletedPosts++
			continue
		}
		stats.TotalPosts++
		stats.ByStatus[post.EmbeddingStatus]++
	}
	return stats, nil
}

func (s *Store) Close() error {
	return nil
}
