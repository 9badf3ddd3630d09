// Package storagetest holds the behavioral tests every storage.Storage
// implementation must pass.
package storagetest

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lostnfound/postsearch/internal/contenthash"
	"github.com/lostnfound/postsearch/internal/geo"
	"github.com/lostnfound/postsearch/internal/storage"
	"github.com/lostnfound/postsearch/pkg/types"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) storage.Storage

// Base is the creation time of the first fixture post
var Base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// Run executes the suite against stores produced by newStore
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Storage)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"UpdateContent", testUpdateContent},
		{"SoftDelete", testSoftDelete},
		{"EmbeddingWrites", testEmbeddingWrites},
		{"ListStale", testListStale},
		{"PagedFilters", testPagedFilters},
		{"PagedPagination", testPagedPagination},
		{"PagedGeo", testPagedGeo},
		{"GeoBoundary", testGeoBoundary},
		{"InvalidArguments", testInvalidArguments},
		{"SemanticRanking", testSemanticRanking},
		{"SimilarPosts", testSimilarPosts},
		{"DeletedExcluded", testDeletedExcluded},
		{"Stats", testStats},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

// Fixture describes a post to create
type Fixture struct {
	ID          string
	Type        types.PostType
	ItemName    string
	Description string
	Author      string
	Minute      int
	Place       *types.Place
	Vector      []float32
}

// At returns a resolved place at the given coordinates
func At(lat, lon float64) *types.Place {
	return &types.Place{
		Latitude:        lat,
		Longitude:       lon,
		ExternalPlaceID: fmt.Sprintf("place-%.4f-%.4f", lat, lon),
		DisplayAddress:  fmt.Sprintf("%.4f, %.4f", lat, lon),
	}
}

// Create stores f and, when it carries a vector, its embedding
func Create(t *testing.T, s storage.Storage, f Fixture) *types.Post {
	t.Helper()
	ctx := context.Background()
	if f.Type == "" {
		f.Type = types.PostTypeLost
	}
	if f.ItemName == "" {
		f.ItemName = "item " + f.ID
	}
	if f.Author == "" {
		f.Author = "author-1"
	}
	post := &types.Post{
		ID:          f.ID,
		PostType:    f.Type,
		ItemName:    f.ItemName,
		Description: f.Description,
		ImageURLs:   []string{"https://img.example/" + f.ID + ".jpg"},
		Place:       f.Place,
		AuthorID:    f.Author,
		CreatedAt:   Base.Add(time.Duration(f.Minute) * time.Minute),
	}
	require.NoError(t, s.CreatePost(ctx, post))
	if f.Vector != nil {
		require.NoError(t, s.SaveEmbedding(ctx, post.ID, storage.EmbeddingRecord{
			Vector:      f.Vector,
			ContentHash: contenthash.PostContent(post.ItemName, post.Description),
			ItemName:    post.ItemName,
			Description: post.Description,
		}))
	}
	return post
}

func ids(posts []*types.Post) []string {
	out := make([]string, len(posts))
	for i, p := range posts {
		out[i] = p.ID
	}
	return out
}

func scoredIDs(posts []types.ScoredPost) []string {
	out := make([]string, len(posts))
	for i, p := range posts {
		out[i] = p.Post.ID
	}
	return out
}

func ptr(v float64) *float64 { return &v }

func testCreateAndGet(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	post := &types.Post{
		PostType:    types.PostTypeFound,
		ItemName:    "Black Wallet",
		Description: "lost near park",
		ImageURLs:   []string{"a.jpg", "b.jpg"},
		Place:       At(10.0, 106.0),
		AuthorID:    "u1",
		EventTime:   Base.Add(-time.Hour),
		CreatedAt:   Base,
	}
	require.NoError(t, s.CreatePost(ctx, post))
	require.NotEmpty(t, post.ID, "id generated")

	got, err := s.GetPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PostTypeFound, got.PostType)
	assert.Equal(t, "Black Wallet", got.ItemName)
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, got.ImageURLs)
	require.NotNil(t, got.Place)
	assert.Equal(t, *post.Place, *got.Place)
	assert.True(t, got.EventTime.Equal(post.EventTime))
	assert.True(t, got.CreatedAt.Equal(Base))
	assert.Equal(t, types.EmbeddingPending, got.EmbeddingStatus)
	assert.Empty(t, got.ContentHash)
	assert.Nil(t, got.ContentEmbedding)

	t.Run("duplicate id", func(t *testing.T) {
		dup := &types.Post{ID: post.ID, PostType: types.PostTypeLost, ItemName: "x", AuthorID: "u1"}
		assert.ErrorIs(t, s.CreatePost(ctx, dup), storage.ErrAlreadyExists)
	})

	t.Run("partial place rejected", func(t *testing.T) {
		bad := &types.Post{PostType: types.PostTypeLost, ItemName: "x", AuthorID: "u1",
			Place: &types.Place{Latitude: 1, Longitude: 2}}
		assert.ErrorIs(t, s.CreatePost(ctx, bad), types.ErrInvalidArgument)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := s.GetPost(ctx, "nope")
		assert.ErrorIs(t, err, types.ErrNotFound)
	})
}

func testUpdateContent(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	post := Create(t, s, Fixture{ID: "p1", ItemName: "Black Wallet", Description: "lost near park", Vector: []float32{1, 0, 0}})

	desc := "lost near park yesterday"
	images := []string{"new.jpg"}
	updated, err := s.UpdatePostContent(ctx, post.ID, storage.ContentUpdate{Description: &desc, ImageURLs: &images})
	require.NoError(t, err)
	assert.Equal(t, "Black Wallet", updated.ItemName)
	assert.Equal(t, desc, updated.Description)
	assert.Equal(t, images, updated.ImageURLs)

	got, err := s.GetPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, desc, got.Description)
	assert.Equal(t, types.EmbeddingReady, got.EmbeddingStatus, "status untouched by edits")
	assert.Equal(t, contenthash.PostContent("Black Wallet", "lost near park"), got.ContentHash, "stale hash kept until resync")

	blank := "  "
	_, err = s.UpdatePostContent(ctx, post.ID, storage.ContentUpdate{ItemName: &blank})
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	_, err = s.UpdatePostContent(ctx, "nope", storage.ContentUpdate{Description: &desc})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func testSoftDelete(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	post := Create(t, s, Fixture{ID: "p1"})

	require.NoError(t, s.SoftDeletePost(ctx, post.ID))
	_, err := s.GetPost(ctx, post.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.ErrorIs(t, s.SoftDeletePost(ctx, post.ID), types.ErrNotFound)
	assert.ErrorIs(t, s.SetEmbeddingStatus(ctx, post.ID, types.EmbeddingProcessing, ""), types.ErrNotFound)
}

func testEmbeddingWrites(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	post := Create(t, s, Fixture{ID: "p1", ItemName: "Black Wallet", Description: "lost near park"})
	hash := contenthash.PostContent(post.ItemName, post.Description)

	t.Run("ready only with embedding", func(t *testing.T) {
		err := s.SetEmbeddingStatus(ctx, post.ID, types.EmbeddingReady, "")
		assert.ErrorIs(t, err, types.ErrInvalidArgument)
	})

	t.Run("failed status keeps hash and embedding absent together", func(t *testing.T) {
		require.NoError(t, s.SetEmbeddingStatus(ctx, post.ID, types.EmbeddingFailed, "provider down"))
		got, err := s.GetPost(ctx, post.ID)
		require.NoError(t, err)
		assert.Equal(t, types.EmbeddingFailed, got.EmbeddingStatus)
		assert.Equal(t, "provider down", got.EmbeddingError)
		assert.Empty(t, got.ContentHash)
		assert.Nil(t, got.ContentEmbedding)
	})

	t.Run("save", func(t *testing.T) {
		record := storage.EmbeddingRecord{Vector: []float32{0.6, 0.8}, ContentHash: hash,
			ItemName: post.ItemName, Description: post.Description}
		require.NoError(t, s.SaveEmbedding(ctx, post.ID, record))

		got, err := s.GetPost(ctx, post.ID)
		require.NoError(t, err)
		assert.Equal(t, types.EmbeddingReady, got.EmbeddingStatus)
		assert.Equal(t, hash, got.ContentHash)
		assert.Equal(t, []float32{0.6, 0.8}, got.ContentEmbedding)
		assert.Empty(t, got.EmbeddingError)
	})

	t.Run("failure after ready keeps previous embedding", func(t *testing.T) {
		require.NoError(t, s.SetEmbeddingStatus(ctx, post.ID, types.EmbeddingFailed, "timeout"))
		got, err := s.GetPost(ctx, post.ID)
		require.NoError(t, err)
		assert.Equal(t, hash, got.ContentHash)
		assert.Equal(t, []float32{0.6, 0.8}, got.ContentEmbedding)
	})

	t.Run("stale content rejected", func(t *testing.T) {
		err := s.SaveEmbedding(ctx, post.ID, storage.EmbeddingRecord{Vector: []float32{1, 0},
			ContentHash: "other", ItemName: post.ItemName, Description: "something else"})
		assert.ErrorIs(t, err, types.ErrContentChanged)

		got, err := s.GetPost(ctx, post.ID)
		require.NoError(t, err)
		assert.Equal(t, hash, got.ContentHash, "nothing written")
	})

	t.Run("invalid records", func(t *testing.T) {
		assert.ErrorIs(t, s.SaveEmbedding(ctx, post.ID, storage.EmbeddingRecord{ContentHash: hash}), types.ErrInvalidArgument)
		assert.ErrorIs(t, s.SaveEmbedding(ctx, post.ID, storage.EmbeddingRecord{Vector: []float32{1}}), types.ErrInvalidArgument)
		assert.ErrorIs(t, s.SaveEmbedding(ctx, "nope", storage.EmbeddingRecord{Vector: []float32{1}, ContentHash: hash}), types.ErrNotFound)
	})
}

func testListStale(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	Create(t, s, Fixture{ID: "pending", Minute: 3})
	Create(t, s, Fixture{ID: "ready", Minute: 2, Vector: []float32{1}})
	Create(t, s, Fixture{ID: "failed", Minute: 0})
	require.NoError(t, s.SetEmbeddingStatus(ctx, "failed", types.EmbeddingFailed, "x"))
	Create(t, s, Fixture{ID: "deleted", Minute: 4})
	require.NoError(t, s.SoftDeletePost(ctx, "deleted"))

	Create(t, s, Fixture{ID: "edited", Minute: 5, Description: "blue", Vector: []float32{1}})
	desc := "green"
	_, err := s.UpdatePostContent(ctx, "edited", storage.ContentUpdate{Description: &desc})
	require.NoError(t, err)

	Create(t, s, Fixture{ID: "new-images", Minute: 6, Vector: []float32{1}})
	images := []string{"other.jpg"}
	_, err = s.UpdatePostContent(ctx, "new-images", storage.ContentUpdate{ImageURLs: &images})
	require.NoError(t, err)

	Create(t, s, Fixture{ID: "processing", Minute: 1})
	require.NoError(t, s.SetEmbeddingStatus(ctx, "processing", types.EmbeddingProcessing, ""))

	got, err := s.ListStalePostIDs(ctx, storage.StaleQuery{})
	require.NoError(t, err)
	assert.Equal(t, []string{"failed", "pending", "edited"}, got, "image edits keep the embedding")

	got, err = s.ListStalePostIDs(ctx, storage.StaleQuery{ProcessingBefore: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, []string{"failed", "pending", "edited"}, got, "recent Processing is still owned")

	got, err = s.ListStalePostIDs(ctx, storage.StaleQuery{ProcessingBefore: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, []string{"failed", "processing", "pending", "edited"}, got)

	got, err = s.ListStalePostIDs(ctx, storage.StaleQuery{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"failed", "pending"}, got)

	t.Run("saving confirms the edit", func(t *testing.T) {
		post, err := s.GetPost(ctx, "edited")
		require.NoError(t, err)
		assert.False(t, post.EmbeddingCurrent())
		require.NoError(t, s.SaveEmbedding(ctx, "edited", storage.EmbeddingRecord{
			Vector:      []float32{0.5},
			ContentHash: contenthash.PostContent(post.ItemName, post.Description),
			ItemName:    post.ItemName,
			Description: post.Description,
		}))

		got, err := s.ListStalePostIDs(ctx, storage.StaleQuery{})
		require.NoError(t, err)
		assert.Equal(t, []string{"failed", "pending"}, got)
	})

	t.Run("edit back to earlier content", func(t *testing.T) {
		first := "blue"
		_, err := s.UpdatePostContent(ctx, "ready", storage.ContentUpdate{Description: &first})
		require.NoError(t, err)
		restored := ""
		_, err = s.UpdatePostContent(ctx, "ready", storage.ContentUpdate{Description: &restored})
		require.NoError(t, err)

		post, err := s.GetPost(ctx, "ready")
		require.NoError(t, err)
		assert.True(t, post.HasFreshEmbedding(contenthash.PostContent(post.ItemName, post.Description)))
		assert.False(t, post.EmbeddingCurrent(), "needs confirming by a sync")

		got, err := s.ListStalePostIDs(ctx, storage.StaleQuery{})
		require.NoError(t, err)
		assert.Contains(t, got, "ready")
	})
}

func testPagedFilters(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	Create(t, s, Fixture{ID: "wallet", Type: types.PostTypeLost, ItemName: "Black Wallet", Description: "lost near park", Author: "u1", Minute: 1})
	Create(t, s, Fixture{ID: "keys", Type: types.PostTypeFound, ItemName: "Keys", Description: "found a WALLET chain too", Author: "u2", Minute: 2})
	Create(t, s, Fixture{ID: "phone", Type: types.PostTypeLost, ItemName: "Phone", Description: "blue case", Author: "u2", Minute: 3})
	Create(t, s, Fixture{ID: "vi", Type: types.PostTypeLost, ItemName: "Ví Da", Description: "mất ở công viên", Author: "u3", Minute: 4})

	tests := []struct {
		name  string
		query storage.PagedQuery
		want  []string
	}{
		{"all newest first", storage.PagedQuery{Limit: 10}, []string{"vi", "phone", "keys", "wallet"}},
		{"post type", storage.PagedQuery{PostType: types.PostTypeLost, Limit: 10}, []string{"vi", "phone", "wallet"}},
		{"term in name or description", storage.PagedQuery{SearchTerm: "wallet", Limit: 10}, []string{"keys", "wallet"}},
		{"term case folded", storage.PagedQuery{SearchTerm: "BLUE", Limit: 10}, []string{"phone"}},
		{"term folds non-ascii", storage.PagedQuery{SearchTerm: "VÍ", Limit: 10}, []string{"vi"}},
		{"term with wildcard characters", storage.PagedQuery{SearchTerm: "%", Limit: 10}, []string{}},
		{"author", storage.PagedQuery{AuthorID: "u2", Limit: 10}, []string{"phone", "keys"}},
		{"combined", storage.PagedQuery{AuthorID: "u2", PostType: types.PostTypeFound, SearchTerm: "chain", Limit: 10}, []string{"keys"}},
		{"no match", storage.PagedQuery{SearchTerm: "umbrella", Limit: 10}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			posts, total, err := s.GetPaged(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(posts))
			assert.Equal(t, len(tt.want), total)
		})
	}
}

func testPagedPagination(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		Create(t, s, Fixture{ID: fmt.Sprintf("p%d", i), Minute: i})
	}
	// Same creation time as p6; ID breaks the tie
	Create(t, s, Fixture{ID: "p6b", Minute: 6})

	posts, total, err := s.GetPaged(ctx, storage.PagedQuery{Offset: 0, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 8, total)
	assert.Equal(t, []string{"p6", "p6b", "p5"}, ids(posts))

	posts, total, err = s.GetPaged(ctx, storage.PagedQuery{Offset: 6, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 8, total)
	assert.Equal(t, []string{"p1", "p0"}, ids(posts))

	posts, total, err = s.GetPaged(ctx, storage.PagedQuery{Offset: 20, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 8, total)
	assert.Empty(t, posts)

	posts, total, err = s.GetPaged(ctx, storage.PagedQuery{Limit: 0})
	require.NoError(t, err)
	assert.Equal(t, 8, total, "count without items")
	assert.Empty(t, posts)
}

func testPagedGeo(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	Create(t, s, Fixture{ID: "near-lost", Type: types.PostTypeLost, Minute: 1, Place: At(10.02, 106.01)})
	Create(t, s, Fixture{ID: "edge-lost", Type: types.PostTypeLost, Minute: 2, Place: At(10.0, 106.045)})
	Create(t, s, Fixture{ID: "far-lost", Type: types.PostTypeLost, Minute: 3, Place: At(10.05, 106.0)})
	Create(t, s, Fixture{ID: "near-found", Type: types.PostTypeFound, Minute: 4, Place: At(10.0, 106.0)})
	Create(t, s, Fixture{ID: "nowhere-lost", Type: types.PostTypeLost, Minute: 5})
	Create(t, s, Fixture{ID: "center-lost", Type: types.PostTypeLost, Minute: 6, Place: At(10.0, 106.0)})

	posts, total, err := s.GetPaged(ctx, storage.PagedQuery{
		PostType: types.PostTypeLost,
		Geo:      storage.GeoFilter{Latitude: ptr(10.0), Longitude: ptr(106.0), RadiusKm: ptr(5)},
		Limit:    20,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"center-lost", "edge-lost", "near-lost"}, ids(posts))
	assert.Equal(t, 3, total)
	for _, p := range posts {
		require.NotNil(t, p.Place)
		assert.LessOrEqual(t, geo.HaversineKm(10.0, 106.0, p.Place.Latitude, p.Place.Longitude), 5.0)
	}

	t.Run("paged", func(t *testing.T) {
		posts, total, err := s.GetPaged(ctx, storage.PagedQuery{
			Geo:    storage.GeoFilter{Latitude: ptr(10.0), Longitude: ptr(106.0), RadiusKm: ptr(5)},
			Offset: 1,
			Limit:  2,
		})
		require.NoError(t, err)
		assert.Equal(t, 4, total)
		assert.Equal(t, []string{"near-found", "edge-lost"}, ids(posts))
	})

	t.Run("center without radius is no filter", func(t *testing.T) {
		_, total, err := s.GetPaged(ctx, storage.PagedQuery{
			Geo:   storage.GeoFilter{Latitude: ptr(10.0), Longitude: ptr(106.0)},
			Limit: 20,
		})
		require.NoError(t, err)
		assert.Equal(t, 6, total)
	})

	t.Run("antimeridian", func(t *testing.T) {
		Create(t, s, Fixture{ID: "fiji-east", Minute: 7, Place: At(-17.0, 179.99)})
		Create(t, s, Fixture{ID: "fiji-west", Minute: 8, Place: At(-17.0, -179.99)})
		posts, _, err := s.GetPaged(ctx, storage.PagedQuery{
			Geo:   storage.GeoFilter{Latitude: ptr(-17.0), Longitude: ptr(180.0), RadiusKm: ptr(5)},
			Limit: 20,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"fiji-west", "fiji-east"}, ids(posts))
	})
}

func testGeoBoundary(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	Create(t, s, Fixture{ID: "edge", Minute: 1, Place: At(10.03, 106.02), Vector: []float32{1, 0}})
	Create(t, s, Fixture{ID: "source", Type: types.PostTypeFound, Minute: 2, Place: At(10.0, 106.0), Vector: []float32{1, 0}})
	exact := geo.HaversineKm(10.0, 106.0, 10.03, 106.02)

	center := func(radius float64) storage.GeoFilter {
		return storage.GeoFilter{Latitude: ptr(10.0), Longitude: ptr(106.0), RadiusKm: ptr(radius)}
	}

	posts, _, err := s.GetPaged(ctx, storage.PagedQuery{PostType: types.PostTypeLost, Geo: center(exact), Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"edge"}, ids(posts), "exact radius is inclusive")

	posts, _, err = s.GetPaged(ctx, storage.PagedQuery{PostType: types.PostTypeLost, Geo: center(exact - 1e-6), Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, posts)

	scored, _, err := s.SearchBySemantic(ctx, storage.SemanticQuery{Vector: []float32{1, 0}, PostType: types.PostTypeLost, Geo: center(exact), Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"edge"}, scoredIDs(scored))

	similar, err := s.GetSimilarPosts(ctx, storage.SimilarQuery{
		PostID: "source", PostType: types.PostTypeLost, Vector: []float32{1, 0},
		Latitude: ptr(10.0), Longitude: ptr(106.0), RadiusKm: exact - 1e-6,
	})
	require.NoError(t, err)
	assert.Empty(t, similar)
}

func testInvalidArguments(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	vec := []float32{1, 0}

	_, _, err := s.GetPaged(ctx, storage.PagedQuery{Offset: -1, Limit: 10})
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
	_, _, err = s.GetPaged(ctx, storage.PagedQuery{Limit: -1})
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
	_, _, err = s.GetPaged(ctx, storage.PagedQuery{Limit: 10, Geo: storage.GeoFilter{RadiusKm: ptr(5)}})
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
	_, _, err = s.GetPaged(ctx, storage.PagedQuery{Limit: 10, Geo: storage.GeoFilter{Latitude: ptr(10), RadiusKm: ptr(5)}})
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
	_, _, err = s.GetPaged(ctx, storage.PagedQuery{Limit: 10, Geo: storage.GeoFilter{Latitude: ptr(10), Longitude: ptr(106), RadiusKm: ptr(0)}})
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
	_, _, err = s.GetPaged(ctx, storage.PagedQuery{Limit: 10, Geo: storage.GeoFilter{Latitude: ptr(91), Longitude: ptr(106), RadiusKm: ptr(5)}})
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	_, _, err = s.SearchBySemantic(ctx, storage.SemanticQuery{Vector: vec, Offset: -1, Limit: 10})
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
	_, _, err = s.SearchBySemantic(ctx, storage.SemanticQuery{Vector: vec, Limit: 10, Geo: storage.GeoFilter{Longitude: ptr(1), RadiusKm: ptr(5)}})
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
	_, _, err = s.SearchBySemantic(ctx, storage.SemanticQuery{Limit: 10})
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	_, err = s.GetSimilarPosts(ctx, storage.SimilarQuery{PostType: types.PostTypeLost, Vector: vec, Limit: -1})
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
	_, err = s.GetSimilarPosts(ctx, storage.SimilarQuery{PostType: types.PostTypeLost, Vector: vec, Latitude: ptr(1)})
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
	_, err = s.GetSimilarPosts(ctx, storage.SimilarQuery{PostType: types.PostTypeLost, Vector: vec, Latitude: ptr(1), Longitude: ptr(1)})
	assert.ErrorIs(t, err, types.ErrInvalidArgument, "radius required with a center")
}

func testSemanticRanking(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	Create(t, s, Fixture{ID: "exact", Minute: 1, Vector: []float32{1, 0, 0}})
	Create(t, s, Fixture{ID: "close-old", Minute: 2, Vector: []float32{0.8, 0.6, 0}})
	Create(t, s, Fixture{ID: "close-new", Minute: 3, Vector: []float32{0.8, 0.6, 0}})
	Create(t, s, Fixture{ID: "orthogonal", Minute: 4, Type: types.PostTypeFound, Vector: []float32{0, 1, 0}})
	Create(t, s, Fixture{ID: "opposite", Minute: 5, Vector: []float32{-1, 0, 0}})
	Create(t, s, Fixture{ID: "pending", Minute: 6})
	Create(t, s, Fixture{ID: "other-dim", Minute: 7, Vector: []float32{1, 0}})
	Create(t, s, Fixture{ID: "failed", Minute: 8, Vector: []float32{1, 0, 0}})
	require.NoError(t, s.SetEmbeddingStatus(ctx, "failed", types.EmbeddingFailed, "x"))

	query := []float32{2, 0, 0}
	results, total, err := s.SearchBySemantic(ctx, storage.SemanticQuery{Vector: query, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Equal(t, []string{"exact", "close-new", "close-old", "orthogonal", "opposite"}, scoredIDs(results))

	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.InDelta(t, 0.8, results[1].Score, 1e-6)
	assert.InDelta(t, 0.0, results[3].Score, 1e-6)
	assert.Equal(t, 0.0, results[4].Score, "negative similarity clamped")
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
		assert.False(t, math.IsNaN(r.Score))
	}

	t.Run("post type and paging", func(t *testing.T) {
		results, total, err := s.SearchBySemantic(ctx, storage.SemanticQuery{
			Vector: query, PostType: types.PostTypeLost, Offset: 1, Limit: 2,
		})
		require.NoError(t, err)
		assert.Equal(t, 4, total)
		assert.Equal(t, []string{"close-new", "close-old"}, scoredIDs(results))
	})

	t.Run("past the last page", func(t *testing.T) {
		results, total, err := s.SearchBySemantic(ctx, storage.SemanticQuery{Vector: query, Offset: 6, Limit: 2})
		require.NoError(t, err)
		assert.Empty(t, results)
		assert.Equal(t, 5, total)

		results, total, err = s.SearchBySemantic(ctx, storage.SemanticQuery{
			Vector: query, PostType: types.PostTypeLost, Offset: 10, Limit: 2,
		})
		require.NoError(t, err)
		assert.Empty(t, results)
		assert.Equal(t, 4, total)
	})

	t.Run("count only", func(t *testing.T) {
		results, total, err := s.SearchBySemantic(ctx, storage.SemanticQuery{Vector: query})
		require.NoError(t, err)
		assert.Empty(t, results)
		assert.Equal(t, 5, total)
	})
}

func testSimilarPosts(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	source := Create(t, s, Fixture{ID: "source", Type: types.PostTypeLost, Minute: 0, Place: At(10.0, 106.0), Vector: []float32{1, 0}})
	Create(t, s, Fixture{ID: "twin-lost", Type: types.PostTypeLost, Minute: 1, Place: At(10.0, 106.0), Vector: []float32{1, 0}})
	Create(t, s, Fixture{ID: "match", Type: types.PostTypeFound, Minute: 2, Place: At(10.01, 106.0), Vector: []float32{1, 0.1}})
	Create(t, s, Fixture{ID: "weak", Type: types.PostTypeFound, Minute: 3, Place: At(10.02, 106.0), Vector: []float32{0.1, 1}})
	Create(t, s, Fixture{ID: "far", Type: types.PostTypeFound, Minute: 4, Place: At(11.0, 106.0), Vector: []float32{1, 0}})
	Create(t, s, Fixture{ID: "unplaced", Type: types.PostTypeFound, Minute: 5, Vector: []float32{1, 0}})

	t.Run("same type excludes self", func(t *testing.T) {
		results, err := s.GetSimilarPosts(ctx, storage.SimilarQuery{
			PostID: source.ID, PostType: types.PostTypeLost, Vector: []float32{1, 0},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"twin-lost"}, scoredIDs(results))
	})

	t.Run("radius around location", func(t *testing.T) {
		results, err := s.GetSimilarPosts(ctx, storage.SimilarQuery{
			PostID: source.ID, PostType: types.PostTypeFound, Vector: []float32{1, 0},
			Latitude: ptr(10.0), Longitude: ptr(106.0), RadiusKm: 10,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"match", "weak"}, scoredIDs(results))
		assert.Greater(t, results[0].Score, results[1].Score)
	})

	t.Run("no location means no radius", func(t *testing.T) {
		results, err := s.GetSimilarPosts(ctx, storage.SimilarQuery{
			PostID: source.ID, PostType: types.PostTypeFound, Vector: []float32{1, 0}, Limit: 2,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"unplaced", "far"}, scoredIDs(results))
	})

	t.Run("default limit", func(t *testing.T) {
		for i := 0; i < 25; i++ {
			Create(t, s, Fixture{ID: fmt.Sprintf("bulk-%02d", i), Type: types.PostTypeFound, Minute: 10 + i, Vector: []float32{0, 1}})
		}
		results, err := s.GetSimilarPosts(ctx, storage.SimilarQuery{
			PostID: source.ID, PostType: types.PostTypeFound, Vector: []float32{1, 0},
		})
		require.NoError(t, err)
		assert.Len(t, results, storage.DefaultSimilarLimit)
		for _, r := range results {
			assert.NotEqual(t, source.ID, r.Post.ID)
		}
	})
}

func testDeletedExcluded(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	Create(t, s, Fixture{ID: "source", Type: types.PostTypeFound, Place: At(10.0, 106.0), Vector: []float32{1, 0}})
	Create(t, s, Fixture{ID: "kept", Minute: 1, ItemName: "umbrella", Place: At(10.0, 106.0), Vector: []float32{1, 0}})
	Create(t, s, Fixture{ID: "gone", Minute: 2, ItemName: "umbrella", Place: At(10.0, 106.0), Vector: []float32{1, 0}})
	require.NoError(t, s.SoftDeletePost(ctx, "gone"))

	posts, total, err := s.GetPaged(ctx, storage.PagedQuery{SearchTerm: "umbrella", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, ids(posts))
	assert.Equal(t, 1, total)

	geoFilter := storage.GeoFilter{Latitude: ptr(10.0), Longitude: ptr(106.0), RadiusKm: ptr(1)}
	posts, _, err = s.GetPaged(ctx, storage.PagedQuery{PostType: types.PostTypeLost, Geo: geoFilter, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, ids(posts))

	scored, total, err := s.SearchBySemantic(ctx, storage.SemanticQuery{Vector: []float32{1, 0}, PostType: types.PostTypeLost, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, scoredIDs(scored))
	assert.Equal(t, 1, total)

	similar, err := s.GetSimilarPosts(ctx, storage.SimilarQuery{PostID: "source", PostType: types.PostTypeLost, Vector: []float32{1, 0}})
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, scoredIDs(similar))
}

func testStats(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	Create(t, s, Fixture{ID: "a"})
	Create(t, s, Fixture{ID: "b", Vector: []float32{1}})
	Create(t, s, Fixture{ID: "c"})
	require.NoError(t, s.SoftDeletePost(ctx, "c"))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalPosts)
	assert.Equal(t, 1, stats.DeletedPosts)
	assert.Equal(t, 1, stats.ByStatus[types.EmbeddingPending])
	assert.Equal(t, 1, stats.ByStatus[types.EmbeddingReady])
}
