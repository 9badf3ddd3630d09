package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lostnfound/postsearch/pkg/types"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	// Use in-memory database for testing
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NotNil(t, storage)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func insertRawPost(t *testing.T, s *SQLiteStorage, id string) {
	t.Helper()
	require.NoError(t, s.CreatePost(context.Background(), &types.Post{
		ID: id, PostType: types.PostTypeLost, ItemName: "Black Wallet", AuthorID: "u1",
	}))
}

func TestApplyMigrations(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	v, err := currentVersion(ctx, s.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v.String())

	// Re-running is a no-op
	require.NoError(t, ApplyMigrations(ctx, s.db))
	var count int
	require.NoError(t, s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_version").Scan(&count))
	assert.Equal(t, len(AllMigrations), count)
}

func TestRollbackMigration(t *testing.T) {
	db, err := sql.Open(DriverName, ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, ApplyMigrations(ctx, db))
	for _, want := range []string{"1.1.0", "1.0.0", "0.0.0"} {
		require.NoError(t, RollbackMigration(ctx, db))
		v, err := currentVersion(ctx, db)
		require.NoError(t, err)
		assert.Equal(t, want, v.String())
	}
	assert.Error(t, RollbackMigration(ctx, db))

	// And forward again
	require.NoError(t, ApplyMigrations(ctx, db))
	v, err := currentVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v.String())
}

// The schema itself makes a hash without an embedding, or Ready without an
// embedding, impossible to store.
func TestSchemaRejectsInconsistentEmbedding(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	insertRawPost(t, s, "p1")

	tests := []struct {
		name  string
		query string
		args  []interface{}
	}{
		{"hash without embedding", "UPDATE posts SET content_hash = ? WHERE id = ?", []interface{}{"h1", "p1"}},
		{"embedding without hash", "UPDATE posts SET content_embedding = ? WHERE id = ?", []interface{}{serializeVector([]float32{1}), "p1"}},
		{"ready without embedding", "UPDATE posts SET embedding_status = 'Ready' WHERE id = ?", []interface{}{"p1"}},
		{"unknown status", "UPDATE posts SET embedding_status = 'Done' WHERE id = ?", []interface{}{"p1"}},
		{"partial place", "UPDATE posts SET latitude = 1, longitude = 2 WHERE id = ?", []interface{}{"p1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.db.ExecContext(ctx, tt.query, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "CHECK constraint failed")
		})
	}

	got, err := s.GetPost(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, got.ContentHash)
	assert.Nil(t, got.ContentEmbedding)
	assert.Equal(t, types.EmbeddingPending, got.EmbeddingStatus)
}

func TestSaveEmbeddingSingleStatement(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	insertRawPost(t, s, "p1")

	// A canceled context writes nothing at all
	canceled, cancel := context.WithCancel(ctx)
	cancel()
	err := s.SaveEmbedding(canceled, "p1", EmbeddingRecord{
		Vector: []float32{1, 2}, ContentHash: "h1", ItemName: "Black Wallet",
	})
	require.Error(t, err)

	got, err := s.GetPost(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, types.EmbeddingPending, got.EmbeddingStatus)
	assert.Empty(t, got.ContentHash)
	assert.Nil(t, got.ContentEmbedding)
}

func TestFoldedColumnsFollowEdits(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	insertRawPost(t, s, "p1")

	name := "ĐỒNG HỒ"
	_, err := s.UpdatePostContent(ctx, "p1", ContentUpdate{ItemName: &name})
	require.NoError(t, err)

	var folded string
	require.NoError(t, s.db.QueryRowContext(ctx, "SELECT item_name_folded FROM posts WHERE id = ?", "p1").Scan(&folded))
	assert.Equal(t, "đồng hồ", folded)

	posts, total, err := s.GetPaged(ctx, PagedQuery{SearchTerm: "đồng", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "p1", posts[0].ID)
}

func TestTimestampsRoundTrip(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	created := time.Date(2025, 6, 1, 8, 30, 0, 123456789, time.FixedZone("ICT", 7*3600))
	require.NoError(t, s.CreatePost(ctx, &types.Post{
		ID: "p1", PostType: types.PostTypeFound, ItemName: "Keys", AuthorID: "u1", CreatedAt: created,
	}))

	got, err := s.GetPost(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.Equal(t, time.UTC, got.CreatedAt.Location())
	assert.True(t, got.EventTime.Equal(created), "event time defaults to creation time")
}

func TestBuildMode(t *testing.T) {
	if VectorFunctionsAvailable {
		assert.Equal(t, "cgo", BuildMode)
	} else {
		assert.Equal(t, "purego", BuildMode)
	}
}
