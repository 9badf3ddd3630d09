package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lostnfound/postsearch/internal/geo"
	"github.com/lostnfound/postsearch/pkg/types"
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance. ":memory:" opens
// a private in-memory database.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply migrations
	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db, now: time.Now}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// withTx runs fn inside a transaction, committing when it returns nil
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

const postColumns = `id, post_type, item_name, description, image_urls,
	latitude, longitude, external_place_id, display_address,
	event_time, author_id, created_at, updated_at,
	content_embedding, content_hash, embedding_status, embedding_error, deleted_at,
	embedding_updated_at, content_version, embedded_version`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPost(row rowScanner) (*types.Post, error) {
	var post types.Post
	var (
		imageURLs                  string
		lat, lon                   sql.NullFloat64
		placeID, address, hash     sql.NullString
		eventTime, created, update int64
		embedding                  []byte
		status                     string
		deletedAt                  sql.NullInt64
		embeddingUpdated           int64
	)
	err := row.Scan(
		&post.ID, &post.PostType, &post.ItemName, &post.Description, &imageURLs,
		&lat, &lon, &placeID, &address,
		&eventTime, &post.AuthorID, &created, &update,
		&embedding, &hash, &status, &post.EmbeddingError, &deletedAt,
		&embeddingUpdated, &post.ContentVersion, &post.EmbeddedVersion,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(imageURLs), &post.ImageURLs); err != nil {
		return nil, fmt.Errorf("failed to decode image urls of post %s: %w", post.ID, err)
	}
	if lat.Valid && lon.Valid {
		post.Place = &types.Place{
			Latitude:        lat.Float64,
			Longitude:       lon.Float64,
			ExternalPlaceID: placeID.String,
			DisplayAddress:  address.String,
		}
	}
	post.EventTime = fromNanos(eventTime)
	post.CreatedAt = fromNanos(created)
	post.UpdatedAt = fromNanos(update)
	post.ContentEmbedding = deserializeVector(embedding)
	post.ContentHash = hash.String
	post.EmbeddingStatus = types.EmbeddingStatus(status)
	post.EmbeddingUpdatedAt = fromNanos(embeddingUpdated)
	if deletedAt.Valid {
		t := fromNanos(deletedAt.Int64)
		post.DeletedAt = &t
	}
	return &post, nil
}

func toNanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func encodeImageURLs(urls []string) (string, error) {
	if urls == nil {
		urls = []string{}
	}
	b, err := json.Marshal(urls)
	return string(b), err
}

// placeArgs returns the nullable place columns of a post
func placeArgs(p *types.Place) []interface{} {
	if p == nil {
		return []interface{}{nil, nil, nil, nil}
	}
	return []interface{}{p.Latitude, p.Longitude, p.ExternalPlaceID, p.DisplayAddress}
}

func notFound(id string) error {
	return fmt.Errorf("%w: post %s", types.ErrNotFound, id)
}

// Post operations

// CreatePost stores a new post with a Pending embedding. A missing ID is
// generated, and a zero CreatedAt is set to the current time.
func (s *SQLiteStorage) CreatePost(ctx context.Context, post *types.Post) error {
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

	if err := post.Validate(); err != nil {
		return err
	}
	images, err := encodeImageURLs(post.ImageURLs)
	if err != nil {
		return fmt.Errorf("failed to encode image urls: %w", err)
	}

	query := `
		INSERT INTO posts (id, post_type, item_name, description, item_name_folded, description_folded,
			image_urls, latitude, longitude, external_place_id, display_address,
			event_time, author_id, created_at, updated_at, embedding_status,
			embedding_updated_at, content_version, embedded_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	args := []interface{}{post.ID, string(post.PostType), post.ItemName, post.Description,
		Fold(post.ItemName), Fold(post.Description), images}
	args = append(args, placeArgs(post.Place)...)
	args = append(args, toNanos(post.EventTime), post.AuthorID,
		toNanos(post.CreatedAt), toNanos(post.UpdatedAt), string(post.EmbeddingStatus),
		toNanos(post.EmbeddingUpdatedAt), post.ContentVersion, post.EmbeddedVersion)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: post %s", ErrAlreadyExists, post.ID)
		}
		return fmt.Errorf("failed to create post: %w", err)
	}
	return nil
}

// getPostWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getPostWithQuerier(ctx context.Context, q querier, id string) (*types.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = ? AND deleted_at IS NULL`
	post, err := scanPost(q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return post, nil
}

func (s *SQLiteStorage) GetPost(ctx context.Context, id string) (*types.Post, error) {
	return s.getPostWithQuerier(ctx, s.db, id)
}

// UpdatePostContent edits a post's content. The embedding status is left
// alone; the caller schedules a sync, which notices the hash change.
func (s *SQLiteStorage) UpdatePostContent(ctx context.Context, id string, update ContentUpdate) (*types.Post, error) {
	var updated *types.Post
	err := s.withTx(ctx, func(q querier) error {
		post, err := s.getPostWithQuerier(ctx, q, id)
		if err != nil {
			return err
		}
		if update.Empty() {
			updated = post
			return nil
		}

		itemName, description := post.ItemName, post.Description
		update.Apply(post)
		if err := post.Validate(); err != nil {
			return err
		}
		if post.ItemName != itemName || post.Description != description {
			post.ContentVersion++
		}
		images, err := encodeImageURLs(post.ImageURLs)
		if err != nil {
			return fmt.Errorf("failed to encode image urls: %w", err)
		}
		post.UpdatedAt = s.now().UTC()

		query := `
			UPDATE posts
			SET item_name = ?, description = ?, item_name_folded = ?, description_folded = ?,
			    image_urls = ?, updated_at = ?, content_version = ?
			WHERE id = ?
		`
		if _, err := q.ExecContext(ctx, query,
			post.ItemName, post.Description, Fold(post.ItemName), Fold(post.Description),
			images, toNanos(post.UpdatedAt), post.ContentVersion, id); err != nil {
			return fmt.Errorf("failed to update post: %w", err)
		}
		updated = post
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SoftDeletePost hides a post from every read path
func (s *SQLiteStorage) SoftDeletePost(ctx context.Context, id string) error {
	now := toNanos(s.now())
	result, err := s.db.ExecContext(ctx,
		`UPDATE posts SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		now, now, id)
	if err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}
	return requireRow(result, id)
}

func requireRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(id)
	}
	return nil
}

// Embedding operations

// validateStatusWrite rejects status-only writes of Ready, which is only
// ever stored together with an embedding.
func validateStatusWrite(status types.EmbeddingStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: invalid embedding status %q", types.ErrInvalidArgument, status)
	}
	if status == types.EmbeddingReady {
		return fmt.Errorf("%w: Ready is only set together with an embedding", types.ErrInvalidArgument)
	}
	return nil
}

// ValidateEmbeddingRecord checks that a record can be stored
func ValidateEmbeddingRecord(record EmbeddingRecord) error {
	if len(record.Vector) == 0 {
		return fmt.Errorf("%w: empty embedding", types.ErrInvalidArgument)
	}
	if record.ContentHash == "" {
		return fmt.Errorf("%w: empty content hash", types.ErrInvalidArgument)
	}
	return nil
}

// SetEmbeddingStatus records a status change and the last error message.
// The stored embedding and hash are untouched.
func (s *SQLiteStorage) SetEmbeddingStatus(ctx context.Context, id string, status types.EmbeddingStatus, lastError string) error {
	if err := validateStatusWrite(status); err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE posts SET embedding_status = ?, embedding_error = ?, embedding_updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		string(status), lastError, toNanos(s.now()), id)
	if err != nil {
		return fmt.Errorf("failed to set embedding status: %w", err)
	}
	return requireRow(result, id)
}

// SaveEmbedding writes vector, hash and Ready status in one statement,
// provided the post still has the content the vector was computed from.
func (s *SQLiteStorage) SaveEmbedding(ctx context.Context, id string, record EmbeddingRecord) error {
	if err := ValidateEmbeddingRecord(record); err != nil {
		return err
	}
	query := `
		UPDATE posts
		SET content_embedding = ?, content_hash = ?, embedding_status = ?, embedding_error = '',
		    embedding_updated_at = ?, embedded_version = content_version
		WHERE id = ? AND deleted_at IS NULL AND item_name = ? AND description = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		serializeVector(record.Vector), record.ContentHash, string(types.EmbeddingReady),
		toNanos(s.now()), id, record.ItemName, record.Description)
	if err != nil {
		return fmt.Errorf("failed to save embedding: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	// Distinguish a vanished post from an edited one
	if _, err := s.GetPost(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: post %s", types.ErrContentChanged, id)
}

// ListStalePostIDs returns IDs of live posts whose embedding needs a sync,
// oldest first
func (s *SQLiteStorage) ListStalePostIDs(ctx context.Context, sq StaleQuery) ([]string, error) {
	stale := "embedding_status IN (?, ?) OR (embedding_status = ? AND embedded_version <> content_version)"
	args := []interface{}{string(types.EmbeddingPending), string(types.EmbeddingFailed), string(types.EmbeddingReady)}
	if !sq.ProcessingBefore.IsZero() {
		stale += " OR (embedding_status = ? AND embedding_updated_at < ?)"
		args = append(args, string(types.EmbeddingProcessing), toNanos(sq.ProcessingBefore))
	}
	c := &conditions{}
	c.add("deleted_at IS NULL")
	c.add("("+stale+")", args...)

	query := `SELECT id FROM posts` + c.sql() + ` ORDER BY created_at ASC, id ASC`
	if sq.Limit > 0 {
		query += " LIMIT ?"
		c.args = append(c.args, sq.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, c.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale posts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Search operations

// conditions accumulates a WHERE clause and its arguments
type conditions struct {
	clauses []string
	args    []interface{}
}

func (c *conditions) add(clause string, args ...interface{}) {
	c.clauses = append(c.clauses, clause)
	c.args = append(c.args, args...)
}

func (c *conditions) sql() string {
	if len(c.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.clauses, " AND ")
}

// liveFilter builds the conditions shared by all read paths
func liveFilter(postType types.PostType, authorID, foldedTerm string) *conditions {
	c := &conditions{}
	c.add("deleted_at IS NULL")
	if postType != "" {
		c.add("post_type = ?", string(postType))
	}
	if authorID != "" {
		c.add("author_id = ?", authorID)
	}
	if foldedTerm != "" {
		c.add("(instr(item_name_folded, ?) > 0 OR instr(description_folded, ?) > 0)", foldedTerm, foldedTerm)
	}
	return c
}

// addGeoPrefilter restricts rows to the bounding boxes of an active geo
// filter. Rows passing it still need the exact haversine check.
func (c *conditions) addGeoPrefilter(g GeoFilter) {
	if !g.Active() {
		return
	}
	boxes := geo.BoundingBoxes(*g.Latitude, *g.Longitude, *g.RadiusKm)
	parts := make([]string, len(boxes))
	args := make([]interface{}, 0, len(boxes)*4)
	for i, b := range boxes {
		parts[i] = "(latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?)"
		args = append(args, b.MinLat, b.MaxLat, b.MinLon, b.MaxLon)
	}
	c.add("latitude IS NOT NULL AND ("+strings.Join(parts, " OR ")+")", args...)
}

func withinGeo(g GeoFilter, lat, lon sql.NullFloat64) bool {
	if !g.Active() {
		return true
	}
	if !lat.Valid || !lon.Valid {
		return false
	}
	return geo.Within(*g.Latitude, *g.Longitude, lat.Float64, lon.Float64, *g.RadiusKm)
}

// GetPaged returns live posts matching the query, newest first, and the
// number of matches before pagination.
func (s *SQLiteStorage) GetPaged(ctx context.Context, q PagedQuery) ([]*types.Post, int, error) {
	if err := q.Validate(); err != nil {
		return nil, 0, err
	}
	c := liveFilter(q.PostType, q.AuthorID, q.FoldedTerm())
	c.addGeoPrefilter(q.Geo)

	var (
		posts []*types.Post
		total int
	)
	err := s.withTx(ctx, func(tx querier) error {
		var err error
		if q.Geo.Active() {
			posts, total, err = s.pagedWithGeo(ctx, tx, c, q)
		} else {
			posts, total, err = s.pagedInSQL(ctx, tx, c, q)
		}
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return posts, total, nil
}

func (s *SQLiteStorage) pagedInSQL(ctx context.Context, q querier, c *conditions, pq PagedQuery) ([]*types.Post, int, error) {
	var total int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts`+c.sql(), c.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count posts: %w", err)
	}
	if pq.Limit == 0 || pq.Offset >= total {
		return []*types.Post{}, total, nil
	}

	query := `SELECT ` + postColumns + ` FROM posts` + c.sql() +
		` ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?`
	args := append(append([]interface{}{}, c.args...), pq.Limit, pq.Offset)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query posts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	posts := make([]*types.Post, 0, pq.Limit)
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, 0, err
		}
		posts = append(posts, post)
	}
	return posts, total, rows.Err()
}

func (s *SQLiteStorage) pagedWithGeo(ctx context.Context, q querier, c *conditions, pq PagedQuery) ([]*types.Post, int, error) {
	query := `SELECT id, latitude, longitude FROM posts` + c.sql() + ` ORDER BY created_at DESC, id ASC`
	rows, err := q.QueryContext(ctx, query, c.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query posts: %w", err)
	}

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		var lat, lon sql.NullFloat64
		if err := rows.Scan(&id, &lat, &lon); err != nil {
			_ = rows.Close()
			return nil, 0, err
		}
		if withinGeo(pq.Geo, lat, lon) {
			ids = append(ids, id)
		}
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, 0, err
	}

	start, end := PageBounds(len(ids), pq.Offset, pq.Limit)
	byID, err := s.loadPosts(ctx, q, ids[start:end])
	if err != nil {
		return nil, 0, err
	}
	posts := make([]*types.Post, 0, end-start)
	for _, id := range ids[start:end] {
		if post, ok := byID[id]; ok {
			posts = append(posts, post)
		}
	}
	return posts, len(ids), nil
}

// loadPosts fetches live posts by ID
func (s *SQLiteStorage) loadPosts(ctx context.Context, q querier, ids []string) (map[string]*types.Post, error) {
	byID := make(map[string]*types.Post, len(ids))
	if len(ids) == 0 {
		return byID, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := `SELECT ` + postColumns + ` FROM posts WHERE deleted_at IS NULL AND id IN (` +
		strings.Join(placeholders, ",") + `)`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load posts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		byID[post.ID] = post
	}
	return byID, rows.Err()
}

// rankCandidates scores every Ready post passing c against vector. With
// cosine_similarity() registered the score is computed by SQLite,
// otherwise the embedding blob is compared in Go.
func (s *SQLiteStorage) rankCandidates(ctx context.Context, q querier, c *conditions, vector []float32, g GeoFilter) ([]Candidate, error) {
	c.add("embedding_status = ?", string(types.EmbeddingReady))
	c.add("content_embedding IS NOT NULL AND length(content_embedding) = ?", len(vector)*4)
	c.addGeoPrefilter(g)

	scoreColumn := "content_embedding"
	args := c.args
	if VectorFunctionsAvailable {
		scoreColumn = "cosine_similarity(content_embedding, ?)"
		args = append([]interface{}{serializeVector(vector)}, c.args...)
	}
	query := `SELECT id, created_at, latitude, longitude, ` + scoreColumn + ` FROM posts` + c.sql()

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates := make([]Candidate, 0)
	for rows.Next() {
		var (
			cand     Candidate
			created  int64
			lat, lon sql.NullFloat64
			score    interface{}
		)
		if err := rows.Scan(&cand.ID, &created, &lat, &lon, &score); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		if !withinGeo(g, lat, lon) {
			continue
		}
		switch v := score.(type) {
		case float64:
			cand.Similarity = v
		case []byte:
			cand.Similarity = cosineSimilarity(vector, deserializeVector(v))
		default:
			return nil, fmt.Errorf("unexpected similarity column type %T", score)
		}
		cand.CreatedAt = fromNanos(created)
		candidates = append(candidates, cand)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	SortCandidates(candidates)
	return candidates, nil
}

// scoredPage loads the posts of a ranked page
func (s *SQLiteStorage) scoredPage(ctx context.Context, q querier, page []Candidate) ([]types.ScoredPost, error) {
	ids := make([]string, len(page))
	for i, cand := range page {
		ids[i] = cand.ID
	}
	byID, err := s.loadPosts(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	results := make([]types.ScoredPost, 0, len(page))
	for _, cand := range page {
		if post, ok := byID[cand.ID]; ok {
			results = append(results, types.ScoredPost{Post: post, Score: ClampScore(cand.Similarity)})
		}
	}
	return results, nil
}

// SearchBySemantic ranks Ready posts by cosine similarity to the query
// vector and returns one page plus the number of ranked posts.
func (s *SQLiteStorage) SearchBySemantic(ctx context.Context, q SemanticQuery) ([]types.ScoredPost, int, error) {
	if err := q.Validate(); err != nil {
		return nil, 0, err
	}

	var (
		results []types.ScoredPost
		total   int
	)
	err := s.withTx(ctx, func(tx querier) error {
		candidates, err := s.rankCandidates(ctx, tx, liveFilter(q.PostType, "", ""), q.Vector, q.Geo)
		if err != nil {
			return err
		}
		total = len(candidates)
		start, end := PageBounds(total, q.Offset, q.Limit)
		results, err = s.scoredPage(ctx, tx, candidates[start:end])
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return results, total, nil
}

// GetSimilarPosts ranks Ready posts of the requested type, other than the
// source post, by similarity to its embedding.
func (s *SQLiteStorage) GetSimilarPosts(ctx context.Context, q SimilarQuery) ([]types.ScoredPost, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	c := liveFilter(q.PostType, "", "")
	if q.PostID != "" {
		c.add("id <> ?", q.PostID)
	}

	var results []types.ScoredPost
	err := s.withTx(ctx, func(tx querier) error {
		candidates, err := s.rankCandidates(ctx, tx, c, q.Vector, q.Geo())
		if err != nil {
			return err
		}
		_, end := PageBounds(len(candidates), 0, q.EffectiveLimit())
		results, err = s.scoredPage(ctx, tx, candidates[:end])
		return err
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Stats counts posts by embedding status
func (s *SQLiteStorage) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByStatus: make(map[types.EmbeddingStatus]int)}

	rows, err := s.db.QueryContext(ctx,
		`SELECT embedding_status, COUNT(*) FROM posts WHERE deleted_at IS NULL GROUP BY embedding_status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count posts: %w", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			_ = rows.Close()
			return nil, err
		}
		stats.ByStatus[types.EmbeddingStatus(status)] = n
		stats.TotalPosts += n
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM posts WHERE deleted_at IS NOT NULL`).Scan(&stats.DeletedPosts); err != nil {
		return nil, fmt.Errorf("failed to count deleted posts: %w", err)
	}
	return stats, nil
}
