// Package postgres implements storage.Storage on PostgreSQL with the
// pgvector extension. Similarity ranking, distance filtering and counting
// all happen in SQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/lostnfound/postsearch/internal/geo"
	"github.com/lostnfound/postsearch/internal/storage"
	"github.com/lostnfound/postsearch/pkg/types"
)

var _ storage.Storage = (*Store)(nil)

// boundaryToleranceKm absorbs the rounding difference between SQL and Go
// trigonometry so a post exactly on the radius stays included.
const boundaryToleranceKm = 1e-9

// Config holds connection settings
type Config struct {
	DSN      string
	MaxConns int32
}

// Store implements storage.Storage on a pgx connection pool
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// New connects to PostgreSQL and applies pending migrations
func New(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	// Reduce planning overhead by caching prepared statements per connection.
	poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheStatement
	poolCfg.ConnConfig.StatementCacheCapacity = 256

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := ApplyMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	return &Store{pool: pool, now: time.Now}, nil
}

// Close releases all pooled connections
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// params collects positional arguments and hands out their placeholders
type params struct {
	values []interface{}
}

func (p *params) add(v interface{}) string {
	p.values = append(p.values, v)
	return fmt.Sprintf("$%d", len(p.values))
}

// where accumulates AND-ed conditions
type where struct {
	clauses []string
}

func (w *where) add(clause string) {
	w.clauses = append(w.clauses, clause)
}

func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

const postColumns = `id, post_type, item_name, description, image_urls,
	latitude, longitude, external_place_id, display_address,
	event_time, author_id, created_at, updated_at,
	content_embedding, content_hash, embedding_status, embedding_error, deleted_at,
	embedding_updated_at, content_version, embedded_version`

func scanPost(row pgx.Row, extra ...interface{}) (*types.Post, error) {
	var post types.Post
	var (
		postType, status string
		lat, lon         *float64
		placeID, address *string
		hash             *string
		embedding        *pgvector.Vector
		deletedAt        *time.Time
	)
	dest := []interface{}{
		&post.ID, &postType, &post.ItemName, &post.Description, &post.ImageURLs,
		&lat, &lon, &placeID, &address,
		&post.EventTime, &post.AuthorID, &post.CreatedAt, &post.UpdatedAt,
		&embedding, &hash, &status, &post.EmbeddingError, &deletedAt,
		&post.EmbeddingUpdatedAt, &post.ContentVersion, &post.EmbeddedVersion,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	post.PostType = types.PostType(postType)
	post.EmbeddingStatus = types.EmbeddingStatus(status)
	if post.ImageURLs == nil {
		post.ImageURLs = []string{}
	}
	if lat != nil && lon != nil {
		post.Place = &types.Place{Latitude: *lat, Longitude: *lon}
		if placeID != nil {
			post.Place.ExternalPlaceID = *placeID
		}
		if address != nil {
			post.Place.DisplayAddress = *address
		}
	}
	post.EventTime = post.EventTime.UTC()
	post.CreatedAt = post.CreatedAt.UTC()
	post.UpdatedAt = post.UpdatedAt.UTC()
	post.EmbeddingUpdatedAt = post.EmbeddingUpdatedAt.UTC()
	if embedding != nil {
		post.ContentEmbedding = embedding.Slice()
	}
	if hash != nil {
		post.ContentHash = *hash
	}
	if deletedAt != nil {
		t := deletedAt.UTC()
		post.DeletedAt = &t
	}
	return &post, nil
}

func notFound(id string) error {
	return fmt.Errorf("%w: post %s", types.ErrNotFound, id)
}

func placeValues(p *types.Place) (lat, lon *float64, placeID, address *string) {
	if p == nil {
		return nil, nil, nil, nil
	}
	return &p.Latitude, &p.Longitude, &p.ExternalPlaceID, &p.DisplayAddress
}

func (s *Store) CreatePost(ctx context.Context, post *types.Post) error {
	if post.ID == "" {
		post.ID = uuid.NewString()
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = s.now().UTC()
	}
	// timestamptz has microsecond resolution
	post.CreatedAt = post.CreatedAt.Truncate(time.Microsecond)
	if post.EventTime.IsZero() {
		post.EventTime = post.CreatedAt
	}
	post.EventTime = post.EventTime.Truncate(time.Microsecond)
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

	lat, lon, placeID, address := placeValues(post.Place)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO posts (id, post_type, item_name, description, image_urls,
			latitude, longitude, external_place_id, display_address,
			event_time, author_id, created_at, updated_at, embedding_status,
			embedding_updated_at, content_version, embedded_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		post.ID, string(post.PostType), post.ItemName, post.Description, post.ImageURLs,
		lat, lon, placeID, address,
		post.EventTime, post.AuthorID, post.CreatedAt, post.UpdatedAt, string(post.EmbeddingStatus),
		post.EmbeddingUpdatedAt, post.ContentVersion, post.EmbeddedVersion)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: post %s", storage.ErrAlreadyExists, post.ID)
		}
		return fmt.Errorf("failed to create post: %w", err)
	}
	return nil
}

func (s *Store) getPost(ctx context.Context, q pgx.Tx, id string, forUpdate bool) (*types.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = $1 AND deleted_at IS NULL`
	if forUpdate {
		query += " FOR UPDATE"
	}
	var row pgx.Row
	if q != nil {
		row = q.QueryRow(ctx, query, id)
	} else {
		row = s.pool.QueryRow(ctx, query, id)
	}
	post, err := scanPost(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return post, nil
}

func (s *Store) GetPost(ctx context.Context, id string) (*types.Post, error) {
	return s.getPost(ctx, nil, id, false)
}

func (s *Store) UpdatePostContent(ctx context.Context, id string, update storage.ContentUpdate) (*types.Post, error) {
	var updated *types.Post
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		post, err := s.getPost(ctx, tx, id, true)
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
		post.UpdatedAt = s.now().UTC().Truncate(time.Microsecond)
		if _, err := tx.Exec(ctx, `
			UPDATE posts SET item_name = $1, description = $2, image_urls = $3, updated_at = $4, content_version = $5
			WHERE id = $6`,
			post.ItemName, post.Description, post.ImageURLs, post.UpdatedAt, post.ContentVersion, id); err != nil {
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

func (s *Store) SoftDeletePost(ctx context.Context, id string) error {
	now := s.now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE posts SET deleted_at = $1, updated_at = $1 WHERE id = $2 AND deleted_at IS NULL`, now, id)
	if err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(id)
	}
	return nil
}

func (s *Store) SetEmbeddingStatus(ctx context.Context, id string, status types.EmbeddingStatus, lastError string) error {
	if !status.Valid() {
		return fmt.Errorf("%w: invalid embedding status %q", types.ErrInvalidArgument, status)
	}
	if status == types.EmbeddingReady {
		return fmt.Errorf("%w: Ready is only set together with an embedding", types.ErrInvalidArgument)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE posts SET embedding_status = $1, embedding_error = $2, embedding_updated_at = $3
		 WHERE id = $4 AND deleted_at IS NULL`,
		string(status), lastError, s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set embedding status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(id)
	}
	return nil
}

func (s *Store) SaveEmbedding(ctx context.Context, id string, record storage.EmbeddingRecord) error {
	if err := storage.ValidateEmbeddingRecord(record); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE posts
		SET content_embedding = $1::vector, content_hash = $2, embedding_status = $3, embedding_error = '',
		    embedding_updated_at = $4, embedded_version = content_version
		WHERE id = $5 AND deleted_at IS NULL AND item_name = $6 AND description = $7`,
		pgvector.NewVector(record.Vector), record.ContentHash, string(types.EmbeddingReady),
		s.now().UTC(), id, record.ItemName, record.Description)
	if err != nil {
		return fmt.Errorf("failed to save embedding: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.GetPost(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: post %s", types.ErrContentChanged, id)
}

func (s *Store) ListStalePostIDs(ctx context.Context, q storage.StaleQuery) ([]string, error) {
	p := &params{}
	stale := `embedding_status IN (` + p.add(string(types.EmbeddingPending)) + `, ` + p.add(string(types.EmbeddingFailed)) + `)
		OR (embedding_status = ` + p.add(string(types.EmbeddingReady)) + ` AND embedded_version <> content_version)`
	if !q.ProcessingBefore.IsZero() {
		stale += ` OR (embedding_status = ` + p.add(string(types.EmbeddingProcessing)) +
			` AND embedding_updated_at < ` + p.add(q.ProcessingBefore.UTC()) + `)`
	}
	query := `SELECT id FROM posts WHERE deleted_at IS NULL AND (` + stale + `)
		ORDER BY created_at ASC, id ASC`
	if q.Limit > 0 {
		query += " LIMIT " + p.add(q.Limit)
	}

	rows, err := s.pool.Query(ctx, query, p.values...)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale posts: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// liveFilter builds the conditions shared by all read paths
func liveFilter(p *params, postType types.PostType, authorID, foldedTerm string) *where {
	w := &where{}
	w.add("deleted_at IS NULL")
	if postType != "" {
		w.add("post_type = " + p.add(string(postType)))
	}
	if authorID != "" {
		w.add("author_id = " + p.add(authorID))
	}
	if foldedTerm != "" {
		term := p.add(foldedTerm)
		w.add("(strpos(lower(item_name), " + term + ") > 0 OR strpos(lower(description), " + term + ") > 0)")
	}
	return w
}

// distanceExpr returns the haversine distance in km from the given center
func distanceExpr(lat, lon string) string {
	return fmt.Sprintf(`(2 * %[3]v * asin(sqrt(LEAST(1,
		power(sin(radians(latitude - %[1]s::float8) / 2), 2) +
		cos(radians(%[1]s::float8)) * cos(radians(latitude)) *
		power(sin(radians(longitude - %[2]s::float8) / 2), 2)))))`, lat, lon, geo.EarthRadiusKm)
}

// addGeo restricts rows to an active geo filter and returns the distance
// expression, or "" when the filter is inactive.
func addGeo(w *where, p *params, g storage.GeoFilter) string {
	if !g.Active() {
		return ""
	}
	dist := distanceExpr(p.add(*g.Latitude), p.add(*g.Longitude))
	w.add("latitude IS NOT NULL AND longitude IS NOT NULL")
	w.add(dist + " <= " + p.add(*g.RadiusKm+boundaryToleranceKm) + "::float8")
	return dist
}

func (s *Store) count(ctx context.Context, w *where, p *params) (int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM posts`+w.sql(), p.values...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count posts: %w", err)
	}
	return total, nil
}

func (s *Store) GetPaged(ctx context.Context, q storage.PagedQuery) ([]*types.Post, int, error) {
	if err := q.Validate(); err != nil {
		return nil, 0, err
	}
	p := &params{}
	w := liveFilter(p, q.PostType, q.AuthorID, q.FoldedTerm())
	addGeo(w, p, q.Geo)

	if q.Limit == 0 {
		total, err := s.count(ctx, w, p)
		return []*types.Post{}, total, err
	}

	filterArgs := len(p.values)
	query := `SELECT ` + postColumns + `, COUNT(*) OVER() FROM posts` + w.sql() +
		` ORDER BY created_at DESC, id ASC LIMIT ` + p.add(q.Limit) + ` OFFSET ` + p.add(q.Offset)
	rows, err := s.pool.Query(ctx, query, p.values...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query posts: %w", err)
	}
	defer rows.Close()

	posts := make([]*types.Post, 0, q.Limit)
	total := 0
	for rows.Next() {
		post, err := scanPost(rows, &total)
		if err != nil {
			return nil, 0, err
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if len(posts) == 0 && q.Offset > 0 {
		// Past the last page: the window produced no row to carry the count
		p.values = p.values[:filterArgs]
		total, err = s.count(ctx, w, p)
		if err != nil {
			return nil, 0, err
		}
	}
	return posts, total, nil
}

// ranked runs a similarity query over Ready posts passing w
func (s *Store) ranked(ctx context.Context, w *where, p *params, vector []float32, offset, limit int) ([]types.ScoredPost, int, error) {
	w.add("embedding_status = " + p.add(string(types.EmbeddingReady)))
	w.add("content_embedding IS NOT NULL AND vector_dims(content_embedding) = " + p.add(len(vector)))

	results := make([]types.ScoredPost, 0)
	if limit == 0 {
		total, err := s.count(ctx, w, p)
		return results, total, err
	}

	// The count fallback binds only the filter arguments, so the query
	// vector and paging go after them
	filterArgs := len(p.values)
	vec := p.add(pgvector.NewVector(vector)) + "::vector"
	query := `SELECT ` + postColumns + `, 1 - (content_embedding <=> ` + vec + `), COUNT(*) OVER()
		FROM posts` + w.sql() + `
		ORDER BY content_embedding <=> ` + vec + ` ASC, created_at DESC, id ASC
		LIMIT ` + p.add(limit) + ` OFFSET ` + p.add(offset)
	rows, err := s.pool.Query(ctx, query, p.values...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer rows.Close()

	total := 0
	for rows.Next() {
		var similarity float64
		post, err := scanPost(rows, &similarity, &total)
		if err != nil {
			return nil, 0, err
		}
		results = append(results, types.ScoredPost{Post: post, Score: storage.ClampScore(similarity)})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if len(results) == 0 && offset > 0 {
		p.values = p.values[:filterArgs]
		total, err = s.count(ctx, w, p)
		if err != nil {
			return nil, 0, err
		}
	}
	return results, total, nil
}

func (s *Store) SearchBySemantic(ctx context.Context, q storage.SemanticQuery) ([]types.ScoredPost, int, error) {
	if err := q.Validate(); err != nil {
		return nil, 0, err
	}
	p := &params{}
	w := liveFilter(p, q.PostType, "", "")
	addGeo(w, p, q.Geo)
	return s.ranked(ctx, w, p, q.Vector, q.Offset, q.Limit)
}

func (s *Store) GetSimilarPosts(ctx context.Context, q storage.SimilarQuery) ([]types.ScoredPost, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	p := &params{}
	w := liveFilter(p, q.PostType, "", "")
	if q.PostID != "" {
		w.add("id <> " + p.add(q.PostID))
	}
	addGeo(w, p, q.Geo())
	results, _, err := s.ranked(ctx, w, p, q.Vector, 0, q.EffectiveLimit())
	return results, err
}

func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{ByStatus: make(map[types.EmbeddingStatus]int)}
	rows, err := s.pool.Query(ctx, `
		SELECT CASE WHEN deleted_at IS NULL THEN embedding_status ELSE '' END, COUNT(*)
		FROM posts GROUP BY 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to count posts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		if status == "" {
			stats.DeletedPosts = n
			continue
		}
		stats.ByStatus[types.EmbeddingStatus(status)] = n
		stats.TotalPosts += n
	}
	return stats, rows.Err()
}
