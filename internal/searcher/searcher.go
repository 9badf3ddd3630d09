package searcher

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/lostnfound/postsearch/internal/embedder"
	"github.com/lostnfound/postsearch/internal/geo"
	"github.com/lostnfound/postsearch/internal/storage"
	"github.com/lostnfound/postsearch/pkg/types"
)

// Config holds paging, geo and query-embedding limits
type Config struct {
	DefaultPageSize     int
	MaxPageSize         int
	MaxRadiusKm         float64
	SimilarRadiusKm     float64 // radius around the source post for similar posts
	DefaultSimilarLimit int
	MaxSimilarLimit     int
	MaxSearchTextLength int // in runes
	QueryTimeout        time.Duration
	QueryCacheSize      int
	QueryCacheTTL       time.Duration
}

// DefaultConfig returns the default search configuration
func DefaultConfig() Config {
	return Config{
		DefaultPageSize:     20,
		MaxPageSize:         100,
		MaxRadiusKm:         500,
		SimilarRadiusKm:     10,
		DefaultSimilarLimit: storage.DefaultSimilarLimit,
		MaxSimilarLimit:     100,
		MaxSearchTextLength: 500,
		QueryTimeout:        10 * time.Second,
		QueryCacheSize:      1000,
		QueryCacheTTL:       time.Hour,
	}
}

// GeoParams is an optional search center and radius. Latitude and
// Longitude come together; RadiusKm requires both.
type GeoParams struct {
	Latitude  *float64
	Longitude *float64
	RadiusKm  *float64
}

// ListRequest contains parameters for listing posts
type ListRequest struct {
	Page       int
	PageSize   int
	PostType   types.PostType
	SearchTerm string
	AuthorID   string
	Geo        GeoParams
}

// SemanticRequest contains parameters for a semantic search
type SemanticRequest struct {
	SearchText string
	Page       int
	PageSize   int
	PostType   types.PostType
	Geo        GeoParams
}

// PostResult is a post shaped for callers, with optional scores
type PostResult struct {
	types.Post
	SimilarityScore *float64 `json:"similarity_score,omitempty"`
	DistanceKm      *float64 `json:"distance_km,omitempty"`
}

// PagedResponse is one page of posts
type PagedResponse struct {
	Items           []PostResult  `json:"items"`
	Page            int           `json:"page"`
	PageSize        int           `json:"page_size"`
	TotalCount      int           `json:"total_count"`
	TotalPages      int           `json:"total_pages"`
	HasNextPage     bool          `json:"has_next_page"`
	HasPreviousPage bool          `json:"has_previous_page"`
	Duration        time.Duration `json:"-"`
	CacheHit        bool          `json:"-"` // query vector came from the cache
}

// SimilarResponse lists posts similar to a source post. IsReady is false
// while the source post has no usable embedding yet.
type SimilarResponse struct {
	PostID          string                `json:"post_id"`
	IsReady         bool                  `json:"is_ready"`
	EmbeddingStatus types.EmbeddingStatus `json:"embedding_status"`
	SimilarPosts    []PostResult          `json:"similar_posts"`
}

// cacheEntry represents a cached query vector with expiration time
type cacheEntry struct {
	vector    []float32
	expiresAt time.Time
}

// Searcher validates search requests, dispatches them to storage and
// shapes the results
type Searcher struct {
	storage  storage.Storage
	embedder embedder.Embedder
	config   Config
	logger   *zap.Logger
	cache    *lru.Cache[[32]byte, *cacheEntry]
	cacheMu  sync.Mutex
}

// Option configures a Searcher
type Option func(*Searcher)

// WithConfig overrides the defaults. Zero fields keep their default.
func WithConfig(cfg Config) Option {
	return func(s *Searcher) {
		d := &s.config
		if cfg.DefaultPageSize > 0 {
			d.DefaultPageSize = cfg.DefaultPageSize
		}
		if cfg.MaxPageSize > 0 {
			d.MaxPageSize = cfg.MaxPageSize
		}
		if cfg.MaxRadiusKm > 0 {
			d.MaxRadiusKm = cfg.MaxRadiusKm
		}
		if cfg.SimilarRadiusKm > 0 {
			d.SimilarRadiusKm = cfg.SimilarRadiusKm
		}
		if cfg.DefaultSimilarLimit > 0 {
			d.DefaultSimilarLimit = cfg.DefaultSimilarLimit
		}
		if cfg.MaxSimilarLimit > 0 {
			d.MaxSimilarLimit = cfg.MaxSimilarLimit
		}
		if cfg.MaxSearchTextLength > 0 {
			d.MaxSearchTextLength = cfg.MaxSearchTextLength
		}
		if cfg.QueryTimeout > 0 {
			d.QueryTimeout = cfg.QueryTimeout
		}
		if cfg.QueryCacheSize > 0 {
			d.QueryCacheSize = cfg.QueryCacheSize
		}
		if cfg.QueryCacheTTL > 0 {
			d.QueryCacheTTL = cfg.QueryCacheTTL
		}
	}
}

// WithLogger sets the logger. Default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Searcher) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSearcher creates a new Searcher instance
func NewSearcher(store storage.Storage, emb embedder.Embedder, opts ...Option) *Searcher {
	s := &Searcher{
		storage:  store,
		embedder: emb,
		config:   DefaultConfig(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	cache, err := lru.New[[32]byte, *cacheEntry](s.config.QueryCacheSize)
	if err != nil {
		// This should never happen with valid size parameter
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}
	s.cache = cache
	return s
}

// Config returns the effective configuration
func (s *Searcher) Config() Config {
	return s.config
}

// ListPosts returns one page of posts, newest first
func (s *Searcher) ListPosts(ctx context.Context, req ListRequest) (*PagedResponse, error) {
	startTime := time.Now()

	page, pageSize, err := s.normalizePaging(req.Page, req.PageSize)
	if err != nil {
		return nil, err
	}
	if err := validatePostType(req.PostType); err != nil {
		return nil, err
	}
	geoFilter, err := s.validateGeo(req.Geo)
	if err != nil {
		return nil, err
	}

	posts, total, err := s.storage.GetPaged(ctx, storage.PagedQuery{
		PostType:   req.PostType,
		SearchTerm: strings.TrimSpace(req.SearchTerm),
		AuthorID:   strings.TrimSpace(req.AuthorID),
		Geo:        geoFilter,
		Offset:     (page - 1) * pageSize,
		Limit:      pageSize,
	})
	if err != nil {
		return nil, err
	}

	items := make([]PostResult, len(posts))
	for i, post := range posts {
		items[i] = shape(post, nil, req.Geo)
	}
	response := newPagedResponse(items, page, pageSize, total)
	response.Duration = time.Since(startTime)
	return response, nil
}

// SearchSemantic ranks Ready posts by similarity to the search text
func (s *Searcher) SearchSemantic(ctx context.Context, req SemanticRequest) (*PagedResponse, error) {
	startTime := time.Now()

	text := strings.TrimSpace(req.SearchText)
	if text == "" {
		return nil, fmt.Errorf("%w: search text cannot be empty", types.ErrValidation)
	}
	if utf8.RuneCountInString(text) > s.config.MaxSearchTextLength {
		return nil, fmt.Errorf("%w: search text exceeds %d characters", types.ErrValidation, s.config.MaxSearchTextLength)
	}
	page, pageSize, err := s.normalizePaging(req.Page, req.PageSize)
	if err != nil {
		return nil, err
	}
	if err := validatePostType(req.PostType); err != nil {
		return nil, err
	}
	geoFilter, err := s.validateGeo(req.Geo)
	if err != nil {
		return nil, err
	}

	vector, cacheHit, err := s.embedQuery(ctx, text)
	if err != nil {
		return nil, err
	}

	scored, total, err := s.storage.SearchBySemantic(ctx, storage.SemanticQuery{
		Vector:   vector,
		PostType: req.PostType,
		Geo:      geoFilter,
		Offset:   (page - 1) * pageSize,
		Limit:    pageSize,
	})
	if err != nil {
		return nil, err
	}

	items := make([]PostResult, len(scored))
	for i, sp := range scored {
		score := sp.Score
		items[i] = shape(sp.Post, &score, req.Geo)
	}
	response := newPagedResponse(items, page, pageSize, total)
	response.Duration = time.Since(startTime)
	response.CacheHit = cacheHit
	return response, nil
}

// GetSimilarPosts finds posts of the opposite type that resemble postID,
// near its place when it has one. A limit of 0 uses the default.
func (s *Searcher) GetSimilarPosts(ctx context.Context, postID string, limit int) (*SimilarResponse, error) {
	if strings.TrimSpace(postID) == "" {
		return nil, fmt.Errorf("%w: post id is required", types.ErrValidation)
	}
	if limit == 0 {
		limit = s.config.DefaultSimilarLimit
	}
	if limit < 0 || limit > s.config.MaxSimilarLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", types.ErrValidation, s.config.MaxSimilarLimit)
	}

	source, err := s.storage.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}

	response := &SimilarResponse{
		PostID:          source.ID,
		EmbeddingStatus: source.EmbeddingStatus,
		SimilarPosts:    []PostResult{},
	}
	if source.EmbeddingStatus != types.EmbeddingReady || len(source.ContentEmbedding) == 0 {
		return response, nil
	}
	response.IsReady = true

	query := storage.SimilarQuery{
		PostID:   source.ID,
		PostType: source.PostType.Opposite(),
		Vector:   source.ContentEmbedding,
		Limit:    limit,
	}
	var center GeoParams
	if source.Place != nil {
		lat, lon := source.Place.Latitude, source.Place.Longitude
		query.Latitude, query.Longitude = &lat, &lon
		query.RadiusKm = s.config.SimilarRadiusKm
		center = GeoParams{Latitude: &lat, Longitude: &lon}
	}

	scored, err := s.storage.GetSimilarPosts(ctx, query)
	if err != nil {
		return nil, err
	}
	for _, sp := range scored {
		score := sp.Score
		response.SimilarPosts = append(response.SimilarPosts, shape(sp.Post, &score, center))
	}
	return response, nil
}

// InvalidateCache drops all cached query vectors
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// embedQuery returns the vector for text, from the cache when possible
func (s *Searcher) embedQuery(ctx context.Context, text string) ([]float32, bool, error) {
	if s.embedder == nil {
		return nil, false, fmt.Errorf("%w: embedder not initialized", types.ErrProvider)
	}

	key := s.queryKey(text)
	now := time.Now()
	s.cacheMu.Lock()
	entry, found := s.cache.Get(key)
	if found && now.After(entry.expiresAt) {
		s.cache.Remove(key)
		found = false
	}
	s.cacheMu.Unlock()
	if found {
		return entry.vector, true, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
	defer cancel()
	emb, err := s.embedder.GenerateEmbedding(callCtx, embedder.EmbeddingRequest{Text: text})
	if err != nil {
		err = embedder.Classify(err)
		s.logger.Warn("query embedding failed", zap.Error(err))
		return nil, false, err
	}
	if err := embedder.CheckDimension(s.embedder, emb.Vector); err != nil {
		return nil, false, err
	}

	s.cacheMu.Lock()
	s.cache.Add(key, &cacheEntry{vector: emb.Vector, expiresAt: now.Add(s.config.QueryCacheTTL)})
	s.cacheMu.Unlock()
	return emb.Vector, false, nil
}

// queryKey computes the cache key for a query text
func (s *Searcher) queryKey(text string) [32]byte {
	var data strings.Builder
	data.WriteString(s.embedder.Provider())
	data.WriteString("|")
	data.WriteString(s.embedder.Model())
	data.WriteString("|")
	data.WriteString(text)
	return sha256.Sum256([]byte(data.String()))
}

// normalizePaging fills in defaults for zero values and rejects the rest
// of the out-of-range values
func (s *Searcher) normalizePaging(page, pageSize int) (int, int, error) {
	if page == 0 {
		page = 1
	}
	if pageSize == 0 {
		pageSize = s.config.DefaultPageSize
	}
	if page < 1 {
		return 0, 0, fmt.Errorf("%w: page must be >= 1", types.ErrValidation)
	}
	if pageSize < 1 || pageSize > s.config.MaxPageSize {
		return 0, 0, fmt.Errorf("%w: page size must be between 1 and %d", types.ErrValidation, s.config.MaxPageSize)
	}
	// Guard the offset computation against overflow
	if page > math.MaxInt32/pageSize {
		return 0, 0, fmt.Errorf("%w: page %d is too large", types.ErrValidation, page)
	}
	return page, pageSize, nil
}

func validatePostType(t types.PostType) error {
	if t != "" && !t.Valid() {
		return fmt.Errorf("%w: unknown post type %q", types.ErrValidation, t)
	}
	return nil
}

// validateGeo checks request geo parameters and converts them into a
// storage filter
func (s *Searcher) validateGeo(g GeoParams) (storage.GeoFilter, error) {
	filter := storage.GeoFilter{Latitude: g.Latitude, Longitude: g.Longitude, RadiusKm: g.RadiusKm}
	if (g.Latitude == nil) != (g.Longitude == nil) {
		return filter, fmt.Errorf("%w: latitude and longitude must be given together", types.ErrValidation)
	}
	if g.RadiusKm != nil && g.Latitude == nil {
		return filter, fmt.Errorf("%w: radius requires latitude and longitude", types.ErrValidation)
	}
	if g.Latitude != nil && !geo.ValidCoordinates(*g.Latitude, *g.Longitude) {
		return filter, fmt.Errorf("%w: coordinates out of range", types.ErrValidation)
	}
	if g.RadiusKm != nil {
		r := *g.RadiusKm
		if math.IsNaN(r) || r <= 0 || r > s.config.MaxRadiusKm {
			return filter, fmt.Errorf("%w: radius must be in (0, %g] km", types.ErrValidation, s.config.MaxRadiusKm)
		}
	}
	return filter, nil
}

// shape converts a stored post into a result, adding the distance from the
// request center when both are known
func shape(post *types.Post, score *float64, center GeoParams) PostResult {
	result := PostResult{Post: *post, SimilarityScore: score}
	result.ContentEmbedding = nil
	if center.Latitude != nil && center.Longitude != nil && post.Place != nil {
		d := geo.HaversineKm(*center.Latitude, *center.Longitude, post.Place.Latitude, post.Place.Longitude)
		result.DistanceKm = &d
	}
	return result
}

func newPagedResponse(items []PostResult, page, pageSize, total int) *PagedResponse {
	totalPages := TotalPages(total, pageSize)
	return &PagedResponse{
		Items:           items,
		Page:            page,
		PageSize:        pageSize,
		TotalCount:      total,
		TotalPages:      totalPages,
		HasNextPage:     page < totalPages,
		HasPreviousPage: page > 1,
	}
}

// TotalPages returns ceil(total/pageSize)
func TotalPages(total, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}
