package api

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/lostnfound/postsearch/internal/jobs"
	"github.com/lostnfound/postsearch/internal/searcher"
	"github.com/lostnfound/postsearch/internal/storage"
	"github.com/lostnfound/postsearch/internal/syncer"
	"github.com/lostnfound/postsearch/pkg/types"
)

// Limits on user-supplied post content
const (
	MaxItemNameLength    = 200
	MaxDescriptionLength = 5000
	MaxImageURLs         = 10
)

const enqueueTimeout = 2 * time.Second

// Syncer runs an embedding sync for one post
type Syncer interface {
	SyncEmbedding(ctx context.Context, postID string) (*syncer.Result, error)
}

// Handler serves the post endpoints
type Handler struct {
	store    storage.Storage
	searcher *searcher.Searcher
	syncer   Syncer
	queue    jobs.Queue
	logger   *zap.Logger
	policy   *bluemonday.Policy
}

// NewHandler creates a Handler. queue may be nil, in which case new and
// edited posts wait for the sweep.
func NewHandler(store storage.Storage, srch *searcher.Searcher, s Syncer, queue jobs.Queue, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:    store,
		searcher: srch,
		syncer:   s,
		queue:    queue,
		logger:   logger,
		policy:   bluemonday.StrictPolicy(),
	}
}

// sanitize strips markup from plain-text fields. bluemonday escapes what it
// keeps, so entities are decoded back to the text the user typed.
func (h *Handler) sanitize(s string) string {
	return strings.TrimSpace(html.UnescapeString(h.policy.Sanitize(s)))
}

func zapRequest(c *gin.Context, err error) []zap.Field {
	return []zap.Field{
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	}
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{types.ErrValidation}, args...)...)
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest("%s must be an integer", key)
	}
	return n, nil
}

func queryFloat(c *gin.Context, key string) (*float64, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, badRequest("%s must be a number", key)
	}
	return &f, nil
}

func queryGeo(c *gin.Context) (searcher.GeoParams, error) {
	var g searcher.GeoParams
	var err error
	if g.Latitude, err = queryFloat(c, "lat"); err != nil {
		return g, err
	}
	if g.Longitude, err = queryFloat(c, "lon"); err != nil {
		return g, err
	}
	if g.RadiusKm, err = queryFloat(c, "radius_km"); err != nil {
		return g, err
	}
	return g, nil
}

func queryPaging(c *gin.Context) (int, int, error) {
	page, err := queryInt(c, "page")
	if err != nil {
		return 0, 0, err
	}
	pageSize, err := queryInt(c, "page_size")
	if err != nil {
		return 0, 0, err
	}
	return page, pageSize, nil
}

// ListPosts handles GET /posts
func (h *Handler) ListPosts(c *gin.Context) {
	page, pageSize, err := queryPaging(c)
	if err != nil {
		h.failWith(c, err)
		return
	}
	postType, err := types.ParsePostType(c.Query("post_type"))
	if err != nil {
		h.failWith(c, err)
		return
	}
	geo, err := queryGeo(c)
	if err != nil {
		h.failWith(c, err)
		return
	}

	resp, err := h.searcher.ListPosts(c.Request.Context(), searcher.ListRequest{
		Page:       page,
		PageSize:   pageSize,
		PostType:   postType,
		SearchTerm: c.Query("search"),
		AuthorID:   c.Query("author_id"),
		Geo:        geo,
	})
	if err != nil {
		h.failWith(c, err)
		return
	}
	success(c, resp)
}

// SearchPosts handles GET /posts/search
func (h *Handler) SearchPosts(c *gin.Context) {
	page, pageSize, err := queryPaging(c)
	if err != nil {
		h.failWith(c, err)
		return
	}
	postType, err := types.ParsePostType(c.Query("post_type"))
	if err != nil {
		h.failWith(c, err)
		return
	}
	geo, err := queryGeo(c)
	if err != nil {
		h.failWith(c, err)
		return
	}

	resp, err := h.searcher.SearchSemantic(c.Request.Context(), searcher.SemanticRequest{
		SearchText: c.Query("q"),
		Page:       page,
		PageSize:   pageSize,
		PostType:   postType,
		Geo:        geo,
	})
	if err != nil {
		h.failWith(c, err)
		return
	}
	success(c, resp)
}

// SimilarPosts handles GET /posts/:id/similar
func (h *Handler) SimilarPosts(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		h.failWith(c, err)
		return
	}
	resp, err := h.searcher.GetSimilarPosts(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.failWith(c, err)
		return
	}
	success(c, resp)
}

// GetPost handles GET /posts/:id
func (h *Handler) GetPost(c *gin.Context) {
	post, err := h.store.GetPost(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.failWith(c, err)
		return
	}
	success(c, post)
}

type placeRequest struct {
	Latitude        *float64 `json:"latitude"`
	Longitude       *float64 `json:"longitude"`
	ExternalPlaceID string   `json:"external_place_id"`
	DisplayAddress  string   `json:"display_address"`
}

type createPostRequest struct {
	PostType    string        `json:"post_type" binding:"required"`
	ItemName    string        `json:"item_name" binding:"required"`
	Description string        `json:"description"`
	ImageURLs   []string      `json:"image_urls"`
	Place       *placeRequest `json:"place"`
	EventTime   *time.Time    `json:"event_time"`
	AuthorID    string        `json:"author_id" binding:"required"`
}

type updatePostRequest struct {
	ItemName    *string   `json:"item_name"`
	Description *string   `json:"description"`
	ImageURLs   *[]string `json:"image_urls"`
}

func validateImageURLs(urls []string) ([]string, error) {
	if len(urls) > MaxImageURLs {
		return nil, badRequest("at most %d image urls", MaxImageURLs)
	}
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, badRequest("invalid image url %q", raw)
		}
		out = append(out, u.String())
	}
	return out, nil
}

func (h *Handler) cleanItemName(raw string) (string, error) {
	name := h.sanitize(raw)
	if name == "" {
		return "", badRequest("item_name cannot be empty")
	}
	if n := len([]rune(name)); n > MaxItemNameLength {
		return "", badRequest("item_name longer than %d characters", MaxItemNameLength)
	}
	return name, nil
}

func (h *Handler) cleanDescription(raw string) (string, error) {
	desc := h.sanitize(raw)
	if n := len([]rune(desc)); n > MaxDescriptionLength {
		return "", badRequest("description longer than %d characters", MaxDescriptionLength)
	}
	return desc, nil
}

func toPlace(p *placeRequest) (*types.Place, error) {
	if p == nil {
		return nil, nil
	}
	if p.Latitude == nil || p.Longitude == nil {
		return nil, badRequest("place requires latitude and longitude")
	}
	return &types.Place{
		Latitude:        *p.Latitude,
		Longitude:       *p.Longitude,
		ExternalPlaceID: strings.TrimSpace(p.ExternalPlaceID),
		DisplayAddress:  strings.TrimSpace(p.DisplayAddress),
	}, nil
}

// CreatePost handles POST /posts. The new post starts Pending and a sync
// job is enqueued.
func (h *Handler) CreatePost(c *gin.Context) {
	var req createPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, CodeBadRequest, "invalid request payload")
		return
	}

	postType, err := types.ParsePostType(req.PostType)
	if err == nil && postType == "" {
		err = badRequest("post_type is required")
	}
	if err != nil {
		h.failWith(c, err)
		return
	}
	name, err := h.cleanItemName(req.ItemName)
	if err != nil {
		h.failWith(c, err)
		return
	}
	desc, err := h.cleanDescription(req.Description)
	if err != nil {
		h.failWith(c, err)
		return
	}
	images, err := validateImageURLs(req.ImageURLs)
	if err != nil {
		h.failWith(c, err)
		return
	}
	place, err := toPlace(req.Place)
	if err != nil {
		h.failWith(c, err)
		return
	}

	post := &types.Post{
		PostType:    postType,
		ItemName:    name,
		Description: desc,
		ImageURLs:   images,
		Place:       place,
		AuthorID:    strings.TrimSpace(req.AuthorID),
	}
	if req.EventTime != nil {
		post.EventTime = req.EventTime.UTC()
	}

	if err := h.store.CreatePost(c.Request.Context(), post); err != nil {
		h.failWith(c, err)
		return
	}
	h.enqueue(c.Request.Context(), post.ID)
	created(c, post)
}

// UpdatePost handles PATCH /posts/:id. A content change re-triggers the
// embedding sync; the status is left to the sync service.
func (h *Handler) UpdatePost(c *gin.Context) {
	var req updatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, CodeBadRequest, "invalid request payload")
		return
	}
	if req.ItemName == nil && req.Description == nil && req.ImageURLs == nil {
		h.failWith(c, badRequest("nothing to update"))
		return
	}

	var update storage.ContentUpdate
	if req.ItemName != nil {
		name, err := h.cleanItemName(*req.ItemName)
		if err != nil {
			h.failWith(c, err)
			return
		}
		update.ItemName = &name
	}
	if req.Description != nil {
		desc, err := h.cleanDescription(*req.Description)
		if err != nil {
			h.failWith(c, err)
			return
		}
		update.Description = &desc
	}
	if req.ImageURLs != nil {
		images, err := validateImageURLs(*req.ImageURLs)
		if err != nil {
			h.failWith(c, err)
			return
		}
		update.ImageURLs = &images
	}

	post, err := h.store.UpdatePostContent(c.Request.Context(), c.Param("id"), update)
	if err != nil {
		h.failWith(c, err)
		return
	}
	if update.ItemName != nil || update.Description != nil {
		h.enqueue(c.Request.Context(), post.ID)
	}
	success(c, post)
}

// DeletePost handles DELETE /posts/:id
func (h *Handler) DeletePost(c *gin.Context) {
	if err := h.store.SoftDeletePost(c.Request.Context(), c.Param("id")); err != nil {
		h.failWith(c, err)
		return
	}
	success(c, gin.H{"id": c.Param("id"), "deleted": true})
}

// SyncEmbedding handles POST /posts/:id/embedding/sync and runs the sync
// inline
func (h *Handler) SyncEmbedding(c *gin.Context) {
	result, err := h.syncer.SyncEmbedding(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.failWith(c, err)
		return
	}
	success(c, result)
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	ctx := c.Request.Context()
	stats, err := h.store.Stats(ctx)
	if err != nil {
		h.logger.Error("health check failed", zap.Error(err))
		fail(c, http.StatusServiceUnavailable, CodeUnavailable, "storage unavailable")
		return
	}
	data := gin.H{
		"status":      "ok",
		"total_posts": stats.TotalPosts,
		"by_status":   stats.ByStatus,
	}
	if h.queue != nil {
		if n, err := h.queue.Len(ctx); err == nil {
			data["queued_jobs"] = n
		}
	}
	success(c, data)
}

// enqueue schedules a sync. A lost job only delays the embedding, since the
// sweep also picks up Ready posts edited since their last sync.
func (h *Handler) enqueue(ctx context.Context, postID string) {
	if h.queue == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enqueueTimeout)
	defer cancel()
	if err := h.queue.Enqueue(ctx, jobs.NewJob(postID)); err != nil {
		h.logger.Warn("failed to enqueue sync job", zap.String("post_id", postID), zap.Error(err))
	}
}
