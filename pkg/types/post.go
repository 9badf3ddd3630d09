package types

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// PostType distinguishes items someone lost from items someone found
type PostType string

const (
	PostTypeLost  PostType = "Lost"
	PostTypeFound PostType = "Found"
)

// ParsePostType parses a post type case-insensitively. An empty string
// parses to the empty PostType, meaning "no filter".
func ParsePostType(s string) (PostType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "lost":
		return PostTypeLost, nil
	case "found":
		return PostTypeFound, nil
	default:
		return "", fmt.Errorf("%w: unknown post type %q", ErrValidation, s)
	}
}

// Valid reports whether t is one of the known post types
func (t PostType) Valid() bool {
	return t == PostTypeLost || t == PostTypeFound
}

// Opposite returns the post type a post of type t is matched against.
// A Lost post is matched against Found posts and vice versa.
func (t PostType) Opposite() PostType {
	if t == PostTypeLost {
		return PostTypeFound
	}
	return PostTypeLost
}

// EmbeddingStatus tracks the lifecycle of a post's content embedding
type EmbeddingStatus string

const (
	EmbeddingPending    EmbeddingStatus = "Pending"
	EmbeddingProcessing EmbeddingStatus = "Processing"
	EmbeddingReady      EmbeddingStatus = "Ready"
	EmbeddingFailed     EmbeddingStatus = "Failed"
)

// Valid reports whether s is a known status
func (s EmbeddingStatus) Valid() bool {
	switch s {
	case EmbeddingPending, EmbeddingProcessing, EmbeddingReady, EmbeddingFailed:
		return true
	}
	return false
}

var transitions = map[EmbeddingStatus][]EmbeddingStatus{
	EmbeddingPending:    {EmbeddingProcessing},
	EmbeddingProcessing: {EmbeddingProcessing, EmbeddingReady, EmbeddingFailed},
	EmbeddingReady:      {EmbeddingProcessing},
	EmbeddingFailed:     {EmbeddingProcessing, EmbeddingReady},
}

// CanTransition reports whether the embedding lifecycle allows moving from
// one status to another. Processing may be re-entered so a sync abandoned by
// a crashed worker can be picked up again. Failed may go straight to Ready
// when the stored embedding turns out to match the content again.
func CanTransition(from, to EmbeddingStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Place is the resolved geographic location of a post. A post either has
// all of coordinates, external place ID and display address, or none.
type Place struct {
	Latitude        float64 `json:"latitude"`
	Longitude       float64 `json:"longitude"`
	ExternalPlaceID string  `json:"external_place_id"`
	DisplayAddress  string  `json:"display_address"`
}

// Validate checks coordinate ranges and that the place is fully resolved
func (p *Place) Validate() error {
	if math.IsNaN(p.Latitude) || p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidArgument, p.Latitude)
	}
	if math.IsNaN(p.Longitude) || p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidArgument, p.Longitude)
	}
	if strings.TrimSpace(p.ExternalPlaceID) == "" || strings.TrimSpace(p.DisplayAddress) == "" {
		return fmt.Errorf("%w: place requires external place id and display address", ErrInvalidArgument)
	}
	return nil
}

// Post is a lost or found item listing
type Post struct {
	ID          string    `json:"id"`
	PostType    PostType  `json:"post_type"`
	ItemName    string    `json:"item_name"`
	Description string    `json:"description"`
	ImageURLs   []string  `json:"image_urls"`
	Place       *Place    `json:"place,omitempty"`
	EventTime   time.Time `json:"event_time"`
	AuthorID    string    `json:"author_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Embedding state, written only by the sync service
	ContentEmbedding   []float32       `json:"-"`
	ContentHash        string          `json:"-"`
	EmbeddingStatus    EmbeddingStatus `json:"embedding_status"`
	EmbeddingError     string          `json:"embedding_error,omitempty"`
	EmbeddingUpdatedAt time.Time       `json:"-"`

	// ContentVersion is bumped by every edit of ItemName or Description.
	// EmbeddedVersion is the ContentVersion the embedding was last saved for.
	ContentVersion  int64 `json:"-"`
	EmbeddedVersion int64 `json:"-"`

	DeletedAt *time.Time `json:"-"`
}

// Validate checks the fields a stored post must always satisfy
func (p *Post) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: post id is required", ErrInvalidArgument)
	}
	if !p.PostType.Valid() {
		return fmt.Errorf("%w: invalid post type %q", ErrInvalidArgument, p.PostType)
	}
	if strings.TrimSpace(p.ItemName) == "" {
		return fmt.Errorf("%w: item name is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(p.AuthorID) == "" {
		return fmt.Errorf("%w: author id is required", ErrInvalidArgument)
	}
	if p.EmbeddingStatus != "" && !p.EmbeddingStatus.Valid() {
		return fmt.Errorf("%w: invalid embedding status %q", ErrInvalidArgument, p.EmbeddingStatus)
	}
	if p.Place != nil {
		return p.Place.Validate()
	}
	return nil
}

// HasFreshEmbedding reports whether the stored embedding was computed from
// content hashing to contentHash and can be reused as is.
func (p *Post) HasFreshEmbedding(contentHash string) bool {
	return p.ContentHash != "" && p.ContentHash == contentHash && len(p.ContentEmbedding) > 0
}

// EmbeddingCurrent reports whether the embedding was saved for the current
// content version. An edit that restores earlier content still bumps the
// version, so the embedding has to be confirmed again.
func (p *Post) EmbeddingCurrent() bool {
	return p.EmbeddedVersion == p.ContentVersion
}

// IsDeleted reports whether the post has been soft-deleted
func (p *Post) IsDeleted() bool {
	return p.DeletedAt != nil
}

// Clone returns a deep copy of the post
func (p *Post) Clone() *Post {
	if p == nil {
		return nil
	}
	c := *p
	if p.ImageURLs != nil {
		c.ImageURLs = append([]string(nil), p.ImageURLs...)
	}
	if p.Place != nil {
		place := *p.Place
		c.Place = &place
	}
	if p.ContentEmbedding != nil {
		c.ContentEmbedding = append([]float32(nil), p.ContentEmbedding...)
	}
	if p.DeletedAt != nil {
		d := *p.DeletedAt
		c.DeletedAt = &d
	}
	return &c
}

// ScoredPost is a post ranked by embedding similarity. Score is in [0, 1].
type ScoredPost struct {
	Post  *Post
	Score float64
}
