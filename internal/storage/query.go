package storage

import (
	"fmt"
	"math"
	"strings"

	"github.com/lostnfound/postsearch/pkg/types"
)

// DefaultSimilarLimit caps GetSimilarPosts when no limit is given
const DefaultSimilarLimit = 20

// GeoFilter restricts results to posts within RadiusKm of a center point.
// It is active only when all three fields are set.
type GeoFilter struct {
	Latitude  *float64
	Longitude *float64
	RadiusKm  *float64
}

// Active reports whether the filter constrains results
func (g GeoFilter) Active() bool {
	return g.Latitude != nil && g.Longitude != nil && g.RadiusKm != nil
}

// Validate rejects a radius without a center, a non-positive radius and
// out-of-range coordinates.
func (g GeoFilter) Validate() error {
	if g.RadiusKm != nil {
		if g.Latitude == nil || g.Longitude == nil {
			return fmt.Errorf("%w: radius requires latitude and longitude", types.ErrInvalidArgument)
		}
		if r := *g.RadiusKm; math.IsNaN(r) || math.IsInf(r, 0) || r <= 0 {
			return fmt.Errorf("%w: radius must be positive, got %v", types.ErrInvalidArgument, r)
		}
	}
	return validateCenter(g.Latitude, g.Longitude)
}

func validateCenter(lat, lon *float64) error {
	if lat != nil && (math.IsNaN(*lat) || *lat < -90 || *lat > 90) {
		return fmt.Errorf("%w: latitude %v out of range", types.ErrInvalidArgument, *lat)
	}
	if lon != nil && (math.IsNaN(*lon) || *lon < -180 || *lon > 180) {
		return fmt.Errorf("%w: longitude %v out of range", types.ErrInvalidArgument, *lon)
	}
	return nil
}

func validatePage(offset, limit int) error {
	if offset < 0 {
		return fmt.Errorf("%w: negative offset %d", types.ErrInvalidArgument, offset)
	}
	if limit < 0 {
		return fmt.Errorf("%w: negative limit %d", types.ErrInvalidArgument, limit)
	}
	return nil
}

func validatePostType(t types.PostType) error {
	if t != "" && !t.Valid() {
		return fmt.Errorf("%w: invalid post type %q", types.ErrInvalidArgument, t)
	}
	return nil
}

// PagedQuery selects posts for keyword and geo browsing.
// Empty strings mean "no filter".
type PagedQuery struct {
	PostType   types.PostType
	SearchTerm string
	AuthorID   string
	Geo        GeoFilter
	Offset     int
	Limit      int
}

// Validate checks the query against the store contract
func (q PagedQuery) Validate() error {
	if err := validatePage(q.Offset, q.Limit); err != nil {
		return err
	}
	if err := validatePostType(q.PostType); err != nil {
		return err
	}
	return q.Geo.Validate()
}

// FoldedTerm returns the search term as matched against folded content,
// or "" when no keyword filter applies.
func (q PagedQuery) FoldedTerm() string {
	return Fold(strings.TrimSpace(q.SearchTerm))
}

// SemanticQuery ranks Ready posts by similarity to Vector
type SemanticQuery struct {
	Vector   []float32
	PostType types.PostType
	Geo      GeoFilter
	Offset   int
	Limit    int
}

// Validate checks the query against the store contract
func (q SemanticQuery) Validate() error {
	if err := validatePage(q.Offset, q.Limit); err != nil {
		return err
	}
	if len(q.Vector) == 0 {
		return fmt.Errorf("%w: empty query embedding", types.ErrInvalidArgument)
	}
	if err := validatePostType(q.PostType); err != nil {
		return err
	}
	return q.Geo.Validate()
}

// SimilarQuery finds posts of PostType similar to a source post. The geo
// filter applies when both Latitude and Longitude are set.
type SimilarQuery struct {
	PostID    string
	PostType  types.PostType
	Vector    []float32
	Latitude  *float64
	Longitude *float64
	RadiusKm  float64
	Limit     int
}

// Validate checks the query against the store contract
func (q SimilarQuery) Validate() error {
	if q.Limit < 0 {
		return fmt.Errorf("%w: negative limit %d", types.ErrInvalidArgument, q.Limit)
	}
	if len(q.Vector) == 0 {
		return fmt.Errorf("%w: empty embedding", types.ErrInvalidArgument)
	}
	if !q.PostType.Valid() {
		return fmt.Errorf("%w: invalid post type %q", types.ErrInvalidArgument, q.PostType)
	}
	if (q.Latitude == nil) != (q.Longitude == nil) {
		return fmt.Errorf("%w: latitude and longitude must be given together", types.ErrInvalidArgument)
	}
	if q.Latitude != nil {
		if math.IsNaN(q.RadiusKm) || math.IsInf(q.RadiusKm, 0) || q.RadiusKm <= 0 {
			return fmt.Errorf("%w: radius must be positive, got %v", types.ErrInvalidArgument, q.RadiusKm)
		}
	}
	return validateCenter(q.Latitude, q.Longitude)
}

// Geo returns the query's location constraint as a GeoFilter
func (q SimilarQuery) Geo() GeoFilter {
	if q.Latitude == nil || q.Longitude == nil {
		return GeoFilter{}
	}
	radius := q.RadiusKm
	return GeoFilter{Latitude: q.Latitude, Longitude: q.Longitude, RadiusKm: &radius}
}

// EffectiveLimit applies the default to a zero limit
func (q SimilarQuery) EffectiveLimit() int {
	if q.Limit == 0 {
		return DefaultSimilarLimit
	}
	return q.Limit
}

// Fold normalizes text for case-insensitive substring matching
func Fold(s string) string {
	return strings.ToLower(s)
}

// MatchesTerm reports whether a folded term occurs in the item name or the
// description of a post.
func MatchesTerm(post *types.Post, foldedTerm string) bool {
	if foldedTerm == "" {
		return true
	}
	return strings.Contains(Fold(post.ItemName), foldedTerm) ||
		strings.Contains(Fold(post.Description), foldedTerm)
}

// PageBounds returns the slice bounds of a page over n ordered results
func PageBounds(n, offset, limit int) (int, int) {
	if offset >= n {
		return n, n
	}
	end := offset + limit
	if end > n || end < offset {
		end = n
	}
	return offset, end
}
