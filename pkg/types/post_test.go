package types

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPost() *Post {
	return &Post{
		ID:          "p1",
		PostType:    PostTypeLost,
		ItemName:    "Black Wallet",
		Description: "lost near park",
		AuthorID:    "u1",
	}
}

func TestParsePostType(t *testing.T) {
	tests := []struct {
		in      string
		want    PostType
		wantErr bool
	}{
		{"", "", false},
		{"lost", PostTypeLost, false},
		{"FOUND", PostTypeFound, false},
		{" Lost ", PostTypeLost, false},
		{"stolen", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePostType(tt.in)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPostTypeOpposite(t *testing.T) {
	assert.Equal(t, PostTypeFound, PostTypeLost.Opposite())
	assert.Equal(t, PostTypeLost, PostTypeFound.Opposite())
}

func TestPostValidate(t *testing.T) {
	t.Run("valid without place", func(t *testing.T) {
		assert.NoError(t, validPost().Validate())
	})

	t.Run("valid with place", func(t *testing.T) {
		p := validPost()
		p.Place = &Place{Latitude: 10, Longitude: 106, ExternalPlaceID: "place-1", DisplayAddress: "District 1"}
		assert.NoError(t, p.Validate())
	})

	t.Run("partial place rejected", func(t *testing.T) {
		p := validPost()
		p.Place = &Place{Latitude: 10, Longitude: 106}
		assert.ErrorIs(t, p.Validate(), ErrInvalidArgument)
	})

	t.Run("latitude out of range", func(t *testing.T) {
		p := validPost()
		p.Place = &Place{Latitude: 91, Longitude: 0, ExternalPlaceID: "x", DisplayAddress: "y"}
		assert.ErrorIs(t, p.Validate(), ErrInvalidArgument)
	})

	t.Run("missing fields", func(t *testing.T) {
		for _, mutate := range []func(*Post){
			func(p *Post) { p.ID = "" },
			func(p *Post) { p.PostType = "Stolen" },
			func(p *Post) { p.ItemName = "  " },
			func(p *Post) { p.AuthorID = "" },
			func(p *Post) { p.EmbeddingStatus = "Done" },
		} {
			p := validPost()
			mutate(p)
			assert.ErrorIs(t, p.Validate(), ErrInvalidArgument)
		}
	})
}

func TestHasFreshEmbedding(t *testing.T) {
	p := validPost()
	assert.False(t, p.HasFreshEmbedding("h1"), "no hash, no vector")

	p.ContentHash = "h1"
	assert.False(t, p.HasFreshEmbedding("h1"), "hash without vector is never fresh")

	p.ContentEmbedding = []float32{1, 0}
	assert.True(t, p.HasFreshEmbedding("h1"))
	assert.False(t, p.HasFreshEmbedding("h2"))
}

func TestPostClone(t *testing.T) {
	now := time.Now()
	p := validPost()
	p.ImageURLs = []string{"a.jpg"}
	p.Place = &Place{Latitude: 1, Longitude: 2, ExternalPlaceID: "x", DisplayAddress: "y"}
	p.ContentEmbedding = []float32{0.5}
	p.DeletedAt = &now

	c := p.Clone()
	c.ImageURLs[0] = "b.jpg"
	c.Place.Latitude = 5
	c.ContentEmbedding[0] = 0.9
	*c.DeletedAt = now.Add(time.Hour)

	assert.Equal(t, "a.jpg", p.ImageURLs[0])
	assert.Equal(t, 1.0, p.Place.Latitude)
	assert.Equal(t, float32(0.5), p.ContentEmbedding[0])
	assert.Equal(t, now, *p.DeletedAt)
	assert.Nil(t, (*Post)(nil).Clone())
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to EmbeddingStatus
		want     bool
	}{
		{EmbeddingPending, EmbeddingProcessing, true},
		{EmbeddingProcessing, EmbeddingReady, true},
		{EmbeddingProcessing, EmbeddingFailed, true},
		{EmbeddingFailed, EmbeddingProcessing, true},
		{EmbeddingFailed, EmbeddingReady, true},
		{EmbeddingReady, EmbeddingProcessing, true},
		{EmbeddingPending, EmbeddingReady, false},
		{EmbeddingPending, EmbeddingFailed, false},
		{EmbeddingReady, EmbeddingFailed, false},
		{EmbeddingReady, EmbeddingPending, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}
