package storage

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSerializeVector(t *testing.T) {
	vector := []float32{0.1, -2.5, float32(math.Inf(1)), 0}
	blob := SerializeVector(vector)
	assert.Len(t, blob, 16)
	assert.Equal(t, vector, DeserializeVector(blob))
	assert.Nil(t, DeserializeVector(nil))
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"scaled", []float32{1, 0}, []float32{5, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}

	assert.InDelta(t, 1.0, cosineSimilarityBlob(serializeVector([]float32{3, 4}), serializeVector([]float32{6, 8})), 1e-9)
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 0.0, ClampScore(-0.4))
	assert.Equal(t, 0.0, ClampScore(math.NaN()))
	assert.Equal(t, 0.75, ClampScore(0.75))
	assert.Equal(t, 1.0, ClampScore(1.0000001))
}

func TestSortCandidates(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	candidates := []Candidate{
		{ID: "c", CreatedAt: base, Similarity: 0.5},
		{ID: "b", CreatedAt: base.Add(time.Minute), Similarity: 0.5},
		{ID: "a", CreatedAt: base, Similarity: 0.5},
		{ID: "d", CreatedAt: base, Similarity: 0.9},
		{ID: "e", CreatedAt: base.Add(time.Hour), Similarity: -0.2},
	}
	SortCandidates(candidates)

	got := make([]string, len(candidates))
	for i, c := range candidates {
		got[i] = c.ID
	}
	assert.Equal(t, []string{"d", "b", "a", "c", "e"}, got)
}
