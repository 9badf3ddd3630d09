package storage

import (
	"cmp"
	"encoding/binary"
	"math"
	"slices"
	"time"
)

// Candidate is a post considered for similarity ranking
type Candidate struct {
	ID         string
	CreatedAt  time.Time
	Similarity float64
}

// SortCandidates orders candidates by similarity descending, then newest
// first, then by ID so equal rows have a stable order across pages.
func SortCandidates(candidates []Candidate) {
	slices.SortFunc(candidates, func(a, b Candidate) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// ClampScore maps a cosine similarity onto the reported [0, 1] score.
// Opposite directions are reported as 0; ranking still uses the raw value.
func ClampScore(similarity float64) float64 {
	if math.IsNaN(similarity) || similarity < 0 {
		return 0
	}
	if similarity > 1 {
		return 1
	}
	return similarity
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	if len(blob) == 0 {
		return nil
	}
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// cosineSimilarityBlob compares two serialized vectors
func cosineSimilarityBlob(a, b []byte) float64 {
	return cosineSimilarity(deserializeVector(a), deserializeVector(b))
}

// SerializeVector is an exported helper for testing
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is an exported helper for testing
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when lengths differ or either vector is zero.
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}
