// Package embeddertest provides a scriptable embedder for tests.
package embeddertest

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/lostnfound/postsearch/internal/embedder"
)

// MockEmbedder generates deterministic vectors from a hash of the text and
// counts its calls. Vectors, errors and blocking can be scripted.
type MockEmbedder struct {
	dimension int
	provider  string
	model     string

	calls atomic.Int32

	mu      sync.Mutex
	vectors map[string][]float32
	err     error
	// OnCall runs inside GenerateEmbedding before the vector is produced.
	// It may block, e.g. to hold a sync in flight while a test edits a post.
	onCall func(ctx context.Context, text string) error
}

// New creates a mock embedder with the given dimension
func New(dimension int) *MockEmbedder {
	return &MockEmbedder{
		dimension: dimension,
		provider:  "mock",
		model:     "mock-v1",
		vectors:   make(map[string][]float32),
	}
}

// SetVector fixes the vector returned for text
func (m *MockEmbedder) SetVector(text string, vector []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectors[text] = vector
}

// SetError makes every call fail with err until cleared with nil
func (m *MockEmbedder) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// OnCall installs a hook run at the start of every call
func (m *MockEmbedder) OnCall(fn func(ctx context.Context, text string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCall = fn
}

// Calls returns how many embeddings were requested
func (m *MockEmbedder) Calls() int {
	return int(m.calls.Load())
}

// GenerateEmbedding generates a deterministic fake embedding
func (m *MockEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	m.calls.Add(1)
	if req.Text == "" {
		return nil, embedder.ErrEmptyText
	}

	m.mu.Lock()
	hook, failure, fixed := m.onCall, m.err, m.vectors[req.Text]
	m.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, req.Text); err != nil {
			return nil, err
		}
	}
	if failure != nil {
		return nil, failure
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vector := fixed
	if vector == nil {
		vector = hashVector(req.Text, m.dimension)
	}
	return &embedder.Embedding{
		Vector:    append([]float32(nil), vector...),
		Dimension: len(vector),
		Provider:  m.provider,
		Model:     m.model,
		Hash:      embedder.ComputeHash(m.model, req.Text),
	}, nil
}

// GenerateBatch generates embeddings for multiple texts
func (m *MockEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	if len(req.Texts) == 0 {
		return nil, fmt.Errorf("no texts provided")
	}

	embeddings := make([]*embedder.Embedding, len(req.Texts))
	for i, text := range req.Texts {
		emb, err := m.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: text})
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}

	return &embedder.BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   m.provider,
		Model:      m.model,
	}, nil
}

func (m *MockEmbedder) Dimension() int   { return m.dimension }
func (m *MockEmbedder) Provider() string { return m.provider }
func (m *MockEmbedder) Model() string    { return m.model }
func (m *MockEmbedder) Close() error     { return nil }

// hashVector derives a unit vector from the SHA-256 of text
func hashVector(text string, dimension int) []float32 {
	hash := sha256.Sum256([]byte(text))
	vector := make([]float32, dimension)
	var sum float64
	for i := range vector {
		idx := (i * 4) % 32
		val := binary.BigEndian.Uint32(hash[idx : idx+4])
		vector[i] = (float32(val)/float32(1<<32))*2 - 1
		sum += float64(vector[i]) * float64(vector[i])
	}
	if sum > 0 {
		norm := float32(1 / math.Sqrt(sum))
		for i := range vector {
			vector[i] *= norm
		}
	}
	return vector
}
