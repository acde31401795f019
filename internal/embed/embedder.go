// Package embed provides text embedding with an OpenAI-compatible
// backend, a deterministic offline fallback, an LRU cache, and the
// batch semantics the index writer depends on: inputs are truncated,
// per-input failures yield zero vectors, and a batch never fails.
package embed

import "context"

// Embedder generates dense vectors for text.
type Embedder interface {
	// Embed generates a vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates vectors for multiple texts in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector dimension this embedder produces.
	Dimensions() int

	// ModelName identifies the backing model.
	ModelName() string

	// Available reports whether the backend is reachable.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// ZeroVector returns an all-zero vector of the given dimension.
func ZeroVector(dim int) []float32 {
	return make([]float32, dim)
}

// IsZeroVector reports whether every component is zero.
func IsZeroVector(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
