// Package embed talks to an external embedding HTTP server with
// endpoint and model fallback. Failures degrade to zero vectors so
// ingestion never stalls on a dead upstream; an all-zero vector marks
// the chunk as embedding-failed.
package embed

import (
	"context"
	"math"
)

// Embedder generates dense vectors for text. Implementations degrade
// to zero vectors instead of returning transport errors.
type Embedder interface {
	// Embed returns one vector for a single text.
	Embed(ctx context.Context, text string) []float32

	// EmbedBatch returns exactly len(texts) vectors.
	EmbedBatch(ctx context.Context, texts []string) [][]float32

	// Dimension returns the current embedding dimension.
	Dimension() int

	// ModelName returns the configured model identifier.
	ModelName() string

	// Available reports whether the upstream server responds.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// IsZero reports whether a vector is all-zero (the failure marker).
func IsZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// normalizeVector normalizes a vector to unit length. Zero vectors
// pass through unchanged.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
