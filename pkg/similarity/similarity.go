// Package similarity compares embeddings and turns the score into a match decision.
package similarity

import (
	"errors"
	"fmt"
	"math"

	"github.com/menta2k/parcel-matcher/pkg/types"
)

// DefaultThreshold is the minimum cosine similarity treated as a match
const DefaultThreshold = 0.5

var (
	// ErrDimensionMismatch is returned when two embeddings differ in length
	ErrDimensionMismatch = errors.New("embedding dimensions differ")
	// ErrZeroMagnitude is returned when an embedding has no direction
	ErrZeroMagnitude = errors.New("embedding has zero magnitude")
)

// Cosine computes dot(a, b) / (|a| * |b|) in float64 precision.
func Cosine(a, b types.Embedding) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	if len(a) == 0 {
		return 0, ErrZeroMagnitude
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0 || normB == 0 {
		return 0, ErrZeroMagnitude
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// rounding can push |sim| slightly past 1
	if sim > 1 {
		sim = 1
	}
	if sim < -1 {
		sim = -1
	}
	return sim, nil
}

// Comparator applies a fixed decision threshold to cosine similarity
type Comparator struct {
	Threshold float64
}

// NewComparator creates a comparator with the given threshold
func NewComparator(threshold float64) *Comparator {
	return &Comparator{Threshold: threshold}
}

// Compare scores two embeddings. Similarity >= Threshold is a match.
func (c *Comparator) Compare(a, b types.Embedding) (types.Decision, error) {
	sim, err := Cosine(a, b)
	if err != nil {
		return types.Decision{}, err
	}
	return types.Decision{
		Similarity: sim,
		Threshold:  c.Threshold,
		Match:      sim >= c.Threshold,
	}, nil
}
