package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/parcel-matcher/pkg/types"
)

func TestCosineIdentical(t *testing.T) {
	v := types.Embedding{0.3, 1.2, 0, 4.5, 2}

	sim, err := Cosine(v, v)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-9)
}

func TestCosineOpposite(t *testing.T) {
	v := types.Embedding{0.3, -1.2, 7, 4.5}
	neg := make(types.Embedding, len(v))
	for i := range v {
		neg[i] = -v[i]
	}

	sim, err := Cosine(v, neg)
	require.NoError(t, err)
	assert.InDelta(t, -1.0, sim, 1e-9)
}

func TestCosineOrthogonal(t *testing.T) {
	sim, err := Cosine(types.Embedding{1, 0}, types.Embedding{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, sim, 1e-12)
}

func TestCosineScaleInvariant(t *testing.T) {
	a := types.Embedding{1, 2, 3}
	b := types.Embedding{2, 4, 6.5}

	s1, err := Cosine(a, b)
	require.NoError(t, err)

	scaled := types.Embedding{10, 20, 30}
	s2, err := Cosine(scaled, b)
	require.NoError(t, err)

	assert.InDelta(t, s1, s2, 1e-6)
}

func TestCosineErrors(t *testing.T) {
	_, err := Cosine(types.Embedding{1, 2}, types.Embedding{1})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = Cosine(types.Embedding{0, 0}, types.Embedding{1, 1})
	assert.ErrorIs(t, err, ErrZeroMagnitude)

	_, err = Cosine(types.Embedding{}, types.Embedding{})
	assert.ErrorIs(t, err, ErrZeroMagnitude)
}

func TestComparatorThreshold(t *testing.T) {
	cmp := NewComparator(DefaultThreshold)

	// cos = 1/2 exactly
	a := types.Embedding{1, 0, 0, 0}
	b := types.Embedding{1, 1, 1, 1}

	tests := []struct {
		name  string
		a, b  types.Embedding
		match bool
	}{
		{"identical", a, a, true},
		{"on threshold", a, b, true},
		{"orthogonal", a, types.Embedding{0, 1, 0, 0}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := cmp.Compare(tt.a, tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.match, d.Match)
			assert.Equal(t, DefaultThreshold, d.Threshold)
		})
	}
}

func TestComparatorPropagatesErrors(t *testing.T) {
	cmp := NewComparator(0.5)

	_, err := cmp.Compare(types.Embedding{0, 0}, types.Embedding{0, 0})
	assert.ErrorIs(t, err, ErrZeroMagnitude)
}
