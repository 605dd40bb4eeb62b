package distance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestL2(t *testing.T) {
	d, err := l2([]float32{0, 0}, []float32{3, 4})
	require.NoError(t, err)
	assert.Equal(t, float32(25), d)
}

func TestCosineIdentical(t *testing.T) {
	d, err := cosine([]float32{1, 2, 3}, []float32{1, 2, 3})
	require.NoError(t, err)
	assert.InDelta(t, 0, d, 1e-6)
}

func TestCosineZeroVector(t *testing.T) {
	d, err := cosine([]float32{0, 0}, []float32{1, 1})
	require.NoError(t, err)
	assert.Equal(t, float32(1), d)
}

func TestInnerProductNegatesDot(t *testing.T) {
	d, err := innerProduct([]float32{1, 2}, []float32{3, 4})
	require.NoError(t, err)
	assert.Equal(t, float32(-11), d)
}

func TestL1(t *testing.T) {
	d, err := l1([]float32{1, -2}, []float32{4, 2})
	require.NoError(t, err)
	assert.Equal(t, float32(7), d)
}

func TestHammingCountsDifferingLanes(t *testing.T) {
	d, err := hamming([]float32{1, 2, 3}, []float32{1, 0, 3})
	require.NoError(t, err)
	assert.Equal(t, float32(1), d)
}

func TestDimensionMismatch(t *testing.T) {
	_, err := l2([]float32{1}, []float32{1, 2})
	assert.Error(t, err)
}

func TestParseMetricAcceptsConfigAndCanonicalSpellings(t *testing.T) {
	for _, s := range []string{"l2", "L2", "cosine", "inner", "inner_product", "l1", "hamming"} {
		_, err := ParseMetric(s)
		assert.NoError(t, err, s)
	}
	_, err := ParseMetric("nonsense")
	assert.Error(t, err)
}

func TestGetDispatchesToMatchingKernel(t *testing.T) {
	fn, err := Get(L2)
	require.NoError(t, err)
	d, err := fn([]float32{0}, []float32{5})
	require.NoError(t, err)
	assert.Equal(t, float32(25), d)
}
