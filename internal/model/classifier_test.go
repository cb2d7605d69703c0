package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSoftmax(t *testing.T) {
	p := Softmax([]float64{1, 2})
	require.Len(t, p, 2)
	assert.InDelta(t, 1.0, p[0]+p[1], 1e-12)
	assert.Greater(t, p[1], p[0])
}

func TestSoftmax_LargeLogits(t *testing.T) {
	p := Softmax([]float64{1000, 1000})
	assert.InDelta(t, 0.5, p[0], 1e-12)
	assert.InDelta(t, 0.5, p[1], 1e-12)
	assert.False(t, math.IsNaN(p[0]))
}

func TestSoftmax_Empty(t *testing.T) {
	assert.Empty(t, Softmax(nil))
}

func TestCosineLogits(t *testing.T) {
	logits, err := CosineLogits([]float64{1, 0}, [][]float64{{2, 0}, {0, 3}}, 100)
	require.NoError(t, err)
	assert.InDelta(t, 100, logits[0], 1e-9)
	assert.InDelta(t, 0, logits[1], 1e-9)
}

func TestCosineLogits_ZeroVector(t *testing.T) {
	logits, err := CosineLogits([]float64{0, 0}, [][]float64{{1, 0}, {0, 1}}, 100)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0}, logits)
}

func TestCosineLogits_DimensionMismatch(t *testing.T) {
	_, err := CosineLogits([]float64{1, 0}, [][]float64{{1, 0, 0}}, 1)
	assert.Error(t, err)
}

func TestProbabilitiesFromLogits(t *testing.T) {
	p, err := probabilitiesFromLogits([]float64{0.3, -1.2})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, p.Real+p.AIGenerated, 1e-12)
	assert.Greater(t, p.Real, p.AIGenerated)

	_, err = probabilitiesFromLogits([]float64{1, 2, 3})
	assert.Error(t, err)

	_, err = probabilitiesFromLogits([]float64{math.NaN(), 0})
	assert.Error(t, err)
}
