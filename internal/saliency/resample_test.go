package saliency

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResizeBilinear_Upsample(t *testing.T) {
	out := resizeBilinear([]float64{0, 1, 2, 3}, 2, 2, 4, 4)
	assert.InDeltaSlice(t, []float64{0, 0.25, 0.75, 1}, out[0:4], 1e-12)
	assert.InDeltaSlice(t, []float64{2, 2.25, 2.75, 3}, out[12:16], 1e-12)
}

func TestResizeBilinear_Identity(t *testing.T) {
	src := []float64{5, 1, 7, 3, 4, 2}
	assert.Equal(t, src, resizeBilinear(src, 3, 2, 3, 2))
}

func TestResizeBilinear_Constant(t *testing.T) {
	src := make([]float64, 49)
	for i := range src {
		src[i] = 0.3
	}
	for _, v := range resizeBilinear(src, 7, 7, 224, 224) {
		assert.InDelta(t, 0.3, v, 1e-12)
	}
}
