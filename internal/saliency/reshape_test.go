package saliency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestReshapeTokens_DropsSummaryTokenChannelMajor(t *testing.T) {
	tokens := mat.NewDense(5, 2, []float64{
		100, 200, // summary token
		1, 10,
		2, 20,
		3, 30,
		4, 40,
	})
	s, err := ReshapeTokens(tokens)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Side)

	rows, cols := s.Channels.Dims()
	assert.Equal(t, 2, rows)
	assert.Equal(t, 4, cols)
	assert.Equal(t, []float64{1, 2, 3, 4}, s.Channels.RawRowView(0))
	assert.Equal(t, []float64{10, 20, 30, 40}, s.Channels.RawRowView(1))
}

func TestReshapeTokens_NotSquare(t *testing.T) {
	for _, n := range []int{1, 3, 51} {
		_, err := ReshapeTokens(mat.NewDense(n, 3, nil))
		var shapeErr *ShapeMismatchError
		assert.ErrorAs(t, err, &shapeErr, "tokens=%d", n)
	}
}

func TestReshapeTokens_Nil(t *testing.T) {
	_, err := ReshapeTokens(nil)
	var shapeErr *ShapeMismatchError
	assert.ErrorAs(t, err, &shapeErr)
}

func TestReshapeTokens_ViTGrid(t *testing.T) {
	s, err := ReshapeTokens(mat.NewDense(50, 8, nil))
	require.NoError(t, err)
	assert.Equal(t, 7, s.Side)
}
