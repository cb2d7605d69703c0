package saliency

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Spatial is a token activation laid out as a square grid, one row per
// channel. Column y*Side+x holds grid cell (x, y).
type Spatial struct {
	Side     int
	Channels *mat.Dense
}

// ReshapeTokens drops the leading summary token of a tokens x channels
// matrix and arranges the remaining patch tokens as a Side x Side grid.
func ReshapeTokens(tokens *mat.Dense) (*Spatial, error) {
	if tokens == nil {
		return nil, &ShapeMismatchError{Reason: "no activation"}
	}
	t, c := tokens.Dims()
	p := t - 1
	if p <= 0 {
		return nil, &ShapeMismatchError{Tokens: p, Reason: "no spatial tokens"}
	}
	side := int(math.Round(math.Sqrt(float64(p))))
	if side*side != p {
		return nil, &ShapeMismatchError{Tokens: p, Reason: "token count is not a perfect square"}
	}

	var channels mat.Dense
	channels.CloneFrom(tokens.Slice(1, t, 0, c).T())
	return &Spatial{Side: side, Channels: &channels}, nil
}
