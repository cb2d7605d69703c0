// Package heatmap renders saliency maps as colour overlays.
package heatmap

import (
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"
)

type keypoint struct {
	pos float64
	c   colorful.Color
}

// jetKeys are the control points of the JET colour map.
var jetKeys = []keypoint{
	{0, colorful.Color{R: 0, G: 0, B: 0.5}},
	{0.125, colorful.Color{R: 0, G: 0, B: 1}},
	{0.375, colorful.Color{R: 0, G: 1, B: 1}},
	{0.625, colorful.Color{R: 1, G: 1, B: 0}},
	{0.875, colorful.Color{R: 1, G: 0, B: 0}},
	{1, colorful.Color{R: 0.5, G: 0, B: 0}},
}

// Levels is the number of quantisation steps of a colour map.
const Levels = 256

// Colormap maps a value in [0, 1] to a colour through a fixed lookup table.
type Colormap [Levels]colorful.Color

// Jet is the blue-cyan-yellow-red map.
var Jet = buildColormap(jetKeys)

func buildColormap(keys []keypoint) *Colormap {
	var cm Colormap
	for i := range cm {
		cm[i] = interpolate(keys, float64(i)/float64(Levels-1))
	}
	return &cm
}

func interpolate(keys []keypoint, t float64) colorful.Color {
	for i := 0; i < len(keys)-1; i++ {
		a, b := keys[i], keys[i+1]
		if t >= a.pos && t <= b.pos {
			return a.c.BlendRgb(b.c, (t-a.pos)/(b.pos-a.pos))
		}
	}
	return keys[len(keys)-1].c
}

// At quantises v to one of the Levels entries. Out of range values clamp.
func (cm *Colormap) At(v float64) colorful.Color {
	i := int(v * (Levels - 1))
	if i < 0 || math.IsNaN(v) {
		i = 0
	}
	if i >= Levels {
		i = Levels - 1
	}
	return cm[i]
}
