package heatmap

import (
	"errors"
	"fmt"
	"image"

	"github.com/Brownie44l1/aigen-detector/internal/imaging"
	"github.com/Brownie44l1/aigen-detector/internal/saliency"
	colorful "github.com/lucasb-eyer/go-colorful"
	"github.com/nfnt/resize"
)

// DefaultImageWeight is the share of the source image in the overlay.
const DefaultImageWeight = 0.5

// Compositor blends a coloured saliency map over the source image.
type Compositor struct {
	imageWeight float64
	colormap    *Colormap
}

// NewCompositor returns a Compositor using the Jet colour map. imageWeight
// must lie in [0, 1].
func NewCompositor(imageWeight float64) (*Compositor, error) {
	if imageWeight < 0 || imageWeight > 1 {
		return nil, fmt.Errorf("image weight %v outside [0, 1]", imageWeight)
	}
	return &Compositor{imageWeight: imageWeight, colormap: Jet}, nil
}

// Composite returns an image of the map's size in which each pixel is
// (1-w)*heat + w*source, rescaled so the brightest channel reaches full scale.
func (c *Compositor) Composite(src image.Image, m *saliency.Map) (*image.RGBA, error) {
	if src == nil {
		return nil, errors.New("no source image")
	}
	if m == nil || m.Width <= 0 || m.Height <= 0 || len(m.Values) != m.Width*m.Height {
		return nil, errors.New("invalid saliency map")
	}
	if b := src.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, errors.New("empty source image")
	}

	flat := imaging.Opaque(src, src.Bounds())
	resized := resize.Resize(uint(m.Width), uint(m.Height), flat, resize.Bilinear)
	rb := resized.Bounds()

	overlay := make([]colorful.Color, m.Width*m.Height)
	peak := 0.0
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			px, _ := colorful.MakeColor(resized.At(rb.Min.X+x, rb.Min.Y+y))
			heat := c.colormap.At(m.At(x, y))
			o := heat.BlendRgb(px, c.imageWeight)
			overlay[y*m.Width+x] = o
			peak = max(peak, o.R, o.G, o.B)
		}
	}

	out := image.NewRGBA(image.Rect(0, 0, m.Width, m.Height))
	scale := 1.0
	if peak > 0 {
		scale = 1 / peak
	}
	for i, o := range overlay {
		o = colorful.Color{R: o.R * scale, G: o.G * scale, B: o.B * scale}.Clamped()
		r, g, b := o.RGB255()
		out.Pix[4*i+0] = r
		out.Pix[4*i+1] = g
		out.Pix[4*i+2] = b
		out.Pix[4*i+3] = 0xff
	}
	return out, nil
}
