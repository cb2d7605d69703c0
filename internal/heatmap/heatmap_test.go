package heatmap

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"testing"

	"github.com/Brownie44l1/aigen-detector/internal/saliency"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniformMap(w, h int, v float64) *saliency.Map {
	values := make([]float64, w*h)
	for i := range values {
		values[i] = v
	}
	return &saliency.Map{Width: w, Height: h, Values: values}
}

func TestJet_Endpoints(t *testing.T) {
	lo := Jet.At(0)
	assert.InDelta(t, 0.5, lo.B, 1e-12)
	assert.Zero(t, lo.R)

	hi := Jet.At(1)
	assert.InDelta(t, 0.5, hi.R, 1e-12)
	assert.Zero(t, hi.B)

	warm := Jet.At(0.75)
	assert.InDelta(t, 1, warm.R, 1e-12)
	assert.Zero(t, warm.B)
}

func TestJet_ClampsOutOfRange(t *testing.T) {
	assert.Equal(t, Jet.At(0), Jet.At(-3))
	assert.Equal(t, Jet.At(0), Jet.At(math.NaN()))
	assert.Equal(t, Jet.At(1), Jet.At(7))
}

func TestNewCompositor_RejectsWeight(t *testing.T) {
	_, err := NewCompositor(1.5)
	assert.Error(t, err)
	_, err = NewCompositor(-0.1)
	assert.Error(t, err)
}

func TestComposite_OutputMatchesMapSize(t *testing.T) {
	c, err := NewCompositor(DefaultImageWeight)
	require.NoError(t, err)

	src := image.NewRGBA(image.Rect(0, 0, 40, 30))
	out, err := c.Composite(src, uniformMap(16, 12, 0.3))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 16, 12), out.Bounds())
	for i := 3; i < len(out.Pix); i += 4 {
		require.Equal(t, uint8(0xff), out.Pix[i])
	}
}

func TestComposite_RescalesByOverlayPeak(t *testing.T) {
	c, err := NewCompositor(DefaultImageWeight)
	require.NoError(t, err)

	// Black source and a zero map give (0, 0, 0.25), stretched to full blue.
	src := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := 3; i < len(src.Pix); i += 4 {
		src.Pix[i] = 0xff
	}
	out, err := c.Composite(src, uniformMap(8, 8, 0))
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 0, G: 0, B: 255, A: 255}, out.RGBAAt(3, 5))
}

func TestComposite_InvalidInput(t *testing.T) {
	c, err := NewCompositor(DefaultImageWeight)
	require.NoError(t, err)
	src := image.NewRGBA(image.Rect(0, 0, 8, 8))

	_, err = c.Composite(src, nil)
	assert.Error(t, err)
	_, err = c.Composite(src, &saliency.Map{Width: 4, Height: 4, Values: make([]float64, 3)})
	assert.Error(t, err)
	_, err = c.Composite(nil, uniformMap(4, 4, 0))
	assert.Error(t, err)
}

func TestEncodeJPEG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 24, 18))
	data, err := EncodeJPEG(img, 0)
	require.NoError(t, err)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 24, cfg.Width)
	assert.Equal(t, 18, cfg.Height)
}

func TestComposite_TranslucentSourceKeepsColour(t *testing.T) {
	c, err := NewCompositor(DefaultImageWeight)
	require.NoError(t, err)

	fill := func(a uint8) *image.NRGBA {
		img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
		for i := 0; i < len(img.Pix); i += 4 {
			copy(img.Pix[i:i+4], []uint8{180, 90, 30, a})
		}
		return img
	}
	m := uniformMap(16, 16, 0.6)

	opaque, err := c.Composite(fill(255), m)
	require.NoError(t, err)
	translucent, err := c.Composite(fill(40), m)
	require.NoError(t, err)
	assert.Equal(t, opaque.Pix, translucent.Pix)
}
