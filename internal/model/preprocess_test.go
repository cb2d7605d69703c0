package model

import (
	"errors"
	"image"
	"image/color"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniform(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestPreprocess_ShapeAndNormalisation(t *testing.T) {
	pre := NewPreprocessor(224, [3]float32{}, [3]float32{})
	x, err := pre.Preprocess(uniform(640, 480, color.RGBA{R: 255, G: 0, B: 128, A: 255}))
	require.NoError(t, err)

	assert.Equal(t, 224, x.Width)
	assert.Equal(t, 224, x.Height)
	assert.Len(t, x.Data, 3*224*224)
	assert.Equal(t, []int64{1, 3, 224, 224}, x.Shape())
	assert.Equal(t, image.Rect(0, 0, 224, 224), x.Source.Bounds())

	plane := 224 * 224
	center := 112*224 + 112
	assert.InDelta(t, (1-ClipMean[0])/ClipStd[0], x.Data[center], 2e-2)
	assert.InDelta(t, (0-ClipMean[1])/ClipStd[1], x.Data[plane+center], 2e-2)
	assert.InDelta(t, (128.0/255-ClipMean[2])/ClipStd[2], x.Data[2*plane+center], 2e-2)
}

func TestPreprocess_CenterCropsLongSide(t *testing.T) {
	img := uniform(300, 100, color.RGBA{A: 255})
	// Paint the outer thirds white; the crop keeps only the black middle.
	for y := 0; y < 100; y++ {
		for x := 0; x < 300; x++ {
			if x < 100 || x >= 200 {
				img.SetRGBA(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
			}
		}
	}
	pre := NewPreprocessor(32, [3]float32{}, [3]float32{1, 1, 1})
	x, err := pre.Preprocess(img)
	require.NoError(t, err)
	r, g, b, _ := x.Source.At(16, 16).RGBA()
	assert.Zero(t, r)
	assert.Zero(t, g)
	assert.Zero(t, b)
}

func TestPreprocess_Errors(t *testing.T) {
	pre := NewPreprocessor(224, [3]float32{}, [3]float32{})

	_, err := pre.Preprocess(nil)
	var perr *PreprocessError
	require.True(t, errors.As(err, &perr))

	_, err = pre.Preprocess(image.NewRGBA(image.Rect(0, 0, 0, 10)))
	require.True(t, errors.As(err, &perr))
}

func TestNewPreprocessor_Defaults(t *testing.T) {
	pre := NewPreprocessor(0, [3]float32{}, [3]float32{})
	assert.Equal(t, DefaultImageSize, pre.Size())
	assert.Equal(t, ClipStd, pre.std)
	assert.Equal(t, ClipMean, pre.mean)
}

func TestPreprocess_ExtremeAspectStaysBounded(t *testing.T) {
	pre := NewPreprocessor(224, [3]float32{}, [3]float32{})
	img := uniform(1, 4000, color.RGBA{R: 200, G: 100, B: 50, A: 255})

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	x, err := pre.Preprocess(img)
	runtime.ReadMemStats(&after)
	require.NoError(t, err)

	assert.Equal(t, 224, x.Width)
	assert.Equal(t, 224, x.Height)
	assert.Equal(t, image.Rect(0, 0, 224, 224), x.Source.Bounds())
	// Resizing the full strip first would allocate 224 rows per source row.
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(32<<20))
}

func TestPreprocess_DropsAlphaWithoutDarkening(t *testing.T) {
	fill := func(a uint8) *image.NRGBA {
		img := image.NewNRGBA(image.Rect(0, 0, 64, 48))
		for i := 0; i < len(img.Pix); i += 4 {
			copy(img.Pix[i:i+4], []uint8{200, 40, 10, a})
		}
		return img
	}
	pre := NewPreprocessor(32, [3]float32{}, [3]float32{})

	opaque, err := pre.Preprocess(fill(255))
	require.NoError(t, err)
	translucent, err := pre.Preprocess(fill(64))
	require.NoError(t, err)

	assert.Equal(t, opaque.Data, translucent.Data)
	px := translucent.Source.RGBAAt(16, 16)
	assert.InDelta(t, 200, int(px.R), 2)
	assert.InDelta(t, 40, int(px.G), 2)
	assert.InDelta(t, 10, int(px.B), 2)
	assert.Equal(t, uint8(255), px.A)
}
