package model_test

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/Brownie44l1/aigen-detector/internal/model"
	"github.com/Brownie44l1/aigen-detector/internal/model/reference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradientImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: uint8((x + y) % 256), A: 255})
		}
	}
	return img
}

func grayImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	return img
}

func newZeroShot(ref *reference.Model, labels model.Labels) *model.ZeroShot {
	pre := model.NewPreprocessor(224, [3]float32{}, [3]float32{})
	return model.NewZeroShot(pre, ref, ref, labels, ref.LogitScale())
}

func TestZeroShot_ProbabilitiesSumToOne(t *testing.T) {
	zs := newZeroShot(reference.New(reference.Config{}), model.DefaultLabels)

	for _, img := range []image.Image{gradientImage(300, 200), grayImage(224, 224), gradientImage(50, 400)} {
		p, err := zs.Classify(context.Background(), img)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, p.Real+p.AIGenerated, 1e-4)
		assert.GreaterOrEqual(t, p.Real, 0.0)
		assert.LessOrEqual(t, p.Real, 1.0)
		assert.GreaterOrEqual(t, p.AIGenerated, 0.0)
		assert.LessOrEqual(t, p.AIGenerated, 1.0)
	}
}

func TestZeroShot_Deterministic(t *testing.T) {
	zs := newZeroShot(reference.New(reference.Config{}), model.DefaultLabels)
	img := grayImage(224, 224)

	first, err := zs.Classify(context.Background(), img)
	require.NoError(t, err)
	second, err := zs.Classify(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestZeroShot_SwappedLabelsSwapProbabilities(t *testing.T) {
	ref := reference.New(reference.Config{})
	img := gradientImage(256, 256)

	p, err := newZeroShot(ref, model.Labels{"a real photo", "an ai generated image"}).Classify(context.Background(), img)
	require.NoError(t, err)
	swapped, err := newZeroShot(ref, model.Labels{"an ai generated image", "a real photo"}).Classify(context.Background(), img)
	require.NoError(t, err)

	assert.InDelta(t, p.Real, swapped.AIGenerated, 1e-12)
	assert.InDelta(t, p.AIGenerated, swapped.Real, 1e-12)
}

func TestZeroShot_TextEmbeddingsCached(t *testing.T) {
	ref := reference.New(reference.Config{})
	zs := newZeroShot(ref, model.DefaultLabels)

	for i := 0; i < 3; i++ {
		_, err := zs.Classify(context.Background(), grayImage(224, 224))
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), ref.TextCalls())

	emb, err := zs.TextEmbeddings(context.Background())
	require.NoError(t, err)
	assert.Len(t, emb, model.NumLabels)
}

func TestZeroShot_PreprocessError(t *testing.T) {
	zs := newZeroShot(reference.New(reference.Config{}), model.DefaultLabels)
	_, err := zs.Classify(context.Background(), image.NewRGBA(image.Rect(0, 0, 0, 0)))
	var perr *model.PreprocessError
	assert.ErrorAs(t, err, &perr)
}

func TestFineTuned_Classify(t *testing.T) {
	ref := reference.New(reference.Config{Head: true})
	pre := model.NewPreprocessor(224, [3]float32{}, [3]float32{})
	ft := model.NewFineTuned(pre, ref, model.DefaultLabels)

	p, err := ft.Classify(context.Background(), gradientImage(224, 224))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, p.Real+p.AIGenerated, 1e-4)
	assert.Equal(t, model.DefaultLabels, ft.Labels())

	aux, err := ft.AuxInputs(context.Background())
	require.NoError(t, err)
	assert.Nil(t, aux)
}
