package model

import (
	"image"

	"github.com/Brownie44l1/aigen-detector/internal/imaging"
	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
)

// CLIP channel statistics, used when the model metadata does not carry its own.
var (
	ClipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	ClipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// DefaultImageSize is the working resolution of ViT-B/32 CLIP.
const DefaultImageSize = 224

// Preprocessor converts decoded images into the model's input tensor.
type Preprocessor struct {
	size int
	mean [3]float32
	std  [3]float32
}

// NewPreprocessor returns a preprocessor for square inputs of the given size.
// A zero std selects the CLIP statistics.
func NewPreprocessor(size int, mean, std [3]float32) *Preprocessor {
	if size <= 0 {
		size = DefaultImageSize
	}
	if std == ([3]float32{}) {
		mean, std = ClipMean, ClipStd
	}
	return &Preprocessor{size: size, mean: mean, std: std}
}

// Size is the side length of the produced tensor.
func (p *Preprocessor) Size() int { return p.size }

// Preprocess center-crops the largest square, resizes it to the working size,
// drops alpha and normalises each channel into a CHW tensor.
func (p *Preprocessor) Preprocess(img image.Image) (*ImageTensor, error) {
	if img == nil {
		return nil, &PreprocessError{Reason: "no image"}
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, &PreprocessError{Reason: "image has no pixels"}
	}

	// Crop the centred square in source coordinates first so the resize
	// never materialises the long side at working resolution.
	side := min(b.Dx(), b.Dy())
	x0 := b.Min.X + (b.Dx()-side)/2
	y0 := b.Min.Y + (b.Dy()-side)/2
	crop := imaging.Opaque(img, image.Rect(x0, y0, x0+side, y0+side))

	resized := resize.Resize(uint(p.size), uint(p.size), crop, resize.Bicubic)
	rb := resized.Bounds()
	if rb.Dx() != p.size || rb.Dy() != p.size {
		return nil, &PreprocessError{Reason: "resized image does not match the model input"}
	}

	src := image.NewRGBA(image.Rect(0, 0, p.size, p.size))
	draw.Copy(src, image.Point{}, resized, rb, draw.Src, nil)

	plane := p.size * p.size
	data := make([]float32, 3*plane)
	for y := 0; y < p.size; y++ {
		for x := 0; x < p.size; x++ {
			i := src.PixOffset(x, y)
			idx := y*p.size + x
			for c := 0; c < 3; c++ {
				v := float32(src.Pix[i+c]) / 255.0
				data[c*plane+idx] = (v - p.mean[c]) / p.std[c]
			}
		}
	}

	return &ImageTensor{Width: p.size, Height: p.size, Data: data, Source: src}, nil
}
