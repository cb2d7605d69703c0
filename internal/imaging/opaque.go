// Package imaging holds pixel helpers shared by preprocessing and rendering.
package imaging

import (
	"image"

	"golang.org/x/image/draw"
)

// Opaque copies the r part of img into a new NRGBA anchored at the origin and
// drops the alpha channel. Translucent pixels keep their straight colour
// instead of being darkened by premultiplication.
func Opaque(img image.Image, r image.Rectangle) *image.NRGBA {
	r = r.Intersect(img.Bounds())
	dst := image.NewNRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))

	switch src := img.(type) {
	case *image.NRGBA:
		// Straight alpha already; copy rows so fully transparent pixels
		// keep their colour too.
		n := 4 * r.Dx()
		for y := 0; y < r.Dy(); y++ {
			i := src.PixOffset(r.Min.X, r.Min.Y+y)
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+n], src.Pix[i:i+n])
		}
	default:
		draw.Copy(dst, image.Point{}, img, r, draw.Src, nil)
	}

	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}
