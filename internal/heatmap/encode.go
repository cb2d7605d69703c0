package heatmap

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
)

// DefaultJPEGQuality is used when no quality is configured.
const DefaultJPEGQuality = 90

// EncodeJPEG serialises img as a JPEG.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 {
		quality = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode heatmap: %w", err)
	}
	return buf.Bytes(), nil
}
