package saliency

// resizeBilinear resamples a row-major sw x sh grid to dw x dh using pixel
// centres, clamping at the edges.
func resizeBilinear(src []float64, sw, sh, dw, dh int) []float64 {
	dst := make([]float64, dw*dh)
	scaleX := float64(sw) / float64(dw)
	scaleY := float64(sh) / float64(dh)

	for y := 0; y < dh; y++ {
		y0, y1, wy := sampleAxis(y, scaleY, sh)
		for x := 0; x < dw; x++ {
			x0, x1, wx := sampleAxis(x, scaleX, sw)
			top := (1-wx)*src[y0*sw+x0] + wx*src[y0*sw+x1]
			bottom := (1-wx)*src[y1*sw+x0] + wx*src[y1*sw+x1]
			dst[y*dw+x] = (1-wy)*top + wy*bottom
		}
	}
	return dst
}

func sampleAxis(i int, scale float64, n int) (lo, hi int, w float64) {
	f := (float64(i)+0.5)*scale - 0.5
	if f < 0 {
		f = 0
	}
	lo = int(f)
	if lo >= n-1 {
		return n - 1, n - 1, 0
	}
	return lo, lo + 1, f - float64(lo)
}
