package imaging

import (
	"fmt"
	"image"
)

// SSIM computes the mean structural similarity index of two equally sized grayscale images
// using a uniform square window and sample covariance. Only windows that fit entirely inside
// the image contribute to the mean.
type SSIM struct {
	// WindowSize is the side of the sliding window (odd). Zero means 7.
	WindowSize int
	// K1 and K2 stabilize the luminance and contrast terms. Zero means 0.01 and 0.03.
	K1, K2 float64
}

const dataRange = 255.0

func (s SSIM) params() (win int, k1, k2 float64) {
	win, k1, k2 = s.WindowSize, s.K1, s.K2
	if win <= 0 {
		win = 7
	}
	if k1 == 0 {
		k1 = 0.01
	}
	if k2 == 0 {
		k2 = 0.03
	}
	return win, k1, k2
}

// Similarity returns SSIM(a, b) in [-1, 1]; 1 means identical.
func (s SSIM) Similarity(a, b *image.Gray) (float64, error) {
	win, k1, k2 := s.params()
	if a.Bounds().Size() != b.Bounds().Size() {
		return 0, fmt.Errorf("ssim: size mismatch %v vs %v", a.Bounds().Size(), b.Bounds().Size())
	}
	w, h := a.Bounds().Dx(), a.Bounds().Dy()
	if w < win || h < win {
		return 0, fmt.Errorf("ssim: image %dx%d smaller than %dx%d window", w, h, win, win)
	}

	// Summed-area tables make every window sum O(1).
	sx := newIntegral(w, h)
	sy := newIntegral(w, h)
	sxx := newIntegral(w, h)
	syy := newIntegral(w, h)
	sxy := newIntegral(w, h)
	for y := 0; y < h; y++ {
		oa := a.PixOffset(a.Rect.Min.X, a.Rect.Min.Y+y)
		ob := b.PixOffset(b.Rect.Min.X, b.Rect.Min.Y+y)
		ra, rb := a.Pix[oa:oa+w], b.Pix[ob:ob+w]
		for x := 0; x < w; x++ {
			va, vb := int64(ra[x]), int64(rb[x])
			sx.add(x, y, va)
			sy.add(x, y, vb)
			sxx.add(x, y, va*va)
			syy.add(x, y, vb*vb)
			sxy.add(x, y, va*vb)
		}
	}

	np := float64(win * win)
	covNorm := np / (np - 1)
	c1 := (k1 * dataRange) * (k1 * dataRange)
	c2 := (k2 * dataRange) * (k2 * dataRange)

	var total float64
	var count int
	for y := 0; y+win <= h; y++ {
		for x := 0; x+win <= w; x++ {
			ux := float64(sx.sum(x, y, win)) / np
			uy := float64(sy.sum(x, y, win)) / np
			vx := covNorm * (float64(sxx.sum(x, y, win))/np - ux*ux)
			vy := covNorm * (float64(syy.sum(x, y, win))/np - uy*uy)
			vxy := covNorm * (float64(sxy.sum(x, y, win))/np - ux*uy)

			num := (2*ux*uy + c1) * (2*vxy + c2)
			den := (ux*ux + uy*uy + c1) * (vx + vy + c2)
			total += num / den
			count++
		}
	}
	return total / float64(count), nil
}

// integral is a (w+1)x(h+1) summed-area table with a zero first row and column.
type integral struct {
	w, h int
	v    []int64
}

func newIntegral(w, h int) *integral {
	return &integral{w: w, h: h, v: make([]int64, (w+1)*(h+1))}
}

// add must be called in row-major order.
func (t *integral) add(x, y int, val int64) {
	stride := t.w + 1
	i := (y+1)*stride + (x + 1)
	t.v[i] = val + t.v[i-1] + t.v[i-stride] - t.v[i-stride-1]
}

// sum over the win x win square whose top-left corner is (x, y).
func (t *integral) sum(x, y, win int) int64 {
	stride := t.w + 1
	x2, y2 := x+win, y+win
	return t.v[y2*stride+x2] - t.v[y*stride+x2] - t.v[y2*stride+x] + t.v[y*stride+x]
}
