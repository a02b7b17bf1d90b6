package imaging

import (
	"errors"
	"image"

	"golang.org/x/image/draw"
)

// ThumbnailSize is the side of the square grayscale image SSIM is computed on.
const ThumbnailSize = 128

// Thumbnailer downsamples frames to a fixed-size grayscale image with bilinear filtering.
type Thumbnailer struct {
	// Size overrides ThumbnailSize when positive.
	Size int
}

func (t Thumbnailer) Thumbnail(img image.Image) (*image.Gray, error) {
	size := t.Size
	if size <= 0 {
		size = ThumbnailSize
	}
	if img.Bounds().Empty() {
		return nil, errors.New("thumbnail: empty image")
	}
	dst := image.NewGray(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst, nil
}

// Resize scales img to w x h RGBA with the given interpolator.
func Resize(img image.Image, w, h int, interp draw.Interpolator) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	interp.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// Gray converts img to 8-bit grayscale at its original size.
func Gray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
