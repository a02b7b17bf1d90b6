package encoder

import (
	"image"

	"golang.org/x/image/draw"
)

// ClipInputSize is the square resolution CLIP vision towers expect.
const ClipInputSize = 224

var (
	clipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// PreprocessCLIP applies CLIP's image transform and writes the result into dst in CHW order.
// The shorter side is resized to ClipInputSize with bicubic filtering, the center is cropped and
// each channel is normalized with the CLIP mean and std. dst must hold 3*224*224 values.
func PreprocessCLIP(img image.Image, dst []float32) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	var rw, rh int
	if w < h {
		rw, rh = ClipInputSize, max(ClipInputSize, h*ClipInputSize/w)
	} else {
		rw, rh = max(ClipInputSize, w*ClipInputSize/h), ClipInputSize
	}

	resized := image.NewRGBA(image.Rect(0, 0, rw, rh))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, b, draw.Src, nil)

	x0 := (rw - ClipInputSize) / 2
	y0 := (rh - ClipInputSize) / 2
	plane := ClipInputSize * ClipInputSize
	for y := 0; y < ClipInputSize; y++ {
		row := resized.PixOffset(x0, y0+y)
		for x := 0; x < ClipInputSize; x++ {
			px := resized.Pix[row+4*x : row+4*x+3]
			i := y*ClipInputSize + x
			for c := 0; c < 3; c++ {
				dst[c*plane+i] = (float32(px[c])/255 - clipMean[c]) / clipStd[c]
			}
		}
	}
}

// clipBatch preprocesses imgs into one contiguous NCHW buffer.
func clipBatch(imgs []image.Image) []float32 {
	per := 3 * ClipInputSize * ClipInputSize
	data := make([]float32, len(imgs)*per)
	for i, img := range imgs {
		PreprocessCLIP(img, data[i*per:(i+1)*per])
	}
	return data
}
