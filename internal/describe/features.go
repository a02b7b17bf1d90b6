package describe

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	"gonum.org/v1/gonum/stat"

	"github.com/andresmejia3/keyframer/internal/imaging"
	"github.com/andresmejia3/keyframer/internal/types"
)

// darkLevel is the gray value below which a pixel counts as dark.
const darkLevel = 30

// Frame is a loaded frame ready to be shown to a model.
type Frame struct {
	Path     string
	Name     string
	Features types.FrameFeatures
	// JPEG is the frame re-encoded for the model; nil when loading failed.
	JPEG []byte
}

// ExtractFeatures loads path and computes the statistics the importance step uses.
// Failures are recorded in Features.Error rather than returned.
func ExtractFeatures(path string, faces FaceDetector) Frame {
	fr := Frame{Path: path, Name: baseName(path)}

	f, err := os.Open(path)
	if err != nil {
		fr.Features.Error = "Failed to load frame"
		return fr
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		fr.Features.Error = fmt.Sprintf("Feature extraction failed: %v", err)
		return fr
	}

	fr.Features = Features(img)
	if faces != nil {
		n, err := faces.CountFaces(imaging.Gray(img))
		if err != nil {
			fr.Features.Error = fmt.Sprintf("Feature extraction failed: %v", err)
			return fr
		}
		fr.Features.FaceCount = n
		fr.Features.HasFaces = n > 0
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		fr.Features.Error = fmt.Sprintf("Feature extraction failed: %v", err)
		return fr
	}
	fr.JPEG = buf.Bytes()
	return fr
}

// Features computes size, contrast (gray std), brightness (gray mean), dark ratio and the summed
// per-channel colour variance of img. Variances are population variances.
func Features(img image.Image) types.FrameFeatures {
	b := img.Bounds()
	n := b.Dx() * b.Dy()
	ft := types.FrameFeatures{Width: b.Dx(), Height: b.Dy()}
	if n == 0 {
		ft.Error = "Failed to load frame"
		return ft
	}

	gray := make([]float64, 0, n)
	rs := make([]float64, 0, n)
	gs := make([]float64, 0, n)
	bs := make([]float64, 0, n)
	dark := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			g := color.GrayModel.Convert(c).(color.Gray).Y
			if g < darkLevel {
				dark++
			}
			gray = append(gray, float64(g))
			rs = append(rs, float64(c.R))
			gs = append(gs, float64(c.G))
			bs = append(bs, float64(c.B))
		}
	}

	ft.Brightness, ft.Contrast = stat.PopMeanStdDev(gray, nil)
	ft.DarkRatio = float64(dark) / float64(n)
	for _, ch := range [][]float64{rs, gs, bs} {
		_, v := stat.PopMeanVariance(ch, nil)
		ft.ColorVariance += v
	}
	return ft
}
