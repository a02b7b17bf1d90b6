package encoder

import (
	"context"
	"image"

	"github.com/andresmejia3/keyframer/internal/imaging"
	"github.com/sourcegraph/conc/iter"
	"gonum.org/v1/gonum/floats"
)

// DefaultThumbnailSide is the side of the grayscale grid the thumbnail encoder flattens.
const DefaultThumbnailSide = 16

// Thumbnail is a deterministic, model-free encoder: a small grayscale thumbnail with its mean
// removed, flattened and scaled to unit length. Frames that differ only in overall brightness map
// to the same vector. It needs no weights, which makes it the default and the reference encoder
// in tests.
type Thumbnail struct {
	// Side overrides DefaultThumbnailSide when positive.
	Side int
	// Workers bounds concurrent images per batch. Zero means one goroutine per CPU.
	Workers int
}

func (t *Thumbnail) side() int {
	if t.Side > 0 {
		return t.Side
	}
	return DefaultThumbnailSide
}

func (t *Thumbnail) Dimensions() int {
	s := t.side()
	return s * s
}

func (t *Thumbnail) Embed(ctx context.Context, imgs []image.Image) ([][]float64, error) {
	mapper := iter.Mapper[image.Image, []float64]{MaxGoroutines: t.Workers}
	return mapper.MapErr(imgs, func(img *image.Image) ([]float64, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return t.embedOne(*img)
	})
}

func (t *Thumbnail) embedOne(img image.Image) ([]float64, error) {
	g, err := imaging.Thumbnailer{Size: t.side()}.Thumbnail(img)
	if err != nil {
		return nil, err
	}
	vec := make([]float64, len(g.Pix))
	for i, p := range g.Pix {
		vec[i] = float64(p)
	}

	floats.AddConst(-floats.Sum(vec)/float64(len(vec)), vec)
	n := floats.Norm(vec, 2)
	if n < 1e-9 {
		// Flat frames carry no structure; give them all the same direction.
		clear(vec)
		vec[0] = 1
		return vec, nil
	}
	floats.Scale(1/n, vec)
	return vec, nil
}

func (t *Thumbnail) Close() error { return nil }
