// Package keyframe reduces a dense, fixed-interval sample of video frames to a small set of
// visually and semantically distinct keyframes.
//
// Two filters do the work: a perceptual-hash gate backed by a windowed SSIM check, and an
// embedding filter comparing unit-norm encoder vectors. Reduce runs both repeatedly under a
// threshold schedule until a frame budget or an iteration cap is reached.
//
// The package performs no I/O. Hashing, thumbnailing, SSIM and embedding are capabilities
// supplied by the caller (see internal/imaging and internal/encoder).
package keyframe

import (
	"context"
	"errors"
	"image"
	"math/bits"
)

// ErrInvalidParams is returned when a filter or the controller receives out-of-range parameters.
var ErrInvalidParams = errors.New("invalid keyframe parameters")

// Hash is a fixed-size perceptual bit signature.
type Hash []uint64

// Distance is the Hamming distance between two hashes.
// Hashes of different lengths are compared as if the shorter one were zero-padded.
func (h Hash) Distance(o Hash) int {
	n := max(len(h), len(o))
	d := 0
	for i := 0; i < n; i++ {
		var a, b uint64
		if i < len(h) {
			a = h[i]
		}
		if i < len(o) {
			b = o[i]
		}
		d += bits.OnesCount64(a ^ b)
	}
	return d
}

// Hasher computes a perceptual hash of an image.
type Hasher interface {
	Hash(img image.Image) (Hash, error)
}

// Thumbnailer produces the small grayscale representation SSIM is computed on.
type Thumbnailer interface {
	Thumbnail(img image.Image) (*image.Gray, error)
}

// Comparer computes the structural similarity of two thumbnails.
type Comparer interface {
	Similarity(a, b *image.Gray) (float64, error)
}

// Encoder is a frozen visual encoder. Embed returns one vector per input image, in input order.
// Each vector depends only on its own image, never on the rest of the batch.
type Encoder interface {
	Dimensions() int
	Embed(ctx context.Context, imgs []image.Image) ([][]float64, error)
}

// Features bundles the primitives used by the Hash/SSIM filter.
type Features struct {
	Hasher      Hasher
	Thumbnailer Thumbnailer
	Comparer    Comparer
	// Cache may be nil, in which case every round recomputes hashes and thumbnails.
	Cache *Cache
}

// FilterStats counts what a single filter pass did.
type FilterStats struct {
	In               int
	Out              int
	HashDropped      int
	SSIMDropped      int
	EmbeddingDropped int
}
