// Package imaging implements the image primitives behind keyframe selection:
// perceptual hashes, grayscale thumbnails and structural similarity.
package imaging

import (
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/andresmejia3/keyframer/internal/keyframe"
	"github.com/corona10/goimagehash"
)

// ErrUnknownHasher is returned by NewHasher for an unsupported algorithm name.
var ErrUnknownHasher = errors.New("unknown hash algorithm")

// PHash is the 64-bit DCT perceptual hash.
type PHash struct{}

func (PHash) Hash(img image.Image) (keyframe.Hash, error) {
	h, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return nil, fmt.Errorf("phash: %w", err)
	}
	return keyframe.Hash{h.GetHash()}, nil
}

// DHashSide is the side of the grid the difference hash is computed on.
const DHashSide = 16

// DHash is the 256-bit horizontal gradient hash: one bit per neighbouring pixel pair of a
// 17x16 grayscale resize, set where brightness increases to the right.
type DHash struct{}

func (DHash) Hash(img image.Image) (keyframe.Hash, error) {
	if img.Bounds().Empty() {
		return nil, errors.New("dhash: empty image")
	}
	h, err := goimagehash.ExtDifferenceHash(img, DHashSide, DHashSide)
	if err != nil {
		return nil, fmt.Errorf("dhash: %w", err)
	}
	return keyframe.Hash(h.GetHash()), nil
}

// NewHasher selects a hash algorithm by name: "phash" (default) or "dhash".
func NewHasher(name string) (keyframe.Hasher, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "phash":
		return PHash{}, nil
	case "dhash":
		return DHash{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownHasher, name)
	}
}
