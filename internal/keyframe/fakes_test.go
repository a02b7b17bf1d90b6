package keyframe

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync/atomic"

	"github.com/andresmejia3/keyframer/internal/types"
)

// fakeFrame is a 1x1 image whose identity for each primitive is chosen independently,
// so a test can make two frames hash-distinct but structurally or semantically identical.
type fakeFrame struct {
	hashKey int
	simKey  int
	embKey  int
}

func (f fakeFrame) ColorModel() color.Model { return color.GrayModel }
func (f fakeFrame) Bounds() image.Rectangle { return image.Rect(0, 0, 1, 1) }
func (f fakeFrame) At(x, y int) color.Color { return color.Gray{Y: uint8(f.simKey)} }

// same returns a frame identical to every other frame built with the same key.
func same(key int) fakeFrame { return fakeFrame{hashKey: key, simKey: key, embKey: key} }

func recordsOf(frames ...fakeFrame) []types.Record {
	out := make([]types.Record, len(frames))
	for i, f := range frames {
		out[i] = types.Record{Index: i * 10, Image: f}
	}
	return out
}

func indices(records []types.Record) []int {
	out := make([]int, len(records))
	for i, r := range records {
		out[i] = r.Index
	}
	return out
}

// fakeHasher sets an 8-bit block per key: equal keys have distance 0, different keys 16.
type fakeHasher struct {
	calls atomic.Int64
	err   error
}

func (h *fakeHasher) Hash(img image.Image) (Hash, error) {
	h.calls.Add(1)
	if h.err != nil {
		return nil, h.err
	}
	k := img.(fakeFrame).hashKey
	out := make(Hash, 4)
	out[(k/8)%4] = 0xFF << (8 * (k % 8))
	return out, nil
}

type fakeThumbnailer struct{ calls atomic.Int64 }

func (t *fakeThumbnailer) Thumbnail(img image.Image) (*image.Gray, error) {
	t.calls.Add(1)
	g := image.NewGray(image.Rect(0, 0, 1, 1))
	g.Pix[0] = uint8(img.(fakeFrame).simKey)
	return g, nil
}

// fakeComparer reports 1 for equal thumbnails and 0 otherwise.
type fakeComparer struct {
	calls int
	err   error
}

func (c *fakeComparer) Similarity(a, b *image.Gray) (float64, error) {
	c.calls++
	if c.err != nil {
		return 0, c.err
	}
	if a.Pix[0] == b.Pix[0] {
		return 1, nil
	}
	return 0, nil
}

// fakeEncoder returns a one-hot vector per embKey.
type fakeEncoder struct {
	dims    int
	batches [][]int
	err     error
	short   bool
}

func (e *fakeEncoder) Dimensions() int { return e.dims }

func (e *fakeEncoder) Embed(ctx context.Context, imgs []image.Image) ([][]float64, error) {
	if e.err != nil {
		return nil, e.err
	}
	keys := make([]int, len(imgs))
	out := make([][]float64, len(imgs))
	for i, img := range imgs {
		k := img.(fakeFrame).embKey
		keys[i] = k
		v := make([]float64, e.dims)
		v[k%e.dims] = 1
		out[i] = v
	}
	e.batches = append(e.batches, keys)
	if e.short {
		return out[:len(out)-1], nil
	}
	return out, nil
}

func newFeatures(cache *Cache) (Features, *fakeHasher, *fakeThumbnailer, *fakeComparer) {
	h, t, c := &fakeHasher{}, &fakeThumbnailer{}, &fakeComparer{}
	return Features{Hasher: h, Thumbnailer: t, Comparer: c, Cache: cache}, h, t, c
}

var errBoom = errors.New("boom")
