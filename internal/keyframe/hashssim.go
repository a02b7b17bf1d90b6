package keyframe

import (
	"context"
	"fmt"
	"image"
	"runtime"

	"github.com/andresmejia3/keyframer/internal/types"
	"github.com/sourcegraph/conc/pool"
)

// HashSSIMParams configures one Hash/SSIM pass.
type HashSSIMParams struct {
	// HashThreshold is the largest Hamming distance still treated as a duplicate.
	HashThreshold int
	// SSIMThreshold drops a frame whose SSIM against a recent keeper is strictly greater.
	SSIMThreshold float64
	// Window is how many of the most recent keepers SSIM is checked against.
	Window int
	// Workers bounds parallel hash computation. Zero means runtime.NumCPU().
	Workers int
}

func (p HashSSIMParams) validate() error {
	if p.HashThreshold < 0 {
		return fmt.Errorf("%w: hash threshold must be >= 0, got %d", ErrInvalidParams, p.HashThreshold)
	}
	if p.Window < 1 {
		return fmt.Errorf("%w: ssim window must be >= 1, got %d", ErrInvalidParams, p.Window)
	}
	return nil
}

// HashSSIM drops frames that are near-duplicates of an earlier keeper.
//
// A frame whose hash is within HashThreshold of any kept frame's hash is dropped without
// further work. Otherwise its thumbnail is compared, most recent first, against the last
// Window keepers and dropped on the first SSIM above SSIMThreshold. The result is an
// order-preserving subsequence of records.
func HashSSIM(ctx context.Context, records []types.Record, p HashSSIMParams, f Features) ([]types.Record, FilterStats, error) {
	stats := FilterStats{In: len(records)}
	if err := p.validate(); err != nil {
		return nil, stats, err
	}
	if len(records) == 0 {
		return []types.Record{}, stats, nil
	}

	hashes, err := computeHashes(ctx, records, f.Hasher, f.Cache, p.Workers)
	if err != nil {
		return nil, stats, err
	}

	kept := make([]types.Record, 0, len(records))
	keptThumbs := make([]*image.Gray, 0, len(records))
	seenHashes := make([]Hash, 0, len(records))

	for i, rec := range records {
		if matchesAnyHash(hashes[i], seenHashes, p.HashThreshold) {
			stats.HashDropped++
			continue
		}

		thumb, err := thumbnail(rec, f)
		if err != nil {
			return nil, stats, err
		}

		similar, err := similarToRecent(thumb, keptThumbs, p.Window, p.SSIMThreshold, f.Comparer)
		if err != nil {
			return nil, stats, fmt.Errorf("ssim for frame %d: %w", rec.Index, err)
		}
		if similar {
			stats.SSIMDropped++
			continue
		}

		kept = append(kept, rec)
		keptThumbs = append(keptThumbs, thumb)
		seenHashes = append(seenHashes, hashes[i])
	}

	stats.Out = len(kept)
	return kept, stats, nil
}

// computeHashes hashes every record on a bounded pool. Results are stored by position,
// so callers always see them in sequence order.
func computeHashes(ctx context.Context, records []types.Record, hasher Hasher, cache *Cache, workers int) ([]Hash, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	out := make([]Hash, len(records))

	p := pool.New().WithMaxGoroutines(workers).WithContext(ctx).WithCancelOnError().WithFirstError()
	for i, rec := range records {
		if h, ok := cache.Hash(rec.Index); ok {
			out[i] = h
			continue
		}
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			h, err := hasher.Hash(rec.Image)
			if err != nil {
				return fmt.Errorf("hash frame %d: %w", rec.Index, err)
			}
			cache.StoreHash(rec.Index, h)
			out[i] = h
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func matchesAnyHash(h Hash, seen []Hash, threshold int) bool {
	for _, s := range seen {
		if h.Distance(s) <= threshold {
			return true
		}
	}
	return false
}

func thumbnail(rec types.Record, f Features) (*image.Gray, error) {
	if g, ok := f.Cache.Thumbnail(rec.Index); ok {
		return g, nil
	}
	g, err := f.Thumbnailer.Thumbnail(rec.Image)
	if err != nil {
		return nil, fmt.Errorf("thumbnail frame %d: %w", rec.Index, err)
	}
	f.Cache.StoreThumbnail(rec.Index, g)
	return g, nil
}

// similarToRecent walks the last window thumbnails newest first and stops at the first exceedance.
func similarToRecent(thumb *image.Gray, kept []*image.Gray, window int, threshold float64, cmp Comparer) (bool, error) {
	stop := max(0, len(kept)-window)
	for j := len(kept) - 1; j >= stop; j-- {
		s, err := cmp.Similarity(thumb, kept[j])
		if err != nil {
			return false, err
		}
		if s > threshold {
			return true, nil
		}
	}
	return false, nil
}
