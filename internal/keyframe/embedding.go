package keyframe

import (
	"context"
	"fmt"
	"image"

	"github.com/andresmejia3/keyframer/internal/types"
	"gonum.org/v1/gonum/floats"
)

// DefaultBatchSize is how many images are handed to the encoder per call.
const DefaultBatchSize = 32

// EmbeddingParams configures one embedding pass.
type EmbeddingParams struct {
	// Threshold drops a frame whose cosine similarity to a recent keeper is strictly greater.
	Threshold float64
	// Window is how many of the most recent keepers each frame is compared with.
	Window int
	// BatchSize caps images per encoder call. Zero means DefaultBatchSize.
	BatchSize int
}

func (p EmbeddingParams) validate() error {
	if p.Window < 1 {
		return fmt.Errorf("%w: embedding window must be >= 1, got %d", ErrInvalidParams, p.Window)
	}
	if p.Threshold < -1 || p.Threshold > 1 {
		return fmt.Errorf("%w: embedding threshold must be in [-1,1], got %f", ErrInvalidParams, p.Threshold)
	}
	if p.BatchSize < 0 {
		return fmt.Errorf("%w: batch size must be >= 0, got %d", ErrInvalidParams, p.BatchSize)
	}
	return nil
}

// Embedding drops frames whose embedding is too close to one of the last Window kept embeddings.
// Encoder failures abort the pass; a batch is never partially applied.
func Embedding(ctx context.Context, records []types.Record, p EmbeddingParams, enc Encoder, cache *Cache) ([]types.Record, FilterStats, error) {
	stats := FilterStats{In: len(records)}
	if err := p.validate(); err != nil {
		return nil, stats, err
	}
	if len(records) == 0 {
		return []types.Record{}, stats, nil
	}

	embeddings, err := embedAll(ctx, records, enc, p.BatchSize, cache)
	if err != nil {
		return nil, stats, err
	}

	kept := make([]types.Record, 0, len(records))
	keptEmbeddings := make([][]float64, 0, len(records))

	for i, rec := range records {
		if closeToRecent(embeddings[i], keptEmbeddings, p.Window, p.Threshold) {
			stats.EmbeddingDropped++
			continue
		}
		kept = append(kept, rec)
		keptEmbeddings = append(keptEmbeddings, embeddings[i])
	}

	stats.Out = len(kept)
	return kept, stats, nil
}

// embedAll returns one unit-norm embedding per record, encoding cache misses in
// consecutive batches of at most batchSize.
func embedAll(ctx context.Context, records []types.Record, enc Encoder, batchSize int, cache *Cache) ([][]float64, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	out := make([][]float64, len(records))

	var missing []int
	for i, rec := range records {
		if v, ok := cache.Embedding(rec.Index); ok {
			out[i] = v
			continue
		}
		missing = append(missing, i)
	}

	for start := 0; start < len(missing); start += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+batchSize, len(missing))
		batch := missing[start:end]

		imgs := make([]image.Image, len(batch))
		for j, pos := range batch {
			imgs[j] = records[pos].Image
		}

		vecs, err := enc.Embed(ctx, imgs)
		if err != nil {
			return nil, fmt.Errorf("encode frames %d..%d: %w", records[batch[0]].Index, records[batch[len(batch)-1]].Index, err)
		}
		if len(vecs) != len(imgs) {
			return nil, fmt.Errorf("encoder returned %d embeddings for %d images", len(vecs), len(imgs))
		}

		for j, pos := range batch {
			idx := records[pos].Index
			v, err := unitNorm(vecs[j], enc.Dimensions())
			if err != nil {
				return nil, fmt.Errorf("embedding for frame %d: %w", idx, err)
			}
			cache.StoreEmbedding(idx, v)
			out[pos] = v
		}
	}
	return out, nil
}

// unitNorm returns an L2-normalized copy of v so the dot product equals cosine similarity.
func unitNorm(v []float64, dims int) ([]float64, error) {
	if dims > 0 && len(v) != dims {
		return nil, fmt.Errorf("expected %d dimensions, got %d", dims, len(v))
	}
	n := floats.Norm(v, 2)
	if n == 0 {
		return nil, fmt.Errorf("zero-length vector")
	}
	u := make([]float64, len(v))
	floats.ScaleTo(u, 1/n, v)
	return u, nil
}

func closeToRecent(v []float64, kept [][]float64, window int, threshold float64) bool {
	stop := max(0, len(kept)-window)
	for j := len(kept) - 1; j >= stop; j-- {
		if floats.Dot(v, kept[j]) > threshold {
			return true
		}
	}
	return false
}

// CosineSimilarity of two vectors of any norm. Zero vectors have similarity 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}
