package keyframe

import (
	"context"
	"errors"
	"math"
	"slices"
	"testing"
)

func TestEmbeddingDropsSemanticRepeats(t *testing.T) {
	enc := &fakeEncoder{dims: 16}
	records := recordsOf(same(1), same(1), same(2), same(3), same(3), same(1))
	got, stats, err := Embedding(context.Background(), records, EmbeddingParams{Threshold: 0.9, Window: 5}, enc, nil)
	if err != nil {
		t.Fatalf("Embedding() error = %v", err)
	}
	if want := []int{0, 20, 30}; !slices.Equal(indices(got), want) {
		t.Errorf("Embedding() kept %v, want %v", indices(got), want)
	}
	if stats.EmbeddingDropped != 3 || stats.In != 6 || stats.Out != 3 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestEmbeddingEmptyInput(t *testing.T) {
	enc := &fakeEncoder{dims: 4}
	got, _, err := Embedding(context.Background(), nil, EmbeddingParams{Threshold: 0.9, Window: 5}, enc, nil)
	if err != nil || len(got) != 0 {
		t.Errorf("Expected empty output, got %v, %v", got, err)
	}
	if len(enc.batches) != 0 {
		t.Errorf("Encoder should not be called for empty input")
	}
}

func TestEmbeddingWindowLimiting(t *testing.T) {
	// The repeat of frame 0 is separated by window+1 distinct keepers.
	const window = 3
	frames := []fakeFrame{same(0)}
	for i := 1; i <= window+1; i++ {
		frames = append(frames, same(i))
	}
	frames = append(frames, same(0))

	enc := &fakeEncoder{dims: 16}
	got, _, err := Embedding(context.Background(), recordsOf(frames...), EmbeddingParams{Threshold: 0.9, Window: window}, enc, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(frames) {
		t.Errorf("Expected the distant repeat to survive, kept %v", indices(got))
	}

	// With a window wide enough to reach frame 0 it is dropped.
	enc = &fakeEncoder{dims: 16}
	got, _, err = Embedding(context.Background(), recordsOf(frames...), EmbeddingParams{Threshold: 0.9, Window: window + 2}, enc, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(frames)-1 {
		t.Errorf("Expected the repeat to be dropped, kept %v", indices(got))
	}
}

func TestEmbeddingThresholdIsStrict(t *testing.T) {
	records := recordsOf(same(1), same(1))
	got, _, err := Embedding(context.Background(), records, EmbeddingParams{Threshold: 1, Window: 5}, &fakeEncoder{dims: 4}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("Similarity equal to the threshold must not drop, kept %v", indices(got))
	}
}

func TestEmbeddingBatching(t *testing.T) {
	frames := []fakeFrame{same(0), same(1), same(1), same(2), same(3), same(3), same(4)}

	var results [][]int
	for _, batch := range []int{1, 3, 7, 100} {
		enc := &fakeEncoder{dims: 8}
		got, _, err := Embedding(context.Background(), recordsOf(frames...), EmbeddingParams{Threshold: 0.9, Window: 5, BatchSize: batch}, enc, nil)
		if err != nil {
			t.Fatalf("batch %d: %v", batch, err)
		}
		results = append(results, indices(got))

		wantCalls := int(math.Ceil(float64(len(frames)) / float64(batch)))
		if len(enc.batches) != wantCalls {
			t.Errorf("batch %d: expected %d encoder calls, got %d", batch, wantCalls, len(enc.batches))
		}
		for _, b := range enc.batches {
			if len(b) > batch {
				t.Errorf("batch %d: encoder received %d images", batch, len(b))
			}
		}
	}

	for i := 1; i < len(results); i++ {
		if !slices.Equal(results[0], results[i]) {
			t.Errorf("Batch size changed the result: %v vs %v", results[0], results[i])
		}
	}
}

func TestEmbeddingEncoderFailures(t *testing.T) {
	records := recordsOf(same(0), same(1), same(2))

	t.Run("Error is propagated", func(t *testing.T) {
		enc := &fakeEncoder{dims: 4, err: errBoom}
		if _, _, err := Embedding(context.Background(), records, EmbeddingParams{Threshold: 0.9, Window: 5}, enc, nil); !errors.Is(err, errBoom) {
			t.Errorf("Expected encoder error, got %v", err)
		}
	})

	t.Run("Short batch is rejected", func(t *testing.T) {
		enc := &fakeEncoder{dims: 4, short: true}
		if _, _, err := Embedding(context.Background(), records, EmbeddingParams{Threshold: 0.9, Window: 5}, enc, nil); err == nil {
			t.Error("Expected an error for a short batch")
		}
	})
}

func TestEmbeddingUsesCache(t *testing.T) {
	cache := NewCache()
	records := recordsOf(same(0), same(1), same(2))
	enc := &fakeEncoder{dims: 4}
	p := EmbeddingParams{Threshold: 0.9, Window: 5}

	if _, _, err := Embedding(context.Background(), records, p, enc, cache); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Embedding(context.Background(), records, p, enc, cache); err != nil {
		t.Fatal(err)
	}
	if len(enc.batches) != 1 {
		t.Errorf("Expected a single encoder call, got %d", len(enc.batches))
	}
	if v, ok := cache.Embedding(10); !ok || v[1] != 1 {
		t.Errorf("Expected cached unit vector for frame 10, got %v", v)
	}
}

func TestEmbeddingRejectsInvalidParams(t *testing.T) {
	tests := []struct {
		name string
		p    EmbeddingParams
	}{
		{name: "Zero window", p: EmbeddingParams{Threshold: 0.5}},
		{name: "Threshold above one", p: EmbeddingParams{Threshold: 1.5, Window: 1}},
		{name: "Negative batch", p: EmbeddingParams{Threshold: 0.5, Window: 1, BatchSize: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Embedding(context.Background(), recordsOf(same(0)), tt.p, &fakeEncoder{dims: 4}, nil)
			if !errors.Is(err, ErrInvalidParams) {
				t.Errorf("Expected ErrInvalidParams, got %v", err)
			}
		})
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{name: "Identical", a: []float64{1, 0}, b: []float64{1, 0}, want: 1},
		{name: "Orthogonal", a: []float64{1, 0}, b: []float64{0, 1}, want: 0},
		{name: "Opposite", a: []float64{1, 0}, b: []float64{-1, 0}, want: -1},
		{name: "Unnormalized", a: []float64{1, 0}, b: []float64{5, 0}, want: 1},
		{name: "Empty", a: []float64{}, b: []float64{}, want: 0},
		{name: "Zero vector", a: []float64{0, 0}, b: []float64{1, 0}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CosineSimilarity(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}
