package keyframe

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestThresholdsTighten(t *testing.T) {
	start := Thresholds{Hash: 5, SSIM: 0.95, Embedding: 0.90}
	next := start.Tighten()

	if next.Hash != 4 || math.Abs(next.SSIM-0.90) > 1e-9 || math.Abs(next.Embedding-0.93) > 1e-9 {
		t.Errorf("Tighten() = %+v", next)
	}
	if start != (Thresholds{Hash: 5, SSIM: 0.95, Embedding: 0.90}) {
		t.Errorf("Tighten() modified its receiver: %+v", start)
	}
}

func TestThresholdsScheduleBounds(t *testing.T) {
	th := DefaultThresholds
	for i := 0; i < 100; i++ {
		th = th.Tighten()
		if th.Hash < MinHashThreshold || th.SSIM < MinSSIMThreshold || th.Embedding > MaxEmbeddingThreshold {
			t.Fatalf("Schedule escaped its bounds after %d steps: %+v", i+1, th)
		}
	}
	if th.Hash != 1 || th.SSIM != 0.5 || th.Embedding != 0.99 {
		t.Errorf("Expected the schedule to settle on its bounds, got %+v", th)
	}
}

// twentyRecords builds frames 0-4 identical, 5-9 identical, 10-19 mutually distinct.
func twentyRecords() []fakeFrame {
	var frames []fakeFrame
	for i := 0; i < 5; i++ {
		frames = append(frames, same(0))
	}
	for i := 0; i < 5; i++ {
		frames = append(frames, same(1))
	}
	for i := 0; i < 10; i++ {
		frames = append(frames, same(2+i))
	}
	return frames
}

func TestReduceTwentyRecordScenario(t *testing.T) {
	f, _, _, _ := newFeatures(NewCache())
	opts := DefaultReduceOptions()
	opts.MinFrames = 3
	opts.MaxIterations = 1

	got, report, err := Reduce(context.Background(), recordsOf(twentyRecords()...), opts, f, &fakeEncoder{dims: 32})
	if err != nil {
		t.Fatalf("Reduce() error = %v", err)
	}
	if len(got) != 12 {
		t.Fatalf("Expected 12 keyframes, got %d: %v", len(got), indices(got))
	}
	if got[0].Index != 0 || got[1].Index != 50 {
		t.Errorf("Expected the first frame of each duplicate group, got %v", indices(got[:2]))
	}
	if len(report.Rounds) != 1 || report.Rounds[0].HashDropped != 8 {
		t.Errorf("Unexpected report %+v", report)
	}
}

func TestReduceStopsBelowMinFrames(t *testing.T) {
	f, _, _, _ := newFeatures(NewCache())
	opts := DefaultReduceOptions()
	opts.MinFrames = 3

	records := recordsOf(same(0), same(0), same(0), same(0), same(0))
	got, report, err := Reduce(context.Background(), records, opts, f, &fakeEncoder{dims: 4})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || len(report.Rounds) != 1 {
		t.Errorf("Expected a single round leaving 1 frame, got %d frames after %d rounds", len(got), len(report.Rounds))
	}
}

func TestReduceSkipsWhenAlreadyBelowBudget(t *testing.T) {
	f, h, _, _ := newFeatures(nil)
	opts := DefaultReduceOptions()

	records := recordsOf(same(0), same(0))
	got, report, err := Reduce(context.Background(), records, opts, f, &fakeEncoder{dims: 4})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || len(report.Rounds) != 0 || h.calls.Load() != 0 {
		t.Errorf("Expected input returned untouched, got %d frames, %d rounds", len(got), len(report.Rounds))
	}
	if report.Final != opts.Initial {
		t.Errorf("Thresholds should not move without a round, got %+v", report.Final)
	}
}

func TestReduceTerminatesAtIterationCap(t *testing.T) {
	f, _, _, _ := newFeatures(NewCache())
	opts := DefaultReduceOptions()
	opts.MinFrames = 1
	opts.MaxIterations = 4

	var frames []fakeFrame
	for i := 0; i < 30; i++ {
		frames = append(frames, same(i))
	}

	var seen []int
	opts.OnRound = func(r Round) { seen = append(seen, r.Iteration) }

	got, report, err := Reduce(context.Background(), recordsOf(frames...), opts, f, &fakeEncoder{dims: 64})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Rounds) != 4 || len(seen) != 4 || seen[3] != 4 {
		t.Errorf("Expected exactly 4 rounds, got %d (callbacks %v)", len(report.Rounds), seen)
	}
	if len(got) != 30 {
		t.Errorf("Distinct frames should all survive, got %d", len(got))
	}

	want := DefaultThresholds
	for i := 0; i < 4; i++ {
		if report.Rounds[i].Thresholds != want {
			t.Errorf("Round %d used %+v, want %+v", i+1, report.Rounds[i].Thresholds, want)
		}
		want = want.Tighten()
	}
	if report.Final != want {
		t.Errorf("Final thresholds %+v, want %+v", report.Final, want)
	}
}

func TestReduceRejectsInvalidOptions(t *testing.T) {
	f, _, _, _ := newFeatures(nil)
	tests := []struct {
		name string
		mod  func(*ReduceOptions)
	}{
		{name: "Zero min frames", mod: func(o *ReduceOptions) { o.MinFrames = 0 }},
		{name: "Zero iterations", mod: func(o *ReduceOptions) { o.MaxIterations = 0 }},
		{name: "Zero hash window", mod: func(o *ReduceOptions) { o.MinFrames = 1; o.HashWindow = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultReduceOptions()
			tt.mod(&opts)
			_, _, err := Reduce(context.Background(), recordsOf(same(0), same(1)), opts, f, &fakeEncoder{dims: 4})
			if !errors.Is(err, ErrInvalidParams) {
				t.Errorf("Expected ErrInvalidParams, got %v", err)
			}
		})
	}
}

func TestReducePropagatesEncoderFailure(t *testing.T) {
	f, _, _, _ := newFeatures(nil)
	opts := DefaultReduceOptions()
	opts.MinFrames = 1

	_, _, err := Reduce(context.Background(), recordsOf(same(0), same(1)), opts, f, &fakeEncoder{dims: 4, err: errBoom})
	if !errors.Is(err, errBoom) {
		t.Errorf("Expected encoder failure to surface, got %v", err)
	}
}

func TestReduceHonoursCancellation(t *testing.T) {
	f, _, _, _ := newFeatures(nil)
	opts := DefaultReduceOptions()
	opts.MinFrames = 1

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := Reduce(ctx, recordsOf(same(0), same(1)), opts, f, &fakeEncoder{dims: 4})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
