package keyframe

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/andresmejia3/keyframer/internal/types"
)

// Schedule bounds applied each round by Thresholds.Tighten.
const (
	MinHashThreshold      = 1
	MinSSIMThreshold      = 0.5
	MaxEmbeddingThreshold = 0.99

	hashStep      = 1
	ssimStep      = 0.05
	embeddingStep = 0.03
)

// Thresholds is the controller's state between rounds. It is a value type:
// Tighten returns a new Thresholds and never modifies the receiver.
type Thresholds struct {
	Hash      int     `json:"hash"`
	SSIM      float64 `json:"ssim"`
	Embedding float64 `json:"embedding"`
}

// DefaultThresholds are the initial thresholds used when none are configured.
var DefaultThresholds = Thresholds{Hash: 5, SSIM: 0.95, Embedding: 0.90}

// Tighten moves every threshold one step along the schedule, clamped to its bound.
func (t Thresholds) Tighten() Thresholds {
	return Thresholds{
		Hash:      max(MinHashThreshold, t.Hash-hashStep),
		SSIM:      math.Max(MinSSIMThreshold, t.SSIM-ssimStep),
		Embedding: math.Min(MaxEmbeddingThreshold, t.Embedding+embeddingStep),
	}
}

func (t Thresholds) String() string {
	return fmt.Sprintf("hash<=%d ssim>%.2f emb>%.2f", t.Hash, t.SSIM, t.Embedding)
}

// ReduceOptions configures Reduce.
type ReduceOptions struct {
	MinFrames     int
	MaxIterations int
	Initial       Thresholds

	HashWindow      int
	EmbeddingWindow int
	BatchSize       int
	Workers         int

	// OnRound is called after each round, on the caller's goroutine.
	OnRound func(Round)
	Logger  *slog.Logger
}

// DefaultReduceOptions returns the stock frame budget, iteration cap, thresholds and windows.
func DefaultReduceOptions() ReduceOptions {
	return ReduceOptions{
		MinFrames:       10,
		MaxIterations:   10,
		Initial:         DefaultThresholds,
		HashWindow:      5,
		EmbeddingWindow: 5,
		BatchSize:       DefaultBatchSize,
	}
}

func (o ReduceOptions) validate() error {
	if o.MinFrames < 1 {
		return fmt.Errorf("%w: min frames must be >= 1, got %d", ErrInvalidParams, o.MinFrames)
	}
	if o.MaxIterations < 1 {
		return fmt.Errorf("%w: max iterations must be >= 1, got %d", ErrInvalidParams, o.MaxIterations)
	}
	return nil
}

// Round summarizes one controller iteration.
type Round struct {
	Iteration        int           `json:"iteration"`
	Thresholds       Thresholds    `json:"thresholds"`
	In               int           `json:"in"`
	Out              int           `json:"out"`
	HashDropped      int           `json:"hash_dropped"`
	SSIMDropped      int           `json:"ssim_dropped"`
	EmbeddingDropped int           `json:"embedding_dropped"`
	Duration         time.Duration `json:"duration_ns"`
}

// Report is what Reduce did, round by round.
type Report struct {
	Rounds []Round    `json:"rounds"`
	Final  Thresholds `json:"final_thresholds"`
}

// Reduce alternates the Hash/SSIM and embedding filters while at least MinFrames records remain
// and fewer than MaxIterations rounds have run, tightening the thresholds after every round.
// Running out of frames or iterations is a normal stop, not an error.
func Reduce(ctx context.Context, records []types.Record, opts ReduceOptions, f Features, enc Encoder) ([]types.Record, Report, error) {
	var report Report
	if err := opts.validate(); err != nil {
		return nil, report, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	filtered := records
	t := opts.Initial

	for iteration := 0; len(filtered) >= opts.MinFrames && iteration < opts.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, report, err
		}

		next, round, err := runRound(ctx, filtered, t, opts, f, enc)
		if err != nil {
			return nil, report, fmt.Errorf("round %d: %w", iteration+1, err)
		}
		round.Iteration = iteration + 1
		report.Rounds = append(report.Rounds, round)

		logger.Debug("reduction round",
			"iteration", round.Iteration,
			"in", round.In,
			"out", round.Out,
			"thresholds", t.String(),
			"duration", round.Duration)
		if opts.OnRound != nil {
			opts.OnRound(round)
		}

		filtered = next
		t = t.Tighten()
	}

	report.Final = t
	return filtered, report, nil
}

func runRound(ctx context.Context, records []types.Record, t Thresholds, opts ReduceOptions, f Features, enc Encoder) ([]types.Record, Round, error) {
	start := time.Now()
	round := Round{Thresholds: t, In: len(records)}

	afterHash, hs, err := HashSSIM(ctx, records, HashSSIMParams{
		HashThreshold: t.Hash,
		SSIMThreshold: t.SSIM,
		Window:        opts.HashWindow,
		Workers:       opts.Workers,
	}, f)
	if err != nil {
		return nil, round, err
	}

	afterEmb, es, err := Embedding(ctx, afterHash, EmbeddingParams{
		Threshold: t.Embedding,
		Window:    opts.EmbeddingWindow,
		BatchSize: opts.BatchSize,
	}, enc, f.Cache)
	if err != nil {
		return nil, round, err
	}

	round.Out = len(afterEmb)
	round.HashDropped = hs.HashDropped
	round.SSIMDropped = hs.SSIMDropped
	round.EmbeddingDropped = es.EmbeddingDropped
	round.Duration = time.Since(start)
	return afterEmb, round, nil
}
