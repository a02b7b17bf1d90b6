package cmd

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/andresmejia3/keyframer/internal/config"
	"github.com/andresmejia3/keyframer/internal/encoder"
	"github.com/andresmejia3/keyframer/internal/imaging"
	"github.com/andresmejia3/keyframer/internal/keyframe"
	"github.com/andresmejia3/keyframer/internal/logging"
	"github.com/andresmejia3/keyframer/internal/metrics"
	"github.com/andresmejia3/keyframer/internal/objectstore"
	"github.com/andresmejia3/keyframer/internal/sampler"
	"github.com/andresmejia3/keyframer/internal/store"
	"github.com/andresmejia3/keyframer/internal/telemetry"
	"github.com/andresmejia3/keyframer/internal/types"
	"github.com/andresmejia3/keyframer/internal/utils"
	"github.com/andresmejia3/keyframer/internal/writer"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ManifestJSONName is written next to the keyframes.
const ManifestJSONName = "manifest.json"

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract a small set of visually distinct keyframes from a video",
	Long: "Samples the video at a fixed interval, then alternates a perceptual-hash/SSIM filter and an " +
		"embedding filter with tightening thresholds until the frame budget or iteration cap is reached.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runExtract(cmd.Context(), cfg.Extract)
	},
}

func init() {
	f := extractCmd.Flags()
	f.StringP("input", "i", "", "Path to video")
	f.StringP("output", "o", "outputs/keyframes", "Directory for keyframe images")
	f.String("manifest", "outputs/keyframes.csv", "CSV manifest path (keyframe,timestamp)")
	f.Duration("interval", 10*time.Second, "Time between sampled frames")
	f.Float64("default-fps", utils.DefaultFPS, "Frame rate to assume when the video's cannot be probed")
	f.Int("min-frames", 10, "Stop reducing once fewer than this many frames remain")
	f.Int("max-iter", 10, "Maximum number of reduction rounds")
	f.Int("hash-threshold", 5, "Initial Hamming distance at or below which frames are duplicates")
	f.Float64("ssim-threshold", 0.95, "Initial SSIM above which frames are duplicates")
	f.Float64("clip-threshold", 0.90, "Initial embedding cosine similarity above which frames are duplicates")
	f.String("hasher", "phash", "Perceptual hash: phash or dhash")
	f.Int("batch-size", keyframe.DefaultBatchSize, "Images per encoder call")
	f.IntP("workers", "w", 0, "Parallel hash/thumbnail/encoder workers (default: number of CPUs)")
	f.Int("quality", writer.DefaultQuality, "JPEG quality of saved keyframes")
	f.Bool("persist", false, "Store the video, keyframes and embeddings in PostgreSQL")
	f.String("upload-bucket", "", "Upload keyframes and manifests to this S3-compatible bucket")
	addEncoderFlags(f)

	rootCmd.AddCommand(extractCmd)
}

// validateExtractFlags rejects settings that would fail only after the video is decoded.
func validateExtractFlags(opts config.ExtractConfig) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	if _, err := imaging.NewHasher(opts.Hasher); err != nil {
		return err
	}
	info, err := os.Stat(opts.Input)
	if err != nil {
		return fmt.Errorf("input video: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("input video %s is a directory", opts.Input)
	}
	return nil
}

// runExtract orchestrates sampling, reduction, writing and the optional persistence and upload.
func runExtract(ctx context.Context, opts config.ExtractConfig) error {
	if err := validateExtractFlags(opts); err != nil {
		utils.ShowError("Invalid extract options", err, nil)
		return err
	}

	ctx, span := telemetry.Tracer().Start(ctx, "extract", trace.WithAttributes(
		attribute.String("video", opts.Input),
		attribute.String("interval", opts.Interval.String()),
	))
	defer span.End()
	start := time.Now()

	videoID, err := utils.GenerateVideoID(opts.Input)
	if err != nil {
		utils.ShowError("Failed to generate video ID", err, nil)
		return err
	}
	runID := uuid.New()
	fmt.Fprintf(os.Stderr, "📼 Processing Video ID: %s (run %s)\n", videoID[:12], runID)

	hasher, _ := imaging.NewHasher(opts.Hasher)
	enc, err := newEncoder(ctx, opts.EncoderConfig, opts.Workers)
	if err != nil {
		utils.ShowError("Failed to start encoder", err, nil)
		return err
	}
	defer enc.Close()

	// 1. Sample
	res, err := sampleVideo(ctx, opts)
	if err != nil {
		utils.ShowError("Frame sampling failed", err, nil)
		return err
	}
	if res.FPSFallback {
		fmt.Fprintf(os.Stderr, "⚠️  Could not read the frame rate, assuming %.2f fps\n", res.FPS)
	}
	fmt.Fprintf(os.Stderr, "🎞️  Sampled %d frames (%.2f fps, every %d frames)\n", len(res.Records), res.FPS, res.Step)

	// 2. Reduce
	features := keyframe.Features{
		Hasher:      hasher,
		Thumbnailer: imaging.Thumbnailer{},
		Comparer:    imaging.SSIM{},
		Cache:       keyframe.NewCache(),
	}
	kept, report, err := reduceFrames(ctx, res.Records, opts, features, enc)
	if err != nil {
		utils.ShowError("Keyframe reduction failed", err, nil)
		return err
	}

	// 3. Write
	_, writeSpan := telemetry.Tracer().Start(ctx, "write")
	entries, err := writer.Write(kept, res.FPS, writer.Options{
		Dir:          opts.Output,
		ManifestPath: opts.Manifest,
		Quality:      opts.Quality,
	})
	writeSpan.End()
	if err != nil {
		utils.ShowError("Failed to write keyframes", err, nil)
		return err
	}
	metrics.KeyframesKeptTotal.Add(float64(len(entries)))

	manifestPath := filepath.Join(opts.Output, ManifestJSONName)
	err = writer.WriteJSON(manifestPath, writer.Manifest{
		RunID:      runID.String(),
		VideoID:    videoID,
		Video:      opts.Input,
		FPS:        res.FPS,
		Step:       res.Step,
		Sampled:    len(res.Records),
		Thresholds: report.Final,
		Rounds:     report.Rounds,
		Keyframes:  entries,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		utils.ShowError("Failed to write manifest", err, nil)
		return err
	}

	// 4. Persist
	if opts.Persist {
		if err := persistKeyframes(ctx, videoID, runID, opts.Input, res.FPS, kept, entries, enc, features.Cache); err != nil {
			utils.ShowError("Failed to persist keyframes", err, nil)
			return err
		}
		fmt.Fprintf(os.Stderr, "🗄️  Stored %d keyframes in the database\n", len(entries))
	}

	// 5. Upload
	if opts.UploadBucket != "" {
		keys, err := uploadOutputs(ctx, opts, videoID)
		if err != nil {
			utils.ShowError("Upload failed", err, nil)
			return err
		}
		fmt.Fprintf(os.Stderr, "☁️  Uploaded %d objects to %s\n", len(keys), opts.UploadBucket)
	}

	span.SetAttributes(attribute.Int("keyframes", len(entries)), attribute.Int("rounds", len(report.Rounds)))
	logger.Info("extract finished", "video", opts.Input, "sampled", len(res.Records), "kept", len(entries), logging.Since(start))
	fmt.Fprintf(os.Stderr, "\n🏁 Extraction Complete. Kept %d keyframes out of %d sampled frames after %d rounds.\n",
		len(entries), len(res.Records), len(report.Rounds))
	fmt.Fprintf(os.Stderr, "   Keyframes: %s\n   Manifest:  %s\n", opts.Output, opts.Manifest)
	return nil
}

// sampleVideo decodes every interval-th frame behind a progress bar over the whole video.
func sampleVideo(ctx context.Context, opts config.ExtractConfig) (sampler.Result, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "sample")
	defer span.End()
	start := time.Now()

	totalVideoFrames := utils.GetTotalFrames(ctx, opts.Input)
	if totalVideoFrames <= 0 {
		// Fallback to a spinner if ffprobe cannot count frames
		totalVideoFrames = -1
	}
	bar := progressbar.NewOptions(totalVideoFrames,
		progressbar.OptionSetDescription("🔍 Sampling frames"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)

	res, err := sampler.Sample(ctx, opts.Input, sampler.Options{
		Interval:   opts.Interval,
		DefaultFPS: opts.DefaultFPS,
		OnFrame: func(index int) {
			bar.Set(index + 1)
			metrics.FramesSampledTotal.Inc()
		},
		Logger: logger,
	})
	bar.Finish()
	fmt.Fprintln(os.Stderr)
	metrics.StageDuration.WithLabelValues("sample").Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		return res, err
	}
	span.SetAttributes(attribute.Int("frames", len(res.Records)), attribute.Float64("fps", res.FPS))
	return res, nil
}

// reduceFrames runs the controller, printing one status line and one span per round.
func reduceFrames(ctx context.Context, records []types.Record, opts config.ExtractConfig, f keyframe.Features, enc keyframe.Encoder) ([]types.Record, keyframe.Report, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "reduce")
	defer span.End()
	start := time.Now()

	ro := keyframe.DefaultReduceOptions()
	ro.MinFrames = opts.MinFrames
	ro.MaxIterations = opts.MaxIterations
	ro.Initial = keyframe.Thresholds{
		Hash:      opts.HashThreshold,
		SSIM:      opts.SSIMThreshold,
		Embedding: opts.CLIPThreshold,
	}
	ro.BatchSize = opts.BatchSize
	ro.Workers = opts.Workers
	ro.Logger = logger
	ro.OnRound = func(r keyframe.Round) {
		_, rs := telemetry.Tracer().Start(ctx, "round",
			trace.WithTimestamp(time.Now().Add(-r.Duration)),
			trace.WithAttributes(
				attribute.Int("iteration", r.Iteration),
				attribute.Int("in", r.In),
				attribute.Int("out", r.Out),
				attribute.String("thresholds", r.Thresholds.String()),
			))
		rs.End()

		metrics.ReductionRoundsTotal.Inc()
		metrics.FramesDroppedTotal.WithLabelValues(metrics.StageHash).Add(float64(r.HashDropped))
		metrics.FramesDroppedTotal.WithLabelValues(metrics.StageSSIM).Add(float64(r.SSIMDropped))
		metrics.FramesDroppedTotal.WithLabelValues(metrics.StageEmbedding).Add(float64(r.EmbeddingDropped))
		fmt.Fprintf(os.Stderr, "Iter %d: %d frames\n", r.Iteration, r.Out)
	}

	kept, report, err := keyframe.Reduce(ctx, records, ro, f, enc)
	metrics.StageDuration.WithLabelValues("reduce").Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		return nil, report, err
	}
	if len(report.Rounds) == 0 {
		fmt.Fprintf(os.Stderr, "ℹ️  %d frames is already within the budget of %d, nothing to reduce\n", len(records), opts.MinFrames)
	}
	return kept, report, nil
}

func addEncoderFlags(f *pflag.FlagSet) {
	f.String("encoder", "thumbnail", "Embedding encoder: thumbnail (model-free pixel vector, does not match the same scene from a new angle), onnx (CLIP, needs a -tags onnx build) or process")
	f.String("model-path", "", "CLIP vision ONNX model (onnx encoder)")
	f.String("onnx-lib", "", "Path to libonnxruntime (onnx encoder)")
	f.String("encoder-cmd", "", "Command that starts an embedding worker (process encoder)")
}

func newEncoder(ctx context.Context, ec config.EncoderConfig, workers int) (encoder.Encoder, error) {
	name, args := ec.Args()
	enc, err := encoder.New(ctx, ec.Name, encoder.Options{
		ModelPath:   ec.ModelPath,
		LibraryPath: ec.LibraryPath,
		Command:     name,
		Args:        args,
		Workers:     workers,
	})
	if errors.Is(err, encoder.ErrUnavailable) {
		return nil, fmt.Errorf("%w (was the binary built with -tags onnx?)", err)
	}
	return enc, err
}

// keyframeEmbeddings reuses vectors the embedding filter already computed and encodes the rest.
func keyframeEmbeddings(ctx context.Context, records []types.Record, enc keyframe.Encoder, cache *keyframe.Cache) ([][]float64, error) {
	vecs := make([][]float64, len(records))
	var missing []int
	var imgs []image.Image
	for i, rec := range records {
		if v, ok := cache.Embedding(rec.Index); ok {
			vecs[i] = v
			continue
		}
		missing = append(missing, i)
		imgs = append(imgs, rec.Image)
	}
	if len(imgs) == 0 {
		return vecs, nil
	}
	out, err := enc.Embed(ctx, imgs)
	if err != nil {
		return nil, err
	}
	if len(out) != len(imgs) {
		return nil, fmt.Errorf("encoder returned %d vectors for %d images", len(out), len(imgs))
	}
	for j, i := range missing {
		vecs[i] = out[j]
	}
	return vecs, nil
}

func persistKeyframes(ctx context.Context, videoID string, runID uuid.UUID, path string, fps float64,
	kept []types.Record, entries []types.ManifestEntry, enc keyframe.Encoder, cache *keyframe.Cache) error {
	ctx, span := telemetry.Tracer().Start(ctx, "persist")
	defer span.End()

	db, err := openStore(ctx)
	if err != nil {
		return err
	}
	vecs, err := keyframeEmbeddings(ctx, kept, enc, cache)
	if err != nil {
		return fmt.Errorf("embed keyframes: %w", err)
	}
	if err := db.EnsureVideo(ctx, videoID, path, fps); err != nil {
		return fmt.Errorf("register video: %w", err)
	}
	frames := make([]store.Keyframe, len(entries))
	for i, e := range entries {
		frames[i] = store.Keyframe{Index: e.Index, Timestamp: e.Timestamp, Path: e.Path, Embedding: vecs[i]}
	}
	return db.ReplaceKeyframes(ctx, videoID, runID, frames)
}

func uploadOutputs(ctx context.Context, opts config.ExtractConfig, videoID string) ([]string, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "upload")
	defer span.End()

	up, err := objectstore.New(objectstore.Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
		Bucket:    opts.UploadBucket,
	})
	if err != nil {
		return nil, err
	}
	prefix := videoID[:12]
	keys, err := up.UploadDir(ctx, opts.Output, prefix)
	if err != nil {
		return keys, err
	}
	if opts.Manifest != "" {
		key := objectstore.ObjectKey(prefix, filepath.Base(opts.Manifest))
		if err := up.UploadFile(ctx, opts.Manifest, key); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}
