package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/andresmejia3/keyframer/internal/config"
	"github.com/andresmejia3/keyframer/internal/describe"
	"github.com/andresmejia3/keyframer/internal/logging"
	"github.com/andresmejia3/keyframer/internal/metrics"
	"github.com/andresmejia3/keyframer/internal/telemetry"
	"github.com/andresmejia3/keyframer/internal/types"
	"github.com/andresmejia3/keyframer/internal/utils"
	"github.com/andresmejia3/keyframer/internal/vision"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var describeCmd = &cobra.Command{
	Use:   "describe",
	Short: "Classify keyframes by importance and describe the important ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runDescribe(cmd.Context(), cfg.Describe)
	},
}

func init() {
	f := describeCmd.Flags()
	f.StringP("frames", "f", "outputs/keyframes", "Directory of keyframe images")
	f.StringP("output", "o", describe.DefaultOutputDir, "Directory for important_frames.csv and results.json")
	f.String("vision", "ollama", "Vision model backend: ollama, openai or gemini")
	f.String("model", "", "Model name (default depends on the backend)")
	f.String("base-url", "", "Override the backend endpoint (Ollama host or OpenAI-compatible base URL)")
	f.String("face-cascade", "", "Haar cascade XML for face detection (requires a gocv build)")
	f.IntP("workers", "w", 0, "Frames processed in parallel (default: number of CPUs)")
	f.Bool("persist", false, "Store the results in PostgreSQL")
	rootCmd.AddCommand(describeCmd)
}

func runDescribe(ctx context.Context, opts config.DescribeConfig) error {
	if err := opts.Validate(); err != nil {
		utils.ShowError("Invalid describe options", err, nil)
		return err
	}

	frames, err := describe.ListFrames(opts.Frames)
	if err != nil {
		utils.ShowError("Failed to list frames", err, nil)
		return err
	}
	if len(frames) == 0 {
		fmt.Fprintf(os.Stderr, "❌ No images found in %s\n", opts.Frames)
		return nil
	}

	model, err := vision.New(ctx, vision.Config{
		Backend: opts.Vision,
		Model:   opts.Model,
		BaseURL: opts.BaseURL,
	})
	if err != nil {
		utils.ShowError("Failed to create vision model", err, nil)
		return err
	}
	if c, ok := model.(io.Closer); ok {
		defer c.Close()
	}

	faces, err := describe.NewFaceDetector(opts.FaceCascade)
	if err != nil {
		utils.ShowError("Failed to load face detector", err, nil)
		return err
	}
	defer faces.Close()

	ctx, span := telemetry.Tracer().Start(ctx, "describe", trace.WithAttributes(
		attribute.String("frames_dir", opts.Frames),
		attribute.String("backend", opts.Vision),
		attribute.Int("frames", len(frames)),
	))
	defer span.End()
	start := time.Now()

	fmt.Fprintf(os.Stderr, "🧠 Describing %d frames with %s...\n", len(frames), opts.Vision)
	bar := progressbar.NewOptions(len(frames),
		progressbar.OptionSetDescription("📝 Describing"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	results, err := describe.Process(ctx, model, frames, describe.Options{
		Workers: opts.Workers,
		Faces:   faces,
		OnResult: func(r types.FrameResult) {
			metrics.FramesDescribedTotal.WithLabelValues(r.Importance).Inc()
			bar.Add(1)
		},
		Logger: logger,
	})
	bar.Finish()
	fmt.Fprintln(os.Stderr)
	metrics.StageDuration.WithLabelValues("describe").Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		utils.ShowError("Description run interrupted", err, nil)
		return err
	}

	csvPath, jsonPath, err := describe.WriteOutputs(opts.Output, results)
	if err != nil {
		utils.ShowError("Failed to write results", err, nil)
		return err
	}

	if opts.Persist {
		db, err := openStore(ctx)
		if err == nil {
			err = db.SaveDescriptions(ctx, results)
		}
		if err != nil {
			utils.ShowError("Failed to persist descriptions", err, nil)
			return err
		}
		fmt.Fprintf(os.Stderr, "🗄️  Stored %d results in the database\n", len(results))
	}

	sum := describe.Summarize(results)
	span.SetAttributes(attribute.Int("important", sum.Important), attribute.Int("errored", sum.Errored))
	logger.Info("describe finished", "frames", sum.Total, "important", sum.Important, logging.Since(start))

	fmt.Fprintf(os.Stderr, "\n🏁 Processing Complete!\n")
	fmt.Fprintf(os.Stderr, "   Total frames processed: %d\n", sum.Total)
	fmt.Fprintf(os.Stderr, "   Important frames:       %d\n", sum.Important)
	fmt.Fprintf(os.Stderr, "   Not important frames:   %d\n", sum.NotImportant)
	if sum.Errored > 0 {
		fmt.Fprintf(os.Stderr, "   Errored frames:         %d\n", sum.Errored)
	}
	fmt.Fprintf(os.Stderr, "   CSV:  %s\n   JSON: %s\n", csvPath, jsonPath)
	return nil
}
