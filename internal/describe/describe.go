// Package describe classifies saved keyframes as important or not with a vision-language model
// and extracts the text and informative visuals of the important ones.
package describe

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"

	"github.com/andresmejia3/keyframer/internal/types"
	"github.com/andresmejia3/keyframer/internal/vision"
)

// DefaultOutputDir is where results.json and important_frames.csv go by default.
var DefaultOutputDir = filepath.Join("outputs", "final_output")

// FrameExtensions lists the image types ListFrames picks up.
var FrameExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".tiff"}

// ListFrames returns the image files directly under dir, sorted by path.
func ListFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("folder %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		for _, want := range FrameExtensions {
			if ext == want {
				paths = append(paths, filepath.Join(dir, e.Name()))
				break
			}
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Options configures Process.
type Options struct {
	// Workers bounds frames in flight. Zero means runtime.NumCPU().
	Workers int
	// Faces is the face detector; nil means NoFaces.
	Faces FaceDetector
	// OnResult, when set, is called once per finished frame. Calls may come from any goroutine
	// but never concurrently.
	OnResult func(types.FrameResult)
	Logger   *slog.Logger
}

// Process runs every frame through feature extraction, importance and (for important frames)
// description. Per-frame failures are recorded in the result; only cancellation stops the run.
// Results are in input order.
func Process(ctx context.Context, model vision.Model, frames []string, opts Options) ([]types.FrameResult, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	faces := opts.Faces
	if faces == nil {
		faces = NoFaces{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	results := make([]types.FrameResult, len(frames))
	done := make(chan types.FrameResult)
	notified := make(chan struct{})
	go func() {
		defer close(notified)
		for r := range done {
			if opts.OnResult != nil {
				opts.OnResult(r)
			}
		}
	}()

	p := pool.New().WithMaxGoroutines(workers)
	for i, path := range frames {
		p.Go(func() {
			if ctx.Err() != nil {
				return
			}
			r := processSafely(ctx, model, path, faces, logger)
			results[i] = r
			done <- r
		})
	}
	p.Wait()
	close(done)
	<-notified

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// processSafely turns a panic anywhere in the frame's processing into an error result.
func processSafely(ctx context.Context, model vision.Model, path string, faces FaceDetector, logger *slog.Logger) (r types.FrameResult) {
	var pc panics.Catcher
	pc.Try(func() { r = ProcessFrame(ctx, model, path, faces, logger) })
	if rec := pc.Recovered(); rec != nil {
		err := rec.AsError()
		logger.Error("frame processing failed", "frame", path, "err", err)
		return types.FrameResult{
			Frame:      baseName(path),
			Path:       path,
			Importance: types.Errored,
			Reason:     fmt.Sprintf("Processing error: %v", err),
			Error:      err.Error(),
		}
	}
	return r
}

// ProcessFrame handles a single frame end to end.
func ProcessFrame(ctx context.Context, model vision.Model, path string, faces FaceDetector, logger *slog.Logger) types.FrameResult {
	fr := ExtractFeatures(path, faces)
	v := EvaluateImportance(ctx, model, fr)
	res := types.FrameResult{
		Frame:      fr.Name,
		Path:       path,
		Importance: v.Importance,
		Reason:     v.Reason,
	}
	if v.Importance != types.Important {
		return res
	}

	res.Description = Describe(ctx, model, fr)
	if res.Description == nil {
		logger.Warn("no description extracted for important frame, retrying", "frame", fr.Name)
		res.Description = DescribeDirect(ctx, model, fr)
	}
	return res
}

// Summary counts results by importance.
type Summary struct {
	Total        int
	Important    int
	NotImportant int
	Errored      int
}

func Summarize(results []types.FrameResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Importance {
		case types.Important:
			s.Important++
		case types.Errored:
			s.Errored++
		default:
			s.NotImportant++
		}
	}
	return s
}

func baseName(path string) string { return filepath.Base(path) }
