// Package sampler decodes a video at a fixed time interval into ordered Records.
package sampler

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/andresmejia3/keyframer/internal/types"
	"github.com/andresmejia3/keyframer/internal/utils"
)

const megabyte = 1024 * 1024

// Options configures Sample.
type Options struct {
	// Interval is the time between sampled frames.
	Interval time.Duration
	// DefaultFPS replaces a frame rate that cannot be probed. Zero means utils.DefaultFPS.
	DefaultFPS float64
	// OnFrame, when set, is called with the decode index of every sampled frame.
	OnFrame func(index int)
	Logger  *slog.Logger
}

// Result is the output of one sampling run.
type Result struct {
	Records []types.Record
	FPS     float64
	Step    int
	// FPSFallback reports that FPS is the default rather than the probed rate.
	FPSFallback bool
}

// Step converts a time interval into a decode-index stride, never less than 1.
func Step(fps float64, interval time.Duration) int {
	step := int(fps * interval.Seconds())
	if step < 1 {
		return 1
	}
	return step
}

// Sample probes the video's frame rate and decodes every Step-th frame through ffmpeg.
func Sample(ctx context.Context, path string, opts Options) (Result, error) {
	if opts.Interval <= 0 {
		return Result{}, fmt.Errorf("sample interval must be positive, got %s", opts.Interval)
	}
	if _, err := os.Stat(path); err != nil {
		return Result{}, fmt.Errorf("open video: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	defaultFPS := opts.DefaultFPS
	if defaultFPS <= 0 {
		defaultFPS = utils.DefaultFPS
	}

	res := Result{}
	fps, err := utils.GetVideoFPS(ctx, path)
	if err != nil {
		logger.Warn("could not determine frame rate, using default", "video", path, "default_fps", defaultFPS, "err", err)
		fps = defaultFPS
		res.FPSFallback = true
	}
	res.FPS = fps
	res.Step = Step(fps, opts.Interval)

	ffmpeg := utils.NewFFmpegCmd(ctx, path, res.Step)
	ffmpegOut, err := ffmpeg.StdoutPipe()
	if err != nil {
		return res, fmt.Errorf("create ffmpeg stdout pipe: %w", err)
	}
	if err := ffmpeg.Start(); err != nil {
		return res, fmt.Errorf("start ffmpeg: %w", err)
	}
	logger.Debug("sampling", "video", path, "fps", fps, "step", res.Step)

	records, decodeErr := DecodeStream(ffmpegOut, res.Step, opts.OnFrame)
	if decodeErr != nil {
		// Stop ffmpeg so Wait does not block on a full pipe
		ffmpeg.Process.Kill()
		ffmpeg.Wait()
		return res, decodeErr
	}
	if err := ffmpeg.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		return res, fmt.Errorf("ffmpeg failed: %w: %s", err, strings.TrimSpace(ffmpeg.Stderr.String()))
	}

	res.Records = records
	return res, nil
}

// DecodeStream splits a concatenated MJPEG stream and decodes each frame. The k-th frame in the
// stream is assigned Index k*step. Any undecodable frame aborts the stream.
func DecodeStream(r io.Reader, step int, onFrame func(index int)) ([]types.Record, error) {
	if step < 1 {
		return nil, errors.New("step must be >= 1")
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)

	var records []types.Record
	for k := 0; scanner.Scan(); k++ {
		index := k * step
		img, err := jpeg.Decode(bytes.NewReader(scanner.Bytes()))
		if err != nil {
			return nil, fmt.Errorf("decode frame %d: %w", index, err)
		}
		records = append(records, types.Record{Index: index, Image: img})
		if onFrame != nil {
			onFrame(index)
		}
	}
	// Check for scanner errors (e.g. token too long, unexpected EOF)
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("frame scanner failed: %w", err)
	}
	return records, nil
}
