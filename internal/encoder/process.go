package encoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"sync/atomic"

	"github.com/andresmejia3/keyframer/internal/worker"
	"github.com/sourcegraph/conc/pool"
)

// embedder is the slice of worker.EncoderWorker that Process depends on.
type embedder interface {
	EmbedFrame(jpeg []byte) ([]float64, error)
	Close() error
}

// Process delegates embedding to a pool of external worker processes speaking the
// internal/worker protocol. Each image is shipped as a JPEG.
type Process struct {
	idle    chan embedder
	workers []embedder
	dims    atomic.Int64
}

// NewProcess starts n copies of command. If any fails to start, the ones already running are
// shut down.
func NewProcess(ctx context.Context, command string, args []string, n int) (*Process, error) {
	if command == "" {
		return nil, fmt.Errorf("%w: process encoder needs a command", ErrUnavailable)
	}
	ws := make([]embedder, 0, n)
	for i := 0; i < n; i++ {
		w, err := worker.NewEncoderWorker(ctx, i, command, args...)
		if err != nil {
			for _, started := range ws {
				started.Close()
			}
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		ws = append(ws, w)
	}
	return newProcess(ws), nil
}

func newProcess(ws []embedder) *Process {
	p := &Process{idle: make(chan embedder, len(ws)), workers: ws}
	for _, w := range ws {
		p.idle <- w
	}
	return p
}

// Dimensions reports the width of the vectors seen so far, or 0 before the first batch.
func (p *Process) Dimensions() int { return int(p.dims.Load()) }

func (p *Process) Embed(ctx context.Context, imgs []image.Image) ([][]float64, error) {
	out := make([][]float64, len(imgs))
	pl := pool.New().WithMaxGoroutines(len(p.workers)).WithContext(ctx).WithCancelOnError().WithFirstError()
	for i, img := range imgs {
		pl.Go(func(ctx context.Context) error {
			var buf bytes.Buffer
			if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
				return fmt.Errorf("encode frame %d: %w", i, err)
			}

			var w embedder
			select {
			case w = <-p.idle:
			case <-ctx.Done():
				return ctx.Err()
			}
			vec, err := w.EmbedFrame(buf.Bytes())
			p.idle <- w
			if err != nil {
				return fmt.Errorf("image %d: %w", i, err)
			}
			if len(vec) == 0 {
				return errors.New("worker returned an empty embedding")
			}
			p.dims.CompareAndSwap(0, int64(len(vec)))
			out[i] = vec
			return nil
		})
	}
	if err := pl.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Process) Close() error {
	var errs []error
	for _, w := range p.workers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
