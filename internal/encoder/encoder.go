// Package encoder provides the frozen visual encoders used by the embedding filter.
package encoder

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/andresmejia3/keyframer/internal/keyframe"
)

var (
	// ErrUnavailable is returned when an encoder was not compiled in or cannot be started.
	ErrUnavailable = errors.New("encoder unavailable")
	// ErrUnknownEncoder is returned by New for an unrecognized encoder name.
	ErrUnknownEncoder = errors.New("unknown encoder")
)

// Encoder is a keyframe.Encoder that may hold native or process resources.
type Encoder interface {
	keyframe.Encoder
	Close() error
}

// Options configures New. Fields that do not apply to the selected encoder are ignored.
type Options struct {
	// ModelPath is the CLIP vision model for the onnx encoder.
	ModelPath string
	// LibraryPath points at libonnxruntime when it is not on the default search path.
	LibraryPath string
	// Command and Args start one external worker process for the process encoder.
	Command string
	Args    []string
	// Workers bounds parallelism. Zero means runtime.NumCPU().
	Workers int
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.NumCPU()
}

// New returns the encoder registered under name: "thumbnail" (default), "onnx" or "process".
func New(ctx context.Context, name string, opts Options) (Encoder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "thumbnail":
		return &Thumbnail{Workers: opts.workers()}, nil
	case "onnx", "clip":
		e, err := NewONNX(opts.ModelPath, opts.LibraryPath)
		if err != nil {
			return nil, err
		}
		return e, nil
	case "process":
		e, err := NewProcess(ctx, opts.Command, opts.Args, opts.workers())
		if err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoder, name)
	}
}
