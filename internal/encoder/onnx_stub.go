//go:build !onnx
// +build !onnx

package encoder

import (
	"context"
	"fmt"
	"image"
)

// ONNX is only functional in builds with the onnx tag.
type ONNX struct{}

// NewONNX always fails without the onnx build tag.
func NewONNX(modelPath, libraryPath string) (*ONNX, error) {
	return nil, fmt.Errorf("%w: rebuild with -tags onnx to use the CLIP encoder", ErrUnavailable)
}

func (e *ONNX) Dimensions() int { return 0 }

func (e *ONNX) Embed(ctx context.Context, imgs []image.Image) ([][]float64, error) {
	return nil, ErrUnavailable
}

func (e *ONNX) Close() error { return nil }
