//go:build onnx
// +build onnx

package encoder

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNX runs a CLIP vision tower exported to ONNX (pixel_values -> image_embeds).
type ONNX struct {
	mu         sync.Mutex
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
	dims       int
}

// NewONNX opens modelPath and picks its float image input and its embedding output.
func NewONNX(modelPath, libraryPath string) (*ONNX, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("%w: onnx model path is required", ErrUnavailable)
	}
	if !ort.IsInitialized() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("%w: initialize onnx runtime: %v", ErrUnavailable, err)
		}
	}

	ins, outs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("get IO info: %w", err)
	}

	var inputName string
	for _, ii := range ins {
		if ii.DataType != ort.TensorElementDataTypeFloat {
			continue
		}
		if inputName == "" || strings.Contains(strings.ToLower(ii.Name), "pixel") {
			inputName = ii.Name
		}
	}
	if inputName == "" {
		return nil, fmt.Errorf("could not determine ONNX image input")
	}

	// Prefer the projected embedding over the raw pooled output
	var outputName string
	dims := 0
	for _, oi := range outs {
		if oi.DataType != ort.TensorElementDataTypeFloat {
			continue
		}
		if outputName == "" || strings.Contains(strings.ToLower(oi.Name), "embeds") {
			outputName = oi.Name
			if n := len(oi.Dimensions); n > 0 && oi.Dimensions[n-1] > 0 {
				dims = int(oi.Dimensions[n-1])
			}
		}
	}
	if outputName == "" {
		return nil, fmt.Errorf("could not determine ONNX output name")
	}

	s, err := ort.NewDynamicAdvancedSession(modelPath, []string{inputName}, []string{outputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}
	return &ONNX{session: s, inputName: inputName, outputName: outputName, dims: dims}, nil
}

func (e *ONNX) Dimensions() int { return e.dims }

func (e *ONNX) Embed(ctx context.Context, imgs []image.Image) ([][]float64, error) {
	if len(imgs) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	shape := ort.NewShape(int64(len(imgs)), 3, ClipInputSize, ClipInputSize)
	input, err := ort.NewTensor(shape, clipBatch(imgs))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	defer input.Destroy()

	// The session is not safe for concurrent Run calls
	e.mu.Lock()
	outs := []ort.Value{nil}
	err = e.session.Run([]ort.Value{input}, outs)
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}
	defer func() {
		for _, v := range outs {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	t, ok := outs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type %T", outs[0])
	}
	data := t.GetData()
	shape = t.GetShape()
	if len(shape) != 2 || int(shape[0]) != len(imgs) {
		return nil, fmt.Errorf("unexpected output shape %v for batch of %d", shape, len(imgs))
	}
	cols := int(shape[1])
	vecs := make([][]float64, len(imgs))
	for r := range vecs {
		v := make([]float64, cols)
		for c, x := range data[r*cols : (r+1)*cols] {
			v[c] = float64(x)
		}
		vecs[r] = v
	}
	return vecs, nil
}

func (e *ONNX) Close() error {
	if e.session == nil {
		return nil
	}
	return e.session.Destroy()
}
