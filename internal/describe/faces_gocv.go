//go:build gocv

package describe

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// HaarFaces detects frontal faces with an OpenCV Haar cascade.
type HaarFaces struct {
	classifier gocv.CascadeClassifier
}

// NewFaceDetector loads the cascade XML at path (e.g. haarcascade_frontalface_default.xml).
// An empty path disables detection.
func NewFaceDetector(path string) (FaceDetector, error) {
	if path == "" {
		return NoFaces{}, nil
	}
	c := gocv.NewCascadeClassifier()
	if !c.Load(path) {
		c.Close()
		return nil, fmt.Errorf("failed to load face cascade %s", path)
	}
	return &HaarFaces{classifier: c}, nil
}

func (h *HaarFaces) CountFaces(gray *image.Gray) (int, error) {
	mat, err := gocv.ImageGrayToMatGray(gray)
	if err != nil {
		return 0, err
	}
	defer mat.Close()
	// Scale factor 1.1 with 4 neighbours, OpenCV's usual frontal-face settings
	rects := h.classifier.DetectMultiScaleWithParams(mat, 1.1, 4, 0, image.Point{}, image.Point{})
	return len(rects), nil
}

func (h *HaarFaces) Close() error { return h.classifier.Close() }
