//go:build !gocv

package describe

import "log/slog"

// NewFaceDetector returns NoFaces; rebuild with -tags gocv for Haar cascade detection.
func NewFaceDetector(path string) (FaceDetector, error) {
	if path != "" {
		slog.Warn("face detection requested but binary built without gocv", "cascade", path)
	}
	return NoFaces{}, nil
}
