package describe

import "image"

// FaceDetector counts faces in a grayscale frame.
type FaceDetector interface {
	CountFaces(gray *image.Gray) (int, error)
	Close() error
}

// NoFaces is the detector used when face detection is not compiled in or not configured.
type NoFaces struct{}

func (NoFaces) CountFaces(*image.Gray) (int, error) { return 0, nil }
func (NoFaces) Close() error                        { return nil }
