package types

import "image"

// Record is a sampled video frame paired with its 0-based decode index.
// Records are never mutated once the sampler has produced them.
type Record struct {
	Index int
	Image image.Image
}

// ManifestEntry describes one keyframe written to disk.
type ManifestEntry struct {
	Path      string `json:"keyframe"`
	Timestamp string `json:"timestamp"`
	Index     int    `json:"frame_index"`
}

// Importance labels produced by the description pipeline.
const (
	Important    = "important"
	NotImportant = "not_important"
	Errored      = "error"
)

// FrameFeatures holds cheap image statistics computed before asking a model about a frame.
type FrameFeatures struct {
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	Contrast      float64 `json:"contrast"`
	Brightness    float64 `json:"brightness"`
	DarkRatio     float64 `json:"dark_ratio"`
	ColorVariance float64 `json:"color_variance"`
	HasFaces      bool    `json:"has_faces"`
	FaceCount     int     `json:"face_count"`
	Error         string  `json:"error,omitempty"`
}

// Description is the OCR + visual summary of an important frame.
type Description struct {
	ImageName         string `json:"image_name"`
	ExtractedText     string `json:"extracted_text"`
	VisualDescription string `json:"visual_description"`
	RawOutput         string `json:"raw_output,omitempty"`
	Error             string `json:"error,omitempty"`
}

// FrameResult is one entry of results.json.
type FrameResult struct {
	Frame       string       `json:"frame"`
	Path        string       `json:"path"`
	Importance  string       `json:"importance"`
	Reason      string       `json:"reason"`
	Description *Description `json:"description,omitempty"`
	Error       string       `json:"error,omitempty"`
}
