// Package writer persists selected keyframes as JPEG files plus a CSV (and optional JSON) manifest.
package writer

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/andresmejia3/keyframer/internal/keyframe"
	"github.com/andresmejia3/keyframer/internal/types"
	"github.com/andresmejia3/keyframer/internal/utils"
)

// DefaultQuality is the JPEG quality keyframes are saved at.
const DefaultQuality = 70

// Options controls where Write puts its output.
type Options struct {
	Dir          string
	ManifestPath string
	// Quality overrides DefaultQuality when in 1..100.
	Quality int
}

// Manifest is the machine-readable summary of an extract run.
type Manifest struct {
	RunID      string                `json:"run_id"`
	VideoID    string                `json:"video_id,omitempty"`
	Video      string                `json:"video"`
	FPS        float64               `json:"fps"`
	Step       int                   `json:"step"`
	Sampled    int                   `json:"sampled"`
	Thresholds keyframe.Thresholds   `json:"final_thresholds"`
	Rounds     []keyframe.Round      `json:"rounds"`
	Keyframes  []types.ManifestEntry `json:"keyframes"`
	CreatedAt  time.Time             `json:"created_at"`
}

// Write saves every record as <sanitized timestamp>.jpg under opts.Dir and writes the CSV manifest.
// Entries come back in record order.
func Write(records []types.Record, fps float64, opts Options) ([]types.ManifestEntry, error) {
	if fps <= 0 {
		return nil, fmt.Errorf("invalid fps %v", fps)
	}
	if opts.Dir == "" {
		return nil, errors.New("output directory is required")
	}
	quality := opts.Quality
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	entries := make([]types.ManifestEntry, 0, len(records))
	used := make(map[string]bool, len(records))
	for _, rec := range records {
		ts := utils.FormatTimestamp(rec.Index, fps)
		name := utils.SanitizeTimestamp(ts)
		// Above 1000 fps two indices can share a millisecond
		if used[name] {
			name += "_" + strconv.Itoa(rec.Index)
		}
		used[name] = true

		path := filepath.Join(opts.Dir, name+".jpg")
		if err := writeJPEG(path, rec, quality); err != nil {
			return nil, err
		}
		entries = append(entries, types.ManifestEntry{Path: path, Timestamp: ts, Index: rec.Index})
	}

	if opts.ManifestPath != "" {
		if err := WriteCSV(opts.ManifestPath, entries); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func writeJPEG(path string, rec types.Record, quality int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := jpeg.Encode(f, rec.Image, &jpeg.Options{Quality: quality}); err != nil {
		f.Close()
		return fmt.Errorf("encode frame %d: %w", rec.Index, err)
	}
	return f.Close()
}

// WriteCSV writes the keyframe,timestamp manifest.
func WriteCSV(path string, entries []types.ManifestEntry) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create manifest directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Write([]string{"keyframe", "timestamp"})
	for _, e := range entries {
		w.Write([]string{e.Path, e.Timestamp})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return f.Close()
}

// WriteJSON writes m as indented JSON.
func WriteJSON(path string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ReadJSON loads a manifest written by WriteJSON.
func ReadJSON(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse %s: %w", path, err)
	}
	return m, nil
}
