package describe

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/andresmejia3/keyframer/internal/types"
)

// Output file names inside the output directory.
const (
	CSVFileName  = "important_frames.csv"
	JSONFileName = "results.json"
)

// WriteOutputs writes important_frames.csv and results.json into dir and returns their paths.
func WriteOutputs(dir string, results []types.FrameResult) (csvPath, jsonPath string, err error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", "", fmt.Errorf("create output directory: %w", err)
	}
	csvPath = filepath.Join(dir, CSVFileName)
	jsonPath = filepath.Join(dir, JSONFileName)
	if err := WriteCSV(csvPath, results); err != nil {
		return "", "", err
	}
	if err := WriteJSON(jsonPath, results); err != nil {
		return "", "", err
	}
	return csvPath, jsonPath, nil
}

// WriteCSV writes one row per important frame that has a description.
func WriteCSV(path string, results []types.FrameResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Write([]string{"Image Name", "Extracted Text", "Visual Description"})
	for _, r := range results {
		if r.Importance != types.Important || r.Description == nil {
			continue
		}
		w.Write([]string{r.Description.ImageName, r.Description.ExtractedText, r.Description.VisualDescription})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// WriteJSON writes all results as indented JSON, leaving non-ASCII text unescaped.
func WriteJSON(path string, results []types.FrameResult) error {
	if results == nil {
		results = []types.FrameResult{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}
