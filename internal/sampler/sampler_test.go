package sampler

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func encodeFrame(t *testing.T, gray uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = gray
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestStep(t *testing.T) {
	tests := []struct {
		name     string
		fps      float64
		interval time.Duration
		want     int
	}{
		{name: "Ten seconds at 30fps", fps: 30, interval: 10 * time.Second, want: 300},
		{name: "NTSC truncates", fps: 29.97, interval: 10 * time.Second, want: 299},
		{name: "Sub-frame interval", fps: 25, interval: 10 * time.Millisecond, want: 1},
		{name: "Zero interval", fps: 30, interval: 0, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Step(tt.fps, tt.interval); got != tt.want {
				t.Errorf("Step(%v, %v) = %d, want %d", tt.fps, tt.interval, got, tt.want)
			}
		})
	}
}

func TestDecodeStream(t *testing.T) {
	var stream bytes.Buffer
	shades := []uint8{0, 80, 160, 240}
	for _, g := range shades {
		stream.Write(encodeFrame(t, g))
	}

	var seen []int
	records, err := DecodeStream(&stream, 300, func(i int) { seen = append(seen, i) })
	if err != nil {
		t.Fatalf("DecodeStream failed: %v", err)
	}
	if len(records) != len(shades) {
		t.Fatalf("Expected %d records, got %d", len(shades), len(records))
	}
	for k, rec := range records {
		if rec.Index != k*300 {
			t.Errorf("Record %d: expected index %d, got %d", k, k*300, rec.Index)
		}
		if seen[k] != rec.Index {
			t.Errorf("OnFrame saw %d, record has %d", seen[k], rec.Index)
		}
		y := color.GrayModel.Convert(rec.Image.At(8, 8)).(color.Gray).Y
		if d := int(y) - int(shades[k]); d < -3 || d > 3 {
			t.Errorf("Record %d decoded gray %d, want ~%d", k, y, shades[k])
		}
	}
}

func TestDecodeStreamErrors(t *testing.T) {
	if _, err := DecodeStream(bytes.NewReader(nil), 0, nil); err == nil {
		t.Error("Expected an error for step 0")
	}

	records, err := DecodeStream(bytes.NewReader(nil), 10, nil)
	if err != nil || len(records) != 0 {
		t.Errorf("Empty stream should yield no records, got %d, %v", len(records), err)
	}

	// A token delimited by SOI/EOI that is not a real JPEG
	corrupt := append(encodeFrame(t, 10), 0xFF, 0xD8, 0x00, 0x01, 0xFF, 0xD9)
	if _, err := DecodeStream(bytes.NewReader(corrupt), 10, nil); err == nil {
		t.Error("Expected a decode error for a corrupt frame")
	}
}

func TestSampleRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	if _, err := Sample(ctx, "video.mp4", Options{}); err == nil {
		t.Error("Expected an error for a zero interval")
	}
	missing := filepath.Join(t.TempDir(), "missing.mp4")
	if _, err := Sample(ctx, missing, Options{Interval: time.Second}); err == nil {
		t.Error("Expected an error for a missing file")
	}
}

// Requires ffmpeg and ffprobe on PATH.
func TestSampleSyntheticVideo(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping ffmpeg test in short mode")
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not installed")
	}

	video := filepath.Join(t.TempDir(), "test.mp4")
	gen := exec.Command("ffmpeg", "-hide_banner", "-loglevel", "error", "-f", "lavfi",
		"-i", "testsrc=duration=3:size=64x48:rate=10", "-pix_fmt", "yuv420p", video)
	if out, err := gen.CombinedOutput(); err != nil {
		t.Fatalf("Failed to generate test video: %v\n%s", err, out)
	}

	res, err := Sample(context.Background(), video, Options{Interval: 500 * time.Millisecond})
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	if res.FPS != 10 || res.Step != 5 || res.FPSFallback {
		t.Errorf("Expected fps 10 step 5, got %+v", res)
	}
	if len(res.Records) != 6 {
		t.Fatalf("Expected 6 records from 30 frames, got %d", len(res.Records))
	}
	if last := res.Records[5].Index; last != 25 {
		t.Errorf("Expected last index 25, got %d", last)
	}
}
