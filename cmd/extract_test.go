package cmd

import (
	"context"
	"fmt"
	"image"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/keyframer/internal/config"
	"github.com/andresmejia3/keyframer/internal/encoder"
	"github.com/andresmejia3/keyframer/internal/keyframe"
	"github.com/andresmejia3/keyframer/internal/types"
	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func noise(seed uint64) *image.RGBA {
	r := rand.New(rand.NewPCG(seed, seed+1))
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = uint8(r.IntN(256))
		img.Pix[i+1] = uint8(r.IntN(256))
		img.Pix[i+2] = uint8(r.IntN(256))
		img.Pix[i+3] = 0xFF
	}
	return img
}

func TestValidateExtractFlags(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "video.mp4")
	if err := os.WriteFile(video, []byte("not really a video"), 0644); err != nil {
		t.Fatal(err)
	}

	valid := func() config.ExtractConfig {
		return config.ExtractConfig{
			Input:         video,
			Interval:      10 * time.Second,
			DefaultFPS:    30,
			MinFrames:     10,
			MaxIterations: 10,
			HashThreshold: 5,
			SSIMThreshold: 0.95,
			CLIPThreshold: 0.90,
			Hasher:        "phash",
			BatchSize:     32,
			Quality:       70,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*config.ExtractConfig)
		wantErr string
	}{
		{name: "Valid", mutate: func(*config.ExtractConfig) {}},
		{name: "dHash", mutate: func(o *config.ExtractConfig) { o.Hasher = "dhash" }},
		{name: "Missing file", mutate: func(o *config.ExtractConfig) { o.Input = filepath.Join(dir, "nope.mp4") }, wantErr: "input video"},
		{name: "Directory", mutate: func(o *config.ExtractConfig) { o.Input = dir }, wantErr: "is a directory"},
		{name: "Unknown hasher", mutate: func(o *config.ExtractConfig) { o.Hasher = "ahash" }, wantErr: "unknown hash"},
		{name: "Bad SSIM", mutate: func(o *config.ExtractConfig) { o.SSIMThreshold = 2 }, wantErr: "ssim"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := valid()
			tt.mutate(&opts)
			err := validateExtractFlags(opts)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("validateExtractFlags() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("validateExtractFlags() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

type countingEncoder struct {
	calls  int
	images int
}

func (e *countingEncoder) Dimensions() int { return 2 }

func (e *countingEncoder) Embed(ctx context.Context, imgs []image.Image) ([][]float64, error) {
	e.calls++
	e.images += len(imgs)
	out := make([][]float64, len(imgs))
	for i := range imgs {
		out[i] = []float64{0, 1}
	}
	return out, nil
}

func TestKeyframeEmbeddingsReusesCache(t *testing.T) {
	cache := keyframe.NewCache()
	cache.StoreEmbedding(30, []float64{1, 0})

	records := []types.Record{{Index: 0, Image: noise(1)}, {Index: 30, Image: noise(2)}, {Index: 60, Image: noise(3)}}
	enc := &countingEncoder{}
	vecs, err := keyframeEmbeddings(context.Background(), records, enc, cache)
	if err != nil {
		t.Fatal(err)
	}
	if enc.calls != 1 || enc.images != 2 {
		t.Errorf("Expected one call for the 2 uncached frames, got %d calls / %d images", enc.calls, enc.images)
	}
	if vecs[1][0] != 1 || vecs[0][1] != 1 || vecs[2][1] != 1 {
		t.Errorf("Vectors out of order: %v", vecs)
	}

	// Everything cached: no encoder call at all
	enc = &countingEncoder{}
	if _, err := keyframeEmbeddings(context.Background(), records[1:2], enc, cache); err != nil {
		t.Fatal(err)
	}
	if enc.calls != 0 {
		t.Errorf("Expected no encoder call, got %d", enc.calls)
	}
}

func TestCommandsRegistered(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"extract", "describe", "find", "list", "reset"} {
		if !slices.Contains(names, want) {
			t.Errorf("Command %q not registered (have %v)", want, names)
		}
	}
	for _, flag := range []string{"db", "config", "log-level", "log-format", "metrics-addr", "otlp-endpoint"} {
		if rootCmd.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("Global flag --%s missing", flag)
		}
	}
}

func TestEncoderFlagHelp(t *testing.T) {
	for _, c := range []string{"extract", "find"} {
		cmd, _, err := rootCmd.Find([]string{c})
		if err != nil {
			t.Fatal(err)
		}
		f := cmd.Flags().Lookup("encoder")
		if f == nil {
			t.Fatalf("%s: --encoder missing", c)
		}
		if f.DefValue != "thumbnail" || !strings.Contains(f.Usage, "model-free") || !strings.Contains(f.Usage, "-tags onnx") {
			t.Errorf("%s: --encoder help should describe the default and the onnx build, got %q", c, f.Usage)
		}
	}
}

func TestOutputPaths(t *testing.T) {
	old := cfg
	t.Cleanup(func() { cfg = old })

	cfg = &config.Config{
		Extract:  config.ExtractConfig{Output: "out/kf", Manifest: "out/kf.csv"},
		Describe: config.DescribeConfig{},
	}
	got := outputPaths()
	want := []string{"out/kf", "out/kf.csv", filepath.Join("outputs", "final_output")}
	if !slices.Equal(got, want) {
		t.Errorf("outputPaths() = %v, want %v", got, want)
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := confirm(strings.NewReader(tt.input), "Proceed?"); got != tt.want {
			t.Errorf("confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

// TestExtractPersistence stores a run's keyframes and finds them again by image.
func TestExtractPersistence(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// Explicitly check for Docker availability and fail hard if missing
	// We wrap this in a function to recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Fatalf("Docker not available, cannot run integration test: %v", err)
	}

	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("keyframer_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer pgContainer.Terminate(ctx)

	connStr, _ := pgContainer.ConnectionString(ctx, "sslmode=disable")
	old := cfg
	cfg = &config.Config{DB: connStr}
	defer func() {
		if DB != nil {
			DB.Close()
			DB = nil
		}
		cfg = old
	}()

	enc := &encoder.Thumbnail{Workers: 2}
	kept := []types.Record{{Index: 0, Image: noise(10)}, {Index: 300, Image: noise(11)}, {Index: 600, Image: noise(12)}}
	entries := []types.ManifestEntry{
		{Path: "out/00-00-00-000.jpg", Timestamp: "00:00:00.000", Index: 0},
		{Path: "out/00-00-10-000.jpg", Timestamp: "00:00:10.000", Index: 300},
		{Path: "out/00-00-20-000.jpg", Timestamp: "00:00:20.000", Index: 600},
	}

	err = persistKeyframes(ctx, "vid_test_123", uuid.New(), "/tmp/test.mp4", 30, kept, entries, enc, keyframe.NewCache())
	if err != nil {
		t.Fatalf("persistKeyframes failed: %v", err)
	}
	// A second run replaces rather than duplicates
	err = persistKeyframes(ctx, "vid_test_123", uuid.New(), "/tmp/test.mp4", 30, kept, entries, enc, keyframe.NewCache())
	if err != nil {
		t.Fatalf("second persistKeyframes failed: %v", err)
	}

	videos, err := DB.ListVideos(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(videos) != 1 || videos[0].Keyframes != 3 {
		t.Fatalf("Expected 1 video with 3 keyframes, got %+v", videos)
	}

	query, err := enc.Embed(ctx, []image.Image{noise(11)})
	if err != nil {
		t.Fatal(err)
	}
	matches, err := DB.FindSimilarKeyframes(ctx, query[0], 5, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) == 0 {
		t.Fatal("Expected the query frame to be found")
	}
	if matches[0].Index != 300 || math.Abs(matches[0].Distance) > 1e-4 {
		t.Errorf("Expected frame 300 at distance ~0, got %+v", matches[0])
	}
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
