// Package config resolves keyframer settings from flags, KEYFRAMER_* environment variables,
// an optional config file and built-in defaults, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment override, e.g. KEYFRAMER_EXTRACT_INTERVAL.
const EnvPrefix = "KEYFRAMER"

// DefaultDatabaseURL is used when neither --db nor POSTGRES_HOST is set.
const DefaultDatabaseURL = "postgres://localhost:5432/keyframer"

// Config is the fully resolved configuration of one command invocation.
type Config struct {
	DB           string `mapstructure:"db"`
	LogLevel     string `mapstructure:"log-level"`
	LogFormat    string `mapstructure:"log-format"`
	MetricsAddr  string `mapstructure:"metrics-addr"`
	OTLPEndpoint string `mapstructure:"otlp-endpoint"`

	Extract  ExtractConfig  `mapstructure:"extract"`
	Describe DescribeConfig `mapstructure:"describe"`
	Find     FindConfig     `mapstructure:"find"`
	Storage  StorageConfig  `mapstructure:"storage"`
}

// EncoderConfig selects the embedding model shared by extract and find.
type EncoderConfig struct {
	Name        string `mapstructure:"encoder"`
	ModelPath   string `mapstructure:"model-path"`
	LibraryPath string `mapstructure:"onnx-lib"`
	// Command is split on whitespace into the worker executable and its arguments.
	Command string `mapstructure:"encoder-cmd"`
}

// ExtractConfig holds the extract command's settings.
type ExtractConfig struct {
	Input         string        `mapstructure:"input"`
	Output        string        `mapstructure:"output"`
	Manifest      string        `mapstructure:"manifest"`
	Interval      time.Duration `mapstructure:"interval"`
	DefaultFPS    float64       `mapstructure:"default-fps"`
	MinFrames     int           `mapstructure:"min-frames"`
	MaxIterations int           `mapstructure:"max-iter"`
	HashThreshold int           `mapstructure:"hash-threshold"`
	SSIMThreshold float64       `mapstructure:"ssim-threshold"`
	CLIPThreshold float64       `mapstructure:"clip-threshold"`
	Hasher        string        `mapstructure:"hasher"`
	BatchSize     int           `mapstructure:"batch-size"`
	Workers       int           `mapstructure:"workers"`
	Quality       int           `mapstructure:"quality"`
	Persist       bool          `mapstructure:"persist"`
	UploadBucket  string        `mapstructure:"upload-bucket"`

	EncoderConfig `mapstructure:",squash"`
}

// DescribeConfig holds the describe command's settings.
type DescribeConfig struct {
	Frames      string `mapstructure:"frames"`
	Output      string `mapstructure:"output"`
	Vision      string `mapstructure:"vision"`
	Model       string `mapstructure:"model"`
	BaseURL     string `mapstructure:"base-url"`
	FaceCascade string `mapstructure:"face-cascade"`
	Workers     int    `mapstructure:"workers"`
	Persist     bool   `mapstructure:"persist"`
}

// FindConfig holds the find command's settings.
type FindConfig struct {
	Limit       int     `mapstructure:"limit"`
	MaxDistance float64 `mapstructure:"max-distance"`

	EncoderConfig `mapstructure:",squash"`
}

// StorageConfig points at the S3-compatible store keyframes are uploaded to.
type StorageConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access-key"`
	SecretKey string `mapstructure:"secret-key"`
	UseSSL    bool   `mapstructure:"use-ssl"`
}

// Defaults are the values used when no flag, env var or config file sets a key.
var Defaults = map[string]any{
	"log-level":  "info",
	"log-format": "text",

	"extract.output":         "outputs/keyframes",
	"extract.manifest":       "outputs/keyframes.csv",
	"extract.interval":       10 * time.Second,
	"extract.default-fps":    30.0,
	"extract.min-frames":     10,
	"extract.max-iter":       10,
	"extract.hash-threshold": 5,
	"extract.ssim-threshold": 0.95,
	"extract.clip-threshold": 0.90,
	"extract.hasher":         "phash",
	"extract.batch-size":     32,
	"extract.quality":        70,
	"extract.encoder":        "thumbnail",

	"describe.frames": "outputs/keyframes",
	"describe.output": "outputs/final_output",
	"describe.vision": "ollama",

	"find.limit":        10,
	"find.max-distance": 0.5,
	"find.encoder":      "thumbnail",

	"storage.endpoint": "localhost:9000",
}

// FlagSet binds a command's flags under Prefix ("" for top-level keys).
type FlagSet struct {
	Prefix string
	Flags  *pflag.FlagSet
}

// Load reads an optional .env file, then resolves the configuration. An empty path searches
// the working directory and $HOME/.keyframer for keyframer.{yaml,toml,json}; a missing file
// there is not an error, but an explicit path that cannot be read is.
func Load(path string, sets ...FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".keyframer"))
		}
		v.SetConfigName("keyframer")
	}

	for k, val := range Defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for _, s := range sets {
		if err := bindFlags(v, s); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return &cfg, nil
}

func bindFlags(v *viper.Viper, s FlagSet) error {
	if s.Flags == nil {
		return nil
	}
	var err error
	s.Flags.VisitAll(func(f *pflag.Flag) {
		if err != nil || f.Name == "help" || f.Name == "config" {
			return
		}
		key := f.Name
		if s.Prefix != "" {
			key = s.Prefix + "." + f.Name
		}
		if bindErr := v.BindPFlag(key, f); bindErr != nil {
			err = fmt.Errorf("bind flag %q: %w", f.Name, bindErr)
		}
	})
	return err
}

// DatabaseURL returns the configured connection string, one built from POSTGRES_* variables,
// or DefaultDatabaseURL.
func (c *Config) DatabaseURL() string {
	if c.DB != "" {
		return c.DB
	}
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return DefaultDatabaseURL
	}
	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		os.Getenv("POSTGRES_USER"), os.Getenv("POSTGRES_PASSWORD"), host, port, os.Getenv("POSTGRES_DB"))
}

// Validate checks the settings every command depends on.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("log format must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// Validate checks extract's ranges before any video is decoded.
func (e ExtractConfig) Validate() error {
	if e.Input == "" {
		return errors.New("input video is required (-i)")
	}
	if e.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", e.Interval)
	}
	if e.DefaultFPS <= 0 {
		return fmt.Errorf("default fps must be positive, got %v", e.DefaultFPS)
	}
	if e.MinFrames < 1 {
		return fmt.Errorf("min frames must be at least 1, got %d", e.MinFrames)
	}
	if e.MaxIterations < 1 {
		return fmt.Errorf("max iterations must be at least 1, got %d", e.MaxIterations)
	}
	if e.HashThreshold < 0 {
		return fmt.Errorf("hash threshold must be >= 0, got %d", e.HashThreshold)
	}
	if e.SSIMThreshold <= 0 || e.SSIMThreshold > 1 {
		return fmt.Errorf("ssim threshold must be in (0, 1], got %v", e.SSIMThreshold)
	}
	if e.CLIPThreshold <= 0 || e.CLIPThreshold > 1 {
		return fmt.Errorf("clip threshold must be in (0, 1], got %v", e.CLIPThreshold)
	}
	if e.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1, got %d", e.BatchSize)
	}
	if e.Workers < 0 {
		return fmt.Errorf("workers cannot be negative, got %d", e.Workers)
	}
	if e.Quality < 1 || e.Quality > 100 {
		return fmt.Errorf("jpeg quality must be in 1..100, got %d", e.Quality)
	}
	return nil
}

// Validate checks describe's settings.
func (d DescribeConfig) Validate() error {
	if d.Frames == "" {
		return errors.New("frames directory is required (-f)")
	}
	if d.Output == "" {
		return errors.New("output directory is required (-o)")
	}
	if d.Workers < 0 {
		return fmt.Errorf("workers cannot be negative, got %d", d.Workers)
	}
	return nil
}

// Validate checks find's settings.
func (f FindConfig) Validate() error {
	if f.Limit < 1 {
		return fmt.Errorf("limit must be at least 1, got %d", f.Limit)
	}
	if f.MaxDistance <= 0 || f.MaxDistance > 2 {
		return fmt.Errorf("max distance must be in (0, 2], got %v", f.MaxDistance)
	}
	return nil
}

// Args splits the encoder command into an executable and its arguments.
func (e EncoderConfig) Args() (string, []string) {
	fields := strings.Fields(e.Command)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}
