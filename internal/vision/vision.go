// Package vision wraps the vision-language model backends used to classify and describe frames.
package vision

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownBackend is returned by New for an unrecognized backend name.
var ErrUnknownBackend = errors.New("unknown vision backend")

// Request is a single-turn multimodal prompt.
type Request struct {
	System string
	Prompt string
	// Image holds encoded image bytes; MIMEType defaults to image/jpeg.
	Image    []byte
	MIMEType string
	// JSON asks the backend to constrain output to a JSON object where supported.
	JSON bool
}

func (r Request) mime() string {
	if r.MIMEType != "" {
		return r.MIMEType
	}
	return "image/jpeg"
}

// Model is anything that can answer a Request with text.
type Model interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Config selects and configures a backend.
type Config struct {
	Backend string
	Model   string
	// BaseURL overrides the backend endpoint (Ollama host, OpenAI-compatible base URL).
	BaseURL string
	APIKey  string
}

// Default model per backend.
const (
	DefaultOllamaModel = "llama3.2-vision"
	DefaultOpenAIModel = "gpt-4o-mini"
	DefaultGeminiModel = "gemini-1.5-flash"
)

// New builds the backend named by cfg.Backend: "ollama" (default), "openai" or "gemini".
func New(ctx context.Context, cfg Config) (Model, error) {
	var (
		m   Model
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "ollama":
		m, err = NewOllama(cfg)
	case "openai", "openrouter":
		m, err = NewOpenAI(cfg)
	case "gemini", "google":
		m, err = NewGemini(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}
