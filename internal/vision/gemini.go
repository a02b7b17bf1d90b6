package vision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini uses the Google AI generative API directly.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini falls back to GOOGLE_API_KEY when cfg.APIKey is empty.
func NewGemini(ctx context.Context, cfg Config) (*Gemini, error) {
	key := cfg.APIKey
	if key == "" {
		key = os.Getenv("GOOGLE_API_KEY")
	}
	if key == "" {
		return nil, errors.New("gemini backend needs an API key (GOOGLE_API_KEY)")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(key))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) Generate(ctx context.Context, req Request) (string, error) {
	model := g.client.GenerativeModel(g.model)
	if req.System != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(req.System))
	}
	if req.JSON {
		model.ResponseMIMEType = "application/json"
	}

	prompt := []genai.Part{genai.Text(req.Prompt)}
	if len(req.Image) > 0 {
		prompt = append(prompt, genai.ImageData(strings.TrimPrefix(req.mime(), "image/"), req.Image))
	}

	resp, err := model.GenerateContent(ctx, prompt...)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	var out strings.Builder
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, part := range c.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				out.WriteString(string(text))
			}
		}
	}
	return out.String(), nil
}

// Close releases the underlying gRPC connection.
func (g *Gemini) Close() error { return g.client.Close() }
