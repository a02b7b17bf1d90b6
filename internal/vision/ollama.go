package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// Ollama talks to a local or remote Ollama server.
type Ollama struct {
	client *api.Client
	model  string
}

// NewOllama uses cfg.BaseURL when set, otherwise OLLAMA_HOST / localhost:11434.
func NewOllama(cfg Config) (*Ollama, error) {
	var client *api.Client
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid ollama url %q: %w", cfg.BaseURL, err)
		}
		client = api.NewClient(u, http.DefaultClient)
	} else {
		c, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("ollama client: %w", err)
		}
		client = c
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOllamaModel
	}
	return &Ollama{client: client, model: model}, nil
}

func (o *Ollama) Generate(ctx context.Context, req Request) (string, error) {
	var messages []api.Message
	if req.System != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.System})
	}
	user := api.Message{Role: "user", Content: req.Prompt}
	if len(req.Image) > 0 {
		user.Images = []api.ImageData{req.Image}
	}
	messages = append(messages, user)

	stream := false
	chat := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
	}
	if req.JSON {
		chat.Format = json.RawMessage(`"json"`)
	}

	var out strings.Builder
	err := o.client.Chat(ctx, chat, func(resp api.ChatResponse) error {
		out.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	return out.String(), nil
}
