package brain

import (
	"context"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"omegaclaw/pkg/config"
)

// Ollama asks a local Ollama server.
type Ollama struct {
	client    *api.Client
	model     string
	maxTokens int
}

// NewOllama creates an Ollama brain. An unparsable host falls back to the
// default local address.
func NewOllama(cfg config.ModelConfig) *Ollama {
	parsedURL, err := url.Parse(cfg.Host)
	if err != nil || cfg.Host == "" {
		parsedURL, _ = url.Parse("http://localhost:11434")
	}
	return &Ollama{
		client:    api.NewClient(parsedURL, http.DefaultClient),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}
}

// Name implements Brain.
func (o *Ollama) Name() string { return "ollama" }

// Ask implements Brain.
func (o *Ollama) Ask(ctx context.Context, prompt string) (string, error) {
	stream := false
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: []api.Message{{Role: "user", Content: prompt}},
		Stream:   &stream,
		Options: map[string]any{
			"num_predict": o.maxTokens,
		},
	}

	var response api.ChatResponse
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return "", classifyError(o.Name(), "ollama chat failed", err)
	}
	return response.Message.Content, nil
}
