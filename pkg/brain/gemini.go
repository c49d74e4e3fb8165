package brain

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"omegaclaw/pkg/config"
)

// Gemini asks the Gemini API. The client is created on first use.
type Gemini struct {
	client    *genai.Client
	apiKey    string
	model     string
	maxTokens int32
	mu        sync.Mutex
}

// NewGemini creates a Gemini brain.
func NewGemini(apiKey string, cfg config.ModelConfig) *Gemini {
	return &Gemini{
		apiKey:    apiKey,
		model:     cfg.Model,
		maxTokens: int32(cfg.MaxTokens), //nolint:gosec // small configured value
	}
}

// Name implements Brain.
func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) ensureClient(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	g.client = client
	return client, nil
}

// Ask implements Brain.
func (g *Gemini) Ask(ctx context.Context, prompt string) (string, error) {
	client, err := g.ensureClient(ctx)
	if err != nil {
		return "", err
	}

	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: prompt}},
	}}
	cfg := &genai.GenerateContentConfig{MaxOutputTokens: g.maxTokens}
	result, err := client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", classifyError(g.Name(), "Gemini API call failed", err)
	}
	if result == nil {
		return "", fmt.Errorf("empty response from Gemini API")
	}
	return result.Text(), nil
}
