package brain

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"omegaclaw/pkg/config"
)

// OpenAI asks the Responses API.
type OpenAI struct {
	client    openai.Client
	model     string
	maxTokens int64
}

// NewOpenAI creates a Responses API brain.
func NewOpenAI(apiKey string, cfg config.ModelConfig) *OpenAI {
	return &OpenAI{
		client:    openai.NewClient(option.WithAPIKey(apiKey)),
		model:     cfg.Model,
		maxTokens: int64(cfg.MaxTokens),
	}
}

// Name implements Brain.
func (o *OpenAI) Name() string { return "openai" }

// Ask implements Brain.
func (o *OpenAI) Ask(ctx context.Context, prompt string) (string, error) {
	params := responses.ResponseNewParams{
		Model:           o.model,
		MaxOutputTokens: openai.Int(o.maxTokens),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(prompt)},
	}

	resp, err := o.client.Responses.New(ctx, params)
	if err != nil {
		return "", classifyError(o.Name(), "OpenAI Responses API failed", err)
	}
	if resp == nil {
		return "", fmt.Errorf("empty response from OpenAI Responses API")
	}
	return resp.OutputText(), nil
}
