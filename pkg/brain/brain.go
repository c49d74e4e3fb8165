// Package brain provides the one-shot prompt backends the script-cycle
// strategy asks for its next action: the coding-assistant CLI in print mode
// and the hosted model APIs.
package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"omegaclaw/pkg/config"
	"omegaclaw/pkg/exec"
	"omegaclaw/pkg/limiter"
	"omegaclaw/pkg/logx"
	"omegaclaw/pkg/utils"
)

// ErrUsageLimit is returned when a backend reports that its quota is spent.
var ErrUsageLimit = errors.New("usage limit reached")

// ErrNoBackends is returned by a rotation with nothing left to try.
var ErrNoBackends = errors.New("no brain backends available")

// Brain answers a single prompt.
type Brain interface {
	Name() string
	Ask(ctx context.Context, prompt string) (string, error)
}

// LimitPhrases mark a usage or rate limit in model or CLI output.
//
//nolint:gochecknoglobals // shared read-only table
var LimitPhrases = []string{
	"usage limit",
	"rate limit",
	"run out of messages",
	"limit reached",
	"try again later",
}

// IsUsageLimit reports whether text contains a usage-limit phrase.
func IsUsageLimit(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range LimitPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// classifyError maps an API failure to ErrUsageLimit when it looks like a
// quota or rate limit, and wraps it otherwise.
func classifyError(backend, msg string, err error) error {
	errStr := err.Error()
	if strings.Contains(errStr, "429") || IsUsageLimit(errStr) {
		return fmt.Errorf("%s: %w: %v", backend, ErrUsageLimit, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Rotation tries its backends in order and moves to the next one for good
// once the current one hits its usage limit.
type Rotation struct {
	logger   *logx.Logger
	counter  *utils.TokenCounter
	backends []Brain
	current  int
	mu       sync.Mutex

	// MaxPromptTokens trims prompts before they are sent. Zero disables trimming.
	MaxPromptTokens int
}

// NewRotation creates a rotation over backends.
func NewRotation(backends ...Brain) *Rotation {
	counter, err := utils.NewTokenCounter()
	if err != nil {
		counter = nil
	}
	return &Rotation{
		logger:   logx.NewLogger("brain"),
		counter:  counter,
		backends: backends,
	}
}

// Name returns the name of the active backend.
func (r *Rotation) Name() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current >= len(r.backends) {
		return "exhausted"
	}
	return r.backends[r.current].Name()
}

// Tokens counts prompt tokens with the rotation's tokenizer.
func (r *Rotation) Tokens(text string) int {
	return r.counter.CountTokens(text)
}

// Ask sends prompt to the active backend. A usage limit advances the rotation
// and retries with the next backend; when every backend is spent the last
// ErrUsageLimit is returned.
func (r *Rotation) Ask(ctx context.Context, prompt string) (string, error) {
	if r.MaxPromptTokens > 0 {
		prompt = r.counter.TruncateToTokenLimit(prompt, r.MaxPromptTokens)
	}

	var lastErr error = ErrNoBackends
	for {
		r.mu.Lock()
		if r.current >= len(r.backends) {
			r.mu.Unlock()
			return "", lastErr
		}
		b := r.backends[r.current]
		idx := r.current
		r.mu.Unlock()

		resp, err := b.Ask(ctx, prompt)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrUsageLimit) {
			return "", err
		}

		lastErr = err
		r.mu.Lock()
		if r.current == idx {
			r.current++
		}
		next := "none"
		if r.current < len(r.backends) {
			next = r.backends[r.current].Name()
		}
		r.mu.Unlock()
		r.logger.Warn("🔁 Backend %s hit its usage limit, rotating to %s", b.Name(), next)
	}
}

// Reset makes the first backend active again.
func (r *Rotation) Reset() {
	r.mu.Lock()
	r.current = 0
	r.mu.Unlock()
}

// New builds the configured backend rotation.
func New(cfg *config.Config, executor exec.Executor) (*Rotation, error) {
	var backends []Brain
	for _, name := range cfg.Brain.Backends {
		b, err := newBackend(name, cfg, executor)
		if err != nil {
			return nil, fmt.Errorf("failed to create brain %s: %w", name, err)
		}
		backends = append(backends, b)
	}
	if len(backends) == 0 {
		return nil, ErrNoBackends
	}
	r := NewRotation(backends...)
	r.MaxPromptTokens = cfg.Brain.MaxPromptTokens

	if limits := backendLimits(cfg); len(limits) > 0 {
		lim := limiter.New(limits)
		for i, b := range r.backends {
			if bucket := lim.Bucket(b.Name()); bucket != nil {
				r.backends[i] = &throttled{Brain: b, bucket: bucket, counter: r.counter}
			}
		}
	}
	return r, nil
}

// backendLimits collects the metered API backends.
func backendLimits(cfg *config.Config) map[string]limiter.Limits {
	models := map[string]config.ModelConfig{
		config.BackendAnthropic: cfg.Brain.Anthropic,
		config.BackendOpenAI:    cfg.Brain.OpenAI,
		config.BackendOllama:    cfg.Brain.Ollama,
		config.BackendGemini:    cfg.Brain.Gemini,
	}
	out := map[string]limiter.Limits{}
	for name, m := range models {
		if m.MaxTPM > 0 || m.DailyTokens > 0 {
			out[name] = limiter.Limits{TokensPerMinute: m.MaxTPM, DailyTokens: m.DailyTokens}
		}
	}
	return out
}

// throttled meters a backend's prompts. A spent daily budget reads as a
// usage limit so the rotation moves on.
type throttled struct {
	Brain
	bucket  *limiter.Bucket
	counter *utils.TokenCounter
}

func (t *throttled) Ask(ctx context.Context, prompt string) (string, error) {
	err := t.bucket.Wait(ctx, t.counter.CountTokens(prompt))
	if errors.Is(err, limiter.ErrBudgetExceeded) {
		return "", fmt.Errorf("%s: %w: %v", t.Name(), ErrUsageLimit, err)
	}
	if err != nil {
		return "", err
	}
	return t.Brain.Ask(ctx, prompt)
}

func newBackend(name string, cfg *config.Config, executor exec.Executor) (Brain, error) {
	switch name {
	case config.BackendCLI:
		return NewCLI(executor, cfg.Claude.Path, cfg.ProjectDir, cfg.Invoker.CycleTimeout), nil
	case config.BackendAnthropic:
		key, err := config.GetAPIKey(name)
		if err != nil {
			return nil, err
		}
		return NewAnthropic(key, cfg.Brain.Anthropic), nil
	case config.BackendOpenAI:
		key, err := config.GetAPIKey(name)
		if err != nil {
			return nil, err
		}
		return NewOpenAI(key, cfg.Brain.OpenAI), nil
	case config.BackendOllama:
		return NewOllama(cfg.Brain.Ollama), nil
	case config.BackendGemini:
		key, err := config.GetAPIKey(name)
		if err != nil {
			return nil, err
		}
		return NewGemini(key, cfg.Brain.Gemini), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}
