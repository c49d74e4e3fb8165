package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omegaclaw/pkg/config"
	"omegaclaw/pkg/exec"
	"omegaclaw/pkg/limiter"
)

func TestIsUsageLimit(t *testing.T) {
	assert.True(t, IsUsageLimit("You've run out of messages until 5pm"))
	assert.True(t, IsUsageLimit("Claude AI usage limit reached|1700000000"))
	assert.True(t, IsUsageLimit("RATE LIMIT exceeded"))
	assert.False(t, IsUsageLimit("all tests pass"))
}

func TestClassifyError(t *testing.T) {
	err := classifyError("openai", "OpenAI Responses API failed", fmt.Errorf("POST: 429 Too Many Requests"))
	assert.ErrorIs(t, err, ErrUsageLimit)

	err = classifyError("openai", "OpenAI Responses API failed", fmt.Errorf("connection refused"))
	assert.NotErrorIs(t, err, ErrUsageLimit)
	assert.Contains(t, err.Error(), "OpenAI Responses API failed")
}

func TestCLIAsk(t *testing.T) {
	mock := exec.NewMockExecutor("```bash\nls\n```")
	cli := NewCLI(mock, "/usr/local/bin/claude", "/tmp/work", 0)

	resp, err := cli.Ask(context.Background(), "next?")
	require.NoError(t, err)
	assert.Equal(t, "```bash\nls\n```", resp)

	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"/usr/local/bin/claude", "-p", "next?"}, calls[0].Cmd)
	assert.Equal(t, "/tmp/work", calls[0].Opts.WorkDir)
	assert.Equal(t, DefaultCycleTimeout, calls[0].Opts.Timeout)
}

func TestCLIAskNonZeroUsesStderr(t *testing.T) {
	mock := &exec.MockExecutor{Result: exec.Result{Stdout: "partial", Stderr: "boom", ExitCode: 1}}
	resp, err := NewCLI(mock, "", "", 0).Ask(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "boom", resp)
	assert.Equal(t, "claude", mock.Calls()[0].Cmd[0])
}

func TestCLIAskUsageLimit(t *testing.T) {
	mock := &exec.MockExecutor{Result: exec.Result{Stderr: "Claude usage limit reached", ExitCode: 1}}
	_, err := NewCLI(mock, "", "", 0).Ask(context.Background(), "p")
	assert.ErrorIs(t, err, ErrUsageLimit)
}

func TestCLIAskTimeout(t *testing.T) {
	mock := &exec.MockExecutor{Error: fmt.Errorf("%w after 5m0s: claude", exec.ErrTimeout)}
	_, err := NewCLI(mock, "", "", 0).Ask(context.Background(), "p")
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "claude timeout"))
}

func TestRotationAdvancesOnUsageLimit(t *testing.T) {
	first := NewMockBrain("cli", nil, []error{fmt.Errorf("cli: %w", ErrUsageLimit)})
	second := NewMockBrain("anthropic", []string{"from second", "again"}, nil)
	r := NewRotation(first, second)

	assert.Equal(t, "cli", r.Name())
	resp, err := r.Ask(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "from second", resp)
	assert.Equal(t, "anthropic", r.Name())

	// The exhausted backend is not retried.
	resp, err = r.Ask(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "again", resp)
	assert.Len(t, first.Prompts(), 1)

	r.Reset()
	assert.Equal(t, "cli", r.Name())
}

func TestRotationExhausted(t *testing.T) {
	limit := fmt.Errorf("x: %w", ErrUsageLimit)
	r := NewRotation(
		NewMockBrain("a", nil, []error{limit}),
		NewMockBrain("b", nil, []error{limit}),
	)
	_, err := r.Ask(context.Background(), "p")
	assert.ErrorIs(t, err, ErrUsageLimit)
	assert.Equal(t, "exhausted", r.Name())

	_, err = NewRotation().Ask(context.Background(), "p")
	assert.ErrorIs(t, err, ErrNoBackends)
}

func TestRotationOtherErrorsDoNotRotate(t *testing.T) {
	boom := errors.New("boom")
	first := NewMockBrain("a", nil, []error{boom})
	r := NewRotation(first, NewMockBrain("b", []string{"ok"}, nil))

	_, err := r.Ask(context.Background(), "p")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "a", r.Name())
}

func TestRotationTrimsPrompt(t *testing.T) {
	m := NewMockBrain("a", []string{"ok"}, nil)
	r := NewRotation(m)
	r.MaxPromptTokens = 10

	_, err := r.Ask(context.Background(), strings.Repeat("word ", 500))
	require.NoError(t, err)
	prompt := m.Prompts()[0]
	assert.Less(t, len(prompt), 500)
	assert.LessOrEqual(t, r.Tokens(prompt), 12)
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Brain.Backends = []string{config.BackendCLI, config.BackendOllama}

	r, err := New(cfg, exec.NewMockExecutor(""))
	require.NoError(t, err)
	assert.Equal(t, "cli", r.Name())
	assert.Equal(t, cfg.Brain.MaxPromptTokens, r.MaxPromptTokens)

	cfg.Brain.Backends = []string{"nope"}
	_, err = New(cfg, exec.NewMockExecutor(""))
	assert.Error(t, err)

	cfg.Brain.Backends = nil
	_, err = New(cfg, exec.NewMockExecutor(""))
	assert.ErrorIs(t, err, ErrNoBackends)
}

func TestNewMetersLimitedBackends(t *testing.T) {
	cfg := config.Default()
	cfg.Brain.Backends = []string{config.BackendCLI, config.BackendOllama}
	cfg.Brain.Ollama.MaxTPM = 1000

	r, err := New(cfg, exec.NewMockExecutor(""))
	require.NoError(t, err)
	_, cliThrottled := r.backends[0].(*throttled)
	assert.False(t, cliThrottled)
	wrapped, ok := r.backends[1].(*throttled)
	require.True(t, ok)
	assert.Equal(t, "ollama", wrapped.Name())
}

func TestDailyBudgetRotates(t *testing.T) {
	lim := limiter.New(map[string]limiter.Limits{"first": {DailyTokens: 5}})
	defer lim.Close()

	first := NewMockBrain("first", []string{"from first"}, nil)
	second := NewMockBrain("second", []string{"from second"}, nil)
	r := NewRotation(first, second)
	r.backends[0] = &throttled{Brain: first, bucket: lim.Bucket("first"), counter: r.counter}

	resp, err := r.Ask(context.Background(), strings.Repeat("many words in this prompt ", 20))
	require.NoError(t, err)
	assert.Equal(t, "from second", resp)
	assert.Empty(t, first.Prompts())
	assert.Equal(t, "second", r.Name())
}
