package brain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"omegaclaw/pkg/exec"
)

// DefaultCycleTimeout bounds a single print-mode call.
const DefaultCycleTimeout = 300 * time.Second

// CLI asks the coding-assistant CLI in print mode (`claude -p <prompt>`).
type CLI struct {
	executor exec.Executor
	path     string
	workDir  string
	timeout  time.Duration
}

// NewCLI creates a print-mode brain. An empty path uses "claude".
func NewCLI(executor exec.Executor, path, workDir string, timeout time.Duration) *CLI {
	if path == "" {
		path = "claude"
	}
	if timeout <= 0 {
		timeout = DefaultCycleTimeout
	}
	return &CLI{executor: executor, path: path, workDir: workDir, timeout: timeout}
}

// Name implements Brain.
func (c *CLI) Name() string { return "cli" }

// Ask runs the CLI once. Stdout is the answer on exit 0, stderr otherwise, so
// a failing call still yields text the cycle parser can report.
func (c *CLI) Ask(ctx context.Context, prompt string) (string, error) {
	opts := exec.DefaultExecOpts()
	opts.Timeout = c.timeout
	opts.WorkDir = c.workDir

	res, err := c.executor.Run(ctx, []string{c.path, "-p", prompt}, &opts)
	if err != nil {
		if errors.Is(err, exec.ErrTimeout) {
			return "", fmt.Errorf("claude timeout: %w", err)
		}
		return "", fmt.Errorf("claude invocation failed: %w", err)
	}

	response := res.Stdout
	if res.ExitCode != 0 {
		response = res.Stderr
		if IsUsageLimit(res.Stderr) || IsUsageLimit(res.Stdout) {
			return "", fmt.Errorf("%s: %w", c.Name(), ErrUsageLimit)
		}
	}
	return response, nil
}
