package invoke

import (
	"context"
	"errors"
	"fmt"

	"omegaclaw/pkg/brain"
	"omegaclaw/pkg/exec"
	"omegaclaw/pkg/utils"
)

const simpleSummaryLimit = 500

// Simple runs the CLI once in print mode and waits for it to exit.
type Simple struct {
	executor   exec.Executor
	claudePath string
	workDir    string
}

// NewSimple creates the print-mode strategy.
func NewSimple(executor exec.Executor, claudePath, workDir string) *Simple {
	if claudePath == "" {
		claudePath = "claude"
	}
	return &Simple{executor: executor, claudePath: claudePath, workDir: workDir}
}

// Name implements Strategy.
func (st *Simple) Name() string { return "simple" }

// Start implements Strategy.
func (st *Simple) Start(ctx context.Context, s *Session) (Result, error) {
	opts := exec.DefaultExecOpts()
	opts.Timeout = s.Settings.SimpleTimeout
	opts.KillGrace = s.Settings.KillGrace
	opts.WorkDir = st.workDir

	prompt := BuildSimplePrompt(s.Job.ID, s.Job.Content)
	s.Logger.Info("Invoking %s in print mode for %s", st.claudePath, s.Job.ID)

	res, err := st.executor.Run(ctx, []string{st.claudePath, "-p", prompt}, &opts)
	if ctx.Err() != nil {
		return Result{Outcome: OutcomeCancelled, Summary: "cancelled"}, nil
	}
	if err != nil {
		if errors.Is(err, exec.ErrTimeout) {
			return Result{Outcome: OutcomeFailed, Summary: "timed out"}, err
		}
		return Result{Outcome: OutcomeFailed, Summary: "could not start the assistant"}, err
	}

	tail := tailRunes(res.Stdout, simpleSummaryLimit)
	if appendErr := s.Mailbox.AppendProgress(s.Job.ID, fmt.Sprintf("\n\n---\n**Exit code**: %d\n\n```\n%s\n```\n", res.ExitCode, tail)); appendErr != nil {
		s.Logger.Warn("Failed to append progress for %s: %v", s.Job.ID, appendErr)
	}

	if res.ExitCode == 0 {
		return Result{Outcome: OutcomeComplete, Summary: tail}, nil
	}
	if brain.IsUsageLimit(res.Combined()) {
		return Result{Outcome: OutcomeHandoff, Summary: "usage limit"}, nil
	}
	s.Logger.Error("Assistant failed for %s (exit %d): %s", s.Job.ID, res.ExitCode, utils.OneLine(utils.Truncate(res.Stderr, 300)))
	return Result{Outcome: OutcomeFailed, Summary: fmt.Sprintf("exit code %d", res.ExitCode)}, nil
}

// tailRunes returns the last n runes of s.
func tailRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
