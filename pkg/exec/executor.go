// Package exec provides the child-process abstraction used by the invocation strategies,
// the command-line brain and the GUI actuator.
package exec

import (
	"context"
	"time"
)

// ExecutorType represents the type of executor.
type ExecutorType string

// Executor type constants.
const (
	ExecutorTypeLocal ExecutorType = "local"
)

// Executor defines the interface for executing commands.
type Executor interface {
	// Run executes a command with the given options and returns the result.
	// A non-zero exit code is reported in Result.ExitCode with a nil error;
	// the error is reserved for spawn failures and timeouts.
	Run(ctx context.Context, cmd []string, opts *Opts) (Result, error)

	// Name returns the executor type name for logging/debugging.
	Name() ExecutorType

	// Available returns true if this executor can be used in the current environment.
	Available() bool
}

// Opts contains options for command execution.
type Opts struct {
	// Env contains environment variables (KEY=VALUE format) added to the parent environment.
	Env []string

	// Stdin is fed to the child when non-empty.
	Stdin string

	// WorkDir is the working directory for the command.
	WorkDir string

	// Timeout is the maximum duration for command execution.
	Timeout time.Duration

	// KillGrace is how long a child gets between SIGTERM and SIGKILL once
	// the context is done. Zero uses DefaultKillGrace.
	KillGrace time.Duration
}

// Result contains the result of command execution.
type Result struct {
	// Stdout contains the standard output.
	Stdout string

	// Stderr contains the standard error output.
	Stderr string

	// ExecutorUsed indicates which executor was used (for debugging)
	ExecutorUsed string

	// Duration is how long the command took to execute.
	Duration time.Duration

	// ExitCode is the exit code of the command, -1 if it never started or was killed.
	ExitCode int

	// TimedOut is set when the command was stopped by Opts.Timeout.
	TimedOut bool
}

// Combined returns stdout followed by stderr.
func (r Result) Combined() string {
	return r.Stdout + r.Stderr
}

// DefaultKillGrace is the SIGTERM to SIGKILL escalation window.
const DefaultKillGrace = 5 * time.Second

// DefaultExecOpts returns default execution options.
func DefaultExecOpts() Opts {
	return Opts{
		Timeout:   5 * time.Minute,
		KillGrace: DefaultKillGrace,
	}
}
