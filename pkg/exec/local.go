package exec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// ErrTimeout is returned when a command exceeds Opts.Timeout.
var ErrTimeout = errors.New("command timed out")

// LocalExec executes commands directly on the local system without sandboxing.
type LocalExec struct{}

// NewLocalExec creates a new LocalExec executor.
func NewLocalExec() *LocalExec {
	return &LocalExec{}
}

// Name returns the executor type name.
func (e *LocalExec) Name() ExecutorType {
	return ExecutorTypeLocal
}

// Available returns true since local execution is always available.
func (e *LocalExec) Available() bool {
	return true
}

// Run executes a command locally with the given options.
func (e *LocalExec) Run(ctx context.Context, cmd []string, opts *Opts) (Result, error) {
	if len(cmd) == 0 {
		return Result{}, fmt.Errorf("command cannot be empty")
	}
	if opts == nil {
		defaults := DefaultExecOpts()
		opts = &defaults
	}

	startTime := time.Now()

	runCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	execCmd := exec.CommandContext(runCtx, cmd[0], cmd[1:]...)
	configureTermination(execCmd, opts.KillGrace)

	if opts.WorkDir != "" {
		if _, err := os.Stat(opts.WorkDir); os.IsNotExist(err) {
			return Result{}, fmt.Errorf("working directory does not exist: %s", opts.WorkDir)
		}
		execCmd.Dir = opts.WorkDir
	}

	if len(opts.Env) > 0 {
		execCmd.Env = append(os.Environ(), opts.Env...)
	}

	if opts.Stdin != "" {
		execCmd.Stdin = strings.NewReader(opts.Stdin)
	}

	stdout, stderr, exitCode, err := e.executeCommand(execCmd)

	result := Result{
		ExitCode:     exitCode,
		Stdout:       stdout,
		Stderr:       stderr,
		Duration:     time.Since(startTime),
		ExecutorUsed: string(e.Name()),
	}

	// The caller checks ExitCode for ordinary failures; only timeouts and
	// spawn errors come back as errors.
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		result.TimedOut = true
		return result, fmt.Errorf("%w after %s: %s", ErrTimeout, opts.Timeout, cmd[0])
	}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	return result, err
}

// executeCommand runs the command and captures output.
func (e *LocalExec) executeCommand(cmd *exec.Cmd) (stdout, stderr string, exitCode int, err error) {
	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err = cmd.Run()

	stdout = stdoutBuf.String()
	stderr = stderrBuf.String()

	if err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			return stdout, stderr, exitError.ExitCode(), nil
		}
		return stdout, stderr, -1, err
	}
	return stdout, stderr, 0, nil
}

// configureTermination makes context cancellation send SIGTERM first and
// escalate to SIGKILL once the grace window has passed.
func configureTermination(cmd *exec.Cmd, grace time.Duration) {
	if grace <= 0 {
		grace = DefaultKillGrace
	}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = grace
}

// Terminate stops a running process with SIGTERM and follows up with SIGKILL
// if it is still alive after grace. The done channel must close when the
// process has been reaped.
func Terminate(p *os.Process, done <-chan struct{}, grace time.Duration) {
	if p == nil {
		return
	}
	if grace <= 0 {
		grace = DefaultKillGrace
	}
	_ = p.Signal(syscall.SIGTERM)
	select {
	case <-done:
	case <-time.After(grace):
		_ = p.Kill()
	}
}

// TerminateGroup is Terminate for a process that leads its own process
// group, so children it spawned are stopped with it.
func TerminateGroup(pid int, done <-chan struct{}, grace time.Duration) {
	if pid <= 0 {
		return
	}
	if grace <= 0 {
		grace = DefaultKillGrace
	}
	_ = syscall.Kill(-pid, syscall.SIGTERM)
	select {
	case <-done:
		// Stragglers that outlived the leader still get the kill.
		_ = syscall.Kill(-pid, syscall.SIGKILL)
	case <-time.After(grace):
		_ = syscall.Kill(-pid, syscall.SIGKILL)
	}
}
