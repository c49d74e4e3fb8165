package exec

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLocalExec_Name(t *testing.T) {
	exec := NewLocalExec()
	if exec.Name() != ExecutorTypeLocal {
		t.Errorf("Expected name 'local', got %s", exec.Name())
	}
}

func TestLocalExec_Available(t *testing.T) {
	exec := NewLocalExec()
	if !exec.Available() {
		t.Error("LocalExec should always be available")
	}
}

func TestLocalExec_Run_Success(t *testing.T) {
	exec := NewLocalExec()
	ctx := context.Background()

	opts := DefaultExecOpts()
	result, err := exec.Run(ctx, []string{"echo", "hello world"}, &opts)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if result.ExitCode != 0 {
		t.Errorf("Expected exit code 0, got %d", result.ExitCode)
	}

	if strings.TrimSpace(result.Stdout) != "hello world" {
		t.Errorf("Expected stdout 'hello world', got %s", result.Stdout)
	}

	if result.ExecutorUsed != "local" {
		t.Errorf("Expected executor 'local', got %s", result.ExecutorUsed)
	}

	if result.Duration <= 0 {
		t.Error("Expected positive duration")
	}
}

func TestLocalExec_Run_Failure(t *testing.T) {
	exec := NewLocalExec()

	opts := DefaultExecOpts()
	result, err := exec.Run(context.Background(), []string{"false"}, &opts)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if result.ExitCode != 1 {
		t.Errorf("Expected exit code 1, got %d", result.ExitCode)
	}
}

func TestLocalExec_Run_EmptyCommand(t *testing.T) {
	exec := NewLocalExec()

	opts := DefaultExecOpts()
	_, err := exec.Run(context.Background(), []string{}, &opts)
	if err == nil {
		t.Error("Expected error for empty command")
	}
}

func TestLocalExec_Run_NilOpts(t *testing.T) {
	exec := NewLocalExec()

	result, err := exec.Run(context.Background(), []string{"echo", "defaults"}, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if strings.TrimSpace(result.Stdout) != "defaults" {
		t.Errorf("Expected stdout 'defaults', got %q", result.Stdout)
	}
}

func TestLocalExec_Run_WorkDir(t *testing.T) {
	exec := NewLocalExec()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	opts := DefaultExecOpts()
	opts.WorkDir = dir
	result, err := exec.Run(context.Background(), []string{"ls"}, &opts)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !strings.Contains(result.Stdout, "marker.txt") {
		t.Errorf("Expected listing of work dir, got %q", result.Stdout)
	}
}

func TestLocalExec_Run_MissingWorkDir(t *testing.T) {
	exec := NewLocalExec()

	opts := DefaultExecOpts()
	opts.WorkDir = filepath.Join(t.TempDir(), "nope")
	if _, err := exec.Run(context.Background(), []string{"true"}, &opts); err == nil {
		t.Error("Expected error for missing work dir")
	}
}

func TestLocalExec_Run_EnvAndStdin(t *testing.T) {
	exec := NewLocalExec()

	opts := DefaultExecOpts()
	opts.Env = []string{"CLAW_TEST_VAR=from-env"}
	opts.Stdin = "from-stdin"
	result, err := exec.Run(context.Background(), []string{"sh", "-c", "echo $CLAW_TEST_VAR; cat"}, &opts)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !strings.Contains(result.Stdout, "from-env") || !strings.Contains(result.Stdout, "from-stdin") {
		t.Errorf("Expected env and stdin in output, got %q", result.Stdout)
	}
}

func TestLocalExec_Run_Timeout(t *testing.T) {
	exec := NewLocalExec()

	opts := Opts{Timeout: 200 * time.Millisecond, KillGrace: 100 * time.Millisecond}
	start := time.Now()
	result, err := exec.Run(context.Background(), []string{"sleep", "5"}, &opts)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}
	if !result.TimedOut {
		t.Error("Expected TimedOut to be set")
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("Timeout took too long: %s", time.Since(start))
	}
}

func TestLocalExec_Run_IgnoresTermGetsKilled(t *testing.T) {
	exec := NewLocalExec()

	opts := Opts{Timeout: 200 * time.Millisecond, KillGrace: 200 * time.Millisecond}
	start := time.Now()
	_, err := exec.Run(context.Background(), []string{"sh", "-c", "trap '' TERM; sleep 5"}, &opts)
	if err == nil {
		t.Fatal("Expected error for killed command")
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("Kill escalation took too long: %s", time.Since(start))
	}
}

func TestResult_Combined(t *testing.T) {
	r := Result{Stdout: "out\n", Stderr: "err\n"}
	if r.Combined() != "out\nerr\n" {
		t.Errorf("Unexpected combined output %q", r.Combined())
	}
}
