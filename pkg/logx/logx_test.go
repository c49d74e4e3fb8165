package logx

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// setupTestLogger redirects output into a buffer until the test ends.
func setupTestLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(nil) })
	return &buf
}

// withDebug enables debug for the duration of the test.
func withDebug(t *testing.T, domains ...string) {
	t.Helper()
	SetDebugConfig(true, false, "")
	SetDebugDomains(domains)
	t.Cleanup(func() {
		SetDebugConfig(false, false, "")
		SetDebugDomains(nil)
	})
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger("runner")
	if logger.Component() != "runner" {
		t.Errorf("Expected component 'runner', got '%s'", logger.Component())
	}
}

func TestLogFormat(t *testing.T) {
	buf := setupTestLogger(t)

	logger := NewLogger("runner")
	logger.Info("Test message with %s", "formatting")

	output := buf.String()
	if !strings.Contains(output, "[runner]") {
		t.Errorf("Expected component in output, got: %s", output)
	}
	if !strings.Contains(output, "INFO") {
		t.Errorf("Expected log level in output, got: %s", output)
	}
	if !strings.Contains(output, "Test message with formatting") {
		t.Errorf("Expected formatted message in output, got: %s", output)
	}

	// [2024-01-01T00:00:00.000Z] prefix
	end := strings.Index(output, "]")
	if end < 2 {
		t.Fatalf("Expected bracketed timestamp, got: %s", output)
	}
	if _, err := time.Parse(timestampFormat, output[1:end]); err != nil {
		t.Errorf("Timestamp not in expected format: %v", err)
	}
}

func TestLogLevels(t *testing.T) {
	buf := setupTestLogger(t)
	withDebug(t)

	logger := NewLogger("levels")
	tests := []struct {
		logFunc  func(string, ...any)
		expected Level
	}{
		{logger.Debug, LevelDebug},
		{logger.Info, LevelInfo},
		{logger.Warn, LevelWarn},
		{logger.Error, LevelError},
	}

	for _, tt := range tests {
		buf.Reset()
		tt.logFunc("level check")
		if !strings.Contains(buf.String(), string(tt.expected)+": level check") {
			t.Errorf("Expected %s line, got %q", tt.expected, buf.String())
		}
	}
}

func TestDebugSuppressedWhenDisabled(t *testing.T) {
	buf := setupTestLogger(t)
	SetDebugConfig(false, false, "")

	NewLogger("quiet").Debug("should not appear")
	Debug(context.Background(), "runner", "should not appear either")

	if buf.Len() != 0 {
		t.Errorf("Expected no output with debug disabled, got %q", buf.String())
	}
}

func TestDebugDomainFiltering(t *testing.T) {
	buf := setupTestLogger(t)
	withDebug(t, "runner")

	ctx := WithComponent(context.Background(), "poller")
	Debug(ctx, "runner", "visible %d", 1)
	Debug(ctx, "invoke", "hidden")

	output := buf.String()
	if !strings.Contains(output, "[poller] DEBUG: [runner] visible 1") {
		t.Errorf("Expected runner domain line, got %q", output)
	}
	if strings.Contains(output, "hidden") {
		t.Errorf("Did not expect invoke domain output, got %q", output)
	}
	if !IsDebugEnabledForDomain("runner") || IsDebugEnabledForDomain("invoke") {
		t.Error("Domain filter not applied")
	}
}

func TestDebugUnknownComponent(t *testing.T) {
	buf := setupTestLogger(t)
	withDebug(t)

	Debug(context.Background(), "mailbox", "no component")
	if !strings.Contains(buf.String(), "[unknown]") {
		t.Errorf("Expected unknown component, got %q", buf.String())
	}
}

func TestDebugFileLogging(t *testing.T) {
	setupTestLogger(t)
	dir := t.TempDir()
	SetDebugConfig(true, true, dir)
	t.Cleanup(func() { SetDebugConfig(false, false, "") })

	Debug(context.Background(), "relay", "to file")
	Debug(context.Background(), "relay", "twice")

	data, err := os.ReadFile(filepath.Join(dir, "relay.log"))
	if err != nil {
		t.Fatalf("Expected debug file: %v", err)
	}
	if strings.Count(string(data), "\n") != 2 {
		t.Errorf("Expected two appended lines, got %q", string(data))
	}
}

func TestInitDebugFromEnv(t *testing.T) {
	t.Setenv("DEBUG", "true")
	t.Setenv("DEBUG_DOMAINS", "runner, gui")
	initDebugFromEnv()
	t.Cleanup(func() {
		SetDebugConfig(false, false, "")
		SetDebugDomains(nil)
	})

	if !IsDebugEnabledForDomain("gui") {
		t.Error("Expected gui domain enabled from env")
	}
	if IsDebugEnabledForDomain("dispatch") {
		t.Error("Expected dispatch domain disabled from env")
	}
}

func TestWithComponent(t *testing.T) {
	buf := setupTestLogger(t)

	base := NewLogger("runner")
	child := base.WithComponent("script:JOB-001")
	child.Warn("cycle %d", 3)

	if !strings.Contains(buf.String(), "[script:JOB-001] WARN: cycle 3") {
		t.Errorf("Expected child component, got %q", buf.String())
	}
	if base.Component() != "runner" {
		t.Error("Parent logger should be unchanged")
	}
}

func TestWrapAndErrorf(t *testing.T) {
	buf := setupTestLogger(t)

	if Wrap(nil, "noop") != nil {
		t.Error("Wrap(nil) should be nil")
	}

	base := errors.New("disk full")
	err := Wrap(base, "write report")
	if !errors.Is(err, base) {
		t.Error("Wrap should preserve the cause")
	}
	if err.Error() != "write report: disk full" {
		t.Errorf("Unexpected message %q", err.Error())
	}

	err = Errorf("open %s: %w", "ledger", base)
	if !errors.Is(err, base) {
		t.Error("Errorf should preserve the cause")
	}
	if strings.Count(buf.String(), "ERROR") != 2 {
		t.Errorf("Expected two error lines, got %q", buf.String())
	}
}
