package gui

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omegaclaw/pkg/exec"
)

func fastOptions() Options {
	return Options{
		App:         "IDE",
		Shortcut:    "cmd+l",
		Interval:    5 * time.Millisecond,
		IdleTimeout: 200 * time.Millisecond,
		FastModel:   "fast-model",
	}
}

func TestClassifyPriority(t *testing.T) {
	tests := []struct {
		text string
		want Signal
	}{
		{"please allow this tool. usage limit reached. task completed", SignalPermission},
		{"usage limit reached, keep waiting?", SignalUsageLimit},
		{"The window is NOT RESPONDING", SignalFreeze},
		{"all changes applied", SignalDone},
		{"compiling main.go", SignalNone},
		{"", SignalNone},
	}
	for _, tt := range tests {
		if got := Classify(tt.text); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}

func TestWatchServicesSignalsThenStopsOnDone(t *testing.T) {
	act := NewFakeActuator(
		"building project",
		"allow file write?",
		"rate limit hit",
		"app not responding",
		"task completed",
	)
	c := NewController(act, nil, fastOptions())

	var limits, freezes int
	var doneReason string
	res, err := c.Watch(context.Background(), Hooks{
		OnLimit:  func() { limits++ },
		OnFreeze: func() { freezes++ },
		OnDone:   func(reason string) { doneReason = reason },
	})
	require.NoError(t, err)

	assert.Equal(t, ReasonDone, res.Reason)
	assert.Equal(t, 1, res.Permissions)
	assert.Equal(t, 1, res.Limits)
	assert.Equal(t, 1, res.Freezes)
	assert.Equal(t, 1, limits)
	assert.Equal(t, 1, freezes)
	assert.Equal(t, ReasonDone, doneReason)

	calls := strings.Join(act.Calls(), "\n")
	assert.Contains(t, calls, "key enter")
	assert.Contains(t, calls, "type |fast-model")
	assert.Contains(t, calls, "type cmd+l|Continue the task please.")
}

func TestWatchIdleIsImplicitCompletion(t *testing.T) {
	act := NewFakeActuator("compiling")
	c := NewController(act, nil, fastOptions())

	res, err := c.Watch(context.Background(), Hooks{})
	require.NoError(t, err)
	assert.Equal(t, ReasonIdle, res.Reason)
	assert.Greater(t, res.Polls, 1)
}

func TestWatchHonoursCancellation(t *testing.T) {
	act := NewFakeActuator("compiling")
	opts := fastOptions()
	opts.IdleTimeout = time.Hour
	c := NewController(act, nil, opts)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := c.Watch(ctx, Hooks{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestControllerIsExclusive(t *testing.T) {
	act := NewFakeActuator("compiling")
	opts := fastOptions()
	opts.IdleTimeout = time.Hour
	c := NewController(act, nil, opts)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = c.Watch(ctx, Hooks{})
	}()

	require.Eventually(t, c.Busy, time.Second, time.Millisecond)
	_, err := c.Run(context.Background(), "build it", Hooks{})
	assert.ErrorIs(t, err, ErrBusy)
	_, err = c.Prompt(context.Background(), "gemini", "hello")
	assert.ErrorIs(t, err, ErrBusy)

	cancel()
	wg.Wait()
	assert.False(t, c.Busy())
}

func TestRunTypesInstructionAndPicksModel(t *testing.T) {
	act := NewFakeActuator("ready > ", "working", "all changes applied")
	opts := fastOptions()
	opts.PlanningModel = "planner"
	opts.ReadyTimeout = time.Second
	c := NewController(act, nil, opts)

	res, err := c.Run(context.Background(), "Design the\nschema", Hooks{})
	require.NoError(t, err)
	assert.Equal(t, ReasonDone, res.Reason)

	calls := act.Calls()
	require.GreaterOrEqual(t, len(calls), 4)
	assert.Equal(t, "focus IDE", calls[0])
	assert.Equal(t, "resize IDE 0.80x0.90", calls[1])
	assert.Contains(t, calls, "type |planner")
	assert.Contains(t, calls, "type cmd+l|Design the schema")
}

func TestRunFailsWhenAppMissing(t *testing.T) {
	act := NewFakeActuator()
	act.Running = map[string]bool{}
	c := NewController(act, nil, fastOptions())

	_, err := c.Run(context.Background(), "build", Hooks{})
	assert.ErrorIs(t, err, ErrAppNotRunning)
	assert.False(t, c.Busy())
}

func TestModelFor(t *testing.T) {
	c := NewController(NewFakeActuator(), nil, Options{PlanningModel: "opus", FastModel: "flash"})
	assert.Equal(t, "opus", c.ModelFor("Plan the architecture"))
	assert.Equal(t, "flash", c.ModelFor("fix the login bug"))
}

func TestPromptBridgesClipboardIntoIDE(t *testing.T) {
	act := NewFakeActuator("thinking", "answer text", "answer text")
	act.Running = map[string]bool{"Safari": true, "IDE": true}
	act.Clip = "  generated spec  "
	opts := fastOptions()
	opts.ArtifactWait = time.Second
	c := NewController(act, nil, opts)

	artifact, err := c.Prompt(context.Background(), "gemini", "write a spec")
	require.NoError(t, err)
	assert.Equal(t, "generated spec", artifact)

	calls := act.Calls()
	assert.Equal(t, "focus Google Chrome", calls[0])
	assert.Equal(t, "focus Safari", calls[1])
	assert.Contains(t, calls, "type |write a spec")
	assert.Contains(t, calls, "key cmd+c")
	assert.Equal(t, "type cmd+l|generated spec", calls[len(calls)-1])
}

func TestLandmarksLocate(t *testing.T) {
	l := Landmarks{
		"2560x1440_primary": {"model_selector": {XRel: 0.5, YRel: 0.5}},
		"1920x1080_secondary": {
			"model_selector": {XRel: 0.1, YRel: 0.2},
			"accept_all":     {XRel: 0.5, YRel: 0.5},
		},
	}

	x, y, ok := l.Locate([]Screen{{W: 2560, H: 1440}}, "model_selector")
	require.True(t, ok)
	assert.Equal(t, 1280, x)
	assert.Equal(t, 720, y)

	// The leftmost monitor is used when there are several.
	screens := []Screen{{X: 0, W: 2560, H: 1440}, {X: -1920, W: 1920, H: 1080}}
	x, y, ok = l.Locate(screens, "model_selector")
	require.True(t, ok)
	assert.Equal(t, -1920+192, x)
	assert.Equal(t, 216, y)

	// Unknown layouts fall back to the 1080p secondary table.
	x, _, ok = l.Locate([]Screen{{W: 1280, H: 800}}, "accept_all")
	require.True(t, ok)
	assert.Equal(t, 640, x)

	_, _, ok = l.Locate(nil, "missing")
	assert.False(t, ok)
}

func TestLoadLandmarks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "landmarks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
1920x1080_secondary:
  model_selector: {x_rel: 0.25, y_rel: 0.75}
`), 0o644))

	l, err := LoadLandmarks(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, l["1920x1080_secondary"]["model_selector"].XRel, 1e-9)

	def, err := LoadLandmarks("")
	require.NoError(t, err)
	assert.Contains(t, def[fallbackLayout], LandmarkModelSelector)

	_, err = LoadLandmarks(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestKeyCommands(t *testing.T) {
	assert.Equal(t, []string{"kp:enter"}, keyCommands("enter"))
	assert.Equal(t, []string{"kd:cmd", "t:l", "ku:cmd"}, keyCommands("cmd+l"))
	assert.Equal(t, []string{"kd:cmd,shift", "kp:enter", "ku:cmd,shift"}, keyCommands("cmd+shift+enter"))
	assert.Equal(t, []string{"kp:arrow-up"}, keyCommands("up"))
}

func TestScriptActuatorFocus(t *testing.T) {
	mock := exec.NewMockExecutor("SUCCESS\n")
	a := NewScriptActuator(mock, t.TempDir())
	require.NoError(t, a.Focus(context.Background(), "IDE"))

	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "osascript", calls[0].Cmd[0])
	assert.Contains(t, calls[0].Cmd[2], `application process "IDE"`)

	mock.Result = exec.Result{Stdout: "FAIL"}
	err := a.Focus(context.Background(), "IDE")
	assert.True(t, errors.Is(err, ErrAppNotRunning))
}

func TestScriptActuatorReadScreen(t *testing.T) {
	mock := &exec.MockExecutor{Handler: func(_ context.Context, cmd []string, _ *exec.Opts) (exec.Result, error) {
		if cmd[0] == "tesseract" {
			return exec.Result{Stdout: "Task COMPLETED"}, nil
		}
		return exec.Result{}, nil
	}}
	a := NewScriptActuator(mock, t.TempDir())

	text, err := a.ReadScreen(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "task completed", text)

	calls := mock.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "screencapture", calls[0].Cmd[0])
	assert.Equal(t, calls[0].Cmd[2], calls[1].Cmd[1])
}

func TestScriptActuatorScreens(t *testing.T) {
	mock := exec.NewMockExecutor(`[{"x":0,"y":0,"w":2560,"h":1440},{"x":-1920,"y":0,"w":1920,"h":1080}]`)
	a := NewScriptActuator(mock, t.TempDir())

	screens, err := a.Screens(context.Background())
	require.NoError(t, err)
	require.Len(t, screens, 2)
	assert.Equal(t, Screen{X: -1920, W: 1920, H: 1080}, screens[1])

	x, y, w, h := centred(screens[0], 0.8, 0.9)
	assert.Equal(t, []int{256, 72, 2048, 1296}, []int{x, y, w, h})
}
