// Package gui drives a desktop IDE as a last-resort invocation path: focus
// and resize its window, type into it, click landmarks, and read the screen
// back through OCR.
package gui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"omegaclaw/pkg/exec"
)

// ErrAppNotRunning is returned when the target application has no process.
var ErrAppNotRunning = errors.New("application not running")

// Screen is one monitor frame in global coordinates.
type Screen struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// DefaultScreen is assumed when the monitor layout cannot be read.
var DefaultScreen = Screen{W: 1920, H: 1080}

// Actuator is the capability set the controller needs from the host.
type Actuator interface {
	// Focus brings app to the front.
	Focus(ctx context.Context, app string) error
	// Resize sets app's front window to the given fraction of the primary
	// screen, centred.
	Resize(ctx context.Context, app string, fw, fh float64) error
	// Type sends text followed by Enter. A non-empty shortcut (for example
	// "cmd+l") is pressed first to focus the input.
	Type(ctx context.Context, text, shortcut string) error
	// Key presses a key or chord such as "enter", "esc" or "cmd+a".
	Key(ctx context.Context, key string) error
	// Click clicks at absolute coordinates.
	Click(ctx context.Context, x, y int) error
	// Screens returns the monitor layout, primary first.
	Screens(ctx context.Context) ([]Screen, error)
	// ReadScreen returns the lowercased OCR text of the whole screen.
	ReadScreen(ctx context.Context) (string, error)
	// Clipboard returns the current clipboard text.
	Clipboard(ctx context.Context) (string, error)
}

// ScriptActuator implements Actuator on macOS by shelling out to osascript,
// cliclick, screencapture, tesseract and pbpaste.
type ScriptActuator struct {
	executor exec.Executor
	tmpDir   string
	timeout  time.Duration
}

// NewScriptActuator creates an actuator. Screenshots are written to tmpDir,
// or the system temp dir when empty.
func NewScriptActuator(executor exec.Executor, tmpDir string) *ScriptActuator {
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	return &ScriptActuator{executor: executor, tmpDir: tmpDir, timeout: 30 * time.Second}
}

func (a *ScriptActuator) run(ctx context.Context, cmd ...string) (string, error) {
	opts := exec.DefaultExecOpts()
	opts.Timeout = a.timeout
	res, err := a.executor.Run(ctx, cmd, &opts)
	if err != nil {
		return "", fmt.Errorf("%s: %w", cmd[0], err)
	}
	if res.ExitCode != 0 {
		return res.Stdout, fmt.Errorf("%s exited %d: %s", cmd[0], res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return res.Stdout, nil
}

func (a *ScriptActuator) osascript(ctx context.Context, script string) (string, error) {
	return a.run(ctx, "osascript", "-e", script)
}

// Focus implements Actuator.
func (a *ScriptActuator) Focus(ctx context.Context, app string) error {
	out, err := a.osascript(ctx, fmt.Sprintf(`tell application "System Events"
	if exists application process %q then
		tell application %q to activate
		return "SUCCESS"
	else
		return "FAIL"
	end if
end tell`, app, app))
	if err != nil {
		return fmt.Errorf("failed to focus %s: %w", app, err)
	}
	if !strings.Contains(out, "SUCCESS") {
		return fmt.Errorf("%s: %w", app, ErrAppNotRunning)
	}
	return nil
}

// Resize implements Actuator.
func (a *ScriptActuator) Resize(ctx context.Context, app string, fw, fh float64) error {
	screens, err := a.Screens(ctx)
	if err != nil || len(screens) == 0 {
		screens = []Screen{DefaultScreen}
	}
	x, y, w, h := centred(screens[0], fw, fh)
	out, err := a.osascript(ctx, fmt.Sprintf(`tell application "System Events"
	if exists application process %q then
		set theWindow to window 1 of application process %q
		set position of theWindow to {%d, %d}
		set size of theWindow to {%d, %d}
		return "SUCCESS"
	else
		return "FAIL"
	end if
end tell`, app, app, x, y, w, h))
	if err != nil {
		return fmt.Errorf("failed to resize %s: %w", app, err)
	}
	if !strings.Contains(out, "SUCCESS") {
		return fmt.Errorf("%s: %w", app, ErrAppNotRunning)
	}
	return nil
}

// centred returns the frame of a window sized fw x fh of s, centred on s.
func centred(s Screen, fw, fh float64) (x, y, w, h int) {
	w = int(float64(s.W) * fw)
	h = int(float64(s.H) * fh)
	x = s.X + (s.W-w)/2
	y = s.Y + (s.H-h)/2
	return x, y, w, h
}

// Type implements Actuator.
func (a *ScriptActuator) Type(ctx context.Context, text, shortcut string) error {
	if shortcut != "" {
		if err := a.Key(ctx, "esc"); err != nil {
			return err
		}
		if err := a.Key(ctx, shortcut); err != nil {
			return err
		}
	}
	if _, err := a.run(ctx, "cliclick", "-w", "10", "t:"+text); err != nil {
		return fmt.Errorf("failed to type: %w", err)
	}
	return a.Key(ctx, "enter")
}

// Key implements Actuator.
func (a *ScriptActuator) Key(ctx context.Context, key string) error {
	if _, err := a.run(ctx, append([]string{"cliclick"}, keyCommands(key)...)...); err != nil {
		return fmt.Errorf("failed to press %s: %w", key, err)
	}
	return nil
}

// keyCommands translates "cmd+shift+enter" style chords to cliclick
// commands: modifiers held down, the key pressed, modifiers released.
func keyCommands(key string) []string {
	parts := strings.Split(strings.ToLower(key), "+")
	last := parts[len(parts)-1]
	mods := parts[:len(parts)-1]

	var cmds []string
	if len(mods) > 0 {
		cmds = append(cmds, "kd:"+strings.Join(mods, ","))
	}
	switch last {
	case "enter", "esc", "return", "space", "tab", "delete", "arrow-up", "arrow-down":
		cmds = append(cmds, "kp:"+last)
	case "backspace":
		cmds = append(cmds, "kp:delete")
	case "up", "down":
		cmds = append(cmds, "kp:arrow-"+last)
	default:
		cmds = append(cmds, "t:"+last)
	}
	if len(mods) > 0 {
		cmds = append(cmds, "ku:"+strings.Join(mods, ","))
	}
	return cmds
}

// Click implements Actuator.
func (a *ScriptActuator) Click(ctx context.Context, x, y int) error {
	if _, err := a.run(ctx, "cliclick", fmt.Sprintf("c:%d,%d", x, y)); err != nil {
		return fmt.Errorf("failed to click: %w", err)
	}
	return nil
}

const screensScript = `ObjC.import('AppKit');
JSON.stringify(ObjC.unwrap($.NSScreen.screens).map(function (s) {
	var f = s.frame;
	return {x: f.origin.x, y: f.origin.y, w: f.size.width, h: f.size.height};
}));`

// Screens implements Actuator.
func (a *ScriptActuator) Screens(ctx context.Context) ([]Screen, error) {
	out, err := a.run(ctx, "osascript", "-l", "JavaScript", "-e", screensScript)
	if err != nil {
		return nil, fmt.Errorf("failed to read monitor layout: %w", err)
	}
	var screens []Screen
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &screens); err != nil {
		return nil, fmt.Errorf("failed to parse monitor layout: %w", err)
	}
	if len(screens) == 0 {
		return []Screen{DefaultScreen}, nil
	}
	return screens, nil
}

// ReadScreen implements Actuator.
func (a *ScriptActuator) ReadScreen(ctx context.Context) (string, error) {
	shot := filepath.Join(a.tmpDir, fmt.Sprintf("omegaclaw-screen-%d.png", os.Getpid()))
	defer os.Remove(shot)

	if _, err := a.run(ctx, "screencapture", "-x", shot); err != nil {
		return "", fmt.Errorf("failed to capture screen: %w", err)
	}
	text, err := a.run(ctx, "tesseract", shot, "stdout")
	if err != nil {
		return "", fmt.Errorf("failed to OCR screen: %w", err)
	}
	return strings.ToLower(text), nil
}

// Clipboard implements Actuator.
func (a *ScriptActuator) Clipboard(ctx context.Context) (string, error) {
	out, err := a.run(ctx, "pbpaste")
	if err != nil {
		return "", fmt.Errorf("failed to read clipboard: %w", err)
	}
	return out, nil
}
