package gui

import (
	"context"
	"fmt"
	"sync"
)

// FakeActuator records every call and serves screen text from a script.
// Once the script is exhausted the last frame repeats.
//
//nolint:govet // Field order chosen for readability over memory alignment.
type FakeActuator struct {
	Frames    []string
	Layout    []Screen
	Clip      string
	FocusErr  error
	Running   map[string]bool
	mu        sync.Mutex
	calls     []string
	nextFrame int
}

// NewFakeActuator creates a fake whose screen shows frames in order.
func NewFakeActuator(frames ...string) *FakeActuator {
	return &FakeActuator{Frames: frames}
}

func (f *FakeActuator) record(format string, args ...any) {
	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	f.mu.Unlock()
}

// Calls returns the recorded calls, for example "key enter" or "click 10,20".
func (f *FakeActuator) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Focus implements Actuator.
func (f *FakeActuator) Focus(_ context.Context, app string) error {
	f.record("focus %s", app)
	if f.Running != nil && !f.Running[app] {
		return fmt.Errorf("%s: %w", app, ErrAppNotRunning)
	}
	return f.FocusErr
}

// Resize implements Actuator.
func (f *FakeActuator) Resize(_ context.Context, app string, fw, fh float64) error {
	f.record("resize %s %.2fx%.2f", app, fw, fh)
	return nil
}

// Type implements Actuator.
func (f *FakeActuator) Type(_ context.Context, text, shortcut string) error {
	f.record("type %s|%s", shortcut, text)
	return nil
}

// Key implements Actuator.
func (f *FakeActuator) Key(_ context.Context, key string) error {
	f.record("key %s", key)
	return nil
}

// Click implements Actuator.
func (f *FakeActuator) Click(_ context.Context, x, y int) error {
	f.record("click %d,%d", x, y)
	return nil
}

// Screens implements Actuator.
func (f *FakeActuator) Screens(context.Context) ([]Screen, error) {
	if len(f.Layout) == 0 {
		return []Screen{DefaultScreen}, nil
	}
	return f.Layout, nil
}

// ReadScreen implements Actuator.
func (f *FakeActuator) ReadScreen(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Frames) == 0 {
		return "", nil
	}
	i := f.nextFrame
	if i >= len(f.Frames) {
		i = len(f.Frames) - 1
	} else {
		f.nextFrame++
	}
	return f.Frames[i], nil
}

// Clipboard implements Actuator.
func (f *FakeActuator) Clipboard(context.Context) (string, error) {
	f.record("clipboard")
	return f.Clip, nil
}
