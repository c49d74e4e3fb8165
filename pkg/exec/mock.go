package exec

import (
	"context"
	"sync"
)

// MockExecutor is a test executor that simulates command execution without
// running anything. Handler, when set, decides the result per call; otherwise
// Result and Error are returned.
//
//nolint:govet // Field order chosen for readability over memory alignment.
type MockExecutor struct {
	Handler func(ctx context.Context, cmd []string, opts *Opts) (Result, error)
	Result  Result
	Error   error

	mu    sync.Mutex
	calls []MockExecCall
}

// MockExecCall records a single call to the mock executor.
type MockExecCall struct {
	Cmd  []string
	Opts Opts
}

// NewMockExecutor creates a mock executor that exits 0 with output.
func NewMockExecutor(output string) *MockExecutor {
	return &MockExecutor{Result: Result{Stdout: output}}
}

// Name returns the executor type name.
func (m *MockExecutor) Name() ExecutorType { return "mock" }

// Available always returns true.
func (m *MockExecutor) Available() bool { return true }

// Run records the call and returns the configured result.
func (m *MockExecutor) Run(ctx context.Context, cmd []string, opts *Opts) (Result, error) {
	call := MockExecCall{Cmd: append([]string(nil), cmd...)}
	if opts != nil {
		call.Opts = *opts
	}
	m.mu.Lock()
	m.calls = append(m.calls, call)
	handler := m.Handler
	m.mu.Unlock()

	if handler != nil {
		return handler(ctx, cmd, opts)
	}
	return m.Result, m.Error
}

// Calls returns a copy of every recorded call.
func (m *MockExecutor) Calls() []MockExecCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockExecCall(nil), m.calls...)
}
