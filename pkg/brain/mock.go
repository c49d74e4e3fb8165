package brain

import (
	"context"
	"fmt"
	"sync"
)

// MockBrain replays scripted responses for tests.
type MockBrain struct {
	name      string
	responses []string
	errors    []error
	prompts   []string
	index     int
	mu        sync.Mutex

	// Repeat keeps returning the last response once the script is exhausted.
	Repeat bool
}

// NewMockBrain creates a mock with predefined responses. errors[i], when
// non-nil, is returned instead of responses[i].
func NewMockBrain(name string, responses []string, errors []error) *MockBrain {
	return &MockBrain{name: name, responses: responses, errors: errors}
}

// Name implements Brain.
func (m *MockBrain) Name() string { return m.name }

// Ask returns the next scripted response or error.
func (m *MockBrain) Ask(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)

	i := m.index
	if i >= len(m.responses) && i >= len(m.errors) {
		if m.Repeat && len(m.responses) > 0 {
			return m.responses[len(m.responses)-1], nil
		}
		return "", fmt.Errorf("mock brain %s: no more responses", m.name)
	}
	m.index++
	if i < len(m.errors) && m.errors[i] != nil {
		return "", m.errors[i]
	}
	if i < len(m.responses) {
		return m.responses[i], nil
	}
	return "", nil
}

// Prompts returns every prompt received so far.
func (m *MockBrain) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}
