// Package mailbox implements the file-based job protocol shared by the
// dispatcher, the runner and the coding assistant: inbox job files, outbox
// progress reports, blocker/answer pairs, progress logs and runtime state.
//
// Every state file is read under a shared flock and written under an
// exclusive one, always wholesale.
package mailbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"omegaclaw/pkg/logx"
)

// Directory names under the mailbox root.
const (
	InboxDir    = "ai_inbox"
	OutboxDir   = "ai_outbox"
	StateDir    = "ai_state"
	BlockersDir = "blockers"
	ProgressDir = "progress"
)

var (
	// ErrNotFound is returned when a job, blocker or answer file is missing.
	ErrNotFound = errors.New("not found")

	// ErrBlockerOpen is returned when a job raises a blocker while an earlier
	// one is still unanswered.
	ErrBlockerOpen = errors.New("blocker already open")

	// ErrStatusRegression is returned when a status update would move a job backward.
	ErrStatusRegression = errors.New("job status can only move forward")
)

// Mailbox is a handle on one mailbox root.
type Mailbox struct {
	root   string
	logger *logx.Logger
}

// Open creates the directory layout under root if needed.
func Open(root string) (*Mailbox, error) {
	if root == "" {
		return nil, fmt.Errorf("mailbox root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve mailbox root: %w", err)
	}
	for _, d := range []string{InboxDir, OutboxDir, StateDir, BlockersDir, ProgressDir} {
		if err := os.MkdirAll(filepath.Join(abs, d), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create mailbox dir %s: %w", d, err)
		}
	}
	return &Mailbox{root: abs, logger: logx.NewLogger("mailbox")}, nil
}

// Root returns the mailbox root.
func (m *Mailbox) Root() string { return m.root }

// Dir returns the absolute path of one mailbox directory.
func (m *Mailbox) Dir(name string) string { return filepath.Join(m.root, name) }

// ProgressPath is the append-only progress log of a job.
func (m *Mailbox) ProgressPath(jobID string) string {
	return filepath.Join(m.Dir(ProgressDir), jobID+"-progress.md")
}

// ExecutionLogPath is the finalized audit log of a job.
func (m *Mailbox) ExecutionLogPath(jobID string) string {
	return filepath.Join(m.Dir(ProgressDir), jobID+"-execution-log.json")
}

// AuditPath is the running JSONL audit of a job's actions.
func (m *Mailbox) AuditPath(jobID string) string {
	return filepath.Join(m.Dir(ProgressDir), jobID+"-audit.jsonl")
}

func listDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || e.Name()[0] == '.' {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}
