package mailbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Session states persisted with a checkpoint.
const (
	SessionRunning = "running"
	SessionBlocked = "blocked"
	SessionStalled = "stalled"
	SessionPaused  = "paused"
)

// Checkpoint is the resumable state of a running job.
type Checkpoint struct {
	UpdatedAt  time.Time `json:"updated_at"`
	JobID      string    `json:"job_id"`
	RunID      string    `json:"run_id,omitempty"`
	Strategy   string    `json:"strategy"`
	State      string    `json:"state"`
	Phase      string    `json:"phase"`
	LastResult string    `json:"last_result,omitempty"`
	Actions    []string  `json:"actions,omitempty"`
	Cycle      int       `json:"cycle"`
	UserID     int64     `json:"user_id,omitempty"`
}

func (m *Mailbox) statePath(name string) string {
	return filepath.Join(m.Dir(StateDir), name+".json")
}

func checkpointName(jobID string) string { return "job-" + jobID }

// SaveState writes v as JSON to the state directory under an exclusive lock.
func (m *Mailbox) SaveState(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state %s: %w", name, err)
	}
	return writeLocked(m.statePath(name), data)
}

// LoadState reads JSON state into v under a shared lock. Missing state returns
// ErrNotFound.
func (m *Mailbox) LoadState(name string, v any) error {
	data, err := readLocked(m.statePath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("state %s: %w", name, ErrNotFound)
		}
		return fmt.Errorf("failed to read state %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode state %s: %w", name, err)
	}
	return nil
}

// DeleteState removes a state file.
func (m *Mailbox) DeleteState(name string) error {
	return removeLocked(m.statePath(name))
}

// SaveCheckpoint stores a job checkpoint.
func (m *Mailbox) SaveCheckpoint(cp *Checkpoint) error {
	cp.UpdatedAt = time.Now().UTC()
	return m.SaveState(checkpointName(cp.JobID), cp)
}

// LoadCheckpoint returns the job checkpoint or ErrNotFound.
func (m *Mailbox) LoadCheckpoint(jobID string) (*Checkpoint, error) {
	var cp Checkpoint
	if err := m.LoadState(checkpointName(jobID), &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// SetSessionState updates only the state field of a checkpoint, creating it
// if needed.
func (m *Mailbox) SetSessionState(jobID, state string) error {
	path := m.statePath(checkpointName(jobID))
	return updateLocked(path, func(old []byte) ([]byte, error) {
		cp := Checkpoint{JobID: jobID}
		if len(old) > 0 {
			if err := json.Unmarshal(old, &cp); err != nil {
				return nil, fmt.Errorf("failed to decode checkpoint %s: %w", jobID, err)
			}
		}
		cp.State = state
		cp.UpdatedAt = time.Now().UTC()
		return json.MarshalIndent(cp, "", "  ")
	})
}

// DeleteCheckpoint removes the job checkpoint.
func (m *Mailbox) DeleteCheckpoint(jobID string) error {
	return m.DeleteState(checkpointName(jobID))
}

// Checkpoints lists every stored job checkpoint sorted by job id.
func (m *Mailbox) Checkpoints() ([]*Checkpoint, error) {
	names, err := listDir(m.Dir(StateDir))
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	var out []*Checkpoint
	for _, name := range names {
		if !strings.HasPrefix(name, "job-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		jobID := strings.TrimSuffix(strings.TrimPrefix(name, "job-"), ".json")
		cp, err := m.LoadCheckpoint(jobID)
		if err != nil {
			m.logger.Warn("Skipping unreadable checkpoint %s: %v", name, err)
			continue
		}
		out = append(out, cp)
	}
	return out, nil
}
