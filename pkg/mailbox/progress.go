package mailbox

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// AuditEntry records one executed action.
type AuditEntry struct {
	Time       time.Time `json:"time"`
	Type       string    `json:"type"`
	Command    string    `json:"command,omitempty"`
	Path       string    `json:"path,omitempty"`
	Output     string    `json:"output,omitempty"`
	ReturnCode int       `json:"returncode"`
	Size       int       `json:"size,omitempty"`
	Cycle      int       `json:"cycle"`
}

// InitProgress writes the initial progress file listing the three phases.
func (m *Mailbox) InitProgress(jobID, mode string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Progress: %s\n\n", jobID)
	fmt.Fprintf(&b, "**Started**: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "**Mode**: %s\n", mode)
	b.WriteString("**Status**: BUILDING\n\n")
	b.WriteString("## Phases\n\n")
	b.WriteString("- [ ] PRE-PRODUCTION (Planning)\n")
	b.WriteString("- [ ] PRODUCTION (Building)\n")
	b.WriteString("- [ ] POST-PRODUCTION (Testing)\n")
	return writeLocked(m.ProgressPath(jobID), []byte(b.String()))
}

// AppendProgress appends free text to the job's progress log.
func (m *Mailbox) AppendProgress(jobID, text string) error {
	return appendLocked(m.ProgressPath(jobID), []byte(text))
}

// AppendCycle appends a cycle section to the progress log.
func (m *Mailbox) AppendCycle(jobID string, cycle int, phase string, actions []string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "\n\n---\n## Cycle %d\n", cycle)
	fmt.Fprintf(&b, "**Time**: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "**Phase**: %s\n\n", phase)
	b.WriteString("### Recent Actions\n")
	for _, a := range actions {
		fmt.Fprintf(&b, "- %s\n", a)
	}
	return m.AppendProgress(jobID, b.String())
}

// ReadProgress returns the progress log.
func (m *Mailbox) ReadProgress(jobID string) (string, error) {
	data, err := readLocked(m.ProgressPath(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("progress for %s: %w", jobID, ErrNotFound)
		}
		return "", fmt.Errorf("failed to read progress for %s: %w", jobID, err)
	}
	return string(data), nil
}

// AppendAudit records one action in the job's running audit log.
func (m *Mailbox) AppendAudit(jobID string, e AuditEntry) error {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	return appendLocked(m.AuditPath(jobID), append(line, '\n'))
}

// ReadAudit returns every recorded action of the job.
func (m *Mailbox) ReadAudit(jobID string) ([]AuditEntry, error) {
	data, err := readLocked(m.AuditPath(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read audit for %s: %w", jobID, err)
	}
	var entries []AuditEntry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		var e AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("corrupt audit entry for %s: %w", jobID, err)
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

// FinalizeExecutionLog writes the complete audit as <job>-execution-log.json.
func (m *Mailbox) FinalizeExecutionLog(jobID string) (string, error) {
	entries, err := m.ReadAudit(jobID)
	if err != nil {
		return "", err
	}
	if entries == nil {
		entries = []AuditEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal execution log: %w", err)
	}
	path := m.ExecutionLogPath(jobID)
	if err := writeLocked(path, data); err != nil {
		return "", err
	}
	return path, nil
}
