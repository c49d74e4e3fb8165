package mailbox

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// Blocker file naming.
const (
	blockerPrefix       = "BLOCKED-"
	legacyBlockerSuffix = "-blocked.md"
	sentBlockerSuffix   = "-blocked-sent.md"
	answerPrefix        = "ANSWER-"
	legacyAnswerSuffix  = "-answer.md"
)

// Blocker is a request for human input.
type Blocker struct {
	Time    time.Time
	JobID   string
	Path    string
	Reason  string
	Content string
	Cycle   int
	Sent    bool
	Legacy  bool
}

var (
	reasonRe       = regexp.MustCompile(`(?s)## Reason\s*\n+(.*)`)
	answerRe       = regexp.MustCompile(`(?s)## Answer\s*\n+(.+)`)
	blockerTimeRe  = regexp.MustCompile(`(?m)^\*\*Time\*\*:\s*(\S+)`)
	blockerCycleRe = regexp.MustCompile(`(?m)^\*\*Cycle\*\*:\s*(\d+)`)
)

func (m *Mailbox) blockerPath(jobID string) string {
	return filepath.Join(m.Dir(BlockersDir), blockerPrefix+jobID+".md")
}

func (m *Mailbox) legacyBlockerPath(jobID string) string {
	return filepath.Join(m.Dir(BlockersDir), jobID+legacyBlockerSuffix)
}

func (m *Mailbox) sentBlockerPath(jobID string) string {
	return filepath.Join(m.Dir(BlockersDir), jobID+sentBlockerSuffix)
}

func (m *Mailbox) answerPath(jobID string) string {
	return filepath.Join(m.Dir(BlockersDir), answerPrefix+jobID+".md")
}

func (m *Mailbox) legacyAnswerPath(jobID string) string {
	return filepath.Join(m.Dir(BlockersDir), jobID+legacyAnswerSuffix)
}

// guard serializes blocker and answer transitions for one job.
func (m *Mailbox) guard(jobID string) (func(), error) {
	return acquire(filepath.Join(m.Dir(BlockersDir), jobID+".blocker"), unix.LOCK_EX)
}

// blockerJobID extracts the job id from any blocker file name.
func blockerJobID(name string) (id string, legacy, sent bool, ok bool) {
	switch {
	case strings.HasSuffix(name, sentBlockerSuffix):
		return strings.TrimSuffix(name, sentBlockerSuffix), false, true, true
	case strings.HasPrefix(name, blockerPrefix) && strings.HasSuffix(name, ".md"):
		return strings.TrimSuffix(strings.TrimPrefix(name, blockerPrefix), ".md"), false, false, true
	case strings.HasSuffix(name, legacyBlockerSuffix):
		return strings.TrimSuffix(name, legacyBlockerSuffix), true, false, true
	}
	return "", false, false, false
}

// RenderBlocker produces the blocker file body.
func RenderBlocker(jobID, reason string, cycle int, at time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Blocker: %s\n\n", jobID)
	fmt.Fprintf(&b, "**Time**: %s\n", at.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "**Cycle**: %d\n\n", cycle)
	fmt.Fprintf(&b, "## Reason\n\n%s\n", strings.TrimSpace(reason))
	return b.String()
}

// RaiseBlocker writes BLOCKED-<job>.md. While any earlier blocker for the job
// is unanswered the new one is rejected with ErrBlockerOpen and its reason is
// appended to the progress log instead.
func (m *Mailbox) RaiseBlocker(jobID, reason string, cycle int) error {
	unlock, err := m.guard(jobID)
	if err != nil {
		return err
	}
	defer unlock()

	if open := m.openBlockerPathUnlocked(jobID); open != "" {
		note := fmt.Sprintf("\n**Rejected blocker** (%s, cycle %d): %s\n",
			time.Now().UTC().Format(time.RFC3339), cycle, strings.TrimSpace(reason))
		if appendErr := m.AppendProgress(jobID, note); appendErr != nil {
			m.logger.Warn("Failed to record rejected blocker for %s: %v", jobID, appendErr)
		}
		return fmt.Errorf("job %s (%s): %w", jobID, filepath.Base(open), ErrBlockerOpen)
	}

	path := m.blockerPath(jobID)
	if err := writeLocked(path, []byte(RenderBlocker(jobID, reason, cycle, time.Now()))); err != nil {
		return err
	}
	m.logger.Info("⛔ Blocker raised for %s", jobID)
	return nil
}

func (m *Mailbox) openBlockerPathUnlocked(jobID string) string {
	for _, p := range []string{m.blockerPath(jobID), m.legacyBlockerPath(jobID), m.sentBlockerPath(jobID)} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// HasOpenBlocker reports whether the job has an unanswered blocker.
func (m *Mailbox) HasOpenBlocker(jobID string) bool {
	return m.openBlockerPathUnlocked(jobID) != ""
}

// OpenBlocker returns the job's unanswered blocker.
func (m *Mailbox) OpenBlocker(jobID string) (*Blocker, error) {
	path := m.openBlockerPathUnlocked(jobID)
	if path == "" {
		return nil, fmt.Errorf("blocker for %s: %w", jobID, ErrNotFound)
	}
	return m.readBlocker(path)
}

func (m *Mailbox) readBlocker(path string) (*Blocker, error) {
	name := filepath.Base(path)
	id, legacy, sent, ok := blockerJobID(name)
	if !ok {
		return nil, fmt.Errorf("not a blocker file: %s", name)
	}
	data, err := readLocked(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blocker %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read blocker %s: %w", name, err)
	}
	b := &Blocker{JobID: id, Path: path, Content: string(data), Legacy: legacy, Sent: sent}
	b.Reason = ParseReason(b.Content)
	if mt := blockerTimeRe.FindStringSubmatch(b.Content); mt != nil {
		b.Time, _ = time.Parse(time.RFC3339, mt[1])
	}
	if mc := blockerCycleRe.FindStringSubmatch(b.Content); mc != nil {
		b.Cycle, _ = strconv.Atoi(mc[1])
	}
	return b, nil
}

// ParseReason returns the body of the "## Reason" section, or the whole text.
func ParseReason(content string) string {
	if m := reasonRe.FindStringSubmatch(content); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(content)
}

// UnsentBlockers lists blockers (new and legacy names) not yet relayed,
// sorted by job id.
func (m *Mailbox) UnsentBlockers() ([]*Blocker, []error) {
	names, err := listDir(m.Dir(BlockersDir))
	if err != nil {
		return nil, []error{err}
	}
	sort.Strings(names)

	var (
		out  []*Blocker
		errs []error
	)
	for _, name := range names {
		_, _, sent, ok := blockerJobID(name)
		if !ok || sent {
			continue
		}
		b, err := m.readBlocker(filepath.Join(m.Dir(BlockersDir), name))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, b)
	}
	return out, errs
}

// MarkBlockerSent renames a relayed blocker to <job>-blocked-sent.md.
func (m *Mailbox) MarkBlockerSent(b *Blocker) error {
	unlock, err := m.guard(b.JobID)
	if err != nil {
		return err
	}
	defer unlock()

	dst := m.sentBlockerPath(b.JobID)
	if err := os.Rename(b.Path, dst); err != nil {
		return fmt.Errorf("failed to mark blocker %s sent: %w", b.JobID, err)
	}
	_ = os.Remove(lockPath(b.Path))
	b.Path = dst
	b.Sent = true
	return nil
}

// RenderAnswer produces the answer file body.
func RenderAnswer(jobID, answer string, at time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# User Response for %s\n\n", jobID)
	fmt.Fprintf(&b, "**Received**: %s\n\n", at.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "## Answer\n\n%s\n", strings.TrimSpace(answer))
	return b.String()
}

// ParseAnswer extracts the "## Answer" body, falling back to the whole text.
func ParseAnswer(content string) string {
	if m := answerRe.FindStringSubmatch(content); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(content)
}

// WriteAnswer stores the user's reply as ANSWER-<job>.md.
func (m *Mailbox) WriteAnswer(jobID, answer string) error {
	unlock, err := m.guard(jobID)
	if err != nil {
		return err
	}
	defer unlock()
	return writeLocked(m.answerPath(jobID), []byte(RenderAnswer(jobID, answer, time.Now())))
}

// HasAnswer reports whether an answer file (either name) exists.
func (m *Mailbox) HasAnswer(jobID string) bool {
	for _, p := range []string{m.answerPath(jobID), m.legacyAnswerPath(jobID)} {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}

// ConsumeAnswer reads and deletes the job's answer and closes its blocker.
// ok is false when no answer exists yet.
func (m *Mailbox) ConsumeAnswer(jobID string) (answer string, ok bool, err error) {
	unlock, err := m.guard(jobID)
	if err != nil {
		return "", false, err
	}
	defer unlock()

	for _, p := range []string{m.answerPath(jobID), m.legacyAnswerPath(jobID)} {
		data, readErr := readLocked(p)
		if readErr != nil {
			if os.IsNotExist(readErr) {
				continue
			}
			return "", false, fmt.Errorf("failed to read answer for %s: %w", jobID, readErr)
		}
		if err := removeLocked(p); err != nil {
			return "", false, err
		}
		m.closeBlockerUnlocked(jobID)
		return ParseAnswer(string(data)), true, nil
	}
	return "", false, nil
}

// CloseBlocker removes every blocker file of the job.
func (m *Mailbox) CloseBlocker(jobID string) error {
	unlock, err := m.guard(jobID)
	if err != nil {
		return err
	}
	defer unlock()
	m.closeBlockerUnlocked(jobID)
	return nil
}

func (m *Mailbox) closeBlockerUnlocked(jobID string) {
	for _, p := range []string{m.blockerPath(jobID), m.legacyBlockerPath(jobID), m.sentBlockerPath(jobID)} {
		if err := removeLocked(p); err != nil {
			m.logger.Warn("Failed to remove blocker file %s: %v", filepath.Base(p), err)
		}
	}
}
