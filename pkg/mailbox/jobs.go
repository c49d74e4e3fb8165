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
)

// Status is the lifecycle status written into a job file.
type Status string

// Job statuses in forward order.
const (
	StatusPending  Status = "PENDING"
	StatusBuilding Status = "BUILDING"
	StatusComplete Status = "COMPLETE"
	StatusFailed   Status = "FAILED"
)

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusBuilding:
		return 1
	case StatusComplete, StatusFailed:
		return 2
	default:
		return -1
	}
}

// Terminal reports whether s is COMPLETE or FAILED.
func (s Status) Terminal() bool { return s.rank() == 2 }

// Job autonomy modes written by onboarding.
const (
	ModeFullDiscovery = "FULL DISCOVERY"
	ModeQuickStart    = "QUICK START"
	ModeJustBuild     = "JUST BUILD"
)

// Job is a parsed inbox job file.
type Job struct {
	CreatedAt time.Time
	ID        string
	Path      string
	Name      string
	Kit       string
	Mode      string
	Audience  string
	Content   string
	Status    Status
	UserID    int64
}

var (
	statusRe  = regexp.MustCompile(`STATUS(\*\*)?:\s*(PENDING|BUILDING|COMPLETE|FAILED)\b`)
	jobIDRe   = regexp.MustCompile(`^JOB-(\d+)$`)
	titleRe   = regexp.MustCompile(`(?m)^#\s+[^:\n]+:\s*(.+)$`)
	createdRe = regexp.MustCompile(`(?mi)^\*\*CREATED\*\*:\s*(\S+)`)
)

// IsJobFile reports whether name follows either job naming convention.
func IsJobFile(name string) bool {
	if !strings.HasSuffix(name, ".md") {
		return false
	}
	return strings.HasPrefix(name, "JOB-") || strings.HasPrefix(name, "FOUNDER_JOB")
}

// ParseJob extracts the structured fields of a job file. Unknown or missing
// fields are left empty.
func ParseJob(id, content string) *Job {
	job := &Job{ID: id, Content: content}
	if m := statusRe.FindStringSubmatch(content); m != nil {
		job.Status = Status(m[2])
	}
	if m := titleRe.FindStringSubmatch(content); m != nil {
		job.Name = strings.TrimSpace(m[1])
	}
	if v := field(content, "Project Name"); v != "" {
		job.Name = v
	}
	job.Kit = field(content, "Kit")
	job.Mode = field(content, "Requested Mode")
	if job.Mode == "" {
		job.Mode = field(content, "Mode")
	}
	job.Audience = field(content, "Audience & Purpose")
	if v := field(content, "User"); v != "" {
		job.UserID, _ = strconv.ParseInt(v, 10, 64)
	}
	if m := createdRe.FindStringSubmatch(content); m != nil {
		if t, err := time.Parse(time.RFC3339, m[1]); err == nil {
			job.CreatedAt = t
		}
	}
	return job
}

// field finds "**Name**: value" on its own line (optionally as a list item) and
// strips surrounding backticks.
func field(content, name string) string {
	re := regexp.MustCompile(`(?m)^(?:-\s+)?\*\*` + regexp.QuoteMeta(name) + `\*\*:\s*(.+)$`)
	m := re.FindStringSubmatch(content)
	if m == nil {
		return ""
	}
	return strings.Trim(strings.TrimSpace(m[1]), "`")
}

func (m *Mailbox) jobPath(id string) string {
	return filepath.Join(m.Dir(InboxDir), id+".md")
}

// ReadJob loads one job by id.
func (m *Mailbox) ReadJob(id string) (*Job, error) {
	path := m.jobPath(id)
	data, err := readLocked(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read job %s: %w", id, err)
	}
	job := ParseJob(id, string(data))
	job.Path = path
	if job.CreatedAt.IsZero() {
		if info, statErr := os.Stat(path); statErr == nil {
			job.CreatedAt = info.ModTime()
		}
	}
	return job, nil
}

// ListJobs returns every job in the inbox sorted by id. A file that cannot be
// read is skipped and reported in the returned error list so one bad file
// never hides the others.
func (m *Mailbox) ListJobs() ([]*Job, []error) {
	names, err := listDir(m.Dir(InboxDir))
	if err != nil {
		return nil, []error{err}
	}
	sort.Strings(names)

	var (
		jobs []*Job
		errs []error
	)
	for _, name := range names {
		if !IsJobFile(name) {
			continue
		}
		job, err := m.ReadJob(strings.TrimSuffix(name, ".md"))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, errs
}

// SetStatus rewrites the STATUS field of a job in place. Both the bold and
// the plain form are rewritten. Moving backward returns ErrStatusRegression;
// setting the current status again is a no-op.
func (m *Mailbox) SetStatus(id string, to Status) error {
	if to.rank() < 0 {
		return fmt.Errorf("invalid job status %q", to)
	}
	path := m.jobPath(id)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("job %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("failed to stat job %s: %w", id, err)
	}

	return updateLocked(path, func(old []byte) ([]byte, error) {
		content := string(old)
		match := statusRe.FindStringSubmatch(content)
		if match == nil {
			return nil, fmt.Errorf("job %s has no STATUS field", id)
		}
		from := Status(match[2])
		if from == to {
			return old, nil
		}
		if to.rank() <= from.rank() {
			return nil, fmt.Errorf("job %s %s → %s: %w", id, from, to, ErrStatusRegression)
		}
		return []byte(statusRe.ReplaceAllString(content, "STATUS${1}: "+string(to))), nil
	})
}

// NextJobID returns the next free JOB-NNN id.
func (m *Mailbox) NextJobID() (string, error) {
	names, err := listDir(m.Dir(InboxDir))
	if err != nil {
		return "", err
	}
	maxID := 0
	for _, name := range names {
		stem := strings.TrimSuffix(name, ".md")
		if sm := jobIDRe.FindStringSubmatch(stem); sm != nil {
			if n, err := strconv.Atoi(sm[1]); err == nil && n > maxID {
				maxID = n
			}
		}
	}
	return fmt.Sprintf("JOB-%03d", maxID+1), nil
}

// NewJob describes a job to create.
type NewJob struct {
	Name     string
	Audience string
	Kit      string
	Mode     string
	Details  string
	UserID   int64
}

// CreateJob writes a PENDING job file with the next free id. Creation is
// exclusive, so two concurrent submitters never share an id.
func (m *Mailbox) CreateJob(req NewJob) (*Job, error) {
	for attempt := 0; attempt < 10; attempt++ {
		id, err := m.NextJobID()
		if err != nil {
			return nil, err
		}
		path := m.jobPath(id)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			if os.IsExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to create job %s: %w", id, err)
		}
		content := RenderJob(id, req, time.Now())
		_, writeErr := f.WriteString(content)
		closeErr := f.Close()
		if writeErr != nil || closeErr != nil {
			_ = os.Remove(path)
			return nil, fmt.Errorf("failed to write job %s: %w", id, firstErr(writeErr, closeErr))
		}
		m.logger.Info("📥 Created job %s (%s)", id, req.Name)
		return m.ReadJob(id)
	}
	return nil, fmt.Errorf("failed to allocate a job id after repeated collisions")
}

// RenderJob produces the markdown body of a new job file.
func RenderJob(id string, req NewJob, created time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s: %s\n\n", id, req.Name)
	fmt.Fprintf(&b, "**STATUS**: %s\n", StatusPending)
	fmt.Fprintf(&b, "**CREATED**: %s\n", created.UTC().Format(time.RFC3339))
	if req.UserID != 0 {
		fmt.Fprintf(&b, "**User**: %d\n", req.UserID)
	}
	b.WriteString("\n---\n\n## Context\n\n")
	fmt.Fprintf(&b, "- **Kit**: `%s`\n", req.Kit)
	fmt.Fprintf(&b, "- **Requested Mode**: `%s`\n", req.Mode)
	b.WriteString("\n## Objective\n\n")
	fmt.Fprintf(&b, "**Project Name**: %s\n", req.Name)
	fmt.Fprintf(&b, "**Audience & Purpose**: %s\n", req.Audience)
	if req.Details != "" {
		fmt.Fprintf(&b, "\n## Details\n\n%s\n", strings.TrimSpace(req.Details))
	}
	b.WriteString("\n---\n\n## Execution\n\n")
	b.WriteString("1. Plan the build for the kit and mode above.\n")
	b.WriteString("2. Build it in the project directory.\n")
	b.WriteString("3. Report progress after each phase; raise a blocker when you need the user.\n")
	return b.String()
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
