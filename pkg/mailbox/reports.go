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

// Report status tags.
const (
	ReportInProgress = "IN_PROGRESS"
	ReportComplete   = "COMPLETE"
	ReportPaused     = "PAUSED"
	ReportStalled    = "STALLED"
)

// Relay bounds for report summaries.
const (
	summaryScanLimit = 1500
	summarySendLimit = 1000
)

var (
	reportNameRe   = regexp.MustCompile(`^REPORT-(.+)-(\d+)\.md$`)
	reportStatusRe = regexp.MustCompile(`(?m)^\*\*Status\*\*:\s*(\w+)`)
	reportPhaseRe  = regexp.MustCompile(`(?m)^\*\*Phase\*\*:\s*(.+)$`)
)

// Report is one outbox progress report.
type Report struct {
	Time    time.Time
	JobID   string
	Path    string
	Name    string
	Phase   string
	Status  string
	Content string
	Actions []string
	Next    string
	Cycle   int
}

// ParseReportName splits REPORT-<job>-<cycle>.md.
func ParseReportName(name string) (jobID string, cycle int, ok bool) {
	m := reportNameRe.FindStringSubmatch(name)
	if m == nil {
		return "", 0, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return m[1], n, true
}

// RenderReport produces the outbox report body.
func RenderReport(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Report: %s\n\n", r.JobID)
	fmt.Fprintf(&b, "**Time**: %s\n", r.Time.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "**Phase**: %s\n", r.Phase)
	fmt.Fprintf(&b, "**Cycle**: %d\n", r.Cycle)
	fmt.Fprintf(&b, "**Status**: %s\n\n", r.Status)
	b.WriteString("## Summary\n\n")
	if len(r.Actions) == 0 {
		b.WriteString("- (no actions)\n")
	}
	for _, a := range r.Actions {
		fmt.Fprintf(&b, "- %s\n", a)
	}
	if r.Next != "" {
		fmt.Fprintf(&b, "\n## Next\n\n%s\n", r.Next)
	}
	return b.String()
}

// WriteReport writes REPORT-<job>-<cycle>.md to the outbox.
func (m *Mailbox) WriteReport(r *Report) error {
	if r.Time.IsZero() {
		r.Time = time.Now()
	}
	if r.Status == "" {
		r.Status = ReportInProgress
	}
	r.Name = fmt.Sprintf("REPORT-%s-%d.md", r.JobID, r.Cycle)
	r.Path = filepath.Join(m.Dir(OutboxDir), r.Name)
	r.Content = RenderReport(r)
	return writeLocked(r.Path, []byte(r.Content))
}

// FreeReportCycle returns cycle, or the next cycle after it that has no
// report for the job in the outbox.
func (m *Mailbox) FreeReportCycle(jobID string, cycle int) int {
	for {
		path := filepath.Join(m.Dir(OutboxDir), fmt.Sprintf("REPORT-%s-%d.md", jobID, cycle))
		if _, err := os.Stat(path); err != nil {
			return cycle
		}
		cycle++
	}
}

// ListReports returns outbox reports sorted by job id, then numeric cycle.
// Directory order is never trusted.
func (m *Mailbox) ListReports() ([]*Report, []error) {
	names, err := listDir(m.Dir(OutboxDir))
	if err != nil {
		return nil, []error{err}
	}

	var (
		reports []*Report
		errs    []error
	)
	for _, name := range names {
		jobID, cycle, ok := ParseReportName(name)
		if !ok {
			continue
		}
		path := filepath.Join(m.Dir(OutboxDir), name)
		data, err := readLocked(path)
		if err != nil {
			if !os.IsNotExist(err) {
				errs = append(errs, fmt.Errorf("failed to read report %s: %w", name, err))
			}
			continue
		}
		r := &Report{JobID: jobID, Cycle: cycle, Name: name, Path: path, Content: string(data)}
		if sm := reportStatusRe.FindStringSubmatch(r.Content); sm != nil {
			r.Status = sm[1]
		}
		if pm := reportPhaseRe.FindStringSubmatch(r.Content); pm != nil {
			r.Phase = strings.TrimSpace(pm[1])
		}
		reports = append(reports, r)
	}

	SortReports(reports)
	return reports, errs
}

// SortReports orders reports by job id, then numeric cycle.
func SortReports(reports []*Report) {
	sort.SliceStable(reports, func(i, j int) bool {
		if reports[i].JobID != reports[j].JobID {
			return reports[i].JobID < reports[j].JobID
		}
		return reports[i].Cycle < reports[j].Cycle
	})
}

// HasTerminalReport reports whether the job has a COMPLETE report.
func (m *Mailbox) HasTerminalReport(jobID string) bool {
	reports, _ := m.ListReports()
	for _, r := range reports {
		if r.JobID == jobID && r.Status == ReportComplete {
			return true
		}
	}
	return false
}

// Summary bounds a report for relaying: the first 1500 characters, cut at
// "## Next", then at most 1000 characters.
func Summary(content string) string {
	s := truncateRunes(content, summaryScanLimit)
	if i := strings.Index(s, "## Next"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(truncateRunes(s, summarySendLimit))
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
