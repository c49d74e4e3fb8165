// Package report renders the read-only status replies: hive board, job
// history, inbox and the combined full report.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"omegaclaw/pkg/mailbox"
	"omegaclaw/pkg/persistence"
)

// BoardFile is the optional master board in the mailbox root.
const BoardFile = "master-job-board.md"

const (
	boardExcerpt = 600
	historySize  = 10
)

// JobLister reads job history.
type JobLister interface {
	ListJobs(filter persistence.JobFilter) ([]*persistence.Job, error)
}

// Reporter builds report text. It never writes.
type Reporter struct {
	mailbox *mailbox.Mailbox
	jobs    JobLister
	now     func() time.Time
}

// New creates a reporter. jobs may be nil, in which case history comes from
// the mailbox.
func New(mb *mailbox.Mailbox, jobs JobLister) *Reporter {
	return &Reporter{mailbox: mb, jobs: jobs, now: time.Now}
}

var statusIcons = map[string]string{
	persistence.StatusPending:  "⏳",
	persistence.StatusBuilding: "🔄",
	persistence.StatusComplete: "✅",
	persistence.StatusFailed:   "❌",
}

func icon(status string) string {
	if i, ok := statusIcons[status]; ok {
		return i
	}
	return "❓"
}

// Hive shows the head of the master board, or mailbox counts without one.
func (r *Reporter) Hive() string {
	board, err := readHead(filepath.Join(r.mailbox.Root(), BoardFile), boardExcerpt)
	if err == nil && strings.TrimSpace(board) != "" {
		return fmt.Sprintf("🐝 **Hive Status**\n\n```\n%s\n```", board)
	}

	jobs, _ := r.mailbox.ListJobs()
	if len(jobs) == 0 {
		return "🐝 **Hive**: Idle, no jobs in the inbox."
	}
	counts := map[mailbox.Status]int{}
	for _, j := range jobs {
		counts[j.Status]++
	}
	var b strings.Builder
	b.WriteString("🐝 **Hive Status**\n\n")
	for _, st := range []mailbox.Status{mailbox.StatusPending, mailbox.StatusBuilding, mailbox.StatusComplete, mailbox.StatusFailed} {
		fmt.Fprintf(&b, "%s %s: %d\n", icon(string(st)), st, counts[st])
	}
	blockers, _ := r.mailbox.UnsentBlockers()
	open := 0
	for _, j := range jobs {
		if r.mailbox.HasOpenBlocker(j.ID) {
			open++
		}
	}
	fmt.Fprintf(&b, "🚧 Open blockers: %d (%d not yet relayed)", open, len(blockers))
	return b.String()
}

func readHead(path string, n int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, n))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

type historyRow struct {
	id, name, status string
}

func (r *Reporter) history() []historyRow {
	var rows []historyRow
	if r.jobs != nil {
		jobs, err := r.jobs.ListJobs(persistence.JobFilter{Limit: historySize})
		if err == nil {
			for _, j := range jobs {
				rows = append(rows, historyRow{j.ID, j.Name, j.Status})
			}
			return rows
		}
	}
	jobs, _ := r.mailbox.ListJobs()
	for i := len(jobs) - 1; i >= 0 && len(rows) < historySize; i-- {
		rows = append(rows, historyRow{jobs[i].ID, jobs[i].Name, string(jobs[i].Status)})
	}
	return rows
}

// Jobs lists the last ten jobs, newest first.
func (r *Reporter) Jobs() string {
	rows := r.history()
	if len(rows) == 0 {
		return "📋 **Job History**: No jobs recorded yet."
	}
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, fmt.Sprintf("%s **%s** %s (%s)", icon(row.status), row.id, row.name, row.status))
	}
	return fmt.Sprintf("📋 **Job History** (last %d)\n\n%s", len(lines), strings.Join(lines, "\n"))
}

// Inbox lists the jobs still waiting to be picked up.
func (r *Reporter) Inbox() string {
	jobs, _ := r.mailbox.ListJobs()
	var lines []string
	for _, j := range jobs {
		if j.Status == mailbox.StatusPending {
			lines = append(lines, fmt.Sprintf("• %s %s", j.ID, j.Name))
		}
	}
	if len(lines) == 0 {
		return "📋 **Inbox**: No pending jobs."
	}
	return fmt.Sprintf("📋 **Inbox** (%d jobs)\n\n%s", len(lines), strings.Join(lines, "\n"))
}

// Full combines the hive status and job history.
func (r *Reporter) Full() string {
	return fmt.Sprintf("📊 **Full Report** (%s)\n\n%s\n\n%s",
		r.now().Format("15:04 02/01/2006"), r.Hive(), r.Jobs())
}
