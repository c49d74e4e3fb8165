package persistence

import (
	"time"
)

// Job status values, in forward order.
const (
	StatusPending  = "PENDING"
	StatusBuilding = "BUILDING"
	StatusComplete = "COMPLETE"
	StatusFailed   = "FAILED"
)

// Autonomy modes governing permission prompts.
const (
	AutonomyFull     = "full"
	AutonomySecurity = "security"
	AutonomyManual   = "manual"
)

// ValidStatuses returns all job statuses.
func ValidStatuses() []string {
	return []string{StatusPending, StatusBuilding, StatusComplete, StatusFailed}
}

// statusRank orders statuses so updates can only move forward. The two
// terminal statuses share a rank.
func statusRank(status string) int {
	switch status {
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

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to string) bool {
	rf, rt := statusRank(from), statusRank(to)
	if rf < 0 || rt < 0 {
		return false
	}
	return rt > rf
}

// Job is the denormalized copy of a mailbox job.
type Job struct {
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Kit         string     `json:"kit"`
	Mode        string     `json:"mode"`
	Status      string     `json:"status"`
	Summary     string     `json:"summary,omitempty"`
	UserID      int64      `json:"user_id,omitempty"`
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	Status string
	Limit  int
}

// CommandEntry is one handled chat message.
type CommandEntry struct {
	CreatedAt time.Time `json:"created_at"`
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Message   string    `json:"message"`
	Intent    string    `json:"intent"`
	Response  string    `json:"response"`
}

// WizardState is the persisted progress of one user's installation dialogue.
type WizardState struct {
	UpdatedAt   time.Time         `json:"updated_at"`
	Answers     map[string]string `json:"answers"`
	BlueprintID string            `json:"blueprint_id"`
	UserID      int64             `json:"user_id"`
	Step        int               `json:"step"`
}

// DeliveredReport is one ledger row.
type DeliveredReport struct {
	DeliveredAt time.Time `json:"delivered_at"`
	ReportID    string    `json:"report_id"`
	JobID       string    `json:"job_id"`
	Cycle       int       `json:"cycle"`
}
