package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// UpsertJob inserts a job or refreshes its descriptive fields. Status is only
// written when the transition moves forward.
func (s *Store) UpsertJob(job *Job) error {
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.Status == "" {
		job.Status = StatusPending
	}

	query := `
		INSERT INTO jobs (id, name, kit, mode, status, summary, user_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE jobs.name END,
			kit = CASE WHEN excluded.kit <> '' THEN excluded.kit ELSE jobs.kit END,
			mode = CASE WHEN excluded.mode <> '' THEN excluded.mode ELSE jobs.mode END,
			user_id = CASE WHEN excluded.user_id <> 0 THEN excluded.user_id ELSE jobs.user_id END,
			updated_at = excluded.updated_at
	`
	_, err := s.db.Exec(query,
		job.ID, job.Name, job.Kit, job.Mode, job.Status, job.Summary, job.UserID,
		formatTime(job.CreatedAt), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert job %s: %w", job.ID, err)
	}

	current, err := s.GetJob(job.ID)
	if err != nil {
		return err
	}
	if current.Status != job.Status && CanTransition(current.Status, job.Status) {
		return s.UpdateJobStatus(job.ID, job.Status, job.Summary)
	}
	return nil
}

// UpdateJobStatus moves a job forward. Backward or sideways transitions are
// ignored without error.
func (s *Store) UpdateJobStatus(jobID, status, summary string) error {
	if statusRank(status) < 0 {
		return fmt.Errorf("invalid job status %q", status)
	}
	now := formatTime(time.Now())

	var completedAt any
	if statusRank(status) == 2 {
		completedAt = now
	}

	query := `
		UPDATE jobs SET
			status = ?,
			summary = CASE WHEN ? <> '' THEN ? ELSE summary END,
			updated_at = ?,
			completed_at = COALESCE(?, completed_at)
		WHERE id = ? AND (CASE status
			WHEN 'PENDING' THEN 0 WHEN 'BUILDING' THEN 1 ELSE 2 END) < ?
	`
	res, err := s.db.Exec(query, status, summary, summary, now, completedAt, jobID, statusRank(status))
	if err != nil {
		return fmt.Errorf("failed to update job %s status: %w", jobID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		s.logger.Debug("status update %s → %s skipped (missing or not forward)", jobID, status)
	}
	return nil
}

// GetJob returns one job.
func (s *Store) GetJob(jobID string) (*Job, error) {
	row := s.db.QueryRow(`
		SELECT id, name, kit, mode, status, summary, user_id, created_at, updated_at, completed_at
		FROM jobs WHERE id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}
	return job, nil
}

// ListJobs returns jobs newest first.
func (s *Store) ListJobs(filter JobFilter) ([]*Job, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}

	query := `SELECT id, name, kit, mode, status, summary, user_id, created_at, updated_at, completed_at FROM jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}
	return jobs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job                  Job
		createdAt, updatedAt string
		completedAt          sql.NullString
	)
	if err := row.Scan(&job.ID, &job.Name, &job.Kit, &job.Mode, &job.Status, &job.Summary,
		&job.UserID, &createdAt, &updatedAt, &completedAt); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context
	}
	job.CreatedAt = parseTime(createdAt)
	job.UpdatedAt = parseTime(updatedAt)
	if completedAt.Valid {
		t := parseTime(completedAt.String)
		job.CompletedAt = &t
	}
	return &job, nil
}

// LogCommand appends one handled message to the command log. The message and
// response are sealed when encryption is enabled; callers redact first.
func (s *Store) LogCommand(entry *CommandEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	message, err := s.seal(entry.Message)
	if err != nil {
		return err
	}
	response, err := s.seal(entry.Response)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(`
		INSERT INTO command_log (user_id, message, intent, response, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		entry.UserID, message, entry.Intent, response, formatTime(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to log command: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// RecentCommands returns the latest command log entries for a user, newest
// first. A zero userID returns entries for everyone.
func (s *Store) RecentCommands(userID int64, limit int) ([]*CommandEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, user_id, message, intent, response, created_at FROM command_log`
	var args []any
	if userID != 0 {
		query += " WHERE user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query command log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*CommandEntry
	for rows.Next() {
		var (
			e         CommandEntry
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Message, &e.Intent, &e.Response, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan command: %w", err)
		}
		if e.Message, err = s.open(e.Message); err != nil {
			return nil, err
		}
		if e.Response, err = s.open(e.Response); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating command log: %w", err)
	}
	return entries, nil
}

// SaveWizardState stores a user's wizard progress with sealed answers.
func (s *Store) SaveWizardState(state *WizardState) error {
	raw, err := json.Marshal(state.Answers)
	if err != nil {
		return fmt.Errorf("failed to marshal wizard answers: %w", err)
	}
	answers, err := s.seal(string(raw))
	if err != nil {
		return err
	}
	state.UpdatedAt = time.Now()

	_, err = s.db.Exec(`
		INSERT INTO wizard_state (user_id, blueprint_id, step, answers, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			blueprint_id = excluded.blueprint_id,
			step = excluded.step,
			answers = excluded.answers,
			updated_at = excluded.updated_at`,
		state.UserID, state.BlueprintID, state.Step, answers, formatTime(state.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save wizard state for %d: %w", state.UserID, err)
	}
	return nil
}

// LoadWizardState returns a user's wizard progress or ErrNotFound.
func (s *Store) LoadWizardState(userID int64) (*WizardState, error) {
	var (
		state     WizardState
		answers   string
		updatedAt string
	)
	err := s.db.QueryRow(`
		SELECT user_id, blueprint_id, step, answers, updated_at
		FROM wizard_state WHERE user_id = ?`, userID).
		Scan(&state.UserID, &state.BlueprintID, &state.Step, &answers, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("wizard state for %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load wizard state for %d: %w", userID, err)
	}

	plain, err := s.open(answers)
	if err != nil {
		return nil, err
	}
	state.Answers = map[string]string{}
	if plain != "" {
		if err := json.Unmarshal([]byte(plain), &state.Answers); err != nil {
			return nil, fmt.Errorf("failed to decode wizard answers: %w", err)
		}
	}
	state.UpdatedAt = parseTime(updatedAt)
	return &state, nil
}

// DeleteWizardState removes a user's wizard progress.
func (s *Store) DeleteWizardState(userID int64) error {
	if _, err := s.db.Exec(`DELETE FROM wizard_state WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to delete wizard state for %d: %w", userID, err)
	}
	return nil
}

// SetAutonomyMode records a user's permission-prompt policy.
func (s *Store) SetAutonomyMode(userID int64, mode string) error {
	switch mode {
	case AutonomyFull, AutonomySecurity, AutonomyManual:
	default:
		return fmt.Errorf("invalid autonomy mode %q", mode)
	}
	_, err := s.db.Exec(`
		INSERT INTO autonomy_state (user_id, mode, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET mode = excluded.mode, updated_at = excluded.updated_at`,
		userID, mode, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to set autonomy mode for %d: %w", userID, err)
	}
	return nil
}

// AutonomyMode returns a user's policy, defaulting to full.
func (s *Store) AutonomyMode(userID int64) (string, error) {
	var mode string
	err := s.db.QueryRow(`SELECT mode FROM autonomy_state WHERE user_id = ?`, userID).Scan(&mode)
	if errors.Is(err, sql.ErrNoRows) {
		return AutonomyFull, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read autonomy mode for %d: %w", userID, err)
	}
	return mode, nil
}

// ReportID is the ledger key of a progress report.
func ReportID(jobID string, cycle int) string {
	return fmt.Sprintf("%s#%d", jobID, cycle)
}

// MarkDelivered records that a report reached the user. Recording the same
// report twice is a no-op.
func (s *Store) MarkDelivered(jobID string, cycle int) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO delivered_reports (report_id, job_id, cycle, delivered_at)
		VALUES (?, ?, ?, ?)`,
		ReportID(jobID, cycle), jobID, cycle, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to record delivery of %s cycle %d: %w", jobID, cycle, err)
	}
	return nil
}

// IsDelivered reports whether a report was already relayed.
func (s *Store) IsDelivered(jobID string, cycle int) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM delivered_reports WHERE report_id = ?`,
		ReportID(jobID, cycle)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check delivery of %s cycle %d: %w", jobID, cycle, err)
	}
	return n > 0, nil
}

// DeliveredReports lists ledger rows, optionally for one job, ordered by job then cycle.
func (s *Store) DeliveredReports(jobID string) ([]*DeliveredReport, error) {
	query := `SELECT report_id, job_id, cycle, delivered_at FROM delivered_reports`
	var args []any
	if jobID != "" {
		query += " WHERE job_id = ?"
		args = append(args, jobID)
	}
	query += " ORDER BY job_id, cycle"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*DeliveredReport
	for rows.Next() {
		var (
			r  DeliveredReport
			at string
		)
		if err := rows.Scan(&r.ReportID, &r.JobID, &r.Cycle, &at); err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		r.DeliveredAt = parseTime(at)
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger: %w", err)
	}
	return out, nil
}
