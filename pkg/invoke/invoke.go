// Package invoke implements the strategies that drive the external coding
// assistant for one job: a single print-mode run, an interactive PTY session,
// the script-cycle loop and the GUI fallback.
package invoke

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"omegaclaw/pkg/config"
	"omegaclaw/pkg/events"
	"omegaclaw/pkg/logx"
	"omegaclaw/pkg/mailbox"
	"omegaclaw/pkg/metrics"
	"omegaclaw/pkg/utils"
)

// Outcome is how a strategy run ended.
type Outcome string

// Strategy outcomes.
const (
	OutcomeComplete  Outcome = "complete"
	OutcomeFailed    Outcome = "failed"
	OutcomePaused    Outcome = "paused"
	OutcomeStalled   Outcome = "stalled"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeHandoff   Outcome = "handoff"
)

// ErrStalled is returned by AwaitAnswer once every reminder went unanswered.
var ErrStalled = errors.New("blocker unanswered")

// Result describes a finished strategy run.
type Result struct {
	Outcome Outcome
	Summary string
	Cycle   int
}

// Strategy drives the external process for one job until a terminal outcome.
// Stop is cooperative through ctx.
type Strategy interface {
	Name() string
	Start(ctx context.Context, s *Session) (Result, error)
}

// Settings are the limits a strategy runs under.
type Settings struct {
	MaxCycles      int
	ReportEvery    int
	AnswerTimeout  time.Duration
	AnswerRenotify int
	AnswerPoll     time.Duration
	MaxIdle        time.Duration
	Heartbeat      time.Duration
	SimpleTimeout  time.Duration
	BashTimeout    time.Duration
	KillGrace      time.Duration
}

// SettingsFrom converts invoker configuration.
func SettingsFrom(cfg config.InvokerConfig) Settings {
	return Settings{
		MaxCycles:      cfg.MaxCycles,
		ReportEvery:    cfg.ReportEvery,
		AnswerTimeout:  cfg.AnswerTimeout,
		AnswerRenotify: cfg.AnswerRenotify,
		AnswerPoll:     2 * time.Second,
		MaxIdle:        cfg.MaxIdle,
		Heartbeat:      cfg.HeartbeatInterval,
		SimpleTimeout:  cfg.SimpleTimeout,
		BashTimeout:    cfg.BashTimeout,
		KillGrace:      cfg.KillGrace,
	}
}

func (st Settings) withDefaults() Settings {
	if st.MaxCycles <= 0 {
		st.MaxCycles = 50
	}
	if st.ReportEvery <= 0 {
		st.ReportEvery = 5
	}
	if st.AnswerTimeout <= 0 {
		st.AnswerTimeout = 30 * time.Minute
	}
	if st.AnswerPoll <= 0 {
		st.AnswerPoll = 2 * time.Second
	}
	if st.MaxIdle <= 0 {
		st.MaxIdle = 600 * time.Second
	}
	if st.Heartbeat <= 0 {
		st.Heartbeat = 60 * time.Second
	}
	if st.SimpleTimeout <= 0 {
		st.SimpleTimeout = time.Hour
	}
	if st.BashTimeout <= 0 {
		st.BashTimeout = 120 * time.Second
	}
	return st
}

// Session is the runtime context handed to a strategy.
//
//nolint:govet // Field order chosen for readability over memory alignment.
type Session struct {
	Job      *mailbox.Job
	RunID    string
	Mailbox  *mailbox.Mailbox
	Sink     events.Sink
	Logger   *logx.Logger
	Metrics  metrics.Recorder
	Settings Settings

	// Checkpoint is set when the run resumes an earlier one.
	Checkpoint *mailbox.Checkpoint

	// Autonomy returns the permission mode (full, security, manual) of the
	// job's user. Nil means full.
	Autonomy func() string

	// Delivered records a report as already sent. Reports written with
	// Notice are announced by their own event and go through it first.
	Delivered func(cycle int)

	wake  chan struct{}
	mu    sync.Mutex
	state string
	cycle int
}

// NewSession creates a session for job.
func NewSession(job *mailbox.Job, mb *mailbox.Mailbox, sink events.Sink, settings Settings) *Session {
	return &Session{
		Job:      job,
		Mailbox:  mb,
		Sink:     sink,
		Logger:   logx.NewLogger("invoke").WithComponent("invoke-" + job.ID),
		Metrics:  metrics.Nop(),
		Settings: settings.withDefaults(),
		wake:     make(chan struct{}, 1),
		state:    mailbox.SessionRunning,
	}
}

// State returns the session state.
func (s *Session) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Cycle returns the last cycle the strategy recorded.
func (s *Session) Cycle() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycle
}

// SetCycle records the strategy's current cycle.
func (s *Session) SetCycle(n int) {
	s.mu.Lock()
	s.cycle = n
	s.mu.Unlock()
}

// SetState changes the session state and persists it with the checkpoint.
func (s *Session) SetState(state string) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	if err := s.Mailbox.SetSessionState(s.Job.ID, state); err != nil {
		s.Logger.Warn("Failed to persist session state %s: %v", state, err)
	}
}

// Wake nudges a strategy waiting for an answer. It never blocks.
func (s *Session) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Emit sends an event for this job. Sink failures are logged only.
func (s *Session) Emit(ctx context.Context, kind events.Kind, message string) {
	if s.Sink == nil {
		return
	}
	ev := events.New(kind, s.Job.ID, message)
	ev.UserID = s.Job.UserID
	if s.RunID != "" {
		ev = ev.With("run_id", s.RunID)
	}
	if err := s.Sink.Emit(ctx, ev); err != nil {
		s.Logger.Warn("Failed to emit %s: %v", kind, err)
	}
}

func (s *Session) autonomy() string {
	if s.Autonomy == nil {
		return "full"
	}
	if mode := s.Autonomy(); mode != "" {
		return mode
	}
	return "full"
}

// Block raises a blocker and waits for its answer. A blocker that is already
// open stays in force: the new reason is only logged and the wait continues
// on the open one.
func (s *Session) Block(ctx context.Context, reason string, cycle int) (string, error) {
	if err := s.Mailbox.RaiseBlocker(s.Job.ID, reason, cycle); err != nil {
		if !errors.Is(err, mailbox.ErrBlockerOpen) {
			return "", fmt.Errorf("failed to raise blocker: %w", err)
		}
		s.rejectBlocker(reason)
	}
	return s.AwaitAnswer(ctx, cycle)
}

// rejectBlocker logs a blocker refused because one is already open. The
// mailbox records the refused reason in the progress log.
func (s *Session) rejectBlocker(reason string) {
	s.Logger.Warn("Second blocker rejected for %s: %s", s.Job.ID, utils.Truncate(utils.OneLine(reason), 120))
}

// AwaitAnswer waits until the job's answer file appears, checking on every
// wake-up and every AnswerPoll. Each AnswerTimeout without an answer re-sends
// the blocked notification, up to AnswerRenotify times; after that the
// session is marked stalled, a STALLED report is written and ErrStalled is
// returned.
func (s *Session) AwaitAnswer(ctx context.Context, cycle int) (string, error) {
	s.SetState(mailbox.SessionBlocked)

	poll := time.NewTicker(s.Settings.AnswerPoll)
	defer poll.Stop()
	deadline := time.NewTimer(s.Settings.AnswerTimeout)
	defer deadline.Stop()

	reminders := 0
	for {
		answer, ok, err := s.Mailbox.ConsumeAnswer(s.Job.ID)
		if err != nil {
			s.Logger.Warn("Failed to read answer for %s: %v", s.Job.ID, err)
		}
		if ok {
			s.SetState(mailbox.SessionRunning)
			s.Emit(ctx, events.JobAnswered, fmt.Sprintf("▶️ **Job Resumed**: %s", s.Job.ID))
			s.Logger.Info("Answer received for %s", s.Job.ID)
			return answer, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-s.wake:
		case <-poll.C:
		case <-deadline.C:
			if reminders < s.Settings.AnswerRenotify {
				reminders++
				s.remind(ctx, reminders)
				deadline.Reset(s.Settings.AnswerTimeout)
				continue
			}
			s.stall(ctx, cycle)
			return "", fmt.Errorf("job %s after %d reminders: %w", s.Job.ID, reminders, ErrStalled)
		}
	}
}

func (s *Session) remind(ctx context.Context, n int) {
	reason := "(see blocker file)"
	if b, err := s.Mailbox.OpenBlocker(s.Job.ID); err == nil && b.Reason != "" {
		reason = b.Reason
	}
	s.Logger.Info("⏰ Re-notifying blocker for %s (%d/%d)", s.Job.ID, n, s.Settings.AnswerRenotify)
	s.Emit(ctx, events.JobBlocked, fmt.Sprintf("⏰ **Reminder %d/%d**\n\n%s",
		n, s.Settings.AnswerRenotify, BlockedMessage(s.Job.ID, reason)))
}

func (s *Session) stall(ctx context.Context, cycle int) {
	s.SetState(mailbox.SessionStalled)
	s.Notice(cycle, "blocked", mailbox.ReportStalled, []string{"Waiting for an answer"},
		"Reply to the blocker to resume the job.")
	s.Emit(ctx, events.JobStalled, StalledMessage(s.Job.ID))
	s.Logger.Warn("Job %s stalled waiting for an answer", s.Job.ID)
}

// Report writes an outbox report for this job and returns the cycle it was
// filed under. A cycle that already has a report moves to the next free one
// so report ids stay unique.
func (s *Session) Report(cycle int, phase, status string, actions []string, next string) int {
	return s.writeReport(cycle, phase, status, actions, next, false)
}

// Notice writes a report whose content the caller announces with its own
// event. It is recorded as delivered before it reaches the outbox, so the
// relay never sends it a second time.
func (s *Session) Notice(cycle int, phase, status string, actions []string, next string) int {
	return s.writeReport(cycle, phase, status, actions, next, true)
}

func (s *Session) writeReport(cycle int, phase, status string, actions []string, next string, delivered bool) int {
	cycle = s.Mailbox.FreeReportCycle(s.Job.ID, cycle)
	if delivered && s.Delivered != nil {
		s.Delivered(cycle)
	}
	if err := s.Mailbox.WriteReport(&mailbox.Report{
		JobID:   s.Job.ID,
		Cycle:   cycle,
		Phase:   phase,
		Status:  status,
		Actions: actions,
		Next:    next,
	}); err != nil {
		s.Logger.Warn("Failed to write report for %s cycle %d: %v", s.Job.ID, cycle, err)
	}
	return cycle
}
