// Package runner owns the job lifecycle: it picks up pending jobs from the
// mailbox, starts one strategy per job, relays reports and blockers to the
// user and restarts jobs after answers, resumes and daemon restarts.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"omegaclaw/pkg/config"
	"omegaclaw/pkg/events"
	"omegaclaw/pkg/invoke"
	"omegaclaw/pkg/logx"
	"omegaclaw/pkg/mailbox"
	"omegaclaw/pkg/metrics"
	"omegaclaw/pkg/persistence"
	"omegaclaw/pkg/utils"
)

// ModeGUI selects the desktop IDE strategy.
const ModeGUI = "gui"

var (
	// ErrAlreadyActive is returned when a job already has a running strategy.
	ErrAlreadyActive = errors.New("job already has an active session")

	// ErrNotTracked is returned for operations on a job the runner does not track.
	ErrNotTracked = errors.New("job not tracked")

	// ErrNotResumable is returned when a job is neither paused nor stalled.
	ErrNotResumable = errors.New("job is not paused or stalled")

	// ErrNoOpenBlocker is returned for an answer to a job that asked nothing.
	ErrNoOpenBlocker = errors.New("job has no open blocker")
)

// Strategies builds the strategy for an invoker mode.
type Strategies interface {
	Strategy(mode string) (invoke.Strategy, error)
}

// StrategyFunc adapts a function to Strategies.
type StrategyFunc func(mode string) (invoke.Strategy, error)

// Strategy implements Strategies.
func (f StrategyFunc) Strategy(mode string) (invoke.Strategy, error) { return f(mode) }

// Ledger records which reports reached the user.
type Ledger interface {
	IsDelivered(jobID string, cycle int) (bool, error)
	MarkDelivered(jobID string, cycle int) error
}

// JobStore keeps the denormalized job copy in step with the mailbox.
type JobStore interface {
	UpsertJob(job *persistence.Job) error
	UpdateJobStatus(jobID, status, summary string) error
}

// AutonomyStore reports a user's permission mode.
type AutonomyStore interface {
	AutonomyMode(userID int64) (string, error)
}

// Options configures a Runner. Mailbox, Ledger and Strategies are required.
//
//nolint:govet // Field order chosen for readability over memory alignment.
type Options struct {
	Mailbox    *mailbox.Mailbox
	Ledger     Ledger
	Jobs       JobStore
	Autonomy   AutonomyStore
	Sink       events.Sink
	Metrics    metrics.Recorder
	Strategies Strategies

	// Mode is the default strategy for new jobs.
	Mode         string
	Settings     invoke.Settings
	PollInterval time.Duration

	// GUIFailover hands a job to the GUI strategy when a CLI strategy hits
	// a usage limit.
	GUIFailover bool
}

// OptionsFrom fills the configurable fields of Options from cfg.
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		Mode:         cfg.Invoker.Mode,
		Settings:     invoke.SettingsFrom(cfg.Invoker),
		PollInterval: cfg.Invoker.PollInterval,
		GUIFailover:  cfg.Invoker.GUIFailover && cfg.GUI.Enabled,
	}
}

// entry is one tracked job. done is closed when its strategy goroutine has
// returned; paused and stalled jobs keep their entry with done closed.
type entry struct {
	session   *invoke.Session
	strategy  string
	started   time.Time
	cancel    context.CancelFunc
	done      chan struct{}
	cancelled bool
}

func (e *entry) active() bool {
	select {
	case <-e.done:
		return false
	default:
		return true
	}
}

// SessionInfo describes a tracked job for status displays.
type SessionInfo struct {
	Started  time.Time `json:"started"`
	JobID    string    `json:"job_id"`
	State    string    `json:"state"`
	Strategy string    `json:"strategy"`
	Cycle    int       `json:"cycle"`
	Active   bool      `json:"active"`
}

// Runner tracks at most one session per job.
//
//nolint:govet // Field order chosen for readability over memory alignment.
type Runner struct {
	mailbox    *mailbox.Mailbox
	ledger     Ledger
	jobs       JobStore
	autonomy   AutonomyStore
	sink       events.Sink
	metrics    metrics.Recorder
	strategies Strategies
	logger     *logx.Logger

	settings     invoke.Settings
	pollInterval time.Duration
	guiFailover  bool

	// lifetime bounds every session; it ends only on Shutdown so sessions
	// outlive the request that started them.
	lifetime context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup

	// pollMu serializes job pickup between Poll and Submit.
	pollMu sync.Mutex

	mu       sync.Mutex
	mode     string
	sessions map[string]*entry
}

// New creates a runner.
func New(opts Options) (*Runner, error) {
	if opts.Mailbox == nil {
		return nil, fmt.Errorf("runner requires a mailbox")
	}
	if opts.Ledger == nil {
		return nil, fmt.Errorf("runner requires a delivery ledger")
	}
	if opts.Strategies == nil {
		return nil, fmt.Errorf("runner requires a strategy factory")
	}
	if opts.Mode == "" {
		opts.Mode = config.ModeScript
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop()
	}
	if opts.Sink == nil {
		opts.Sink = events.Multi{}
	}

	lifetime, stop := context.WithCancel(context.Background())
	return &Runner{
		mailbox:      opts.Mailbox,
		ledger:       opts.Ledger,
		jobs:         opts.Jobs,
		autonomy:     opts.Autonomy,
		sink:         opts.Sink,
		metrics:      opts.Metrics,
		strategies:   opts.Strategies,
		logger:       logx.NewLogger("runner"),
		settings:     opts.Settings,
		pollInterval: opts.PollInterval,
		guiFailover:  opts.GUIFailover,
		lifetime:     lifetime,
		stop:         stop,
		mode:         opts.Mode,
		sessions:     make(map[string]*entry),
	}, nil
}

// Mode returns the strategy used for new jobs.
func (r *Runner) Mode() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// SetMode changes the strategy used for new jobs.
func (r *Runner) SetMode(mode string) {
	r.mu.Lock()
	r.mode = mode
	r.mu.Unlock()
	r.logger.Info("Invoker mode set to %s", mode)
}

// Sessions lists tracked jobs sorted by id.
func (r *Runner) Sessions() []SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SessionInfo, 0, len(r.sessions))
	for id, e := range r.sessions {
		out = append(out, SessionInfo{
			Started:  e.started,
			JobID:    id,
			State:    e.session.State(),
			Strategy: e.strategy,
			Cycle:    e.session.Cycle(),
			Active:   e.active(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}

// Session returns the tracked state of one job.
func (r *Runner) Session(jobID string) (SessionInfo, bool) {
	for _, s := range r.Sessions() {
		if s.JobID == jobID {
			return s, true
		}
	}
	return SessionInfo{}, false
}

// Blocked returns the ids of jobs waiting for an answer.
func (r *Runner) Blocked() []string {
	var ids []string
	for _, s := range r.Sessions() {
		if s.State == mailbox.SessionBlocked || s.State == mailbox.SessionStalled {
			ids = append(ids, s.JobID)
		}
	}
	return ids
}

// Shutdown cancels every session and waits for the strategies to return or
// for ctx to end. Jobs stay BUILDING so Reconstruct picks them up again.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.stop()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.logger.Info("All sessions stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for sessions: %w", ctx.Err())
	}
}

// Wait blocks until every running strategy has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) newSession(job *mailbox.Job, settings invoke.Settings, cp *mailbox.Checkpoint) *invoke.Session {
	s := invoke.NewSession(job, r.mailbox, r.sink, settings)
	s.RunID = uuid.New().String()
	s.Metrics = r.metrics
	s.Checkpoint = cp
	s.Delivered = func(cycle int) { r.markDelivered(job.ID, cycle) }
	if r.autonomy != nil {
		userID := job.UserID
		s.Autonomy = func() string {
			mode, err := r.autonomy.AutonomyMode(userID)
			if err != nil {
				r.logger.Warn("Failed to read autonomy mode for %d: %v", userID, err)
				return persistence.AutonomyFull
			}
			return mode
		}
	}
	return s
}

// start launches strategy mode for job. The caller must not hold r.mu.
func (r *Runner) start(job *mailbox.Job, mode string, settings invoke.Settings, cp *mailbox.Checkpoint) error {
	strat, err := r.strategy(mode)
	if err != nil {
		return err
	}
	return r.launch(job, strat, settings, cp)
}

func (r *Runner) strategy(mode string) (invoke.Strategy, error) {
	strat, err := r.strategies.Strategy(mode)
	if err != nil {
		return nil, fmt.Errorf("no strategy for mode %s: %w", mode, err)
	}
	return strat, nil
}

func (r *Runner) launch(job *mailbox.Job, strat invoke.Strategy, settings invoke.Settings, cp *mailbox.Checkpoint) error {
	r.mu.Lock()
	if e, ok := r.sessions[job.ID]; ok && e.active() {
		r.mu.Unlock()
		return fmt.Errorf("job %s: %w", job.ID, ErrAlreadyActive)
	}
	if r.lifetime.Err() != nil {
		r.mu.Unlock()
		return fmt.Errorf("runner is shutting down: %w", r.lifetime.Err())
	}
	ctx, cancel := context.WithCancel(r.lifetime)
	e := &entry{
		session:  r.newSession(job, settings, cp),
		strategy: strat.Name(),
		started:  time.Now(),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	r.sessions[job.ID] = e
	r.wg.Add(1)
	r.mu.Unlock()

	r.recordStrategy(e)
	r.updateGauges()
	r.logger.Info("▶️ Starting %s strategy for %s (run %s)", e.strategy, job.ID, e.session.RunID)
	go r.drive(ctx, e, strat)
	return nil
}

// restore tracks a paused or stalled job without starting a strategy.
func (r *Runner) restore(job *mailbox.Job, cp *mailbox.Checkpoint) {
	s := r.newSession(job, r.settings, cp)
	s.SetState(cp.State)
	s.SetCycle(cp.Cycle)
	done := make(chan struct{})
	close(done)

	r.mu.Lock()
	r.sessions[job.ID] = &entry{
		session:  s,
		strategy: cp.Strategy,
		started:  cp.UpdatedAt,
		cancel:   func() {},
		done:     done,
	}
	r.mu.Unlock()
	r.updateGauges()
}

// drive runs the strategy, failing over to the GUI on a usage-limit handoff.
func (r *Runner) drive(ctx context.Context, e *entry, strat invoke.Strategy) {
	defer r.wg.Done()
	defer close(e.done)
	defer e.cancel()

	for {
		res, err := strat.Start(ctx, e.session)
		if res.Outcome == invoke.OutcomeHandoff {
			if next := r.failover(ctx, e, strat.Name()); next != nil {
				strat = next
				continue
			}
		}
		r.finish(ctx, e, res, err)
		return
	}
}

func (r *Runner) failover(ctx context.Context, e *entry, from string) invoke.Strategy {
	if !r.guiFailover || from == ModeGUI || ctx.Err() != nil {
		return nil
	}
	gui, err := r.strategies.Strategy(ModeGUI)
	if err != nil {
		r.logger.Warn("GUI failover unavailable for %s: %v", e.session.Job.ID, err)
		return nil
	}
	r.mu.Lock()
	e.strategy = gui.Name()
	r.mu.Unlock()
	r.recordStrategy(e)

	jobID := e.session.Job.ID
	r.metrics.IncHandoff(from, ModeGUI)
	r.emit(ctx, e.session.Job, events.JobHandoff, invoke.HandoffMessage(jobID, "the GUI vector"))
	r.logger.Warn("🔁 %s hit a usage limit on %s, failing over to the GUI", jobID, from)
	return gui
}

// finish applies a strategy outcome to the mailbox, the store and the user.
func (r *Runner) finish(ctx context.Context, e *entry, res invoke.Result, err error) {
	job := e.session.Job
	notify := context.WithoutCancel(ctx)

	r.mu.Lock()
	cancelled := e.cancelled
	r.mu.Unlock()

	switch {
	case cancelled:
		r.markTerminal(job, mailbox.StatusFailed, "cancelled")
		if closeErr := r.mailbox.CloseBlocker(job.ID); closeErr != nil {
			r.logger.Warn("Failed to close blocker of %s: %v", job.ID, closeErr)
		}
		r.forget(job.ID, e)
		r.emit(notify, job, events.JobFailed, invoke.CancelledMessage(job.ID))
		r.logger.Info("Job %s cancelled", job.ID)

	case res.Outcome == invoke.OutcomeComplete:
		// The completion notice below stands in for relaying this report.
		e.session.Notice(res.Cycle, "complete", mailbox.ReportComplete,
			[]string{utils.Truncate(utils.OneLine(res.Summary), 300)}, "")
		r.markTerminal(job, mailbox.StatusComplete, res.Summary)
		r.forget(job.ID, e)
		r.emit(notify, job, events.JobCompleted, invoke.CompleteMessage(job.ID, res.Summary))
		r.logger.Info("✅ Job %s complete after %d cycles", job.ID, res.Cycle)

	case res.Outcome == invoke.OutcomePaused, res.Outcome == invoke.OutcomeHandoff:
		e.session.SetState(mailbox.SessionPaused)
		// A cycle-limit pause was filed by the strategy as a notice already.
		if res.Outcome == invoke.OutcomeHandoff {
			e.session.Notice(res.Cycle, "paused", mailbox.ReportPaused, []string{"Usage limit reached"},
				fmt.Sprintf("Send /resume %s once the limit resets.", job.ID))
		}
		r.emit(notify, job, events.JobPaused, invoke.PausedMessage(job.ID))
		r.logger.Warn("Job %s paused at cycle %d (%s)", job.ID, res.Cycle, res.Summary)

	case res.Outcome == invoke.OutcomeStalled:
		// The session already filed the STALLED report and told the user.
		r.logger.Warn("Job %s stalled at cycle %d", job.ID, res.Cycle)

	case res.Outcome == invoke.OutcomeCancelled:
		r.logger.Info("Session for %s stopped at cycle %d; job stays %s", job.ID, res.Cycle, mailbox.StatusBuilding)
		r.forget(job.ID, e)

	default:
		if err != nil {
			r.logger.Error("Strategy %s failed for %s: %v", e.strategy, job.ID, err)
		} else {
			r.logger.Error("Strategy %s failed for %s: %s", e.strategy, job.ID, res.Summary)
		}
		r.markTerminal(job, mailbox.StatusFailed, res.Summary)
		r.forget(job.ID, e)
		r.emit(notify, job, events.JobFailed, invoke.FailedMessage(job.ID))
	}
	r.updateGauges()
}

// forget drops the entry unless a newer session replaced it.
func (r *Runner) forget(jobID string, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[jobID] == e {
		delete(r.sessions, jobID)
	}
}

func (r *Runner) markTerminal(job *mailbox.Job, status mailbox.Status, summary string) {
	if err := r.mailbox.SetStatus(job.ID, status); err != nil {
		r.logger.Error("Failed to mark %s %s: %v", job.ID, status, err)
	}
	if err := r.mailbox.DeleteCheckpoint(job.ID); err != nil {
		r.logger.Warn("Failed to remove checkpoint of %s: %v", job.ID, err)
	}
	if r.jobs != nil {
		if err := r.jobs.UpdateJobStatus(job.ID, string(status), utils.Truncate(summary, 500)); err != nil {
			r.logger.Warn("Failed to update stored job %s: %v", job.ID, err)
		}
	}
	r.metrics.IncJob(string(status))
}

func (r *Runner) markDelivered(jobID string, cycle int) {
	if err := r.ledger.MarkDelivered(jobID, cycle); err != nil {
		r.logger.Warn("Failed to record delivery of %s cycle %d: %v", jobID, cycle, err)
	}
}

// recordStrategy stores the strategy name in the checkpoint so a restart
// resumes with the same one.
func (r *Runner) recordStrategy(e *entry) {
	job := e.session.Job
	cp, err := r.mailbox.LoadCheckpoint(job.ID)
	if err != nil {
		cp = &mailbox.Checkpoint{JobID: job.ID, UserID: job.UserID}
	}
	r.mu.Lock()
	cp.Strategy = e.strategy
	r.mu.Unlock()
	cp.RunID = e.session.RunID
	cp.State = e.session.State()
	if err := r.mailbox.SaveCheckpoint(cp); err != nil {
		r.logger.Warn("Failed to save checkpoint of %s: %v", job.ID, err)
	}
}

func (r *Runner) emit(ctx context.Context, job *mailbox.Job, kind events.Kind, message string) {
	ev := events.New(kind, job.ID, message)
	ev.UserID = job.UserID
	if err := r.sink.Emit(ctx, ev); err != nil {
		r.logger.Warn("Failed to emit %s for %s: %v", kind, job.ID, err)
		return
	}
	r.metrics.IncRelayed(string(kind))
}

func (r *Runner) updateGauges() {
	counts := map[string]int{
		mailbox.SessionRunning: 0,
		mailbox.SessionBlocked: 0,
		mailbox.SessionStalled: 0,
		mailbox.SessionPaused:  0,
	}
	for _, s := range r.Sessions() {
		counts[s.State]++
	}
	for state, n := range counts {
		r.metrics.SetActiveSessions(state, n)
	}
}
