package runner

import (
	"context"
	"errors"
	"fmt"

	"omegaclaw/pkg/config"
	"omegaclaw/pkg/events"
	"omegaclaw/pkg/invoke"
	"omegaclaw/pkg/mailbox"
	"omegaclaw/pkg/persistence"
	"omegaclaw/pkg/utils"
)

// Poll starts a session for every PENDING job in the inbox that is not
// tracked yet and returns the ids it started. A job that fails to start is
// logged and retried on the next poll.
func (r *Runner) Poll(ctx context.Context) []string {
	r.pollMu.Lock()
	defer r.pollMu.Unlock()

	jobs, errs := r.mailbox.ListJobs()
	for _, err := range errs {
		r.logger.Warn("Skipping unreadable job file: %v", err)
	}

	var started []string
	for _, job := range jobs {
		if job.Status != mailbox.StatusPending || r.tracked(job.ID) {
			continue
		}
		if err := r.begin(ctx, job, r.Mode()); err != nil {
			r.logger.Error("Failed to start %s: %v", job.ID, err)
			continue
		}
		started = append(started, job.ID)
	}
	return started
}

func (r *Runner) tracked(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[jobID]
	return ok
}

// Submit creates a job and starts it right away with the strategy for mode,
// bypassing the default invoker mode.
func (r *Runner) Submit(ctx context.Context, nj mailbox.NewJob, mode string) (*mailbox.Job, error) {
	if _, err := r.strategy(mode); err != nil {
		return nil, err
	}
	r.pollMu.Lock()
	defer r.pollMu.Unlock()

	job, err := r.mailbox.CreateJob(nj)
	if err != nil {
		return nil, err
	}
	if err := r.begin(ctx, job, mode); err != nil {
		// Left PENDING for the next poll.
		return job, err
	}
	return job, nil
}

// begin moves a pending job to BUILDING and starts the strategy for mode.
func (r *Runner) begin(ctx context.Context, job *mailbox.Job, mode string) error {
	strat, err := r.strategy(mode)
	if err != nil {
		return err
	}
	if err := r.mailbox.SetStatus(job.ID, mailbox.StatusBuilding); err != nil {
		return fmt.Errorf("failed to mark %s building: %w", job.ID, err)
	}
	job.Status = mailbox.StatusBuilding
	if err := r.mailbox.InitProgress(job.ID, job.Mode); err != nil {
		r.logger.Warn("Failed to write initial progress for %s: %v", job.ID, err)
	}
	if r.jobs != nil {
		if err := r.jobs.UpsertJob(&persistence.Job{
			CreatedAt: job.CreatedAt,
			ID:        job.ID,
			Name:      job.Name,
			Kit:       job.Kit,
			Mode:      job.Mode,
			Status:    persistence.StatusBuilding,
			UserID:    job.UserID,
		}); err != nil {
			r.logger.Warn("Failed to store job %s: %v", job.ID, err)
		}
	}
	r.metrics.IncJob(string(mailbox.StatusBuilding))

	if err := r.launch(job, strat, r.settings, nil); err != nil {
		return err
	}
	r.emit(ctx, job, events.JobStarted, invoke.StartedMessage(job.ID, job.Mode))
	return nil
}

// HandleAnswer stores the user's reply to a job's blocker and wakes the
// waiting session. A stalled job is restarted from its checkpoint.
func (r *Runner) HandleAnswer(ctx context.Context, jobID, text string) error {
	job, err := r.mailbox.ReadJob(jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %s is already %s", jobID, job.Status)
	}

	r.mu.Lock()
	e, ok := r.sessions[jobID]
	r.mu.Unlock()
	stalled := ok && e.session.State() == mailbox.SessionStalled
	// An answer with no question would be consumed by the job's next blocker.
	if !stalled && !r.mailbox.HasOpenBlocker(jobID) {
		return fmt.Errorf("job %s: %w", jobID, ErrNoOpenBlocker)
	}

	if err := r.mailbox.WriteAnswer(jobID, text); err != nil {
		return fmt.Errorf("failed to store answer for %s: %w", jobID, err)
	}
	r.logger.Info("Answer for %s: %s", jobID, utils.Truncate(utils.OneLine(utils.RedactSecrets(text)), 80))

	switch {
	case !ok:
		// Picked up when the job is reconstructed.
		return nil
	case e.active():
		e.session.Wake()
		return nil
	case e.session.State() == mailbox.SessionStalled:
		r.logger.Info("Restarting stalled job %s after a late answer", jobID)
		return r.restart(ctx, job, e, r.settings)
	default:
		return nil
	}
}

// Resume restarts a paused or stalled job from its checkpoint with a fresh
// cycle budget.
func (r *Runner) Resume(ctx context.Context, jobID string) error {
	r.mu.Lock()
	e, ok := r.sessions[jobID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, ErrNotTracked)
	}
	if e.active() {
		return fmt.Errorf("job %s: %w", jobID, ErrAlreadyActive)
	}
	if st := e.session.State(); st != mailbox.SessionPaused && st != mailbox.SessionStalled {
		return fmt.Errorf("job %s is %s: %w", jobID, st, ErrNotResumable)
	}

	job, err := r.mailbox.ReadJob(jobID)
	if err != nil {
		return err
	}
	settings := r.settings
	if cp, err := r.mailbox.LoadCheckpoint(jobID); err == nil {
		settings.MaxCycles = cp.Cycle + r.maxCycles()
	}
	return r.restart(ctx, job, e, settings)
}

func (r *Runner) maxCycles() int {
	if r.settings.MaxCycles > 0 {
		return r.settings.MaxCycles
	}
	return 50
}

// restart starts a new session for an inactive entry from its checkpoint.
func (r *Runner) restart(ctx context.Context, job *mailbox.Job, e *entry, settings invoke.Settings) error {
	cp, err := r.mailbox.LoadCheckpoint(job.ID)
	if err != nil && !errors.Is(err, mailbox.ErrNotFound) {
		return err
	}
	mode := e.strategy
	if mode == "" {
		mode = r.Mode()
	}
	// Only the script strategy waits on a pending blocker when it starts. The
	// others begin a new session, so the answer moves to the progress log
	// the assistant is told to read.
	if mode != config.ModeScript && r.mailbox.HasAnswer(job.ID) {
		answer, ok, consumeErr := r.mailbox.ConsumeAnswer(job.ID)
		if consumeErr != nil {
			r.logger.Warn("Failed to consume answer of %s: %v", job.ID, consumeErr)
		}
		if ok {
			if appendErr := r.mailbox.AppendProgress(job.ID, "\n**Answer received**: "+answer+"\n"); appendErr != nil {
				r.logger.Warn("Failed to record answer of %s: %v", job.ID, appendErr)
			}
		}
	}
	if err := r.start(job, mode, settings, cp); err != nil {
		return err
	}
	r.emit(ctx, job, events.JobAnswered, fmt.Sprintf("▶️ **Job Resumed**: %s", job.ID))
	return nil
}

// Cancel stops a job's strategy, terminating its child process, and marks
// the job FAILED. A pending job that never started is failed directly.
func (r *Runner) Cancel(ctx context.Context, jobID string) error {
	r.mu.Lock()
	e, ok := r.sessions[jobID]
	if ok {
		e.cancelled = true
	}
	r.mu.Unlock()

	if !ok {
		job, err := r.mailbox.ReadJob(jobID)
		if err != nil {
			return err
		}
		if job.Status.Terminal() {
			return fmt.Errorf("job %s is already %s: %w", jobID, job.Status, ErrNotTracked)
		}
		r.markTerminal(job, mailbox.StatusFailed, "cancelled")
		r.emit(ctx, job, events.JobFailed, invoke.CancelledMessage(jobID))
		return nil
	}

	if !e.active() {
		// Paused or stalled: nothing is running, finish here.
		r.finish(ctx, e, invoke.Result{Outcome: invoke.OutcomeCancelled}, nil)
		return nil
	}

	e.cancel()
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cancel of %s still in progress: %w", jobID, ctx.Err())
	}
}

// Reconstruct rebuilds sessions after a restart for every BUILDING job
// without a COMPLETE report. Running and blocked jobs are started again from
// their checkpoint; paused and stalled ones are tracked without spawning.
func (r *Runner) Reconstruct(ctx context.Context) int {
	jobs, errs := r.mailbox.ListJobs()
	for _, err := range errs {
		r.logger.Warn("Skipping unreadable job file: %v", err)
	}

	n := 0
	for _, job := range jobs {
		if job.Status != mailbox.StatusBuilding || r.tracked(job.ID) {
			continue
		}
		if r.mailbox.HasTerminalReport(job.ID) {
			r.logger.Info("Job %s has a COMPLETE report, closing it", job.ID)
			r.markTerminal(job, mailbox.StatusComplete, "completed before restart")
			continue
		}

		cp, err := r.mailbox.LoadCheckpoint(job.ID)
		switch {
		case errors.Is(err, mailbox.ErrNotFound):
			cp = nil
		case err != nil:
			r.logger.Error("Failed to load checkpoint of %s: %v", job.ID, err)
			continue
		}

		if cp != nil && (cp.State == mailbox.SessionPaused || cp.State == mailbox.SessionStalled) {
			r.restore(job, cp)
			r.logger.Info("Restored %s job %s at cycle %d", cp.State, job.ID, cp.Cycle)
			n++
			continue
		}

		mode := r.Mode()
		if cp != nil && cp.Strategy != "" {
			mode = cp.Strategy
		}
		if err := r.start(job, mode, r.settings, cp); err != nil {
			r.logger.Error("Failed to restart %s: %v", job.ID, err)
			continue
		}
		r.logger.Info("🔄 Restarted %s with the %s strategy", job.ID, mode)
		n++
	}
	return n
}
