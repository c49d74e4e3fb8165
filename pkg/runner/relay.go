package runner

import (
	"context"

	"omegaclaw/pkg/events"
	"omegaclaw/pkg/invoke"
	"omegaclaw/pkg/mailbox"
)

// RelayOutbox sends every report not yet in the delivery ledger, in job then
// cycle order, and returns how many were sent. A report is recorded only
// after the sink accepted it, so a failed send is retried on the next call.
func (r *Runner) RelayOutbox(ctx context.Context) int {
	reports, errs := r.mailbox.ListReports()
	for _, err := range errs {
		r.logger.Warn("Skipping unreadable report: %v", err)
	}

	owners := map[string]*mailbox.Job{}
	sent := 0
	for _, rep := range reports {
		delivered, err := r.ledger.IsDelivered(rep.JobID, rep.Cycle)
		if err != nil {
			r.logger.Error("Ledger lookup failed for %s: %v", rep.Name, err)
			continue
		}
		if delivered {
			continue
		}

		job, ok := owners[rep.JobID]
		if !ok {
			job = r.owner(rep.JobID)
			owners[rep.JobID] = job
		}
		ev := events.New(events.ReportReady, rep.JobID, invoke.ReportMessage(mailbox.Summary(rep.Content)))
		ev.UserID = job.UserID
		ev = ev.With("status", rep.Status)
		if err := r.sink.Emit(ctx, ev); err != nil {
			r.logger.Warn("Failed to relay %s: %v", rep.Name, err)
			continue
		}
		if err := r.ledger.MarkDelivered(rep.JobID, rep.Cycle); err != nil {
			r.logger.Error("Relayed %s but failed to record it: %v", rep.Name, err)
			continue
		}
		r.metrics.IncRelayed("report")
		r.logger.Debug("Relayed %s", rep.Name)
		sent++
	}
	return sent
}

// RelayBlockers sends every unsent blocker and renames it to
// <job>-blocked-sent.md. It returns how many were sent.
func (r *Runner) RelayBlockers(ctx context.Context) int {
	blockers, errs := r.mailbox.UnsentBlockers()
	for _, err := range errs {
		r.logger.Warn("Skipping unreadable blocker: %v", err)
	}

	sent := 0
	for _, b := range blockers {
		job := r.owner(b.JobID)
		ev := events.New(events.JobBlocked, b.JobID, invoke.BlockedMessage(b.JobID, b.Content))
		ev.UserID = job.UserID
		if err := r.sink.Emit(ctx, ev); err != nil {
			r.logger.Warn("Failed to relay blocker for %s: %v", b.JobID, err)
			continue
		}
		if err := r.mailbox.MarkBlockerSent(b); err != nil {
			r.logger.Error("Relayed blocker for %s but failed to mark it sent: %v", b.JobID, err)
			continue
		}
		r.metrics.IncRelayed("blocker")
		r.logger.Info("⛔ Relayed blocker for %s", b.JobID)
		sent++
	}
	return sent
}

// owner returns the job a mailbox file belongs to, or a bare job when the
// job file is gone so the notice still goes to the operator.
func (r *Runner) owner(jobID string) *mailbox.Job {
	r.mu.Lock()
	e, ok := r.sessions[jobID]
	r.mu.Unlock()
	if ok {
		return e.session.Job
	}
	job, err := r.mailbox.ReadJob(jobID)
	if err != nil {
		return &mailbox.Job{ID: jobID}
	}
	return job
}
