package invoke

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"omegaclaw/pkg/brain"
	"omegaclaw/pkg/events"
	"omegaclaw/pkg/exec"
	"omegaclaw/pkg/mailbox"
	"omegaclaw/pkg/utils"
)

// Output bounds for executed actions.
const (
	bashOutputLimit  = 1000
	auditOutputLimit = 500
	actionCmdLimit   = 50
	noActionLimit    = 200
	reportActions    = 5
)

// ScriptCycle asks a brain for one action per cycle, executes it and feeds
// the result into the next cycle.
type ScriptCycle struct {
	brain    brain.Brain
	executor exec.Executor
	counter  *utils.TokenCounter
	workDir  string
}

// NewScriptCycle creates the script-cycle strategy. Bash and write actions
// run inside workDir.
func NewScriptCycle(b brain.Brain, executor exec.Executor, workDir string) *ScriptCycle {
	counter, err := utils.NewTokenCounter()
	if err != nil {
		counter = nil
	}
	return &ScriptCycle{brain: b, executor: executor, counter: counter, workDir: workDir}
}

// Name implements Strategy.
func (sc *ScriptCycle) Name() string { return "script" }

// cycleState is the loop state carried between cycles and into checkpoints.
type cycleState struct {
	phase   string
	last    string
	actions []string
	cycle   int
}

// Start implements Strategy.
func (sc *ScriptCycle) Start(ctx context.Context, s *Session) (Result, error) {
	st := cycleState{phase: "init"}
	if cp := s.Checkpoint; cp != nil {
		st = cycleState{phase: cp.Phase, last: cp.LastResult, actions: cp.Actions, cycle: cp.Cycle}
		if st.phase == "" {
			st.phase = "init"
		}
		s.Logger.Info("Resuming %s at cycle %d (phase %s)", s.Job.ID, st.cycle, st.phase)
	}
	if err := os.MkdirAll(sc.workDir, 0o755); err != nil {
		return Result{Outcome: OutcomeFailed, Summary: "work dir unavailable"}, fmt.Errorf("failed to create work dir: %w", err)
	}

	// A blocker left open by an earlier run is answered before asking again.
	if s.Mailbox.HasOpenBlocker(s.Job.ID) {
		if res, stop := sc.awaitAnswer(ctx, s, &st); stop {
			return res, nil
		}
	}

	for st.cycle < s.Settings.MaxCycles {
		if ctx.Err() != nil {
			sc.checkpoint(s, &st)
			return Result{Outcome: OutcomeCancelled, Summary: "cancelled", Cycle: st.cycle}, nil
		}

		n := st.cycle + 1
		prompt := BuildCyclePrompt(CycleContext{
			JobID:      s.Job.ID,
			Job:        s.Job.Content,
			Phase:      st.phase,
			LastResult: st.last,
			Actions:    st.actions,
		})

		began := time.Now()
		resp, err := sc.brain.Ask(ctx, prompt)
		elapsed := time.Since(began)
		s.Metrics.ObserveBrain(sc.brain.Name(), err == nil, elapsed)

		switch {
		case err != nil && ctx.Err() != nil:
			sc.checkpoint(s, &st)
			return Result{Outcome: OutcomeCancelled, Summary: "cancelled", Cycle: st.cycle}, nil
		case errors.Is(err, brain.ErrUsageLimit):
			sc.checkpoint(s, &st)
			s.Logger.Warn("Every brain backend hit its usage limit on %s", s.Job.ID)
			return Result{Outcome: OutcomeHandoff, Summary: "usage limit", Cycle: st.cycle}, nil
		case err != nil:
			s.Logger.Error("Cycle %d of %s failed: %v", n, s.Job.ID, err)
			st.last = "ERROR: " + err.Error()
			s.Metrics.ObserveCycle(s.Job.ID, "error", sc.counter.CountTokens(prompt), elapsed)
		default:
			action := ParseResponse(resp)
			s.Metrics.ObserveCycle(s.Job.ID, string(action.Kind), sc.counter.CountTokens(prompt), elapsed)
			s.Logger.Debug("Cycle %d of %s: %s", n, s.Job.ID, action.Kind)

			switch action.Kind {
			case ActionComplete:
				st.cycle = n
				sc.finalize(s)
				sc.checkpoint(s, &st)
				return Result{Outcome: OutcomeComplete, Summary: action.Text, Cycle: n}, nil
			case ActionBlocked:
				if raiseErr := s.Mailbox.RaiseBlocker(s.Job.ID, action.Text, n); raiseErr != nil {
					if !errors.Is(raiseErr, mailbox.ErrBlockerOpen) {
						return Result{Outcome: OutcomeFailed, Summary: "could not record blocker", Cycle: st.cycle}, raiseErr
					}
					s.rejectBlocker(action.Text)
				}
				st.cycle = n
				sc.checkpoint(s, &st)
				if res, stop := sc.awaitAnswer(ctx, s, &st); stop {
					return res, nil
				}
			case ActionPhase:
				st.phase = action.Text
				st.last = ""
				st.actions = append(st.actions, "Phase: "+action.Text)
			case ActionBash:
				st.last = sc.runBash(ctx, s, action.Text, n)
				st.actions = append(st.actions, fmt.Sprintf("Ran: %s...", utils.Truncate(action.Text, actionCmdLimit)))
			case ActionWrite:
				st.last = sc.writeFile(s, action.Path, action.Content, n)
				st.actions = append(st.actions, "Wrote: "+action.Path)
			default:
				st.last = fmt.Sprintf("Claude said: %s...", utils.Truncate(resp, noActionLimit))
				st.actions = append(st.actions, "(No action extracted)")
			}
		}

		st.cycle = n
		s.SetCycle(n)
		sc.checkpoint(s, &st)

		// The last cycle is covered by the PAUSED report below.
		if n%s.Settings.ReportEvery == 0 && n < s.Settings.MaxCycles {
			sc.progress(ctx, s, &st)
		}
	}

	s.Logger.Warn("Job %s hit max cycles (%d)", s.Job.ID, s.Settings.MaxCycles)
	s.Notice(st.cycle, st.phase, mailbox.ReportPaused, recent(st.actions, reportActions),
		fmt.Sprintf("Hit cycle limit. Send /resume %s to continue.", s.Job.ID))
	sc.finalize(s)
	s.SetState(mailbox.SessionPaused)
	return Result{Outcome: OutcomePaused, Summary: "cycle limit", Cycle: st.cycle}, nil
}

// awaitAnswer waits on the open blocker. stop is true when the run must end.
func (sc *ScriptCycle) awaitAnswer(ctx context.Context, s *Session, st *cycleState) (Result, bool) {
	answer, err := s.AwaitAnswer(ctx, st.cycle)
	switch {
	case err == nil:
		st.last = "User provided: " + answer
		sc.checkpoint(s, st)
		return Result{}, false
	case errors.Is(err, ErrStalled):
		return Result{Outcome: OutcomeStalled, Summary: "no answer", Cycle: st.cycle}, true
	default:
		return Result{Outcome: OutcomeCancelled, Summary: "cancelled", Cycle: st.cycle}, true
	}
}

func (sc *ScriptCycle) runBash(ctx context.Context, s *Session, command string, cycle int) string {
	if IsDangerous(command) {
		s.Logger.Warn("Rejected dangerous command for %s: %s", s.Job.ID, utils.RedactSecrets(command))
		sc.audit(s, mailbox.AuditEntry{Type: "rejected", Command: command, ReturnCode: -1, Cycle: cycle})
		return "BLOCKED: Dangerous command rejected: " + command
	}

	opts := exec.DefaultExecOpts()
	opts.Timeout = s.Settings.BashTimeout
	opts.KillGrace = s.Settings.KillGrace
	opts.WorkDir = sc.workDir

	res, err := sc.executor.Run(ctx, []string{"bash", "-c", command}, &opts)
	if err != nil {
		if errors.Is(err, exec.ErrTimeout) {
			sc.audit(s, mailbox.AuditEntry{Type: "bash", Command: command, Output: "timeout", ReturnCode: -1, Cycle: cycle})
			return "ERROR: Command timed out"
		}
		sc.audit(s, mailbox.AuditEntry{Type: "bash", Command: command, Output: err.Error(), ReturnCode: -1, Cycle: cycle})
		return "ERROR: " + err.Error()
	}

	output := res.Combined()
	sc.audit(s, mailbox.AuditEntry{
		Type:       "bash",
		Command:    command,
		Output:     utils.Truncate(output, auditOutputLimit),
		ReturnCode: res.ExitCode,
		Cycle:      cycle,
	})
	return utils.Truncate(output, bashOutputLimit)
}

func (sc *ScriptCycle) writeFile(s *Session, path, content string, cycle int) string {
	full, err := utils.ResolveWithin(sc.workDir, path)
	if err != nil {
		return "ERROR writing file: " + err.Error()
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "ERROR writing file: " + err.Error()
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil { //nolint:gosec // project files are world-readable
		return "ERROR writing file: " + err.Error()
	}
	sc.audit(s, mailbox.AuditEntry{Type: "write", Path: full, Size: len(content), Cycle: cycle})
	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), full)
}

func (sc *ScriptCycle) audit(s *Session, e mailbox.AuditEntry) {
	if err := s.Mailbox.AppendAudit(s.Job.ID, e); err != nil {
		s.Logger.Warn("Failed to append audit for %s: %v", s.Job.ID, err)
	}
}

func (sc *ScriptCycle) checkpoint(s *Session, st *cycleState) {
	cp := &mailbox.Checkpoint{
		JobID:      s.Job.ID,
		RunID:      s.RunID,
		Strategy:   sc.Name(),
		State:      s.State(),
		Phase:      st.phase,
		LastResult: st.last,
		Actions:    st.actions,
		Cycle:      st.cycle,
		UserID:     s.Job.UserID,
	}
	if err := s.Mailbox.SaveCheckpoint(cp); err != nil {
		s.Logger.Warn("Failed to save checkpoint for %s: %v", s.Job.ID, err)
	}
}

func (sc *ScriptCycle) progress(ctx context.Context, s *Session, st *cycleState) {
	last := recent(st.actions, promptRecentAction)
	if err := s.Mailbox.AppendCycle(s.Job.ID, st.cycle, st.phase, last); err != nil {
		s.Logger.Warn("Failed to append progress for %s: %v", s.Job.ID, err)
	}
	s.Report(st.cycle, st.phase, mailbox.ReportInProgress, recent(st.actions, reportActions), "Continuing build...")
	s.Emit(ctx, events.JobProgress, fmt.Sprintf("📊 **Progress**: %s\n\nCycle %d - %s", s.Job.ID, st.cycle, st.phase))
}

func (sc *ScriptCycle) finalize(s *Session) {
	path, err := s.Mailbox.FinalizeExecutionLog(s.Job.ID)
	if err != nil {
		s.Logger.Warn("Failed to write execution log for %s: %v", s.Job.ID, err)
		return
	}
	s.Logger.Info("Execution log written to %s", path)
}

func recent(actions []string, n int) []string {
	if len(actions) <= n {
		return actions
	}
	return actions[len(actions)-n:]
}
