package invoke

import (
	"context"
	"errors"
	"fmt"

	"omegaclaw/pkg/events"
	"omegaclaw/pkg/gui"
)

// GUIDriver is the part of gui.Controller the GUI strategy uses.
type GUIDriver interface {
	Run(ctx context.Context, instruction string, hooks gui.Hooks) (gui.WatchResult, error)
}

// GUI types the job into the desktop IDE and watches the screen until the
// IDE reports completion or goes idle.
type GUI struct {
	driver GUIDriver
}

// NewGUI creates the GUI strategy.
func NewGUI(driver GUIDriver) *GUI {
	return &GUI{driver: driver}
}

// Name implements Strategy.
func (g *GUI) Name() string { return "gui" }

// BuildGUIPrompt renders the single-line instruction typed into the IDE.
func BuildGUIPrompt(jobID, jobPath, progressPath string) string {
	return fmt.Sprintf("You are the Omega Build Agent working on job %s. Read the job file %s, "+
		"build it following the kit it names, and append your progress to %s. "+
		"Work autonomously and say task completed when everything is done.",
		jobID, jobPath, progressPath)
}

// Start implements Strategy.
func (g *GUI) Start(ctx context.Context, s *Session) (Result, error) {
	prompt := BuildGUIPrompt(s.Job.ID, s.Job.Path, s.Mailbox.ProgressPath(s.Job.ID))
	hooks := gui.Hooks{
		OnLimit: func() {
			s.Emit(ctx, events.GUIAlert, fmt.Sprintf("🔁 **GUI**: %s hit a usage limit in the IDE, switched model.", s.Job.ID))
		},
		OnFreeze: func() {
			s.Emit(ctx, events.GUIAlert, fmt.Sprintf("🥶 **GUI**: the IDE looked frozen on %s, chose keep waiting.", s.Job.ID))
		},
	}

	s.Logger.Info("Handing %s to the GUI controller", s.Job.ID)
	res, err := g.driver.Run(ctx, prompt, hooks)
	switch {
	case ctx.Err() != nil:
		return Result{Outcome: OutcomeCancelled, Summary: "cancelled"}, nil
	case errors.Is(err, gui.ErrBusy):
		return Result{Outcome: OutcomeFailed, Summary: "GUI busy with another job"}, err
	case err != nil:
		return Result{Outcome: OutcomeFailed, Summary: "GUI automation failed"}, err
	}

	if appendErr := s.Mailbox.AppendProgress(s.Job.ID, fmt.Sprintf(
		"\n\n---\n**GUI session**: %s after %d polls (%d approvals, %d limits, %d freezes)\n",
		res.Reason, res.Polls, res.Permissions, res.Limits, res.Freezes)); appendErr != nil {
		s.Logger.Warn("Failed to append progress for %s: %v", s.Job.ID, appendErr)
	}

	summary := "The IDE reported the task complete."
	if res.Reason == gui.ReasonIdle {
		summary = "The IDE went quiet; assuming the task is complete."
	}
	return Result{Outcome: OutcomeComplete, Summary: summary}, nil
}
