package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"omegaclaw/pkg/config"
	"omegaclaw/pkg/events"
	"omegaclaw/pkg/gui"
	"omegaclaw/pkg/mailbox"
	"omegaclaw/pkg/persistence"
	"omegaclaw/pkg/runner"
	"omegaclaw/pkg/utils"
)

// HelpText is the reply to /start, /help and unrecognized chat.
const HelpText = "🦀 **Omega Claw Online**\n\n" +
	"I dispatch builds from this chat and report back as they progress.\n\n" +
	"**Just type:**\n" +
	"• `start project` to launch a new build\n" +
	"• `status` for the full hive and job report\n" +
	"• `inbox` for pending jobs\n" +
	"• `job history` for past builds\n" +
	"• `install supabase` to add an MCP server\n\n" +
	"**Commands:**\n" +
	"/status /jobs /cancel [job] /answer <job> <text> /resume <job>\n" +
	"/mode [full|security|manual] /cli [mode|task] /stealth <task>\n" +
	"/gui [task] /phantom <prompt> /prompt <tool> <instruction>"

var invokerModes = map[string]bool{
	config.ModeSimple:      true,
	config.ModeInteractive: true,
	config.ModeScript:      true,
	runner.ModeGUI:         true,
}

var autonomyLabels = map[string]string{
	persistence.AutonomyFull:     "🟢 Full Autonomous",
	persistence.AutonomySecurity: "🟡 Security Command",
	persistence.AutonomyManual:   "🔴 Manual Override",
}

// parseCommand splits "/cmd@bot args" into a lower-case command and args.
func parseCommand(text string) (string, string) {
	cmd, args, _ := strings.Cut(text, " ")
	cmd = strings.ToLower(cmd)
	if at := strings.IndexByte(cmd, '@'); at > 0 {
		cmd = cmd[:at]
	}
	return cmd, strings.TrimSpace(args)
}

func (d *Dispatcher) command(ctx context.Context, userID int64, text string) (string, error) {
	cmd, args := parseCommand(text)
	switch cmd {
	case "/start", "/help":
		return HelpText, nil
	case "/status":
		return d.status(), nil
	case "/jobs":
		return d.reporter.Jobs(), nil
	case "/cancel":
		return d.cancel(ctx, userID, args)
	case "/mode":
		return d.mode(userID, args)
	case "/cli":
		return d.cli(ctx, userID, args)
	case "/stealth":
		return d.stealth(ctx, userID, args)
	case "/gui":
		return d.guiTask(ctx, userID, args)
	case "/phantom":
		return d.phantom(ctx, args)
	case "/prompt":
		tool, instruction, _ := strings.Cut(args, " ")
		if strings.TrimSpace(instruction) == "" {
			return "Usage: `/prompt <tool> <instruction>`", nil
		}
		return d.prompt(userID, tool, strings.TrimSpace(instruction)), nil
	case "/answer":
		jobID, answer, _ := strings.Cut(args, " ")
		if jobID == "" || strings.TrimSpace(answer) == "" {
			return "Usage: `/answer <job> <text>`", nil
		}
		return d.answer(ctx, strings.ToUpper(jobID), strings.TrimSpace(answer))
	case "/resume":
		return d.resume(ctx, args)
	default:
		return fmt.Sprintf("❓ Unknown command `%s`. Try /help.", cmd), nil
	}
}

func (d *Dispatcher) status() string {
	sessions := d.jobs.Sessions()
	var b strings.Builder
	fmt.Fprintf(&b, "⚙️ **Invoker**: `%s`\n", d.jobs.Mode())
	if len(sessions) == 0 {
		b.WriteString("No active sessions.\n")
	}
	for _, s := range sessions {
		fmt.Fprintf(&b, "• **%s** %s via %s, cycle %d (since %s)\n",
			s.JobID, s.State, s.Strategy, s.Cycle, s.Started.Format("15:04"))
	}
	b.WriteString("\n")
	b.WriteString(d.reporter.Hive())
	return b.String()
}

func (d *Dispatcher) cancel(ctx context.Context, userID int64, args string) (string, error) {
	if args == "" {
		switch {
		case d.wizard.Active(userID):
			return d.wizard.Handle(userID, "cancel")
		case d.onboard.Active(userID):
			return d.onboard.Cancel(userID)
		}
		var active []string
		for _, s := range d.jobs.Sessions() {
			active = append(active, s.JobID)
		}
		if len(active) != 1 {
			if len(active) == 0 {
				return "🛑 Nothing to cancel.", nil
			}
			return fmt.Sprintf("Usage: `/cancel <job>`\n\nTracked jobs: %s", strings.Join(active, ", ")), nil
		}
		args = active[0]
	}

	jobID := strings.ToUpper(args)
	ctx, cancel := context.WithTimeout(ctx, cancelTimeout)
	defer cancel()
	err := d.jobs.Cancel(ctx, jobID)
	switch {
	case err == nil:
		return fmt.Sprintf("🛑 **Job Cancelled**: %s", jobID), nil
	case errors.Is(err, mailbox.ErrNotFound):
		return fmt.Sprintf("❌ Unknown job `%s`.", jobID), nil
	case errors.Is(err, runner.ErrNotTracked):
		return fmt.Sprintf("ℹ️ %s has already finished.", jobID), nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("⏳ Stopping %s is taking a while, it will be marked FAILED once it exits.", jobID), nil
	default:
		return "", err
	}
}

func (d *Dispatcher) mode(userID int64, args string) (string, error) {
	mode := strings.ToLower(args)
	if mode == "" {
		current, err := d.store.AutonomyMode(userID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("⚙️ **Autonomy Mode Settings**\nCurrent Mode: `%s`\n\n"+
			"• `/mode full` %s: approve every permission prompt\n"+
			"• `/mode security` %s: approve safe commands, ask about the rest\n"+
			"• `/mode manual` %s: ask about every permission prompt",
			strings.ToUpper(current),
			autonomyLabels[persistence.AutonomyFull],
			autonomyLabels[persistence.AutonomySecurity],
			autonomyLabels[persistence.AutonomyManual]), nil
	}
	if _, ok := autonomyLabels[mode]; !ok {
		return "Usage: `/mode [full|security|manual]`", nil
	}
	if err := d.store.SetAutonomyMode(userID, mode); err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Autonomy Mode successfully set to: **%s**", strings.ToUpper(mode)), nil
}

// cli shows or switches the default invoker mode, or runs a one-off task
// through the simple strategy.
func (d *Dispatcher) cli(ctx context.Context, userID int64, args string) (string, error) {
	if args == "" {
		return fmt.Sprintf("⚙️ Invoker mode: `%s`\n\nUsage: `/cli simple|interactive|script|gui` to switch, `/cli <task>` to run one task.",
			d.jobs.Mode()), nil
	}
	if mode := strings.ToLower(args); invokerModes[mode] {
		if mode == runner.ModeGUI && d.gui == nil {
			return "❌ The GUI strategy is not enabled.", nil
		}
		d.jobs.SetMode(mode)
		return fmt.Sprintf("✅ New jobs will use the `%s` strategy.", mode), nil
	}
	job, err := d.submit(ctx, userID, "CLI", args, config.ModeSimple)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("⚡ **CLI Task Dispatched**: %s\n\nRunning one-shot through `claude`. I'll send the result.", job.ID), nil
}

func (d *Dispatcher) stealth(ctx context.Context, userID int64, args string) (string, error) {
	if args == "" {
		return "Usage: `/stealth <task>`", nil
	}
	job, err := d.submit(ctx, userID, "Stealth", args, config.ModeInteractive)
	if err != nil {
		return "", err
	}
	autonomy, err := d.store.AutonomyMode(userID)
	if err != nil {
		autonomy = persistence.AutonomyFull
	}
	return fmt.Sprintf("🥷 **Stealth Engine Engaged**: %s\n\nPrompt injected into an interactive `claude` session.\nAutonomy Mode: `%s`",
		job.ID, strings.ToUpper(autonomy)), nil
}

func (d *Dispatcher) guiTask(ctx context.Context, userID int64, args string) (string, error) {
	if d.gui == nil {
		return "❌ The GUI strategy is not enabled.", nil
	}
	if args == "" {
		state := "idle"
		if d.gui.Busy() {
			state = "busy"
		}
		return fmt.Sprintf("👻 GUI controller is %s.\n\nUsage: `/gui <task>`", state), nil
	}
	job, err := d.submit(ctx, userID, "GUI", args, runner.ModeGUI)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("👻 **GUI Task Dispatched**: %s\n\nThe IDE will be driven on the desktop.", job.ID), nil
}

func (d *Dispatcher) submit(ctx context.Context, userID int64, label, task, mode string) (*mailbox.Job, error) {
	job, err := d.jobs.Submit(ctx, mailbox.NewJob{
		Name:    fmt.Sprintf("%s: %s", label, utils.Truncate(utils.OneLine(task), 40)),
		Kit:     mode,
		Mode:    mailbox.ModeJustBuild,
		Details: task,
		UserID:  userID,
	}, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to submit %s task: %w", mode, err)
	}
	return job, nil
}

func (d *Dispatcher) phantom(ctx context.Context, args string) (string, error) {
	if d.gui == nil {
		return "❌ The GUI strategy is not enabled.", nil
	}
	if args == "" {
		return "Usage: `/phantom <prompt>`", nil
	}
	if err := d.gui.Inject(ctx, args); err != nil {
		if errors.Is(err, gui.ErrBusy) {
			return "⏳ The GUI is busy with another task.", nil
		}
		return "", fmt.Errorf("phantom inject: %w", err)
	}
	return "👻 **Phantom Engine Engaged**\n\nIDE focused and prompt typed.", nil
}

// prompt starts the AI-to-AI bridge in the background and reports the
// outcome as an event.
func (d *Dispatcher) prompt(userID int64, tool, instruction string) string {
	if d.gui == nil {
		return "❌ The GUI strategy is not enabled."
	}
	if d.gui.Busy() {
		return "⏳ The GUI is busy with another task."
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), promptTimeout)
		defer cancel()

		var msg string
		artifact, err := d.gui.Prompt(ctx, tool, instruction)
		switch {
		case errors.Is(err, gui.ErrBusy):
			msg = "⏳ AI-to-AI Bridge: the GUI became busy before the prompt started."
		case err != nil:
			d.logger.Error("AI-to-AI bridge via %s failed: %v", tool, err)
			msg = "❌ AI-to-AI Bridge failed. The error has been logged."
		default:
			msg = fmt.Sprintf("🌩️ **AI-to-AI Bridge Successful**\n\nPrompted: `%s`\nExtracted: `%d chars`\nInjected into the IDE.", tool, len(artifact))
		}
		ev := events.New(events.GUIAlert, "", msg).With("tool", tool)
		ev.UserID = userID
		if err := d.sink.Emit(ctx, ev); err != nil {
			d.logger.Warn("Failed to report bridge result: %v", err)
		}
	}()
	return fmt.Sprintf("🌩️ **AI-to-AI Bridge Started**\n\nPrompting `%s`. I'll report when the answer is injected.", tool)
}

func (d *Dispatcher) resume(ctx context.Context, args string) (string, error) {
	if args == "" {
		return "Usage: `/resume <job>`", nil
	}
	jobID := strings.ToUpper(args)
	err := d.jobs.Resume(ctx, jobID)
	switch {
	case err == nil:
		return fmt.Sprintf("▶️ Resuming **%s** from its last checkpoint.", jobID), nil
	case errors.Is(err, runner.ErrNotTracked), errors.Is(err, mailbox.ErrNotFound):
		return fmt.Sprintf("❌ %s is not a paused or stalled job.", jobID), nil
	case errors.Is(err, runner.ErrNotResumable), errors.Is(err, runner.ErrAlreadyActive):
		return fmt.Sprintf("ℹ️ %s is not paused or stalled.", jobID), nil
	default:
		return "", err
	}
}
