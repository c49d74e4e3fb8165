// Package dispatch routes chat messages: slash commands first, then any
// dialogue the user is in, then a reply to a blocked job, and finally the
// intent classifier. Every handled message is written to the command log.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"omegaclaw/pkg/events"
	"omegaclaw/pkg/intent"
	"omegaclaw/pkg/logx"
	"omegaclaw/pkg/mailbox"
	"omegaclaw/pkg/onboard"
	"omegaclaw/pkg/persistence"
	"omegaclaw/pkg/report"
	"omegaclaw/pkg/runner"
	"omegaclaw/pkg/utils"
	"omegaclaw/pkg/wizard"
)

// Intents recorded in the command log for messages that never reach the
// classifier.
const (
	IntentCommand = "command"
	IntentWizard  = "wizard"
	IntentOnboard = "onboard"
	IntentAnswer  = "answer"
)

const (
	loggedResponseLen = 500
	cancelTimeout     = 30 * time.Second
	promptTimeout     = 10 * time.Minute
)

// Message is one incoming chat message from an authorized user.
type Message struct {
	UserID int64
	ChatID int64
	Text   string
}

// Jobs is the runner surface the dispatcher drives.
type Jobs interface {
	Mode() string
	SetMode(mode string)
	Sessions() []runner.SessionInfo
	Blocked() []string
	Submit(ctx context.Context, nj mailbox.NewJob, mode string) (*mailbox.Job, error)
	HandleAnswer(ctx context.Context, jobID, text string) error
	Resume(ctx context.Context, jobID string) error
	Cancel(ctx context.Context, jobID string) error
}

// GUI is the desktop controller surface used by /phantom and /prompt.
type GUI interface {
	Inject(ctx context.Context, text string) error
	Prompt(ctx context.Context, tool, instruction string) (string, error)
	Busy() bool
}

// Plugins executes intents served by loaded plugins.
type Plugins interface {
	Handles(intent string) bool
	Execute(ctx context.Context, intent string, args map[string]string) (string, error)
}

// Store keeps the command log and per-user autonomy modes.
type Store interface {
	LogCommand(entry *persistence.CommandEntry) error
	SetAutonomyMode(userID int64, mode string) error
	AutonomyMode(userID int64) (string, error)
}

// Options wires a Dispatcher. Jobs, Store, Classifier, Wizard, Onboarding
// and Reporter are required; GUI, Plugins and Sink are optional.
//
//nolint:govet // Field order chosen for readability over memory alignment.
type Options struct {
	Jobs       Jobs
	Store      Store
	Classifier *intent.Classifier
	Wizard     *wizard.Wizard
	Onboarding *onboard.Onboarding
	Reporter   *report.Reporter
	GUI        GUI
	Plugins    Plugins
	Sink       events.Sink
}

// Dispatcher turns messages into replies.
type Dispatcher struct {
	jobs       Jobs
	store      Store
	classifier *intent.Classifier
	wizard     *wizard.Wizard
	onboard    *onboard.Onboarding
	reporter   *report.Reporter
	gui        GUI
	plugins    Plugins
	sink       events.Sink
	logger     *logx.Logger

	wg sync.WaitGroup
}

// New creates a dispatcher.
func New(opts Options) (*Dispatcher, error) {
	switch {
	case opts.Jobs == nil:
		return nil, errors.New("dispatcher needs a job runner")
	case opts.Store == nil:
		return nil, errors.New("dispatcher needs a store")
	case opts.Classifier == nil || opts.Wizard == nil || opts.Onboarding == nil || opts.Reporter == nil:
		return nil, errors.New("dispatcher needs a classifier, wizard, onboarding and reporter")
	}
	sink := opts.Sink
	if sink == nil {
		sink = events.LogSink{Logger: logx.NewLogger("dispatch-events")}
	}
	return &Dispatcher{
		jobs:       opts.Jobs,
		store:      opts.Store,
		classifier: opts.Classifier,
		wizard:     opts.Wizard,
		onboard:    opts.Onboarding,
		reporter:   opts.Reporter,
		gui:        opts.GUI,
		plugins:    opts.Plugins,
		sink:       sink,
		logger:     logx.NewLogger("dispatch"),
	}, nil
}

// Wait blocks until background GUI prompts have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Handle produces the reply to msg. A returned error carries details meant
// for the log only; the transport shows the user a generic notice.
func (d *Dispatcher) Handle(ctx context.Context, msg Message) (string, error) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return "", nil
	}
	start := time.Now()
	name, logged, reply, err := d.route(ctx, msg.UserID, text)
	d.logger.Debug("%d %s -> %s (%s)", msg.UserID, utils.Truncate(utils.OneLine(logged), 40), name, time.Since(start).Round(time.Millisecond))
	d.record(msg.UserID, logged, name, reply, err)
	return reply, err
}

// route returns the intent name, the message text safe to log, the reply
// and any error.
func (d *Dispatcher) route(ctx context.Context, userID int64, text string) (string, string, string, error) {
	if strings.HasPrefix(text, "/") {
		reply, err := d.command(ctx, userID, text)
		return IntentCommand, text, reply, err
	}

	if d.wizard.Active(userID) {
		reply, err := d.wizard.Handle(userID, text)
		// Wizard answers are credentials.
		return IntentWizard, "(wizard answer)", reply, err
	}

	if d.onboard.Active(userID) {
		reply, err := d.onboard.Handle(userID, text)
		return IntentOnboard, text, reply, err
	}

	if blocked := d.jobs.Blocked(); len(blocked) == 1 {
		reply, err := d.answer(ctx, blocked[0], text)
		return IntentAnswer, text, reply, err
	}

	name := d.classifier.Classify(text)
	reply, err := d.routeIntent(ctx, userID, name, text)
	return name, text, reply, err
}

func (d *Dispatcher) routeIntent(ctx context.Context, userID int64, name, text string) (string, error) {
	switch name {
	case intent.OrchestratorBuild:
		return d.onboard.Start(userID)
	case intent.OrchestratorStatus:
		return d.reporter.Inbox(), nil
	case intent.OrchestratorCancel:
		return "🛑 Nothing to cancel. Use `/cancel <job>` to stop a running job.", nil
	case intent.OrchestratorInstall:
		return d.install(userID, text)
	case intent.ReportHive:
		return d.reporter.Hive(), nil
	case intent.ReportJobs:
		return d.reporter.Jobs(), nil
	case intent.ReportFull:
		return d.reporter.Full(), nil
	case intent.PhantomPrompt:
		return d.prompt(userID, promptTool(text), text), nil
	case intent.Fallback:
		return HelpText, nil
	}
	if d.plugins != nil && d.plugins.Handles(name) {
		out, err := d.plugins.Execute(ctx, name, map[string]string{
			"text":    text,
			"user_id": fmt.Sprint(userID),
		})
		if err != nil {
			return "", fmt.Errorf("intent %s: %w", name, err)
		}
		return out, nil
	}
	return fmt.Sprintf("❌ No handler for intent: `%s`", name), nil
}

func (d *Dispatcher) install(userID int64, text string) (string, error) {
	bps := d.wizard.Blueprints()
	if id, ok := bps.Match(text); ok {
		return d.wizard.Start(userID, id)
	}
	return fmt.Sprintf("🔌 **Available installs**: %s\n\nSay e.g. `install %s`.",
		strings.Join(bps.IDs(), ", "), firstOr(bps.IDs(), "supabase")), nil
}

func (d *Dispatcher) answer(ctx context.Context, jobID, text string) (string, error) {
	if err := d.jobs.HandleAnswer(ctx, jobID, text); err != nil {
		if errors.Is(err, mailbox.ErrNotFound) {
			return fmt.Sprintf("❌ Unknown job `%s`.", jobID), nil
		}
		if errors.Is(err, runner.ErrNoOpenBlocker) {
			return fmt.Sprintf("ℹ️ **%s** is not waiting for an answer.", jobID), nil
		}
		return "", err
	}
	return fmt.Sprintf("✅ Answer sent to **%s**. Resuming...", jobID), nil
}

// record writes the command log entry. Failures are logged and swallowed.
func (d *Dispatcher) record(userID int64, message, name, reply string, err error) {
	response := reply
	if err != nil {
		response = "error: " + err.Error()
	}
	entry := &persistence.CommandEntry{
		UserID:   userID,
		Message:  utils.RedactSecrets(message),
		Intent:   name,
		Response: utils.Truncate(utils.RedactSecrets(response), loggedResponseLen),
	}
	if err := d.store.LogCommand(entry); err != nil {
		d.logger.Warn("Failed to log command from %d: %v", userID, err)
	}
}

// promptTool picks the external AI named in a free-text prompt request.
func promptTool(text string) string {
	lower := strings.ToLower(text)
	for _, tool := range []string{"NotebookLM", "Gemini", "ChatGPT", "Claude"} {
		if strings.Contains(lower, strings.ToLower(tool)) {
			return tool
		}
	}
	return "Gemini"
}

func firstOr(s []string, def string) string {
	if len(s) == 0 {
		return def
	}
	return s[0]
}
