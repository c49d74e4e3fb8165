// Package onboard runs the four-question build dialogue that turns a chat
// conversation into a PENDING job in the mailbox inbox.
package onboard

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"omegaclaw/pkg/logx"
	"omegaclaw/pkg/mailbox"
	"omegaclaw/pkg/persistence"
	"omegaclaw/pkg/wizard"
)

// CancelledMessage is the reply to a cancel word.
const CancelledMessage = "🛑 **Setup Cancelled.** Ready for new commands."

const maxNameLen = 50

type question struct {
	key    string
	prompt string
}

var questions = []question{
	{"name", "📝 **Step 1/4: Project Name**\nWhat are we building? (e.g. TaskFlow, CryptoBot)"},
	{"audience", "👥 **Step 2/4: Audience & Purpose**\nWho is this for and what is the main goal in one sentence?"},
	{"kit", "🧰 **Step 3/4: Architecture Kit**\nWhich blueprint?\n`website` · `web-app` · `api` · `automation` · `other`"},
	{"mode", "⚙️ **Step 4/4: Autonomy Mode**\nHow should the assistant operate?\n`1` Full Discovery (strict checkpoints)\n`2` Quick Start (balanced)\n`3` Just Build (max autonomy)"},
}

// State is one user's progress through the dialogue.
type State struct {
	Answers map[string]string `json:"answers"`
	UserID  int64             `json:"user_id"`
	Step    int               `json:"step"`
}

// JobStore receives the denormalized copy of a new job.
type JobStore interface {
	UpsertJob(job *persistence.Job) error
}

// Onboarding keeps dialogue state in the mailbox state directory.
type Onboarding struct {
	mailbox *mailbox.Mailbox
	jobs    JobStore
	logger  *logx.Logger
}

// New creates an onboarding dialogue. jobs may be nil.
func New(mb *mailbox.Mailbox, jobs JobStore) *Onboarding {
	return &Onboarding{mailbox: mb, jobs: jobs, logger: logx.NewLogger("onboard")}
}

func stateName(userID int64) string {
	return "onboard-" + strconv.FormatInt(userID, 10)
}

// Active reports whether the user is in the middle of the dialogue.
func (o *Onboarding) Active(userID int64) bool {
	var s State
	return o.mailbox.LoadState(stateName(userID), &s) == nil
}

// Start begins (or restarts) the dialogue and returns the first question.
func (o *Onboarding) Start(userID int64) (string, error) {
	s := &State{UserID: userID, Answers: map[string]string{}}
	if err := o.mailbox.SaveState(stateName(userID), s); err != nil {
		return "", err
	}
	return "🚀 **New Project Setup**\n\n" + questions[0].prompt +
		"\n\n_Reply directly. Type `cancel` to abort._", nil
}

// Cancel abandons the user's dialogue.
func (o *Onboarding) Cancel(userID int64) (string, error) {
	if err := o.mailbox.DeleteState(stateName(userID)); err != nil && !errors.Is(err, mailbox.ErrNotFound) {
		return "", err
	}
	return CancelledMessage, nil
}

// Handle records one answer and returns the next question, or creates the
// job after the last one.
func (o *Onboarding) Handle(userID int64, text string) (string, error) {
	var s State
	if err := o.mailbox.LoadState(stateName(userID), &s); err != nil {
		return "", err
	}
	if wizard.IsCancel(text) {
		return o.Cancel(userID)
	}
	if s.Answers == nil {
		s.Answers = map[string]string{}
	}
	if s.Step >= len(questions) {
		s.Step = len(questions) - 1
	}

	s.Answers[questions[s.Step].key] = strings.TrimSpace(text)
	s.Step++
	if s.Step < len(questions) {
		if err := o.mailbox.SaveState(stateName(userID), &s); err != nil {
			return "", err
		}
		return questions[s.Step].prompt, nil
	}

	if _, err := o.Cancel(userID); err != nil {
		o.logger.Warn("Failed to clear onboarding state of %d: %v", userID, err)
	}
	name := SanitizeName(s.Answers["name"])
	if name == "" {
		return "❌ Invalid project name. Use letters, numbers, spaces only.", nil
	}
	return o.dispatch(userID, name, s.Answers)
}

func (o *Onboarding) dispatch(userID int64, name string, answers map[string]string) (string, error) {
	mode := NormalizeMode(answers["mode"])
	kit := strings.TrimSpace(answers["kit"])
	job, err := o.mailbox.CreateJob(mailbox.NewJob{
		Name:     name,
		Audience: answers["audience"],
		Kit:      kit,
		Mode:     mode,
		UserID:   userID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}
	if o.jobs != nil {
		if err := o.jobs.UpsertJob(&persistence.Job{
			CreatedAt: job.CreatedAt,
			ID:        job.ID,
			Name:      name,
			Kit:       kit,
			Mode:      mode,
			Status:    persistence.StatusPending,
			UserID:    userID,
		}); err != nil {
			o.logger.Warn("Failed to store job %s: %v", job.ID, err)
		}
	}

	return fmt.Sprintf("✅ **%s Dispatched!**\n\n"+
		"**Project**: %s\n**Kit**: %s\n**Mode**: %s\n\n"+
		"The build starts shortly. Use `status` to check progress.",
		job.ID, EscapeMarkdown(name), EscapeMarkdown(kit), mode), nil
}

var nameRe = regexp.MustCompile(`[^a-zA-Z0-9 _-]`)

// SanitizeName keeps letters, digits, spaces, underscores and hyphens and
// caps the result at 50 characters.
func SanitizeName(name string) string {
	name = nameRe.ReplaceAllString(strings.TrimSpace(name), "")
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}
	return strings.TrimSpace(name)
}

// NormalizeMode maps "1"/"2"/"3" or a mode word to a job mode. Anything
// unrecognised becomes QUICK START.
func NormalizeMode(answer string) string {
	a := strings.ToLower(answer)
	switch {
	case strings.Contains(a, "1") || strings.Contains(a, "discovery"):
		return mailbox.ModeFullDiscovery
	case strings.Contains(a, "2") || strings.Contains(a, "quick"):
		return mailbox.ModeQuickStart
	case strings.Contains(a, "3") || strings.Contains(a, "just") || strings.Contains(a, "build"):
		return mailbox.ModeJustBuild
	default:
		return mailbox.ModeQuickStart
	}
}

var mdReplacer = strings.NewReplacer(
	`*`, `\*`, `_`, `\_`, "`", "\\`", `[`, `\[`, `]`, `\]`,
)

// EscapeMarkdown neutralises the characters Telegram's Markdown treats as
// formatting.
func EscapeMarkdown(s string) string {
	return mdReplacer.Replace(s)
}
