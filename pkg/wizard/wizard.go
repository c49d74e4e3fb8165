// Package wizard runs the per-user MCP installation dialogue: one question
// per message, answers persisted between messages, and a rendered MCP config
// plus .env entries at the end.
package wizard

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"omegaclaw/pkg/config"
	"omegaclaw/pkg/logx"
	"omegaclaw/pkg/persistence"
	"omegaclaw/pkg/utils"
)

// CancelledMessage is the reply to a cancel word.
const CancelledMessage = "🛑 **MCP Setup Cancelled.**"

var cancelWords = map[string]bool{"cancel": true, "stop": true, "abort": true}

// IsCancel reports whether text is one of the words that abort a dialogue.
func IsCancel(text string) bool {
	return cancelWords[strings.ToLower(strings.TrimSpace(text))]
}

// Store persists wizard progress.
type Store interface {
	SaveWizardState(state *persistence.WizardState) error
	LoadWizardState(userID int64) (*persistence.WizardState, error)
	DeleteWizardState(userID int64) error
}

// Wizard drives installations for every user.
type Wizard struct {
	store      Store
	blueprints Blueprints
	configDir  string
	envFile    string
	logger     *logx.Logger
}

// New creates a wizard writing MCP configs to configDir and variables to envFile.
func New(store Store, blueprints Blueprints, configDir, envFile string) *Wizard {
	if blueprints == nil {
		blueprints = DefaultBlueprints()
	}
	return &Wizard{
		store:      store,
		blueprints: blueprints,
		configDir:  configDir,
		envFile:    envFile,
		logger:     logx.NewLogger("wizard"),
	}
}

// NewFromConfig builds a wizard from the wizard section of cfg.
func NewFromConfig(store Store, cfg config.WizardConfig) (*Wizard, error) {
	bps, err := LoadBlueprints(cfg.Blueprints)
	if err != nil {
		return nil, err
	}
	return New(store, bps, cfg.ConfigDir, cfg.EnvFile), nil
}

// Blueprints returns the known blueprints.
func (w *Wizard) Blueprints() Blueprints { return w.blueprints }

// Active reports whether the user is in the middle of a dialogue.
func (w *Wizard) Active(userID int64) bool {
	_, err := w.store.LoadWizardState(userID)
	return err == nil
}

// Start begins a dialogue for blueprintID and returns the first question.
func (w *Wizard) Start(userID int64, blueprintID string) (string, error) {
	if _, ok := w.blueprints[blueprintID]; !ok {
		return "", fmt.Errorf("unknown blueprint %q", blueprintID)
	}
	state := &persistence.WizardState{
		UserID:      userID,
		BlueprintID: blueprintID,
		Answers:     map[string]string{},
	}
	w.logger.Info("User %d started the %s wizard", userID, blueprintID)
	return w.advance(state, "")
}

// Handle feeds one message into the user's dialogue.
func (w *Wizard) Handle(userID int64, text string) (string, error) {
	state, err := w.store.LoadWizardState(userID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return "", fmt.Errorf("no wizard in progress for %d", userID)
		}
		return "", err
	}
	if IsCancel(text) {
		if err := w.store.DeleteWizardState(userID); err != nil {
			return "", err
		}
		return CancelledMessage, nil
	}
	return w.advance(state, text)
}

// advance records text as the answer to the question asked last, then asks
// the next one or finishes.
func (w *Wizard) advance(state *persistence.WizardState, text string) (string, error) {
	bp, ok := w.blueprints[state.BlueprintID]
	if !ok {
		_ = w.store.DeleteWizardState(state.UserID)
		return "❌ Invalid MCP blueprint requested. Wizard closed.", nil
	}
	if state.Answers == nil {
		state.Answers = map[string]string{}
	}

	if state.Step > 0 && state.Step <= len(bp.Questions) {
		state.Answers[bp.Questions[state.Step-1].Key] = strings.TrimSpace(text)
	}

	if state.Step < len(bp.Questions) {
		q := bp.Questions[state.Step]
		state.Step++
		if err := w.store.SaveWizardState(state); err != nil {
			return "", err
		}
		return q.Prompt + "\n\n_Type `cancel` to abort._", nil
	}

	if err := w.install(bp, state.Answers); err != nil {
		return "", err
	}
	if err := w.store.DeleteWizardState(state.UserID); err != nil {
		w.logger.Warn("Failed to clear wizard state of %d: %v", state.UserID, err)
	}
	return fmt.Sprintf("✅ **%s MCP configured successfully!**\n\n"+
		"The JSON config has been written and future jobs will inherit this MCP.", bp.Name), nil
}

// ConfigPath is where a blueprint's rendered config lands.
func (w *Wizard) ConfigPath(blueprintID string) string {
	return filepath.Join(w.configDir, blueprintID+"-mcp.json")
}

func (w *Wizard) install(bp *Blueprint, answers map[string]string) error {
	if err := os.MkdirAll(w.configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create MCP config dir: %w", err)
	}
	data, err := json.MarshalIndent(render(bp.Template, answers), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render %s config: %w", bp.ID, err)
	}
	if err := utils.WriteFileAtomic(w.ConfigPath(bp.ID), append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("failed to write %s config: %w", bp.ID, err)
	}
	w.logger.Info("Wrote %s", w.ConfigPath(bp.ID))

	if w.envFile == "" {
		return nil
	}
	// The config is already in place, so a failed .env append is only logged.
	if err := appendEnv(w.envFile, bp, answers); err != nil {
		w.logger.Warn("Failed to update %s: %v", w.envFile, err)
	}
	return nil
}

func appendEnv(path string, bp *Blueprint, answers map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "\n# Auto-configured by %s MCP wizard\n", bp.ID)
	for _, q := range bp.Questions {
		v := strings.ReplaceAll(answers[q.Key], "'", `'\''`)
		fmt.Fprintf(&b, "%s='%s'\n", q.Key, v)
	}
	_, werr := f.WriteString(b.String())
	cerr := f.Close()
	if werr != nil {
		return werr
	}
	return cerr
}
