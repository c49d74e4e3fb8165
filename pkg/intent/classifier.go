// Package intent maps free-text chat messages to symbolic intents with an
// ordered first-match keyword table.
package intent

import (
	"strings"
	"sync"

	"omegaclaw/pkg/logx"
)

// Fallback is returned when no phrase matches.
const Fallback = "chat"

// Built-in intents.
const (
	OrchestratorBuild   = "orchestrator:build"
	OrchestratorStatus  = "orchestrator:status"
	OrchestratorCancel  = "orchestrator:cancel"
	OrchestratorInstall = "orchestrator:install"
	ReportHive          = "report:hive"
	ReportJobs          = "report:jobs"
	ReportFull          = "report:full"
	PhantomPrompt       = "phantom:prompt"
)

type entry struct {
	intent  string
	phrases []string
}

// Classifier holds the ordered intent table. The zero value has no entries;
// use New for the default table.
type Classifier struct {
	mu      sync.RWMutex
	entries []entry
	logger  *logx.Logger
}

// New returns a classifier loaded with the default table.
func New() *Classifier {
	c := &Classifier{logger: logx.NewLogger("intent")}
	for _, e := range defaultTable() {
		c.entries = append(c.entries, entry{intent: e.intent, phrases: normalize(e.phrases)})
	}
	return c
}

func defaultTable() []entry {
	return []entry{
		{OrchestratorBuild, []string{
			"start project", "new project", "build an app",
			"create saas", "start build", "build me",
			"create app", "new app", "build project",
			"launch project", "make me", "create project",
		}},
		{OrchestratorStatus, []string{"inbox", "pending", "what's pending"}},
		{OrchestratorCancel, []string{"cancel", "stop", "abort"}},
		{OrchestratorInstall, []string{"install", "add kit", "fetch skill", "get mcp"}},
		{ReportHive, []string{"hive status", "hive report", "what's happening"}},
		{ReportJobs, []string{"job history", "past jobs", "completed jobs", "show jobs"}},
		{ReportFull, []string{"full report", "complete report", "omega report", "status", "report"}},
		{PhantomPrompt, []string{
			"prompt notebooklm", "prompt gemini", "ask the prompter",
			"reasoning step", "external ai", "prompt ai",
		}},
	}
}

func normalize(phrases []string) []string {
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Classify returns the first intent with a phrase contained in text, or Fallback.
func (c *Classifier) Classify(text string) string {
	lower := strings.ToLower(text)

	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, e := range c.entries {
		for _, p := range e.phrases {
			if strings.Contains(lower, p) {
				return e.intent
			}
		}
	}
	return Fallback
}

// Register adds an intent at the end of the table, or replaces the phrases of
// an existing intent without changing its position.
func (c *Classifier) Register(intent string, phrases []string) {
	norm := normalize(phrases)

	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.entries {
		if c.entries[i].intent == intent {
			c.entries[i].phrases = norm
			c.log("Replaced intent '%s' (%d phrases)", intent, len(norm))
			return
		}
	}
	c.entries = append(c.entries, entry{intent: intent, phrases: norm})
	c.log("Registered intent '%s' (%d phrases)", intent, len(norm))
}

// Intents returns the table order.
func (c *Classifier) Intents() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.intent
	}
	return out
}

func (c *Classifier) log(format string, args ...any) {
	if c.logger != nil {
		c.logger.Info(format, args...)
	}
}
