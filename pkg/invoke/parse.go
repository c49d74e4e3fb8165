package invoke

import (
	"regexp"
	"strings"
)

// ActionKind is the kind of block a cycle response carried.
type ActionKind string

// Action kinds, in parse priority order.
const (
	ActionComplete ActionKind = "complete"
	ActionBlocked  ActionKind = "blocked"
	ActionPhase    ActionKind = "phase"
	ActionBash     ActionKind = "bash"
	ActionWrite    ActionKind = "write"
	ActionNone     ActionKind = "none"
)

// Action is the single action parsed from a response. Text holds the summary,
// blocker reason, phase name or command depending on Kind.
type Action struct {
	Kind    ActionKind
	Text    string
	Path    string
	Content string
}

var (
	completeRe = regexp.MustCompile("(?s)```complete\\s*\\n?(.*?)```")
	blockedRe  = regexp.MustCompile("(?s)```blocked\\s*\\n?(.*?)```")
	phaseRe    = regexp.MustCompile("```phase:(\\w+)")
	bashRe     = regexp.MustCompile("(?s)```bash\\s*\\n(.*?)```")
	writeRe    = regexp.MustCompile("(?s)```write:([^\\n]+)\\n(.*?)```")
)

// ParseResponse extracts exactly one action. The first matching format wins
// in the order complete, blocked, phase, bash, write. A response with no
// recognizable block yields ActionNone with the raw response as Text.
func ParseResponse(resp string) Action {
	if strings.Contains(resp, "```complete") {
		summary := "Build completed"
		if m := completeRe.FindStringSubmatch(resp); m != nil {
			summary = strings.TrimSpace(m[1])
		}
		return Action{Kind: ActionComplete, Text: summary}
	}

	if strings.Contains(resp, "```blocked") {
		reason := "Unknown blocker"
		if m := blockedRe.FindStringSubmatch(resp); m != nil {
			reason = strings.TrimSpace(m[1])
		}
		return Action{Kind: ActionBlocked, Text: reason}
	}

	if m := phaseRe.FindStringSubmatch(resp); m != nil {
		return Action{Kind: ActionPhase, Text: m[1]}
	}

	if m := bashRe.FindStringSubmatch(resp); m != nil {
		return Action{Kind: ActionBash, Text: strings.TrimSpace(m[1])}
	}

	if m := writeRe.FindStringSubmatch(resp); m != nil {
		return Action{Kind: ActionWrite, Path: strings.TrimSpace(m[1]), Content: m[2]}
	}

	return Action{Kind: ActionNone, Text: resp}
}

// DangerousPatterns are rejected by substring match before any shell runs.
//
//nolint:gochecknoglobals // read-only table
var DangerousPatterns = []string{
	"rm -rf /",
	"rm -rf ~",
	"dd if=",
	":(){ :|:& };:",
	"mkfs",
	"format",
}

// IsDangerous reports whether cmd contains a denylisted pattern.
func IsDangerous(cmd string) bool {
	for _, p := range DangerousPatterns {
		if strings.Contains(cmd, p) {
			return true
		}
	}
	return false
}
