package utils

import (
	"regexp"
	"strings"
)

// Redactor replaces anything that looks like a credential with [redacted].
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor returns a redactor with the default credential patterns.
func NewRedactor() *Redactor {
	return &Redactor{patterns: compileDefaultPatterns()}
}

func compileDefaultPatterns() []*regexp.Regexp {
	patterns := []string{
		// OpenAI / Anthropic style keys, including short test keys
		`sk-(?:ant-|proj-)?[A-Za-z0-9_-]{8,}`,

		// AWS access keys
		`AKIA[0-9A-Z]{16}`,

		// Telegram bot tokens
		`\b\d{8,10}:[A-Za-z0-9_-]{35}\b`,

		// key=value style assignments
		`(?i)(?:api[_-]?key|_key|secret|token|password)\s*[:=]\s*['"]?[A-Za-z0-9_\-./+]{12,}['"]?`,

		// Bearer tokens
		`Bearer\s+[A-Za-z0-9_\-.=]{20,}`,

		// GitHub tokens
		`gh[pousr]_[A-Za-z0-9]{36}`,
		`github_pat_[A-Za-z0-9_]{22,}`,

		// Private keys (PEM header)
		`-----BEGIN\s+(?:RSA|DSA|EC|OPENSSH|PGP)?\s*PRIVATE\s+KEY-----`,
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		compiled = append(compiled, regexp.MustCompile(pattern))
	}
	return compiled
}

// Scan returns text with secrets redacted and whether anything was replaced.
func (r *Redactor) Scan(text string) (string, bool) {
	hadRedactions := false
	for _, pattern := range r.patterns {
		if pattern.MatchString(text) {
			hadRedactions = true
			text = pattern.ReplaceAllString(text, "[redacted]")
		}
	}
	return text, hadRedactions
}

// Redact is Scan without the flag.
func (r *Redactor) Redact(text string) string {
	out, _ := r.Scan(text)
	return out
}

var defaultRedactor = NewRedactor()

// RedactSecrets redacts text with the default patterns.
func RedactSecrets(text string) string {
	return defaultRedactor.Redact(text)
}

// Truncate returns at most n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// OneLine collapses whitespace so log lines stay single-line.
func OneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
