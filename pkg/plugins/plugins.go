// Package plugins loads chat intent handlers from manifests and runs them in
// a Go interpreter that only sees the standard packages their declared
// capabilities grant.
package plugins

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"go/parser"
	"go/token"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"gopkg.in/yaml.v3"

	"omegaclaw/pkg/logx"
)

// ManifestFile is the manifest name inside each plugin directory.
const ManifestFile = "plugin.yaml"

var (
	// ErrCapabilityDenied is returned when a plugin asks for a capability the
	// operator did not allow, or imports a package its capabilities do not grant.
	ErrCapabilityDenied = errors.New("capability denied")

	// ErrNoHandler is returned when no plugin serves an intent.
	ErrNoHandler = errors.New("no plugin for intent")
)

// basePackages are importable by every plugin.
var basePackages = []string{
	"bytes", "errors", "fmt", "math", "regexp", "sort", "strconv", "strings", "unicode", "unicode/utf8",
}

// capabilityPackages maps each capability to the packages it unlocks.
var capabilityPackages = map[string][]string{
	"clock":      {"time"},
	"encoding":   {"encoding/base64", "encoding/hex", "encoding/json"},
	"network":    {"io", "net/http", "net/url"},
	"filesystem": {"bufio", "io", "io/fs", "os", "path/filepath"},
}

// Capabilities lists every capability a manifest may name.
func Capabilities() []string {
	out := make([]string, 0, len(capabilityPackages))
	for c := range capabilityPackages {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// IntentPhrases binds an intent to its trigger phrases.
type IntentPhrases struct {
	Intent  string   `yaml:"intent"`
	Phrases []string `yaml:"phrases"`
}

// Manifest describes one plugin.
type Manifest struct {
	Name         string          `yaml:"name"`
	Handler      string          `yaml:"handler"`
	Intents      []IntentPhrases `yaml:"intents"`
	Capabilities []string        `yaml:"capabilities"`
}

// HandlerFunc is the signature every plugin exports as main.Execute.
type HandlerFunc func(intent string, args map[string]string) (string, error)

// Plugin is a loaded, ready-to-call handler.
type Plugin struct {
	Manifest Manifest
	Dir      string
	Hash     string
	handler  HandlerFunc
}

// Registrar accepts intent phrases, e.g. an intent classifier.
type Registrar interface {
	Register(intent string, phrases []string)
}

// Host owns the loaded plugins.
type Host struct {
	allowed map[string]bool
	timeout time.Duration
	logger  *logx.Logger

	mu       sync.RWMutex
	plugins  []*Plugin
	byIntent map[string]*Plugin
}

// NewHost creates a host that lets plugins use the allowed capabilities and
// bounds each call by timeout.
func NewHost(allowed []string, timeout time.Duration) *Host {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	set := make(map[string]bool, len(allowed))
	for _, c := range allowed {
		set[strings.ToLower(strings.TrimSpace(c))] = true
	}
	return &Host{
		allowed:  set,
		timeout:  timeout,
		logger:   logx.NewLogger("plugins"),
		byIntent: make(map[string]*Plugin),
	}
}

// LoadDir loads every plugin directory under dir. Directories starting with
// "_" or "." are skipped. A plugin that fails to load is reported in the
// returned errors and does not stop the others.
func (h *Host) LoadDir(dir string) (int, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			h.logger.Info("No plugin directory at %s", dir)
			return 0, nil
		}
		return 0, []error{fmt.Errorf("failed to list plugins: %w", err)}
	}

	var errs []error
	n := 0
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), "_") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		p, err := h.Load(filepath.Join(dir, e.Name()))
		if err != nil {
			h.logger.Error("Failed to load plugin %s: %v", e.Name(), err)
			errs = append(errs, fmt.Errorf("plugin %s: %w", e.Name(), err))
			continue
		}
		h.logger.Info("✅ Loaded plugin %s (%d intents, capabilities %v, sha256 %s)",
			p.Manifest.Name, len(p.Manifest.Intents), p.Manifest.Capabilities, p.Hash[:16])
		n++
	}
	return n, errs
}

// Load reads, checks and interprets one plugin directory.
func (h *Host) Load(dir string) (*Plugin, error) {
	raw, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.Name == "" || m.Handler == "" || len(m.Intents) == 0 {
		return nil, fmt.Errorf("manifest needs name, handler and at least one intent")
	}
	if filepath.IsAbs(m.Handler) || strings.Contains(filepath.ToSlash(m.Handler), "..") {
		return nil, fmt.Errorf("handler %q must be inside the plugin directory", m.Handler)
	}

	granted, err := h.grant(m.Capabilities)
	if err != nil {
		return nil, err
	}

	src, err := os.ReadFile(filepath.Join(dir, m.Handler))
	if err != nil {
		return nil, fmt.Errorf("failed to read handler: %w", err)
	}
	if err := checkImports(m.Handler, src, granted); err != nil {
		return nil, err
	}

	fn, err := interpret(string(src), granted)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(src)
	p := &Plugin{Manifest: m, Dir: dir, Hash: hex.EncodeToString(sum[:]), handler: fn}

	h.mu.Lock()
	h.plugins = append(h.plugins, p)
	for _, ip := range m.Intents {
		if prev, ok := h.byIntent[ip.Intent]; ok {
			h.logger.Warn("Intent %s moves from plugin %s to %s", ip.Intent, prev.Manifest.Name, m.Name)
		}
		h.byIntent[ip.Intent] = p
	}
	h.mu.Unlock()
	return p, nil
}

// grant returns the importable package set for the requested capabilities.
func (h *Host) grant(caps []string) (map[string]bool, error) {
	granted := make(map[string]bool)
	for _, p := range basePackages {
		granted[p] = true
	}
	for _, c := range caps {
		c = strings.ToLower(strings.TrimSpace(c))
		pkgs, known := capabilityPackages[c]
		if !known {
			return nil, fmt.Errorf("unknown capability %q: %w", c, ErrCapabilityDenied)
		}
		if !h.allowed[c] {
			return nil, fmt.Errorf("capability %q not allowed by the operator: %w", c, ErrCapabilityDenied)
		}
		for _, p := range pkgs {
			granted[p] = true
		}
	}
	return granted, nil
}

// checkImports parses the handler's import block and rejects any package
// outside the granted set.
func checkImports(name string, src []byte, granted map[string]bool) error {
	f, err := parser.ParseFile(token.NewFileSet(), name, src, parser.ImportsOnly)
	if err != nil {
		return fmt.Errorf("failed to parse handler: %w", err)
	}
	if f.Name.Name != "main" {
		return fmt.Errorf("handler must be package main, got %s", f.Name.Name)
	}
	var denied []string
	for _, imp := range f.Imports {
		p, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			return fmt.Errorf("bad import %s: %w", imp.Path.Value, err)
		}
		if !granted[p] {
			denied = append(denied, p)
		}
	}
	if len(denied) > 0 {
		return fmt.Errorf("imports %v are not granted: %w", denied, ErrCapabilityDenied)
	}
	return nil
}

// interpret evaluates src in a fresh interpreter that only has the symbols
// of the granted packages and returns its Execute function.
func interpret(src string, granted map[string]bool) (HandlerFunc, error) {
	i := interp.New(interp.Options{
		Stdout: io.Discard,
		Stderr: io.Discard,
		Env:    []string{},
	})
	symbols := interp.Exports{}
	for key, syms := range stdlib.Symbols {
		// Keys look like "encoding/json/json".
		if granted[path.Dir(key)] {
			symbols[key] = syms
		}
	}
	if err := i.Use(symbols); err != nil {
		return nil, fmt.Errorf("failed to load symbols: %w", err)
	}
	if _, err := i.Eval(src); err != nil {
		return nil, fmt.Errorf("handler evaluation failed: %w", err)
	}
	v, err := i.Eval("main.Execute")
	if err != nil {
		return nil, fmt.Errorf("handler has no Execute function: %w", err)
	}
	fn, ok := v.Interface().(func(string, map[string]string) (string, error))
	if !ok {
		return nil, fmt.Errorf("handler Execute must be func(string, map[string]string) (string, error)")
	}
	return fn, nil
}

// RegisterIntents adds every plugin intent to r in load order.
func (h *Host) RegisterIntents(r Registrar) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, p := range h.plugins {
		for _, ip := range p.Manifest.Intents {
			r.Register(ip.Intent, ip.Phrases)
		}
	}
}

// Handles reports whether a plugin serves intent.
func (h *Host) Handles(intent string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.byIntent[intent]
	return ok
}

// Plugins returns the loaded plugins in load order.
func (h *Host) Plugins() []*Plugin {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Plugin, len(h.plugins))
	copy(out, h.plugins)
	return out
}

// Execute runs the plugin serving intent. A call that outlives the timeout
// is abandoned and reported as an error; a panicking handler is recovered.
func (h *Host) Execute(ctx context.Context, intent string, args map[string]string) (string, error) {
	h.mu.RLock()
	p, ok := h.byIntent[intent]
	h.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%s: %w", intent, ErrNoHandler)
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("plugin %s panicked: %v", p.Manifest.Name, r)}
			}
		}()
		out, err := p.handler(intent, args)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return "", fmt.Errorf("plugin %s: %w", p.Manifest.Name, r.err)
		}
		return r.out, nil
	case <-ctx.Done():
		return "", fmt.Errorf("plugin %s timed out: %w", p.Manifest.Name, ctx.Err())
	}
}
