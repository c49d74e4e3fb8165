package gui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"omegaclaw/pkg/brain"
	"omegaclaw/pkg/logx"
	"omegaclaw/pkg/utils"
)

// ErrBusy is returned when another GUI task already owns the screen.
var ErrBusy = errors.New("gui controller busy")

// Signal is what the watch loop recognised on screen.
type Signal int

// Signals in priority order.
const (
	SignalNone Signal = iota
	SignalPermission
	SignalUsageLimit
	SignalFreeze
	SignalDone
)

func (s Signal) String() string {
	switch s {
	case SignalPermission:
		return "permission"
	case SignalUsageLimit:
		return "usage_limit"
	case SignalFreeze:
		return "freeze"
	case SignalDone:
		return "done"
	default:
		return "none"
	}
}

// Keyword sets matched against lowercased screen text.
//
//nolint:gochecknoglobals // read-only tables
var (
	PermissionKeywords = []string{"allow", "approve", "accept", "yes, allow"}
	FreezeKeywords     = []string{"not responding", "keep waiting", "wait", "unresponsive"}
	DoneKeywords       = []string{"task completed", "finished", "done", "all changes applied"}

	readyKeywords    = []string{">", "ask a question", "type a message"}
	planningKeywords = []string{"plan", "architect", "design"}
)

// Classify maps screen text to a signal. The priority is fixed: permission
// requests first, then usage limits, then freezes, then completion.
func Classify(text string) Signal {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, PermissionKeywords):
		return SignalPermission
	case containsAny(lower, brain.LimitPhrases):
		return SignalUsageLimit
	case containsAny(lower, FreezeKeywords):
		return SignalFreeze
	case containsAny(lower, DoneKeywords):
		return SignalDone
	}
	return SignalNone
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// Options configure the controller.
type Options struct {
	App            string
	Shortcut       string
	PlanningModel  string
	FastModel      string
	BrowserApps    []string
	Interval       time.Duration
	IdleTimeout    time.Duration
	ReadyTimeout   time.Duration
	ArtifactWait   time.Duration
	Pause          time.Duration
	WidthFraction  float64
	HeightFraction float64
}

// DefaultOptions returns the stock controller options.
func DefaultOptions() Options {
	return Options{
		App:            "Antigravity",
		Shortcut:       "cmd+l",
		BrowserApps:    []string{"Google Chrome", "Safari"},
		Interval:       3 * time.Second,
		IdleTimeout:    600 * time.Second,
		ReadyTimeout:   60 * time.Second,
		ArtifactWait:   2 * time.Minute,
		Pause:          500 * time.Millisecond,
		WidthFraction:  0.8,
		HeightFraction: 0.9,
	}
}

// Hooks are called from the watch loop. Any may be nil.
type Hooks struct {
	OnLimit  func()
	OnFreeze func()
	OnDone   func(reason string)
}

// Watch outcomes.
const (
	ReasonDone = "done"
	ReasonIdle = "idle"
)

// WatchResult summarises one watch loop.
type WatchResult struct {
	Reason      string
	Permissions int
	Limits      int
	Freezes     int
	Polls       int
}

// Controller owns the host's mouse and keyboard. At most one task runs at a
// time; a second caller gets ErrBusy instead of waiting.
type Controller struct {
	act       Actuator
	landmarks Landmarks
	logger    *logx.Logger
	opts      Options
	mu        sync.Mutex
	busy      atomic.Bool
	now       func() time.Time
}

// NewController creates a controller. Zero option fields take their defaults.
func NewController(act Actuator, landmarks Landmarks, opts Options) *Controller {
	def := DefaultOptions()
	if opts.App == "" {
		opts.App = def.App
	}
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = def.IdleTimeout
	}
	if opts.WidthFraction <= 0 {
		opts.WidthFraction = def.WidthFraction
	}
	if opts.HeightFraction <= 0 {
		opts.HeightFraction = def.HeightFraction
	}
	if len(opts.BrowserApps) == 0 {
		opts.BrowserApps = def.BrowserApps
	}
	if landmarks == nil {
		landmarks = DefaultLandmarks()
	}
	return &Controller{
		act:       act,
		landmarks: landmarks,
		logger:    logx.NewLogger("gui"),
		opts:      opts,
		now:       time.Now,
	}
}

// acquire takes the controller or fails with ErrBusy.
func (c *Controller) acquire() (func(), error) {
	if !c.mu.TryLock() {
		return nil, ErrBusy
	}
	c.busy.Store(true)
	return func() {
		c.busy.Store(false)
		c.mu.Unlock()
	}, nil
}

// Busy reports whether a GUI task is running.
func (c *Controller) Busy() bool {
	return c.busy.Load()
}

// ModelFor picks the IDE model for an instruction: planning words select
// the planning model, anything else the fast one.
func (c *Controller) ModelFor(instruction string) string {
	if containsAny(strings.ToLower(instruction), planningKeywords) {
		return c.opts.PlanningModel
	}
	return c.opts.FastModel
}

// Run takes over the IDE for one instruction: focus, resize, choose a model,
// type the instruction and watch until the IDE is done or idle.
func (c *Controller) Run(ctx context.Context, instruction string, hooks Hooks) (WatchResult, error) {
	release, err := c.acquire()
	if err != nil {
		return WatchResult{}, err
	}
	defer release()

	if err := c.act.Focus(ctx, c.opts.App); err != nil {
		return WatchResult{}, err
	}
	if err := c.act.Resize(ctx, c.opts.App, c.opts.WidthFraction, c.opts.HeightFraction); err != nil {
		c.logger.Warn("Window resize failed, landmarks may be off: %v", err)
	}
	if model := c.ModelFor(instruction); model != "" {
		if err := c.selectModel(ctx, model); err != nil {
			c.logger.Warn("Model selection failed: %v", err)
		}
	}
	if err := c.inject(ctx, instruction); err != nil {
		return WatchResult{}, err
	}
	return c.watch(ctx, hooks)
}

// Inject types text into the IDE chat. It takes the controller like Run.
func (c *Controller) Inject(ctx context.Context, text string) error {
	release, err := c.acquire()
	if err != nil {
		return err
	}
	defer release()
	if err := c.act.Focus(ctx, c.opts.App); err != nil {
		return err
	}
	return c.inject(ctx, text)
}

// Watch runs the vision loop alone, for an IDE task started by hand.
func (c *Controller) Watch(ctx context.Context, hooks Hooks) (WatchResult, error) {
	release, err := c.acquire()
	if err != nil {
		return WatchResult{}, err
	}
	defer release()
	return c.watch(ctx, hooks)
}

func (c *Controller) inject(ctx context.Context, text string) error {
	c.waitReady(ctx)
	c.logger.Info("Typing into %s: %s", c.opts.App, utils.Truncate(utils.OneLine(text), 80))
	// A newline would submit early, so typed text stays on one line.
	if err := c.act.Type(ctx, utils.OneLine(text), c.opts.Shortcut); err != nil {
		return fmt.Errorf("failed to inject prompt: %w", err)
	}
	return nil
}

// waitReady polls the screen until an input prompt shows or ReadyTimeout
// passes. Timing out is not an error; typing proceeds anyway.
func (c *Controller) waitReady(ctx context.Context) {
	if c.opts.ReadyTimeout <= 0 {
		return
	}
	deadline := c.now().Add(c.opts.ReadyTimeout)
	for c.now().Before(deadline) {
		text, err := c.act.ReadScreen(ctx)
		if err == nil && containsAny(text, readyKeywords) {
			return
		}
		if !c.sleep(ctx, c.opts.Interval) {
			return
		}
	}
	c.logger.Warn("Timed out waiting for %s to accept input", c.opts.App)
}

func (c *Controller) selectModel(ctx context.Context, model string) error {
	screens, _ := c.act.Screens(ctx)
	x, y, ok := c.landmarks.Locate(screens, LandmarkModelSelector)
	if !ok {
		return fmt.Errorf("no %s landmark", LandmarkModelSelector)
	}
	if err := c.act.Click(ctx, x, y); err != nil {
		return err
	}
	c.sleep(ctx, c.opts.Pause)
	c.logger.Info("Switching %s to model %s", c.opts.App, model)
	return c.act.Type(ctx, model, "")
}

// rotateModel moves the model selector down two entries and asks the IDE
// to carry on.
func (c *Controller) rotateModel(ctx context.Context) {
	if err := c.act.Key(ctx, "esc"); err != nil {
		c.logger.Warn("Model rotation failed: %v", err)
		return
	}
	if c.opts.FastModel != "" {
		if err := c.selectModel(ctx, c.opts.FastModel); err != nil {
			c.logger.Warn("Model rotation failed: %v", err)
		}
	} else {
		screens, _ := c.act.Screens(ctx)
		if x, y, ok := c.landmarks.Locate(screens, LandmarkModelSelector); ok {
			_ = c.act.Click(ctx, x, y)
			_ = c.act.Key(ctx, "up")
			_ = c.act.Key(ctx, "up")
			_ = c.act.Key(ctx, "enter")
		}
	}
	if err := c.act.Type(ctx, "Continue the task please.", c.opts.Shortcut); err != nil {
		c.logger.Warn("Failed to resume after model rotation: %v", err)
	}
}

func (c *Controller) keepWaiting(ctx context.Context) {
	screens, _ := c.act.Screens(ctx)
	if x, y, ok := c.landmarks.Locate(screens, LandmarkKeepWaiting); ok {
		if err := c.act.Click(ctx, x, y); err == nil {
			return
		}
	}
	_ = c.act.Key(ctx, "enter")
}

// watch polls the screen every Interval and services the first signal in
// priority order. Screen text unchanged for IdleTimeout ends the loop as an
// implicit completion.
func (c *Controller) watch(ctx context.Context, hooks Hooks) (WatchResult, error) {
	c.logger.Info("Vision watch started (every %s, idle %s)", c.opts.Interval, c.opts.IdleTimeout)
	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	var (
		res      WatchResult
		last     string
		idleFrom = c.now()
	)
	for {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-ticker.C:
		}
		res.Polls++

		text, err := c.act.ReadScreen(ctx)
		if err != nil {
			c.logger.Warn("Screen read failed: %v", err)
			continue
		}
		if text != "" && text != last {
			last = text
			idleFrom = c.now()
		}

		switch Classify(text) {
		case SignalPermission:
			res.Permissions++
			c.logger.Info("Permission prompt on screen, approving")
			if err := c.act.Key(ctx, "enter"); err != nil {
				c.logger.Warn("Failed to approve: %v", err)
			}
			continue
		case SignalUsageLimit:
			res.Limits++
			c.logger.Warn("Usage limit on screen, rotating model")
			c.rotateModel(ctx)
			if hooks.OnLimit != nil {
				hooks.OnLimit()
			}
			continue
		case SignalFreeze:
			res.Freezes++
			c.logger.Warn("%s looks frozen, choosing keep waiting", c.opts.App)
			c.keepWaiting(ctx)
			if hooks.OnFreeze != nil {
				hooks.OnFreeze()
			}
			continue
		case SignalDone:
			res.Reason = ReasonDone
			c.logger.Info("Task appears complete")
			if hooks.OnDone != nil {
				hooks.OnDone(ReasonDone)
			}
			return res, nil
		}

		if c.now().Sub(idleFrom) > c.opts.IdleTimeout {
			res.Reason = ReasonIdle
			c.logger.Info("No screen change for %s, assuming done", c.opts.IdleTimeout)
			if hooks.OnDone != nil {
				hooks.OnDone(ReasonIdle)
			}
			return res, nil
		}
	}
}

// Prompt is the AI-to-AI bridge: type instruction into an external AI tool
// open in a browser, wait for its answer, copy it out through the clipboard
// and type it into the IDE. The copied artifact is returned.
func (c *Controller) Prompt(ctx context.Context, tool, instruction string) (string, error) {
	release, err := c.acquire()
	if err != nil {
		return "", err
	}
	defer release()

	c.logger.Info("Prompting external AI %s", tool)
	if err := c.focusBrowser(ctx); err != nil {
		return "", err
	}

	screens, _ := c.act.Screens(ctx)
	x, y, ok := c.landmarks.Locate(screens, LandmarkExternalInput)
	if !ok {
		return "", fmt.Errorf("no %s landmark", LandmarkExternalInput)
	}
	if err := c.act.Click(ctx, x, y); err != nil {
		return "", err
	}
	if err := c.act.Key(ctx, "cmd+a"); err != nil {
		return "", err
	}
	if err := c.act.Key(ctx, "backspace"); err != nil {
		return "", err
	}
	if err := c.act.Type(ctx, utils.OneLine(instruction), ""); err != nil {
		return "", fmt.Errorf("failed to prompt %s: %w", tool, err)
	}

	c.waitStable(ctx)

	// The answer sits above the input box.
	if err := c.act.Click(ctx, x, y-300); err != nil {
		return "", err
	}
	for _, k := range []string{"cmd+a", "cmd+c"} {
		if err := c.act.Key(ctx, k); err != nil {
			return "", err
		}
		c.sleep(ctx, c.opts.Pause)
	}
	artifact, err := c.act.Clipboard(ctx)
	if err != nil {
		return "", err
	}
	artifact = strings.TrimSpace(artifact)
	if artifact == "" {
		return "", fmt.Errorf("no answer captured from %s", tool)
	}
	c.logger.Info("Captured %d chars from %s", len(artifact), tool)

	if err := c.act.Focus(ctx, c.opts.App); err != nil {
		return artifact, err
	}
	if err := c.inject(ctx, artifact); err != nil {
		return artifact, err
	}
	return artifact, nil
}

func (c *Controller) focusBrowser(ctx context.Context) error {
	var lastErr error
	for _, app := range c.opts.BrowserApps {
		if lastErr = c.act.Focus(ctx, app); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("no browser available: %w", lastErr)
}

// waitStable waits until two consecutive screen reads match, or
// ArtifactWait passes.
func (c *Controller) waitStable(ctx context.Context) {
	if c.opts.ArtifactWait <= 0 {
		return
	}
	deadline := c.now().Add(c.opts.ArtifactWait)
	var prev string
	for c.now().Before(deadline) {
		if !c.sleep(ctx, c.opts.Interval) {
			return
		}
		text, err := c.act.ReadScreen(ctx)
		if err != nil {
			continue
		}
		if text != "" && text == prev {
			return
		}
		prev = text
	}
}

// sleep waits d or until ctx ends. It reports whether ctx is still live.
func (c *Controller) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
