package invoke

import (
	"sync"
	"time"
)

// IdleWatchdog tracks output activity of an interactive child and fires once
// when no output arrived for the idle limit. Start must be paired with Stop.
type IdleWatchdog struct {
	lastActivity time.Time
	onIdle       func()
	stopCh       chan struct{}
	idleCh       chan struct{}
	limit        time.Duration
	tick         time.Duration
	mu           sync.Mutex
	running      bool
	paused       bool
}

// NewIdleWatchdog creates a watchdog. onIdle, when set, runs once on expiry.
func NewIdleWatchdog(limit time.Duration, onIdle func()) *IdleWatchdog {
	tick := time.Second
	if limit < 4*tick {
		tick = limit / 4
		if tick <= 0 {
			tick = time.Millisecond
		}
	}
	return &IdleWatchdog{
		limit:  limit,
		tick:   tick,
		onIdle: onIdle,
		stopCh: make(chan struct{}),
		idleCh: make(chan struct{}),
	}
}

// Start begins tracking.
func (w *IdleWatchdog) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.lastActivity = time.Now()
	w.running = true
	go w.monitor()
}

// Stop ends tracking. Safe to call more than once.
func (w *IdleWatchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		w.running = false
		close(w.stopCh)
	}
}

// RecordActivity resets the idle timer.
func (w *IdleWatchdog) RecordActivity() {
	w.mu.Lock()
	w.lastActivity = time.Now()
	w.mu.Unlock()
}

// Pause suspends expiry, used while the job waits for a human answer.
func (w *IdleWatchdog) Pause() {
	w.mu.Lock()
	w.paused = true
	w.mu.Unlock()
}

// Resume re-arms expiry and counts as activity.
func (w *IdleWatchdog) Resume() {
	w.mu.Lock()
	w.paused = false
	w.lastActivity = time.Now()
	w.mu.Unlock()
}

// IdleFor returns the time since the last activity.
func (w *IdleWatchdog) IdleFor() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lastActivity.IsZero() {
		return 0
	}
	return time.Since(w.lastActivity)
}

// Expired reports whether the watchdog has fired.
func (w *IdleWatchdog) Expired() bool {
	select {
	case <-w.idleCh:
		return true
	default:
		return false
	}
}

// IdleCh is closed when the idle limit is reached.
func (w *IdleWatchdog) IdleCh() <-chan struct{} {
	return w.idleCh
}

func (w *IdleWatchdog) expired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.paused && time.Since(w.lastActivity) > w.limit
}

func (w *IdleWatchdog) monitor() {
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			if w.expired() {
				close(w.idleCh)
				if w.onIdle != nil {
					w.onIdle()
				}
				return
			}
		}
	}
}
