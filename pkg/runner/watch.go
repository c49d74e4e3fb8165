package runner

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"omegaclaw/pkg/mailbox"
)

// Run reconstructs sessions left by a previous process, then ticks every
// poll interval and whenever the inbox, outbox or blockers directory
// changes. Each tick polls, relays reports and relays blockers. Run returns
// when ctx ends, after every session has been stopped.
func (r *Runner) Run(ctx context.Context) error {
	if n := r.Reconstruct(ctx); n > 0 {
		r.logger.Info("Reconstructed %d sessions", n)
	}

	trigger := make(chan struct{}, 1)
	watcher, err := r.watch(ctx, trigger)
	if err != nil {
		r.logger.Warn("Mailbox watch unavailable, polling only: %v", err)
	}
	if watcher != nil {
		defer func() {
			if err := watcher.Close(); err != nil {
				r.logger.Warn("Failed to close mailbox watcher: %v", err)
			}
		}()
	}

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	r.logger.Info("Runner started (mode %s, poll every %s)", r.Mode(), r.pollInterval)
	r.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			return r.Shutdown(shutdownCtx)
		case <-ticker.C:
		case <-trigger:
		}
		r.Tick(ctx)
	}
}

// Tick runs one poll and relay pass.
func (r *Runner) Tick(ctx context.Context) {
	if started := r.Poll(ctx); len(started) > 0 {
		r.logger.Info("Started %v", started)
	}
	r.RelayOutbox(ctx)
	r.RelayBlockers(ctx)
}

// watch forwards mailbox changes to trigger, coalescing bursts.
func (r *Runner) watch(ctx context.Context, trigger chan<- struct{}) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, dir := range []string{mailbox.InboxDir, mailbox.OutboxDir, mailbox.BlockersDir} {
		if err := watcher.Add(r.mailbox.Dir(dir)); err != nil {
			_ = watcher.Close()
			return nil, err
		}
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				// Lock sidecars and temp files are dot-files.
				if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 || strings.HasPrefix(filepath.Base(ev.Name), ".") {
					continue
				}
				select {
				case trigger <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("Mailbox watcher error: %v", err)
			}
		}
	}()
	return watcher, nil
}
