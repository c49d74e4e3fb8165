// Package limiter meters prompt tokens per brain backend: a tokens-per-minute
// bucket and an optional daily token budget that resets at local midnight.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrRateLimit is returned when the minute bucket cannot cover a request.
	ErrRateLimit = errors.New("rate limit exceeded")

	// ErrBudgetExceeded is returned once the daily token budget is spent.
	ErrBudgetExceeded = errors.New("daily token budget exceeded")
)

const (
	minWait = 10 * time.Millisecond
	maxWait = time.Second
)

// Limits configures one backend. Zero values disable the matching limit.
type Limits struct {
	TokensPerMinute int
	DailyTokens     int
}

// Limiter holds a bucket per backend name.
type Limiter struct {
	buckets    map[string]*Bucket
	resetTimer *time.Timer
	mu         sync.RWMutex
	now        func() time.Time
}

// Bucket tracks one backend's usage.
type Bucket struct {
	name       string
	limits     Limits
	tokens     int
	usedToday  int
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

// New creates a limiter for the given backends and schedules the daily reset.
func New(limits map[string]Limits) *Limiter {
	l := newLimiter(limits, time.Now)
	l.scheduleDailyReset()
	return l
}

func newLimiter(limits map[string]Limits, now func() time.Time) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*Bucket, len(limits)),
		now:     now,
	}
	for name, lim := range limits {
		l.buckets[name] = &Bucket{
			name:       name,
			limits:     lim,
			tokens:     lim.TokensPerMinute,
			lastRefill: now(),
			now:        now,
		}
	}
	return l
}

// Bucket returns the bucket for name, or nil when the backend is unmetered.
func (l *Limiter) Bucket(name string) *Bucket {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.buckets[name]
}

// Reserve takes tokens from name's bucket without waiting.
func (l *Limiter) Reserve(name string, tokens int) error {
	b := l.Bucket(name)
	if b == nil {
		return fmt.Errorf("backend %s not configured", name)
	}
	return b.Reserve(tokens)
}

// Status returns the tokens left in the current minute and used today.
func (l *Limiter) Status(name string) (available, usedToday int, err error) {
	b := l.Bucket(name)
	if b == nil {
		return 0, 0, fmt.Errorf("backend %s not configured", name)
	}
	available, usedToday = b.Status()
	return available, usedToday, nil
}

// ResetDaily clears every bucket's daily usage and refills it.
func (l *Limiter) ResetDaily() {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, b := range l.buckets {
		b.ResetDaily()
	}
}

// Close stops the daily reset timer.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.resetTimer != nil {
		l.resetTimer.Stop()
	}
}

func (l *Limiter) scheduleDailyReset() {
	now := l.now()
	nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())

	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetTimer = time.AfterFunc(nextMidnight.Sub(now), func() {
		l.ResetDaily()
		l.scheduleDailyReset()
	})
}

// Name returns the backend name.
func (b *Bucket) Name() string { return b.name }

// Reserve takes tokens from the bucket. Requests larger than a whole minute
// are clamped to the bucket size so they can still go through a full bucket.
func (b *Bucket) Reserve(tokens int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.reserveLocked(tokens)
	return err
}

// Wait blocks until the bucket can cover tokens or ctx is done. A spent
// daily budget is returned immediately.
func (b *Bucket) Wait(ctx context.Context, tokens int) error {
	for {
		b.mu.Lock()
		wait, err := b.reserveLocked(tokens)
		b.mu.Unlock()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrRateLimit) {
			return err
		}

		timer := time.NewTimer(min(max(wait, minWait), maxWait))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Status returns the tokens available now and the tokens used today.
func (b *Bucket) Status() (available, usedToday int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens, b.usedToday
}

// ResetDaily clears the daily usage and refills the bucket.
func (b *Bucket) ResetDaily() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.usedToday = 0
	b.tokens = b.limits.TokensPerMinute
	b.lastRefill = b.now()
}

// reserveLocked returns how long to wait before retrying on ErrRateLimit.
func (b *Bucket) reserveLocked(tokens int) (time.Duration, error) {
	if b.limits.DailyTokens > 0 && b.usedToday+tokens > b.limits.DailyTokens {
		return 0, ErrBudgetExceeded
	}
	if tpm := b.limits.TokensPerMinute; tpm > 0 {
		need := min(tokens, tpm)
		b.refill()
		if b.tokens < need {
			missing := need - b.tokens
			return time.Duration(missing) * time.Minute / time.Duration(tpm), ErrRateLimit
		}
		b.tokens -= need
	}
	b.usedToday += tokens
	return 0, nil
}

// refill adds tokens in proportion to the time since the last refill.
func (b *Bucket) refill() {
	tpm := b.limits.TokensPerMinute
	if tpm <= 0 {
		return
	}
	now := b.now()
	elapsed := now.Sub(b.lastRefill)
	add := int(int64(elapsed) * int64(tpm) / int64(time.Minute))
	if add <= 0 {
		return
	}
	b.tokens += add
	b.lastRefill = b.lastRefill.Add(time.Duration(add) * time.Minute / time.Duration(tpm))
	if b.tokens >= tpm {
		b.tokens = tpm
		b.lastRefill = now
	}
}
