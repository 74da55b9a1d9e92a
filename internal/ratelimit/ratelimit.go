// Package ratelimit implements a per-identity fixed-window rate limiter.
// Thread-safe. No background goroutines — expired windows are reset lazily
// on each Allow call.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRateLimited is returned when an identity has exhausted its window quota.
var ErrRateLimited = errors.New("rate limit exceeded")

// LimitError carries the time remaining until the current window expires.
// It matches ErrRateLimited under errors.Is.
type LimitError struct {
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *LimitError) Is(target error) bool { return target == ErrRateLimited }

// Config configures the fixed-window rate limiter.
type Config struct {
	MaxRequests int           // Requests allowed per window. 0 = unlimited (Allow always succeeds).
	Window      time.Duration // Window length. 0 = defaults to one minute.
}

// Limiter is a per-identity fixed-window rate limiter. Each identity gets an
// independent window; one caller cannot exhaust another's quota. The counter
// resets in full when the window expires — there is no sliding credit.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	max     int
	length  time.Duration
	now     func() time.Time // injectable for tests
}

type window struct {
	start time.Time
	count int
}

// NewLimiter creates a rate limiter with the given configuration.
// If MaxRequests is 0, Allow always succeeds (unlimited).
func NewLimiter(cfg Config) *Limiter {
	length := cfg.Window
	if length <= 0 {
		length = time.Minute
	}
	return &Limiter{
		windows: make(map[string]*window),
		max:     cfg.MaxRequests,
		length:  length,
		now:     time.Now,
	}
}

// Allow checks whether the identity has quota remaining in its current
// window. Counts the request on success. Returns a *LimitError (matching
// ErrRateLimited) when the quota is exhausted; the decision is immediate,
// callers are never queued.
func (l *Limiter) Allow(identity string) error {
	// Unlimited mode.
	if l.max <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[identity]
	if !ok || now.Sub(w.start) >= l.length {
		// First request, or the previous window expired: start fresh.
		w = &window{start: now}
		l.windows[identity] = w
	}

	if w.count >= l.max {
		return &LimitError{RetryAfter: l.length - now.Sub(w.start)}
	}
	w.count++
	return nil
}

// Prune drops windows that expired before the current one. Called
// periodically by the maintenance scheduler to bound memory on churny
// identity sets.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var dropped int
	for id, w := range l.windows {
		if now.Sub(w.start) >= l.length {
			delete(l.windows, id)
			dropped++
		}
	}
	return dropped
}
