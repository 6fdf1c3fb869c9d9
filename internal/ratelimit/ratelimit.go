// Package ratelimit provides fixed-window request admission control.
// The window resets at fixed boundaries rather than rolling: an occasional
// early reset is an accepted cost of keeping the bucket math trivial. This
// is inbound admission only; outbound pacing toward the generation vendor
// uses a token bucket elsewhere.
package ratelimit

import (
	"sync"
	"time"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RetryAfter reports how long a denied caller should wait before the window
// rolls over. Zero when the request was allowed.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed {
		return 0
	}
	wait := d.ResetAt.Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

type bucket struct {
	count       int
	windowStart time.Time
}

// Limiter counts requests per key in fixed windows. Buckets are ephemeral
// and recreated on each rollover. Safe for concurrent use; no I/O.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	// now is swappable for tests.
	now func() time.Time
}

// New creates an empty limiter.
func New() *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Key builds the bucket key for a caller performing an action.
func Key(caller, action string) string {
	return caller + ":" + action
}

// Check admits or denies one request for key under the given limit and
// window, mutating the bucket map. It only ever denies, never starves.
func (l *Limiter) Check(key string, limit int, window time.Duration) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok || now.Sub(b.windowStart) >= window {
		b = &bucket{windowStart: now}
		l.buckets[key] = b
	}

	resetAt := b.windowStart.Add(window)
	if b.count >= limit {
		return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt}
	}

	b.count++
	return Decision{Allowed: true, Remaining: limit - b.count, ResetAt: resetAt}
}

// Prune drops buckets whose window ended before now. Called opportunistically;
// correctness never depends on it since stale buckets reset on next Check.
func (l *Limiter) Prune(window time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, b := range l.buckets {
		if now.Sub(b.windowStart) >= window {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}
