package ratelimit

import (
	"sync"
	"time"

	"equipviz/internal/metrics"
)

// Lockout blocks a key after too many consecutive failures.
// Keys are opaque; the login flow uses username plus client IP.
type Lockout struct {
	mu          sync.Mutex
	entries     map[string]*lockEntry
	maxFailures int
	duration    time.Duration
	now         func() time.Time
}

type lockEntry struct {
	failures    int
	lastFailure time.Time
	lockedUntil time.Time
}

// NewLockout returns a lockout that engages after maxFailures failures and
// lasts for duration. A non-positive maxFailures disables it.
func NewLockout(maxFailures int, duration time.Duration) *Lockout {
	return &Lockout{
		entries:     make(map[string]*lockEntry),
		maxFailures: maxFailures,
		duration:    duration,
		now:         time.Now,
	}
}

// Locked reports whether key is locked and for how much longer.
func (l *Lockout) Locked(key string) (bool, time.Duration) {
	if l.maxFailures <= 0 {
		return false, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		return false, 0
	}
	now := l.now()
	if remaining := e.lockedUntil.Sub(now); remaining > 0 {
		return true, remaining
	}
	if !e.lockedUntil.IsZero() {
		delete(l.entries, key)
	}
	return false, 0
}

// Fail records one failure. Failures older than the lockout window are forgotten.
func (l *Lockout) Fail(key string) {
	if l.maxFailures <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[key]
	if !ok || now.Sub(e.lastFailure) > l.duration {
		e = &lockEntry{}
		l.entries[key] = e
	}
	e.failures++
	e.lastFailure = now
	if e.failures >= l.maxFailures {
		e.lockedUntil = now.Add(l.duration)
		e.failures = 0
		metrics.LoginLockouts.Inc()
	}
}

// Succeed clears the failure count for key.
func (l *Lockout) Succeed(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

// Prune drops entries that can no longer affect a decision.
func (l *Lockout) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	n := 0
	for k, e := range l.entries {
		if now.After(e.lockedUntil) && now.Sub(e.lastFailure) > l.duration {
			delete(l.entries, k)
			n++
		}
	}
	return n
}
