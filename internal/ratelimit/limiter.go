// Package ratelimit provides per-key token buckets for the pairing endpoint
// and for outgoing replies.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultBurst = 5
	sweepEvery   = 5 * time.Minute
	idleAfter    = 10 * time.Minute
)

// Limiter enforces per-key request rates using token buckets.
// Stale keys are swept lazily from Allow, so no background goroutine is held.
type Limiter struct {
	name  string
	r     rate.Limit
	burst int

	mu        sync.Mutex
	entries   map[string]*entry
	lastSweep time.Time
	now       func() time.Time
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a limiter. perMinute <= 0 disables it (Allow always true).
func New(name string, perMinute, burst int) *Limiter {
	if burst <= 0 {
		burst = defaultBurst
	}
	r := rate.Limit(0)
	if perMinute > 0 {
		r = rate.Limit(float64(perMinute) / 60.0)
	}
	return &Limiter{
		name:    name,
		r:       r,
		burst:   burst,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Enabled reports whether the limiter is active.
func (l *Limiter) Enabled() bool {
	return l != nil && l.r > 0
}

// Allow reports whether one more event for key is allowed now.
func (l *Limiter) Allow(key string) bool {
	if !l.Enabled() {
		return true
	}
	now := l.now()

	l.mu.Lock()
	if now.Sub(l.lastSweep) >= sweepEvery {
		l.sweep(now)
	}
	e, ok := l.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.r, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = now
	l.mu.Unlock()

	if !e.limiter.AllowN(now, 1) {
		slog.Warn("ratelimit: rejected", "limiter", l.name, "key", key)
		return false
	}
	return true
}

// sweep drops keys idle for longer than idleAfter. Caller holds l.mu.
func (l *Limiter) sweep(now time.Time) {
	cutoff := now.Add(-idleAfter)
	for k, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, k)
		}
	}
	l.lastSweep = now
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
