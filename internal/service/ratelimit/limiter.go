// Package ratelimit keeps one token bucket per key (a session id).
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Limiter hands out tokens per key. A zero rate disables limiting.
type Limiter struct {
	mu    sync.Mutex
	m     map[string]*entry
	rate  rate.Limit
	burst int
	idle  time.Duration
}

// New creates a limiter allowing perSecond events per key with the given burst.
// Keys unused for idle are forgotten on the next Allow.
func New(perSecond float64, burst int, idle time.Duration) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		m:     make(map[string]*entry),
		rate:  rate.Limit(perSecond),
		burst: burst,
		idle:  idle,
	}
}

// Allow reports whether one event for key may happen now.
func (l *Limiter) Allow(key string) bool {
	return l.AllowAt(key, time.Now())
}

// AllowAt is Allow with an explicit clock.
func (l *Limiter) AllowAt(key string, now time.Time) bool {
	if l == nil || l.rate <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.idle > 0 {
		for k, e := range l.m {
			if now.Sub(e.lastSeen) > l.idle {
				delete(l.m, k)
			}
		}
	}

	e, ok := l.m[key]
	if !ok {
		e = &entry{lim: rate.NewLimiter(l.rate, l.burst)}
		l.m[key] = e
	}
	e.lastSeen = now
	return e.lim.AllowN(now, 1)
}

// Forget drops the bucket for key.
func (l *Limiter) Forget(key string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	delete(l.m, key)
	l.mu.Unlock()
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
