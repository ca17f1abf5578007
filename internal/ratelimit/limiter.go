// Package ratelimit paces the delivery of system commands to the SUT.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter wraps a token bucket limiter. A nil *Limiter never waits, so an
// unconfigured SUT link skips pacing without call-site checks.
type Limiter struct {
	limiter *rate.Limiter
	mu      sync.RWMutex
}

// New creates a limiter allowing rps commands per second. If rps is 0 or
// negative, returns nil (no pacing).
func New(rps int) *Limiter {
	if rps <= 0 {
		return nil
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(rps), rps), // burst size = rps
	}
}

// Wait blocks until the limiter allows a command or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.limiter == nil {
		return nil
	}
	l.mu.RLock()
	limiter := l.limiter
	l.mu.RUnlock()
	return limiter.Wait(ctx)
}

// SetRate updates the pacing to a new commands-per-second value.
func (l *Limiter) SetRate(rps int) {
	if l == nil || l.limiter == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if rps <= 0 {
		l.limiter.SetLimit(rate.Inf)
		return
	}
	l.limiter.SetLimit(rate.Limit(rps))
	l.limiter.SetBurst(rps)
}
