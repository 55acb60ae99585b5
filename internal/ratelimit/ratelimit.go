// Package ratelimit provides per-user request throttling for the HTTP gateway.
//
// The limiter uses virtual scheduling (GCRA): each user carries a single
// timestamp, the theoretical arrival time of their next conforming request.
// A request is allowed when it does not run further ahead of real time than
// the configured burst allows. No background goroutines, no token counters.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a user has exhausted their request quota.
var ErrRateLimited = errors.New("rate limit exceeded")

// Config configures the limiter.
type Config struct {
	RequestsPerMinute int // Sustained rate. 0 = unlimited (Allow always succeeds).
	BurstSize         int // Requests allowed back to back. 0 = defaults to RequestsPerMinute.
}

// Limiter throttles requests per user. Each user is tracked independently,
// so one user cannot exhaust another's quota.
type Limiter struct {
	mu       sync.Mutex
	arrivals map[string]time.Time // theoretical arrival time per user

	interval  time.Duration // spacing between requests at the sustained rate
	tolerance time.Duration // how far ahead of real time a burst may run
}

// NewLimiter creates a limiter from cfg. A zero RequestsPerMinute disables
// limiting entirely.
func NewLimiter(cfg Config) *Limiter {
	if cfg.RequestsPerMinute <= 0 {
		return &Limiter{}
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = cfg.RequestsPerMinute
	}
	interval := time.Minute / time.Duration(cfg.RequestsPerMinute)
	return &Limiter{
		arrivals:  make(map[string]time.Time),
		interval:  interval,
		tolerance: time.Duration(burst-1) * interval,
	}
}

// Allow records one request for userID. It returns ErrRateLimited when the
// request exceeds the user's sustained rate plus burst allowance.
func (l *Limiter) Allow(userID string) error {
	if l.interval == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	tat, ok := l.arrivals[userID]
	if !ok || tat.Before(now) {
		tat = now
	}
	// Conforming iff the schedule has not drifted past the burst tolerance.
	if tat.Sub(now) > l.tolerance {
		return ErrRateLimited
	}
	l.arrivals[userID] = tat.Add(l.interval)
	return nil
}
