package core

import (
	"sync"
	"time"
)

// IntervalLimiter admits at most one event per interval. It backs error-log
// flood control in ProductionLogger and the rate guard's report debounce.
type IntervalLimiter struct {
	interval time.Duration
	lastTime time.Time
	mu       sync.Mutex
}

// NewIntervalLimiter creates a new interval limiter
func NewIntervalLimiter(interval time.Duration) *IntervalLimiter {
	return &IntervalLimiter{
		interval: interval,
	}
}

// Allow returns true if an event is admitted under the interval gate
func (l *IntervalLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastTime) >= l.interval {
		l.lastTime = now
		return true
	}
	return false
}

// AllowAt is Allow with an injected timestamp, for callers that already
// hold a clock reading.
func (l *IntervalLimiter) AllowAt(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastTime) >= l.interval {
		l.lastTime = now
		return true
	}
	return false
}
