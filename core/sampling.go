package core

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// DefaultSampleRate admits every event. Rates are percentages in [0, 100].
const DefaultSampleRate = 100.0

// Sampler makes percentage-based sampling decisions. Rates outside [0, 100]
// are clamped. The zero value is not usable; construct with NewSampler.
type Sampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSampler creates a sampler seeded from the current time.
func NewSampler() *Sampler {
	return NewSamplerWithSource(rand.NewSource(time.Now().UnixNano()))
}

// NewSamplerWithSource creates a sampler with an explicit source so tests
// can make deterministic decisions.
func NewSamplerWithSource(src rand.Source) *Sampler {
	return &Sampler{rng: rand.New(src)}
}

// Allow reports whether an event at the given percentage rate is admitted.
// A rate of 100 or more always admits, 0 or less never admits.
func (s *Sampler) Allow(rate float64) bool {
	if rate >= 100 {
		return true
	}
	if rate <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()*100 < rate
}

// ClampRate constrains a sampling rate to [0, 100].
func ClampRate(rate float64) float64 {
	if rate < 0 {
		return 0
	}
	if rate > 100 {
		return 100
	}
	return rate
}

// BackoffDelay computes the sleep before the next retry attempt using
// exponential backoff. attempt is 1-based: the delay after the first
// failure uses attempt 1 and equals initial. The result never exceeds max
// (before jitter). Jitter adds a small deterministic perturbation to
// prevent synchronized retries across multiple clients.
func BackoffDelay(attempt int, initial, max time.Duration, factor float64, jitter bool) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * factor)
		if delay > max {
			delay = max
			break
		}
	}
	if delay > max {
		delay = max
	}
	if jitter {
		delay += time.Duration(float64(delay) * 0.1 * math.Sin(float64(attempt)))
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}
