package resilience

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/pulsegate/pulsegate/core"
)

// dedupeEvictionSlack is added to the TTL before a cached entry is
// physically removed. Reads between expiry and eviction re-check the
// deadline, so the slack only delays memory reclamation, never staleness.
const dedupeEvictionSlack = 50 * time.Millisecond

// DedupeConfig holds configuration for a Deduper.
type DedupeConfig struct {
	// TTL is how long a successful result is served from cache after it
	// settles. Zero keeps coalescing concurrent calls but caches nothing.
	TTL time.Duration

	// SampleRate is the percentage (0-100) of dedupe hits reported
	// through the Reporter. At 0 nothing is reported.
	SampleRate float64

	// Logger for dedupe events. Defaults to a no-op.
	Logger core.Logger

	// Reporter receives sampled dedupe hits. Defaults to a no-op.
	Reporter Reporter
}

// DefaultDedupeConfig coalesces concurrent calls without caching.
func DefaultDedupeConfig() *DedupeConfig {
	return &DedupeConfig{
		TTL:        0,
		SampleRate: core.DefaultSampleRate,
	}
}

// Validate checks the configuration for invalid values.
func (c *DedupeConfig) Validate() error {
	if c.TTL < 0 {
		return fmt.Errorf("ttl must not be negative, got %v: %w", c.TTL, core.ErrInvalidConfiguration)
	}
	return nil
}

// Deduper collapses concurrent calls that share a key into a single
// execution. The first caller for a key runs the function; everyone who
// arrives while it is in flight waits for the same result. When a TTL is
// configured, a successful result keeps serving later callers until it
// expires. Errors are never cached: the next caller after a failure runs
// the function again.
//
// A nil *Deduper runs every call directly.
type Deduper struct {
	config   *DedupeConfig
	logger   core.Logger
	reporter Reporter

	mu      sync.Mutex
	entries map[string]*dedupeEntry
}

// dedupeEntry is the shared slot for one key. Fields other than done are
// written once, before done is closed, and only read afterwards.
type dedupeEntry struct {
	done      chan struct{}
	value     interface{}
	err       error
	settled   bool
	createdAt time.Time
	expiresAt time.Time
	timer     *time.Timer
}

// NewDeduper creates a request deduplicator. A nil config uses
// DefaultDedupeConfig.
func NewDeduper(config *DedupeConfig) (*Deduper, error) {
	if config == nil {
		config = DefaultDedupeConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if config.Logger == nil {
		config.Logger = &core.NoOpLogger{}
	}
	if config.Reporter == nil {
		config.Reporter = NewNoOpReporter()
	}
	config.SampleRate = core.ClampRate(config.SampleRate)

	return &Deduper{
		config:   config,
		logger:   config.Logger,
		reporter: config.Reporter,
		entries:  make(map[string]*dedupeEntry),
	}, nil
}

// DedupeOption adjusts a single Do call.
type DedupeOption func(*dedupeCallOptions)

type dedupeCallOptions struct {
	ttl time.Duration
}

// WithTTL overrides the configured cache TTL for one call. It only has an
// effect on the caller that ends up executing the function.
func WithTTL(ttl time.Duration) DedupeOption {
	return func(o *dedupeCallOptions) { o.ttl = ttl }
}

// Do returns the result of fn for key, reusing an in-flight or cached
// result when one exists. Waiting callers honor ctx: a cancelled waiter
// returns ctx.Err() while the executing call keeps running for the rest.
// A panic in fn is converted to an error and delivered to every waiter.
func (d *Deduper) Do(ctx context.Context, key string, fn func(context.Context) (interface{}, error), opts ...DedupeOption) (interface{}, error) {
	if d == nil {
		return fn(ctx)
	}

	callOpts := dedupeCallOptions{ttl: d.config.TTL}
	for _, opt := range opts {
		opt(&callOpts)
	}

	d.mu.Lock()
	if e, ok := d.entries[key]; ok {
		if !e.settled {
			age := time.Since(e.createdAt)
			d.mu.Unlock()
			d.hit(key, "pending", age, 0)
			select {
			case <-e.done:
				return e.value, e.err
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if now := time.Now(); now.Before(e.expiresAt) {
			value := e.value
			age := now.Sub(e.createdAt)
			remaining := e.expiresAt.Sub(now)
			d.mu.Unlock()
			d.hit(key, "cached", age, remaining)
			return value, nil
		}
		// Expired but not yet evicted; replace it
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(d.entries, key)
	}

	e := &dedupeEntry{done: make(chan struct{}), createdAt: time.Now()}
	d.entries[key] = e
	d.mu.Unlock()

	value, err := func() (v interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in deduplicated call: %v\n%s", r, debug.Stack())
			}
		}()
		return fn(ctx)
	}()

	d.settle(key, e, value, err, callOpts.ttl)
	return value, err
}

// settle publishes the result to waiters and decides whether it stays in
// the cache.
func (d *Deduper) settle(key string, e *dedupeEntry, value interface{}, err error, ttl time.Duration) {
	d.mu.Lock()
	e.value = value
	e.err = err
	e.settled = true

	// Forget or Clear may have replaced the entry mid-flight. Waiters on
	// the old entry still get their result through done; only the map
	// bookkeeping is skipped.
	if current, ok := d.entries[key]; ok && current == e {
		switch {
		case err != nil:
			// Errors are never cached
			delete(d.entries, key)
		case ttl <= 0:
			delete(d.entries, key)
		default:
			e.expiresAt = time.Now().Add(ttl)
			e.timer = time.AfterFunc(ttl+dedupeEvictionSlack, func() {
				d.evict(key, e)
			})
		}
	}
	close(e.done)
	d.mu.Unlock()
}

func (d *Deduper) evict(key string, e *dedupeEntry) {
	d.mu.Lock()
	if current, ok := d.entries[key]; ok && current == e {
		delete(d.entries, key)
	}
	d.mu.Unlock()
}

func (d *Deduper) hit(key, mode string, age, remaining time.Duration) {
	d.logger.Debug("Request deduplicated", map[string]interface{}{
		"operation": "dedupe_hit",
		"key":       key,
		"mode":      mode,
		"age_ms":    age.Milliseconds(),
	})
	attrs := map[string]interface{}{
		"key":    key,
		"mode":   mode,
		"age_ms": age.Milliseconds(),
	}
	if remaining > 0 {
		attrs["ttl_remaining_ms"] = remaining.Milliseconds()
	}
	d.reporter.ReportAction("api_dedupe_hit", attrs, d.config.SampleRate)
}

// Forget drops any cached or in-flight entry for key. An in-flight call
// keeps running and still delivers its result to existing waiters, but
// new callers start fresh.
func (d *Deduper) Forget(key string) {
	if d == nil {
		return
	}
	d.mu.Lock()
	if e, ok := d.entries[key]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(d.entries, key)
	}
	d.mu.Unlock()
}

// Clear drops every entry.
func (d *Deduper) Clear() {
	if d == nil {
		return
	}
	d.mu.Lock()
	cleared := len(d.entries)
	for _, e := range d.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	d.entries = make(map[string]*dedupeEntry)
	d.mu.Unlock()

	if cleared > 0 {
		d.logger.Debug("Dedupe cache cleared", map[string]interface{}{
			"operation": "dedupe_clear",
			"entries":   cleared,
		})
	}
}

// Len returns the number of tracked keys, cached and in-flight.
func (d *Deduper) Len() int {
	if d == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}
