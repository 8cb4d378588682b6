package resilience

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pulsegate/pulsegate/core"
)

// GuardStrategy picks what happens to calls that arrive while a key is
// blocked.
type GuardStrategy string

const (
	// StrategyBlock rejects the call with a GuardBlockedError.
	StrategyBlock GuardStrategy = "block"
	// StrategyQueue suspends the call until the block window elapses,
	// then runs it.
	StrategyQueue GuardStrategy = "queue"
	// StrategyDrop rejects the call with ErrGuardDropped and no details.
	StrategyDrop GuardStrategy = "drop"
)

// GuardConfig holds configuration for a RateGuard.
type GuardConfig struct {
	// MaxRequests allowed per key inside the sliding window.
	MaxRequests int

	// Window is the sliding window length.
	Window time.Duration

	// BlockDuration is how long a key stays blocked after exceeding the
	// limit. Zero means block for one full Window.
	BlockDuration time.Duration

	// Strategy picks the overflow behavior. Empty means StrategyBlock.
	Strategy GuardStrategy

	// SkipFailedRequests rolls a call's timestamp back out of the window
	// when the operation fails, so only successful calls count toward
	// the limit. Off by default: failures count.
	SkipFailedRequests bool

	// KeyFilter exempts keys from guarding. Keys for which it returns
	// true pass through without counting or blocking. Nil guards every
	// key.
	KeyFilter func(key string) bool

	// ReportDebounce is the minimum gap between api_runaway_blocked
	// reports for one key. Zero reports every block event.
	ReportDebounce time.Duration

	// SampleRate is the percentage (0-100) of block events reported
	// through the Reporter. At 0 nothing is reported.
	SampleRate float64

	// Logger for guard decisions. Defaults to a no-op.
	Logger core.Logger

	// Reporter receives sampled api_runaway_blocked events. Defaults to
	// a no-op.
	Reporter Reporter
}

// DefaultGuardConfig allows 30 requests per 10 seconds per key and blocks
// overflowing keys for one window.
func DefaultGuardConfig() *GuardConfig {
	return &GuardConfig{
		MaxRequests:    30,
		Window:         10 * time.Second,
		Strategy:       StrategyBlock,
		ReportDebounce: 30 * time.Second,
		SampleRate:     core.DefaultSampleRate,
	}
}

// Validate validates the guard configuration
func (c *GuardConfig) Validate() error {
	if c.MaxRequests < 1 {
		return fmt.Errorf("max requests must be at least 1, got %d: %w", c.MaxRequests, core.ErrInvalidConfiguration)
	}
	if c.Window <= 0 {
		return fmt.Errorf("window must be positive, got %v: %w", c.Window, core.ErrInvalidConfiguration)
	}
	if c.BlockDuration < 0 {
		return fmt.Errorf("block duration must not be negative, got %v: %w", c.BlockDuration, core.ErrInvalidConfiguration)
	}
	if c.ReportDebounce < 0 {
		return fmt.Errorf("report debounce must not be negative, got %v: %w", c.ReportDebounce, core.ErrInvalidConfiguration)
	}
	switch c.Strategy {
	case StrategyBlock, StrategyQueue, StrategyDrop:
	default:
		return fmt.Errorf("unknown strategy %q: %w", c.Strategy, core.ErrInvalidConfiguration)
	}
	return nil
}

// RateGuard enforces a per-key sliding-window request limit. Each key
// tracks its own call timestamps; when a call would push a key past
// MaxRequests inside Window, the key enters a block window and the
// configured strategy decides what happens to it and to calls that arrive
// while the block is active.
//
// Blocked keys release all queued waiters in a single batch when the
// block window elapses; there is one timer per block, not per waiter.
//
// A nil *RateGuard runs every call unguarded.
type RateGuard struct {
	config   *GuardConfig
	logger   core.Logger
	reporter Reporter
	enabled  atomic.Bool

	mu      sync.Mutex
	buckets map[string]*rateBucket
}

type rateBucket struct {
	hits         []time.Time   // call timestamps inside the window, oldest first
	blockedUntil time.Time     // end of the active block window, if any
	release      chan struct{} // closed when the active block elapses
	lastReportAt time.Time     // debounce anchor for api_runaway_blocked
}

// NewRateGuard creates a rate guard. A nil config uses DefaultGuardConfig.
// The guard starts enabled.
func NewRateGuard(config *GuardConfig) (*RateGuard, error) {
	if config == nil {
		config = DefaultGuardConfig()
	}
	if config.Strategy == "" {
		config.Strategy = StrategyBlock
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if config.BlockDuration == 0 {
		config.BlockDuration = config.Window
	}
	if config.Logger == nil {
		config.Logger = &core.NoOpLogger{}
	}
	if config.Reporter == nil {
		config.Reporter = NewNoOpReporter()
	}
	config.SampleRate = core.ClampRate(config.SampleRate)

	g := &RateGuard{
		config:   config,
		logger:   config.Logger,
		reporter: config.Reporter,
		buckets:  make(map[string]*rateBucket),
	}
	g.enabled.Store(true)
	return g, nil
}

// Do runs fn under the limit for key. Overflow behavior follows the
// configured strategy: block surfaces a GuardBlockedError, drop surfaces
// ErrGuardDropped, and queue suspends the caller until the block window
// elapses, then records the call and runs it. Queued callers honor ctx
// while waiting.
func (g *RateGuard) Do(ctx context.Context, key string, fn func(context.Context) error) error {
	if g == nil {
		return fn(ctx)
	}
	if !g.enabled.Load() {
		return fn(ctx)
	}
	if g.config.KeyFilter != nil && g.config.KeyFilter(key) {
		return fn(ctx)
	}

	admitted, release, err := g.admit(key)
	if err != nil {
		return err
	}
	if !admitted {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
		// Released waiters count from the moment they actually run. They
		// do not re-check the limit; the next fresh caller does.
		g.record(key)
	}

	err = fn(ctx)
	if err != nil && g.config.SkipFailedRequests {
		g.rollback(key)
	}
	return err
}

// admit decides the fate of one call. It returns admitted=true when the
// call may run now, a release channel when the caller must queue, or an
// error when the call is rejected.
func (g *RateGuard) admit(key string) (bool, chan struct{}, error) {
	now := time.Now()
	g.mu.Lock()

	b, ok := g.buckets[key]
	if !ok {
		b = &rateBucket{}
		g.buckets[key] = b
	}
	g.pruneLocked(b, now)

	if b.blockedUntil.After(now) {
		until := b.blockedUntil
		count := len(b.hits)
		ch := b.release
		report := g.debounceLocked(b, now)
		g.mu.Unlock()

		g.logger.Debug("Rate guard rejecting during active block", map[string]interface{}{
			"operation": "guard_blocked_active",
			"key":       key,
			"until":     until.Format(time.RFC3339),
			"strategy":  string(g.config.Strategy),
		})
		if report {
			g.reportBlocked(key, "blocked_active", count)
		}

		switch g.config.Strategy {
		case StrategyQueue:
			return false, ch, nil
		case StrategyDrop:
			return false, nil, core.ErrGuardDropped
		default:
			return false, nil, &core.GuardBlockedError{
				Key:         key,
				Until:       until,
				Window:      g.config.Window,
				MaxRequests: g.config.MaxRequests,
			}
		}
	}

	b.hits = append(b.hits, now)
	if len(b.hits) <= g.config.MaxRequests {
		g.mu.Unlock()
		return true, nil, nil
	}

	// Over the limit. The tentative timestamp comes back out and the key
	// enters a block window; queued callers re-record when released.
	b.hits = b.hits[:len(b.hits)-1]
	count := len(b.hits)
	blockFor := g.config.BlockDuration
	until := now.Add(blockFor)
	b.blockedUntil = until
	ch := make(chan struct{})
	b.release = ch
	report := g.debounceLocked(b, now)
	g.mu.Unlock()

	// One timer per block. It wakes every queued waiter in a single batch
	// and always closes its own channel, even if the bucket was cleared.
	time.AfterFunc(blockFor, func() {
		g.mu.Lock()
		if cur, ok := g.buckets[key]; ok && cur.release == ch {
			cur.release = nil
		}
		g.mu.Unlock()
		close(ch)
	})

	g.logger.Warn("Rate guard blocked key", map[string]interface{}{
		"operation":    "guard_blocked",
		"key":          key,
		"count":        count,
		"max_requests": g.config.MaxRequests,
		"window_ms":    g.config.Window.Milliseconds(),
		"block_ms":     blockFor.Milliseconds(),
		"strategy":     string(g.config.Strategy),
	})
	if report {
		g.reportBlocked(key, "threshold_exceeded", count)
	}

	switch g.config.Strategy {
	case StrategyQueue:
		return false, ch, nil
	case StrategyDrop:
		return false, nil, core.ErrGuardDropped
	default:
		return false, nil, &core.GuardBlockedError{
			Key:         key,
			Until:       until,
			Window:      g.config.Window,
			MaxRequests: g.config.MaxRequests,
		}
	}
}

// record adds a timestamp for a released waiter.
func (g *RateGuard) record(key string) {
	g.mu.Lock()
	b, ok := g.buckets[key]
	if !ok {
		b = &rateBucket{}
		g.buckets[key] = b
	}
	b.hits = append(b.hits, time.Now())
	g.mu.Unlock()
}

// rollback removes the newest timestamp for key. Timestamps inside one
// window are interchangeable for counting, so removing the newest is
// equivalent to removing this call's own.
func (g *RateGuard) rollback(key string) {
	g.mu.Lock()
	if b, ok := g.buckets[key]; ok && len(b.hits) > 0 {
		b.hits = b.hits[:len(b.hits)-1]
	}
	g.mu.Unlock()
}

// pruneLocked drops timestamps older than the window. Caller holds g.mu.
func (g *RateGuard) pruneLocked(b *rateBucket, now time.Time) {
	cutoff := now.Add(-g.config.Window)
	i := 0
	for i < len(b.hits) && !b.hits[i].After(cutoff) {
		i++
	}
	if i > 0 {
		b.hits = append(b.hits[:0], b.hits[i:]...)
	}
}

// debounceLocked reports whether this block event may be reported and
// advances the debounce anchor when it may. Caller holds g.mu.
func (g *RateGuard) debounceLocked(b *rateBucket, now time.Time) bool {
	if g.config.ReportDebounce > 0 && b.lastReportAt.Add(g.config.ReportDebounce).After(now) {
		return false
	}
	b.lastReportAt = now
	return true
}

// reportBlocked forwards a block event to the Reporter, which applies
// SampleRate.
func (g *RateGuard) reportBlocked(key, reason string, count int) {
	g.reporter.ReportAction("api_runaway_blocked", map[string]interface{}{
		"key":          key,
		"reason":       reason,
		"count":        count,
		"max_requests": g.config.MaxRequests,
		"window_ms":    g.config.Window.Milliseconds(),
	}, g.config.SampleRate)
}

// SetEnabled toggles the guard globally. While disabled every call passes
// through with no counting, blocking, or reporting. Waiters already queued
// are still released by their block timers.
func (g *RateGuard) SetEnabled(enabled bool) {
	if g == nil {
		return
	}
	was := g.enabled.Swap(enabled)
	if was != enabled {
		g.logger.Info("Rate guard toggled", map[string]interface{}{
			"operation": "guard_toggle",
			"enabled":   enabled,
		})
	}
}

// Enabled reports whether the guard is currently enforcing limits.
func (g *RateGuard) Enabled() bool {
	if g == nil {
		return false
	}
	return g.enabled.Load()
}

// GuardSnapshot is a point-in-time view of one key's bucket.
type GuardSnapshot struct {
	Key          string
	Count        int
	Blocked      bool
	BlockedUntil time.Time
}

// Snapshot returns the current window count and block state for a key.
func (g *RateGuard) Snapshot(key string) GuardSnapshot {
	if g == nil {
		return GuardSnapshot{Key: key}
	}
	now := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.buckets[key]
	if !ok {
		return GuardSnapshot{Key: key}
	}
	g.pruneLocked(b, now)
	return GuardSnapshot{
		Key:          key,
		Count:        len(b.hits),
		Blocked:      b.blockedUntil.After(now),
		BlockedUntil: b.blockedUntil,
	}
}

// Clear drops every bucket. Queued waiters are still released by their
// block timers; their re-recorded timestamps land in fresh buckets.
func (g *RateGuard) Clear() {
	if g == nil {
		return
	}
	g.mu.Lock()
	cleared := len(g.buckets)
	g.buckets = make(map[string]*rateBucket)
	g.mu.Unlock()

	if cleared > 0 {
		g.logger.Debug("Rate guard cleared", map[string]interface{}{
			"operation": "guard_clear",
			"keys":      cleared,
		})
	}
}
