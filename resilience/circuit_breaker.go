package resilience

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/pulsegate/pulsegate/core"
)

// CircuitState represents the state of one key's circuit
type CircuitState int

const (
	// StateClosed allows all requests through
	StateClosed CircuitState = iota
	// StateOpen rejects requests until the cooldown passes
	StateOpen
	// StateHalfOpen admits a bounded number of trial requests
	StateHalfOpen
)

// String returns the string representation of the state
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrorClassifier determines which errors count toward breaker thresholds
type ErrorClassifier func(error) bool

// DefaultErrorClassifier only counts infrastructure errors, not caller errors.
func DefaultErrorClassifier(err error) bool {
	if err == nil {
		return false
	}

	// Configuration errors - DON'T count (caller error)
	if core.IsConfigurationError(err) {
		return false
	}

	// Guard/breaker rejections - DON'T count (injected by this layer)
	if core.IsProtectionError(err) {
		return false
	}

	// Context cancellation - DON'T count (client gave up)
	if errors.Is(err, context.Canceled) {
		return false
	}

	// All other errors count as failures (network, timeout, 5xx)
	return true
}

// BreakerConfig holds configuration shared by every key tracked by a Breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive classified failures
	// that opens a key's circuit.
	FailureThreshold int

	// Cooldown is how long an open circuit rejects calls before the next
	// access probes the backend again.
	Cooldown time.Duration

	// HalfOpenMax caps concurrent trial calls while a key is half-open.
	// Callers beyond the cap are rejected without counting as failures.
	HalfOpenMax int

	// ErrorClassifier determines which errors count as failures.
	// Defaults to DefaultErrorClassifier.
	ErrorClassifier ErrorClassifier

	// SampleRate is the percentage (0-100) of transition events reported
	// through the Reporter. At 0 nothing is reported.
	SampleRate float64

	// Logger for breaker transitions. Defaults to a no-op.
	Logger core.Logger

	// Reporter receives sampled transition events. Defaults to a no-op.
	Reporter Reporter
}

// DefaultBreakerConfig returns a production-ready default configuration:
// open after 5 consecutive failures, probe after 30s, one trial at a time.
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
		ErrorClassifier:  DefaultErrorClassifier,
		SampleRate:       core.DefaultSampleRate,
	}
}

// Validate validates the breaker configuration
func (c *BreakerConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("configuration cannot be nil: %w", core.ErrMissingConfiguration)
	}
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure threshold must be at least 1, got %d: %w", c.FailureThreshold, core.ErrInvalidConfiguration)
	}
	if c.Cooldown <= 0 {
		return fmt.Errorf("cooldown must be positive, got %v: %w", c.Cooldown, core.ErrInvalidConfiguration)
	}
	if c.HalfOpenMax < 1 {
		return fmt.Errorf("half-open max must be at least 1, got %d: %w", c.HalfOpenMax, core.ErrInvalidConfiguration)
	}
	return nil
}

// Breaker tracks an independent circuit per key. Keys are created lazily
// on first use and share one configuration.
//
// A key's circuit opens after FailureThreshold consecutive classified
// failures. While open, calls are rejected with a BreakerOpenError. Once
// the cooldown has passed, the next call transitions the key to half-open
// and runs as a trial; a single successful trial closes the circuit, a
// failed one reopens it for another cooldown. The open to half-open
// transition happens lazily on access, never on a timer.
//
// A nil *Breaker is valid and runs every call unprotected, so callers can
// wire protection in without branching.
type Breaker struct {
	config   *BreakerConfig
	logger   core.Logger
	reporter Reporter
	clock    core.Clock

	mu     sync.Mutex
	states map[string]*keyState
}

type keyState struct {
	state       CircuitState
	failures    int       // consecutive classified failures while closed
	openedUntil time.Time // when an open circuit next admits a probe
	trials      int       // in-flight half-open trial calls
}

// NewBreaker creates a keyed circuit breaker. A nil config uses
// DefaultBreakerConfig.
func NewBreaker(config *BreakerConfig) (*Breaker, error) {
	if config == nil {
		config = DefaultBreakerConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if config.ErrorClassifier == nil {
		config.ErrorClassifier = DefaultErrorClassifier
	}
	if config.Logger == nil {
		config.Logger = &core.NoOpLogger{}
	}
	if config.Reporter == nil {
		config.Reporter = NewNoOpReporter()
	}
	config.SampleRate = core.ClampRate(config.SampleRate)

	return &Breaker{
		config:   config,
		logger:   config.Logger,
		reporter: config.Reporter,
		clock:    core.RealClock{},
		states:   make(map[string]*keyState),
	}, nil
}

// Execute runs fn under the circuit for key. Rejections surface as
// BreakerOpenError or BreakerSaturatedError; every other error comes from
// fn unchanged. A panic in fn is converted to an error and counted through
// the classifier like any other failure.
func (b *Breaker) Execute(ctx context.Context, key string, fn func(context.Context) error) error {
	if b == nil {
		return fn(ctx)
	}

	trial, err := b.admit(key)
	if err != nil {
		return err
	}

	err = func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in protected call: %v\n%s", r, debug.Stack())
			}
		}()
		return fn(ctx)
	}()

	b.settle(key, trial, err)
	return err
}

// Wrap binds fn to a key so it can be passed around as a plain function.
func (b *Breaker) Wrap(key string, fn func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		return b.Execute(ctx, key, fn)
	}
}

// admit decides whether a call may proceed. It returns trial=true when the
// call runs as a half-open probe and must release its slot in settle.
func (b *Breaker) admit(key string) (bool, error) {
	b.mu.Lock()

	s, ok := b.states[key]
	if !ok {
		s = &keyState{state: StateClosed}
		b.states[key] = s
	}

	var probed bool
	if s.state == StateOpen {
		if b.clock.Now().Before(s.openedUntil) {
			until := s.openedUntil
			b.mu.Unlock()
			return false, &core.BreakerOpenError{Key: key, Until: until}
		}
		// Cooldown over. The first access probes the backend.
		s.state = StateHalfOpen
		s.trials = 0
		probed = true
	}

	if s.state == StateHalfOpen {
		if s.trials >= b.config.HalfOpenMax {
			inFlight := s.trials
			b.mu.Unlock()
			return false, &core.BreakerSaturatedError{Key: key, InFlight: inFlight, Max: b.config.HalfOpenMax}
		}
		s.trials++
		b.mu.Unlock()
		if probed {
			b.announceHalfOpen(key)
		}
		return true, nil
	}

	b.mu.Unlock()
	return false, nil
}

// settle records the outcome of an admitted call.
func (b *Breaker) settle(key string, trial bool, err error) {
	b.mu.Lock()

	s, ok := b.states[key]
	if !ok {
		// Reset raced with the call; nothing to record against
		b.mu.Unlock()
		return
	}
	if trial && s.trials > 0 {
		s.trials--
	}

	if err != nil && b.config.ErrorClassifier(err) {
		switch s.state {
		case StateHalfOpen:
			failures := s.failures
			b.openLocked(s)
			b.mu.Unlock()
			b.announceOpen(key, failures, "half_open_probe_failed")
			return
		case StateClosed:
			s.failures++
			if s.failures >= b.config.FailureThreshold {
				failures := s.failures
				b.openLocked(s)
				b.mu.Unlock()
				b.announceOpen(key, failures, "failure_threshold_reached")
				return
			}
		}
		b.mu.Unlock()
		return
	}

	// Success, or an error the classifier does not count
	switch s.state {
	case StateHalfOpen:
		s.state = StateClosed
		s.failures = 0
		s.trials = 0
		s.openedUntil = time.Time{}
		b.mu.Unlock()
		b.announceClosed(key)
		return
	case StateClosed:
		s.failures = 0
	}
	b.mu.Unlock()
}

// openLocked trips the circuit. Caller holds b.mu.
func (b *Breaker) openLocked(s *keyState) {
	s.state = StateOpen
	s.openedUntil = b.clock.Now().Add(b.config.Cooldown)
	s.trials = 0
}

func (b *Breaker) announceHalfOpen(key string) {
	b.logger.Info("Circuit breaker entering half-open", map[string]interface{}{
		"operation":  "circuit_half_open",
		"key":        key,
		"max_trials": b.config.HalfOpenMax,
	})
	b.report("api_circuit_half_open", map[string]interface{}{
		"key": key,
	})
}

func (b *Breaker) announceOpen(key string, failures int, trigger string) {
	b.logger.Warn("Circuit breaker opened", map[string]interface{}{
		"operation":   "circuit_open",
		"key":         key,
		"trigger":     trigger,
		"failures":    failures,
		"threshold":   b.config.FailureThreshold,
		"cooldown_ms": b.config.Cooldown.Milliseconds(),
		"impact":      "calls_rejected",
		"action":      fmt.Sprintf("probe_after_%v", b.config.Cooldown),
	})
	b.report("api_circuit_open", map[string]interface{}{
		"key":         key,
		"trigger":     trigger,
		"failures":    failures,
		"cooldown_ms": b.config.Cooldown.Milliseconds(),
	})
}

func (b *Breaker) announceClosed(key string) {
	b.logger.Info("Circuit breaker closed after successful trial", map[string]interface{}{
		"operation": "circuit_closed",
		"key":       key,
	})
	b.report("api_circuit_closed", map[string]interface{}{
		"key": key,
	})
}

// report forwards a transition to the Reporter, which applies SampleRate.
func (b *Breaker) report(name string, attrs map[string]interface{}) {
	b.reporter.ReportAction(name, attrs, b.config.SampleRate)
}

// State returns the current state of a key without side effects. An open
// circuit whose cooldown has passed still reads as open here; only the
// next Execute performs the half-open transition.
func (b *Breaker) State(key string) CircuitState {
	if b == nil {
		return StateClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.states[key]
	if !ok {
		return StateClosed
	}
	return s.state
}

// Metrics returns a snapshot of the breaker population for monitoring.
func (b *Breaker) Metrics() map[string]interface{} {
	if b == nil {
		return map[string]interface{}{"keys": 0, "open": 0, "half_open": 0}
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	open, halfOpen := 0, 0
	for _, s := range b.states {
		switch s.state {
		case StateOpen:
			open++
		case StateHalfOpen:
			halfOpen++
		}
	}
	return map[string]interface{}{
		"keys":      len(b.states),
		"open":      open,
		"half_open": halfOpen,
	}
}

// Reset discards all recorded state for a key, returning it to closed.
func (b *Breaker) Reset(key string) {
	if b == nil {
		return
	}
	b.mu.Lock()
	_, existed := b.states[key]
	delete(b.states, key)
	b.mu.Unlock()

	if existed {
		b.logger.Info("Circuit breaker reset", map[string]interface{}{
			"operation": "circuit_reset",
			"key":       key,
		})
	}
}

// ResetAll discards every key's state.
func (b *Breaker) ResetAll() {
	if b == nil {
		return
	}
	b.mu.Lock()
	cleared := len(b.states)
	b.states = make(map[string]*keyState)
	b.mu.Unlock()

	if cleared > 0 {
		b.logger.Info("Circuit breaker reset", map[string]interface{}{
			"operation": "circuit_reset_all",
			"keys":      cleared,
		})
	}
}
