package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/pulsegate/pulsegate/core"
)

// RetryConfig controls the backoff schedule and the retry decision for
// a RetryExecutor.
type RetryConfig struct {
	// MaxAttempts is the total number of invocations, including the
	// first one. Must be at least 1.
	MaxAttempts int

	// InitialDelay is the sleep before the second attempt.
	InitialDelay time.Duration

	// MaxDelay caps the growth of the backoff schedule.
	MaxDelay time.Duration

	// BackoffFactor multiplies the delay after each failed attempt.
	BackoffFactor float64

	// JitterEnabled adds a deterministic +/-10% skew to each delay so
	// that callers failing together do not retry together.
	JitterEnabled bool

	// RetryIf decides whether an error is worth another attempt. When
	// it returns false the error is returned to the caller unchanged.
	// A nil predicate retries every error.
	RetryIf func(error) bool

	// SampleRate is the percentage (0-100) of retry outcomes reported
	// through the Reporter.
	SampleRate float64

	// Logger for backoff and exhaustion events. Defaults to a no-op.
	Logger core.Logger

	// Reporter receives sampled retry outcomes. Defaults to a no-op.
	Reporter Reporter
}

// DefaultRetryConfig returns a schedule of 3 attempts starting at
// 100ms and doubling up to 5s, with jitter on.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
		SampleRate:    core.DefaultSampleRate,
	}
}

// Validate checks the configuration for invalid values.
func (c *RetryConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d: %w", c.MaxAttempts, core.ErrInvalidConfiguration)
	}
	if c.InitialDelay < 0 {
		return fmt.Errorf("initial delay must not be negative, got %v: %w", c.InitialDelay, core.ErrInvalidConfiguration)
	}
	if c.MaxDelay > 0 && c.MaxDelay < c.InitialDelay {
		return fmt.Errorf("max delay %v is below initial delay %v: %w", c.MaxDelay, c.InitialDelay, core.ErrInvalidConfiguration)
	}
	if c.BackoffFactor < 1 {
		return fmt.Errorf("backoff factor must be at least 1, got %g: %w", c.BackoffFactor, core.ErrInvalidConfiguration)
	}
	return nil
}

// RetryExecutor retries failing operations with exponential backoff.
// It is safe for concurrent use.
type RetryExecutor struct {
	config   *RetryConfig
	logger   core.Logger
	reporter Reporter
}

// NewRetryExecutor builds an executor from config. A nil config uses
// DefaultRetryConfig.
func NewRetryExecutor(config *RetryConfig) (*RetryExecutor, error) {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	reporter := config.Reporter
	if reporter == nil {
		reporter = NewNoOpReporter()
	}
	config.SampleRate = core.ClampRate(config.SampleRate)

	return &RetryExecutor{
		config:   config,
		logger:   logger,
		reporter: reporter,
	}, nil
}

// Do invokes fn until it succeeds, the retry budget runs out, the
// RetryIf predicate rejects the error, or ctx is cancelled. The label
// identifies the operation in logs and reports.
//
// When the budget runs out the returned error wraps both
// core.ErrMaxRetriesExceeded and the last error from fn, so callers
// can match either with errors.Is. When RetryIf rejects an error it is
// returned exactly as fn produced it.
func (r *RetryExecutor) Do(ctx context.Context, label string, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				r.report("api_retry", map[string]interface{}{
					"operation": label,
					"attempts":  attempt,
					"outcome":   "recovered",
				})
			}
			return nil
		}
		lastErr = err

		if r.config.RetryIf != nil && !r.config.RetryIf(err) {
			r.logger.Debug("Retry aborted by predicate", map[string]interface{}{
				"operation": "retry_abort",
				"label":     label,
				"attempt":   attempt,
				"error":     err.Error(),
			})
			r.report("api_retry", map[string]interface{}{
				"operation": label,
				"attempts":  attempt,
				"outcome":   "aborted",
			})
			return err
		}

		if attempt == r.config.MaxAttempts {
			break
		}

		delay := core.BackoffDelay(attempt, r.config.InitialDelay, r.config.MaxDelay, r.config.BackoffFactor, r.config.JitterEnabled)
		r.logger.Debug("Retrying after backoff", map[string]interface{}{
			"operation": "retry_backoff",
			"label":     label,
			"attempt":   attempt,
			"delay_ms":  delay.Milliseconds(),
			"error":     err.Error(),
		})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	r.logger.Warn("Retry budget exhausted", map[string]interface{}{
		"operation": "retry_exhausted",
		"label":     label,
		"attempts":  r.config.MaxAttempts,
		"error":     lastErr.Error(),
	})
	r.report("api_retry", map[string]interface{}{
		"operation": label,
		"attempts":  r.config.MaxAttempts,
		"outcome":   "exhausted",
	})

	return fmt.Errorf("max retry attempts (%d) exceeded for %s: %w (last error: %w)",
		r.config.MaxAttempts, label, core.ErrMaxRetriesExceeded, lastErr)
}

// report forwards an outcome to the Reporter, which applies SampleRate.
func (r *RetryExecutor) report(name string, attrs map[string]interface{}) {
	r.reporter.ReportAction(name, attrs, r.config.SampleRate)
}

// Retry runs fn with the given config and no per-call label. It is a
// convenience for one-off call sites that do not hold an executor.
func Retry(ctx context.Context, config *RetryConfig, fn func() error) error {
	executor, err := NewRetryExecutor(config)
	if err != nil {
		return err
	}
	return executor.Do(ctx, "retry", func(context.Context) error {
		return fn()
	})
}

// RetryWithBreaker runs fn through both a retry schedule and a circuit
// breaker. Attempts rejected by an open breaker are not retried; the
// breaker error surfaces immediately so callers back off instead of
// hammering a tripped key.
func RetryWithBreaker(ctx context.Context, config *RetryConfig, breaker *Breaker, key string, fn func(context.Context) error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	wrapped := *config
	inner := wrapped.RetryIf
	wrapped.RetryIf = func(err error) bool {
		if core.IsProtectionError(err) {
			return false
		}
		if inner != nil {
			return inner(err)
		}
		return true
	}

	executor, err := NewRetryExecutor(&wrapped)
	if err != nil {
		return err
	}
	return executor.Do(ctx, key, func(ctx context.Context) error {
		return breaker.Execute(ctx, key, fn)
	})
}
