package core

import (
	"errors"
	"fmt"
	"time"
)

// Standard sentinel errors for comparison using errors.Is()
// These are generic errors that can be wrapped with additional context
var (
	// Guard-related errors
	ErrGuardBlocked = errors.New("request blocked by rate guard")
	ErrGuardDropped = errors.New("request dropped by rate guard")

	// Circuit breaker errors
	ErrBreakerOpen      = errors.New("circuit breaker is open")
	ErrBreakerSaturated = errors.New("circuit breaker half-open limit reached")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")

	// State errors
	ErrNotInitialized = errors.New("not initialized")
	ErrAlreadyClosed  = errors.New("already closed")
	ErrQueueClosed    = errors.New("queue closed")

	// Operation errors
	ErrTimeout            = errors.New("operation timeout")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

	// Delivery errors
	ErrSenderUnavailable = errors.New("sender unavailable")
	ErrStorageFailed     = errors.New("storage operation failed")
	ErrConnectionFailed  = errors.New("connection failed")
	ErrRequestFailed     = errors.New("request failed")
)

// GuardBlockedError is returned when the rate guard rejects a call because
// the key is inside a block window. It wraps ErrGuardBlocked so callers can
// branch with errors.Is while still reading the window details.
type GuardBlockedError struct {
	Key         string        // Guarded key that tripped the limit
	Until       time.Time     // When the block window ends
	Window      time.Duration // Sliding window the limit applies to
	MaxRequests int           // Allowed requests per window
}

func (e *GuardBlockedError) Error() string {
	return fmt.Sprintf("rate guard blocked %q until %s (limit %d per %s)",
		e.Key, e.Until.Format(time.RFC3339), e.MaxRequests, e.Window)
}

// Unwrap returns ErrGuardBlocked for use with errors.Is
func (e *GuardBlockedError) Unwrap() error {
	return ErrGuardBlocked
}

// BreakerOpenError is returned when a call is short-circuited by an open
// breaker. It wraps ErrBreakerOpen.
type BreakerOpenError struct {
	Key   string    // Breaker key that is open
	Until time.Time // Earliest time a trial call will be admitted
}

func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for %q until %s",
		e.Key, e.Until.Format(time.RFC3339))
}

// Unwrap returns ErrBreakerOpen for use with errors.Is
func (e *BreakerOpenError) Unwrap() error {
	return ErrBreakerOpen
}

// BreakerSaturatedError is returned when a half-open breaker already has
// the maximum number of trial calls in flight. It wraps ErrBreakerSaturated.
type BreakerSaturatedError struct {
	Key      string
	InFlight int
	Max      int
}

func (e *BreakerSaturatedError) Error() string {
	return fmt.Sprintf("circuit breaker for %q is half-open and saturated (%d/%d trial calls)",
		e.Key, e.InFlight, e.Max)
}

// Unwrap returns ErrBreakerSaturated for use with errors.Is
func (e *BreakerSaturatedError) Unwrap() error {
	return ErrBreakerSaturated
}

// IsGuardBlocked checks if an error came from the rate guard, either as a
// block or a drop
func IsGuardBlocked(err error) bool {
	return errors.Is(err, ErrGuardBlocked) ||
		errors.Is(err, ErrGuardDropped)
}

// IsBreakerOpen checks if an error came from a breaker short-circuit
func IsBreakerOpen(err error) bool {
	return errors.Is(err, ErrBreakerOpen) ||
		errors.Is(err, ErrBreakerSaturated)
}

// IsRetryExhausted checks if an error is the terminal retry failure
func IsRetryExhausted(err error) bool {
	return errors.Is(err, ErrMaxRetriesExceeded)
}

// IsProtectionError reports whether an error was injected by the protection
// layer rather than produced by the wrapped operation. Business errors
// always pass through unchanged; everything the guard and breaker add is
// recognizable here.
func IsProtectionError(err error) bool {
	return IsGuardBlocked(err) || IsBreakerOpen(err)
}

// IsConfigurationError checks if an error is configuration-related
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrMissingConfiguration)
}

// IsRetryable checks if an error is retryable
// Retryable errors are typically transient network or availability issues
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrSenderUnavailable)
}
