package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// Test IsGuardBlocked function
func TestIsGuardBlocked(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "ErrGuardBlocked is a guard error",
			err:      ErrGuardBlocked,
			expected: true,
		},
		{
			name:     "ErrGuardDropped is a guard error",
			err:      ErrGuardDropped,
			expected: true,
		},
		{
			name: "GuardBlockedError is a guard error",
			err: &GuardBlockedError{
				Key:         "GET /api/users",
				Until:       time.Now().Add(time.Minute),
				Window:      time.Minute,
				MaxRequests: 60,
			},
			expected: true,
		},
		{
			name:     "wrapped guard error is detected",
			err:      fmt.Errorf("call rejected: %w", ErrGuardBlocked),
			expected: true,
		},
		{
			name:     "ErrBreakerOpen is not a guard error",
			err:      ErrBreakerOpen,
			expected: false,
		},
		{
			name:     "custom error is not a guard error",
			err:      errors.New("custom error"),
			expected: false,
		},
		{
			name:     "nil error is not a guard error",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsGuardBlocked(tt.err)
			if result != tt.expected {
				t.Errorf("IsGuardBlocked(%v) = %v, want %v", tt.err, result, tt.expected)
			}
		})
	}
}

// Test IsBreakerOpen function
func TestIsBreakerOpen(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "ErrBreakerOpen is a breaker error",
			err:      ErrBreakerOpen,
			expected: true,
		},
		{
			name:     "ErrBreakerSaturated is a breaker error",
			err:      ErrBreakerSaturated,
			expected: true,
		},
		{
			name: "BreakerOpenError is a breaker error",
			err: &BreakerOpenError{
				Key:   "payments",
				Until: time.Now().Add(30 * time.Second),
			},
			expected: true,
		},
		{
			name: "BreakerSaturatedError is a breaker error",
			err: &BreakerSaturatedError{
				Key:      "payments",
				InFlight: 1,
				Max:      1,
			},
			expected: true,
		},
		{
			name:     "wrapped breaker error is detected",
			err:      fmt.Errorf("call rejected: %w", ErrBreakerOpen),
			expected: true,
		},
		{
			name:     "ErrGuardBlocked is not a breaker error",
			err:      ErrGuardBlocked,
			expected: false,
		},
		{
			name:     "nil error is not a breaker error",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsBreakerOpen(tt.err)
			if result != tt.expected {
				t.Errorf("IsBreakerOpen(%v) = %v, want %v", tt.err, result, tt.expected)
			}
		})
	}
}

// Test IsProtectionError distinguishes injected errors from business errors
func TestIsProtectionError(t *testing.T) {
	businessErr := errors.New("order validation failed")
	if IsProtectionError(businessErr) {
		t.Error("Business errors must never look like protection errors")
	}

	injected := []error{
		ErrGuardBlocked,
		ErrGuardDropped,
		ErrBreakerOpen,
		ErrBreakerSaturated,
		&GuardBlockedError{Key: "k"},
		&BreakerOpenError{Key: "k"},
		fmt.Errorf("wrapped: %w", &BreakerSaturatedError{Key: "k", InFlight: 2, Max: 2}),
	}
	for _, err := range injected {
		if !IsProtectionError(err) {
			t.Errorf("IsProtectionError(%v) = false, want true", err)
		}
	}
}

// Test IsRetryExhausted function
func TestIsRetryExhausted(t *testing.T) {
	if !IsRetryExhausted(ErrMaxRetriesExceeded) {
		t.Error("ErrMaxRetriesExceeded should be retry-exhausted")
	}
	wrapped := fmt.Errorf("gave up after 3 attempts: %w", ErrMaxRetriesExceeded)
	if !IsRetryExhausted(wrapped) {
		t.Error("Wrapped ErrMaxRetriesExceeded should be retry-exhausted")
	}
	if IsRetryExhausted(ErrTimeout) {
		t.Error("ErrTimeout should not be retry-exhausted")
	}
	if IsRetryExhausted(nil) {
		t.Error("nil should not be retry-exhausted")
	}
}

// Test that typed errors unwrap to their sentinels and carry details
func TestTypedErrorUnwrapping(t *testing.T) {
	until := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	blockErr := &GuardBlockedError{
		Key:         "POST /api/orders",
		Until:       until,
		Window:      time.Minute,
		MaxRequests: 30,
	}

	if !errors.Is(blockErr, ErrGuardBlocked) {
		t.Error("GuardBlockedError should unwrap to ErrGuardBlocked")
	}

	var extracted *GuardBlockedError
	wrapped := fmt.Errorf("request failed: %w", blockErr)
	if !errors.As(wrapped, &extracted) {
		t.Fatal("errors.As should extract GuardBlockedError through wrapping")
	}
	if extracted.MaxRequests != 30 {
		t.Errorf("Expected MaxRequests 30, got %d", extracted.MaxRequests)
	}
	if !extracted.Until.Equal(until) {
		t.Errorf("Expected Until %v, got %v", until, extracted.Until)
	}
	if !strings.Contains(blockErr.Error(), "POST /api/orders") {
		t.Errorf("Error message should name the key, got %q", blockErr.Error())
	}

	openErr := &BreakerOpenError{Key: "search", Until: until}
	if !errors.Is(openErr, ErrBreakerOpen) {
		t.Error("BreakerOpenError should unwrap to ErrBreakerOpen")
	}

	satErr := &BreakerSaturatedError{Key: "search", InFlight: 1, Max: 1}
	if !errors.Is(satErr, ErrBreakerSaturated) {
		t.Error("BreakerSaturatedError should unwrap to ErrBreakerSaturated")
	}
	if !strings.Contains(satErr.Error(), "1/1") {
		t.Errorf("Error message should show trial call usage, got %q", satErr.Error())
	}
}

// Test IsConfigurationError function
func TestIsConfigurationError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "ErrInvalidConfiguration is configuration error",
			err:      ErrInvalidConfiguration,
			expected: true,
		},
		{
			name:     "ErrMissingConfiguration is configuration error",
			err:      ErrMissingConfiguration,
			expected: true,
		},
		{
			name:     "wrapped configuration error is detected",
			err:      fmt.Errorf("config validation failed: %w", ErrInvalidConfiguration),
			expected: true,
		},
		{
			name:     "ErrGuardBlocked is not configuration error",
			err:      ErrGuardBlocked,
			expected: false,
		},
		{
			name:     "nil error is not configuration error",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsConfigurationError(tt.err)
			if result != tt.expected {
				t.Errorf("IsConfigurationError(%v) = %v, want %v", tt.err, result, tt.expected)
			}
		})
	}
}

// Test IsRetryable function
func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "ErrTimeout is retryable",
			err:      ErrTimeout,
			expected: true,
		},
		{
			name:     "ErrConnectionFailed is retryable",
			err:      ErrConnectionFailed,
			expected: true,
		},
		{
			name:     "ErrSenderUnavailable is retryable",
			err:      ErrSenderUnavailable,
			expected: true,
		},
		{
			name:     "wrapped retryable error is retryable",
			err:      fmt.Errorf("operation failed: %w", ErrTimeout),
			expected: true,
		},
		{
			name:     "ErrInvalidConfiguration is not retryable",
			err:      ErrInvalidConfiguration,
			expected: false,
		},
		{
			name:     "nil error is not retryable",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsRetryable(tt.err)
			if result != tt.expected {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, result, tt.expected)
			}
		})
	}
}

// Benchmark error checking functions
func BenchmarkIsProtectionError(b *testing.B) {
	err := fmt.Errorf("wrapped: %w", &GuardBlockedError{Key: "k"})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = IsProtectionError(err)
	}
}
