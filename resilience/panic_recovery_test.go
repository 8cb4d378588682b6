package resilience

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pulsegate/pulsegate/core"
)

// TestBreakerPanicRecoveryBasic tests that a panicking call surfaces as
// an error carrying the panic value and a stack trace.
func TestBreakerPanicRecoveryBasic(t *testing.T) {
	b, _, _ := testBreaker(t, nil)

	err := b.Execute(context.Background(), "api", func(context.Context) error {
		panic("test string panic")
	})

	if err == nil {
		t.Fatal("Expected error from panic, got nil")
	}
	if !strings.Contains(err.Error(), "panic in protected call") {
		t.Errorf("Expected panic error message, got: %v", err)
	}
	if !strings.Contains(err.Error(), "test string panic") {
		t.Errorf("Expected original panic message in error, got: %v", err)
	}
	if !strings.Contains(err.Error(), "goroutine") {
		t.Error("Expected stack trace in panic error")
	}
}

// TestBreakerPanicTypes tests different types of panic values.
func TestBreakerPanicTypes(t *testing.T) {
	b, _, _ := testBreaker(t, &BreakerConfig{
		FailureThreshold: 100,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	})

	testCases := []struct {
		name      string
		panicVal  interface{}
		expectMsg string
	}{
		{
			name:      "string panic",
			panicVal:  "string error",
			expectMsg: "string error",
		},
		{
			name:      "error panic",
			panicVal:  errors.New("error panic"),
			expectMsg: "error panic",
		},
		{
			name:      "int panic",
			panicVal:  42,
			expectMsg: "42",
		},
		{
			name:      "nil panic",
			panicVal:  nil,
			expectMsg: "panic called with nil argument",
		},
		{
			name:      "struct panic",
			panicVal:  struct{ msg string }{"custom"},
			expectMsg: "{custom}",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := b.Execute(context.Background(), "api", func(context.Context) error {
				panic(tc.panicVal)
			})

			if err == nil {
				t.Fatal("Expected error from panic")
			}
			if !strings.Contains(err.Error(), tc.expectMsg) {
				t.Errorf("Expected %q in error, got: %v", tc.expectMsg, err)
			}
		})
	}
}

// TestBreakerPanicNoDeadlock tests the breaker keeps serving calls after
// a panic.
func TestBreakerPanicNoDeadlock(t *testing.T) {
	b, _, _ := testBreaker(t, nil)
	ctx := context.Background()

	_ = b.Execute(ctx, "api", func(context.Context) error {
		panic("first call panics")
	})

	if err := b.Execute(ctx, "api", succeedingCall()); err != nil {
		t.Errorf("Expected the next call to run normally, got: %v", err)
	}
}

// TestBreakerPanicCountsTowardThreshold tests that repeated panics open
// the circuit like any other failure.
func TestBreakerPanicCountsTowardThreshold(t *testing.T) {
	b, _, _ := testBreaker(t, &BreakerConfig{
		FailureThreshold: 2,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_ = b.Execute(ctx, "api", func(context.Context) error {
			panic("repeated panic")
		})
	}

	if state := b.State("api"); state != StateOpen {
		t.Errorf("Expected StateOpen after panics, got %v", state)
	}
	err := b.Execute(ctx, "api", succeedingCall())
	if !core.IsBreakerOpen(err) {
		t.Errorf("Expected rejection from open circuit, got: %v", err)
	}
}

// TestBreakerPanicInHalfOpen tests a panicking trial reopens the circuit.
func TestBreakerPanicInHalfOpen(t *testing.T) {
	b, clock, _ := testBreaker(t, &BreakerConfig{
		FailureThreshold: 1,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	})
	ctx := context.Background()

	_ = b.Execute(ctx, "api", failingCall(errors.New("trip")))
	clock.advance(31 * time.Second)

	_ = b.Execute(ctx, "api", func(context.Context) error {
		panic("trial panics")
	})

	if state := b.State("api"); state != StateOpen {
		t.Errorf("Expected panicking trial to reopen the circuit, got %v", state)
	}
}

// TestBreakerPanicConcurrent tests concurrent panics are all recovered
// without wedging the breaker.
func TestBreakerPanicConcurrent(t *testing.T) {
	b, _, _ := testBreaker(t, &BreakerConfig{
		FailureThreshold: 1000,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	})
	ctx := context.Background()

	const callers = 20
	var wg sync.WaitGroup
	errs := make([]error, callers)

	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(n int) {
			defer wg.Done()
			errs[n] = b.Execute(ctx, "api", func(context.Context) error {
				panic("concurrent panic")
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err == nil {
			t.Errorf("Caller %d: expected error from panic, got nil", i)
		}
	}
	if err := b.Execute(ctx, "api", succeedingCall()); err != nil {
		t.Errorf("Expected breaker to keep working after panics, got: %v", err)
	}
}

// TestDeduperPanicDoesNotPoisonKey tests a panicking execution settles
// the in-flight entry so later calls run fresh.
func TestDeduperPanicDoesNotPoisonKey(t *testing.T) {
	d, _ := testDeduper(t, &DedupeConfig{TTL: time.Minute})
	ctx := context.Background()

	_, err := d.Do(ctx, "profile", func(context.Context) (interface{}, error) {
		panic("loader panics")
	})
	if err == nil {
		t.Fatal("Expected error from panic, got nil")
	}
	if !strings.Contains(err.Error(), "panic in deduplicated call") {
		t.Errorf("Expected panic error message, got: %v", err)
	}

	value, err := d.Do(ctx, "profile", func(context.Context) (interface{}, error) {
		return "recovered", nil
	})
	if err != nil {
		t.Fatalf("Expected fresh execution after panic, got: %v", err)
	}
	if value != "recovered" {
		t.Errorf("Expected recovered, got %v", value)
	}
}
