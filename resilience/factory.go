package resilience

import (
	"github.com/pulsegate/pulsegate/core"
	"github.com/pulsegate/pulsegate/telemetry"
)

// ProtectionDependencies holds the cross-cutting dependencies shared by
// all protection primitives: a logger and, optionally, the telemetry
// dispatcher that receives their protection events.
type ProtectionDependencies struct {
	Logger     core.Logger
	Dispatcher *telemetry.Dispatcher
}

// WithLogger sets the logger dependency.
func WithLogger(logger core.Logger) func(*ProtectionDependencies) {
	return func(d *ProtectionDependencies) {
		d.Logger = logger
	}
}

// WithDispatcher routes protection events through the given telemetry
// dispatcher.
func WithDispatcher(dispatcher *telemetry.Dispatcher) func(*ProtectionDependencies) {
	return func(d *ProtectionDependencies) {
		d.Dispatcher = dispatcher
	}
}

func resolveLogger(deps ProtectionDependencies, component string) core.Logger {
	if deps.Logger != nil {
		return deps.Logger
	}
	return core.NewProductionLogger(core.LoggingConfig{
		Level:  "info",
		Format: "json",
	}, "pulsegate", component)
}

func resolveReporter(deps ProtectionDependencies, logger core.Logger, component string) Reporter {
	if deps.Dispatcher == nil {
		return nil
	}
	logger.Info("Telemetry integration enabled", map[string]interface{}{
		"operation": "telemetry_integration",
		"component": component,
	})
	return NewTelemetryReporter(deps.Dispatcher)
}

// CreateBreaker creates a circuit breaker with default thresholds and the
// given dependencies wired in.
func CreateBreaker(deps ProtectionDependencies) (*Breaker, error) {
	config := DefaultBreakerConfig()
	config.Logger = resolveLogger(deps, "circuit-breaker")
	config.Reporter = resolveReporter(deps, config.Logger, "circuit_breaker")

	config.Logger.Info("Creating circuit breaker", map[string]interface{}{
		"operation":         "breaker_create",
		"failure_threshold": config.FailureThreshold,
		"cooldown_ms":       config.Cooldown.Milliseconds(),
		"half_open_max":     config.HalfOpenMax,
	})
	return NewBreaker(config)
}

// CreateRateGuard creates a rate guard with default limits and the given
// dependencies wired in.
func CreateRateGuard(deps ProtectionDependencies) (*RateGuard, error) {
	config := DefaultGuardConfig()
	config.Logger = resolveLogger(deps, "rate-guard")
	config.Reporter = resolveReporter(deps, config.Logger, "rate_guard")

	config.Logger.Info("Creating rate guard", map[string]interface{}{
		"operation":    "guard_create",
		"max_requests": config.MaxRequests,
		"window_ms":    config.Window.Milliseconds(),
		"strategy":     string(config.Strategy),
	})
	return NewRateGuard(config)
}

// CreateDeduper creates a request deduplicator with the given dependencies
// wired in.
func CreateDeduper(deps ProtectionDependencies) (*Deduper, error) {
	config := DefaultDedupeConfig()
	config.Logger = resolveLogger(deps, "deduper")
	config.Reporter = resolveReporter(deps, config.Logger, "deduper")
	return NewDeduper(config)
}

// CreateRetryExecutor creates a retry executor with the default schedule
// and the given dependencies wired in.
func CreateRetryExecutor(deps ProtectionDependencies) (*RetryExecutor, error) {
	config := DefaultRetryConfig()
	config.Logger = resolveLogger(deps, "retry-executor")
	config.Reporter = resolveReporter(deps, config.Logger, "retry_executor")
	return NewRetryExecutor(config)
}
