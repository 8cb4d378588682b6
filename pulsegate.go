// Package pulsegate provides a lightweight meta-module that re-exports from submodules
// This is the main entry point for the PulseGate SDK
// Users should import specific modules based on their needs:
//   - github.com/pulsegate/pulsegate/core - Logging, errors, stores, sampling
//   - github.com/pulsegate/pulsegate/resilience - Retry, dedupe, circuit breaker, rate guard
//   - github.com/pulsegate/pulsegate/telemetry - Event delivery and offline queues
package pulsegate

import (
	"github.com/pulsegate/pulsegate/core"
	"github.com/pulsegate/pulsegate/resilience"
	"github.com/pulsegate/pulsegate/telemetry"
)

// Re-export commonly used types
type (
	// Core types
	Logger        = core.Logger
	Store         = core.Store
	LoggingConfig = core.LoggingConfig

	// Telemetry types
	Config          = telemetry.Config
	QueueConfig     = telemetry.QueueConfig
	Event           = telemetry.Event
	Dispatcher      = telemetry.Dispatcher
	DispatcherStats = telemetry.DispatcherStats
	Health          = telemetry.Health
	Sender          = telemetry.Sender
	Exporter        = telemetry.Exporter
	Connectivity    = telemetry.Connectivity
	Monitor         = telemetry.Monitor

	// Protection types
	Breaker                = resilience.Breaker
	BreakerConfig          = resilience.BreakerConfig
	CircuitState           = resilience.CircuitState
	RateGuard              = resilience.RateGuard
	GuardConfig            = resilience.GuardConfig
	GuardStrategy          = resilience.GuardStrategy
	Deduper                = resilience.Deduper
	DedupeConfig           = resilience.DedupeConfig
	RetryExecutor          = resilience.RetryExecutor
	RetryConfig            = resilience.RetryConfig
	GuardTransport         = resilience.GuardTransport
	ProtectionDependencies = resilience.ProtectionDependencies
)

// Re-export constants
const (
	StateClosed   = resilience.StateClosed
	StateOpen     = resilience.StateOpen
	StateHalfOpen = resilience.StateHalfOpen

	StrategyBlock = resilience.StrategyBlock
	StrategyQueue = resilience.StrategyQueue
	StrategyDrop  = resilience.StrategyDrop

	ProfileDevelopment = telemetry.ProfileDevelopment
	ProfileStaging     = telemetry.ProfileStaging
	ProfileProduction  = telemetry.ProfileProduction
)

// Re-export core functions
var (
	NewProductionLogger = core.NewProductionLogger
	NewMemoryStore      = core.NewMemoryStore
	NewFileStore        = core.NewFileStore
	NewRedisStore       = core.NewRedisStore

	// Telemetry pipeline
	LoadConfig          = telemetry.LoadConfig
	UseProfile          = telemetry.UseProfile
	NewDispatcher       = telemetry.NewDispatcher
	NewMonitor          = telemetry.NewMonitor
	NewProber           = telemetry.NewProber
	NewHTTPExporter     = telemetry.NewHTTPExporter
	NewOTLPExporter     = telemetry.NewOTLPExporter
	NewStdoutExporter   = telemetry.NewStdoutExporter
	NewExporterSender   = telemetry.NewExporterSender
	NewQueuedSender     = telemetry.NewQueuedSender
	NewPersistentSender = telemetry.NewPersistentSender

	// Protection factories
	CreateBreaker       = resilience.CreateBreaker
	CreateRateGuard     = resilience.CreateRateGuard
	CreateDeduper       = resilience.CreateDeduper
	CreateRetryExecutor = resilience.CreateRetryExecutor

	DefaultBreakerConfig = resilience.DefaultBreakerConfig
	DefaultGuardConfig   = resilience.DefaultGuardConfig
	DefaultDedupeConfig  = resilience.DefaultDedupeConfig
	DefaultRetryConfig   = resilience.DefaultRetryConfig

	Retry            = resilience.Retry
	RetryWithBreaker = resilience.RetryWithBreaker
	NewGuardedClient = resilience.NewGuardedClient
	RequestKey       = resilience.RequestKey
)

// Bootstrap assembles the standard delivery pipeline in one call: an HTTP
// exporter posting to cfg.Endpoint, behind a bounded in-memory offline
// buffer, behind a dispatcher. When monitor is non-nil the buffer follows
// its connectivity signal and flushes as soon as it reports online again.
// Closing the returned dispatcher flushes and releases the whole chain.
//
// Applications that need events to survive a restart, or OTLP delivery,
// should wire the pieces from the telemetry package directly.
func Bootstrap(cfg telemetry.Config, monitor *telemetry.Monitor) (*telemetry.Dispatcher, error) {
	exporter, err := telemetry.NewHTTPExporter(telemetry.HTTPExporterConfig{
		IngestURL:   cfg.Endpoint,
		ServiceName: cfg.ServiceName,
	})
	if err != nil {
		return nil, err
	}

	queueCfg := telemetry.DefaultQueuedSenderConfig()
	if cfg.Queue.MaxBuffered > 0 {
		queueCfg.MaxBuffered = cfg.Queue.MaxBuffered
	}
	if monitor != nil {
		queueCfg.Connectivity = monitor
		queueCfg.Notifier = monitor
	}
	sender, err := telemetry.NewQueuedSender(exporter, queueCfg)
	if err != nil {
		return nil, err
	}

	return telemetry.NewDispatcher(cfg, sender)
}
