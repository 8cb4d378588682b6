package telemetry

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pulsegate/pulsegate/core"
)

// Dispatcher is the single exit point for all telemetry in the toolkit.
// Every event passes the same gates in order: enabled flag (re-read on
// every call), sampling draw, then the injected Sender. Nothing past the
// gates can reach the caller: panics and sender errors are caught,
// counted, and swallowed, so instrumentation can never break the host
// application.
//
// A nil *Dispatcher is safe to call and drops everything, matching the
// uninitialized state.
type Dispatcher struct {
	config  Config
	sender  Sender
	logger  core.Logger
	sampler *core.Sampler
	started time.Time

	enabled atomic.Bool

	// Health counters for the pipeline itself. Exposed via Stats so an
	// operator can see where events went without a debugger.
	emitted    atomic.Int64 // Handed to the sender successfully
	sampledOut atomic.Int64 // Rejected by the sampling draw
	dropped    atomic.Int64 // No sender wired
	failed     atomic.Int64 // Sender error or internal panic
	lastError  atomic.Value // string - last failure for diagnostics

	// errorLimiter keeps a failing sender from flooding the log stream
	errorLimiter *core.IntervalLimiter
}

// DispatcherOption customizes dispatcher construction.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the logger for dispatcher lifecycle and failure logs.
func WithLogger(logger core.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithSampler replaces the sampling source. Tests inject a deterministic
// sampler; production code keeps the default.
func WithSampler(sampler *core.Sampler) DispatcherOption {
	return func(d *Dispatcher) {
		if sampler != nil {
			d.sampler = sampler
		}
	}
}

// NewDispatcher builds a dispatcher from a validated config and a
// delivery strategy. The sender is fixed for the dispatcher's lifetime;
// choosing between direct, in-memory-queued, and persistent-queued
// delivery happens here, once, not by swapping functions at runtime.
//
// A nil sender is allowed: events that pass the gates are then counted
// as dropped, the same observable behavior as delivery never having
// been wired.
func NewDispatcher(config Config, sender Sender, opts ...DispatcherOption) (*Dispatcher, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dispatcher configuration: %w", err)
	}
	if config.SampleRate == 0 {
		config.SampleRate = core.DefaultSampleRate
	}

	d := &Dispatcher{
		config:       config,
		sender:       sender,
		logger:       &core.NoOpLogger{},
		sampler:      core.NewSampler(),
		started:      time.Now(),
		errorLimiter: core.NewIntervalLimiter(1 * time.Second),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.enabled.Store(config.Enabled)
	d.lastError.Store("")

	d.logger.Info("Telemetry dispatcher created", map[string]interface{}{
		"operation":    "dispatcher_create",
		"service_name": config.ServiceName,
		"enabled":      config.Enabled,
		"sample_rate":  config.SampleRate,
		"has_sender":   sender != nil,
	})
	return d, nil
}

// EmitOption adjusts a single AddAction/AddError call.
type EmitOption func(*emitConfig)

type emitConfig struct {
	sampleRate float64
}

// WithSampleRate overrides the dispatcher's configured sampling rate for
// one event. Rates are percentages; values outside [0, 100] are clamped.
func WithSampleRate(rate float64) EmitOption {
	return func(c *emitConfig) {
		c.sampleRate = core.ClampRate(rate)
	}
}

// AddAction records a named action with free-form attributes. It never
// blocks on delivery and never returns or raises an error.
func (d *Dispatcher) AddAction(name string, attrs map[string]interface{}, opts ...EmitOption) {
	if d == nil {
		return
	}
	defer d.recoverEmit()
	if !d.enabled.Load() {
		return
	}
	rate := d.resolveRate(opts)
	if !d.sampler.Allow(rate) {
		d.sampledOut.Add(1)
		return
	}
	d.deliver(NewActionEvent(name, attrs, rate))
}

// AddError records an application error with optional context. Same
// guarantees as AddAction. A nil error is still recorded: the caller
// decided something was wrong, and an empty detail beats losing that.
func (d *Dispatcher) AddError(err error, errCtx map[string]interface{}, opts ...EmitOption) {
	if d == nil {
		return
	}
	defer d.recoverEmit()
	if !d.enabled.Load() {
		return
	}
	rate := d.resolveRate(opts)
	if !d.sampler.Allow(rate) {
		d.sampledOut.Add(1)
		return
	}
	d.deliver(NewErrorEvent(err, errCtx, rate))
}

func (d *Dispatcher) resolveRate(opts []EmitOption) float64 {
	cfg := emitConfig{sampleRate: d.config.SampleRate}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg.sampleRate
}

func (d *Dispatcher) deliver(event Event) {
	if d.sender == nil {
		d.dropped.Add(1)
		return
	}
	if err := d.sender.Send(context.Background(), event); err != nil {
		d.failed.Add(1)
		d.lastError.Store(err.Error())
		if d.errorLimiter.Allow() {
			d.logger.Warn("Telemetry delivery failed", map[string]interface{}{
				"operation":  "telemetry_deliver",
				"event_kind": string(event.Kind),
				"error":      err.Error(),
			})
		}
		return
	}
	d.emitted.Add(1)
}

// recoverEmit absorbs panics from event construction or a misbehaving
// sender. Called via defer from the public entry points.
func (d *Dispatcher) recoverEmit() {
	if r := recover(); r != nil {
		d.failed.Add(1)
		d.lastError.Store(fmt.Sprintf("panic: %v", r))
	}
}

// SetEnabled toggles emission at runtime. The flag is re-read on every
// AddAction/AddError call, so a toggle takes effect immediately.
func (d *Dispatcher) SetEnabled(enabled bool) {
	if d == nil {
		return
	}
	if d.enabled.Swap(enabled) != enabled {
		d.logger.Info("Telemetry dispatcher toggled", map[string]interface{}{
			"operation": "dispatcher_toggle",
			"enabled":   enabled,
		})
	}
}

// Enabled reports whether events currently pass the enabled gate.
func (d *Dispatcher) Enabled() bool {
	return d != nil && d.enabled.Load()
}

// Flush asks the sender to push buffered events toward the exporter.
func (d *Dispatcher) Flush(ctx context.Context) error {
	if d == nil || d.sender == nil {
		return nil
	}
	return d.sender.Flush(ctx)
}

// Close shuts down the sender. The dispatcher stays callable afterward;
// events are counted as failed or dropped per the sender's Close
// semantics.
func (d *Dispatcher) Close(ctx context.Context) error {
	if d == nil || d.sender == nil {
		return nil
	}
	return d.sender.Close(ctx)
}

// DispatcherStats is a point-in-time snapshot of the pipeline health
// counters.
type DispatcherStats struct {
	Emitted    int64
	SampledOut int64
	Dropped    int64
	Failed     int64
	LastError  string
}

// Stats reads the health counters. Safe on a nil dispatcher.
func (d *Dispatcher) Stats() DispatcherStats {
	if d == nil {
		return DispatcherStats{}
	}
	lastErr, _ := d.lastError.Load().(string)
	return DispatcherStats{
		Emitted:    d.emitted.Load(),
		SampledOut: d.sampledOut.Load(),
		Dropped:    d.dropped.Load(),
		Failed:     d.failed.Load(),
		LastError:  lastErr,
	}
}
