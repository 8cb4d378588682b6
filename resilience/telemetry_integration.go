package resilience

import (
	"github.com/pulsegate/pulsegate/telemetry"
)

// TelemetryReporter implements Reporter on top of a telemetry Dispatcher,
// so guard blocks and breaker transitions travel the same pipeline as
// application events: sampled once by the dispatcher, queued offline with
// everything else, never able to fail the protected call.
type TelemetryReporter struct {
	dispatcher *telemetry.Dispatcher
}

// NewTelemetryReporter creates a Reporter backed by dispatcher. A nil
// dispatcher is allowed and drops everything, matching the dispatcher's
// own uninitialized behavior.
func NewTelemetryReporter(dispatcher *telemetry.Dispatcher) *TelemetryReporter {
	return &TelemetryReporter{dispatcher: dispatcher}
}

// ReportAction forwards an action event to the dispatcher at the given
// sample rate.
func (t *TelemetryReporter) ReportAction(name string, attrs map[string]interface{}, sampleRate float64) {
	t.dispatcher.AddAction(name, attrs, telemetry.WithSampleRate(sampleRate))
}

// ReportError forwards an error event to the dispatcher at the given
// sample rate.
func (t *TelemetryReporter) ReportError(err error, errCtx map[string]interface{}, sampleRate float64) {
	t.dispatcher.AddError(err, errCtx, telemetry.WithSampleRate(sampleRate))
}
