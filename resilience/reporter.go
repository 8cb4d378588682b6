package resilience

// Reporter receives the protection layer's own telemetry: guard blocks,
// breaker transitions, dedupe hits, retry outcomes. The telemetry package
// provides an adapter from its Dispatcher; a nil or noop Reporter keeps
// every primitive fully functional with reporting off.
//
// Sampling belongs to the implementation: callers pass their configured
// rate through unchanged and the sink applies it exactly once.
type Reporter interface {
	// ReportAction emits a named action event at the given percentage
	// sample rate (0-100).
	ReportAction(name string, attrs map[string]interface{}, sampleRate float64)

	// ReportError emits an error event at the given percentage sample
	// rate (0-100).
	ReportError(err error, errCtx map[string]interface{}, sampleRate float64)
}

// NewNoOpReporter returns a Reporter that discards everything.
func NewNoOpReporter() Reporter {
	return &noopReporter{}
}

// noopReporter is a no-op Reporter implementation
type noopReporter struct{}

func (n *noopReporter) ReportAction(name string, attrs map[string]interface{}, sampleRate float64) {
}
func (n *noopReporter) ReportError(err error, errCtx map[string]interface{}, sampleRate float64) {}
