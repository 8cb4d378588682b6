package telemetry

import (
	"context"

	"github.com/pulsegate/pulsegate/core"
)

// Sender is the delivery strategy the dispatcher hands events to. The
// three implementations — ExporterSender (direct), QueuedSender
// (in-memory buffering), PersistentSender (store-backed buffering) —
// are chosen once at composition time and injected into NewDispatcher,
// so call sites never change when the delivery strategy does.
type Sender interface {
	// Send accepts one event for delivery. Queue-backed senders may
	// buffer instead of delivering; a nil return means "accepted", not
	// "delivered".
	Send(ctx context.Context, event Event) error

	// Flush pushes any buffered events toward the exporter. Direct
	// senders treat this as a pass-through to the exporter's own flush.
	Flush(ctx context.Context) error

	// Close releases resources. Buffered events that were never flushed
	// are handled per implementation: QueuedSender discards them,
	// PersistentSender leaves them in storage for the next session.
	Close(ctx context.Context) error
}

// Exporter is the boundary to the actual delivery backend. Implementations
// ship events out of the process: HTTPExporter posts JSON to an ingest
// endpoint, OTelExporter records OpenTelemetry metrics.
type Exporter interface {
	ExportAction(ctx context.Context, event Event) error
	ExportError(ctx context.Context, event Event) error
}

// ExporterSender delivers every event immediately through an Exporter.
// It is the "online only" strategy: there is no buffering, so a failed
// export is simply reported to the caller (the dispatcher counts it and
// moves on).
type ExporterSender struct {
	exporter Exporter
}

// NewExporterSender wraps an exporter in the direct delivery strategy.
// A nil exporter is allowed and makes every Send fail with
// core.ErrSenderUnavailable, mirroring the not-yet-wired state.
func NewExporterSender(exporter Exporter) *ExporterSender {
	return &ExporterSender{exporter: exporter}
}

// Send exports the event right away.
func (s *ExporterSender) Send(ctx context.Context, event Event) error {
	return exportEvent(ctx, s.exporter, event)
}

// Flush is a no-op: a direct sender never holds events.
func (s *ExporterSender) Flush(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (s *ExporterSender) Close(ctx context.Context) error {
	return nil
}

// exportEvent routes an event to the matching exporter method. Shared by
// the direct sender and both queues' flush paths.
func exportEvent(ctx context.Context, exporter Exporter, event Event) error {
	if exporter == nil {
		return core.ErrSenderUnavailable
	}
	if event.Kind == KindError {
		return exporter.ExportError(ctx, event)
	}
	return exporter.ExportAction(ctx, event)
}
