package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// Metric names emitted by OTelExporter. Action and error volume are each
// a single counter with a low-cardinality discriminating attribute, not a
// counter per name.
const (
	MetricActionEvents = "ux.actions.total"
	MetricErrorEvents  = "ux.errors.total"
)

// OTelExporter records events as OpenTelemetry metrics: actions increment
// a counter labeled with the action name, errors increment a counter
// labeled with the error type. Instruments are created lazily and cached
// so the hot path is a map read plus an Add.
type OTelExporter struct {
	meter    metric.Meter
	counters map[string]metric.Int64Counter
	mu       sync.RWMutex

	// names caps distinct action and error type values so event names
	// derived from user data cannot mint unbounded timeseries.
	names *cardinalityLimiter

	// provider is set when this exporter built its own meter provider and
	// therefore owns its shutdown.
	provider *sdkmetric.MeterProvider
}

// OTelOption customizes an OTelExporter.
type OTelOption func(*OTelExporter)

// WithAttrValueLimit overrides the per-attribute cardinality cap. Values
// beyond the cap are recorded as CardinalityOverflow.
func WithAttrValueLimit(limit int) OTelOption {
	return func(e *OTelExporter) {
		e.names = newCardinalityLimiter(limit)
	}
}

// NewOTelExporter wraps a caller-owned meter. Shutdown is a no-op in this
// mode; the caller manages the provider lifecycle.
func NewOTelExporter(meter metric.Meter, opts ...OTelOption) *OTelExporter {
	e := &OTelExporter{
		meter:    meter,
		counters: make(map[string]metric.Int64Counter),
		names:    newCardinalityLimiter(DefaultAttrValueLimit),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewOTLPExporter builds a meter provider that pushes OTLP over HTTP to
// the given collector endpoint (host:port) and returns an exporter bound
// to it. The returned exporter owns the provider: call Shutdown to flush
// and stop it.
func NewOTLPExporter(ctx context.Context, serviceName, endpoint string) (*OTelExporter, error) {
	exp, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(endpoint),
		otlpmetrichttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}
	return newProviderExporter(serviceName, exp)
}

// NewStdoutExporter is the development variant: metrics are written as
// JSON lines to stdout instead of a collector. Same ownership rules as
// NewOTLPExporter.
func NewStdoutExporter(serviceName string) (*OTelExporter, error) {
	exp, err := stdoutmetric.New(
		stdoutmetric.WithEncoder(json.NewEncoder(os.Stdout)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout metric exporter: %w", err)
	}
	return newProviderExporter(serviceName, exp)
}

func newProviderExporter(serviceName string, exp sdkmetric.Exporter) (*OTelExporter, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
	)

	e := NewOTelExporter(provider.Meter("pulsegate-telemetry"))
	e.provider = provider
	return e, nil
}

// ExportAction increments the action counter.
func (e *OTelExporter) ExportAction(ctx context.Context, event Event) error {
	counter, err := e.counter(MetricActionEvents)
	if err != nil {
		return err
	}
	counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", e.names.admit("action", event.Name)),
		attribute.Float64("sample_rate", event.SampleRate),
	))
	return nil
}

// ExportError increments the error counter, labeled by error type.
func (e *OTelExporter) ExportError(ctx context.Context, event Event) error {
	counter, err := e.counter(MetricErrorEvents)
	if err != nil {
		return err
	}
	errorType := "unknown"
	if event.Error != nil && event.Error.Name != "" {
		errorType = event.Error.Name
	}
	counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("error.type", e.names.admit("error.type", errorType)),
		attribute.Float64("sample_rate", event.SampleRate),
	))
	return nil
}

// counter returns the cached instrument for name, creating it on first use.
func (e *OTelExporter) counter(name string) (metric.Int64Counter, error) {
	e.mu.RLock()
	counter, exists := e.counters[name]
	e.mu.RUnlock()

	if !exists {
		e.mu.Lock()
		// Double-check after acquiring write lock
		if counter, exists = e.counters[name]; !exists {
			var err error
			counter, err = e.meter.Int64Counter(name)
			if err != nil {
				e.mu.Unlock()
				return nil, fmt.Errorf("failed to create counter %s: %w", name, err)
			}
			e.counters[name] = counter
		}
		e.mu.Unlock()
	}

	return counter, nil
}

// Shutdown flushes and stops the owned meter provider. It is a no-op for
// exporters built over a caller-owned meter.
func (e *OTelExporter) Shutdown(ctx context.Context) error {
	if e.provider == nil {
		return nil
	}
	return e.provider.Shutdown(ctx)
}
