package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newManualReaderExporter(t *testing.T, opts ...OTelOption) (*OTelExporter, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return NewOTelExporter(provider.Meter("test"), opts...), reader
}

func collectSum(t *testing.T, reader *sdkmetric.ManualReader, name string) metricdata.Sum[int64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name == name {
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok, "metric %s is not an int64 sum", name)
				return sum
			}
		}
	}
	t.Fatalf("metric %s was not collected", name)
	return metricdata.Sum[int64]{}
}

func pointValue(sum metricdata.Sum[int64], key, value string) (int64, bool) {
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value, true
		}
	}
	return 0, false
}

func TestOTelExporterCountsActions(t *testing.T) {
	exporter, reader := newManualReaderExporter(t)
	ctx := context.Background()

	require.NoError(t, exporter.ExportAction(ctx, NewActionEvent("clicked", nil, 100)))
	require.NoError(t, exporter.ExportAction(ctx, NewActionEvent("clicked", nil, 100)))
	require.NoError(t, exporter.ExportAction(ctx, NewActionEvent("scrolled", nil, 100)))

	sum := collectSum(t, reader, MetricActionEvents)

	clicked, ok := pointValue(sum, "action", "clicked")
	require.True(t, ok)
	assert.Equal(t, int64(2), clicked)

	scrolled, ok := pointValue(sum, "action", "scrolled")
	require.True(t, ok)
	assert.Equal(t, int64(1), scrolled)
}

func TestOTelExporterCountsErrorsByType(t *testing.T) {
	exporter, reader := newManualReaderExporter(t)
	ctx := context.Background()

	require.NoError(t, exporter.ExportError(ctx, NewErrorEvent(errors.New("boom"), nil, 100)))
	// An error event with no detail still counts, under "unknown".
	require.NoError(t, exporter.ExportError(ctx, Event{Kind: KindError}))

	sum := collectSum(t, reader, MetricErrorEvents)

	typed, ok := pointValue(sum, "error.type", "*errors.errorString")
	require.True(t, ok)
	assert.Equal(t, int64(1), typed)

	unknown, ok := pointValue(sum, "error.type", "unknown")
	require.True(t, ok)
	assert.Equal(t, int64(1), unknown)
}

func TestOTelExporterRecordsSampleRate(t *testing.T) {
	exporter, reader := newManualReaderExporter(t)

	require.NoError(t, exporter.ExportAction(context.Background(), NewActionEvent("clicked", nil, 25)))

	sum := collectSum(t, reader, MetricActionEvents)
	require.Len(t, sum.DataPoints, 1)
	rate, ok := sum.DataPoints[0].Attributes.Value(attribute.Key("sample_rate"))
	require.True(t, ok)
	assert.Equal(t, float64(25), rate.AsFloat64())
}

func TestOTelExporterCachesInstruments(t *testing.T) {
	exporter, _ := newManualReaderExporter(t)
	ctx := context.Background()

	require.NoError(t, exporter.ExportAction(ctx, NewActionEvent("a", nil, 100)))
	require.NoError(t, exporter.ExportAction(ctx, NewActionEvent("b", nil, 100)))

	exporter.mu.RLock()
	defer exporter.mu.RUnlock()
	assert.Len(t, exporter.counters, 1, "one counter serves all actions")
}

func TestOTelExporterShutdownWithoutOwnedProvider(t *testing.T) {
	exporter, _ := newManualReaderExporter(t)
	assert.NoError(t, exporter.Shutdown(context.Background()))
}
