package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCardinalityLimiterAdmitsUpToLimit(t *testing.T) {
	limiter := newCardinalityLimiter(2)

	assert.Equal(t, "a", limiter.admit("action", "a"))
	assert.Equal(t, "b", limiter.admit("action", "b"))
	assert.Equal(t, CardinalityOverflow, limiter.admit("action", "c"))

	// Known values keep their own name after the attribute fills up.
	assert.Equal(t, "a", limiter.admit("action", "a"))
	assert.Equal(t, 2, limiter.used())
}

func TestCardinalityLimiterTracksAttributesIndependently(t *testing.T) {
	limiter := newCardinalityLimiter(1)

	assert.Equal(t, "a", limiter.admit("action", "a"))
	assert.Equal(t, CardinalityOverflow, limiter.admit("action", "b"))

	// A full action attribute does not consume the error.type budget.
	assert.Equal(t, "timeout", limiter.admit("error.type", "timeout"))
	assert.Equal(t, 2, limiter.used())
}

func TestCardinalityLimiterDefaultLimit(t *testing.T) {
	limiter := newCardinalityLimiter(0)
	assert.Equal(t, DefaultAttrValueLimit, limiter.limit)
}

func TestOTelExporterCapsActionCardinality(t *testing.T) {
	exporter, reader := newManualReaderExporter(t, WithAttrValueLimit(2))
	ctx := context.Background()

	require.NoError(t, exporter.ExportAction(ctx, NewActionEvent("search", nil, 100)))
	require.NoError(t, exporter.ExportAction(ctx, NewActionEvent("checkout", nil, 100)))
	require.NoError(t, exporter.ExportAction(ctx, NewActionEvent("item-4711", nil, 100)))
	require.NoError(t, exporter.ExportAction(ctx, NewActionEvent("item-4712", nil, 100)))
	require.NoError(t, exporter.ExportAction(ctx, NewActionEvent("search", nil, 100)))

	sum := collectSum(t, reader, MetricActionEvents)

	search, ok := pointValue(sum, "action", "search")
	require.True(t, ok)
	assert.Equal(t, int64(2), search)

	overflow, ok := pointValue(sum, "action", CardinalityOverflow)
	require.True(t, ok)
	assert.Equal(t, int64(2), overflow, "both over-limit names collapse into one series")

	_, found := pointValue(sum, "action", "item-4711")
	assert.False(t, found, "over-limit names must not mint their own series")
}
