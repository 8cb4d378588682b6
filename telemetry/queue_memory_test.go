package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsegate/pulsegate/core"
)

func TestQueuedSenderPassThroughWhenOnline(t *testing.T) {
	exporter := &stubExporter{}
	sender, err := NewQueuedSender(exporter, QueuedSenderConfig{})
	require.NoError(t, err)

	require.NoError(t, sender.Send(context.Background(), NewActionEvent("clicked", nil, 100)))

	assert.Equal(t, []string{"clicked"}, exporter.exportedNames())
	assert.Equal(t, 0, sender.Len())
}

func TestQueuedSenderBuffersWhenOffline(t *testing.T) {
	exporter := &stubExporter{}
	conn := &staticConnectivity{online: false}
	sender, err := NewQueuedSender(exporter, QueuedSenderConfig{Connectivity: conn})
	require.NoError(t, err)

	require.NoError(t, sender.Send(context.Background(), NewActionEvent("clicked", nil, 100)))
	require.NoError(t, sender.Send(context.Background(), NewActionEvent("scrolled", nil, 100)))

	assert.Empty(t, exporter.exported())
	assert.Equal(t, 2, sender.Len())
}

func TestQueuedSenderEvictsOldestAtCapacity(t *testing.T) {
	exporter := &stubExporter{}
	conn := &staticConnectivity{online: false}
	sender, err := NewQueuedSender(exporter, QueuedSenderConfig{
		MaxBuffered:  3,
		Connectivity: conn,
	})
	require.NoError(t, err)

	ctx := context.Background()
	for _, name := range []string{"a1", "a2", "a3", "a4"} {
		require.NoError(t, sender.Send(ctx, NewActionEvent(name, nil, 100)))
	}
	assert.Equal(t, 3, sender.Len())

	require.NoError(t, sender.Flush(ctx))
	assert.Equal(t, []string{"a2", "a3", "a4"}, exporter.exportedNames())
	assert.Equal(t, 0, sender.Len())
}

func TestQueuedSenderFlushesOnReconnect(t *testing.T) {
	exporter := &stubExporter{}
	monitor := NewMonitor()
	monitor.SetOnline(false)

	sender, err := NewQueuedSender(exporter, QueuedSenderConfig{
		Connectivity: monitor,
		Notifier:     monitor,
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sender.Send(ctx, NewActionEvent("buffered", nil, 100)))
	require.Empty(t, exporter.exported())

	// Subscribers run synchronously, so the flush completes before
	// SetOnline returns.
	monitor.SetOnline(true)

	assert.Equal(t, []string{"buffered"}, exporter.exportedNames())
	assert.Equal(t, 0, sender.Len())
}

func TestQueuedSenderFlushStopsAtFirstFailure(t *testing.T) {
	exporter := &stubExporter{}
	exporter.setHook(func(e Event) error {
		if e.Name == "a2" {
			return errors.New("ingest down")
		}
		return nil
	})
	conn := &staticConnectivity{online: false}
	sender, err := NewQueuedSender(exporter, QueuedSenderConfig{Connectivity: conn})
	require.NoError(t, err)

	ctx := context.Background()
	for _, name := range []string{"a1", "a2", "a3"} {
		require.NoError(t, sender.Send(ctx, NewActionEvent(name, nil, 100)))
	}

	err = sender.Flush(ctx)
	require.Error(t, err)
	assert.Equal(t, []string{"a1"}, exporter.exportedNames())
	assert.Equal(t, 2, sender.Len())

	// New arrivals land behind the requeued remainder.
	require.NoError(t, sender.Send(ctx, NewActionEvent("a4", nil, 100)))

	exporter.setHook(nil)
	require.NoError(t, sender.Flush(ctx))
	assert.Equal(t, []string{"a1", "a2", "a3", "a4"}, exporter.exportedNames())
}

func TestQueuedSenderCloseDiscardsBuffer(t *testing.T) {
	exporter := &stubExporter{}
	monitor := NewMonitor()
	monitor.SetOnline(false)

	sender, err := NewQueuedSender(exporter, QueuedSenderConfig{
		Connectivity: monitor,
		Notifier:     monitor,
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sender.Send(ctx, NewActionEvent("doomed", nil, 100)))
	require.NoError(t, sender.Close(ctx))
	assert.Equal(t, 0, sender.Len())

	// The subscription is gone too: coming back online must not
	// resurrect anything.
	monitor.SetOnline(true)
	assert.Empty(t, exporter.exported())
}

func TestQueuedSenderNilExporterBuffers(t *testing.T) {
	sender, err := NewQueuedSender(nil, QueuedSenderConfig{})
	require.NoError(t, err)

	require.NoError(t, sender.Send(context.Background(), NewActionEvent("held", nil, 100)))
	assert.Equal(t, 1, sender.Len())
}

func TestNewQueuedSenderRejectsBadCapacity(t *testing.T) {
	_, err := NewQueuedSender(&stubExporter{}, QueuedSenderConfig{MaxBuffered: -1})
	require.Error(t, err)
	assert.True(t, core.IsConfigurationError(err))
}
