package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsegate/pulsegate/core"
)

// transitionRecorder collects the states a subscriber was handed.
type transitionRecorder struct {
	mu     sync.Mutex
	states []bool
}

func (r *transitionRecorder) record(online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, online)
}

func (r *transitionRecorder) recorded() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bool, len(r.states))
	copy(out, r.states)
	return out
}

func TestMonitorStartsOnline(t *testing.T) {
	assert.True(t, NewMonitor().Online())
}

func TestMonitorNotifiesOnlyOnChange(t *testing.T) {
	monitor := NewMonitor()
	rec := &transitionRecorder{}
	monitor.Subscribe(rec.record)

	monitor.SetOnline(true) // already online, no event
	monitor.SetOnline(false)
	monitor.SetOnline(false) // repeat, no event
	monitor.SetOnline(true)

	assert.Equal(t, []bool{false, true}, rec.recorded())
	assert.True(t, monitor.Online())
}

func TestMonitorNotifyVisibleReannouncesOnlineOnly(t *testing.T) {
	monitor := NewMonitor()
	rec := &transitionRecorder{}
	monitor.Subscribe(rec.record)

	monitor.NotifyVisible()
	assert.Equal(t, []bool{true}, rec.recorded())

	monitor.SetOnline(false)
	monitor.NotifyVisible() // offline, swallowed
	assert.Equal(t, []bool{true, false}, rec.recorded())
}

func TestMonitorSubscribeCancel(t *testing.T) {
	monitor := NewMonitor()
	rec := &transitionRecorder{}
	cancel := monitor.Subscribe(rec.record)

	monitor.SetOnline(false)
	cancel()
	cancel() // idempotent
	monitor.SetOnline(true)

	assert.Equal(t, []bool{false}, rec.recorded())
}

func TestMonitorSubscriberMayReenter(t *testing.T) {
	monitor := NewMonitor()
	var sawOnline bool
	monitor.Subscribe(func(online bool) {
		// Callbacks run outside the lock, so reading back must not
		// deadlock.
		sawOnline = monitor.Online()
	})

	monitor.SetOnline(false)
	assert.False(t, sawOnline)
}

func TestProberFeedsMonitor(t *testing.T) {
	monitor := NewMonitor()
	var mu sync.Mutex
	reachable := false

	prober, err := NewProber(monitor, ProberConfig{
		Interval: 10 * time.Millisecond,
		Probe: func(ctx context.Context) bool {
			mu.Lock()
			defer mu.Unlock()
			return reachable
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	prober.Start(ctx)

	// First probe runs at startup and reports unreachable.
	assert.Eventually(t, func() bool { return !monitor.Online() },
		2*time.Second, 5*time.Millisecond)

	mu.Lock()
	reachable = true
	mu.Unlock()

	assert.Eventually(t, func() bool { return monitor.Online() },
		2*time.Second, 5*time.Millisecond)
}

func TestProberStopsOnContextCancel(t *testing.T) {
	monitor := NewMonitor()
	var mu sync.Mutex
	probes := 0

	prober, err := NewProber(monitor, ProberConfig{
		Interval: 5 * time.Millisecond,
		Probe: func(ctx context.Context) bool {
			mu.Lock()
			probes++
			mu.Unlock()
			return true
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	prober.Start(ctx)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return probes >= 2
	}, 2*time.Second, time.Millisecond)

	cancel()
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	settled := probes
	mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, settled, probes, "probing should stop after cancel")
	mu.Unlock()
}

func TestNewProberValidation(t *testing.T) {
	_, err := NewProber(nil, ProberConfig{ProbeURL: "http://x"})
	require.Error(t, err)
	assert.True(t, core.IsConfigurationError(err))

	_, err = NewProber(NewMonitor(), ProberConfig{})
	require.Error(t, err)
	assert.True(t, core.IsConfigurationError(err))

	_, err = NewProber(NewMonitor(), ProberConfig{ProbeURL: "http://x", Interval: -time.Second})
	require.Error(t, err)
	assert.True(t, core.IsConfigurationError(err))
}

func TestHeadProbeAnyResponseIsOnline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	probe := headProbe(server.URL)
	assert.True(t, probe(context.Background()), "an error status still proves the transport works")

	server.Close()
	assert.False(t, probe(context.Background()))
}
