package telemetry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pulsegate/pulsegate/core"
)

// Connectivity reports whether the delivery path is currently usable.
// Queue senders consult it on every Send to choose between pass-through
// and buffering.
type Connectivity interface {
	Online() bool
}

// Notifier is a Connectivity source that can also push transitions.
// Subscribers are invoked on every offline-to-online edge; that callback
// is what turns a reconnect into an immediate queue flush.
type Notifier interface {
	Connectivity
	// Subscribe registers fn for connectivity events and returns a
	// cancel function that removes the registration.
	Subscribe(fn func(online bool)) (cancel func())
}

// Monitor is the host-app-driven Notifier. The embedding application
// feeds it whatever signals it has: explicit online/offline knowledge
// via SetOnline, and foreground/visibility changes via NotifyVisible.
// Either can come from OS hooks, a platform SDK, or a Prober.
//
// A new Monitor starts online, the optimistic default for a process that
// just came up.
type Monitor struct {
	mu          sync.Mutex
	online      bool
	nextID      int
	subscribers map[int]func(bool)
}

// NewMonitor creates a monitor in the online state.
func NewMonitor() *Monitor {
	return &Monitor{
		online:      true,
		subscribers: make(map[int]func(bool)),
	}
}

// Online reports the last state the host app set.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline records a connectivity change and, when the state actually
// changed, fans it out to subscribers. Callbacks run on the caller's
// goroutine, outside the monitor's lock, so a subscriber may flush
// queues or call back into the monitor freely.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	subs := m.snapshotLocked()
	m.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range subs {
		fn(online)
	}
}

// NotifyVisible signals that the app returned to the foreground. It is
// purely a flush trigger: if the monitor believes it is online, the
// online state is re-announced so senders take another delivery attempt.
// While offline it does nothing.
func (m *Monitor) NotifyVisible() {
	m.mu.Lock()
	online := m.online
	subs := m.snapshotLocked()
	m.mu.Unlock()

	if !online {
		return
	}
	for _, fn := range subs {
		fn(true)
	}
}

// Subscribe registers fn for transitions. The returned cancel function
// is idempotent.
func (m *Monitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subscribers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subscribers, id)
		m.mu.Unlock()
	}
}

func (m *Monitor) snapshotLocked() []func(bool) {
	subs := make([]func(bool), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subs = append(subs, fn)
	}
	return subs
}

// ProbeFunc decides whether the network is reachable. It must respect
// the context deadline.
type ProbeFunc func(ctx context.Context) bool

// ProberConfig configures the background connectivity prober.
type ProberConfig struct {
	// Interval between probes. Default 30s.
	Interval time.Duration

	// Timeout bounds each individual probe. Default 5s.
	Timeout time.Duration

	// Probe overrides the reachability check. When nil, the prober
	// issues an HTTP HEAD to ProbeURL and treats any response as online.
	Probe ProbeFunc

	// ProbeURL is the endpoint the default probe targets, typically the
	// ingest URL. Required unless Probe is set.
	ProbeURL string

	// Logger for probe lifecycle events. Defaults to no-op.
	Logger core.Logger
}

// Prober feeds a Monitor from periodic reachability checks, for hosts
// that have no OS-level connectivity signal to forward. It probes once
// at startup so the monitor reflects reality immediately, then on every
// interval tick until the context is canceled.
type Prober struct {
	config  ProberConfig
	monitor *Monitor
	probe   ProbeFunc
	logger  core.Logger
}

// NewProber creates a prober bound to the given monitor.
func NewProber(monitor *Monitor, config ProberConfig) (*Prober, error) {
	if monitor == nil {
		return nil, fmt.Errorf("%w: monitor is required", core.ErrInvalidConfiguration)
	}
	if config.Interval == 0 {
		config.Interval = 30 * time.Second
	}
	if config.Interval < 0 {
		return nil, fmt.Errorf("%w: Interval must be > 0, got %v",
			core.ErrInvalidConfiguration, config.Interval)
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	probe := config.Probe
	if probe == nil {
		if config.ProbeURL == "" {
			return nil, fmt.Errorf("%w: ProbeURL is required when no Probe is set",
				core.ErrInvalidConfiguration)
		}
		probe = headProbe(config.ProbeURL)
	}
	logger := config.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Prober{
		config:  config,
		monitor: monitor,
		probe:   probe,
		logger:  logger,
	}, nil
}

// Start launches the probe loop. It returns immediately; the loop stops
// when ctx is canceled.
func (p *Prober) Start(ctx context.Context) {
	go p.loop(ctx)
}

func (p *Prober) loop(ctx context.Context) {
	p.logger.Debug("Connectivity prober started", map[string]interface{}{
		"operation":   "prober_start",
		"interval_ms": p.config.Interval.Milliseconds(),
	})

	p.monitor.SetOnline(p.runProbe(ctx))

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("Connectivity prober stopped", map[string]interface{}{
				"operation": "prober_stop",
			})
			return
		case <-ticker.C:
			p.monitor.SetOnline(p.runProbe(ctx))
		}
	}
}

func (p *Prober) runProbe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()
	return p.probe(probeCtx)
}

// headProbe is the default reachability check: any HTTP response at all
// counts as online, even an error status, because connectivity is about
// the transport, not the endpoint's health.
func headProbe(url string) ProbeFunc {
	client := &http.Client{}
	return func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		return true
	}
}
