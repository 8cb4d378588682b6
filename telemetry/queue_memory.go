package telemetry

import (
	"context"
	"fmt"
	"sync"

	"github.com/pulsegate/pulsegate/core"
)

// QueuedSenderConfig configures the in-memory buffering strategy.
type QueuedSenderConfig struct {
	// MaxBuffered bounds the offline buffer. When a new event would
	// exceed it, the oldest buffered event is dropped. Default 100.
	MaxBuffered int

	// Connectivity reports whether delivery should be attempted. A nil
	// value means always online (pure pass-through until someone flips
	// a Monitor in).
	Connectivity Connectivity

	// Notifier, when set, is subscribed for online transitions so the
	// buffer flushes as soon as the network returns.
	Notifier Notifier

	// Logger for queue lifecycle events. Defaults to no-op.
	Logger core.Logger
}

// DefaultQueuedSenderConfig returns the standard buffer sizing.
func DefaultQueuedSenderConfig() QueuedSenderConfig {
	return QueuedSenderConfig{
		MaxBuffered: 100,
	}
}

// Validate checks the configuration.
func (c *QueuedSenderConfig) Validate() error {
	if c.MaxBuffered < 1 {
		return fmt.Errorf("%w: MaxBuffered must be >= 1, got %d",
			core.ErrInvalidConfiguration, c.MaxBuffered)
	}
	return nil
}

// QueuedSender buffers events in memory while offline and passes them
// straight through while online. The buffer is FIFO and bounded: once
// MaxBuffered is reached the oldest event is evicted to make room, on
// the theory that recent telemetry is worth more than stale telemetry.
//
// Buffered events do not survive the process; Close discards them. Use
// PersistentSender when events must outlive a restart.
type QueuedSender struct {
	config   QueuedSenderConfig
	exporter Exporter
	logger   core.Logger

	mu     sync.Mutex
	buffer []Event

	// flushMu serializes whole flush passes so two triggers cannot
	// interleave deliveries out of order.
	flushMu sync.Mutex

	unsubscribe func()
}

// NewQueuedSender builds the in-memory strategy around an exporter. A nil
// exporter is allowed; events then buffer until eviction, matching the
// not-yet-wired state.
func NewQueuedSender(exporter Exporter, config QueuedSenderConfig) (*QueuedSender, error) {
	if config.MaxBuffered == 0 {
		config.MaxBuffered = DefaultQueuedSenderConfig().MaxBuffered
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid queued sender configuration: %w", err)
	}
	logger := config.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	s := &QueuedSender{
		config:   config,
		exporter: exporter,
		logger:   logger,
	}
	if config.Notifier != nil {
		s.unsubscribe = config.Notifier.Subscribe(func(online bool) {
			if online {
				if err := s.Flush(context.Background()); err != nil {
					s.logger.Debug("Queue flush on reconnect incomplete", map[string]interface{}{
						"operation": "queue_flush",
						"error":     err.Error(),
					})
				}
			}
		})
	}
	return s, nil
}

// Send delivers the event immediately when online and an exporter is
// wired; otherwise it buffers. Buffering always succeeds from the
// caller's perspective, eviction is the queue's own business.
func (s *QueuedSender) Send(ctx context.Context, event Event) error {
	if s.online() && s.exporter != nil {
		return exportEvent(ctx, s.exporter, event)
	}
	s.enqueue(event)
	return nil
}

func (s *QueuedSender) online() bool {
	if s.config.Connectivity == nil {
		return true
	}
	return s.config.Connectivity.Online()
}

func (s *QueuedSender) enqueue(event Event) {
	s.mu.Lock()
	dropped := 0
	for len(s.buffer) >= s.config.MaxBuffered {
		s.buffer = s.buffer[1:]
		dropped++
	}
	s.buffer = append(s.buffer, event)
	size := len(s.buffer)
	s.mu.Unlock()

	if dropped > 0 {
		s.logger.Debug("Offline buffer full, oldest event dropped", map[string]interface{}{
			"operation":    "queue_evict",
			"dropped":      dropped,
			"max_buffered": s.config.MaxBuffered,
			"buffered":     size,
		})
	}
}

// Flush delivers buffered events in insertion order. Delivery stops at
// the first export failure; the unsent remainder stays queued ahead of
// any events that arrived during the flush, so a later flush still sees
// the original order.
func (s *QueuedSender) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	pending := s.buffer
	s.buffer = nil
	s.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	for i, event := range pending {
		if err := exportEvent(ctx, s.exporter, event); err != nil {
			s.requeueFront(pending[i:])
			return fmt.Errorf("flush stopped after %d of %d events: %w", i, len(pending), err)
		}
	}

	s.logger.Debug("Offline buffer flushed", map[string]interface{}{
		"operation": "queue_flush",
		"flushed":   len(pending),
	})
	return nil
}

// requeueFront puts unsent events back ahead of anything enqueued since
// the flush snapshot was taken.
func (s *QueuedSender) requeueFront(events []Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	combined := make([]Event, 0, len(events)+len(s.buffer))
	combined = append(combined, events...)
	combined = append(combined, s.buffer...)
	// Re-apply the cap, dropping oldest first
	for len(combined) > s.config.MaxBuffered {
		combined = combined[1:]
	}
	s.buffer = combined
}

// Close cancels the connectivity subscription and discards any buffered
// events.
func (s *QueuedSender) Close(ctx context.Context) error {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.mu.Lock()
	discarded := len(s.buffer)
	s.buffer = nil
	s.mu.Unlock()

	if discarded > 0 {
		s.logger.Debug("Queued sender closed with events discarded", map[string]interface{}{
			"operation": "queue_close",
			"discarded": discarded,
		})
	}
	return nil
}

// Len reports how many events are currently buffered.
func (s *QueuedSender) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}
