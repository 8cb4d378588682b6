package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pulsegate/pulsegate/core"
)

// PersistentSenderConfig configures the store-backed buffering strategy.
type PersistentSenderConfig struct {
	// Store holds the serialized queue between sessions. Required.
	Store core.Store

	// StorageKey is the store key the queue lives under. The queue
	// assumes exclusive ownership of this key and overwrites whatever
	// is there. Default "pulsegate:telemetry:queue".
	StorageKey string

	// MaxBuffered bounds the queue by event count, oldest dropped first.
	// Default 100.
	MaxBuffered int

	// ByteCap bounds the serialized snapshot size. When a write would
	// exceed it, the oldest tenth of the queue is trimmed until the
	// snapshot fits. Zero disables the byte cap. Default 256 KiB.
	ByteCap int

	// WriteDebounce delays storage writes after a mutation so bursts
	// coalesce into one write. A write is attempted within this duration
	// of any mutation. Default 500ms.
	WriteDebounce time.Duration

	// FlushOnInit attempts a flush right after reload when the client
	// is online, draining events left over from the previous session.
	FlushOnInit bool

	// Connectivity reports whether delivery should be attempted. A nil
	// value means always online.
	Connectivity Connectivity

	// Notifier, when set, is subscribed for online transitions.
	Notifier Notifier

	// Logger for queue lifecycle events. Defaults to no-op.
	Logger core.Logger
}

// DefaultPersistentSenderConfig returns the standard sizing.
func DefaultPersistentSenderConfig() PersistentSenderConfig {
	return PersistentSenderConfig{
		StorageKey:    "pulsegate:telemetry:queue",
		MaxBuffered:   100,
		ByteCap:       256 * 1024,
		WriteDebounce: 500 * time.Millisecond,
	}
}

// Validate checks the configuration.
func (c *PersistentSenderConfig) Validate() error {
	if c.Store == nil {
		return fmt.Errorf("%w: Store is required", core.ErrInvalidConfiguration)
	}
	if c.MaxBuffered < 1 {
		return fmt.Errorf("%w: MaxBuffered must be >= 1, got %d",
			core.ErrInvalidConfiguration, c.MaxBuffered)
	}
	if c.ByteCap < 0 {
		return fmt.Errorf("%w: ByteCap must be >= 0, got %d",
			core.ErrInvalidConfiguration, c.ByteCap)
	}
	if c.WriteDebounce < 0 {
		return fmt.Errorf("%w: WriteDebounce must be >= 0, got %v",
			core.ErrInvalidConfiguration, c.WriteDebounce)
	}
	return nil
}

// PersistentSender is QueuedSender with a durable mirror: buffered events
// are serialized into a core.Store so they survive a restart. The store
// is a mirror, not a second owner; the in-memory slice is authoritative
// and every mutation schedules a debounced write-back.
//
// Durability is deliberately loose. A crash inside the debounce window
// loses the most recent writes, and delivery is at-least-once: events
// delivered but not yet cleared from storage are re-sent next session.
type PersistentSender struct {
	config   PersistentSenderConfig
	exporter Exporter
	logger   core.Logger

	mu         sync.Mutex
	buffer     []Event
	writeTimer *time.Timer

	flushMu sync.Mutex

	unsubscribe func()
}

// NewPersistentSender builds the store-backed strategy, reloading any
// events a previous session left behind. Storage trouble during reload
// degrades to an empty queue rather than failing construction; a broken
// store must not take telemetry down with it.
func NewPersistentSender(ctx context.Context, exporter Exporter, config PersistentSenderConfig) (*PersistentSender, error) {
	defaults := DefaultPersistentSenderConfig()
	if config.StorageKey == "" {
		config.StorageKey = defaults.StorageKey
	}
	if config.MaxBuffered == 0 {
		config.MaxBuffered = defaults.MaxBuffered
	}
	if config.ByteCap == 0 {
		config.ByteCap = defaults.ByteCap
	}
	if config.WriteDebounce == 0 {
		config.WriteDebounce = defaults.WriteDebounce
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid persistent sender configuration: %w", err)
	}
	logger := config.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	s := &PersistentSender{
		config:   config,
		exporter: exporter,
		logger:   logger,
	}
	s.reload(ctx)

	if config.Notifier != nil {
		s.unsubscribe = config.Notifier.Subscribe(func(online bool) {
			if online {
				if err := s.Flush(context.Background()); err != nil {
					s.logger.Debug("Queue flush on reconnect incomplete", map[string]interface{}{
						"operation": "persistent_queue_flush",
						"error":     err.Error(),
					})
				}
			}
		})
	}

	if config.FlushOnInit && s.online() && exporter != nil {
		if err := s.Flush(ctx); err != nil {
			s.logger.Debug("Initial queue flush incomplete", map[string]interface{}{
				"operation": "persistent_queue_flush",
				"error":     err.Error(),
			})
		}
	}
	return s, nil
}

// reload restores the queue from storage. A snapshot in an unknown
// format version is discarded, including from storage, so it is not
// re-parsed forever.
func (s *PersistentSender) reload(ctx context.Context) {
	raw, err := s.config.Store.Get(ctx, s.config.StorageKey)
	if err != nil {
		s.logger.Warn("Could not reload queued telemetry", map[string]interface{}{
			"operation":   "persistent_queue_reload",
			"storage_key": s.config.StorageKey,
			"error":       err.Error(),
			"impact":      "previous session's events lost",
		})
		return
	}
	events, err := decodeSnapshot(raw)
	if err != nil {
		s.logger.Warn("Discarding unreadable telemetry snapshot", map[string]interface{}{
			"operation":   "persistent_queue_reload",
			"storage_key": s.config.StorageKey,
			"error":       err.Error(),
		})
		_ = s.config.Store.Delete(ctx, s.config.StorageKey)
		return
	}
	if events == nil && raw != "" {
		// Unknown version, decoded to nothing
		_ = s.config.Store.Delete(ctx, s.config.StorageKey)
		return
	}
	s.mu.Lock()
	s.buffer = events
	for len(s.buffer) > s.config.MaxBuffered {
		s.buffer = s.buffer[1:]
	}
	count := len(s.buffer)
	s.mu.Unlock()

	if count > 0 {
		s.logger.Info("Reloaded queued telemetry from storage", map[string]interface{}{
			"operation":   "persistent_queue_reload",
			"storage_key": s.config.StorageKey,
			"events":      count,
		})
	}
}

// Send delivers immediately when online and wired, otherwise buffers and
// schedules a debounced write-back.
func (s *PersistentSender) Send(ctx context.Context, event Event) error {
	if s.online() && s.exporter != nil {
		return exportEvent(ctx, s.exporter, event)
	}
	s.mu.Lock()
	for len(s.buffer) >= s.config.MaxBuffered {
		s.buffer = s.buffer[1:]
	}
	s.buffer = append(s.buffer, event)
	s.scheduleWriteLocked()
	s.mu.Unlock()
	return nil
}

func (s *PersistentSender) online() bool {
	if s.config.Connectivity == nil {
		return true
	}
	return s.config.Connectivity.Online()
}

// scheduleWriteLocked arms the debounce timer if no write is pending.
// The timer is not reset by later mutations, so a steady stream of
// events still writes every WriteDebounce instead of starving.
func (s *PersistentSender) scheduleWriteLocked() {
	if s.writeTimer != nil {
		return
	}
	s.writeTimer = time.AfterFunc(s.config.WriteDebounce, func() {
		s.mu.Lock()
		s.writeTimer = nil
		s.mu.Unlock()
		s.persist(context.Background())
	})
}

// persist writes the current queue to storage, enforcing the byte cap.
// A failed write gets one aggressive retry after dropping the oldest 20%
// of events; if that also fails the queue stays in memory only.
func (s *PersistentSender) persist(ctx context.Context) {
	s.mu.Lock()
	if s.writeTimer != nil {
		s.writeTimer.Stop()
		s.writeTimer = nil
	}
	s.mu.Unlock()

	raw, trimmed, err := s.snapshotBounded()
	if err != nil {
		s.logger.Debug("Could not serialize telemetry queue", map[string]interface{}{
			"operation": "persistent_queue_write",
			"error":     err.Error(),
		})
		return
	}
	if trimmed > 0 {
		s.logger.Debug("Byte cap trimmed oldest events", map[string]interface{}{
			"operation": "persistent_queue_trim",
			"trimmed":   trimmed,
			"byte_cap":  s.config.ByteCap,
		})
	}

	if err := s.config.Store.Set(ctx, s.config.StorageKey, raw, 0); err == nil {
		return
	}

	s.mu.Lock()
	drop := (len(s.buffer) + 4) / 5
	s.buffer = append([]Event(nil), s.buffer[drop:]...)
	s.mu.Unlock()

	raw, _, err = s.snapshotBounded()
	if err != nil {
		return
	}
	if err := s.config.Store.Set(ctx, s.config.StorageKey, raw, 0); err != nil {
		s.logger.Debug("Storage write failed twice, queue kept in memory only", map[string]interface{}{
			"operation": "persistent_queue_write",
			"dropped":   drop,
			"error":     err.Error(),
		})
	}
}

// snapshotBounded serializes the queue, trimming the oldest tenth until
// the result fits under ByteCap. Trimmed events are gone from the live
// queue too, not just the written copy.
func (s *PersistentSender) snapshotBounded() (string, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := encodeSnapshot(s.buffer)
	if err != nil {
		return "", 0, err
	}
	if s.config.ByteCap <= 0 {
		return raw, 0, nil
	}
	trimmed := 0
	for len(raw) > s.config.ByteCap && len(s.buffer) > 0 {
		chunk := (len(s.buffer) + 9) / 10
		s.buffer = append([]Event(nil), s.buffer[chunk:]...)
		trimmed += chunk
		raw, err = encodeSnapshot(s.buffer)
		if err != nil {
			return "", trimmed, err
		}
	}
	return raw, trimmed, nil
}

// Flush delivers buffered events in insertion order, stopping at the
// first export failure so a dead endpoint is not hammered once per
// buffered event. Whatever remains unsent is written back to storage
// immediately, not on the debounce, because the flush just changed what
// a crash would need to recover.
func (s *PersistentSender) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	pending := s.buffer
	s.buffer = nil
	s.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	var flushErr error
	for i, event := range pending {
		if err := exportEvent(ctx, s.exporter, event); err != nil {
			s.requeueFront(pending[i:])
			flushErr = fmt.Errorf("flush stopped after %d of %d events: %w", i, len(pending), err)
			break
		}
	}

	s.persist(ctx)

	if flushErr == nil {
		s.logger.Debug("Persistent buffer flushed", map[string]interface{}{
			"operation": "persistent_queue_flush",
			"flushed":   len(pending),
		})
	}
	return flushErr
}

func (s *PersistentSender) requeueFront(events []Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	combined := make([]Event, 0, len(events)+len(s.buffer))
	combined = append(combined, events...)
	combined = append(combined, s.buffer...)
	for len(combined) > s.config.MaxBuffered {
		combined = combined[1:]
	}
	s.buffer = combined
}

// Close cancels the connectivity subscription, stops the debounce timer,
// and writes the final queue state so the next session can pick it up.
// Buffered events are intentionally not discarded.
func (s *PersistentSender) Close(ctx context.Context) error {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.mu.Lock()
	if s.writeTimer != nil {
		s.writeTimer.Stop()
		s.writeTimer = nil
	}
	s.mu.Unlock()

	s.persist(ctx)
	return nil
}

// Len reports how many events are currently buffered in memory.
func (s *PersistentSender) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}
