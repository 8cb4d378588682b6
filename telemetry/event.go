package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pulsegate/pulsegate/core"
)

// Kind discriminates the two event shapes carried through the pipeline.
type Kind string

const (
	// KindAction is a named occurrence with free-form attributes.
	KindAction Kind = "action"
	// KindError is a captured application error with context.
	KindError Kind = "error"
)

// Event is the envelope every sender and queue operates on. Action events
// carry Name and Attrs; error events carry Error and Context. SampleRate
// travels with the event so a downstream backend can reweight counts.
type Event struct {
	ID         string                 `json:"id"`
	Kind       Kind                   `json:"kind"`
	Name       string                 `json:"name,omitempty"`
	Attrs      map[string]interface{} `json:"attrs,omitempty"`
	Error      *ErrorDetail           `json:"error,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
	SampleRate float64                `json:"sample_rate"`
	EnqueuedAt time.Time              `json:"enqueued_at"`
}

// ErrorDetail is the storable form of an error. Errors cannot round-trip
// through JSON as-is, so the queue flattens them to name/message/stack and
// rebuilds a ReplayedError on flush.
type ErrorDetail struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// NewActionEvent builds an action event with a fresh ID and the current
// time as the enqueue timestamp.
func NewActionEvent(name string, attrs map[string]interface{}, sampleRate float64) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       KindAction,
		Name:       name,
		Attrs:      attrs,
		SampleRate: core.ClampRate(sampleRate),
		EnqueuedAt: time.Now(),
	}
}

// NewErrorEvent builds an error event, flattening err for storage. A nil
// err produces a detail with an empty message rather than panicking.
func NewErrorEvent(err error, errCtx map[string]interface{}, sampleRate float64) Event {
	detail := &ErrorDetail{Name: "Error"}
	if err != nil {
		detail.Message = err.Error()
		detail.Name = fmt.Sprintf("%T", err)
		// Re-enqueued replays keep their original identity instead of
		// being renamed *telemetry.ReplayedError.
		if re, ok := err.(*ReplayedError); ok {
			detail.Name = re.Name
			detail.Stack = re.Stack
		}
	}
	return Event{
		ID:         uuid.NewString(),
		Kind:       KindError,
		Error:      detail,
		Context:    errCtx,
		SampleRate: core.ClampRate(sampleRate),
		EnqueuedAt: time.Now(),
	}
}

// ReplayedError is the error type handed to exporters when a persisted
// error event is flushed after a restart. It preserves the original type
// name and stack as data since the original error value is gone.
type ReplayedError struct {
	Name    string
	Message string
	Stack   string
}

func (e *ReplayedError) Error() string {
	return e.Message
}

// Replay reconstructs the error value for an error event. Action events
// and events with no detail return nil.
func (e Event) Replay() error {
	if e.Kind != KindError || e.Error == nil {
		return nil
	}
	return &ReplayedError{
		Name:    e.Error.Name,
		Message: e.Error.Message,
		Stack:   e.Error.Stack,
	}
}

// snapshotVersion tags the persisted queue format. Decoders discard
// snapshots with any other version instead of guessing at their layout.
const snapshotVersion = 1

// queueSnapshot is the persisted form of a pending event list.
type queueSnapshot struct {
	Version int     `json:"version"`
	Events  []Event `json:"events"`
}

// encodeSnapshot serializes pending events for storage.
func encodeSnapshot(events []Event) (string, error) {
	data, err := json.Marshal(queueSnapshot{
		Version: snapshotVersion,
		Events:  events,
	})
	if err != nil {
		return "", fmt.Errorf("encoding queue snapshot: %w", err)
	}
	return string(data), nil
}

// decodeSnapshot restores events persisted by encodeSnapshot. An empty
// value decodes to no events. A snapshot written by an unknown format
// version is discarded wholesale, trading those events for the certainty
// of never misreading them.
func decodeSnapshot(raw string) ([]Event, error) {
	if raw == "" {
		return nil, nil
	}
	var snap queueSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("decoding queue snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, nil
	}
	return snap.Events, nil
}
