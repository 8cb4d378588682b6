package core

import (
	"context"
	"time"
)

// Logger interface - minimal logging interface
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})
}

// Store interface for key-value state storage. Implementations back the
// persistent telemetry queue and any component that needs durable state.
//
// Get returns ("", nil) for a missing key so callers can treat absence
// as an empty value without error plumbing. A ttl of zero means no
// expiration.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Clock abstracts time for components that schedule work. Tests swap in
// a fake; production code uses RealClock.
type Clock interface {
	Now() time.Time
}

// RealClock is the Clock used outside tests.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Default no-op implementations

// NoOpLogger provides a no-op logger implementation
type NoOpLogger struct{}

func (n *NoOpLogger) Info(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Error(msg string, fields map[string]interface{}) {}
func (n *NoOpLogger) Warn(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Debug(msg string, fields map[string]interface{}) {}
