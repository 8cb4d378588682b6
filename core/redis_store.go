// Redis-backed Store implementation with key namespacing and database
// isolation. Embedders that run many SDK instances against one Redis point
// them at separate namespaces (or separate DBs) so queue snapshots never
// collide.
//
// Database allocation convention:
// - DB 0: general SDK state (default)
// - DB 1: telemetry queue snapshots
// - DB 2-15: available to embedders

package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// RedisDBState is for general SDK state (default)
	RedisDBState = 0

	// RedisDBTelemetryQueue is for telemetry queue snapshots
	RedisDBTelemetryQueue = 1
)

// RedisStore is a Store backed by Redis. All keys are prefixed with the
// configured namespace.
type RedisStore struct {
	client    *redis.Client
	dbID      int
	namespace string
	logger    Logger
}

// RedisStoreOptions configures the Redis store
type RedisStoreOptions struct {
	RedisURL  string
	DB        int    // Redis DB number for isolation (0-15)
	Namespace string // Key namespace, e.g. "pulsegate"
	Logger    Logger // Optional logger
}

// NewRedisStore creates a Redis-backed store and verifies connectivity
func NewRedisStore(opts RedisStoreOptions) (*RedisStore, error) {
	logger := opts.Logger
	if logger == nil {
		logger = &NoOpLogger{}
	}

	if opts.RedisURL == "" {
		logger.Error("Failed to initialize Redis store", map[string]interface{}{
			"operation": "redis_init",
			"error":     "Redis URL is required",
		})
		return nil, fmt.Errorf("redis URL is required: %w", ErrInvalidConfiguration)
	}

	redisOpt, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		logger.Error("Failed to parse Redis URL", map[string]interface{}{
			"operation": "redis_init",
			"error":     err,
			"redis_url": opts.RedisURL,
		})
		return nil, fmt.Errorf("invalid Redis URL: %w", ErrInvalidConfiguration)
	}

	// Override DB for isolation
	if opts.DB >= 0 && opts.DB <= 15 {
		redisOpt.DB = opts.DB
	}

	client := redis.NewClient(redisOpt)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Error("Failed to connect to Redis", map[string]interface{}{
			"operation": "redis_init",
			"error":     err,
			"db":        opts.DB,
			"namespace": opts.Namespace,
		})
		return nil, fmt.Errorf("failed to connect to Redis DB %d: %w", opts.DB, ErrConnectionFailed)
	}

	rs := &RedisStore{
		client:    client,
		dbID:      opts.DB,
		namespace: opts.Namespace,
		logger:    logger,
	}

	rs.logger.Info("Redis store connected", map[string]interface{}{
		"operation": "redis_init",
		"db":        opts.DB,
		"namespace": opts.Namespace,
	})

	return rs, nil
}

// Close closes the Redis connection
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// formatKey formats a key with the namespace
func (r *RedisStore) formatKey(key string) string {
	if r.namespace != "" {
		return fmt.Sprintf("%s:%s", r.namespace, key)
	}
	return key
}

// Get retrieves a value. A missing key returns ("", nil).
func (r *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, r.formatKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		r.logger.Error("Redis get failed", map[string]interface{}{
			"operation": "redis_get",
			"key":       key,
			"error":     err,
		})
		return "", fmt.Errorf("redis get %q: %w", key, ErrStorageFailed)
	}
	return val, nil
}

// Set stores a value with optional TTL. A ttl of zero means no expiration.
func (r *RedisStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.formatKey(key), value, ttl).Err(); err != nil {
		r.logger.Error("Redis set failed", map[string]interface{}{
			"operation": "redis_set",
			"key":       key,
			"error":     err,
		})
		return fmt.Errorf("redis set %q: %w", key, ErrStorageFailed)
	}
	return nil
}

// Delete removes a value
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.formatKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, ErrStorageFailed)
	}
	return nil
}

// Exists checks if a key exists
func (r *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.formatKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %q: %w", key, ErrStorageFailed)
	}
	return n > 0, nil
}

// HealthCheck verifies Redis connectivity
func (r *RedisStore) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
