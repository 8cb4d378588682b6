package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pulsegate/pulsegate/core"
)

// Config configures the telemetry pipeline.
type Config struct {
	// Enabled gates all emission. The dispatcher re-reads its runtime
	// copy of this flag on every call.
	Enabled bool `yaml:"enabled"`

	// ServiceName identifies this application to the delivery backend.
	ServiceName string `yaml:"service_name"`

	// Endpoint is the delivery target: an ingest URL for the HTTP
	// exporter, a collector host:port for the OTLP exporter.
	Endpoint string `yaml:"endpoint"`

	// SampleRate is the default percentage of events admitted, 0-100.
	// Zero means "use the default" (100); disable emission with Enabled,
	// not a zero rate.
	SampleRate float64 `yaml:"sample_rate"`

	// Queue configures the offline buffering strategies.
	Queue QueueConfig `yaml:"queue"`
}

// QueueConfig is the YAML-facing shape of the queue knobs, shared by the
// in-memory and persistent strategies.
type QueueConfig struct {
	// MaxBuffered bounds the queue by event count. Zero means the
	// strategy default.
	MaxBuffered int `yaml:"max_buffered"`

	// ByteCap bounds the persisted snapshot size in bytes. Zero means
	// the strategy default. Ignored by the in-memory queue.
	ByteCap int `yaml:"byte_cap"`

	// StorageKey is where the persistent queue lives in the store.
	StorageKey string `yaml:"storage_key"`

	// WriteDebounceMs delays persistence writes so mutation bursts
	// coalesce. Zero means the strategy default.
	WriteDebounceMs int `yaml:"write_debounce_ms"`

	// FlushOnInit drains recovered events right after reload when
	// online.
	FlushOnInit bool `yaml:"flush_on_init"`
}

// Debounce returns WriteDebounceMs as a time.Duration.
func (q QueueConfig) Debounce() time.Duration {
	return time.Duration(q.WriteDebounceMs) * time.Millisecond
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.SampleRate < 0 || c.SampleRate > 100 {
		return fmt.Errorf("%w: SampleRate must be between 0 and 100, got %v",
			core.ErrInvalidConfiguration, c.SampleRate)
	}
	if c.Queue.MaxBuffered < 0 {
		return fmt.Errorf("%w: Queue.MaxBuffered must be >= 0, got %d",
			core.ErrInvalidConfiguration, c.Queue.MaxBuffered)
	}
	if c.Queue.ByteCap < 0 {
		return fmt.Errorf("%w: Queue.ByteCap must be >= 0, got %d",
			core.ErrInvalidConfiguration, c.Queue.ByteCap)
	}
	if c.Queue.WriteDebounceMs < 0 {
		return fmt.Errorf("%w: Queue.WriteDebounceMs must be >= 0, got %d",
			core.ErrInvalidConfiguration, c.Queue.WriteDebounceMs)
	}
	return nil
}

// Profile represents a pre-configured telemetry profile
type Profile string

const (
	ProfileDevelopment Profile = "development"
	ProfileStaging     Profile = "staging"
	ProfileProduction  Profile = "production"
)

// Profiles contains pre-configured telemetry profiles
var Profiles = map[Profile]Config{
	ProfileDevelopment: {
		Enabled:    true,
		Endpoint:   "localhost:4318",
		SampleRate: 100,
		Queue: QueueConfig{
			MaxBuffered:     50,
			ByteCap:         64 * 1024,
			WriteDebounceMs: 250,
			FlushOnInit:     true,
		},
	},
	ProfileStaging: {
		Enabled:    true,
		Endpoint:   "otel-collector.staging:4318",
		SampleRate: 50,
		Queue: QueueConfig{
			MaxBuffered:     100,
			ByteCap:         256 * 1024,
			WriteDebounceMs: 500,
			FlushOnInit:     true,
		},
	},
	ProfileProduction: {
		Enabled:    true,
		Endpoint:   "otel-collector.prod:4318", // Override with env var
		SampleRate: 10,
		Queue: QueueConfig{
			MaxBuffered:     200,
			ByteCap:         512 * 1024,
			WriteDebounceMs: 1000,
			FlushOnInit:     true,
		},
	},
}

// UseProfile returns a configuration based on a profile name
func UseProfile(profile Profile) Config {
	if config, ok := Profiles[profile]; ok {
		return config
	}
	// Default to development profile
	return Profiles[ProfileDevelopment]
}

// WithOverrides applies overrides to a config
func (c Config) WithOverrides(overrides Config) Config {
	// Override non-zero values
	if overrides.Enabled {
		c.Enabled = overrides.Enabled
	}
	if overrides.ServiceName != "" {
		c.ServiceName = overrides.ServiceName
	}
	if overrides.Endpoint != "" {
		c.Endpoint = overrides.Endpoint
	}
	if overrides.SampleRate > 0 {
		c.SampleRate = overrides.SampleRate
	}
	if overrides.Queue.MaxBuffered > 0 {
		c.Queue.MaxBuffered = overrides.Queue.MaxBuffered
	}
	if overrides.Queue.ByteCap > 0 {
		c.Queue.ByteCap = overrides.Queue.ByteCap
	}
	if overrides.Queue.StorageKey != "" {
		c.Queue.StorageKey = overrides.Queue.StorageKey
	}
	if overrides.Queue.WriteDebounceMs > 0 {
		c.Queue.WriteDebounceMs = overrides.Queue.WriteDebounceMs
	}
	if overrides.Queue.FlushOnInit {
		c.Queue.FlushOnInit = overrides.Queue.FlushOnInit
	}

	return c
}

// LoadConfig reads a YAML config file and applies environment overrides.
// PULSEGATE_TELEMETRY_ENDPOINT and PULSEGATE_SERVICE_NAME win over file
// values, so a deployment can repoint delivery without editing files.
func LoadConfig(path string) (Config, error) {
	// Clean the path to prevent directory traversal
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".yaml" && ext != ".yml" {
		return Config{}, fmt.Errorf("unsupported config file extension %s: %w",
			ext, core.ErrInvalidConfiguration)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file %s: %w: %v",
			cleanPath, core.ErrInvalidConfiguration, err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(core.EnvTelemetryEndpoint); v != "" {
		cfg.Endpoint = v
	}
	if v := os.Getenv(core.EnvServiceName); v != "" {
		cfg.ServiceName = v
	}
}
