package core

// Environment Variables - PulseGate SDK
const (
	// Logging
	EnvLogLevel  = "PULSEGATE_LOG_LEVEL"  // Minimum log level: DEBUG, INFO, WARN, ERROR
	EnvLogFormat = "PULSEGATE_LOG_FORMAT" // Log output format: "json" or "text"
	EnvDebug     = "PULSEGATE_DEBUG"      // "true" enables debug logging regardless of level

	// Telemetry Delivery
	EnvTelemetryEndpoint = "PULSEGATE_TELEMETRY_ENDPOINT" // Ingest endpoint override
	EnvServiceName       = "PULSEGATE_SERVICE_NAME"       // Service name override

	// Runtime Detection
	EnvKubernetesHost = "KUBERNETES_SERVICE_HOST" // Set by Kubernetes; switches log format to JSON
)
