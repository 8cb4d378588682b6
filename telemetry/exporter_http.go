package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pulsegate/pulsegate/core"
)

// HTTPExporterConfig configures the JSON ingest exporter.
type HTTPExporterConfig struct {
	// IngestURL is the endpoint that receives POSTed event batches.
	// Required.
	IngestURL string

	// ServiceName stamps every batch so one ingest endpoint can serve
	// multiple applications.
	ServiceName string

	// Headers are added to every request, e.g. an API key.
	Headers map[string]string

	// Timeout bounds each export request. Defaults to 10s. Ignored when
	// Client is set.
	Timeout time.Duration

	// Client overrides the default HTTP client. Useful for tests and for
	// callers that want to reuse a transport.
	Client *http.Client
}

// Validate checks the configuration.
func (c *HTTPExporterConfig) Validate() error {
	if c.IngestURL == "" {
		return fmt.Errorf("%w: IngestURL is required", core.ErrInvalidConfiguration)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: Timeout must be >= 0, got %v", core.ErrInvalidConfiguration, c.Timeout)
	}
	return nil
}

// HTTPExporter delivers events as JSON over HTTP POST. The request body
// is a batch envelope even though senders currently export one event at
// a time, so the ingest contract does not change if batching is added.
type HTTPExporter struct {
	config HTTPExporterConfig
	client *http.Client
}

// NewHTTPExporter creates an exporter for the given ingest endpoint.
func NewHTTPExporter(config HTTPExporterConfig) (*HTTPExporter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid HTTP exporter configuration: %w", err)
	}
	client := config.Client
	if client == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPExporter{config: config, client: client}, nil
}

// ingestBatch is the wire format POSTed to the ingest endpoint.
type ingestBatch struct {
	ServiceName string  `json:"service_name,omitempty"`
	Events      []Event `json:"events"`
}

// ExportAction posts an action event.
func (e *HTTPExporter) ExportAction(ctx context.Context, event Event) error {
	return e.post(ctx, event)
}

// ExportError posts an error event.
func (e *HTTPExporter) ExportError(ctx context.Context, event Event) error {
	return e.post(ctx, event)
}

func (e *HTTPExporter) post(ctx context.Context, event Event) error {
	body, err := json.Marshal(ingestBatch{
		ServiceName: e.config.ServiceName,
		Events:      []Event{event},
	})
	if err != nil {
		return fmt.Errorf("encoding ingest batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.IngestURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building ingest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range e.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to ingest endpoint: %w: %v", core.ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	// Drain so the transport can reuse the connection
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ingest endpoint returned HTTP %d: %w", resp.StatusCode, core.ErrRequestFailed)
	}
	return nil
}
