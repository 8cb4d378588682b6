package telemetry

import (
	"encoding/json"
	"net/http"
	"time"
)

// Health is a point-in-time view of the delivery pipeline, shaped for
// diagnostics endpoints and support bundles.
type Health struct {
	Initialized bool   `json:"initialized"`
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"service_name,omitempty"`
	HasSender   bool   `json:"has_sender"`
	QueueDepth  int    `json:"queue_depth"`
	Emitted     int64  `json:"emitted"`
	SampledOut  int64  `json:"sampled_out"`
	Dropped     int64  `json:"dropped"`
	Failed      int64  `json:"failed"`
	LastError   string `json:"last_error,omitempty"`
	Uptime      string `json:"uptime,omitempty"`
}

// Health reports the pipeline state. QueueDepth is -1 when the sender
// does not buffer. Safe on a nil dispatcher, which reports an
// uninitialized pipeline.
func (d *Dispatcher) Health() Health {
	if d == nil {
		return Health{QueueDepth: -1}
	}

	stats := d.Stats()
	depth := -1
	if q, ok := d.sender.(interface{ Len() int }); ok {
		depth = q.Len()
	}

	return Health{
		Initialized: true,
		Enabled:     d.enabled.Load(),
		ServiceName: d.config.ServiceName,
		HasSender:   d.sender != nil,
		QueueDepth:  depth,
		Emitted:     stats.Emitted,
		SampledOut:  stats.SampledOut,
		Dropped:     stats.Dropped,
		Failed:      stats.Failed,
		LastError:   stats.LastError,
		Uptime:      time.Since(d.started).String(),
	}
}

// HealthHandler serves Health as JSON for a host application's
// diagnostics mux. A disabled or uninitialized pipeline answers 503; a
// pipeline where more than 10% of deliveries failed answers 206.
func (d *Dispatcher) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		health := d.Health()
		w.Header().Set("Content-Type", "application/json")

		switch {
		case !health.Initialized || !health.Enabled:
			w.WriteHeader(http.StatusServiceUnavailable)
		case health.Failed > 0 && health.Emitted == 0:
			w.WriteHeader(http.StatusServiceUnavailable)
		case float64(health.Failed)/float64(health.Emitted+1) > 0.1:
			w.WriteHeader(http.StatusPartialContent)
		default:
			w.WriteHeader(http.StatusOK)
		}

		_ = json.NewEncoder(w).Encode(health)
	})
}
