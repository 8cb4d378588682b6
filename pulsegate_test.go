package pulsegate_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/pulsegate/pulsegate"
	"github.com/pulsegate/pulsegate/core"
)

// TestBootstrapDelivery tests the one-call pipeline end to end
func TestBootstrapDelivery(t *testing.T) {
	var received atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	d, err := pulsegate.Bootstrap(pulsegate.Config{
		Enabled:     true,
		ServiceName: "root-test",
		Endpoint:    server.URL,
	}, nil)
	if err != nil {
		t.Fatalf("Failed to bootstrap pipeline: %v", err)
	}
	defer d.Close(context.Background())

	d.AddAction("checkout", map[string]interface{}{"step": "payment"})

	if got := received.Load(); got != 1 {
		t.Errorf("Expected 1 delivered event, got %d", got)
	}
	if stats := d.Stats(); stats.Emitted != 1 {
		t.Errorf("Expected 1 emitted event, got %d", stats.Emitted)
	}
}

// TestBootstrapRequiresEndpoint tests that a missing endpoint is rejected
func TestBootstrapRequiresEndpoint(t *testing.T) {
	_, err := pulsegate.Bootstrap(pulsegate.Config{Enabled: true}, nil)
	if err == nil {
		t.Fatal("Expected an error for a missing endpoint")
	}
}

// TestBootstrapBuffersOffline tests that events queue while the monitor
// reports offline and flush on reconnect
func TestBootstrapBuffersOffline(t *testing.T) {
	var received atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	monitor := pulsegate.NewMonitor()
	monitor.SetOnline(false)

	d, err := pulsegate.Bootstrap(pulsegate.Config{
		Enabled:     true,
		ServiceName: "root-test",
		Endpoint:    server.URL,
	}, monitor)
	if err != nil {
		t.Fatalf("Failed to bootstrap pipeline: %v", err)
	}
	defer d.Close(context.Background())

	d.AddAction("click", nil)
	d.AddAction("scroll", nil)

	if got := received.Load(); got != 0 {
		t.Errorf("Expected 0 deliveries while offline, got %d", got)
	}

	monitor.SetOnline(true)

	if got := received.Load(); got != 2 {
		t.Errorf("Expected 2 deliveries after reconnect, got %d", got)
	}
}

// TestGuardedClientThroughFacade builds the protected HTTP client from
// facade exports alone and runs a request through it
func TestGuardedClientThroughFacade(t *testing.T) {
	guard, err := pulsegate.CreateRateGuard(pulsegate.ProtectionDependencies{Logger: &core.NoOpLogger{}})
	if err != nil {
		t.Fatalf("Failed to create rate guard: %v", err)
	}
	breaker, err := pulsegate.CreateBreaker(pulsegate.ProtectionDependencies{Logger: &core.NoOpLogger{}})
	if err != nil {
		t.Fatalf("Failed to create circuit breaker: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := pulsegate.NewGuardedClient(guard, breaker)
	resp, err := client.Get(server.URL + "/ping")
	if err != nil {
		t.Fatalf("Guarded request failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if breaker.State("GET /ping") != pulsegate.StateClosed {
		t.Errorf("Expected closed circuit after a success, got %v", breaker.State("GET /ping"))
	}
}
