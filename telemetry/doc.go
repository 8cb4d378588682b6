/*
Package telemetry dispatches UX telemetry events from an instrumented
client application to a delivery backend, staying harmless to the host
app no matter what the backend does.

Architecture Overview:

The package is built from three layers, composed explicitly rather than
discovered through globals:

 1. Dispatch Layer - Dispatcher with AddAction/AddError, the sole exit
    points for all events
 2. Strategy Layer - Sender implementations deciding when events move:
    direct (ExporterSender), in-memory buffered (QueuedSender), or
    store-backed buffered (PersistentSender)
 3. Delivery Layer - Exporter implementations deciding how events leave
    the process: JSON POST (HTTPExporter) or OpenTelemetry metrics
    (OTelExporter)

Thread Safety:

All public functions are safe for concurrent use. The dispatcher's
enabled flag and health counters are atomics; queue mutations are
mutex-guarded; fan-out callbacks run outside locks.

Design Principles:

 1. Fail-Safe - a panic or delivery failure inside the pipeline is
    counted and swallowed, never surfaced to the caller
 2. Explicit Composition - the sender is injected once at construction;
    there is no global registry and no runtime function swapping
 3. Best-Effort Durability - offline events are buffered, and with
    PersistentSender survive restarts, but delivery is at-least-once
    and bounded by count and byte caps

Usage:

Compose the pipeline once at startup:

	store := core.NewFileStore("/var/lib/myapp/telemetry.json")
	monitor := telemetry.NewMonitor()
	exporter, _ := telemetry.NewHTTPExporter(telemetry.HTTPExporterConfig{
	    IngestURL:   "https://ingest.example.com/v1/events",
	    ServiceName: "my-app",
	})
	sender, _ := telemetry.NewPersistentSender(ctx, exporter, telemetry.PersistentSenderConfig{
	    Store:        store,
	    Connectivity: monitor,
	    Notifier:     monitor,
	    FlushOnInit:  true,
	})
	dispatcher, _ := telemetry.NewDispatcher(telemetry.UseProfile(telemetry.ProfileProduction), sender)

Then record events from anywhere:

	dispatcher.AddAction("checkout_submitted", map[string]interface{}{"items": 3})
	dispatcher.AddError(err, map[string]interface{}{"screen": "checkout"})

Feed connectivity signals as the host app learns them:

	monitor.SetOnline(false) // network lost: events buffer
	monitor.SetOnline(true)  // network back: queue flushes in order
	monitor.NotifyVisible()  // app foregrounded: another flush attempt

Configuration Profiles:

Three presets cover the common deployments:
  - ProfileDevelopment: full sampling, small queue, fast writes
  - ProfileStaging: half sampling, standard queue
  - ProfileProduction: 10% sampling, large queue, slow writes
*/
package telemetry
