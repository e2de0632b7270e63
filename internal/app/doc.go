// Package app wires the gateway together and owns its lifecycle.
//
// # Initialization
//
// New builds components in dependency order:
//
//	1. OpenTelemetry providers and runtime metrics
//	2. Storage: optional Postgres pool, session directory, license store
//	3. Services: license checker, WebSocket hub, invalidation publisher,
//	   session manager, health service
//	4. Router and HTTP server
//
// A failure part way releases whatever was already opened.
//
// # Lifecycle
//
// Start binds the listener and starts the hub and publisher workers. Serve
// blocks until its context ends or the server fails. Stop, run once, stops
// accepting requests, drains queued invalidations within the configured
// drain timeout, closes gateway connections and then the pool and
// telemetry providers.
//
// Run combines the three and stops on SIGINT or SIGTERM:
//
//	application, err := app.NewApplication(ctx)
//	if err != nil {
//	    return err
//	}
//	return application.Run(ctx)
package app
