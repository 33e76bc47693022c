// Package api implements the HTTP REST API and WebSocket server for the
// historian.
//
// This package provides:
//   - REST endpoints for browsing devices, metric definitions, and values
//   - Recency status classification on devices and metrics
//   - WebSocket hub for real-time commit broadcasts
//   - Middleware stack (request ID, logging, recovery, CORS)
//   - TLS support for production deployments
//
// # Architecture
//
// The server is read-only over the historian's SQLite store. Ingestion
// happens elsewhere; this surface exists for dashboards and operators.
// The WebSocket hub receives commit summaries from the ingestion pipeline
// and relays them to subscribed clients on the "ingest.commit" channel.
//
// # Lifecycle
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple
// goroutines.
package api
