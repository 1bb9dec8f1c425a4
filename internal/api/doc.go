// Package api hosts the HTTP server, middleware, and handlers. Routes:
//   - POST /api/fly/take-screenshot acknowledges a capture and queues it.
//   - GET /healthz and /readyz for platform probes.
//   - GET /metrics for Prometheus scraping.
package api
