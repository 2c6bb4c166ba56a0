// Package api hosts the status HTTP server that runs alongside a crawl.
// Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/run for the live run summary.
//   - GET /v1/run/failures for the items and pages that were given up on.
package api
