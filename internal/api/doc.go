// Package api hosts the HTTP server, middleware, and REST handlers for the
// search service. Notable routes:
//   - POST /v1/search to submit a search job.
//   - GET /v1/search/status/{job_id} to poll a job owned by the caller.
//   - GET /v1/search/popular for suggested categories.
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//
// Every /v1 route requires the X-User-ID header set by the upstream auth layer.
package api
