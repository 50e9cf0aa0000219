// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/tasks to list configured crawl tasks.
//   - POST /v1/tasks/{name}/runs to start a run, GET /v1/runs/{id} to follow it.
package api
