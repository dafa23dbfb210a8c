// Package api hosts the HTTP trigger surface for operator access. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/adapters lists registered adapters and their tables.
//   - POST /v1/runs/{adapter} runs one adapter and returns its summary.
package api
