// Package api hosts the status listener that lives for the duration of a run.
// Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/run for the state and summary of the current run.
package api
