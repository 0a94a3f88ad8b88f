// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - /sites, /blueprints, /jobs and /templates for the registry and job engine.
//   - /analytics/dashboard and /analytics/methods/performance for reporting.
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
