// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/sources, /v1/runs, /v1/runs/{run_id} and /v1/ledger for run
//     history and per-locator state.
//   - POST /v1/sources/{source}/crawl to queue a crawl and
//     POST /v1/sources/{source}/scrape?url= to ingest one document now.
package api
