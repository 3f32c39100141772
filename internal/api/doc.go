// Package api hosts the HTTP server, middleware, and handlers for the agent.
// Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/v1/stream starts a run and relays its events as server-sent
//     events until an "event: close" frame.
//   - GET /api/v1/download/{filename} serves a finished run's CSV.
//   - POST /api/v1/runs/{run_id}/stop stops an active run.
//   - GET /api/v1/runs and /api/v1/runs/{run_id} report run history via the
//     store.RunRepository interface.
package api
