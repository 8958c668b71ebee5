// Package api hosts the operational HTTP endpoints served while an archive run
// is in progress:
//   - GET /healthz reports that the process is up.
//   - GET /readyz runs the configured readiness check (the archive store).
//   - GET /metrics exposes Prometheus collectors.
package api
