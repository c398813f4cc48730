// Package api serves job status and Prometheus metrics while a scrape runs.
// Routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /jobs lists checkpointed jobs.
//   - GET /jobs/{job_id} and /jobs/{job_id}/pages report one job.
package api
