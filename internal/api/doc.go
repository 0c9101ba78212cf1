// Package api exposes the job ledger over an authenticated HTTP interface.
//
// # Key Types
//
// Job: transport representation of a ledger job with its decoded input and
// output documents.
//
// RunnerStatus: runner state, job counts, and per-handler health.
//
// TokenService: issues and verifies HS256 bearer tokens.
//
// # Routes
//
//	GET  /health                 runner handler health and ledger ping (no auth)
//	GET  /jobs?status=&kind=     list jobs
//	GET  /jobs/stats             counts per status
//	GET  /jobs/:id               describe one job
//	POST /jobs                   enqueue a validated payload
//	POST /jobs/:id/retry         requeue a failed job
//	GET  /segments/:id/assets    assets attached to a segment
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Ledger enums are exposed as lowercase strings
// and timestamps as RFC3339 with milliseconds. Job input and output are passed
// through as json.RawMessage to avoid double encoding.
package api
