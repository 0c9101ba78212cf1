// Package daemon coordinates the long-running archivist process.
//
// It wires configuration, the ledger, the job runner, and the optional admin
// API into a single lifecycle with flock-based locking so only one daemon runs
// per state directory. Claiming in the ledger is compare-and-swap, so a second
// worker started by hand (archivist worker run) cannot double-process a job;
// the lock only keeps two daemons from fighting over the same host.
//
// Keep orchestration logic here: ingestion lives in internal/ingest and job
// dispatch in internal/workflow, while the daemon focuses on startup,
// shutdown, and high level coordination.
package daemon
