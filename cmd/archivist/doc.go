// Command archivist is the operator CLI for the content-acquisition worker.
//
// It discovers the units of a work from a source page, ingests segment
// payloads into the content store, manages the job ledger, and runs the
// long-lived worker daemon that drains queued jobs and serves the admin API.
//
// Commands that touch the ledger open it directly from the configured
// driver; no daemon needs to be running for discover, ingest, or job
// inspection. The daemon's flock guards against two daemons draining the
// same ledger, and job claims are compare-and-set so a CLI run alongside a
// daemon never executes the same job twice.
package main
