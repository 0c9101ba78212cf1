// Package workflow drives queued ledger jobs through their registered
// handlers.
//
// The Runner polls the ledger for queued jobs in FIFO order, claims each one
// with a compare-and-swap status update, decodes the tagged payload, and hands
// it to the Handler registered for its kind. Handlers own the terminal
// transition; the runner only steps in when a handler returns while its job is
// still running, so no row is left stranded.
//
// Run polls continuously and sleeps when the queue is idle or the ledger is
// unreachable. RunOnce performs a single poll for cron-style use. Stop and
// context cancellation are observed between polls; a job already claimed runs
// on a detached context and always reaches a terminal state.
package workflow
