// Package services defines shared utilities consumed by the job handlers and
// the remote integrations they call.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper, so callers can decide
//     between retrying an operation and failing the job outright.
package services
