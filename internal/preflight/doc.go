// Package preflight provides readiness checks for the filesystem paths,
// stores, and remote services the worker depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll on start and logs every failed check, so an
//     unwritable storage root or unreachable ledger shows up before the first
//     job fails on it.
//   - The CLI "archivist doctor" command prints every result and exits
//     non-zero when one fails.
//
// Remote endpoint checks are opt-in because they leave the machine.
package preflight
