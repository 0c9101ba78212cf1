// Package logging builds the slog loggers used across archivist.
//
// Console output is a compact single-line format with optional colour when
// attached to a terminal; JSON output renames the standard keys to ts, level,
// msg, and source. Daemon processes additionally tee a JSON copy to the log
// directory. Helpers in this package standardise field names (job_id,
// event_type, error_hint) so log queries stay uniform between components.
package logging
