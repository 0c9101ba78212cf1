// Package logs reads the daemon's JSON log file for the CLI.
//
// Tail returns the last N matching records, or the records appended after a
// byte offset, with bounded memory. Follow mode polls until a new record
// arrives or the wait expires. A trailing line without a newline is left for
// the next read so a record being written is never split.
//
// Records are decoded from the JSON handler's shape (ts, level, msg, plus
// attributes) and can be narrowed by job, level, component, or event type.
package logs
