// Package ledger persists the metadata side of ingestion in SQLite or
// Postgres.
//
// The Store keeps the catalog (works, editions, segments), the asset
// registry with its segment attachments, and the job ledger that the
// workflow runner polls. Catalog and asset writes are native upserts keyed
// on natural identity, so rediscovering a segment or re-registering a
// storage key returns the existing row instead of failing.
//
// Jobs move queued -> running -> success|failed. ClaimJob only succeeds
// while a job is still queued, which lets several runners share one
// database without executing the same job twice.
//
// Schema changes ship as numbered files under migrations/<dialect>/ and are
// applied in order on Open.
package ledger
