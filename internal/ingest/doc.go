// Package ingest implements the asset ingestion pipeline.
//
// The Uploader persists one payload: it puts the bytes in the content store,
// registers the asset by storage key, and attaches it to its segment. Each
// step is an idempotent write, so the sequence is retried as a whole without
// ever re-sending bytes the store already accepted in the same call.
//
// The Orchestrator ingests one segment. It always writes a manifest of what
// the unit page offered, then walks images, subtitles, and texts strictly in
// that order, one item at a time, pacing image downloads. Individual item
// failures are counted; the run only fails when images were expected and none
// were stored.
//
// The Discoverer mirrors a work's unit list into works, editions, and
// segments, and the Batch driver turns an edition's unfinished segments into
// ingest jobs. Service wires all of them together and exposes the workflow
// handlers the job runner dispatches to.
package ingest
