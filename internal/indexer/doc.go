// Package indexer coordinates the document ingestion pipeline and keeps the
// document store and the passage index consistent.
//
// # Basic Usage
//
//	ix, err := indexer.New(store, idx, emb,
//	    indexer.WithEvents(bus),
//	    indexer.WithArchive(arch),
//	    indexer.WithPoolSize(4),
//	)
//	defer ix.Release()
//
//	doc, queued, err := ix.Submit(ctx, "/inbox/paper.pdf") // returns once scheduled
//	doc, out, err := ix.Ingest(ctx, "/inbox/paper.pdf") // runs inline
//
// # Pipeline
//
// Process executes, for one document:
//
//  1. Take the per-document lock, or report AlreadyInProgress and stop
//  2. Re-check the blacklist; blacklisted documents are never processed
//  3. Record the source file's modification time, then extract page texts
//  4. Chunk pages into overlapping passages in page, then sequence order
//  5. Embed every passage
//  6. Upsert the full passage set with the document's metadata
//  7. Record processed status, page and passage counts
//
// A status event is published at the start of processing and on success or
// failure. The lock is released on every exit path.
//
// # Consistency
//
// The store row is the source of truth. Index writes are derived from it
// and idempotent: Upsert replaces a document's passages wholesale, and
// UpdateMetadata rewrites the mirrored metadata on every passage. Any
// divergence is repaired by reprocessing the document.
//
// Metadata edits and deletes take the same per-document lock as pipeline
// runs. They wait briefly for a running pipeline and then give up with
// types.ErrAlreadyInProgress.
//
// # Failures
//
// Extraction, embedding and index failures mark the document failed with
// an error note and are reported through the Outcome, never as an error,
// so batch callers keep going. The document stays resubmittable.
//
// # Rebuild
//
// Rebuild repopulates an empty index from every processed, non-blacklisted
// document in the store, with bounded concurrency.
package indexer
