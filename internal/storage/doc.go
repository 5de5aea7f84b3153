// Package storage provides the relational store of record for docingest.
//
// The store manages:
//   - One row per document: lifecycle status, counts, source path and mtime
//   - Editable metadata (publication year, authors, document type, title)
//   - The filename blacklist
//
// The store is the source of truth for metadata and status. The passage index
// is derived from it and can always be repaired by replaying rows.
//
// # Database Schema
//
// Tables:
//   - documents: document rows, unique by filename
//   - blacklist: excluded filenames with an optional reason
//   - schema_version: applied migrations (semantic versions)
//
// # Basic Usage
//
//	store, err := storage.Open(ctx, "/var/lib/docingest/documents.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	doc := &types.Document{Filename: "smith_2021.pdf", Path: path}
//	if err := store.CreateDocument(ctx, doc); err != nil {
//	    return err
//	}
//
// A DSN starting with postgres:// opens PostgreSQL through lib/pq instead of
// SQLite. Queries are written once with ? placeholders and rebound per dialect.
//
// # Transactions
//
// Use transactions when a read decides a write:
//
//	tx, err := store.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	if _, err := tx.GetDocumentByFilename(ctx, name); errors.Is(err, storage.ErrNotFound) {
//	    _ = tx.CreateDocument(ctx, doc)
//	}
//	return tx.Commit()
//
// SQLite runs with a single open connection, so code holding a Tx must not
// call the Store outside of it until it commits or rolls back.
//
// # Build Modes
//
// The SQLite driver is selected at build time:
//   - default / purego: modernc.org/sqlite, no C toolchain needed
//   - sqlite_vec tag: github.com/mattn/go-sqlite3 with the sqlite-vec extension
package storage
