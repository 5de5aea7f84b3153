// Package index implements the passage index: embedded passages of every
// processed document, each carrying a copy of its document's metadata so
// searches can filter without consulting the document store.
//
// Two backends satisfy Index:
//   - sqlite: a passages table with the filter applied in the WHERE clause.
//     With the sqlite_vec build tag similarity is computed by
//     vec_distance_cosine; otherwise candidates are ranked in Go.
//   - badger: an embedded key-value store, keys "passage/<doc>/<index>".
//     The filter is applied while iterating, before ranking.
//
// Both backends replace a document's passages atomically on Upsert and
// rewrite mirrored metadata in a single transaction on UpdateMetadata.
package index
