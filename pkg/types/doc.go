// Package types provides the shared data model for docingest.
//
// A Document is the unit of ingestion and the store-of-record row; it owns
// zero or more Passages, which live in the passage index and carry a copy of
// the document's Metadata taken at the last sync:
//
//	doc := &types.Document{Filename: "smith_2021.pdf", Status: types.StatusUploaded}
//	p := types.Passage{
//	    ID:         types.PassageID(doc.ID, 0),
//	    DocumentID: doc.ID,
//	    Page:       1,
//	}
//
// Metadata edits are validated before they reach either store:
//
//	if err := meta.Validate(); err != nil {
//	    // *types.ValidationError
//	}
//
// # Filters
//
// Filter is a conjunction of predicates over mirrored metadata. Index backends
// apply it before ranking, so a selective filter never shrinks the result set
// below what matches.
//
// # Errors
//
// ExtractionError and EmbeddingError are pipeline failures recorded on the
// document. ValidationError is returned synchronously from metadata updates.
// ErrAlreadyInProgress is a no-op signal, not a failure.
package types
