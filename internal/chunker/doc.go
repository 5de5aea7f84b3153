// Package chunker divides extracted page text into overlapping passages for
// embedding and search.
//
// Pages are split independently with a recursive character splitter that
// prefers paragraph breaks, then line breaks, then spaces. Pieces are
// numbered in page order and then by sequence within the page; that global
// number becomes the passage index and, with the document ID, the passage ID.
//
// # Basic Usage
//
//	c, err := chunker.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	pieces, err := c.Chunk(pages)
//	for _, p := range pieces {
//	    fmt.Printf("passage %d: page %d, %d chars\n", p.Index, p.Page, len(p.Text))
//	}
//
// Empty pages contribute no passages but still advance the page number.
package chunker
