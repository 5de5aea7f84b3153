// Package searcher runs semantic passage search over the passage index.
//
// A query is embedded with the same model used at ingestion and compared
// against every passage that satisfies the metadata filter. Results are
// ranked by cosine similarity and returned one window at a time.
//
// # Basic Usage
//
//	s := searcher.NewSearcher(idx, emb)
//
//	resp, err := s.Search(ctx, searcher.SearchRequest{
//	    Query:  "vector search recall",
//	    Filter: types.Filter{MinYear: &from, Author: "lovelace"},
//	    Limit:  10,
//	})
//
//	for _, hit := range resp.Hits {
//	    fmt.Printf("%.3f %s p.%d\n", hit.Score, hit.Passage.Source, hit.Passage.Page)
//	}
//
// # Paging
//
// Limit defaults to 10 and may not exceed 50. Search fetches one passage
// past the window so HasMore is exact without a separate count.
//
// # Caching
//
// With UseCache set, query embeddings are kept in an LRU cache keyed by
// model and whitespace-normalized query text. Entries expire after
// DefaultCacheTTL. Results themselves are never cached, so metadata edits
// are visible to the next search.
package searcher
