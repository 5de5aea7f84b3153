package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dshills/docingest-mcp/internal/embedder"
	"github.com/dshills/docingest-mcp/internal/index"
	"github.com/dshills/docingest-mcp/pkg/types"
)

// Paging bounds
const (
	DefaultLimit = 10
	MaxLimit     = 50

	DefaultCacheSize = 1000
	DefaultCacheTTL  = 15 * time.Minute
)

var (
	ErrEmptyQuery   = errors.New("query cannot be empty")
	ErrInvalidLimit = fmt.Errorf("limit must be between 1 and %d", MaxLimit)
	ErrNegativeSkip = errors.New("offset cannot be negative")
)

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Query  string
	Filter types.Filter
	// Limit defaults to DefaultLimit when zero
	Limit    int
	Offset   int
	UseCache bool // Whether to reuse cached query embeddings
}

// SearchResponse is one page of ranked passages
type SearchResponse struct {
	types.SearchPage
	Query    string        `json:"query"`
	Duration time.Duration `json:"duration"`
	CacheHit bool          `json:"cache_hit"`
}

type queryCache = expirable.LRU[[32]byte, []float32]

// Searcher embeds queries and runs filtered similarity search on the index
type Searcher struct {
	index    index.Index
	embedder embedder.Embedder
	// swapped whole by SetCacheTTL
	cache atomic.Pointer[queryCache]
}

// NewSearcher creates a new Searcher instance
func NewSearcher(idx index.Index, emb embedder.Embedder) *Searcher {
	s := &Searcher{index: idx, embedder: emb}
	s.cache.Store(newQueryCache(DefaultCacheTTL))
	return s
}

func newQueryCache(ttl time.Duration) *queryCache {
	return expirable.NewLRU[[32]byte, []float32](DefaultCacheSize, nil, ttl)
}

// Search embeds the query and returns one window of ranked passages.
// One extra passage is fetched past the window to report HasMore.
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	startTime := time.Now()

	if s.embedder == nil || s.index == nil {
		return nil, fmt.Errorf("searcher not initialized")
	}
	if err := validateRequest(&req); err != nil {
		return nil, err
	}

	vector, hit, err := s.queryVector(ctx, req)
	if err != nil {
		return nil, err
	}

	hits, err := s.index.Search(ctx, vector, req.Filter, req.Limit+1, req.Offset)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hasMore := len(hits) > req.Limit
	if hasMore {
		hits = hits[:req.Limit]
	}
	if hits == nil {
		hits = []types.SearchHit{}
	}

	return &SearchResponse{
		SearchPage: types.SearchPage{
			Hits:    hits,
			HasMore: hasMore,
			Limit:   req.Limit,
			Offset:  req.Offset,
		},
		Query:    req.Query,
		Duration: time.Since(startTime),
		CacheHit: hit,
	}, nil
}

// validateRequest normalizes defaults and rejects out-of-range parameters
func validateRequest(req *SearchRequest) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return ErrEmptyQuery
	}
	if req.Limit == 0 {
		req.Limit = DefaultLimit
	}
	if req.Limit < 1 || req.Limit > MaxLimit {
		return ErrInvalidLimit
	}
	if req.Offset < 0 {
		return ErrNegativeSkip
	}
	return ValidateFilter(req.Filter)
}

// ValidateFilter checks year bounds and document types
func ValidateFilter(f types.Filter) error {
	if f.MinYear != nil && f.MaxYear != nil && *f.MinYear > *f.MaxYear {
		return &types.ValidationError{Field: "year", Reason: "min_year is after max_year"}
	}
	for _, t := range f.DocumentTypes {
		if _, ok := types.ParseDocumentType(string(t)); !ok {
			return &types.ValidationError{Field: "document_types", Reason: "unknown document type " + string(t)}
		}
	}
	return nil
}

// queryVector returns the query embedding, from cache when allowed
func (s *Searcher) queryVector(ctx context.Context, req SearchRequest) ([]float32, bool, error) {
	key := computeQueryHash(s.embedder.Model(), req.Query)

	if req.UseCache {
		if v, ok := s.checkCache(key); ok {
			return v, true, nil
		}
	}

	vector, err := s.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, false, err
	}

	if req.UseCache {
		s.storeInCache(key, vector)
	}
	return vector, false, nil
}

// checkCache looks up a cached query embedding; expired entries miss
func (s *Searcher) checkCache(key [32]byte) ([]float32, bool) {
	return s.cache.Load().Get(key)
}

// storeInCache saves a copy of a query embedding
func (s *Searcher) storeInCache(key [32]byte, vector []float32) {
	s.cache.Load().Add(key, append([]float32(nil), vector...))
}

// computeQueryHash keys the cache by model and normalized query text
func computeQueryHash(model, query string) [32]byte {
	var data strings.Builder
	data.WriteString(model)
	data.WriteString("|")
	data.WriteString(strings.Join(strings.Fields(query), " "))
	return sha256.Sum256([]byte(data.String()))
}

// InvalidateCache drops every cached query embedding
func (s *Searcher) InvalidateCache() {
	s.cache.Load().Purge()
}

// CacheLen returns the number of cached query embeddings
func (s *Searcher) CacheLen() int {
	return s.cache.Load().Len()
}

// SetCacheTTL replaces the cache with an empty one whose entries live for ttl
func (s *Searcher) SetCacheTTL(ttl time.Duration) {
	s.cache.Store(newQueryCache(ttl))
}
