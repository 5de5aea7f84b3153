package embedder

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/docingest-mcp/pkg/types"
)

// Common errors
var (
	ErrProviderFailed    = errors.New("embedding provider failed")
	ErrUnsupportedModel  = errors.New("unsupported model")
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrNoProviderEnabled = errors.New("no embedding provider configured")
)

// Embedder turns passage and query text into vectors. Failures other than
// context cancellation are reported as *types.EmbeddingError.
type Embedder interface {
	// EmbedPassages returns one vector per text, in order. Texts are sent
	// to the provider in batches; already embedded texts come from cache.
	EmbedPassages(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a search query
	EmbedQuery(ctx context.Context, query string) ([]float32, error)

	// Dimension returns the vector length, zero until known
	Dimension() int

	Provider() string
	Model() string
	Close() error
}

// inputKind tells providers with asymmetric models what the text is for
type inputKind int

const (
	kindPassage inputKind = iota
	kindQuery
)

// batchFunc embeds one provider-sized batch
type batchFunc func(ctx context.Context, texts []string, kind inputKind) ([][]float32, error)

// pipeline holds what every provider shares: passage caching, batch
// splitting and error classification around a batchFunc.
type pipeline struct {
	provider  string
	model     string
	batchSize int
	cache     *Cache
	embed     batchFunc
}

func (p *pipeline) passages(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		if text == "" {
			return nil, p.fail(ctx, fmt.Errorf("%w: passage %d", ErrEmptyText, i))
		}
		if v, ok := p.cache.get(p.model, text); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	for start := 0; start < len(missTexts); start += p.batchSize {
		end := min(start+p.batchSize, len(missTexts))
		vectors, err := p.call(ctx, missTexts[start:end], kindPassage)
		if err != nil {
			return nil, err
		}
		for j, v := range vectors {
			i := missIdx[start+j]
			p.cache.set(p.model, texts[i], v)
			out[i] = v
		}
	}
	return out, nil
}

func (p *pipeline) query(ctx context.Context, query string) ([]float32, error) {
	if query == "" {
		return nil, p.fail(ctx, ErrEmptyText)
	}
	vectors, err := p.call(ctx, []string{query}, kindQuery)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// call runs one batch and checks the provider returned a vector per text
func (p *pipeline) call(ctx context.Context, texts []string, kind inputKind) ([][]float32, error) {
	vectors, err := p.embed(ctx, texts, kind)
	if err != nil {
		return nil, p.fail(ctx, err)
	}
	if len(vectors) != len(texts) {
		return nil, p.fail(ctx, fmt.Errorf("got %d vectors for %d texts", len(vectors), len(texts)))
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, p.fail(ctx, fmt.Errorf("empty vector for text %d", i))
		}
	}
	return vectors, nil
}

// fail returns the context error when the caller gave up, and an
// EmbeddingError otherwise
func (p *pipeline) fail(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, ErrEmptyText) {
		return &types.EmbeddingError{Err: err}
	}
	return &types.EmbeddingError{Err: fmt.Errorf("%w: %s: %v", ErrProviderFailed, p.provider, err)}
}

// Cache keeps passage vectors by model and content, so re-embedding an
// unchanged passage on reparse makes no provider call. A nil Cache is a
// valid, always-missing cache.
type Cache struct {
	lru *lru.Cache[[32]byte, []float32]
}

// NewCache creates a passage cache holding up to size vectors
func NewCache(size int) *Cache {
	if size <= 0 {
		size = 10000
	}
	c, _ := lru.New[[32]byte, []float32](size)
	return &Cache{lru: c}
}

func cacheKey(model, text string) [32]byte {
	return sha256.Sum256([]byte(model + "\x00" + text))
}

func (c *Cache) get(model, text string) ([]float32, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.lru.Get(cacheKey(model, text))
	if !ok {
		return nil, false
	}
	return append([]float32(nil), v...), true
}

func (c *Cache) set(model, text string, v []float32) {
	if c == nil {
		return
	}
	c.lru.Add(cacheKey(model, text), append([]float32(nil), v...))
}

// Len returns the number of cached vectors
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
