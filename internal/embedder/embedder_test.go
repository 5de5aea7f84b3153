package embedder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/docingest-mcp/pkg/types"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestLocalProvider(t *testing.T) {
	cache := NewCache(100)
	p, err := NewLocalProvider(cache)
	require.NoError(t, err)
	defer p.Close()
	ctx := context.Background()

	assert.Equal(t, LocalDimension, p.Dimension())
	assert.Equal(t, ProviderLocal, p.Provider())
	assert.Equal(t, DefaultLocalModel, p.Model())

	vectors, err := p.EmbedPassages(ctx, []string{
		"neural networks for document retrieval",
		"document retrieval with neural networks",
		"baking sourdough bread at home",
		"!!!",
	})
	require.NoError(t, err)
	require.Len(t, vectors, 4)
	assert.Len(t, vectors[0], LocalDimension)
	assert.Greater(t, cosine(vectors[0], vectors[1]), cosine(vectors[0], vectors[2]))
	assert.NotEqual(t, make([]float32, LocalDimension), vectors[3])
	assert.Equal(t, 4, cache.Len())

	q, err := p.EmbedQuery(ctx, "neural networks for document retrieval")
	require.NoError(t, err)
	assert.Equal(t, vectors[0], q, "queries and passages share a space")
	assert.Equal(t, 4, cache.Len(), "queries are not cached")

	assert.InDelta(t, 1.0, cosine(q, q), 1e-6)
}

// countingBatch records every batch it is asked to embed
type countingBatch struct {
	batches [][]string
	kinds   []inputKind
	fail    error
}

func (c *countingBatch) embed(ctx context.Context, texts []string, kind inputKind) ([][]float32, error) {
	c.batches = append(c.batches, append([]string(nil), texts...))
	c.kinds = append(c.kinds, kind)
	if c.fail != nil {
		return nil, c.fail
	}
	return hashBatch(ctx, texts, kind)
}

func newTestPipeline(c *countingBatch, batchSize int, cache *Cache) *pipeline {
	return &pipeline{provider: "test", model: "m", batchSize: batchSize, cache: cache, embed: c.embed}
}

func TestPassagesBatching(t *testing.T) {
	ctx := context.Background()
	texts := make([]string, 25)
	for i := range texts {
		texts[i] = fmt.Sprintf("passage number %d", i)
	}

	c := &countingBatch{}
	p := newTestPipeline(c, 10, NewCache(100))

	vectors, err := p.passages(ctx, texts)
	require.NoError(t, err)
	require.Len(t, vectors, len(texts))
	require.Len(t, c.batches, 3)
	assert.Len(t, c.batches[2], 5)
	for _, k := range c.kinds {
		assert.Equal(t, kindPassage, k)
	}
	assert.Equal(t, hashEmbedding(texts[24]), vectors[24], "order is preserved across batches")

	t.Run("cached texts skip the provider", func(t *testing.T) {
		c.batches = nil
		mixed := []string{texts[3], "a new passage", texts[7]}
		got, err := p.passages(ctx, mixed)
		require.NoError(t, err)
		require.Len(t, c.batches, 1)
		assert.Equal(t, []string{"a new passage"}, c.batches[0])
		assert.Equal(t, vectors[3], got[0])
		assert.Equal(t, vectors[7], got[2])
	})

	t.Run("cached vectors are copies", func(t *testing.T) {
		got, err := p.passages(ctx, texts[:1])
		require.NoError(t, err)
		got[0][0] = 42
		again, err := p.passages(ctx, texts[:1])
		require.NoError(t, err)
		assert.NotEqual(t, float32(42), again[0][0])
	})

	t.Run("no texts", func(t *testing.T) {
		got, err := p.passages(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestPipelineErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("provider failure is an EmbeddingError", func(t *testing.T) {
		c := &countingBatch{fail: errors.New("model offline")}
		p := newTestPipeline(c, 2, nil)

		_, err := p.passages(ctx, []string{"a", "b", "c", "d"})
		var ee *types.EmbeddingError
		require.True(t, errors.As(err, &ee))
		assert.ErrorIs(t, err, ErrProviderFailed)
		assert.Contains(t, err.Error(), "model offline")
		assert.Len(t, c.batches, 1, "stops at the first failing batch")

		_, err = p.query(ctx, "q")
		require.True(t, errors.As(err, &ee))
		assert.Equal(t, []inputKind{kindPassage, kindQuery}, c.kinds)
	})

	t.Run("empty text", func(t *testing.T) {
		c := &countingBatch{}
		p := newTestPipeline(c, 2, nil)

		_, err := p.passages(ctx, []string{"a", ""})
		var ee *types.EmbeddingError
		require.True(t, errors.As(err, &ee))
		assert.ErrorIs(t, err, ErrEmptyText)
		assert.NotErrorIs(t, err, ErrProviderFailed)

		_, err = p.query(ctx, "")
		assert.ErrorIs(t, err, ErrEmptyText)
		assert.Empty(t, c.batches)
	})

	t.Run("short answer", func(t *testing.T) {
		p := &pipeline{provider: "test", model: "m", batchSize: 10, embed: func(context.Context, []string, inputKind) ([][]float32, error) {
			return [][]float32{{1}}, nil
		}}
		_, err := p.passages(ctx, []string{"a", "b"})
		assert.ErrorIs(t, err, ErrProviderFailed)
		assert.Contains(t, err.Error(), "got 1 vectors for 2 texts")
	})

	t.Run("missing vector", func(t *testing.T) {
		p := &pipeline{provider: "test", model: "m", batchSize: 10, embed: func(context.Context, []string, inputKind) ([][]float32, error) {
			return [][]float32{{1}, nil}, nil
		}}
		_, err := p.passages(ctx, []string{"a", "b"})
		assert.ErrorIs(t, err, ErrProviderFailed)
	})

	t.Run("cancellation is returned as is", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		p, err := NewLocalProvider(nil)
		require.NoError(t, err)

		_, err = p.EmbedPassages(cctx, []string{"a"})
		assert.ErrorIs(t, err, context.Canceled)
		var ee *types.EmbeddingError
		assert.False(t, errors.As(err, &ee))
	})
}

func TestCache(t *testing.T) {
	cache := NewCache(2)
	cache.set("m", "a", []float32{1, 2, 3})

	got, ok := cache.get("m", "a")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, got)

	_, ok = cache.get("other-model", "a")
	assert.False(t, ok, "entries are scoped to the model")

	cache.set("m", "b", []float32{1})
	cache.set("m", "c", []float32{1})
	assert.Equal(t, 2, cache.Len())
	_, ok = cache.get("m", "a")
	assert.False(t, ok, "least recently used entry is evicted")

	var none *Cache
	none.set("m", "a", []float32{1})
	_, ok = none.get("m", "a")
	assert.False(t, ok)
	assert.Zero(t, none.Len())
}

func TestNormalize(t *testing.T) {
	v := normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := []float32{0, 0}
	assert.Equal(t, zero, normalize(zero))
}
