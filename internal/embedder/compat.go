package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// CompatProvider embeds through any OpenAI-compatible server (Ollama,
// vLLM, LM Studio) using langchaingo
type CompatProvider struct {
	pipeline
	embedder  embeddings.Embedder
	dimension atomic.Int64
	retry     RetryPolicy
	logger    *slog.Logger
}

var _ Embedder = (*CompatProvider)(nil)

// NewCompatProvider connects to baseURL. An empty token is sent as "none"
// for local servers that do not authenticate. A zero dimension is learned
// from the first response.
func NewCompatProvider(baseURL, token, model string, dimension int, cache *Cache) (*CompatProvider, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: compat provider needs a base URL", ErrNoProviderEnabled)
	}
	if model == "" {
		return nil, fmt.Errorf("%w: compat provider needs a model", ErrUnsupportedModel)
	}
	if token == "" {
		token = "none"
	}

	client, err := openai.New(
		openai.WithBaseURL(baseURL),
		openai.WithToken(token),
		openai.WithEmbeddingModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create compat client: %w", err)
	}

	// langchaingo splits documents into its own batches
	emb, err := embeddings.NewEmbedder(client,
		embeddings.WithStripNewLines(true),
		embeddings.WithBatchSize(BatchSize),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create compat embedder: %w", err)
	}

	c := &CompatProvider{
		pipeline: pipeline{
			provider:  ProviderCompat,
			model:     model,
			batchSize: BatchSize,
			cache:     cache,
		},
		embedder: emb,
		retry:    DefaultRetryPolicy(),
		logger:   slog.Default().With("component", "compat-embedder"),
	}
	c.embed = c.embedBatch
	c.dimension.Store(int64(dimension))
	return c, nil
}

func (c *CompatProvider) EmbedPassages(ctx context.Context, texts []string) ([][]float32, error) {
	return c.passages(ctx, texts)
}

func (c *CompatProvider) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return c.query(ctx, query)
}

func (c *CompatProvider) embedBatch(ctx context.Context, texts []string, kind inputKind) ([][]float32, error) {
	c.logger.Debug("generating embeddings", "count", len(texts), "query", kind == kindQuery)

	vectors, err := do(ctx, c.retry, func() ([][]float32, error) {
		if kind == kindQuery {
			v, err := c.embedder.EmbedQuery(ctx, texts[0])
			if err != nil {
				return nil, err
			}
			return [][]float32{v}, nil
		}
		return c.embedder.EmbedDocuments(ctx, texts)
	})
	if err != nil {
		c.logger.Error("failed to generate embeddings", "count", len(texts), "err", err)
		return nil, err
	}

	if len(vectors) > 0 {
		c.dimension.CompareAndSwap(0, int64(len(vectors[0])))
	}
	return vectors, nil
}

func (c *CompatProvider) Dimension() int   { return int(c.dimension.Load()) }
func (c *CompatProvider) Provider() string { return ProviderCompat }
func (c *CompatProvider) Model() string    { return c.model }
func (c *CompatProvider) Close() error     { return nil }
