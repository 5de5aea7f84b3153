package embedder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode"
)

// Provider configuration
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"
	ProviderCompat = "compat"

	EnvJinaAPIKey   = "JINA_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"

	DefaultJinaURL   = "https://api.jina.ai/v1"
	DefaultOpenAIURL = "https://api.openai.com/v1"

	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultLocalModel  = "local-hashing"

	JinaDimension   = 1024
	OpenAIDimension = 1536
	LocalDimension  = 384

	// BatchSize is the most texts sent in one provider request
	BatchSize = 100
)

// HTTPProvider embeds through an /embeddings endpoint. Jina and OpenAI
// share the wire format; Jina also takes a retrieval task so passages and
// queries land in matching spaces.
type HTTPProvider struct {
	pipeline
	baseURL    string
	apiKey     string
	dimension  int
	httpClient *http.Client
	retry      RetryPolicy
}

var _ Embedder = (*HTTPProvider)(nil)

// NewJinaProvider creates a Jina AI embedder. An empty apiKey is read
// from JINA_API_KEY.
func NewJinaProvider(apiKey string, cache *Cache) (*HTTPProvider, error) {
	return newHTTPProvider(ProviderJina, apiKey, EnvJinaAPIKey, DefaultJinaURL, DefaultJinaModel, JinaDimension, cache)
}

// NewOpenAIProvider creates an OpenAI embedder. An empty apiKey is read
// from OPENAI_API_KEY.
func NewOpenAIProvider(apiKey string, cache *Cache) (*HTTPProvider, error) {
	return newHTTPProvider(ProviderOpenAI, apiKey, EnvOpenAIAPIKey, DefaultOpenAIURL, DefaultOpenAIModel, OpenAIDimension, cache)
}

func newHTTPProvider(name, apiKey, envKey, baseURL, model string, dimension int, cache *Cache) (*HTTPProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv(envKey)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, envKey)
	}

	p := &HTTPProvider{
		pipeline: pipeline{
			provider:  name,
			model:     model,
			batchSize: BatchSize,
			cache:     cache,
		},
		baseURL:    baseURL,
		apiKey:     apiKey,
		dimension:  dimension,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retry:      DefaultRetryPolicy(),
	}
	p.embed = p.embedBatch
	return p, nil
}

// WithBaseURL points the provider at another endpoint root
func (p *HTTPProvider) WithBaseURL(url string) *HTTPProvider {
	p.baseURL = strings.TrimRight(url, "/")
	return p
}

// WithModel overrides the default model
func (p *HTTPProvider) WithModel(model string) *HTTPProvider {
	if model != "" {
		p.model = model
	}
	return p
}

// WithRetry overrides the retry policy
func (p *HTTPProvider) WithRetry(r RetryPolicy) *HTTPProvider {
	p.retry = r
	return p
}

func (p *HTTPProvider) EmbedPassages(ctx context.Context, texts []string) ([][]float32, error) {
	return p.passages(ctx, texts)
}

func (p *HTTPProvider) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return p.query(ctx, query)
}

func (p *HTTPProvider) embedBatch(ctx context.Context, texts []string, kind inputKind) ([][]float32, error) {
	body := map[string]interface{}{
		"input": texts,
		"model": p.model,
	}
	if p.provider == ProviderJina {
		body["task"] = "retrieval.passage"
		if kind == kindQuery {
			body["task"] = "retrieval.query"
		}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	return do(ctx, p.retry, func() ([][]float32, error) {
		return p.post(ctx, payload, len(texts))
	})
}

func (p *HTTPProvider) post(ctx context.Context, payload []byte, n int) ([][]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	// answers may arrive out of order
	vectors := make([][]float32, n)
	for _, d := range apiResp.Data {
		if d.Index < 0 || d.Index >= n {
			return nil, fmt.Errorf("response index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

func (p *HTTPProvider) Dimension() int   { return p.dimension }
func (p *HTTPProvider) Provider() string { return p.provider }
func (p *HTTPProvider) Model() string    { return p.model }

func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// LocalProvider embeds text offline by hashing word tokens into a fixed
// number of buckets. Texts sharing vocabulary land close together, which is
// enough for development and tests without an API key.
type LocalProvider struct {
	pipeline
}

var _ Embedder = (*LocalProvider)(nil)

// NewLocalProvider creates a local embedder; cache may be nil
func NewLocalProvider(cache *Cache) (*LocalProvider, error) {
	return &LocalProvider{pipeline: pipeline{
		provider:  ProviderLocal,
		model:     DefaultLocalModel,
		batchSize: BatchSize,
		cache:     cache,
		embed:     hashBatch,
	}}, nil
}

func (l *LocalProvider) EmbedPassages(ctx context.Context, texts []string) ([][]float32, error) {
	return l.passages(ctx, texts)
}

func (l *LocalProvider) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return l.query(ctx, query)
}

func (l *LocalProvider) Dimension() int   { return LocalDimension }
func (l *LocalProvider) Provider() string { return ProviderLocal }
func (l *LocalProvider) Model() string    { return l.model }
func (l *LocalProvider) Close() error     { return nil }

// hashBatch embeds passages and queries the same way
func hashBatch(ctx context.Context, texts []string, _ inputKind) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vectors[i] = hashEmbedding(text)
	}
	return vectors, nil
}

// hashEmbedding builds a unit vector from signed token hashes. Text
// without word tokens falls back to its content hash.
func hashEmbedding(text string) []float32 {
	vector := make([]float32, LocalDimension)

	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum32()
		sign := float32(1)
		if sum&(1<<31) != 0 {
			sign = -1
		}
		vector[sum%LocalDimension] += sign
	}

	if len(tokens) == 0 {
		sum := sha256.Sum256([]byte(text))
		for i := range sum {
			vector[i] = float32(sum[i]) / 255.0
		}
	}

	return normalize(vector)
}

// normalize scales v to unit length in place; a zero vector is unchanged
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}
