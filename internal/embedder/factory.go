package embedder

import (
	"fmt"
	"os"
	"strings"
)

// Environment variables read by the config layer
const (
	EnvProvider = "DOCINGEST_EMBEDDING_PROVIDER"
	EnvModel    = "DOCINGEST_EMBEDDING_MODEL"
	EnvBaseURL  = "DOCINGEST_EMBEDDING_BASE_URL"
)

// Config holds embedder configuration
type Config struct {
	Provider string
	APIKey   string
	// Model overrides the provider default
	Model string
	// BaseURL overrides the provider endpoint; required for compat
	BaseURL string
	// Dimension is only used by compat; zero learns it from the first response
	Dimension int
	// CacheSize bounds the passage cache; zero disables it
	CacheSize int
}

// New creates the embedder named by cfg.Provider; empty means local
func New(cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	switch strings.ToLower(cfg.Provider) {
	case ProviderJina:
		p, err := NewJinaProvider(cfg.APIKey, cache)
		if err != nil {
			return nil, err
		}
		return configureHTTP(p, cfg), nil
	case ProviderOpenAI:
		p, err := NewOpenAIProvider(cfg.APIKey, cache)
		if err != nil {
			return nil, err
		}
		return configureHTTP(p, cfg), nil
	case ProviderCompat:
		return NewCompatProvider(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Dimension, cache)
	case ProviderLocal, "":
		return NewLocalProvider(cache)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

func configureHTTP(p *HTTPProvider, cfg Config) *HTTPProvider {
	if cfg.BaseURL != "" {
		p.WithBaseURL(cfg.BaseURL)
	}
	return p.WithModel(cfg.Model)
}

// DetectProvider picks a provider from the environment: an explicit
// DOCINGEST_EMBEDDING_PROVIDER, then whichever API key is set (Jina
// first), then local.
func DetectProvider() string {
	if provider := os.Getenv(EnvProvider); provider != "" {
		return strings.ToLower(provider)
	}
	if os.Getenv(EnvJinaAPIKey) != "" {
		return ProviderJina
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}
	return ProviderLocal
}
