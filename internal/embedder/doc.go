// Package embedder turns passages and search queries into vectors.
//
// Providers:
//   - local: offline hashed bag-of-words vectors (384 dims), the default
//   - jina, openai: HTTP /embeddings APIs with retry and backoff
//   - compat: any OpenAI-compatible server (Ollama, vLLM) through langchaingo
//
// EmbedPassages serves already embedded passages from an LRU cache keyed
// by model and text, sends the rest in batches of BatchSize and returns
// one vector per text in input order. EmbedQuery always asks the provider;
// query caching belongs to the searcher. Jina receives the matching
// retrieval task for each.
//
//	emb, err := embedder.New(embedder.Config{Provider: embedder.DetectProvider(), CacheSize: 10000})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer emb.Close()
//
//	vectors, err := emb.EmbedPassages(ctx, texts)
//	var ee *types.EmbeddingError
//	if errors.As(err, &ee) {
//	    // mark the document failed
//	}
//
// Every failure except context cancellation is a *types.EmbeddingError.
// Provider faults also match ErrProviderFailed; empty text matches
// ErrEmptyText.
//
// # Retries
//
// HTTP and compat providers retry transport failures, 429 and 5xx
// responses, backing off from 100ms to 5s over three attempts. Other 4xx
// responses fail at once.
package embedder
