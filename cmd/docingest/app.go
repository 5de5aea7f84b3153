package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/dshills/docingest-mcp/internal/archive"
	"github.com/dshills/docingest-mcp/internal/config"
	"github.com/dshills/docingest-mcp/internal/embedder"
	"github.com/dshills/docingest-mcp/internal/events"
	"github.com/dshills/docingest-mcp/internal/extractor"
	"github.com/dshills/docingest-mcp/internal/index"
	"github.com/dshills/docingest-mcp/internal/indexer"
	"github.com/dshills/docingest-mcp/internal/lock"
	"github.com/dshills/docingest-mcp/internal/metadata"
	"github.com/dshills/docingest-mcp/internal/metrics"
	"github.com/dshills/docingest-mcp/internal/registry"
	"github.com/dshills/docingest-mcp/internal/reparse"
	"github.com/dshills/docingest-mcp/internal/searcher"
	"github.com/dshills/docingest-mcp/internal/storage"
	"github.com/dshills/docingest-mcp/pkg/types"
)

// components is every long-lived collaborator, opened from one Config
type components struct {
	cfg    config.Config
	logger *slog.Logger

	store      *storage.SQLStore
	index      index.Index
	embedder   embedder.Embedder
	extractors *extractor.Registry
	bus        *events.Bus
	registry   *registry.Registry
	indexer    *indexer.Indexer
	searcher   *searcher.Searcher
	reparse    *reparse.Orchestrator

	closers []func() error
}

func openComponents(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *components, err error) {
	c := &components{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
	}

	c.store, err = storage.Open(ctx, cfg.StorePath())
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, c.store.Close)

	c.embedder, err = embedder.New(cfg.EmbedderConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	c.closers = append(c.closers, c.embedder.Close)

	c.index, err = index.New(ctx, index.Config{
		Backend:   cfg.IndexBackend,
		Path:      cfg.IndexLocation(),
		Dimension: c.embedder.Dimension(),
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, c.index.Close)

	locks, err := c.openLocks(ctx)
	if err != nil {
		return nil, err
	}

	c.bus = events.NewBus(logger)
	c.registry = registry.New(registry.Options{
		HistorySize: cfg.HistorySize,
		Retention:   cfg.HistoryRetention,
		Logger:      logger,
		OnActiveChange: func(kind types.ConnectionKind, active int) {
			metrics.ConnectionsActive.WithLabelValues(string(kind)).Set(float64(active))
		},
	})

	c.extractors = extractor.Default()
	opts := []indexer.Option{
		indexer.WithExtractor(c.extractors),
		indexer.WithLocks(locks),
		indexer.WithEvents(c.bus),
		indexer.WithLogger(logger),
	}
	if cfg.PipelineWorkers > 0 {
		opts = append(opts, indexer.WithPoolSize(cfg.PipelineWorkers))
	}

	arch, err := c.openArchive(ctx)
	if err != nil {
		return nil, err
	}
	if arch != nil {
		opts = append(opts, indexer.WithArchive(arch))
	}

	if cfg.MetadataModel != "" {
		ext, err := metadata.NewOpenAICompatible(cfg.MetadataBaseURL, cfg.MetadataToken, cfg.MetadataModel)
		if err != nil {
			return nil, err
		}
		opts = append(opts, indexer.WithMetadataExtractor(ext))
	}

	c.indexer, err = indexer.New(c.store, c.index, c.embedder, opts...)
	if err != nil {
		return nil, err
	}

	c.searcher = searcher.NewSearcher(c.index, c.embedder)

	c.reparse, err = reparse.New(c.store, c.index, c.indexer,
		reparse.WithPoolSize(cfg.ReparseWorkers),
		reparse.WithEvents(c.bus),
		reparse.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	logger.Info("components ready",
		"store", cfg.StorePath(),
		"dialect", c.store.Dialect(),
		"index_backend", c.index.Backend(),
		"embedding_provider", c.embedder.Provider(),
		"lock_backend", cfg.LockBackend)
	return c, nil
}

func (c *components) openLocks(ctx context.Context) (lock.Manager, error) {
	if c.cfg.LockBackend != config.LockRedis {
		return lock.NewLocal(), nil
	}

	opts, err := redis.ParseURL(c.cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	c.closers = append(c.closers, client.Close)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return lock.NewRedis(client, lock.WithLogger(c.logger)), nil
}

func (c *components) openArchive(ctx context.Context) (archive.Archive, error) {
	switch {
	case c.cfg.GCSBucket != "":
		gcs, err := archive.NewGCS(ctx, archive.GCSConfig{
			Bucket:   c.cfg.GCSBucket,
			Prefix:   c.cfg.GCSPrefix,
			Endpoint: c.cfg.GCSEndpoint,
			Logger:   c.logger,
		})
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, gcs.Close)
		return gcs, nil
	case c.cfg.ArchiveDir != "":
		return archive.NewLocal(c.cfg.ArchiveDir, c.logger)
	default:
		return nil, nil
	}
}

// Close drains background work, then closes resources in reverse order
func (c *components) Close() error {
	if c.reparse != nil {
		c.reparse.Release()
	}
	if c.indexer != nil {
		c.indexer.Release()
	}

	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
