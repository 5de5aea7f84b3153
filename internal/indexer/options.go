package indexer

import (
	"errors"
	"log/slog"
	"runtime"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/dshills/docingest-mcp/internal/archive"
	"github.com/dshills/docingest-mcp/internal/chunker"
	"github.com/dshills/docingest-mcp/internal/events"
	"github.com/dshills/docingest-mcp/internal/extractor"
	"github.com/dshills/docingest-mcp/internal/lock"
	"github.com/dshills/docingest-mcp/internal/metadata"
)

var (
	ErrStoreRequired    = errors.New("document store is required")
	ErrIndexRequired    = errors.New("passage index is required")
	ErrEmbedderRequired = errors.New("embedder is required")
)

// Defaults
const (
	DefaultLockWait       = 2 * time.Second
	DefaultLockPoll       = 25 * time.Millisecond
	defaultRebuildWorkers = 4
)

// Option configures an Indexer
type Option func(*Indexer) error

// WithPoolSize sets how many scheduled pipeline runs execute at once.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(i *Indexer) error {
		if size < 1 {
			size = 1
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if i.pool != nil {
			i.pool.Release()
		}
		i.pool = pool
		return nil
	}
}

// WithExtractor replaces the default extension-based page extractor
func WithExtractor(e extractor.Extractor) Option {
	return func(i *Indexer) error {
		if e == nil {
			return errors.New("extractor cannot be nil")
		}
		i.extractor = e
		return nil
	}
}

// WithChunker replaces the default chunker
func WithChunker(c *chunker.Chunker) Option {
	return func(i *Indexer) error {
		if c == nil {
			return errors.New("chunker cannot be nil")
		}
		i.chunker = c
		return nil
	}
}

// WithLocks sets the per-document lock manager. Default is an in-process table.
func WithLocks(m lock.Manager) Option {
	return func(i *Indexer) error {
		if m == nil {
			return errors.New("lock manager cannot be nil")
		}
		i.locks = m
		return nil
	}
}

// WithEvents sets where status events go
func WithEvents(p events.Publisher) Option {
	return func(i *Indexer) error {
		i.events = p
		return nil
	}
}

// WithArchive keeps a structured-name copy of every submitted file
func WithArchive(a archive.Archive) Option {
	return func(i *Indexer) error {
		i.archive = a
		return nil
	}
}

// WithMetadataExtractor fills in metadata for documents that have none
func WithMetadataExtractor(e metadata.Extractor) Option {
	return func(i *Indexer) error {
		i.meta = e
		return nil
	}
}

// WithLockWait sets how long metadata edits and deletes wait for a busy document
func WithLockWait(d time.Duration) Option {
	return func(i *Indexer) error {
		if d < 0 {
			d = 0
		}
		i.lockWait = d
		return nil
	}
}

// WithRebuildWorkers bounds concurrent pipeline runs during Rebuild
func WithRebuildWorkers(n int) Option {
	return func(i *Indexer) error {
		if n < 1 {
			n = 1
		}
		i.rebuildWorkers = n
		return nil
	}
}

// WithLogger sets a custom logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(i *Indexer) error {
		if logger == nil {
			logger = slog.Default()
		}
		i.logger = logger
		return nil
	}
}

func defaultPoolSize() int {
	n := runtime.NumCPU() / 2
	if n < 1 {
		n = 1
	}
	return n
}
