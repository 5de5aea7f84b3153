package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dshills/docingest-mcp/pkg/types"
)

// Backend names accepted by New
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

var (
	ErrUnknownBackend    = errors.New("unknown index backend")
	ErrMissingVector     = errors.New("passage has no vector")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrInvalidWindow     = errors.New("limit must be positive and offset non-negative")
)

// Index stores passages with vectors and mirrored metadata and answers
// filtered similarity queries. Implementations apply the filter before
// ranking so selective filters never under-return.
type Index interface {
	// Upsert replaces the full passage set of a document, attaching meta to every passage
	Upsert(ctx context.Context, documentID string, passages []types.Passage, meta types.Metadata) error

	// Delete removes every passage of a document. Unknown documents are a no-op.
	Delete(ctx context.Context, documentID string) error

	// UpdateMetadata rewrites mirrored metadata on every passage of a document
	// without touching text or vectors. Readers see either the old or the new set.
	UpdateMetadata(ctx context.Context, documentID string, meta types.Metadata) error

	// Search ranks passages matching filter by similarity to vector
	Search(ctx context.Context, vector []float32, filter types.Filter, limit, offset int) ([]types.SearchHit, error)

	// Passages lists a document's passages in passage index order
	Passages(ctx context.Context, documentID string) ([]types.Passage, error)

	// Count returns the number of passages stored for a document
	Count(ctx context.Context, documentID string) (int, error)

	// IsEmpty reports whether the index holds no passages at all
	IsEmpty(ctx context.Context) (bool, error)

	// Backend returns the backend name
	Backend() string

	Close() error
}

// Config selects and configures a backend
type Config struct {
	// Backend is "sqlite" or "badger"
	Backend string
	// Path is a database file (sqlite) or directory (badger). Empty or ":memory:" keeps the index in memory.
	Path string
	// Dimension, when non-zero, is enforced on every upserted vector
	Dimension int
	Logger    *slog.Logger
}

// New opens the configured backend
func New(ctx context.Context, cfg Config) (Index, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	switch strings.ToLower(cfg.Backend) {
	case BackendSQLite, "":
		return NewSQLiteIndex(ctx, cfg)
	case BackendBadger:
		return NewBadgerIndex(cfg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Backend)
	}
}

func inMemory(path string) bool {
	return path == "" || path == ":memory:"
}

func checkWindow(limit, offset int) error {
	if limit <= 0 || offset < 0 {
		return ErrInvalidWindow
	}
	return nil
}

// stamp copies the document metadata onto a passage and fills its identity fields
func stamp(documentID string, p types.Passage, meta types.Metadata) types.Passage {
	p.DocumentID = documentID
	if p.ID == "" {
		p.ID = types.PassageID(documentID, p.PassageIndex)
	}
	p.Metadata = meta.Clone()
	return p
}

// authorsSearchKey lowercases author names into one newline-separated string
// so a substring test never spans two authors
func authorsSearchKey(authors []string) string {
	lowered := make([]string, len(authors))
	for i, a := range authors {
		lowered[i] = strings.ToLower(a)
	}
	return strings.Join(lowered, "\n")
}

// authorNeedle normalizes a filter's author predicate
func authorNeedle(author string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(author), "\n", " "))
}
