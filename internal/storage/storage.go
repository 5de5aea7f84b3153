package storage

import (
	"context"
	"time"

	"github.com/dshills/docingest-mcp/pkg/types"
)

// Store is the relational store of record for documents and the blacklist
type Store interface {
	// Document operations
	CreateDocument(ctx context.Context, doc *types.Document) error
	GetDocument(ctx context.Context, id string) (*types.Document, error)
	GetDocumentByFilename(ctx context.Context, filename string) (*types.Document, error)
	ListDocuments(ctx context.Context, opts ListOptions) ([]*types.Document, error)
	UpdateStatus(ctx context.Context, id string, status types.DocumentStatus, errNote string) error
	MarkProcessed(ctx context.Context, id string, pageCount, passageCount int, at time.Time) error
	// ClearPassages sets the status and zeroes the page and passage counts,
	// matching an index that no longer holds the document's passages
	ClearPassages(ctx context.Context, id string, status types.DocumentStatus) error
	UpdateMetadata(ctx context.Context, id string, meta types.Metadata) error
	UpdateArchivePath(ctx context.Context, id string, archivePath string) error
	UpdateSource(ctx context.Context, id string, path string, modTime time.Time) error
	DeleteDocument(ctx context.Context, id string) error

	// Blacklist operations
	AddBlacklist(ctx context.Context, entry *types.BlacklistEntry) error
	RemoveBlacklist(ctx context.Context, filename string) error
	IsBlacklisted(ctx context.Context, filename string) (bool, error)
	ListBlacklist(ctx context.Context) ([]*types.BlacklistEntry, error)

	// Status operations
	Stats(ctx context.Context) (*types.StoreStats, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Store
}

// ListOptions narrows ListDocuments. Zero value lists everything.
type ListOptions struct {
	Statuses []types.DocumentStatus
	// FilenameTokens selects documents whose filename contains any token
	FilenameTokens []string
	// ExcludeBlacklisted drops documents whose filename is on the blacklist
	ExcludeBlacklisted bool
	Limit              int
	Offset             int
}
