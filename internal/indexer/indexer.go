package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/docingest-mcp/internal/archive"
	"github.com/dshills/docingest-mcp/internal/chunker"
	"github.com/dshills/docingest-mcp/internal/embedder"
	"github.com/dshills/docingest-mcp/internal/events"
	"github.com/dshills/docingest-mcp/internal/extractor"
	"github.com/dshills/docingest-mcp/internal/index"
	"github.com/dshills/docingest-mcp/internal/lock"
	"github.com/dshills/docingest-mcp/internal/metadata"
	"github.com/dshills/docingest-mcp/internal/metrics"
	"github.com/dshills/docingest-mcp/internal/storage"
	"github.com/dshills/docingest-mcp/pkg/types"
)

// ErrIndexNotEmpty is returned by Rebuild when the index already holds passages
var ErrIndexNotEmpty = errors.New("index is not empty")

var tracer = otel.Tracer("github.com/dshills/docingest-mcp/indexer")

// Indexer coordinates the ingestion pipeline: extract -> chunk -> embed -> index -> record
type Indexer struct {
	store     storage.Store
	index     index.Index
	embedder  embedder.Embedder
	extractor extractor.Extractor
	chunker   *chunker.Chunker
	locks     lock.Manager
	events    events.Publisher
	archive   archive.Archive
	meta      metadata.Extractor

	pool           *ants.Pool
	pending        sync.WaitGroup
	closed         atomic.Bool
	lockWait       time.Duration
	rebuildWorkers int
	now            func() time.Time
	logger         *slog.Logger
}

// Outcome reports how a Process call ended. A run that found the document
// locked sets AlreadyInProgress and does nothing else.
type Outcome struct {
	DocumentID        string               `json:"document_id"`
	Status            types.DocumentStatus `json:"status,omitempty"`
	AlreadyInProgress bool                 `json:"already_in_progress,omitempty"`
	Pages             int                  `json:"pages,omitempty"`
	Passages          int                  `json:"passages,omitempty"`
	Error             string               `json:"error,omitempty"`
	Duration          time.Duration        `json:"duration"`
}

// Statistics summarizes a Rebuild
type Statistics struct {
	Documents     int
	Processed     int
	Failed        int
	InProgress    int
	Passages      int
	Duration      time.Duration
	ErrorMessages []string
}

// New creates an Indexer. Store, index and embedder are required; the
// extractor, chunker and lock table have working defaults.
func New(store storage.Store, idx index.Index, emb embedder.Embedder, opts ...Option) (*Indexer, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if idx == nil {
		return nil, ErrIndexRequired
	}
	if emb == nil {
		return nil, ErrEmbedderRequired
	}

	ch, err := chunker.New()
	if err != nil {
		return nil, err
	}

	i := &Indexer{
		store:          store,
		index:          idx,
		embedder:       emb,
		extractor:      extractor.Default(),
		chunker:        ch,
		locks:          lock.NewLocal(),
		lockWait:       DefaultLockWait,
		rebuildWorkers: defaultRebuildWorkers,
		now:            time.Now,
		logger:         slog.Default(),
	}

	for _, opt := range opts {
		if optErr := opt(i); optErr != nil {
			i.Release()
			return nil, optErr
		}
	}

	if i.pool == nil {
		pool, err := ants.NewPool(defaultPoolSize())
		if err != nil {
			return nil, err
		}
		i.pool = pool
	}
	i.logger = i.logger.With("component", "indexer")

	return i, nil
}

// Locks exposes the lock table so collaborators can check for in-flight documents
func (i *Indexer) Locks() lock.Manager { return i.locks }

// IsProcessing reports whether a pipeline run or metadata edit holds the document
func (i *Indexer) IsProcessing(ctx context.Context, documentID string) (bool, error) {
	return i.locks.IsHeld(ctx, documentID)
}

func (i *Indexer) emit(doc *types.Document, status types.DocumentStatus, errNote string, passages int) {
	if i.events == nil {
		return
	}
	i.events.Publish(types.StatusEvent{
		DocumentID:   doc.ID,
		Filename:     doc.Filename,
		Status:       status,
		Error:        errNote,
		PassageCount: passages,
		Timestamp:    i.now().UTC(),
	})
}

// Submit records a file as a document and schedules it for processing.
// Resubmitting a known filename reuses its row. queued is false when the
// filename is blacklisted or a run already holds the document.
func (i *Indexer) Submit(ctx context.Context, path string) (doc *types.Document, queued bool, err error) {
	doc, runnable, err := i.admit(ctx, path)
	if err != nil || !runnable {
		return doc, false, err
	}
	if err := i.Schedule(ctx, doc.ID); err != nil {
		return doc, false, err
	}
	return doc, true, nil
}

// Ingest records a file and runs the pipeline in the caller's goroutine
func (i *Indexer) Ingest(ctx context.Context, path string) (*types.Document, Outcome, error) {
	doc, runnable, err := i.admit(ctx, path)
	if err != nil {
		return doc, Outcome{}, err
	}
	if !runnable {
		return doc, Outcome{
			DocumentID:        doc.ID,
			Status:            doc.Status,
			AlreadyInProgress: doc.Status != types.StatusBlacklisted,
		}, nil
	}
	out, err := i.Process(ctx, doc.ID)
	return doc, out, err
}

// admit records the file and reports whether a pipeline run may start.
// Blacklisted and in-flight documents are not runnable.
func (i *Indexer) admit(ctx context.Context, path string) (*types.Document, bool, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, false, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, false, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, false, fmt.Errorf("%s is a directory", path)
	}

	doc, err := i.record(ctx, abs, info.ModTime())
	if err != nil {
		return nil, false, err
	}
	// a known row keeps its recorded source until a run is admitted

	blacklisted, err := i.store.IsBlacklisted(ctx, doc.Filename)
	if err != nil {
		return nil, false, err
	}
	if blacklisted {
		if doc.Status != types.StatusBlacklisted {
			if err := i.store.UpdateStatus(ctx, doc.ID, types.StatusBlacklisted, ""); err != nil {
				return nil, false, err
			}
			doc.Status = types.StatusBlacklisted
			i.emit(doc, types.StatusBlacklisted, "", 0)
		}
		i.logger.Info("submission refused, filename is blacklisted", "document_id", doc.ID, "filename", doc.Filename)
		return doc, false, nil
	}

	busy, err := i.IsProcessing(ctx, doc.ID)
	if err != nil {
		return nil, false, err
	}
	if busy {
		i.logger.Debug("document already in flight", "document_id", doc.ID)
		return doc, false, nil
	}

	if doc.Path != abs {
		if err := i.store.UpdateSource(ctx, doc.ID, abs, doc.ModTime); err != nil {
			return nil, false, err
		}
		doc.Path = abs
	}

	if doc.Status != types.StatusUploaded {
		if err := i.store.UpdateStatus(ctx, doc.ID, types.StatusUploaded, ""); err != nil {
			return nil, false, err
		}
		doc.Status = types.StatusUploaded
		doc.Error = ""
	}

	if i.archive != nil && doc.ArchivePath == "" {
		i.archiveCopy(ctx, doc)
	}

	i.emit(doc, types.StatusUploaded, "", 0)
	return doc, true, nil
}

// record returns the row for the filename, creating it on first sight.
// Existing rows are returned unchanged; Process records the source version
// it reads.
func (i *Indexer) record(ctx context.Context, path string, modTime time.Time) (*types.Document, error) {
	filename := filepath.Base(path)

	doc, err := i.store.GetDocumentByFilename(ctx, filename)
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}

	doc = &types.Document{
		Filename: filename,
		Path:     path,
		Status:   types.StatusUploaded,
		ModTime:  modTime,
	}
	if err := i.store.CreateDocument(ctx, doc); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			// lost a creation race for the same filename
			return i.record(ctx, path, modTime)
		}
		return nil, err
	}
	i.logger.Debug("document created", "document_id", doc.ID, "filename", filename)
	return doc, nil
}

// observeSource records the modification time of the file this run is
// about to read. The caller holds the document lock.
func (i *Indexer) observeSource(ctx context.Context, doc *types.Document) error {
	info, err := os.Stat(doc.Path)
	if err != nil {
		// extraction reports the missing source
		return nil
	}
	if info.ModTime().Equal(doc.ModTime) {
		return nil
	}
	if err := i.store.UpdateSource(ctx, doc.ID, doc.Path, info.ModTime()); err != nil {
		return fmt.Errorf("failed to record source: %w", err)
	}
	doc.ModTime = info.ModTime()
	return nil
}

func (i *Indexer) archiveCopy(ctx context.Context, doc *types.Document) {
	dst, err := i.archive.Store(ctx, doc.Path, archive.NameFor(doc.Metadata, doc.Filename))
	if err != nil {
		i.logger.Warn("failed to archive document", "document_id", doc.ID, "error", err)
		return
	}
	if err := i.store.UpdateArchivePath(ctx, doc.ID, dst); err != nil {
		i.logger.Warn("failed to record archive path", "document_id", doc.ID, "error", err)
		return
	}
	doc.ArchivePath = dst
}

// Schedule queues a pipeline run on the worker pool. The run is detached
// from ctx's cancellation.
func (i *Indexer) Schedule(ctx context.Context, documentID string) error {
	if i.closed.Load() {
		return ants.ErrPoolClosed
	}
	runCtx := context.WithoutCancel(ctx)

	i.pending.Add(1)
	err := i.pool.Submit(func() {
		defer i.pending.Done()
		if _, err := i.Process(runCtx, documentID); err != nil {
			i.logger.Error("scheduled run failed", "document_id", documentID, "error", err)
		}
	})
	if err != nil {
		i.pending.Done()
		return fmt.Errorf("failed to schedule document %s: %w", documentID, err)
	}
	return nil
}

// Process runs the pipeline for one document. Pipeline failures are
// recorded on the document and reported in the Outcome, not as an error;
// the error return is reserved for unknown documents and store failures.
func (i *Indexer) Process(ctx context.Context, documentID string) (Outcome, error) {
	start := i.now()
	out := Outcome{DocumentID: documentID}

	release, ok, err := i.locks.TryAcquire(ctx, documentID)
	if err != nil {
		return out, fmt.Errorf("failed to acquire document lock: %w", err)
	}
	if !ok {
		i.logger.Debug("document already in progress", "document_id", documentID)
		out.AlreadyInProgress = true
		return out, nil
	}
	defer release()

	ctx, span := tracer.Start(ctx, "indexer.Process",
		trace.WithAttributes(attribute.String("docingest.document.id", documentID)))
	defer span.End()

	doc, err := i.store.GetDocument(ctx, documentID)
	if err != nil {
		span.RecordError(err)
		return out, err
	}
	span.SetAttributes(attribute.String("docingest.document.filename", doc.Filename))

	blacklisted, err := i.store.IsBlacklisted(ctx, doc.Filename)
	if err != nil {
		return out, err
	}
	if blacklisted {
		if err := i.store.UpdateStatus(ctx, doc.ID, types.StatusBlacklisted, ""); err != nil {
			return out, err
		}
		i.emit(doc, types.StatusBlacklisted, "", 0)
		out.Status = types.StatusBlacklisted
		span.AddEvent("blacklisted")
		return out, nil
	}

	if err := i.observeSource(ctx, doc); err != nil {
		return out, err
	}
	if err := i.store.UpdateStatus(ctx, doc.ID, types.StatusProcessing, ""); err != nil {
		return out, err
	}
	i.emit(doc, types.StatusProcessing, "", 0)
	metrics.PipelinesInflight.Inc()
	defer metrics.PipelinesInflight.Dec()

	pages, passages, perr := i.run(ctx, doc)
	out.Duration = i.now().Sub(start)
	if perr != nil {
		span.RecordError(perr)
		span.SetStatus(codes.Error, perr.Error())
		return i.fail(ctx, doc, out, perr)
	}

	if err := i.store.MarkProcessed(ctx, doc.ID, pages, passages, i.now().UTC()); err != nil {
		// the index already holds the new passages; a rerun repairs the row
		span.RecordError(err)
		return i.fail(ctx, doc, out, fmt.Errorf("failed to record processed state: %w", err))
	}

	out.Status = types.StatusProcessed
	out.Pages = pages
	out.Passages = passages
	i.emit(doc, types.StatusProcessed, "", passages)

	metrics.DocumentsProcessed.WithLabelValues(string(types.StatusProcessed)).Inc()
	metrics.PipelineDuration.Observe(out.Duration.Seconds())
	metrics.PassagesIndexed.Add(float64(passages))

	i.logger.Info("document processed",
		"document_id", doc.ID, "filename", doc.Filename,
		"pages", pages, "passages", passages, "duration", out.Duration)
	return out, nil
}

// fail records a terminal pipeline failure on the document
func (i *Indexer) fail(ctx context.Context, doc *types.Document, out Outcome, cause error) (Outcome, error) {
	note := cause.Error()
	out.Status = types.StatusFailed
	out.Error = note

	if err := i.store.UpdateStatus(context.WithoutCancel(ctx), doc.ID, types.StatusFailed, note); err != nil {
		i.logger.Error("failed to record failure", "document_id", doc.ID, "error", err)
	}
	i.emit(doc, types.StatusFailed, note, 0)
	metrics.DocumentsProcessed.WithLabelValues(string(types.StatusFailed)).Inc()

	i.logger.Warn("document failed", "document_id", doc.ID, "filename", doc.Filename, "error", cause)
	return out, nil
}

// step wraps one pipeline stage in a child span
func step[T any](ctx context.Context, name string, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := tracer.Start(ctx, "indexer."+name)
	defer span.End()
	v, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return v, err
}

// run executes extract, chunk, embed and upsert, returning page and passage counts
func (i *Indexer) run(ctx context.Context, doc *types.Document) (int, int, error) {
	pages, err := step(ctx, "extract", func(ctx context.Context) ([]string, error) {
		return i.extractor.ExtractPages(ctx, doc.Path)
	})
	if err != nil {
		return 0, 0, err
	}

	pieces, err := step(ctx, "chunk", func(context.Context) ([]chunker.Piece, error) {
		return i.chunker.Chunk(pages)
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to chunk: %w", err)
	}

	var vectors [][]float32
	if len(pieces) > 0 {
		vectors, err = step(ctx, "embed", func(ctx context.Context) ([][]float32, error) {
			return i.embedder.EmbedPassages(ctx, chunker.Texts(pieces))
		})
		if err != nil {
			return 0, 0, err
		}
	}

	meta := doc.Metadata
	if i.meta != nil && meta.IsZero() {
		meta = i.extractMetadata(ctx, doc, pages)
	}

	passages := make([]types.Passage, len(pieces))
	for n, piece := range pieces {
		passages[n] = types.Passage{
			ID:           types.PassageID(doc.ID, piece.Index),
			DocumentID:   doc.ID,
			Source:       doc.Filename,
			PassageIndex: piece.Index,
			Page:         piece.Page,
			Batch:        piece.Sequence,
			Text:         piece.Text,
			Vector:       vectors[n],
		}
	}

	_, err = step(ctx, "index", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, i.index.Upsert(ctx, doc.ID, passages, meta)
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to index passages: %w", err)
	}
	return len(pages), len(passages), nil
}

// extractMetadata asks the model for metadata and records it. Failures are
// logged and leave the document without metadata.
func (i *Indexer) extractMetadata(ctx context.Context, doc *types.Document, pages []string) types.Metadata {
	meta, err := step(ctx, "metadata", func(ctx context.Context) (types.Metadata, error) {
		return i.meta.Extract(ctx, pages)
	})
	if err != nil {
		i.logger.Warn("metadata extraction failed", "document_id", doc.ID, "error", err)
		return doc.Metadata
	}
	if meta.IsZero() {
		return doc.Metadata
	}
	if err := meta.Validate(); err != nil {
		i.logger.Warn("extracted metadata rejected", "document_id", doc.ID, "error", err)
		return doc.Metadata
	}
	if err := i.store.UpdateMetadata(ctx, doc.ID, meta); err != nil {
		i.logger.Warn("failed to store extracted metadata", "document_id", doc.ID, "error", err)
		return doc.Metadata
	}
	doc.Metadata = meta
	i.renameArchive(ctx, doc)

	i.logger.Info("metadata extracted", "document_id", doc.ID, "authors", len(meta.Authors))
	return meta
}

// renameArchive moves the archive copy to the name derived from current metadata
func (i *Indexer) renameArchive(ctx context.Context, doc *types.Document) {
	if i.archive == nil || doc.ArchivePath == "" {
		return
	}
	dst, err := i.archive.Rename(ctx, doc.ArchivePath, archive.NameFor(doc.Metadata, doc.Filename))
	if err != nil {
		i.logger.Warn("failed to rename archive copy", "document_id", doc.ID, "error", err)
		return
	}
	if dst == doc.ArchivePath {
		return
	}
	if err := i.store.UpdateArchivePath(ctx, doc.ID, dst); err != nil {
		i.logger.Warn("failed to record archive path", "document_id", doc.ID, "error", err)
		return
	}
	doc.ArchivePath = dst
}

// acquireWait takes the document lock, waiting up to lockWait for a running pipeline
func (i *Indexer) acquireWait(ctx context.Context, documentID string) (func(), error) {
	release, err := lock.Acquire(ctx, i.locks, documentID, i.lockWait, DefaultLockPoll)
	if errors.Is(err, lock.ErrTimeout) {
		return nil, fmt.Errorf("document %s: %w", documentID, types.ErrAlreadyInProgress)
	}
	return release, err
}

// UpdateMetadata validates and applies a metadata edit, then mirrors it onto
// every passage of the document. Both writes happen under the document lock
// so they can't interleave with a pipeline run.
func (i *Indexer) UpdateMetadata(ctx context.Context, documentID string, update types.MetadataUpdate) (*types.Document, error) {
	doc, err := i.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if update.Empty() {
		return doc, nil
	}
	if err := update.Apply(doc.Metadata).Validate(); err != nil {
		return nil, err
	}

	release, err := i.acquireWait(ctx, documentID)
	if err != nil {
		return nil, err
	}
	defer release()

	// re-read under the lock; a finished run may have filled metadata in
	doc, err = i.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	merged := update.Apply(doc.Metadata)
	if err := merged.Validate(); err != nil {
		return nil, err
	}

	if err := i.store.UpdateMetadata(ctx, documentID, merged); err != nil {
		return nil, err
	}
	doc.Metadata = merged

	if err := i.index.UpdateMetadata(ctx, documentID, merged); err != nil {
		i.logger.Error("index metadata out of sync with store", "document_id", documentID, "error", err)
		return nil, fmt.Errorf("failed to propagate metadata: %w", err)
	}

	i.renameArchive(ctx, doc)

	i.logger.Info("metadata updated", "document_id", documentID)
	return doc, nil
}

// DeleteDocument removes a document's passages, then its row
func (i *Indexer) DeleteDocument(ctx context.Context, documentID string) error {
	if _, err := i.store.GetDocument(ctx, documentID); err != nil {
		return err
	}

	release, err := i.acquireWait(ctx, documentID)
	if err != nil {
		return err
	}
	defer release()

	if err := i.index.Delete(ctx, documentID); err != nil {
		return fmt.Errorf("failed to delete passages: %w", err)
	}
	if err := i.store.DeleteDocument(ctx, documentID); err != nil {
		return err
	}

	i.logger.Info("document deleted", "document_id", documentID)
	return nil
}

// AddBlacklist blacklists a filename. A matching document that is not
// processed or in flight becomes blacklisted and loses its passages.
func (i *Indexer) AddBlacklist(ctx context.Context, filename, reason string) (*types.BlacklistEntry, error) {
	entry := &types.BlacklistEntry{Filename: filename, Reason: reason, CreatedAt: i.now().UTC()}
	if err := i.store.AddBlacklist(ctx, entry); err != nil {
		return nil, err
	}

	doc, err := i.store.GetDocumentByFilename(ctx, filename)
	if errors.Is(err, types.ErrNotFound) {
		return entry, nil
	}
	if err != nil {
		return nil, err
	}
	if doc.Status != types.StatusUploaded && doc.Status != types.StatusFailed {
		return entry, nil
	}

	release, ok, err := i.locks.TryAcquire(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		// the running pipeline re-checks the blacklist on its next run
		return entry, nil
	}
	defer release()

	if err := i.index.Delete(ctx, doc.ID); err != nil {
		return nil, fmt.Errorf("failed to delete passages: %w", err)
	}
	if err := i.store.ClearPassages(ctx, doc.ID, types.StatusBlacklisted); err != nil {
		return nil, err
	}
	i.emit(doc, types.StatusBlacklisted, "", 0)

	i.logger.Info("document blacklisted", "document_id", doc.ID, "filename", filename)
	return entry, nil
}

// RemoveBlacklist lifts a blacklist entry. A document that was blacklisted
// returns to uploaded and is scheduled.
func (i *Indexer) RemoveBlacklist(ctx context.Context, filename string) error {
	if err := i.store.RemoveBlacklist(ctx, filename); err != nil {
		return err
	}

	doc, err := i.store.GetDocumentByFilename(ctx, filename)
	if errors.Is(err, types.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if doc.Status != types.StatusBlacklisted {
		return nil
	}

	if err := i.store.UpdateStatus(ctx, doc.ID, types.StatusUploaded, ""); err != nil {
		return err
	}
	i.emit(doc, types.StatusUploaded, "", 0)
	return i.Schedule(ctx, doc.ID)
}

// Rebuild repopulates an empty index from the store of record by rerunning
// every processed, non-blacklisted document
func (i *Indexer) Rebuild(ctx context.Context) (*Statistics, error) {
	empty, err := i.index.IsEmpty(ctx)
	if err != nil {
		return nil, err
	}
	if !empty {
		return nil, ErrIndexNotEmpty
	}

	docs, err := i.store.ListDocuments(ctx, storage.ListOptions{
		Statuses:           []types.DocumentStatus{types.StatusProcessed},
		ExcludeBlacklisted: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	start := i.now()
	stats := &Statistics{Documents: len(docs), ErrorMessages: make([]string, 0)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.rebuildWorkers)
	for _, doc := range docs {
		g.Go(func() error {
			out, err := i.Process(gctx, doc.ID)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				stats.Failed++
				stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s: %v", doc.Filename, err))
			case out.AlreadyInProgress:
				stats.InProgress++
			case out.Status == types.StatusProcessed:
				stats.Processed++
				stats.Passages += out.Passages
			default:
				stats.Failed++
				stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s: %s", doc.Filename, out.Error))
			}
			// one document never aborts the rebuild
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats.Duration = i.now().Sub(start)
	i.logger.Info("index rebuilt",
		"documents", stats.Documents, "processed", stats.Processed,
		"failed", stats.Failed, "passages", stats.Passages, "duration", stats.Duration)
	return stats, nil
}

// Wait blocks until every scheduled run has finished
func (i *Indexer) Wait() {
	i.pending.Wait()
}

// Release stops accepting work, waits for scheduled runs and frees the pool
func (i *Indexer) Release() {
	if i.closed.Swap(true) {
		return
	}
	i.pending.Wait()
	if i.pool != nil {
		i.pool.Release()
	}
}
