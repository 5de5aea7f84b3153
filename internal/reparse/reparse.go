package reparse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/dshills/docingest-mcp/internal/events"
	"github.com/dshills/docingest-mcp/internal/index"
	"github.com/dshills/docingest-mcp/internal/indexer"
	"github.com/dshills/docingest-mcp/internal/lock"
	"github.com/dshills/docingest-mcp/internal/metrics"
	"github.com/dshills/docingest-mcp/internal/storage"
	"github.com/dshills/docingest-mcp/pkg/types"
)

// Mode selects which documents a reparse targets
type Mode string

const (
	ModeAll      Mode = "all"
	ModeSelected Mode = "selected"
)

// Skip reasons
const (
	ReasonBlacklisted       = "blacklisted"
	ReasonAlreadyProcessing = "already_processing"
	ReasonNotFound          = "not_found"
	ReasonIndexError        = "index_error"
)

const DefaultPoolSize = 2

var (
	ErrInvalidMode = errors.New("mode must be \"all\" or \"selected\"")
	ErrNoTargets   = errors.New("selected mode requires at least one target")
	ErrClosed      = errors.New("orchestrator is closed")
)

// Coordinator runs pipelines and owns the per-document locks
type Coordinator interface {
	Locks() lock.Manager
	Process(ctx context.Context, documentID string) (indexer.Outcome, error)
}

// Request selects documents for reprocessing. Targets are filename
// tokens; a document matches when its filename contains any token.
type Request struct {
	Mode    Mode     `json:"mode"`
	Targets []string `json:"targets,omitempty"`
}

// Receipt reports which documents were accepted. It is returned before
// any reprocessing finishes; completion is observed through status events.
type Receipt struct {
	Queued  []string            `json:"queued"`
	Skipped map[string][]string `json:"skipped"`
}

func newReceipt() *Receipt {
	return &Receipt{Queued: []string{}, Skipped: map[string][]string{}}
}

func (r *Receipt) skip(reason, item string) {
	r.Skipped[reason] = append(r.Skipped[reason], item)
	metrics.ReparseItems.WithLabelValues(reason).Inc()
}

// Orchestrator drops stale passages and re-runs the pipeline for known
// documents on a bounded background pool.
type Orchestrator struct {
	store  storage.Store
	index  index.Index
	coord  Coordinator
	events events.Publisher
	pool   *ants.Pool

	pending sync.WaitGroup
	closed  atomic.Bool
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures an Orchestrator
type Option func(*Orchestrator) error

// WithPoolSize bounds how many reprocessing runs execute at once
func WithPoolSize(size int) Option {
	return func(o *Orchestrator) error {
		if size < 1 {
			size = 1
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if o.pool != nil {
			o.pool.Release()
		}
		o.pool = pool
		return nil
	}
}

// WithEvents publishes the uploaded transition of every queued document
func WithEvents(p events.Publisher) Option {
	return func(o *Orchestrator) error {
		o.events = p
		return nil
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) error {
		if l == nil {
			return errors.New("logger cannot be nil")
		}
		o.logger = l
		return nil
	}
}

// New creates an Orchestrator
func New(store storage.Store, idx index.Index, coord Coordinator, opts ...Option) (*Orchestrator, error) {
	if store == nil || idx == nil || coord == nil {
		return nil, errors.New("store, index and coordinator are required")
	}
	o := &Orchestrator{
		store:  store,
		index:  idx,
		coord:  coord,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			if o.pool != nil {
				o.pool.Release()
			}
			return nil, err
		}
	}
	if o.pool == nil {
		if err := WithPoolSize(DefaultPoolSize)(o); err != nil {
			return nil, err
		}
	}
	o.logger = o.logger.With("component", "reparse")
	return o, nil
}

// Reparse selects documents, removes their passages and queues them for
// reprocessing. Per-document problems land in Skipped; only selection
// failures are returned as errors.
func (o *Orchestrator) Reparse(ctx context.Context, req Request) (*Receipt, error) {
	if o.closed.Load() {
		return nil, ErrClosed
	}

	docs, receipt, err := o.selectDocuments(ctx, req)
	if err != nil {
		return nil, err
	}
	blacklist, err := o.blacklist(ctx)
	if err != nil {
		return nil, err
	}

	locks := o.coord.Locks()
	for _, doc := range docs {
		if _, ok := blacklist[doc.Filename]; ok || doc.Status == types.StatusBlacklisted {
			receipt.skip(ReasonBlacklisted, doc.ID)
			continue
		}

		release, ok, err := locks.TryAcquire(ctx, doc.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire document lock: %w", err)
		}
		if !ok {
			receipt.skip(ReasonAlreadyProcessing, doc.ID)
			continue
		}
		err = o.reset(ctx, doc)
		release()
		if err != nil {
			o.logger.Error("failed to reset document", "document_id", doc.ID, "error", err)
			receipt.skip(ReasonIndexError, doc.ID)
			continue
		}

		receipt.Queued = append(receipt.Queued, doc.ID)
		metrics.ReparseItems.WithLabelValues("queued").Inc()
	}

	o.dispatch(ctx, receipt.Queued)

	o.logger.Info("reparse accepted",
		"mode", req.Mode,
		"queued", len(receipt.Queued),
		"skipped", skippedCount(receipt))
	return receipt, nil
}

// selectDocuments resolves the request to documents; tokens matching
// nothing are reported as not_found
func (o *Orchestrator) selectDocuments(ctx context.Context, req Request) ([]*types.Document, *Receipt, error) {
	receipt := newReceipt()

	switch req.Mode {
	case ModeAll:
		docs, err := o.store.ListDocuments(ctx, storage.ListOptions{ExcludeBlacklisted: true})
		if err != nil {
			return nil, nil, err
		}
		return docs, receipt, nil

	case ModeSelected:
		tokens := make([]string, 0, len(req.Targets))
		seen := make(map[string]bool, len(req.Targets))
		for _, t := range req.Targets {
			t = strings.TrimSpace(t)
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			tokens = append(tokens, t)
		}
		if len(tokens) == 0 {
			return nil, nil, ErrNoTargets
		}

		docs, err := o.store.ListDocuments(ctx, storage.ListOptions{FilenameTokens: tokens})
		if err != nil {
			return nil, nil, err
		}
		for _, t := range tokens {
			if !anyContains(docs, t) {
				receipt.skip(ReasonNotFound, t)
			}
		}
		return docs, receipt, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrInvalidMode, req.Mode)
	}
}

func anyContains(docs []*types.Document, token string) bool {
	for _, d := range docs {
		if strings.Contains(d.Filename, token) {
			return true
		}
	}
	return false
}

// reset removes the document's passages and returns it to uploaded with
// zero counts, so a failed re-run leaves the row agreeing with the index.
// The caller holds the document lock.
func (o *Orchestrator) reset(ctx context.Context, doc *types.Document) error {
	if err := o.index.Delete(ctx, doc.ID); err != nil {
		return fmt.Errorf("failed to delete passages: %w", err)
	}
	if err := o.store.ClearPassages(ctx, doc.ID, types.StatusUploaded); err != nil {
		return err
	}
	if o.events != nil {
		o.events.Publish(types.StatusEvent{
			DocumentID: doc.ID,
			Filename:   doc.Filename,
			Status:     types.StatusUploaded,
			Timestamp:  o.now().UTC(),
		})
	}
	return nil
}

// dispatch feeds queued documents to the pool without blocking the caller
func (o *Orchestrator) dispatch(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	runCtx := context.WithoutCancel(ctx)

	o.pending.Add(len(ids))
	go func() {
		for n, id := range ids {
			err := o.pool.Submit(func() {
				defer o.pending.Done()
				o.run(runCtx, id)
			})
			if err != nil {
				o.logger.Error("failed to queue reprocessing", "document_id", id, "error", err)
				// release every run that will never start
				for range ids[n:] {
					o.pending.Done()
				}
				return
			}
		}
	}()
}

func (o *Orchestrator) run(ctx context.Context, id string) {
	out, err := o.coord.Process(ctx, id)
	switch {
	case err != nil:
		metrics.ReparseItems.WithLabelValues("error").Inc()
		o.logger.Error("reprocessing failed", "document_id", id, "error", err)
	case out.AlreadyInProgress:
		// another submission picked the document up after reset
		metrics.ReparseItems.WithLabelValues(ReasonAlreadyProcessing).Inc()
	default:
		metrics.ReparseItems.WithLabelValues(string(out.Status)).Inc()
	}
}

func (o *Orchestrator) blacklist(ctx context.Context) (map[string]struct{}, error) {
	entries, err := o.store.ListBlacklist(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		out[e.Filename] = struct{}{}
	}
	return out, nil
}

func skippedCount(r *Receipt) int {
	n := 0
	for _, ids := range r.Skipped {
		n += len(ids)
	}
	return n
}

// SkipReasons lists the reasons present in a receipt, sorted
func SkipReasons(r *Receipt) []string {
	reasons := make([]string, 0, len(r.Skipped))
	for reason := range r.Skipped {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	return reasons
}

// Wait blocks until every queued reprocessing run has finished
func (o *Orchestrator) Wait() {
	o.pending.Wait()
}

// Release waits for queued runs and frees the pool
func (o *Orchestrator) Release() {
	if o.closed.Swap(true) {
		return
	}
	o.pending.Wait()
	o.pool.Release()
}
