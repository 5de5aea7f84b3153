package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dshills/docingest-mcp/internal/indexer"
	"github.com/dshills/docingest-mcp/internal/metrics"
	"github.com/dshills/docingest-mcp/internal/storage"
	"github.com/dshills/docingest-mcp/pkg/types"
)

const (
	DefaultInterval      = 30 * time.Second
	DefaultMaxConcurrent = 4
)

// Skip reasons reported in a CycleReport
const (
	ReasonBlacklisted = "blacklisted"
	ReasonInFlight    = "in_flight"
)

var ErrDirRequired = errors.New("watch directory is required")

// Entry is one file in the watched directory
type Entry struct {
	Name    string
	ModTime time.Time
	Size    int64
}

// Lister lists the regular files of a directory
type Lister interface {
	ListEntries(ctx context.Context, dir string) ([]Entry, error)
}

// DirLister lists a local directory, skipping subdirectories and dotfiles
type DirLister struct{}

func (DirLister) ListEntries(ctx context.Context, dir string) ([]Entry, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	out := make([]Entry, 0, len(des))
	for _, de := range des {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !de.Type().IsRegular() || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		out = append(out, Entry{Name: de.Name(), ModTime: info.ModTime(), Size: info.Size()})
	}
	return out, nil
}

// Submitter runs the pipeline for a file and reports in-flight documents
type Submitter interface {
	Ingest(ctx context.Context, path string) (*types.Document, indexer.Outcome, error)
	IsProcessing(ctx context.Context, documentID string) (bool, error)
}

// Config holds configuration for the reconciler.
type Config struct {
	Dir           string
	Interval      time.Duration // How often to scan (default: 30s)
	MaxConcurrent int           // Pipelines admitted at once (default: 4)
	Lister        Lister        // Optional: defaults to DirLister
	Accept        func(name string) bool
	Logger        *slog.Logger
}

// CycleReport summarizes one reconciliation pass
type CycleReport struct {
	Scanned   int
	Unchanged int
	Submitted []string
	// Deferred entries found no free slot and wait for a later cycle
	Deferred []string
	Skipped  map[string][]string
	Started  time.Time
	Duration time.Duration
}

// Reconciler periodically diffs a directory against recorded documents
// and submits new or changed files through a bounded admission gate.
type Reconciler struct {
	store    storage.Store
	sub      Submitter
	dir      string
	interval time.Duration
	lister   Lister
	accept   func(string) bool
	gate     *semaphore.Weighted
	slots    int
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	wg      sync.WaitGroup
}

// New creates a reconciler for cfg.Dir.
func New(store storage.Store, sub Submitter, cfg Config) (*Reconciler, error) {
	if cfg.Dir == "" {
		return nil, ErrDirRequired
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	slots := cfg.MaxConcurrent
	if slots <= 0 {
		slots = DefaultMaxConcurrent
	}
	lister := cfg.Lister
	if lister == nil {
		lister = DirLister{}
	}
	accept := cfg.Accept
	if accept == nil {
		accept = func(string) bool { return true }
	}

	return &Reconciler{
		store:    store,
		sub:      sub,
		dir:      cfg.Dir,
		interval: interval,
		lister:   lister,
		accept:   accept,
		gate:     semaphore.NewWeighted(int64(slots)),
		slots:    slots,
		logger:   logger.With("component", "watcher"),
		pending:  make(map[string]struct{}),
	}, nil
}

// Run reconciles immediately and then on every tick until ctx is done.
// It waits for admitted pipelines before returning.
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info("watcher starting", "dir", r.dir, "interval", r.interval, "max_concurrent", r.slots)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			r.Wait()
			r.logger.Info("watcher stopped")
			return nil
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reconciler) tick(ctx context.Context) {
	report, err := r.Cycle(ctx)
	if err != nil {
		r.logger.Error("watch cycle failed", "error", err)
		return
	}
	if len(report.Submitted) > 0 || len(report.Deferred) > 0 {
		r.logger.Info("watch cycle",
			"scanned", report.Scanned,
			"submitted", len(report.Submitted),
			"deferred", len(report.Deferred),
			"duration", report.Duration,
		)
	}
}

// Cycle runs one reconciliation pass. Admitted pipelines keep running
// after Cycle returns; use Wait to block on them.
func (r *Reconciler) Cycle(ctx context.Context) (*CycleReport, error) {
	report := &CycleReport{
		Submitted: []string{},
		Deferred:  []string{},
		Skipped:   map[string][]string{},
		Started:   time.Now(),
	}
	defer func() { report.Duration = time.Since(report.Started) }()

	entries, err := r.lister.ListEntries(ctx, r.dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(a, b int) bool { return entries[a].Name < entries[b].Name })

	known, err := r.known(ctx)
	if err != nil {
		return nil, err
	}
	blacklist, err := r.blacklist(ctx)
	if err != nil {
		return nil, err
	}

	for _, e := range entries {
		if !r.accept(e.Name) {
			continue
		}
		report.Scanned++

		if _, ok := blacklist[e.Name]; ok {
			r.skip(report, ReasonBlacklisted, e.Name)
			continue
		}
		if r.isPending(e.Name) {
			r.skip(report, ReasonInFlight, e.Name)
			continue
		}

		if doc, ok := known[e.Name]; ok {
			busy, err := r.sub.IsProcessing(ctx, doc.ID)
			if err != nil {
				return nil, err
			}
			if busy {
				r.skip(report, ReasonInFlight, e.Name)
				continue
			}
			if e.ModTime.Equal(doc.ModTime) {
				report.Unchanged++
				continue
			}
		}

		if !r.gate.TryAcquire(1) {
			report.Deferred = append(report.Deferred, e.Name)
			metrics.WatchSubmissions.WithLabelValues("deferred").Inc()
			continue
		}
		r.submit(ctx, e.Name)
		report.Submitted = append(report.Submitted, e.Name)
	}
	return report, nil
}

func (r *Reconciler) skip(report *CycleReport, reason, name string) {
	report.Skipped[reason] = append(report.Skipped[reason], name)
	metrics.WatchSubmissions.WithLabelValues(reason).Inc()
}

// submit runs the pipeline for name in its own goroutine; the caller holds a gate slot
func (r *Reconciler) submit(ctx context.Context, name string) {
	r.mu.Lock()
	r.pending[name] = struct{}{}
	r.mu.Unlock()

	runCtx := context.WithoutCancel(ctx)
	path := filepath.Join(r.dir, name)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.gate.Release(1)
		defer func() {
			r.mu.Lock()
			delete(r.pending, name)
			r.mu.Unlock()
		}()

		_, out, err := r.sub.Ingest(runCtx, path)
		switch {
		case err != nil:
			metrics.WatchSubmissions.WithLabelValues("error").Inc()
			r.logger.Error("failed to submit watched file", "file", name, "error", err)
		case out.Error != "":
			metrics.WatchSubmissions.WithLabelValues("failed").Inc()
			r.logger.Warn("watched file failed processing", "file", name, "document_id", out.DocumentID, "error", out.Error)
		default:
			metrics.WatchSubmissions.WithLabelValues("submitted").Inc()
			r.logger.Debug("watched file processed", "file", name, "document_id", out.DocumentID, "status", out.Status)
		}
	}()
}

func (r *Reconciler) isPending(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[name]
	return ok
}

func (r *Reconciler) known(ctx context.Context) (map[string]*types.Document, error) {
	docs, err := r.store.ListDocuments(ctx, storage.ListOptions{})
	if err != nil {
		return nil, err
	}
	out := make(map[string]*types.Document, len(docs))
	for _, d := range docs {
		out[d.Filename] = d
	}
	return out, nil
}

func (r *Reconciler) blacklist(ctx context.Context) (map[string]struct{}, error) {
	entries, err := r.store.ListBlacklist(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		out[e.Filename] = struct{}{}
	}
	return out, nil
}

// Wait blocks until every admitted pipeline has finished
func (r *Reconciler) Wait() {
	r.wg.Wait()
}
