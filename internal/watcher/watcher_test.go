package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/docingest-mcp/internal/embedder"
	"github.com/dshills/docingest-mcp/internal/index"
	"github.com/dshills/docingest-mcp/internal/indexer"
	"github.com/dshills/docingest-mcp/internal/storage"
	"github.com/dshills/docingest-mcp/pkg/types"
)

// fakeSubmitter records files in the store the way the coordinator does,
// optionally blocking every run on gate.
type fakeSubmitter struct {
	store storage.Store
	gate  chan struct{}

	mu    sync.Mutex
	paths []string
	busy  map[string]bool

	running atomic.Int32
	peak    atomic.Int32
}

func newFakeSubmitter(store storage.Store) *fakeSubmitter {
	return &fakeSubmitter{store: store, busy: map[string]bool{}}
}

func (f *fakeSubmitter) Ingest(ctx context.Context, path string) (*types.Document, indexer.Outcome, error) {
	cur := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		p := f.peak.Load()
		if cur <= p || f.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	if f.gate != nil {
		<-f.gate
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, indexer.Outcome{}, err
	}
	name := filepath.Base(path)
	doc, err := f.store.GetDocumentByFilename(ctx, name)
	switch {
	case errors.Is(err, types.ErrNotFound):
		doc = &types.Document{Filename: name, Path: path, Status: types.StatusUploaded, ModTime: info.ModTime()}
		if err := f.store.CreateDocument(ctx, doc); err != nil {
			return nil, indexer.Outcome{}, err
		}
	case err != nil:
		return nil, indexer.Outcome{}, err
	default:
		if err := f.store.UpdateSource(ctx, doc.ID, path, info.ModTime()); err != nil {
			return nil, indexer.Outcome{}, err
		}
	}

	f.mu.Lock()
	f.paths = append(f.paths, name)
	f.mu.Unlock()
	return doc, indexer.Outcome{DocumentID: doc.ID, Status: types.StatusProcessed}, nil
}

func (f *fakeSubmitter) IsProcessing(ctx context.Context, documentID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy[documentID], nil
}

func (f *fakeSubmitter) submitted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func setupStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func touch(t *testing.T, path string, at time.Time) {
	t.Helper()
	require.NoError(t, os.Chtimes(path, at, at))
}

func TestNewRequiresDir(t *testing.T) {
	_, err := New(setupStore(t), newFakeSubmitter(nil), Config{})
	assert.ErrorIs(t, err, ErrDirRequired)
}

func TestCycleSubmitsNewAndChanged(t *testing.T) {
	store := setupStore(t)
	sub := newFakeSubmitter(store)
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "alpha")
	writeFile(t, dir, "b.txt", "beta")

	r, err := New(store, sub, Config{Dir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	report, err := r.Cycle(ctx)
	require.NoError(t, err)
	r.Wait()
	assert.Equal(t, []string{"a.txt", "b.txt"}, report.Submitted)
	assert.Equal(t, 2, report.Scanned)

	report, err = r.Cycle(ctx)
	require.NoError(t, err)
	r.Wait()
	assert.Empty(t, report.Submitted)
	assert.Equal(t, 2, report.Unchanged)

	touch(t, a, time.Now().Add(time.Hour))
	report, err = r.Cycle(ctx)
	require.NoError(t, err)
	r.Wait()
	assert.Equal(t, []string{"a.txt"}, report.Submitted)
	assert.Equal(t, 1, report.Unchanged)

	assert.ElementsMatch(t, []string{"a.txt", "b.txt", "a.txt"}, sub.submitted())
}

func TestBlacklistedFilesAreNeverSubmitted(t *testing.T) {
	store := setupStore(t)
	sub := newFakeSubmitter(store)
	dir := t.TempDir()
	secret := writeFile(t, dir, "secret.txt", "classified")
	writeFile(t, dir, "public.txt", "open")
	require.NoError(t, store.AddBlacklist(context.Background(), &types.BlacklistEntry{Filename: "secret.txt", Reason: "private"}))

	r, err := New(store, sub, Config{Dir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		touch(t, secret, time.Now().Add(time.Duration(i+1)*time.Minute))
		report, err := r.Cycle(ctx)
		require.NoError(t, err)
		r.Wait()
		assert.Equal(t, []string{"secret.txt"}, report.Skipped[ReasonBlacklisted])
	}

	assert.Equal(t, []string{"public.txt"}, sub.submitted())
	_, err = store.GetDocumentByFilename(ctx, "secret.txt")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestAdmissionGateBoundsConcurrency(t *testing.T) {
	store := setupStore(t)
	sub := newFakeSubmitter(store)
	sub.gate = make(chan struct{})
	dir := t.TempDir()
	for _, name := range []string{"1.txt", "2.txt", "3.txt", "4.txt", "5.txt"} {
		writeFile(t, dir, name, name)
	}

	r, err := New(store, sub, Config{Dir: dir, MaxConcurrent: 2})
	require.NoError(t, err)
	ctx := context.Background()

	report, err := r.Cycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.txt", "2.txt"}, report.Submitted)
	assert.Equal(t, []string{"3.txt", "4.txt", "5.txt"}, report.Deferred)

	// Still blocked: admitted files are in flight, the rest wait again
	report, err = r.Cycle(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Submitted)
	assert.Equal(t, []string{"1.txt", "2.txt"}, report.Skipped[ReasonInFlight])
	assert.Equal(t, []string{"3.txt", "4.txt", "5.txt"}, report.Deferred)

	close(sub.gate)
	r.Wait()

	// Deferred files are picked up by later cycles
	for i := 0; i < 3 && len(sub.submitted()) < 5; i++ {
		_, err = r.Cycle(ctx)
		require.NoError(t, err)
		r.Wait()
	}

	assert.LessOrEqual(t, sub.peak.Load(), int32(2))
	assert.Len(t, sub.submitted(), 5)
}

func TestInFlightDocumentIsSkipped(t *testing.T) {
	store := setupStore(t)
	sub := newFakeSubmitter(store)
	dir := t.TempDir()
	path := writeFile(t, dir, "busy.txt", "text")

	doc := &types.Document{Filename: "busy.txt", Path: path, Status: types.StatusProcessing}
	require.NoError(t, store.CreateDocument(context.Background(), doc))
	sub.busy[doc.ID] = true

	r, err := New(store, sub, Config{Dir: dir})
	require.NoError(t, err)

	report, err := r.Cycle(context.Background())
	require.NoError(t, err)
	r.Wait()
	assert.Equal(t, []string{"busy.txt"}, report.Skipped[ReasonInFlight])
	assert.Empty(t, sub.submitted())
}

func TestAcceptFilter(t *testing.T) {
	store := setupStore(t)
	sub := newFakeSubmitter(store)
	dir := t.TempDir()
	writeFile(t, dir, "keep.txt", "k")
	writeFile(t, dir, "skip.tmp", "s")

	r, err := New(store, sub, Config{
		Dir:    dir,
		Accept: func(name string) bool { return filepath.Ext(name) == ".txt" },
	})
	require.NoError(t, err)

	report, err := r.Cycle(context.Background())
	require.NoError(t, err)
	r.Wait()
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, []string{"keep.txt"}, sub.submitted())
}

func TestDirLister(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "doc.pdf", "pdf")
	writeFile(t, dir, ".hidden", "h")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))

	entries, err := DirLister{}.ListEntries(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "doc.pdf", entries[0].Name)
	assert.Equal(t, int64(3), entries[0].Size)
	assert.False(t, entries[0].ModTime.IsZero())

	_, err = DirLister{}.ListEntries(context.Background(), filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	store := setupStore(t)
	sub := newFakeSubmitter(store)
	dir := t.TempDir()
	writeFile(t, dir, "tick.txt", "t")

	r, err := New(store, sub, Config{Dir: dir, Interval: 10 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	assert.Eventually(t, func() bool { return len(sub.submitted()) == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Len(t, sub.submitted(), 1, "unchanged file must not be resubmitted")
}

func TestReconcilerWithCoordinator(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)

	idx, err := index.New(ctx, index.Config{Backend: index.BackendBadger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	emb, err := embedder.NewLocalProvider(nil)
	require.NoError(t, err)

	ix, err := indexer.New(store, idx, emb)
	require.NoError(t, err)
	t.Cleanup(ix.Release)

	dir := t.TempDir()
	writeFile(t, dir, "notes.txt", "Passages are embedded and indexed with their document metadata.\fSecond page text.")

	r, err := New(store, ix, Config{Dir: dir})
	require.NoError(t, err)

	report, err := r.Cycle(ctx)
	require.NoError(t, err)
	r.Wait()
	require.Equal(t, []string{"notes.txt"}, report.Submitted)

	doc, err := store.GetDocumentByFilename(ctx, "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, types.StatusProcessed, doc.Status)
	assert.Equal(t, 2, doc.PageCount)

	count, err := idx.Count(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.PassageCount, count)
	assert.Positive(t, count)
}
