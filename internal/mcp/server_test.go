package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/docingest-mcp/internal/embedder"
	"github.com/dshills/docingest-mcp/internal/events"
	"github.com/dshills/docingest-mcp/internal/index"
	"github.com/dshills/docingest-mcp/internal/indexer"
	"github.com/dshills/docingest-mcp/internal/registry"
	"github.com/dshills/docingest-mcp/internal/reparse"
	"github.com/dshills/docingest-mcp/internal/searcher"
	"github.com/dshills/docingest-mcp/internal/storage"
	"github.com/dshills/docingest-mcp/pkg/types"
)

type toolHandler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

type fixture struct {
	server   *Server
	store    storage.Store
	indexer  *indexer.Indexer
	registry *registry.Registry
	dir      string
}

func setupServer(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	idx, err := index.New(ctx, index.Config{Backend: index.BackendBadger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	emb, err := embedder.NewLocalProvider(nil)
	require.NoError(t, err)

	bus := events.NewBus(nil)
	ix, err := indexer.New(store, idx, emb, indexer.WithEvents(bus))
	require.NoError(t, err)
	t.Cleanup(ix.Release)

	orch, err := reparse.New(store, idx, ix, reparse.WithEvents(bus))
	require.NoError(t, err)
	t.Cleanup(orch.Release)

	reg := registry.New(registry.Options{})
	srv, err := NewServer(Config{
		Store:    store,
		Indexer:  ix,
		Searcher: searcher.NewSearcher(idx, emb),
		Reparse:  orch,
		Registry: reg,
		Bus:      bus,
	})
	require.NoError(t, err)

	return &fixture{server: srv, store: store, indexer: ix, registry: reg, dir: t.TempDir()}
}

// call invokes a handler and decodes its JSON text result
func call(t *testing.T, h toolHandler, args map[string]interface{}) (map[string]interface{}, error) {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args

	result, err := h(context.Background(), req)
	if err != nil {
		return nil, err
	}
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok, "result should be text content")

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out, nil
}

func errorCode(t *testing.T, err error) int {
	t.Helper()
	var mcpErr *MCPError
	require.True(t, errors.As(err, &mcpErr), "expected MCPError, got %v", err)
	return mcpErr.Code
}

// ingest writes a text file and runs submit_document with wait
func (f *fixture) ingest(t *testing.T, name, text string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(text), 0644))

	out, err := call(t, f.server.handleSubmitDocument, map[string]interface{}{"path": path, "wait": true})
	require.NoError(t, err)
	outcome := out["outcome"].(map[string]interface{})
	require.Equal(t, string(types.StatusProcessed), outcome["status"])
	return out["document"].(map[string]interface{})["id"].(string)
}

func TestNewServerRequiresCollaborators(t *testing.T) {
	_, err := NewServer(Config{})
	assert.Error(t, err)
}

func TestSubmitDocumentValidation(t *testing.T) {
	f := setupServer(t)

	_, err := call(t, f.server.handleSubmitDocument, map[string]interface{}{})
	assert.Equal(t, ErrorCodeInvalidParams, errorCode(t, err))

	_, err = call(t, f.server.handleSubmitDocument, map[string]interface{}{"path": "relative/file.txt"})
	assert.Equal(t, ErrorCodeInvalidParams, errorCode(t, err))
}

func TestSubmitReportsWhetherQueued(t *testing.T) {
	f := setupServer(t)
	ctx := context.Background()
	text := strings.Repeat("Sediment cores record centuries of lake level change. ", 30)
	id := f.ingest(t, "cores.txt", text)
	path := filepath.Join(f.dir, "cores.txt")

	// a reparse holds the lock after resetting the row to uploaded
	release, ok, err := f.indexer.Locks().TryAcquire(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, f.store.UpdateStatus(ctx, id, types.StatusUploaded, ""))

	out, err := call(t, f.server.handleSubmitDocument, map[string]interface{}{"path": path})
	require.NoError(t, err)
	assert.Equal(t, false, out["queued"], "a held document is not queued")

	release()
	out, err = call(t, f.server.handleSubmitDocument, map[string]interface{}{"path": path})
	require.NoError(t, err)
	assert.Equal(t, true, out["queued"])
	f.indexer.Wait()
}

func TestSubmitThenSearch(t *testing.T) {
	f := setupServer(t)
	text := strings.Repeat("Groundwater recharge depends on soil permeability and rainfall. ", 30)
	id := f.ingest(t, "hydrology.txt", text)

	out, err := call(t, f.server.handleSearchPassages, map[string]interface{}{
		"query": "Groundwater recharge depends on soil permeability and rainfall.",
		"limit": float64(5),
	})
	require.NoError(t, err)

	results := out["results"].([]interface{})
	require.NotEmpty(t, results)
	first := results[0].(map[string]interface{})
	assert.Equal(t, id, first["document_id"])
	assert.Equal(t, float64(1), first["rank"])
	assert.Equal(t, float64(5), out["limit"])
	assert.Equal(t, float64(0), out["offset"])
}

func TestSearchErrors(t *testing.T) {
	f := setupServer(t)

	tests := []struct {
		name string
		args map[string]interface{}
		code int
	}{
		{"empty query", map[string]interface{}{"query": "   "}, ErrorCodeEmptyQuery},
		{"missing query", map[string]interface{}{}, ErrorCodeEmptyQuery},
		{"limit too large", map[string]interface{}{"query": "x", "limit": float64(51)}, ErrorCodeInvalidParams},
		{"negative offset", map[string]interface{}{"query": "x", "offset": float64(-1)}, ErrorCodeInvalidParams},
		{"year range inverted", map[string]interface{}{
			"query":   "x",
			"filters": map[string]interface{}{"min_year": float64(2020), "max_year": float64(2010)},
		}, ErrorCodeValidationFailed},
		{"unknown document type", map[string]interface{}{
			"query":   "x",
			"filters": map[string]interface{}{"document_types": []interface{}{"novel"}},
		}, ErrorCodeValidationFailed},
		{"filters not an object", map[string]interface{}{"query": "x", "filters": "paper"}, ErrorCodeInvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := call(t, f.server.handleSearchPassages, tt.args)
			require.Error(t, err)
			assert.Equal(t, tt.code, errorCode(t, err))
		})
	}
}

func TestUpdateMetadataPropagatesToSearch(t *testing.T) {
	f := setupServer(t)
	query := "Tidal energy converters operate in shallow coastal channels."
	id := f.ingest(t, "tidal.txt", strings.Repeat(query+" ", 30))

	out, err := call(t, f.server.handleUpdateMetadata, map[string]interface{}{
		"document_id":      id,
		"publication_year": float64(2019),
		"authors":          []interface{}{"A. Marsh", "B. Reed"},
		"document_type":    "Report",
	})
	require.NoError(t, err)
	assert.Equal(t, true, out["updated"])

	filtered, err := call(t, f.server.handleSearchPassages, map[string]interface{}{
		"query":   query,
		"filters": map[string]interface{}{"min_year": float64(2019), "document_types": []interface{}{"report"}, "author": "marsh"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, filtered["results"])

	excluded, err := call(t, f.server.handleSearchPassages, map[string]interface{}{
		"query":   query,
		"filters": map[string]interface{}{"max_year": float64(2018)},
	})
	require.NoError(t, err)
	assert.Empty(t, excluded["results"])
}

func TestUpdateMetadataErrors(t *testing.T) {
	f := setupServer(t)
	id := f.ingest(t, "errors.txt", strings.Repeat("Metadata validation rejects bad input. ", 20))

	_, err := call(t, f.server.handleUpdateMetadata, map[string]interface{}{"document_id": id})
	assert.Equal(t, ErrorCodeInvalidParams, errorCode(t, err), "no fields")

	_, err = call(t, f.server.handleUpdateMetadata, map[string]interface{}{"document_id": id, "publication_year": float64(1850)})
	assert.Equal(t, ErrorCodeValidationFailed, errorCode(t, err))

	_, err = call(t, f.server.handleUpdateMetadata, map[string]interface{}{"document_id": id, "document_type": "novel"})
	assert.Equal(t, ErrorCodeValidationFailed, errorCode(t, err))

	_, err = call(t, f.server.handleUpdateMetadata, map[string]interface{}{"document_id": "missing", "title": "x"})
	assert.Equal(t, ErrorCodeDocumentNotFound, errorCode(t, err))
}

func TestDocumentLifecycleTools(t *testing.T) {
	f := setupServer(t)
	id := f.ingest(t, "lifecycle.txt", strings.Repeat("Documents move through a small set of states. ", 20))

	out, err := call(t, f.server.handleGetDocument, map[string]interface{}{"document_id": id})
	require.NoError(t, err)
	assert.Equal(t, false, out["in_progress"])
	doc := out["document"].(map[string]interface{})
	assert.Equal(t, string(types.StatusProcessed), doc["status"])

	listed, err := call(t, f.server.handleListDocuments, map[string]interface{}{"status": "processed", "filename": "life"})
	require.NoError(t, err)
	assert.Equal(t, float64(1), listed["count"])

	_, err = call(t, f.server.handleListDocuments, map[string]interface{}{"status": "done"})
	assert.Equal(t, ErrorCodeInvalidParams, errorCode(t, err))

	_, err = call(t, f.server.handleDeleteDocument, map[string]interface{}{"document_id": id})
	require.NoError(t, err)

	_, err = call(t, f.server.handleGetDocument, map[string]interface{}{"document_id": id})
	assert.Equal(t, ErrorCodeDocumentNotFound, errorCode(t, err))
}

func TestBlacklistTools(t *testing.T) {
	f := setupServer(t)

	_, err := call(t, f.server.handleBlacklistAdd, map[string]interface{}{"filename": "draft.pdf", "reason": "not final"})
	require.NoError(t, err)

	out, err := call(t, f.server.handleListBlacklist, nil)
	require.NoError(t, err)
	assert.Equal(t, float64(1), out["total"])

	_, err = call(t, f.server.handleBlacklistRemove, map[string]interface{}{"filename": "draft.pdf"})
	require.NoError(t, err)

	_, err = call(t, f.server.handleBlacklistRemove, map[string]interface{}{"filename": "draft.pdf"})
	assert.Equal(t, ErrorCodeDocumentNotFound, errorCode(t, err))
}

func TestReparseTool(t *testing.T) {
	f := setupServer(t)
	id := f.ingest(t, "reparse-me.txt", strings.Repeat("Reparse returns a receipt immediately. ", 20))

	_, err := call(t, f.server.handleReparseDocuments, map[string]interface{}{"mode": "some"})
	assert.Equal(t, ErrorCodeInvalidParams, errorCode(t, err))

	_, err = call(t, f.server.handleReparseDocuments, map[string]interface{}{"mode": "selected"})
	assert.Equal(t, ErrorCodeInvalidParams, errorCode(t, err))

	out, err := call(t, f.server.handleReparseDocuments, map[string]interface{}{
		"mode":    "selected",
		"targets": []interface{}{"reparse", "nothing-matches"},
	})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{id}, out["queued"])
	skipped := out["skipped"].(map[string]interface{})
	assert.Equal(t, []interface{}{"nothing-matches"}, skipped[reparse.ReasonNotFound])

	f.server.reparse.Wait()
}

func TestStatusAndConnections(t *testing.T) {
	f := setupServer(t)
	f.ingest(t, "status.txt", strings.Repeat("Status reports counts by state. ", 20))
	f.registry.Register(types.KindNotification, "127.0.0.1:5000")

	out, err := call(t, f.server.handleGetStatus, nil)
	require.NoError(t, err)
	stats := out["statistics"].(map[string]interface{})
	assert.Equal(t, float64(1), stats["documents"])
	assert.Empty(t, out["in_flight"])
	conns := out["connections"].(map[string]interface{})
	assert.Equal(t, float64(1), conns["notification_clients"])

	snap, err := call(t, f.server.handleGetConnections, nil)
	require.NoError(t, err)
	clients := snap["notification_clients"].(map[string]interface{})
	assert.Equal(t, float64(1), clients["total_active"])
}

func TestRebuildIndexRefusesNonEmptyIndex(t *testing.T) {
	f := setupServer(t)
	f.ingest(t, "rebuild.txt", strings.Repeat("Rebuild only fills an empty index. ", 20))

	_, err := call(t, f.server.handleRebuildIndex, nil)
	assert.Equal(t, ErrorCodeInvalidParams, errorCode(t, err))
}

// fakeSession is a minimal initialized protocol session
type fakeSession struct {
	id string
	ch chan mcp.JSONRPCNotification
}

func (s *fakeSession) Initialize()                                         {}
func (s *fakeSession) Initialized() bool                                   { return true }
func (s *fakeSession) NotificationChannel() chan<- mcp.JSONRPCNotification { return s.ch }
func (s *fakeSession) SessionID() string                                   { return s.id }

func TestSessionsAreTrackedAndNotified(t *testing.T) {
	f := setupServer(t)
	ctx := context.Background()
	session := &fakeSession{id: "session-1", ch: make(chan mcp.JSONRPCNotification, 4)}

	require.NoError(t, f.server.MCPServer().RegisterSession(ctx, session))
	assert.Equal(t, 1, f.registry.Active(types.KindSession))

	f.server.Notify(types.StatusEvent{
		DocumentID: "doc-1",
		Filename:   "a.pdf",
		Status:     types.StatusProcessing,
		Timestamp:  time.Now(),
	})

	select {
	case n := <-session.ch:
		assert.Equal(t, StatusNotification, n.Method)
		assert.Equal(t, "doc-1", n.Params.AdditionalFields["document_id"])
		assert.Equal(t, "processing", n.Params.AdditionalFields["status"])
	case <-time.After(time.Second):
		t.Fatal("no notification delivered")
	}

	rec, ok := f.registry.Get("session-1")
	require.True(t, ok)
	assert.Equal(t, int64(1), rec.MessagesSent)

	f.server.MCPServer().UnregisterSession(ctx, "session-1")
	assert.Equal(t, 0, f.registry.Active(types.KindSession))
	rec, ok = f.registry.Get("session-1")
	require.True(t, ok)
	assert.Equal(t, types.ConnDisconnected, rec.Status)
}

func TestParseMetadataUpdate(t *testing.T) {
	t.Run("absent keys leave fields unchanged", func(t *testing.T) {
		u, err := parseMetadataUpdate(map[string]interface{}{"document_id": "d"})
		require.NoError(t, err)
		assert.True(t, u.Empty())
	})

	t.Run("null clears", func(t *testing.T) {
		u, err := parseMetadataUpdate(map[string]interface{}{
			"publication_year": nil,
			"authors":          nil,
			"document_type":    nil,
			"title":            nil,
		})
		require.NoError(t, err)
		assert.True(t, u.SetPublicationYear)
		assert.Nil(t, u.PublicationYear)
		assert.True(t, u.SetAuthors)
		assert.Nil(t, u.Authors)
		assert.True(t, u.SetDocumentType)
		assert.Nil(t, u.DocumentType)
		assert.True(t, u.SetTitle)
		assert.Nil(t, u.Title)
	})

	t.Run("values", func(t *testing.T) {
		u, err := parseMetadataUpdate(map[string]interface{}{
			"publication_year": float64(2001),
			"authors":          []interface{}{"Ada", "Grace"},
			"document_type":    " Paper ",
			"title":            "On Things",
		})
		require.NoError(t, err)
		require.NotNil(t, u.PublicationYear)
		assert.Equal(t, 2001, *u.PublicationYear)
		assert.Equal(t, []string{"Ada", "Grace"}, u.Authors)
		require.NotNil(t, u.DocumentType)
		assert.Equal(t, types.TypePaper, *u.DocumentType)
		require.NotNil(t, u.Title)
		assert.Equal(t, "On Things", *u.Title)
	})

	t.Run("fractional year", func(t *testing.T) {
		_, err := parseMetadataUpdate(map[string]interface{}{"publication_year": 2001.5})
		assert.Equal(t, ErrorCodeInvalidParams, errorCode(t, err))
	})

	t.Run("authors wrong type", func(t *testing.T) {
		_, err := parseMetadataUpdate(map[string]interface{}{"authors": []interface{}{"a", 3.0}})
		assert.Equal(t, ErrorCodeInvalidParams, errorCode(t, err))
	})
}

func TestParseFilter(t *testing.T) {
	f, err := parseFilter(nil)
	require.NoError(t, err)
	assert.True(t, f.IsEmpty())

	f, err = parseFilter(map[string]interface{}{
		"min_year":       float64(2000),
		"max_year":       nil,
		"document_types": []interface{}{"Handbook", "manual"},
		"author":         "  smith ",
	})
	require.NoError(t, err)
	require.NotNil(t, f.MinYear)
	assert.Equal(t, 2000, *f.MinYear)
	assert.Nil(t, f.MaxYear)
	assert.Equal(t, []types.DocumentType{types.TypeHandbook, types.TypeManual}, f.DocumentTypes)
	assert.Equal(t, "smith", f.Author)
}

func TestToolErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{&types.ValidationError{Field: "year", Reason: "bad"}, ErrorCodeValidationFailed},
		{storage.ErrNotFound, ErrorCodeDocumentNotFound},
		{types.ErrAlreadyInProgress, ErrorCodeAlreadyInProgress},
		{searcher.ErrEmptyQuery, ErrorCodeEmptyQuery},
		{reparse.ErrNoTargets, ErrorCodeInvalidParams},
		{indexer.ErrIndexNotEmpty, ErrorCodeInvalidParams},
		{errors.New("disk full"), ErrorCodeInternalError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, errorCode(t, toolError(tt.err, "failed")), tt.err.Error())
	}
}
