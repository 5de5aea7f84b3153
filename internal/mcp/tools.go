package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/docingest-mcp/internal/indexer"
	"github.com/dshills/docingest-mcp/internal/reparse"
	"github.com/dshills/docingest-mcp/internal/searcher"
	"github.com/dshills/docingest-mcp/internal/storage"
	"github.com/dshills/docingest-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams     = -32602 // Invalid method parameters
	ErrorCodeInternalError     = -32603 // Internal JSON-RPC error
	ErrorCodeDocumentNotFound  = -32001 // Unknown document or blacklist entry
	ErrorCodeAlreadyInProgress = -32002 // A pipeline run holds the document
	ErrorCodeEmptyQuery        = -32004 // Query parameter is empty
	ErrorCodeValidationFailed  = -32005 // Metadata or filter out of range
)

const defaultListLimit = 100

// handleSubmitDocument handles the submit_document tool invocation
func (s *Server) handleSubmitDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, ok := args["path"].(string)
	if !ok || strings.TrimSpace(path) == "" {
		return nil, missingParam("path")
	}
	if !filepath.IsAbs(path) {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": ErrPathNotAbsolute.Error(),
		})
	}

	if getBoolDefault(args, "wait", false) {
		doc, out, err := s.indexer.Ingest(ctx, path)
		if err != nil {
			return nil, toolError(err, "submission failed")
		}
		return textResult(map[string]interface{}{
			"document": doc,
			"outcome":  out,
		}), nil
	}

	doc, queued, err := s.indexer.Submit(ctx, path)
	if err != nil {
		return nil, toolError(err, "submission failed")
	}
	return textResult(map[string]interface{}{
		"document": doc,
		"queued":   queued,
	}), nil
}

// handleSearchPassages handles the search_passages tool invocation
func (s *Server) handleSearchPassages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	filter, err := parseFilter(args["filters"])
	if err != nil {
		return nil, err
	}

	resp, err := s.searcher.Search(ctx, searcher.SearchRequest{
		Query:    query,
		Filter:   filter,
		Limit:    getIntDefault(args, "limit", searcher.DefaultLimit),
		Offset:   getIntDefault(args, "offset", 0),
		UseCache: true,
	})
	if err != nil {
		return nil, toolError(err, "search failed")
	}

	results := make([]map[string]interface{}, len(resp.Hits))
	for i, hit := range resp.Hits {
		p := hit.Passage
		results[i] = map[string]interface{}{
			"rank":        resp.Offset + i + 1,
			"score":       hit.Score,
			"passage_id":  p.ID,
			"document_id": p.DocumentID,
			"source":      p.Source,
			"page":        p.Page,
			"batch":       p.Batch,
			"text":        p.Text,
			"metadata":    p.Metadata,
		}
	}

	return textResult(map[string]interface{}{
		"results":     results,
		"has_more":    resp.HasMore,
		"limit":       resp.Limit,
		"offset":      resp.Offset,
		"duration_ms": resp.Duration.Milliseconds(),
	}), nil
}

// handleUpdateMetadata handles the update_metadata tool invocation
func (s *Server) handleUpdateMetadata(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	id, err := requireString(args, "document_id")
	if err != nil {
		return nil, err
	}

	update, err := parseMetadataUpdate(args)
	if err != nil {
		return nil, err
	}
	if update.Empty() {
		return nil, newMCPError(ErrorCodeInvalidParams, "no metadata fields given", nil)
	}

	doc, err := s.indexer.UpdateMetadata(ctx, id, update)
	if err != nil {
		return nil, toolError(err, "metadata update failed")
	}
	return textResult(map[string]interface{}{
		"updated":  true,
		"document": doc,
	}), nil
}

// handleReparseDocuments handles the reparse_documents tool invocation
func (s *Server) handleReparseDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	mode := reparse.Mode(getStringDefault(args, "mode", ""))
	targets, err := getStringSlice(args, "targets")
	if err != nil {
		return nil, err
	}

	receipt, err := s.reparse.Reparse(ctx, reparse.Request{Mode: mode, Targets: targets})
	if err != nil {
		return nil, toolError(err, "reparse failed")
	}
	return textResult(receipt), nil
}

func (s *Server) handleBlacklistAdd(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	filename, err := requireString(args, "filename")
	if err != nil {
		return nil, err
	}

	entry, err := s.indexer.AddBlacklist(ctx, filename, getStringDefault(args, "reason", ""))
	if err != nil {
		return nil, toolError(err, "failed to add blacklist entry")
	}
	return textResult(entry), nil
}

func (s *Server) handleBlacklistRemove(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	filename, err := requireString(args, "filename")
	if err != nil {
		return nil, err
	}

	if err := s.indexer.RemoveBlacklist(ctx, filename); err != nil {
		return nil, toolError(err, "failed to remove blacklist entry")
	}
	return textResult(map[string]interface{}{"removed": true, "filename": filename}), nil
}

func (s *Server) handleListBlacklist(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := s.store.ListBlacklist(ctx)
	if err != nil {
		return nil, toolError(err, "failed to list blacklist")
	}
	if entries == nil {
		entries = []*types.BlacklistEntry{}
	}
	return textResult(map[string]interface{}{"entries": entries, "total": len(entries)}), nil
}

func (s *Server) handleGetDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	id, err := requireString(args, "document_id")
	if err != nil {
		return nil, err
	}

	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return nil, toolError(err, "failed to get document")
	}
	busy, err := s.indexer.IsProcessing(ctx, id)
	if err != nil {
		return nil, toolError(err, "failed to check document lock")
	}
	return textResult(map[string]interface{}{
		"document":    doc,
		"in_progress": busy,
	}), nil
}

// handleListDocuments handles the list_documents tool invocation
func (s *Server) handleListDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})

	opts := storage.ListOptions{
		Limit:  getIntDefault(args, "limit", defaultListLimit),
		Offset: getIntDefault(args, "offset", 0),
	}
	if opts.Limit < 1 || opts.Offset < 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be positive and offset non-negative", nil)
	}
	if st := getStringDefault(args, "status", ""); st != "" {
		status := types.DocumentStatus(st)
		if !status.Valid() {
			return nil, newMCPError(ErrorCodeInvalidParams, "invalid status", map[string]interface{}{
				"param": "status",
				"value": st,
			})
		}
		opts.Statuses = []types.DocumentStatus{status}
	}
	if name := strings.TrimSpace(getStringDefault(args, "filename", "")); name != "" {
		opts.FilenameTokens = []string{name}
	}

	docs, err := s.store.ListDocuments(ctx, opts)
	if err != nil {
		return nil, toolError(err, "failed to list documents")
	}
	if docs == nil {
		docs = []*types.Document{}
	}
	return textResult(map[string]interface{}{
		"documents": docs,
		"count":     len(docs),
		"limit":     opts.Limit,
		"offset":    opts.Offset,
	}), nil
}

func (s *Server) handleDeleteDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	id, err := requireString(args, "document_id")
	if err != nil {
		return nil, err
	}

	if err := s.indexer.DeleteDocument(ctx, id); err != nil {
		return nil, toolError(err, "failed to delete document")
	}
	return textResult(map[string]interface{}{"deleted": true, "document_id": id}), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, toolError(err, "failed to get status")
	}
	held, err := s.indexer.Locks().Held(ctx)
	if err != nil {
		return nil, toolError(err, "failed to list in-flight documents")
	}
	if held == nil {
		held = []string{}
	}

	response := map[string]interface{}{
		"statistics": stats,
		"in_flight":  held,
	}
	if s.bus != nil {
		response["events"] = map[string]interface{}{
			"subscribers": s.bus.Subscribers(),
			"dropped":     s.bus.Dropped(),
		}
	}
	if s.registry != nil {
		response["connections"] = map[string]interface{}{
			"notification_clients": s.registry.Active(types.KindNotification),
			"protocol_sessions":    s.registry.Active(types.KindSession),
		}
	}
	return textResult(response), nil
}

func (s *Server) handleGetConnections(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.registry == nil {
		return nil, newMCPError(ErrorCodeInternalError, "connection registry not configured", nil)
	}
	return textResult(s.registry.Snapshot()), nil
}

func (s *Server) handleRebuildIndex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.indexer.Rebuild(ctx)
	if err != nil {
		return nil, toolError(err, "rebuild failed")
	}

	response := map[string]interface{}{
		"documents":   stats.Documents,
		"processed":   stats.Processed,
		"failed":      stats.Failed,
		"in_progress": stats.InProgress,
		"passages":    stats.Passages,
		"duration_ms": stats.Duration.Milliseconds(),
	}
	if n := len(stats.ErrorMessages); n > 0 {
		// Include first few errors
		if n > 5 {
			response["errors"] = stats.ErrorMessages[:5]
			response["error_count"] = n
		} else {
			response["errors"] = stats.ErrorMessages
		}
	}
	return textResult(response), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

func missingParam(name string) error {
	return newMCPError(ErrorCodeInvalidParams, name+" parameter is required", map[string]interface{}{
		"param":  name,
		"reason": "missing or empty",
	})
}

// toolError maps domain errors onto MCP error codes
func toolError(err error, message string) error {
	var ve *types.ValidationError
	switch {
	case errors.As(err, &ve):
		return newMCPError(ErrorCodeValidationFailed, "validation failed", map[string]interface{}{
			"field":  ve.Field,
			"reason": ve.Reason,
		})
	case errors.Is(err, types.ErrNotFound):
		return newMCPError(ErrorCodeDocumentNotFound, "not found", map[string]interface{}{"error": err.Error()})
	case errors.Is(err, types.ErrAlreadyInProgress):
		return newMCPError(ErrorCodeAlreadyInProgress, "document is being processed, retry shortly", nil)
	case errors.Is(err, searcher.ErrEmptyQuery):
		return newMCPError(ErrorCodeEmptyQuery, err.Error(), nil)
	case errors.Is(err, searcher.ErrInvalidLimit),
		errors.Is(err, searcher.ErrNegativeSkip),
		errors.Is(err, reparse.ErrInvalidMode),
		errors.Is(err, reparse.ErrNoTargets),
		errors.Is(err, indexer.ErrIndexNotEmpty):
		return newMCPError(ErrorCodeInvalidParams, err.Error(), nil)
	default:
		return newMCPError(ErrorCodeInternalError, message, map[string]interface{}{"error": err.Error()})
	}
}

// textResult renders v as indented JSON text content
func textResult(v interface{}) *mcp.CallToolResult {
	return mcp.NewToolResultText(formatJSON(v))
}

// formatJSON formats a value as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

func requireString(args map[string]interface{}, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", missingParam(key)
	}
	return strings.TrimSpace(v), nil
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// getStringSlice extracts an optional array of strings
func getStringSlice(args map[string]interface{}, key string) ([]string, error) {
	raw, present := args[key]
	if !present || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, newMCPError(ErrorCodeInvalidParams, key+" must contain only strings", map[string]interface{}{"param": key})
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, newMCPError(ErrorCodeInvalidParams, key+" must be an array of strings", map[string]interface{}{"param": key})
	}
}

// getYear reads an integral JSON number
func getYear(key string, raw interface{}) (int, error) {
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case int:
		return v, nil
	default:
		return 0, newMCPError(ErrorCodeInvalidParams, key+" must be an integer", map[string]interface{}{"param": key})
	}
	if f != math.Trunc(f) {
		return 0, newMCPError(ErrorCodeInvalidParams, key+" must be an integer", map[string]interface{}{"param": key, "value": f})
	}
	return int(f), nil
}

// parseFilter converts the filters object of search_passages
func parseFilter(raw interface{}) (types.Filter, error) {
	var f types.Filter
	if raw == nil {
		return f, nil
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return f, newMCPError(ErrorCodeInvalidParams, "filters must be an object", nil)
	}

	for _, key := range []string{"min_year", "max_year"} {
		v, present := m[key]
		if !present || v == nil {
			continue
		}
		year, err := getYear(key, v)
		if err != nil {
			return f, err
		}
		if key == "min_year" {
			f.MinYear = &year
		} else {
			f.MaxYear = &year
		}
	}

	typeNames, err := getStringSlice(m, "document_types")
	if err != nil {
		return f, err
	}
	for _, name := range typeNames {
		t, ok := types.ParseDocumentType(name)
		if !ok {
			return f, newMCPError(ErrorCodeValidationFailed, "validation failed", map[string]interface{}{
				"field":   "document_types",
				"reason":  "unknown document type " + name,
				"allowed": documentTypeNames(),
			})
		}
		f.DocumentTypes = append(f.DocumentTypes, t)
	}

	f.Author = strings.TrimSpace(getStringDefault(m, "author", ""))
	return f, nil
}

// parseMetadataUpdate reads update_metadata fields. A present null clears
// the field; an absent key leaves it unchanged.
func parseMetadataUpdate(args map[string]interface{}) (types.MetadataUpdate, error) {
	var u types.MetadataUpdate

	if v, present := args["publication_year"]; present {
		u.SetPublicationYear = true
		if v != nil {
			year, err := getYear("publication_year", v)
			if err != nil {
				return u, err
			}
			u.PublicationYear = &year
		}
	}

	if _, present := args["authors"]; present {
		authors, err := getStringSlice(args, "authors")
		if err != nil {
			return u, err
		}
		u.SetAuthors = true
		u.Authors = authors
	}

	if v, present := args["document_type"]; present {
		u.SetDocumentType = true
		switch t := v.(type) {
		case nil:
		case string:
			if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
				dt := types.DocumentType(t)
				u.DocumentType = &dt
			}
		default:
			return u, newMCPError(ErrorCodeInvalidParams, "document_type must be a string", map[string]interface{}{"param": "document_type"})
		}
	}

	if v, present := args["title"]; present {
		u.SetTitle = true
		switch t := v.(type) {
		case nil:
		case string:
			if t = strings.TrimSpace(t); t != "" {
				u.Title = &t
			}
		default:
			return u, newMCPError(ErrorCodeInvalidParams, "title must be a string", map[string]interface{}{"param": "title"})
		}
	}

	return u, nil
}

// Validation helpers

var (
	ErrPathNotAbsolute = errors.New("path must be absolute")
)
