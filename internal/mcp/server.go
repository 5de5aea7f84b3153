package mcp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/docingest-mcp/internal/events"
	"github.com/dshills/docingest-mcp/internal/indexer"
	"github.com/dshills/docingest-mcp/internal/registry"
	"github.com/dshills/docingest-mcp/internal/reparse"
	"github.com/dshills/docingest-mcp/internal/searcher"
	"github.com/dshills/docingest-mcp/internal/storage"
	"github.com/dshills/docingest-mcp/pkg/types"
)

const (
	// ServerName is the MCP server name
	ServerName = "docingest-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
	// StatusNotification is the method of document status notifications
	StatusNotification = "notifications/document_status"
	// stdioPeer labels the single stdio session in the registry
	stdioPeer = "stdio"
)

// Config carries the server's collaborators. Store, Indexer, Searcher and
// Reparse are required.
type Config struct {
	Store    storage.Store
	Indexer  *indexer.Indexer
	Searcher *searcher.Searcher
	Reparse  *reparse.Orchestrator
	Registry *registry.Registry
	Bus      *events.Bus
	Logger   *slog.Logger
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	store    storage.Store
	indexer  *indexer.Indexer
	searcher *searcher.Searcher
	reparse  *reparse.Orchestrator
	registry *registry.Registry
	bus      *events.Bus
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]struct{}
}

// NewServer creates a new MCP server instance
func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil || cfg.Indexer == nil || cfg.Searcher == nil || cfg.Reparse == nil {
		return nil, errors.New("store, indexer, searcher and reparse orchestrator are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		store:    cfg.Store,
		indexer:  cfg.Indexer,
		searcher: cfg.Searcher,
		reparse:  cfg.Reparse,
		registry: cfg.Registry,
		bus:      cfg.Bus,
		logger:   logger.With("component", "mcp"),
		sessions: make(map[string]struct{}),
	}

	hooks := &server.Hooks{}
	hooks.AddOnRegisterSession(s.onRegisterSession)
	hooks.AddOnUnregisterSession(s.onUnregisterSession)

	s.mcp = server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
		server.WithHooks(hooks),
		server.WithToolHandlerMiddleware(s.trackActivity),
		server.WithRecovery(),
	)

	s.registerTools()
	return s, nil
}

// MCPServer exposes the underlying protocol server
func (s *Server) MCPServer() *server.MCPServer { return s.mcp }

// Serve runs the MCP protocol on stdio until ctx is done or stdin closes.
// Status events are forwarded to connected sessions while it runs.
func (s *Server) Serve(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.bus != nil {
		ch, unsubscribe := s.bus.Subscribe(events.DefaultBuffer)
		defer unsubscribe()
		go s.forward(ctx, ch)
	}

	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	err := stdio.Listen(ctx, stdin, stdout)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(submitDocumentTool(), s.handleSubmitDocument)
	s.mcp.AddTool(searchPassagesTool(), s.handleSearchPassages)
	s.mcp.AddTool(updateMetadataTool(), s.handleUpdateMetadata)
	s.mcp.AddTool(reparseDocumentsTool(), s.handleReparseDocuments)
	s.mcp.AddTool(blacklistAddTool(), s.handleBlacklistAdd)
	s.mcp.AddTool(blacklistRemoveTool(), s.handleBlacklistRemove)
	s.mcp.AddTool(listBlacklistTool(), s.handleListBlacklist)
	s.mcp.AddTool(getDocumentTool(), s.handleGetDocument)
	s.mcp.AddTool(listDocumentsTool(), s.handleListDocuments)
	s.mcp.AddTool(deleteDocumentTool(), s.handleDeleteDocument)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	s.mcp.AddTool(getConnectionsTool(), s.handleGetConnections)
	s.mcp.AddTool(rebuildIndexTool(), s.handleRebuildIndex)
}

func (s *Server) onRegisterSession(ctx context.Context, session server.ClientSession) {
	id := session.SessionID()
	s.mu.Lock()
	s.sessions[id] = struct{}{}
	s.mu.Unlock()
	if s.registry != nil {
		s.registry.RegisterID(id, types.KindSession, stdioPeer)
	}
	s.logger.Info("session registered", "session_id", id)
}

func (s *Server) onUnregisterSession(ctx context.Context, session server.ClientSession) {
	id := session.SessionID()
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	if s.registry != nil {
		s.registry.Disconnect(id, "session closed")
	}
	s.logger.Info("session closed", "session_id", id)
}

// trackActivity counts each tool call as one message in and one out
func (s *Server) trackActivity(next server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := next(ctx, request)
		if s.registry != nil {
			if session := server.ClientSessionFromContext(ctx); session != nil {
				s.registry.MarkActivity(session.SessionID(), 1, 1)
			}
		}
		if err != nil {
			s.logger.Debug("tool call failed", "tool", request.Params.Name, "error", err)
		}
		return result, err
	}
}

// forward sends every status event to all sessions until ctx is done
func (s *Server) forward(ctx context.Context, ch <-chan types.StatusEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.Notify(ev)
		}
	}
}

// Notify broadcasts one status event to every connected session
func (s *Server) Notify(ev types.StatusEvent) {
	params := map[string]any{
		"document_id": ev.DocumentID,
		"filename":    ev.Filename,
		"status":      string(ev.Status),
		"timestamp":   ev.Timestamp,
	}
	if ev.Error != "" {
		params["error"] = ev.Error
	}
	if ev.PassageCount > 0 {
		params["passage_count"] = ev.PassageCount
	}
	s.mcp.SendNotificationToAllClients(StatusNotification, params)

	if s.registry == nil {
		return
	}
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.registry.MarkActivity(id, 1, 0)
	}
}
