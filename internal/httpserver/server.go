// Package httpserver serves the HTTP side of docingest: a server-sent event
// stream of document status changes, the connections snapshot, Prometheus
// metrics and a health check.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dshills/docingest-mcp/internal/events"
	"github.com/dshills/docingest-mcp/internal/registry"
	"github.com/dshills/docingest-mcp/pkg/types"
)

const (
	DefaultAddr      = "127.0.0.1:8088"
	DefaultHeartbeat = 25 * time.Second
	// StatusEventName is the SSE event name of status updates
	StatusEventName = "document_status"
)

// Config carries the server's dependencies. Bus and Registry are required.
type Config struct {
	Addr      string
	Bus       *events.Bus
	Registry  *registry.Registry
	Gatherer  prometheus.Gatherer
	Heartbeat time.Duration
	Logger    *slog.Logger
}

// Server is the HTTP notification surface
type Server struct {
	router    *chi.Mux
	server    *http.Server
	listener  net.Listener
	bus       *events.Bus
	registry  *registry.Registry
	heartbeat time.Duration
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds the router. Call Start to begin listening.
func New(cfg Config) (*Server, error) {
	if cfg.Bus == nil || cfg.Registry == nil {
		return nil, errors.New("event bus and registry are required")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		router:    chi.NewRouter(),
		bus:       cfg.Bus,
		registry:  cfg.Registry,
		heartbeat: cfg.Heartbeat,
		logger:    cfg.Logger.With("component", "http"),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.setupMiddleware()
	s.setupRoutes(cfg.Gatherer)

	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}
	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/events", s.handleEvents)
	s.router.Get("/connections", s.handleConnections)
	if gatherer != nil {
		s.router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler { return s.router }

// Start binds the listen address and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()

	s.logger.Info("HTTP server started", "addr", ln.Addr().String())
	return nil
}

// Addr is the bound address once started
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.server.Addr
	}
	return s.listener.Addr().String()
}

// Shutdown ends open event streams, then stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	err := s.server.Shutdown(ctx)
	s.wg.Wait()
	return err
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Snapshot())
}

// handleEvents streams status events until the client goes away or the
// server shuts down. The client is tracked in the registry for its lifetime.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming not supported"})
		return
	}

	ch, unsubscribe := s.bus.Subscribe(events.DefaultBuffer)
	defer unsubscribe()

	id := s.registry.Register(types.KindNotification, r.RemoteAddr)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Connection-Id", id)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			s.registry.Disconnect(id, "client closed")
			return

		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				s.registry.MarkError(id, err.Error())
				return
			}
			flusher.Flush()

		case ev, ok := <-ch:
			if !ok {
				s.registry.Disconnect(id, "server shutdown")
				return
			}
			if err := writeEvent(w, ev); err != nil {
				s.logger.Warn("event stream write failed", "connection_id", id, "error", err)
				s.registry.MarkError(id, err.Error())
				return
			}
			flusher.Flush()
			s.registry.MarkActivity(id, 1, 0)
		}
	}
}

func writeEvent(w http.ResponseWriter, ev types.StatusEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", StatusEventName, data)
	return err
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
