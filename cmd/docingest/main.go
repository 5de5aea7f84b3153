package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/dshills/docingest-mcp/internal/config"
	"github.com/dshills/docingest-mcp/internal/events"
	"github.com/dshills/docingest-mcp/internal/httpserver"
	"github.com/dshills/docingest-mcp/internal/mcp"
	"github.com/dshills/docingest-mcp/internal/metrics"
	"github.com/dshills/docingest-mcp/internal/reparse"
	"github.com/dshills/docingest-mcp/internal/searcher"
	"github.com/dshills/docingest-mcp/internal/storage"
	"github.com/dshills/docingest-mcp/internal/watcher"
	"github.com/dshills/docingest-mcp/pkg/types"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "docingest",
		Usage:   "Document ingestion pipeline with semantic passage search over MCP",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
				EnvVars: []string{config.EnvLogLevel},
			},
			&cli.StringFlag{
				Name:  "data-dir",
				Usage: "Directory holding the document store and passage index",
			},
			&cli.StringFlag{
				Name:  "db",
				Usage: "Document store: SQLite file or postgres:// DSN",
			},
			&cli.StringFlag{
				Name:  "index-backend",
				Usage: "Passage index backend (sqlite, badger)",
			},
			&cli.StringFlag{
				Name:  "index-path",
				Usage: "Passage index file (sqlite) or directory (badger)",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the MCP server on stdio with the watcher and notification endpoint",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "watch-dir", Usage: "Directory reconciled on every interval"},
					&cli.DurationFlag{Name: "watch-interval", Usage: "Time between reconciliation cycles"},
					&cli.IntFlag{Name: "max-concurrent", Usage: "Pipelines the watcher admits at once"},
					&cli.StringFlag{Name: "http-addr", Usage: "Listen address for events, connections and metrics (empty disables)"},
					&cli.StringFlag{Name: "webhook-url", Usage: "Forward status events to this URL as CloudEvents"},
					&cli.StringFlag{Name: "lock-backend", Usage: "Document lock table (local, redis)"},
					&cli.StringFlag{Name: "redis-url", Usage: "Redis URL for the redis lock backend"},
					&cli.StringFlag{Name: "archive-dir", Usage: "Keep structured-name copies of submitted files here"},
					&cli.StringFlag{Name: "gcs-bucket", Usage: "Keep structured-name copies in this Cloud Storage bucket"},
					&cli.BoolFlag{Name: "stdio", Usage: "Serve MCP on stdin/stdout", Value: true},
				},
			},
			{
				Name:      "ingest",
				Usage:     "Ingest files synchronously and print their outcomes",
				ArgsUsage: "<file>...",
				Action:    ingestCommand,
			},
			{
				Name:      "search",
				Usage:     "Search indexed passages",
				ArgsUsage: "<query>",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: searcher.DefaultLimit},
					&cli.IntFlag{Name: "offset"},
					&cli.IntFlag{Name: "min-year"},
					&cli.IntFlag{Name: "max-year"},
					&cli.StringSliceFlag{Name: "type", Usage: "Accepted document types"},
					&cli.StringFlag{Name: "author", Usage: "Author name substring"},
				},
			},
			{
				Name:   "reparse",
				Usage:  "Drop and rebuild passages for known documents",
				Action: reparseCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "all", Usage: "Every non-blacklisted document"},
					&cli.StringSliceFlag{Name: "target", Aliases: []string{"t"}, Usage: "Filename token to match"},
				},
			},
			{
				Name:   "rebuild",
				Usage:  "Repopulate an empty passage index from the document store",
				Action: rebuildCommand,
			},
			{
				Name:   "version",
				Usage:  "Print build information",
				Action: versionCommand,
			},
		},
	}
}

func setupLogger(c *cli.Context) error {
	level, err := config.ParseLevel(c.String("log-level"))
	if err != nil {
		return err
	}
	// stdout carries the MCP protocol
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return nil
}

// loadConfig overlays set flags on the environment configuration
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return cfg, err
	}

	strs := map[string]*string{
		"log-level":     &cfg.LogLevel,
		"data-dir":      &cfg.DataDir,
		"db":            &cfg.DBPath,
		"index-backend": &cfg.IndexBackend,
		"index-path":    &cfg.IndexPath,
		"watch-dir":     &cfg.WatchDir,
		"http-addr":     &cfg.HTTPAddr,
		"webhook-url":   &cfg.WebhookURL,
		"lock-backend":  &cfg.LockBackend,
		"redis-url":     &cfg.RedisURL,
		"archive-dir":   &cfg.ArchiveDir,
		"gcs-bucket":    &cfg.GCSBucket,
	}
	for name, dst := range strs {
		if c.IsSet(name) {
			*dst = c.String(name)
		}
	}
	if c.IsSet("watch-interval") {
		cfg.WatchInterval = c.Duration("watch-interval")
	}
	if c.IsSet("max-concurrent") {
		cfg.MaxConcurrent = c.Int("max-concurrent")
	}

	return cfg, cfg.Validate()
}

func open(c *cli.Context) (*components, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	return openComponents(c.Context, cfg, slog.Default())
}

func serveCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	comp, err := open(c)
	if err != nil {
		return err
	}
	defer func() { _ = comp.Close() }()
	cfg := comp.cfg
	logger := comp.logger

	slog.Info("docingest starting",
		"version", version,
		"build_mode", storage.BuildMode,
		"driver", storage.DriverName,
		"vector_extension", storage.VectorExtensionAvailable)

	if cfg.WebhookURL != "" {
		sink, err := events.NewCloudEventsSink(cfg.WebhookURL, events.WithSinkLogger(logger))
		if err != nil {
			return err
		}
		ch, unsubscribe := comp.bus.Subscribe(events.DefaultBuffer)
		defer unsubscribe()
		go sink.Run(ctx, ch)
	}

	if cfg.HTTPAddr != "" {
		srv, err := httpserver.New(httpserver.Config{
			Addr:     cfg.HTTPAddr,
			Bus:      comp.bus,
			Registry: comp.registry,
			Gatherer: metrics.Registry,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP server shutdown error", "error", err)
			}
		}()
	}

	watchDone := make(chan struct{})
	if cfg.WatchDir != "" {
		rec, err := watcher.New(comp.store, comp.indexer, watcher.Config{
			Dir:           cfg.WatchDir,
			Interval:      cfg.WatchInterval,
			MaxConcurrent: cfg.MaxConcurrent,
			Accept:        comp.extractors.Supported,
			Logger:        logger,
		})
		if err != nil {
			return err
		}
		go func() {
			defer close(watchDone)
			_ = rec.Run(ctx)
		}()
	} else {
		close(watchDone)
	}

	server, err := mcp.NewServer(mcp.Config{
		Store:    comp.store,
		Indexer:  comp.indexer,
		Searcher: comp.searcher,
		Reparse:  comp.reparse,
		Registry: comp.registry,
		Bus:      comp.bus,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	errChan := make(chan error, 1)
	if c.Bool("stdio") {
		go func() {
			slog.Info("MCP server ready, listening on stdio")
			errChan <- server.Serve(ctx, os.Stdin, os.Stdout)
		}()
	}

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping")
	case err = <-errChan:
		stop()
	}

	<-watchDone
	slog.Info("server stopped")
	return err
}

func ingestCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("at least one file is required")
	}
	comp, err := open(c)
	if err != nil {
		return err
	}
	defer func() { _ = comp.Close() }()

	w := c.App.Writer
	failed := 0
	for _, arg := range c.Args().Slice() {
		path, err := filepath.Abs(arg)
		if err != nil {
			return err
		}
		doc, out, err := comp.indexer.Ingest(c.Context, path)
		switch {
		case err != nil:
			failed++
			fmt.Fprintf(w, "%s\terror\t%v\n", arg, err)
		case out.AlreadyInProgress:
			fmt.Fprintf(w, "%s\t%s\talready in progress\n", doc.ID, arg)
		case out.Status == types.StatusFailed:
			failed++
			fmt.Fprintf(w, "%s\t%s\tfailed\t%s\n", doc.ID, arg, out.Error)
		default:
			fmt.Fprintf(w, "%s\t%s\t%s\tpages=%d passages=%d\n", doc.ID, arg, out.Status, out.Pages, out.Passages)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, c.NArg())
	}
	return nil
}

func searchCommand(c *cli.Context) error {
	query := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(query) == "" {
		return searcher.ErrEmptyQuery
	}

	var filter types.Filter
	if c.IsSet("min-year") {
		y := c.Int("min-year")
		filter.MinYear = &y
	}
	if c.IsSet("max-year") {
		y := c.Int("max-year")
		filter.MaxYear = &y
	}
	for _, name := range c.StringSlice("type") {
		t, ok := types.ParseDocumentType(name)
		if !ok {
			return &types.ValidationError{Field: "document_types", Reason: "unknown document type " + name}
		}
		filter.DocumentTypes = append(filter.DocumentTypes, t)
	}
	filter.Author = c.String("author")

	comp, err := open(c)
	if err != nil {
		return err
	}
	defer func() { _ = comp.Close() }()

	resp, err := comp.searcher.Search(c.Context, searcher.SearchRequest{
		Query:  query,
		Filter: filter,
		Limit:  c.Int("limit"),
		Offset: c.Int("offset"),
	})
	if err != nil {
		return err
	}

	w := c.App.Writer
	for i, hit := range resp.Hits {
		p := hit.Passage
		fmt.Fprintf(w, "%d. [%.3f] %s p.%d\n", resp.Offset+i+1, hit.Score, p.Source, p.Page)
		fmt.Fprintf(w, "   %s\n", snippet(p.Text, 200))
	}
	if resp.HasMore {
		fmt.Fprintf(w, "more results: --offset %d\n", resp.Offset+len(resp.Hits))
	}
	return nil
}

func snippet(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= n {
		return text
	}
	return text[:n] + "..."
}

func reparseCommand(c *cli.Context) error {
	req := reparse.Request{Mode: reparse.ModeSelected, Targets: c.StringSlice("target")}
	if c.Bool("all") {
		req = reparse.Request{Mode: reparse.ModeAll}
	}

	comp, err := open(c)
	if err != nil {
		return err
	}
	defer func() { _ = comp.Close() }()

	receipt, err := comp.reparse.Reparse(c.Context, req)
	if err != nil {
		return err
	}
	if err := printJSON(c, receipt); err != nil {
		return err
	}

	comp.reparse.Wait()
	fmt.Fprintf(c.App.Writer, "reprocessed %d documents\n", len(receipt.Queued))
	return nil
}

func rebuildCommand(c *cli.Context) error {
	comp, err := open(c)
	if err != nil {
		return err
	}
	defer func() { _ = comp.Close() }()

	stats, err := comp.indexer.Rebuild(c.Context)
	if err != nil {
		return err
	}
	return printJSON(c, stats)
}

func versionCommand(c *cli.Context) error {
	w := c.App.Writer
	fmt.Fprintf(w, "docingest MCP server\n")
	fmt.Fprintf(w, "Version: %s\n", version)
	fmt.Fprintf(w, "Build Time: %s\n", buildTime)
	fmt.Fprintf(w, "Build Mode: %s\n", storage.BuildMode)
	fmt.Fprintf(w, "SQLite Driver: %s\n", storage.DriverName)
	fmt.Fprintf(w, "Vector Extension: %v\n", storage.VectorExtensionAvailable)
	return nil
}

func printJSON(c *cli.Context, v interface{}) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
