// Package config collects the runtime settings of docingest. Values start
// from Default, are overlaid from DOCINGEST_* environment variables by
// FromEnv and finally from command-line flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/docingest-mcp/internal/embedder"
	"github.com/dshills/docingest-mcp/internal/index"
	"github.com/dshills/docingest-mcp/internal/registry"
	"github.com/dshills/docingest-mcp/internal/reparse"
	"github.com/dshills/docingest-mcp/internal/watcher"
)

// Environment variables read by FromEnv
const (
	EnvDataDir          = "DOCINGEST_DATA_DIR"
	EnvDBPath           = "DOCINGEST_DB_PATH"
	EnvIndexBackend     = "DOCINGEST_INDEX_BACKEND"
	EnvIndexPath        = "DOCINGEST_INDEX_PATH"
	EnvWatchDir         = "DOCINGEST_WATCH_DIR"
	EnvWatchInterval    = "DOCINGEST_WATCH_INTERVAL"
	EnvMaxConcurrent    = "DOCINGEST_MAX_CONCURRENT"
	EnvPipelineWorkers  = "DOCINGEST_PIPELINE_WORKERS"
	EnvReparseWorkers   = "DOCINGEST_REPARSE_WORKERS"
	EnvLockBackend      = "DOCINGEST_LOCK_BACKEND"
	EnvRedisURL         = "DOCINGEST_REDIS_URL"
	EnvArchiveDir       = "DOCINGEST_ARCHIVE_DIR"
	EnvGCSBucket        = "DOCINGEST_GCS_BUCKET"
	EnvGCSPrefix        = "DOCINGEST_GCS_PREFIX"
	EnvGCSEndpoint      = "DOCINGEST_GCS_ENDPOINT"
	EnvMetadataModel    = "DOCINGEST_METADATA_MODEL"
	EnvMetadataBaseURL  = "DOCINGEST_METADATA_BASE_URL"
	EnvMetadataToken    = "DOCINGEST_METADATA_TOKEN"
	EnvWebhookURL       = "DOCINGEST_WEBHOOK_URL"
	EnvHTTPAddr         = "DOCINGEST_HTTP_ADDR"
	EnvHistorySize      = "DOCINGEST_HISTORY_SIZE"
	EnvHistoryRetention = "DOCINGEST_HISTORY_RETENTION"
	EnvLogLevel         = "DOCINGEST_LOG_LEVEL"
)

// Lock backends
const (
	LockLocal = "local"
	LockRedis = "redis"
)

const DefaultHTTPAddr = "127.0.0.1:8088"

// ErrInvalid wraps every validation failure
var ErrInvalid = errors.New("invalid configuration")

// Config holds every setting
type Config struct {
	DataDir string
	// DBPath is a SQLite file or a postgres:// DSN; empty means DataDir/docingest.db
	DBPath       string
	IndexBackend string
	// IndexPath is the index file or directory; empty derives it from DataDir
	IndexPath string

	WatchDir        string
	WatchInterval   time.Duration
	MaxConcurrent   int
	PipelineWorkers int
	ReparseWorkers  int

	LockBackend string
	RedisURL    string

	ArchiveDir  string
	GCSBucket   string
	GCSPrefix   string
	GCSEndpoint string

	EmbeddingProvider string
	EmbeddingModel    string
	EmbeddingBaseURL  string

	MetadataModel   string
	MetadataBaseURL string
	MetadataToken   string

	WebhookURL string
	// HTTPAddr is the notification listener; empty disables it
	HTTPAddr string

	HistorySize      int
	HistoryRetention time.Duration

	LogLevel string
}

// Default returns the built-in settings
func Default() Config {
	return Config{
		DataDir:           defaultDataDir(),
		IndexBackend:      index.BackendSQLite,
		WatchInterval:     watcher.DefaultInterval,
		MaxConcurrent:     watcher.DefaultMaxConcurrent,
		ReparseWorkers:    reparse.DefaultPoolSize,
		LockBackend:       LockLocal,
		EmbeddingProvider: embedder.ProviderLocal,
		HTTPAddr:          DefaultHTTPAddr,
		HistorySize:       registry.DefaultHistorySize,
		HistoryRetention:  registry.DefaultRetention,
		LogLevel:          "info",
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".docingest"
	}
	return filepath.Join(home, ".docingest")
}

// FromEnv returns Default overlaid with the environment
func FromEnv() (Config, error) {
	cfg := Default()
	cfg.EmbeddingProvider = embedder.DetectProvider()

	strs := map[string]*string{
		EnvDataDir:          &cfg.DataDir,
		EnvDBPath:           &cfg.DBPath,
		EnvIndexBackend:     &cfg.IndexBackend,
		EnvIndexPath:        &cfg.IndexPath,
		EnvWatchDir:         &cfg.WatchDir,
		EnvLockBackend:      &cfg.LockBackend,
		EnvRedisURL:         &cfg.RedisURL,
		EnvArchiveDir:       &cfg.ArchiveDir,
		EnvGCSBucket:        &cfg.GCSBucket,
		EnvGCSPrefix:        &cfg.GCSPrefix,
		EnvGCSEndpoint:      &cfg.GCSEndpoint,
		embedder.EnvModel:   &cfg.EmbeddingModel,
		embedder.EnvBaseURL: &cfg.EmbeddingBaseURL,
		EnvMetadataModel:    &cfg.MetadataModel,
		EnvMetadataBaseURL:  &cfg.MetadataBaseURL,
		EnvMetadataToken:    &cfg.MetadataToken,
		EnvWebhookURL:       &cfg.WebhookURL,
		EnvLogLevel:         &cfg.LogLevel,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	// an explicitly empty address turns the listener off
	if v, ok := os.LookupEnv(EnvHTTPAddr); ok {
		cfg.HTTPAddr = v
	}

	ints := map[string]*int{
		EnvMaxConcurrent:   &cfg.MaxConcurrent,
		EnvPipelineWorkers: &cfg.PipelineWorkers,
		EnvReparseWorkers:  &cfg.ReparseWorkers,
		EnvHistorySize:     &cfg.HistorySize,
	}
	for key, dst := range ints {
		if err := getEnvInt(key, dst); err != nil {
			return cfg, err
		}
	}

	durations := map[string]*time.Duration{
		EnvWatchInterval:    &cfg.WatchInterval,
		EnvHistoryRetention: &cfg.HistoryRetention,
	}
	for key, dst := range durations {
		if err := getEnvDuration(key, dst); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func getEnvInt(key string, dst *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalid, key, value)
	}
	*dst = n
	return nil
}

func getEnvDuration(key string, dst *time.Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%w: %s=%q is not a duration", ErrInvalid, key, value)
	}
	*dst = d
	return nil
}

// Validate rejects settings no component can run with
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalid}, args...)...))
	}

	if c.DataDir == "" && (c.DBPath == "" || c.IndexPath == "") {
		add("data dir is required unless db and index paths are both set")
	}
	switch c.IndexBackend {
	case index.BackendSQLite, index.BackendBadger:
	default:
		add("unknown index backend %q", c.IndexBackend)
	}
	switch c.LockBackend {
	case LockLocal:
	case LockRedis:
		if c.RedisURL == "" {
			add("redis lock backend requires a redis URL")
		}
	default:
		add("unknown lock backend %q", c.LockBackend)
	}
	if c.WatchInterval <= 0 {
		add("watch interval must be positive")
	}
	if c.MaxConcurrent < 1 {
		add("max concurrent submissions must be at least 1")
	}
	if c.PipelineWorkers < 0 {
		add("pipeline workers cannot be negative")
	}
	if c.ReparseWorkers < 1 {
		add("reparse workers must be at least 1")
	}
	if c.ArchiveDir != "" && c.GCSBucket != "" {
		add("choose either an archive dir or a GCS bucket")
	}
	if c.HistorySize < 1 {
		add("history size must be at least 1")
	}
	if c.HistoryRetention <= 0 {
		add("history retention must be positive")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// StorePath is the document store location
func (c Config) StorePath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return filepath.Join(c.DataDir, "docingest.db")
}

// IndexLocation is the passage index location for the configured backend
func (c Config) IndexLocation() string {
	if c.IndexPath != "" {
		return c.IndexPath
	}
	if c.IndexBackend == index.BackendBadger {
		return filepath.Join(c.DataDir, "passages")
	}
	return filepath.Join(c.DataDir, "passages.db")
}

// EmbedderConfig maps the embedding settings onto the embedder factory
func (c Config) EmbedderConfig() embedder.Config {
	return embedder.Config{
		Provider:  c.EmbeddingProvider,
		Model:     c.EmbeddingModel,
		BaseURL:   c.EmbeddingBaseURL,
		CacheSize: 10000,
	}
}

// ParseLevel maps a level name to a slog level
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: invalid log level %q: must be one of debug, info, warn, error", ErrInvalid, name)
	}
}
