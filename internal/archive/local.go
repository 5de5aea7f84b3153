package archive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Local archives documents in a directory on disk
type Local struct {
	dir    string
	logger *slog.Logger
}

// NewLocal creates dir if needed
func NewLocal(dir string, logger *slog.Logger) (*Local, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive dir: %w", err)
	}
	return &Local{dir: dir, logger: logger.With("component", "archive", "backend", "local")}, nil
}

// Dir returns the archive directory
func (l *Local) Dir() string { return l.dir }

func (l *Local) join(name string) string { return filepath.Join(l.dir, name) }

func (l *Local) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// UniquePath resolves the first free path for name, treating exclude as free
func (l *Local) UniquePath(ctx context.Context, name, exclude string) (string, error) {
	return resolve(ctx, name, exclude, l.join, l.Exists)
}

func (l *Local) Store(ctx context.Context, srcPath, name string) (string, error) {
	dst, err := l.UniquePath(ctx, name, "")
	if err != nil {
		return "", err
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("failed to open source: %w", err)
	}
	defer src.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create archive copy: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return "", fmt.Errorf("failed to copy into archive: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return "", fmt.Errorf("failed to finalize archive copy: %w", err)
	}

	l.logger.Debug("archived document", "source", srcPath, "archive_path", dst)
	return dst, nil
}

func (l *Local) Rename(ctx context.Context, current, name string) (string, error) {
	ok, err := l.Exists(ctx, current)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotArchived, current)
	}

	target, err := l.UniquePath(ctx, name, current)
	if err != nil {
		return "", err
	}
	if target == current {
		return current, nil
	}
	if err := os.Rename(current, target); err != nil {
		return "", fmt.Errorf("failed to rename archive copy: %w", err)
	}

	l.logger.Info("renamed archive copy", "from", current, "to", target)
	return target, nil
}
