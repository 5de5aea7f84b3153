package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const gcsScheme = "gs://"

// GCS archives documents as objects in a Cloud Storage bucket. Archive
// paths have the form gs://<bucket>/<prefix>/<name>.
type GCS struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
	prefix string
	logger *slog.Logger
}

// GCSConfig configures the bucket archive
type GCSConfig struct {
	Bucket string
	Prefix string
	// Endpoint points the client at an emulator; authentication is skipped when set
	Endpoint string
	Logger   *slog.Logger
}

// NewGCS opens a client for the configured bucket
func NewGCS(ctx context.Context, cfg GCSConfig, opts ...option.ClientOption) (*GCS, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs archive requires a bucket")
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return NewGCSWithClient(client, cfg), nil
}

// NewGCSWithClient wraps an existing client
func NewGCSWithClient(client *storage.Client, cfg GCSConfig) *GCS {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &GCS{
		client: client,
		bucket: client.Bucket(cfg.Bucket),
		name:   cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger.With("component", "archive", "backend", "gcs", "bucket", cfg.Bucket),
	}
}

// Close releases the storage client
func (g *GCS) Close() error { return g.client.Close() }

func (g *GCS) join(name string) string {
	return gcsScheme + g.name + "/" + path.Join(g.prefix, name)
}

// object maps an archive path back to an object name in this bucket
func (g *GCS) object(p string) (string, error) {
	rest, ok := strings.CutPrefix(p, gcsScheme+g.name+"/")
	if !ok || rest == "" {
		return "", fmt.Errorf("path %q is not in bucket %s", p, g.name)
	}
	return rest, nil
}

func (g *GCS) Exists(ctx context.Context, p string) (bool, error) {
	obj, err := g.object(p)
	if err != nil {
		return false, err
	}
	_, err = g.bucket.Object(obj).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat object: %w", err)
	}
	return true, nil
}

// preconditionFailed reports a lost DoesNotExist race
func preconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

// Store uploads srcPath only if the target object doesn't exist yet. A
// concurrent writer taking the same name moves us to the next candidate.
func (g *GCS) Store(ctx context.Context, srcPath, name string) (string, error) {
	for {
		dst, err := resolve(ctx, name, "", g.join, g.Exists)
		if err != nil {
			return "", err
		}
		obj, err := g.object(dst)
		if err != nil {
			return "", err
		}

		err = g.upload(ctx, srcPath, obj)
		if preconditionFailed(err) {
			g.logger.Debug("object appeared during upload, retrying", "object", obj)
			continue
		}
		if err != nil {
			return "", err
		}

		g.logger.Debug("archived document", "source", srcPath, "archive_path", dst)
		return dst, nil
	}
}

func (g *GCS) upload(ctx context.Context, srcPath, obj string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer src.Close()

	writer := g.bucket.Object(obj).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	if _, err := io.Copy(writer, src); err != nil {
		_ = writer.Close()
		if preconditionFailed(err) {
			return err
		}
		return fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		if preconditionFailed(err) {
			return err
		}
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}

// Rename copies the object to its new name and deletes the old one.
// Cloud Storage has no atomic rename.
func (g *GCS) Rename(ctx context.Context, current, name string) (string, error) {
	ok, err := g.Exists(ctx, current)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotArchived, current)
	}
	srcObj, _ := g.object(current)

	for {
		target, err := resolve(ctx, name, current, g.join, g.Exists)
		if err != nil {
			return "", err
		}
		if target == current {
			return current, nil
		}
		dstObj, err := g.object(target)
		if err != nil {
			return "", err
		}

		dst := g.bucket.Object(dstObj).If(storage.Conditions{DoesNotExist: true})
		_, err = dst.CopierFrom(g.bucket.Object(srcObj)).Run(ctx)
		if preconditionFailed(err) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to copy object: %w", err)
		}
		if err := g.bucket.Object(srcObj).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			g.logger.Warn("failed to delete old archive object", "object", srcObj, "error", err)
		}

		g.logger.Info("renamed archive copy", "from", current, "to", target)
		return target, nil
	}
}
