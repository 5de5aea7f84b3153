// Package extractor turns source files into ordered page texts.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/docingest-mcp/pkg/types"
)

// ErrUnsupported is wrapped in the ExtractionError for unknown file types
var ErrUnsupported = errors.New("unsupported file type")

// Extractor returns the text of every page of a file, in page order.
// Unreadable input fails with *types.ExtractionError.
type Extractor interface {
	ExtractPages(ctx context.Context, path string) ([]string, error)
}

// Registry dispatches to an Extractor by file extension
type Registry struct {
	byExt map[string]Extractor
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{byExt: make(map[string]Extractor)}
}

// Default returns a registry for PDF, plain text and markdown files
func Default() *Registry {
	r := NewRegistry()
	r.Register(NewPDF(), ".pdf")
	r.Register(NewText(), ".txt", ".text", ".md", ".markdown")
	return r
}

// Register binds e to the given extensions (case-insensitive, leading dot)
func (r *Registry) Register(e Extractor, exts ...string) {
	for _, ext := range exts {
		r.byExt[strings.ToLower(ext)] = e
	}
}

// Supported reports whether path has a registered extension
func (r *Registry) Supported(path string) bool {
	_, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Extensions lists the registered extensions
func (r *Registry) Extensions() []string {
	out := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) ExtractPages(ctx context.Context, path string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(path))
	e, ok := r.byExt[ext]
	if !ok {
		return nil, &types.ExtractionError{Path: path, Err: fmt.Errorf("%w: %q", ErrUnsupported, ext)}
	}
	return e.ExtractPages(ctx, path)
}
