package extractor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/dshills/docingest-mcp/pkg/types"
)

var contentPageRe = regexp.MustCompile(`_page_(\d+)\.txt$`)

// PDF extracts page text by dumping each page's content stream with pdfcpu
// and decoding the text-showing operators
type PDF struct {
	conf *model.Configuration
}

func NewPDF() *PDF {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDF{conf: conf}
}

func (p *PDF) ExtractPages(ctx context.Context, path string) ([]string, error) {
	pageCount, err := api.PageCountFile(path)
	if err != nil {
		return nil, &types.ExtractionError{Path: path, Err: fmt.Errorf("failed to get page count: %w", err)}
	}
	if pageCount == 0 {
		return []string{}, nil
	}

	outDir, err := os.MkdirTemp("", "docingest-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(outDir) }()

	if err := api.ExtractContentFile(path, outDir, nil, p.conf); err != nil {
		return nil, &types.ExtractionError{Path: path, Err: fmt.Errorf("failed to extract content: %w", err)}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	files, err := filepath.Glob(filepath.Join(outDir, "*.txt"))
	if err != nil {
		return nil, err
	}

	pages := make([]string, pageCount)
	for _, f := range files {
		m := contentPageRe.FindStringSubmatch(f)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > pageCount {
			continue
		}
		raw, err := os.ReadFile(f)
		if err != nil {
			return nil, &types.ExtractionError{Path: path, Err: err}
		}
		// a page may have several content streams
		if pages[n-1] != "" {
			pages[n-1] += "\n"
		}
		pages[n-1] += DecodeContentStream(raw)
	}
	return pages, nil
}
