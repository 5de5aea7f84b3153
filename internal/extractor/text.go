package extractor

import (
	"context"
	"errors"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/dshills/docingest-mcp/pkg/types"
)

// Text reads UTF-8 text files. Form feeds separate pages.
type Text struct{}

func NewText() *Text { return &Text{} }

func (t *Text) ExtractPages(ctx context.Context, path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &types.ExtractionError{Path: path, Err: err}
	}
	if !utf8.Valid(raw) {
		return nil, &types.ExtractionError{Path: path, Err: errors.New("file is not valid UTF-8")}
	}

	content := strings.ReplaceAll(string(raw), "\r\n", "\n")
	pages := strings.Split(content, "\f")
	for i := range pages {
		pages[i] = strings.TrimSpace(pages[i])
	}
	return pages, nil
}
