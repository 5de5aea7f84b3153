// Package archive keeps a copy of every submitted document under a
// structured, human-readable name of the form <lastname>_<year>_<title>.<ext>.
//
// Two backends are provided: a local directory and a Google Cloud Storage
// bucket. Both resolve name collisions by appending a counter, "(1)", "(2)"
// and so on, before the extension.
package archive

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/dshills/docingest-mcp/pkg/types"
)

// MaxNameLength bounds a sanitized name component
const MaxNameLength = 150

// ErrNotArchived is returned when the current archive path does not exist
var ErrNotArchived = errors.New("archive copy not found")

// Archive stores document copies and renames them when metadata changes
type Archive interface {
	// Store copies srcPath into the archive under name, adding a collision
	// suffix when needed, and returns the archive path
	Store(ctx context.Context, srcPath, name string) (string, error)

	// Rename moves the copy at current to name. When the resolved target
	// equals current nothing happens and current is returned.
	Rename(ctx context.Context, current, name string) (string, error)

	// Exists reports whether an archive path is present
	Exists(ctx context.Context, path string) (bool, error)
}

var (
	unsafeChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	whitespace  = regexp.MustCompile(`\s+`)
	underscores = regexp.MustCompile(`_+`)
)

// SanitizeFilename makes text safe for use as a filename component
func SanitizeFilename(text string) string {
	if text == "" {
		return ""
	}
	out := unsafeChars.ReplaceAllString(text, "_")
	out = whitespace.ReplaceAllString(out, "_")
	out = underscores.ReplaceAllString(out, "_")
	out = strings.Trim(out, "_")
	if len(out) > MaxNameLength {
		out = strings.TrimRight(truncateUTF8(out, MaxNameLength), "_")
	}
	return out
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8Start(s[n]) {
		n--
	}
	return s[:n]
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }

// lastName picks the family name out of "Last, First" or "First Last"
func lastName(author string) string {
	author = strings.TrimSpace(author)
	if author == "" {
		return ""
	}
	if before, _, ok := strings.Cut(author, ","); ok {
		return strings.TrimSpace(before)
	}
	words := strings.Fields(author)
	if len(words) == 0 {
		return ""
	}
	return words[len(words)-1]
}

// StructuredName builds <lastname>_<year>_<title><ext> from whatever parts
// are known. Year 0 means unknown. With no usable part the fallback
// filename is returned unchanged. The extension comes from fallback and
// defaults to ".pdf".
func StructuredName(author string, year int, title, fallback string) string {
	var parts []string
	if last := SanitizeFilename(lastName(author)); last != "" {
		parts = append(parts, last)
	}
	if year != 0 {
		parts = append(parts, strconv.Itoa(year))
	}
	if t := SanitizeFilename(title); t != "" {
		parts = append(parts, t)
	}
	if len(parts) == 0 {
		return fallback
	}
	ext := strings.ToLower(filepath.Ext(fallback))
	if ext == "" {
		ext = ".pdf"
	}
	return strings.Join(parts, "_") + ext
}

// NameFor derives the archive name of a document from its metadata
func NameFor(meta types.Metadata, fallback string) string {
	var author, title string
	var year int
	if len(meta.Authors) > 0 {
		author = meta.Authors[0]
	}
	if meta.PublicationYear != nil {
		year = *meta.PublicationYear
	}
	if meta.Title != nil {
		title = *meta.Title
	}
	return StructuredName(author, year, title, fallback)
}

// candidate returns the n-th collision candidate for name; n == 0 is name itself
func candidate(name string, n int) string {
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s(%d)%s", strings.TrimSuffix(name, ext), n, ext)
}

// resolve walks collision candidates until taken reports a free one.
// The excluded path counts as free so a copy can keep its own name.
func resolve(ctx context.Context, name, exclude string, join func(string) string, taken func(context.Context, string) (bool, error)) (string, error) {
	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		p := join(candidate(name, n))
		if exclude != "" && p == exclude {
			return p, nil
		}
		used, err := taken(ctx, p)
		if err != nil {
			return "", err
		}
		if !used {
			return p, nil
		}
	}
}
