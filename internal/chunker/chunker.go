package chunker

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

const (
	// DefaultChunkSize is the target maximum passage length in characters
	DefaultChunkSize = 1000

	// DefaultChunkOverlap is the number of characters shared by neighbouring passages
	DefaultChunkOverlap = 200
)

// Piece is one passage-to-be: text plus its position in the document
type Piece struct {
	// Index is the document-wide passage index (page order, then sequence)
	Index int
	// Page is 1-based
	Page int
	// Sequence is the position within the page
	Sequence int
	Text     string
}

// Chunker splits page texts into overlapping passages
type Chunker struct {
	size     int
	overlap  int
	splitter textsplitter.RecursiveCharacter
}

// Option configures a Chunker
type Option func(*Chunker)

// WithChunkSize sets the target passage length
func WithChunkSize(n int) Option {
	return func(c *Chunker) { c.size = n }
}

// WithChunkOverlap sets the overlap between neighbouring passages
func WithChunkOverlap(n int) Option {
	return func(c *Chunker) { c.overlap = n }
}

// New creates a new Chunker instance
func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{size: DefaultChunkSize, overlap: DefaultChunkOverlap}
	for _, opt := range opts {
		opt(c)
	}
	if c.size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", c.size)
	}
	if c.overlap < 0 || c.overlap >= c.size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", c.size, c.overlap)
	}

	c.splitter = textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(c.size),
		textsplitter.WithChunkOverlap(c.overlap),
	)
	return c, nil
}

// Chunk splits every page and numbers the pieces in page order. The same
// pages always produce the same pieces, so passage IDs are stable across re-runs.
func (c *Chunker) Chunk(pages []string) ([]Piece, error) {
	var pieces []Piece
	for i, page := range pages {
		page = strings.TrimSpace(page)
		if page == "" {
			continue
		}

		parts, err := c.splitter.SplitText(page)
		if err != nil {
			return nil, fmt.Errorf("failed to split page %d: %w", i+1, err)
		}

		seq := 0
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			pieces = append(pieces, Piece{
				Index:    len(pieces),
				Page:     i + 1,
				Sequence: seq,
				Text:     part,
			})
			seq++
		}
	}
	return pieces, nil
}

// Texts returns the text of each piece, in order
func Texts(pieces []Piece) []string {
	out := make([]string, len(pieces))
	for i, p := range pieces {
		out[i] = p.Text
	}
	return out
}
