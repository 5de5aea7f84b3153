package types

import (
	"fmt"
	"strings"
)

// Passage is one embedded span of a document's extracted text
type Passage struct {
	ID           string    `json:"id"`
	DocumentID   string    `json:"document_id"`
	Source       string    `json:"source"`
	PassageIndex int       `json:"index"`
	Page         int       `json:"page"`
	Batch        int       `json:"batch"`
	Text         string    `json:"text"`
	Vector       []float32 `json:"-"`
	Metadata     Metadata  `json:"metadata"`
}

// PassageID builds the stable identifier of the index-th passage of a document
func PassageID(documentID string, index int) string {
	return fmt.Sprintf("doc_%s_%d", documentID, index)
}

// Filter is a conjunction of predicates over mirrored passage metadata.
// Zero-valued fields are unconstrained.
type Filter struct {
	MinYear       *int           `json:"min_year,omitempty"`
	MaxYear       *int           `json:"max_year,omitempty"`
	DocumentTypes []DocumentType `json:"document_types,omitempty"`
	Author        string         `json:"author,omitempty"`
}

// IsEmpty reports whether the filter has no predicates
func (f Filter) IsEmpty() bool {
	return f.MinYear == nil && f.MaxYear == nil && len(f.DocumentTypes) == 0 && strings.TrimSpace(f.Author) == ""
}

// Matches evaluates the filter against passage metadata. A year bound
// excludes passages without a publication year; a type set excludes
// passages without a type.
func (f Filter) Matches(m Metadata) bool {
	if f.MinYear != nil && (m.PublicationYear == nil || *m.PublicationYear < *f.MinYear) {
		return false
	}
	if f.MaxYear != nil && (m.PublicationYear == nil || *m.PublicationYear > *f.MaxYear) {
		return false
	}
	if len(f.DocumentTypes) > 0 {
		if m.DocumentType == nil {
			return false
		}
		found := false
		for _, t := range f.DocumentTypes {
			if t == *m.DocumentType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if needle := strings.ToLower(strings.TrimSpace(f.Author)); needle != "" {
		found := false
		for _, a := range m.Authors {
			if strings.Contains(strings.ToLower(a), needle) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// SearchHit is a ranked passage
type SearchHit struct {
	Passage Passage `json:"passage"`
	Score   float64 `json:"score"`
}

// SearchPage is one window of ranked passages
type SearchPage struct {
	Hits    []SearchHit `json:"hits"`
	HasMore bool        `json:"has_more"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
}
