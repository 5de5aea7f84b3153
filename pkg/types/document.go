package types

import (
	"strings"
	"time"
)

// DocumentStatus is the lifecycle state of a document
type DocumentStatus string

const (
	StatusUploaded    DocumentStatus = "uploaded"
	StatusProcessing  DocumentStatus = "processing"
	StatusProcessed   DocumentStatus = "processed"
	StatusFailed      DocumentStatus = "failed"
	StatusBlacklisted DocumentStatus = "blacklisted"
)

// Valid reports whether s is a known lifecycle status
func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusUploaded, StatusProcessing, StatusProcessed, StatusFailed, StatusBlacklisted:
		return true
	}
	return false
}

// DocumentType classifies a document
type DocumentType string

const (
	TypePaper    DocumentType = "paper"
	TypeHandbook DocumentType = "handbook"
	TypeManual   DocumentType = "manual"
	TypeReport   DocumentType = "report"
	TypeOther    DocumentType = "other"
)

// DocumentTypes lists every accepted document type in display order
var DocumentTypes = []DocumentType{TypePaper, TypeHandbook, TypeManual, TypeReport, TypeOther}

// ParseDocumentType normalizes s and checks it against DocumentTypes
func ParseDocumentType(s string) (DocumentType, bool) {
	t := DocumentType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range DocumentTypes {
		if t == known {
			return t, true
		}
	}
	return "", false
}

// Publication year bounds accepted by metadata validation
const (
	MinPublicationYear = 1900
	MaxPublicationYear = 2100
)

// Metadata is the user-editable document metadata mirrored onto every passage.
// A nil field means "unset".
type Metadata struct {
	PublicationYear *int          `json:"publication_year"`
	Authors         []string      `json:"authors"`
	DocumentType    *DocumentType `json:"document_type"`
	Title           *string       `json:"title,omitempty"`
}

// Validate checks field ranges and the document type enum
func (m Metadata) Validate() error {
	if m.PublicationYear != nil {
		y := *m.PublicationYear
		if y < MinPublicationYear || y > MaxPublicationYear {
			return &ValidationError{Field: "publication_year", Reason: "must be between 1900 and 2100"}
		}
	}
	for _, a := range m.Authors {
		if strings.TrimSpace(a) == "" {
			return &ValidationError{Field: "authors", Reason: "author names cannot be empty"}
		}
	}
	if m.DocumentType != nil {
		if _, ok := ParseDocumentType(string(*m.DocumentType)); !ok {
			return &ValidationError{Field: "document_type", Reason: "unknown document type " + string(*m.DocumentType)}
		}
	}
	return nil
}

// IsZero reports whether no metadata field is set
func (m Metadata) IsZero() bool {
	return m.PublicationYear == nil && len(m.Authors) == 0 && m.DocumentType == nil && m.Title == nil
}

// Clone returns a deep copy so callers can't mutate shared snapshots
func (m Metadata) Clone() Metadata {
	out := Metadata{}
	if m.PublicationYear != nil {
		y := *m.PublicationYear
		out.PublicationYear = &y
	}
	if m.Authors != nil {
		out.Authors = append([]string(nil), m.Authors...)
	}
	if m.DocumentType != nil {
		t := *m.DocumentType
		out.DocumentType = &t
	}
	if m.Title != nil {
		t := *m.Title
		out.Title = &t
	}
	return out
}

// Equal compares two metadata values field by field
func (m Metadata) Equal(o Metadata) bool {
	if !equalIntPtr(m.PublicationYear, o.PublicationYear) {
		return false
	}
	if len(m.Authors) != len(o.Authors) {
		return false
	}
	for i := range m.Authors {
		if m.Authors[i] != o.Authors[i] {
			return false
		}
	}
	if (m.DocumentType == nil) != (o.DocumentType == nil) {
		return false
	}
	if m.DocumentType != nil && *m.DocumentType != *o.DocumentType {
		return false
	}
	if (m.Title == nil) != (o.Title == nil) {
		return false
	}
	return m.Title == nil || *m.Title == *o.Title
}

func equalIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// MetadataUpdate is a partial metadata edit. Set* flags distinguish
// "leave unchanged" from "clear the field".
type MetadataUpdate struct {
	SetPublicationYear bool
	PublicationYear    *int
	SetAuthors         bool
	Authors            []string
	SetDocumentType    bool
	DocumentType       *DocumentType
	SetTitle           bool
	Title              *string
}

// Apply returns base with the update's set fields applied
func (u MetadataUpdate) Apply(base Metadata) Metadata {
	out := base.Clone()
	if u.SetPublicationYear {
		out.PublicationYear = u.PublicationYear
	}
	if u.SetAuthors {
		out.Authors = cleanAuthors(u.Authors)
	}
	if u.SetDocumentType {
		out.DocumentType = u.DocumentType
	}
	if u.SetTitle {
		out.Title = u.Title
	}
	return out
}

// Empty reports whether the update touches no field
func (u MetadataUpdate) Empty() bool {
	return !u.SetPublicationYear && !u.SetAuthors && !u.SetDocumentType && !u.SetTitle
}

func cleanAuthors(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, a := range in {
		out = append(out, strings.TrimSpace(a))
	}
	return out
}

// Document is the store-of-record row for one ingested file
type Document struct {
	ID           string         `json:"id"`
	Filename     string         `json:"filename"`
	Path         string         `json:"path"`
	ArchivePath  string         `json:"archive_path,omitempty"`
	Status       DocumentStatus `json:"status"`
	PageCount    int            `json:"page_count"`
	PassageCount int            `json:"passage_count"`
	ModTime      time.Time      `json:"mod_time"`
	Metadata     Metadata       `json:"metadata"`
	Error        string         `json:"error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	ProcessedAt  *time.Time     `json:"processed_at,omitempty"`
}

// BlacklistEntry excludes a filename from automatic and bulk processing
type BlacklistEntry struct {
	Filename  string    `json:"filename"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// StoreStats summarizes the document store
type StoreStats struct {
	Documents      int                    `json:"documents"`
	ByStatus       map[DocumentStatus]int `json:"by_status"`
	Passages       int                    `json:"passages"`
	BlacklistCount int                    `json:"blacklist_count"`
}
