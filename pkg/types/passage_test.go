package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPassageID(t *testing.T) {
	assert.Equal(t, "doc_abc_0", PassageID("abc", 0))
	assert.Equal(t, "doc_abc_12", PassageID("abc", 12))
}

func TestFilter_Matches(t *testing.T) {
	paper2021 := Metadata{PublicationYear: intPtr(2021), Authors: []string{"Jane Doe", "Richard Roe"}, DocumentType: typePtr(TypePaper)}
	untyped := Metadata{}

	tests := []struct {
		name   string
		filter Filter
		meta   Metadata
		want   bool
	}{
		{name: "empty filter matches anything", filter: Filter{}, meta: untyped, want: true},
		{name: "min year satisfied", filter: Filter{MinYear: intPtr(2020)}, meta: paper2021, want: true},
		{name: "min year violated", filter: Filter{MinYear: intPtr(2022)}, meta: paper2021, want: false},
		{name: "max year satisfied", filter: Filter{MaxYear: intPtr(2021)}, meta: paper2021, want: true},
		{name: "max year violated", filter: Filter{MaxYear: intPtr(2020)}, meta: paper2021, want: false},
		{name: "year bound excludes unset year", filter: Filter{MinYear: intPtr(1900)}, meta: untyped, want: false},
		{name: "type in set", filter: Filter{DocumentTypes: []DocumentType{TypeReport, TypePaper}}, meta: paper2021, want: true},
		{name: "type not in set", filter: Filter{DocumentTypes: []DocumentType{TypeManual}}, meta: paper2021, want: false},
		{name: "type set excludes untyped", filter: Filter{DocumentTypes: []DocumentType{TypeOther}}, meta: untyped, want: false},
		{name: "author substring case insensitive", filter: Filter{Author: "roe"}, meta: paper2021, want: true},
		{name: "author missing", filter: Filter{Author: "knuth"}, meta: paper2021, want: false},
		{name: "conjunction", filter: Filter{MinYear: intPtr(2020), DocumentTypes: []DocumentType{TypePaper}, Author: "jane"}, meta: paper2021, want: true},
		{name: "conjunction one failing", filter: Filter{MinYear: intPtr(2020), DocumentTypes: []DocumentType{TypeManual}, Author: "jane"}, meta: paper2021, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(tt.meta))
		})
	}
}

func TestFilter_IsEmpty(t *testing.T) {
	assert.True(t, Filter{}.IsEmpty())
	assert.True(t, Filter{Author: "  "}.IsEmpty())
	assert.False(t, Filter{MinYear: intPtr(2000)}.IsEmpty())
}
