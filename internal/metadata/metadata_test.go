package metadata

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/dshills/docingest-mcp/pkg/types"
)

func intPtr(v int) *int { return &v }

func typePtr(t types.DocumentType) *types.DocumentType { return &t }

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     types.Metadata
	}{
		{
			name:     "complete response",
			response: "AUTHORS: John Doe, Jane Smith\nYEAR: 2023\nTYPE: paper",
			want:     types.Metadata{Authors: []string{"John Doe", "Jane Smith"}, PublicationYear: intPtr(2023), DocumentType: typePtr(types.TypePaper)},
		},
		{
			name:     "unknown authors",
			response: "AUTHORS: Unknown\nYEAR: 2022\nTYPE: report",
			want:     types.Metadata{PublicationYear: intPtr(2022), DocumentType: typePtr(types.TypeReport)},
		},
		{
			name:     "unknown year",
			response: "AUTHORS: Alice Brown\nYEAR: Unknown\nTYPE: manual",
			want:     types.Metadata{Authors: []string{"Alice Brown"}, DocumentType: typePtr(types.TypeManual)},
		},
		{
			name:     "invalid year",
			response: "AUTHORS: Alice Brown\nYEAR: twenty twenty\nTYPE: manual",
			want:     types.Metadata{Authors: []string{"Alice Brown"}, DocumentType: typePtr(types.TypeManual)},
		},
		{
			name:     "year out of range",
			response: "YEAR: 1850",
			want:     types.Metadata{},
		},
		{
			name:     "invalid document type",
			response: "TYPE: novel",
			want:     types.Metadata{DocumentType: typePtr(types.TypeOther)},
		},
		{
			name:     "case insensitive labels",
			response: "authors: John Doe, unknown\nYear: 2021\ntype: HANDBOOK",
			want:     types.Metadata{Authors: []string{"John Doe"}, PublicationYear: intPtr(2021), DocumentType: typePtr(types.TypeHandbook)},
		},
		{
			name:     "surrounding chatter is ignored",
			response: "Here is the metadata:\n\n  AUTHORS: Robin Rombach, Andreas Blattmann  \nYEAR: 2022\nTYPE: paper\nThanks!",
			want:     types.Metadata{Authors: []string{"Robin Rombach", "Andreas Blattmann"}, PublicationYear: intPtr(2022), DocumentType: typePtr(types.TypePaper)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseResponse(tt.response)
			assert.True(t, tt.want.Equal(got), "got %+v", got)
			assert.NoError(t, got.Validate())
		})
	}
}

func TestFirstPagesText(t *testing.T) {
	pages := []string{"Title page", "", "Abstract", "Chapter 1"}

	text := FirstPagesText(pages, 3)
	assert.Equal(t, "--- Page 1 ---\nTitle page\n\n--- Page 3 ---\nAbstract", text)
	assert.NotContains(t, text, "Chapter 1")

	assert.Equal(t, "--- Page 1 ---\nx", FirstPagesText([]string{"x"}, 3))
	assert.Empty(t, FirstPagesText(nil, 3))
}

// fakeModel records prompts and returns a canned answer
type fakeModel struct {
	mu       sync.Mutex
	answer   string
	err      error
	messages [][]llms.MessageContent
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, messages)
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.answer}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestLLMExtractor(t *testing.T) {
	ctx := context.Background()

	t.Run("mocked model", func(t *testing.T) {
		model := &fakeModel{answer: "AUTHORS: Robin Rombach, Andreas Blattmann\nYEAR: 2022\nTYPE: paper"}
		e := NewLLMExtractor(model)

		meta, err := e.Extract(ctx, []string{"High-Resolution Image Synthesis", "p2", "p3", "p4 never sent"})
		require.NoError(t, err)
		assert.Equal(t, []string{"Robin Rombach", "Andreas Blattmann"}, meta.Authors)
		assert.Equal(t, 2022, *meta.PublicationYear)
		assert.Equal(t, types.TypePaper, *meta.DocumentType)

		require.Len(t, model.messages, 1)
		require.Len(t, model.messages[0], 2)
		assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0][0].Role)
		human := model.messages[0][1].Parts[0].(llms.TextContent).Text
		assert.Contains(t, human, "High-Resolution Image Synthesis")
		assert.False(t, strings.Contains(human, "p4 never sent"))
	})

	t.Run("no text skips the model", func(t *testing.T) {
		model := &fakeModel{}
		meta, err := NewLLMExtractor(model).Extract(ctx, []string{"", "  "})
		require.NoError(t, err)
		assert.Equal(t, types.TypeOther, *meta.DocumentType)
		assert.Empty(t, model.messages)
	})

	t.Run("model failure", func(t *testing.T) {
		model := &fakeModel{err: errors.New("rate limited")}
		_, err := NewLLMExtractor(model).Extract(ctx, []string{"text"})
		assert.ErrorContains(t, err, "rate limited")
	})
}
