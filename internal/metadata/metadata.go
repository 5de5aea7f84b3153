// Package metadata infers document metadata (authors, publication year,
// document type) from the text of a document's first pages with an LLM.
package metadata

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/dshills/docingest-mcp/pkg/types"
)

// DefaultPages is how many leading pages are sent to the model
const DefaultPages = 3

// Extractor infers metadata from page texts
type Extractor interface {
	Extract(ctx context.Context, pages []string) (types.Metadata, error)
}

// LLMExtractor asks a chat model for labelled AUTHORS/YEAR/TYPE lines
type LLMExtractor struct {
	client llms.Model
	pages  int
	logger *slog.Logger
}

// NewLLMExtractor wraps an existing langchaingo model
func NewLLMExtractor(client llms.Model) *LLMExtractor {
	return &LLMExtractor{
		client: client,
		pages:  DefaultPages,
		logger: slog.Default().With("component", "metadata-extractor"),
	}
}

// NewOpenAICompatible connects to an OpenAI-compatible chat endpoint.
// An empty token is sent as "none" for local servers.
func NewOpenAICompatible(baseURL, token, model string) (*LLMExtractor, error) {
	if token == "" {
		token = "none"
	}
	opts := []openai.Option{openai.WithToken(token), openai.WithModel(model)}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat client: %w", err)
	}
	return NewLLMExtractor(client), nil
}

// Extract sends the first pages to the model and parses its answer. Documents
// without any text get document type "other" and no model call.
func (e *LLMExtractor) Extract(ctx context.Context, pages []string) (types.Metadata, error) {
	text := FirstPagesText(pages, e.pages)
	if strings.TrimSpace(text) == "" {
		other := types.TypeOther
		return types.Metadata{DocumentType: &other}, nil
	}

	content := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(systemPrompt())},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(userPrompt(text))},
		},
	}

	response, err := e.client.GenerateContent(ctx, content, llms.WithTemperature(0.0), llms.WithMaxTokens(1024))
	if err != nil {
		return types.Metadata{}, fmt.Errorf("failed to generate metadata: %w", err)
	}
	if len(response.Choices) < 1 {
		e.logger.Debug("no choices returned from model")
		return types.Metadata{}, nil
	}

	meta := ParseResponse(response.Choices[0].Content)
	e.logger.Debug("extracted metadata", "authors", meta.Authors, "year", meta.PublicationYear)
	return meta, nil
}

// FirstPagesText joins the non-empty text of the first n pages with page markers
func FirstPagesText(pages []string, n int) string {
	if n > len(pages) {
		n = len(pages)
	}
	var parts []string
	for i := 0; i < n; i++ {
		if strings.TrimSpace(pages[i]) == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("--- Page %d ---\n%s", i+1, pages[i]))
	}
	return strings.Join(parts, "\n\n")
}

func typeList() string {
	names := make([]string, len(types.DocumentTypes))
	for i, t := range types.DocumentTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

func systemPrompt() string {
	list := typeList()
	return fmt.Sprintf(`You are a document metadata extraction assistant. Analyze the document text and extract:

1. Authors: list of author names, full names when available.
2. Publication Year: the 4-digit year the document was published.
3. Document Type: one of: %s

Respond in exactly this format:
AUTHORS: <comma-separated list of authors, or "Unknown" if not found>
YEAR: <4-digit year, or "Unknown" if not found>
TYPE: <one of %s, or "other" if unclear>

Only extract information that is clearly stated. Look for author names near the title
or in the header, and for the year in copyright notices, publication dates or footers.`, list, list)
}

func userPrompt(text string) string {
	return fmt.Sprintf(`Please extract metadata from the following document text:

%s

Remember to respond with:
AUTHORS: <authors>
YEAR: <year>
TYPE: <type>`, text)
}

// ParseResponse reads AUTHORS:, YEAR: and TYPE: lines. "Unknown" values are
// dropped, years outside the valid range are ignored and an unrecognized
// type becomes "other".
func ParseResponse(text string) types.Metadata {
	var meta types.Metadata

	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimSpace(line)
		label, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)

		switch strings.ToUpper(strings.TrimSpace(label)) {
		case "AUTHORS":
			if value == "" || strings.EqualFold(value, "unknown") {
				continue
			}
			var authors []string
			for _, a := range strings.Split(value, ",") {
				a = strings.TrimSpace(a)
				if a != "" && !strings.EqualFold(a, "unknown") {
					authors = append(authors, a)
				}
			}
			meta.Authors = authors
		case "YEAR":
			year, err := strconv.Atoi(value)
			if err != nil || year < types.MinPublicationYear || year > types.MaxPublicationYear {
				continue
			}
			meta.PublicationYear = &year
		case "TYPE":
			dt, ok := types.ParseDocumentType(strings.ToLower(value))
			if !ok {
				dt = types.TypeOther
			}
			meta.DocumentType = &dt
		}
	}
	return meta
}
