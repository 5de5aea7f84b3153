package mcp

import (
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/docingest-mcp/internal/searcher"
	"github.com/dshills/docingest-mcp/pkg/types"
)

func documentTypeNames() []string {
	out := make([]string, len(types.DocumentTypes))
	for i, t := range types.DocumentTypes {
		out[i] = string(t)
	}
	return out
}

func documentIDProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Document identifier",
	}
}

// submitDocumentTool returns the tool definition for submit_document
func submitDocumentTool() mcp.Tool {
	return mcp.Tool{
		Name:        "submit_document",
		Description: "Submit a document file for ingestion: extraction, chunking, embedding and indexing",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to a PDF, text or markdown file",
				},
				"wait": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, run the pipeline before returning instead of queueing it",
					"default":     false,
				},
			},
			Required: []string{"path"},
		},
	}
}

// searchPassagesTool returns the tool definition for search_passages
func searchPassagesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_passages",
		Description: "Semantic search over indexed passages with optional metadata filters",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Natural language query",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of passages to return (1-50)",
					"default":     searcher.DefaultLimit,
					"minimum":     1,
					"maximum":     searcher.MaxLimit,
				},
				"offset": map[string]interface{}{
					"type":        "integer",
					"description": "Number of ranked passages to skip",
					"default":     0,
					"minimum":     0,
				},
				"filters": map[string]interface{}{
					"type":        "object",
					"description": "Optional filters; all given filters must match",
					"properties": map[string]interface{}{
						"min_year": map[string]interface{}{
							"type":        "integer",
							"description": "Earliest publication year (inclusive)",
						},
						"max_year": map[string]interface{}{
							"type":        "integer",
							"description": "Latest publication year (inclusive)",
						},
						"document_types": map[string]interface{}{
							"type":        "array",
							"description": "Accepted document types",
							"items": map[string]interface{}{
								"type": "string",
								"enum": documentTypeNames(),
							},
						},
						"author": map[string]interface{}{
							"type":        "string",
							"description": "Case-insensitive substring of any author",
						},
					},
				},
			},
			Required: []string{"query"},
		},
	}
}

// updateMetadataTool returns the tool definition for update_metadata
func updateMetadataTool() mcp.Tool {
	return mcp.Tool{
		Name:        "update_metadata",
		Description: "Edit document metadata and propagate it to every indexed passage. Pass null to clear a field; omit it to leave it unchanged.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"document_id": documentIDProperty(),
				"publication_year": map[string]interface{}{
					"type":        []string{"integer", "null"},
					"description": "Publication year (1900-2100)",
					"minimum":     types.MinPublicationYear,
					"maximum":     types.MaxPublicationYear,
				},
				"authors": map[string]interface{}{
					"type":        []string{"array", "null"},
					"description": "Ordered author names",
					"items":       map[string]interface{}{"type": "string"},
				},
				"document_type": map[string]interface{}{
					"type":        []string{"string", "null"},
					"description": "Document type: " + strings.Join(documentTypeNames(), ", "),
				},
				"title": map[string]interface{}{
					"type":        []string{"string", "null"},
					"description": "Document title",
				},
			},
			Required: []string{"document_id"},
		},
	}
}

// reparseDocumentsTool returns the tool definition for reparse_documents
func reparseDocumentsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "reparse_documents",
		Description: "Drop and rebuild passages for known documents. Returns once work is queued; progress arrives as status notifications.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"mode": map[string]interface{}{
					"type":        "string",
					"description": "all: every non-blacklisted document; selected: documents whose filename contains any target",
					"enum":        []string{"all", "selected"},
				},
				"targets": map[string]interface{}{
					"type":        "array",
					"description": "Filename tokens for selected mode. Partial matches select every containing filename.",
					"items":       map[string]interface{}{"type": "string"},
				},
			},
			Required: []string{"mode"},
		},
	}
}

// blacklistAddTool returns the tool definition for blacklist_add
func blacklistAddTool() mcp.Tool {
	return mcp.Tool{
		Name:        "blacklist_add",
		Description: "Exclude a filename from automatic and bulk processing",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"filename": map[string]interface{}{
					"type":        "string",
					"description": "Exact filename to exclude",
				},
				"reason": map[string]interface{}{
					"type":        "string",
					"description": "Optional note",
				},
			},
			Required: []string{"filename"},
		},
	}
}

// blacklistRemoveTool returns the tool definition for blacklist_remove
func blacklistRemoveTool() mcp.Tool {
	return mcp.Tool{
		Name:        "blacklist_remove",
		Description: "Lift a blacklist entry; a blacklisted document is queued for processing",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"filename": map[string]interface{}{
					"type":        "string",
					"description": "Exact filename",
				},
			},
			Required: []string{"filename"},
		},
	}
}

func listBlacklistTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_blacklist",
		Description: "List blacklisted filenames",
		InputSchema: mcp.ToolInputSchema{Type: "object", Properties: map[string]interface{}{}},
	}
}

func getDocumentTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_document",
		Description: "Get one document's status, counts and metadata",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{"document_id": documentIDProperty()},
			Required:   []string{"document_id"},
		},
	}
}

// listDocumentsTool returns the tool definition for list_documents
func listDocumentsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_documents",
		Description: "List documents, optionally by status or filename substring",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"status": map[string]interface{}{
					"type":        "string",
					"description": "Only documents in this status",
					"enum":        []string{"uploaded", "processing", "processed", "failed", "blacklisted"},
				},
				"filename": map[string]interface{}{
					"type":        "string",
					"description": "Only documents whose filename contains this text",
				},
				"limit": map[string]interface{}{
					"type":    "integer",
					"default": 100,
					"minimum": 1,
				},
				"offset": map[string]interface{}{
					"type":    "integer",
					"default": 0,
					"minimum": 0,
				},
			},
		},
	}
}

func deleteDocumentTool() mcp.Tool {
	return mcp.Tool{
		Name:        "delete_document",
		Description: "Delete a document and all of its passages",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{"document_id": documentIDProperty()},
			Required:   []string{"document_id"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Document counts by status, passage totals and in-flight pipelines",
		InputSchema: mcp.ToolInputSchema{Type: "object", Properties: map[string]interface{}{}},
	}
}

func getConnectionsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_connections",
		Description: "Active and recently closed notification clients and protocol sessions",
		InputSchema: mcp.ToolInputSchema{Type: "object", Properties: map[string]interface{}{}},
	}
}

func rebuildIndexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "rebuild_index",
		Description: "Repopulate an empty passage index from every processed document",
		InputSchema: mcp.ToolInputSchema{Type: "object", Properties: map[string]interface{}{}},
	}
}
