// Package mcp implements the Model Context Protocol (MCP) server for docingest.
//
// The server speaks JSON-RPC 2.0 over stdio and exposes the ingestion
// pipeline as tools:
//   - submit_document: record a file and queue (or run) its pipeline
//   - search_passages: ranked semantic search with metadata filters
//   - update_metadata: edit document metadata and mirror it onto passages
//   - reparse_documents: drop and rebuild passages for known documents
//   - blacklist_add, blacklist_remove, list_blacklist: manage exclusions
//   - get_document, list_documents, delete_document: document records
//   - get_status, get_connections: counts, in-flight work and clients
//   - rebuild_index: repopulate an empty index from the document store
//
// # Basic Usage
//
//	docingest serve --watch-dir /data/inbox
//
// # Notifications
//
// Every document status transition is broadcast to connected sessions as a
// notifications/document_status message:
//
//	{
//	  "method": "notifications/document_status",
//	  "params": {
//	    "document_id": "0b7c...",
//	    "filename": "report-2021.pdf",
//	    "status": "processed",
//	    "passage_count": 42,
//	    "timestamp": "2025-03-01T10:00:00Z"
//	  }
//	}
//
// Sessions are recorded in the connection registry while they are open.
//
// # Error Handling
//
// Tool errors are returned as MCPError values carrying JSON-RPC codes:
//   - -32602: invalid parameters
//   - -32603: internal error
//   - -32001: document or blacklist entry not found
//   - -32002: document is being processed
//   - -32004: empty query
//   - -32005: metadata or filter validation failed
package mcp
