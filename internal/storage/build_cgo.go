//go:build sqlite_vec && !purego
// +build sqlite_vec,!purego

package storage

// This file is compiled when building with CGO and the sqlite_vec tag.
// It enables the sqlite-vec extension so the passage index can rank in SQL.
//
// Build command:
//   CGO_ENABLED=1 go build -tags "sqlite_vec" ./cmd/docingest
//
// The sqlite-vec extension provides:
//   - vec_distance_cosine for passage ranking inside the filtered query
//   - Recommended for large passage indexes
//
// Driver used: github.com/mattn/go-sqlite3

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// VectorExtensionAvailable indicates if vector extension is available
	VectorExtensionAvailable = true

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)
