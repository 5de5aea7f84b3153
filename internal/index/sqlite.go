package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/dshills/docingest-mcp/internal/storage"
	"github.com/dshills/docingest-mcp/pkg/types"
)

// IndexSchemaVersion is the passage table layout written by this build.
// Opening an index whose major version differs requires a rebuild.
const IndexSchemaVersion = "1.0.0"

var ErrIncompatibleSchema = errors.New("passage index schema incompatible, rebuild required")

const passageSchema = `
CREATE TABLE IF NOT EXISTS index_meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS passages (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	source TEXT NOT NULL,
	passage_index INTEGER NOT NULL,
	page INTEGER NOT NULL,
	batch INTEGER NOT NULL DEFAULT 0,
	text TEXT NOT NULL,
	vector BLOB NOT NULL,
	dimension INTEGER NOT NULL,
	publication_year INTEGER,
	authors TEXT,
	authors_search TEXT NOT NULL DEFAULT '',
	document_type TEXT,
	title TEXT,
	updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_passages_document ON passages(document_id, passage_index);
CREATE INDEX IF NOT EXISTS idx_passages_year ON passages(publication_year);
CREATE INDEX IF NOT EXISTS idx_passages_type ON passages(document_type);
`

const passageColumns = `id, document_id, source, passage_index, page, batch, text, publication_year, authors, document_type, title`

// SQLiteIndex keeps passages in a SQLite table. With the sqlite_vec build tag
// similarity is computed in SQL; otherwise candidates are ranked in Go.
type SQLiteIndex struct {
	db        *sql.DB
	dimension int
	logger    *slog.Logger
}

// NewSQLiteIndex opens (or creates) a passage index database
func NewSQLiteIndex(ctx context.Context, cfg Config) (*SQLiteIndex, error) {
	dsn := cfg.Path
	if inMemory(dsn) {
		dsn = ":memory:"
	}

	db, err := sql.Open(storage.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open passage index: %w", err)
	}
	db.SetMaxOpenConns(1)

	if dsn != ":memory:" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, passageSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create passage schema: %w", err)
	}

	if err := checkSchemaVersion(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &SQLiteIndex{
		db:        db,
		dimension: cfg.Dimension,
		logger:    logger.With("component", "index", "backend", BackendSQLite, "build_mode", storage.BuildMode),
	}, nil
}

func checkSchemaVersion(ctx context.Context, db *sql.DB) error {
	var stored string
	err := db.QueryRowContext(ctx, "SELECT value FROM index_meta WHERE key = 'schema_version'").Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = db.ExecContext(ctx, "INSERT INTO index_meta (key, value) VALUES ('schema_version', ?)", IndexSchemaVersion)
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to read index schema version: %w", err)
	}

	have, err := semver.NewVersion(stored)
	if err != nil {
		return fmt.Errorf("invalid index schema version %q: %w", stored, err)
	}
	want := semver.MustParse(IndexSchemaVersion)
	if have.Major() != want.Major() {
		return fmt.Errorf("%w: have %s, want %s", ErrIncompatibleSchema, have, want)
	}
	return nil
}

func (s *SQLiteIndex) Backend() string { return BackendSQLite }

func (s *SQLiteIndex) Close() error { return s.db.Close() }

// Upsert replaces the document's passages inside one transaction
func (s *SQLiteIndex) Upsert(ctx context.Context, documentID string, passages []types.Passage, meta types.Metadata) error {
	if err := validateVectors(passages, s.dimension); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM passages WHERE document_id = ?", documentID); err != nil {
		return fmt.Errorf("failed to clear passages: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO passages (id, document_id, source, passage_index, page, batch, text, vector, dimension,
			publication_year, authors, authors_search, document_type, title, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	year, authors, search, docType, title, err := metadataColumns(meta)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	for _, p := range passages {
		p = stamp(documentID, p, meta)
		_, err := stmt.ExecContext(ctx,
			p.ID, p.DocumentID, p.Source, p.PassageIndex, p.Page, p.Batch, p.Text,
			serializeVector(p.Vector), len(p.Vector),
			year, authors, search, docType, title, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert passage %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit passages: %w", err)
	}

	s.logger.Debug("passages upserted", "document_id", documentID, "count", len(passages))
	return nil
}

func (s *SQLiteIndex) Delete(ctx context.Context, documentID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM passages WHERE document_id = ?", documentID)
	if err != nil {
		return fmt.Errorf("failed to delete passages: %w", err)
	}
	n, _ := res.RowsAffected()
	s.logger.Debug("passages deleted", "document_id", documentID, "count", n)
	return nil
}

// UpdateMetadata rewrites the mirrored columns with a single statement
func (s *SQLiteIndex) UpdateMetadata(ctx context.Context, documentID string, meta types.Metadata) error {
	year, authors, search, docType, title, err := metadataColumns(meta)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE passages
		SET publication_year = ?, authors = ?, authors_search = ?, document_type = ?, title = ?, updated_at = ?
		WHERE document_id = ?
	`, year, authors, search, docType, title, time.Now().UTC(), documentID)
	if err != nil {
		return fmt.Errorf("failed to update passage metadata: %w", err)
	}
	return nil
}

func (s *SQLiteIndex) Search(ctx context.Context, vector []float32, filter types.Filter, limit, offset int) ([]types.SearchHit, error) {
	if err := checkWindow(limit, offset); err != nil {
		return nil, err
	}
	if storage.VectorExtensionAvailable {
		return s.searchOptimized(ctx, vector, filter, limit, offset)
	}
	return s.searchFallback(ctx, vector, filter, limit, offset)
}

// searchOptimized computes similarity with sqlite-vec and windows in SQL
func (s *SQLiteIndex) searchOptimized(ctx context.Context, vector []float32, filter types.Filter, limit, offset int) ([]types.SearchHit, error) {
	// vec_distance_cosine returns a distance; similarity is 1 - distance
	query := `SELECT ` + passageColumns + `, 1.0 - vec_distance_cosine(vector, ?) AS similarity
		FROM passages WHERE dimension = ?`
	args := []interface{}{serializeVector(vector), len(vector)}

	query, args = applyFilter(query, args, filter)
	query += " ORDER BY similarity DESC, id LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hits := make([]types.SearchHit, 0, limit)
	for rows.Next() {
		var hit types.SearchHit
		if err := scanPassage(rows, &hit.Passage, &hit.Score); err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// searchFallback loads filtered candidates and ranks them in Go
func (s *SQLiteIndex) searchFallback(ctx context.Context, vector []float32, filter types.Filter, limit, offset int) ([]types.SearchHit, error) {
	query := `SELECT ` + passageColumns + `, vector FROM passages WHERE 1 = 1`
	var args []interface{}
	query, args = applyFilter(query, args, filter)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query passages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []types.SearchHit
	for rows.Next() {
		var hit types.SearchHit
		var blob []byte
		if err := scanPassage(rows, &hit.Passage, &blob); err != nil {
			return nil, err
		}
		stored := deserializeVector(blob)
		if len(stored) != len(vector) {
			continue
		}
		hit.Score = cosineSimilarity(vector, stored)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return rankAndWindow(hits, limit, offset), nil
}

func (s *SQLiteIndex) Passages(ctx context.Context, documentID string) ([]types.Passage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+passageColumns+`, vector FROM passages WHERE document_id = ? ORDER BY passage_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list passages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.Passage
	for rows.Next() {
		var p types.Passage
		var blob []byte
		if err := scanPassage(rows, &p, &blob); err != nil {
			return nil, err
		}
		p.Vector = deserializeVector(blob)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) Count(ctx context.Context, documentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM passages WHERE document_id = ?", documentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count passages: %w", err)
	}
	return n, nil
}

func (s *SQLiteIndex) IsEmpty(ctx context.Context) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM passages LIMIT 1").Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check passages: %w", err)
	}
	return false, nil
}

// applyFilter adds the metadata predicates to a WHERE clause
func applyFilter(query string, args []interface{}, filter types.Filter) (string, []interface{}) {
	if filter.MinYear != nil {
		query += " AND publication_year IS NOT NULL AND publication_year >= ?"
		args = append(args, *filter.MinYear)
	}
	if filter.MaxYear != nil {
		query += " AND publication_year IS NOT NULL AND publication_year <= ?"
		args = append(args, *filter.MaxYear)
	}
	if len(filter.DocumentTypes) > 0 {
		placeholders := make([]string, len(filter.DocumentTypes))
		for i, dt := range filter.DocumentTypes {
			placeholders[i] = "?"
			args = append(args, string(dt))
		}
		query += " AND document_type IN (" + strings.Join(placeholders, ",") + ")"
	}
	if needle := authorNeedle(filter.Author); needle != "" {
		query += " AND instr(authors_search, ?) > 0"
		args = append(args, needle)
	}
	return query, args
}

func metadataColumns(meta types.Metadata) (year sql.NullInt64, authors sql.NullString, search string, docType, title sql.NullString, err error) {
	if meta.PublicationYear != nil {
		year = sql.NullInt64{Int64: int64(*meta.PublicationYear), Valid: true}
	}
	if len(meta.Authors) > 0 {
		raw, mErr := json.Marshal(meta.Authors)
		if mErr != nil {
			err = fmt.Errorf("failed to encode authors: %w", mErr)
			return
		}
		authors = sql.NullString{String: string(raw), Valid: true}
		search = authorsSearchKey(meta.Authors)
	}
	if meta.DocumentType != nil {
		docType = sql.NullString{String: string(*meta.DocumentType), Valid: true}
	}
	if meta.Title != nil {
		title = sql.NullString{String: *meta.Title, Valid: true}
	}
	return
}

// scanPassage scans passageColumns followed by one trailing column into extra
func scanPassage(rows *sql.Rows, p *types.Passage, extra interface{}) error {
	var (
		year    sql.NullInt64
		authors sql.NullString
		docType sql.NullString
		title   sql.NullString
	)
	err := rows.Scan(&p.ID, &p.DocumentID, &p.Source, &p.PassageIndex, &p.Page, &p.Batch, &p.Text,
		&year, &authors, &docType, &title, extra)
	if err != nil {
		return fmt.Errorf("failed to scan passage: %w", err)
	}

	if year.Valid {
		y := int(year.Int64)
		p.Metadata.PublicationYear = &y
	}
	if authors.Valid && authors.String != "" {
		if err := json.Unmarshal([]byte(authors.String), &p.Metadata.Authors); err != nil {
			return fmt.Errorf("failed to decode authors: %w", err)
		}
	}
	if docType.Valid {
		dt := types.DocumentType(docType.String)
		p.Metadata.DocumentType = &dt
	}
	if title.Valid {
		t := title.String
		p.Metadata.Title = &t
	}
	return nil
}
