package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/dshills/docingest-mcp/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = fmt.Errorf("document store: %w", types.ErrNotFound)
	// ErrAlreadyExists is returned when trying to create a duplicate entity
	ErrAlreadyExists = errors.New("already exists")
)

// SQLStore implements Store on SQLite or PostgreSQL
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLiteStorage opens a SQLite store at dbPath (":memory:" for tests)
func NewSQLiteStorage(dbPath string) (*SQLStore, error) {
	return Open(context.Background(), dbPath)
}

// Open opens the store for dsn and applies pending migrations.
// A postgres:// DSN selects PostgreSQL, anything else is a SQLite path.
func Open(ctx context.Context, dsn string) (*SQLStore, error) {
	d := DialectFor(dsn)
	db, err := openDatabase(d, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(ctx, db, d); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLStore{db: db, dialect: d}, nil
}

// Dialect reports which SQL dialect backs the store
func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLStore) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: tx, store: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const documentColumns = `id, filename, path, archive_path, status, page_count, passage_count,
	mod_time_ns, publication_year, authors, document_type, title, error, created_at, processed_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*types.Document, error) {
	var (
		doc         types.Document
		archivePath sql.NullString
		status      string
		modTimeNs   int64
		year        sql.NullInt64
		authors     sql.NullString
		docType     sql.NullString
		title       sql.NullString
		errNote     sql.NullString
		processedAt sql.NullTime
	)
	err := row.Scan(&doc.ID, &doc.Filename, &doc.Path, &archivePath, &status,
		&doc.PageCount, &doc.PassageCount, &modTimeNs, &year, &authors, &docType,
		&title, &errNote, &doc.CreatedAt, &processedAt)
	if err != nil {
		return nil, err
	}

	doc.Status = types.DocumentStatus(status)
	doc.ArchivePath = archivePath.String
	doc.Error = errNote.String
	if modTimeNs != 0 {
		doc.ModTime = time.Unix(0, modTimeNs)
	}
	if year.Valid {
		y := int(year.Int64)
		doc.Metadata.PublicationYear = &y
	}
	if authors.Valid && authors.String != "" {
		if err := json.Unmarshal([]byte(authors.String), &doc.Metadata.Authors); err != nil {
			return nil, fmt.Errorf("failed to decode authors: %w", err)
		}
	}
	if docType.Valid {
		t := types.DocumentType(docType.String)
		doc.Metadata.DocumentType = &t
	}
	if title.Valid {
		tt := title.String
		doc.Metadata.Title = &tt
	}
	if processedAt.Valid {
		at := processedAt.Time
		doc.ProcessedAt = &at
	}
	return &doc, nil
}

// metadataArgs flattens metadata into nullable column values
func metadataArgs(meta types.Metadata) (year, authors, docType, title interface{}, err error) {
	if meta.PublicationYear != nil {
		year = *meta.PublicationYear
	}
	if meta.Authors != nil {
		raw, mErr := json.Marshal(meta.Authors)
		if mErr != nil {
			return nil, nil, nil, nil, fmt.Errorf("failed to encode authors: %w", mErr)
		}
		authors = string(raw)
	}
	if meta.DocumentType != nil {
		docType = string(*meta.DocumentType)
	}
	if meta.Title != nil {
		title = *meta.Title
	}
	return year, authors, docType, title, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Document operations

// createDocumentWithQuerier is the internal implementation that uses a querier
func (s *SQLStore) createDocumentWithQuerier(ctx context.Context, q querier, doc *types.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Status == "" {
		doc.Status = types.StatusUploaded
	}
	year, authors, docType, title, err := metadataArgs(doc.Metadata)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	var modTimeNs int64
	if !doc.ModTime.IsZero() {
		modTimeNs = doc.ModTime.UnixNano()
	}

	query := s.dialect.rebind(`
		INSERT INTO documents (id, filename, path, archive_path, status, page_count, passage_count,
			mod_time_ns, publication_year, authors, document_type, title, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err = q.ExecContext(ctx, query,
		doc.ID, doc.Filename, doc.Path, nullString(doc.ArchivePath), string(doc.Status),
		doc.PageCount, doc.PassageCount, modTimeNs, year, authors, docType, title,
		nullString(doc.Error), now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("document %s: %w", doc.Filename, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create document: %w", err)
	}
	doc.CreatedAt = now
	return nil
}

func (s *SQLStore) CreateDocument(ctx context.Context, doc *types.Document) error {
	return s.createDocumentWithQuerier(ctx, s.db, doc)
}

func (s *SQLStore) getDocumentWithQuerier(ctx context.Context, q querier, column, value string) (*types.Document, error) {
	query := s.dialect.rebind("SELECT " + documentColumns + " FROM documents WHERE " + column + " = ?")
	doc, err := scanDocument(q.QueryRowContext(ctx, query, value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

func (s *SQLStore) GetDocument(ctx context.Context, id string) (*types.Document, error) {
	return s.getDocumentWithQuerier(ctx, s.db, "id", id)
}

func (s *SQLStore) GetDocumentByFilename(ctx context.Context, filename string) (*types.Document, error) {
	return s.getDocumentWithQuerier(ctx, s.db, "filename", filename)
}

// listDocumentsWithQuerier is the internal implementation that uses a querier
func (s *SQLStore) listDocumentsWithQuerier(ctx context.Context, q querier, opts ListOptions) ([]*types.Document, error) {
	query := "SELECT " + documentColumns + " FROM documents WHERE 1=1"
	args := make([]interface{}, 0)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, len(opts.Statuses))
		for i, st := range opts.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += " AND status IN (" + strings.Join(placeholders, ",") + ")"
	}

	if len(opts.FilenameTokens) > 0 {
		conds := make([]string, 0, len(opts.FilenameTokens))
		for _, tok := range opts.FilenameTokens {
			if tok == "" {
				continue
			}
			conds = append(conds, s.dialect.containsExpr("filename"))
			args = append(args, tok)
		}
		if len(conds) == 0 {
			return []*types.Document{}, nil
		}
		query += " AND (" + strings.Join(conds, " OR ") + ")"
	}

	if opts.ExcludeBlacklisted {
		query += " AND filename NOT IN (SELECT filename FROM blacklist)"
	}

	query += " ORDER BY created_at, filename"

	switch {
	case opts.Limit > 0:
		query += " LIMIT ? OFFSET ?"
		args = append(args, opts.Limit, opts.Offset)
	case opts.Offset > 0 && s.dialect == DialectSQLite:
		query += " LIMIT -1 OFFSET ?"
		args = append(args, opts.Offset)
	case opts.Offset > 0:
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := q.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	docs := make([]*types.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *SQLStore) ListDocuments(ctx context.Context, opts ListOptions) ([]*types.Document, error) {
	return s.listDocumentsWithQuerier(ctx, s.db, opts)
}

// updateStatusWithQuerier is the internal implementation that uses a querier
func (s *SQLStore) updateStatusWithQuerier(ctx context.Context, q querier, id string, status types.DocumentStatus, errNote string) error {
	query := s.dialect.rebind(`UPDATE documents SET status = ?, error = ?, updated_at = ? WHERE id = ?`)
	res, err := q.ExecContext(ctx, query, string(status), nullString(errNote), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	return expectAffected(res)
}

func (s *SQLStore) UpdateStatus(ctx context.Context, id string, status types.DocumentStatus, errNote string) error {
	return s.updateStatusWithQuerier(ctx, s.db, id, status, errNote)
}

// markProcessedWithQuerier is the internal implementation that uses a querier
func (s *SQLStore) markProcessedWithQuerier(ctx context.Context, q querier, id string, pageCount, passageCount int, at time.Time) error {
	query := s.dialect.rebind(`
		UPDATE documents
		SET status = ?, page_count = ?, passage_count = ?, processed_at = ?, error = NULL, updated_at = ?
		WHERE id = ?
	`)
	res, err := q.ExecContext(ctx, query, string(types.StatusProcessed), pageCount, passageCount, at.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark processed: %w", err)
	}
	return expectAffected(res)
}

func (s *SQLStore) MarkProcessed(ctx context.Context, id string, pageCount, passageCount int, at time.Time) error {
	return s.markProcessedWithQuerier(ctx, s.db, id, pageCount, passageCount, at)
}

func (s *SQLStore) clearPassagesWithQuerier(ctx context.Context, q querier, id string, status types.DocumentStatus) error {
	query := s.dialect.rebind(`
		UPDATE documents
		SET status = ?, page_count = 0, passage_count = 0, error = NULL, updated_at = ?
		WHERE id = ?
	`)
	res, err := q.ExecContext(ctx, query, string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to clear passage counts: %w", err)
	}
	return expectAffected(res)
}

func (s *SQLStore) ClearPassages(ctx context.Context, id string, status types.DocumentStatus) error {
	return s.clearPassagesWithQuerier(ctx, s.db, id, status)
}

// updateMetadataWithQuerier is the internal implementation that uses a querier
func (s *SQLStore) updateMetadataWithQuerier(ctx context.Context, q querier, id string, meta types.Metadata) error {
	year, authors, docType, title, err := metadataArgs(meta)
	if err != nil {
		return err
	}
	query := s.dialect.rebind(`
		UPDATE documents
		SET publication_year = ?, authors = ?, document_type = ?, title = ?, updated_at = ?
		WHERE id = ?
	`)
	res, err := q.ExecContext(ctx, query, year, authors, docType, title, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update metadata: %w", err)
	}
	return expectAffected(res)
}

func (s *SQLStore) UpdateMetadata(ctx context.Context, id string, meta types.Metadata) error {
	return s.updateMetadataWithQuerier(ctx, s.db, id, meta)
}

func (s *SQLStore) updateArchivePathWithQuerier(ctx context.Context, q querier, id, archivePath string) error {
	query := s.dialect.rebind(`UPDATE documents SET archive_path = ?, updated_at = ? WHERE id = ?`)
	res, err := q.ExecContext(ctx, query, nullString(archivePath), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update archive path: %w", err)
	}
	return expectAffected(res)
}

func (s *SQLStore) UpdateArchivePath(ctx context.Context, id string, archivePath string) error {
	return s.updateArchivePathWithQuerier(ctx, s.db, id, archivePath)
}

func (s *SQLStore) updateSourceWithQuerier(ctx context.Context, q querier, id, path string, modTime time.Time) error {
	var ns int64
	if !modTime.IsZero() {
		ns = modTime.UnixNano()
	}
	query := s.dialect.rebind(`UPDATE documents SET path = ?, mod_time_ns = ?, updated_at = ? WHERE id = ?`)
	res, err := q.ExecContext(ctx, query, path, ns, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update source: %w", err)
	}
	return expectAffected(res)
}

func (s *SQLStore) UpdateSource(ctx context.Context, id string, path string, modTime time.Time) error {
	return s.updateSourceWithQuerier(ctx, s.db, id, path, modTime)
}

func (s *SQLStore) deleteDocumentWithQuerier(ctx context.Context, q querier, id string) error {
	res, err := q.ExecContext(ctx, s.dialect.rebind(`DELETE FROM documents WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return expectAffected(res)
}

func (s *SQLStore) DeleteDocument(ctx context.Context, id string) error {
	return s.deleteDocumentWithQuerier(ctx, s.db, id)
}

// Blacklist operations

func (s *SQLStore) addBlacklistWithQuerier(ctx context.Context, q querier, entry *types.BlacklistEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	query := s.dialect.rebind(`
		INSERT INTO blacklist (filename, reason, created_at) VALUES (?, ?, ?)
		ON CONFLICT(filename) DO UPDATE SET reason = excluded.reason
	`)
	if _, err := q.ExecContext(ctx, query, entry.Filename, nullString(entry.Reason), entry.CreatedAt); err != nil {
		return fmt.Errorf("failed to add blacklist entry: %w", err)
	}
	return nil
}

func (s *SQLStore) AddBlacklist(ctx context.Context, entry *types.BlacklistEntry) error {
	return s.addBlacklistWithQuerier(ctx, s.db, entry)
}

func (s *SQLStore) removeBlacklistWithQuerier(ctx context.Context, q querier, filename string) error {
	res, err := q.ExecContext(ctx, s.dialect.rebind(`DELETE FROM blacklist WHERE filename = ?`), filename)
	if err != nil {
		return fmt.Errorf("failed to remove blacklist entry: %w", err)
	}
	return expectAffected(res)
}

func (s *SQLStore) RemoveBlacklist(ctx context.Context, filename string) error {
	return s.removeBlacklistWithQuerier(ctx, s.db, filename)
}

func (s *SQLStore) isBlacklistedWithQuerier(ctx context.Context, q querier, filename string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, s.dialect.rebind(`SELECT COUNT(*) FROM blacklist WHERE filename = ?`), filename).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return n > 0, nil
}

func (s *SQLStore) IsBlacklisted(ctx context.Context, filename string) (bool, error) {
	return s.isBlacklistedWithQuerier(ctx, s.db, filename)
}

func (s *SQLStore) listBlacklistWithQuerier(ctx context.Context, q querier) ([]*types.BlacklistEntry, error) {
	rows, err := q.QueryContext(ctx, `SELECT filename, reason, created_at FROM blacklist ORDER BY filename`)
	if err != nil {
		return nil, fmt.Errorf("failed to list blacklist: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]*types.BlacklistEntry, 0)
	for rows.Next() {
		var (
			entry  types.BlacklistEntry
			reason sql.NullString
		)
		if err := rows.Scan(&entry.Filename, &reason, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.Reason = reason.String
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

func (s *SQLStore) ListBlacklist(ctx context.Context) ([]*types.BlacklistEntry, error) {
	return s.listBlacklistWithQuerier(ctx, s.db)
}

// Status operations

func (s *SQLStore) statsWithQuerier(ctx context.Context, q querier) (*types.StoreStats, error) {
	stats := &types.StoreStats{ByStatus: make(map[types.DocumentStatus]int)}

	rows, err := q.QueryContext(ctx, `SELECT status, COUNT(*), COALESCE(SUM(passage_count), 0) FROM documents GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}
	for rows.Next() {
		var (
			status   string
			count    int
			passages int
		)
		if err := rows.Scan(&status, &count, &passages); err != nil {
			_ = rows.Close()
			return nil, err
		}
		stats.ByStatus[types.DocumentStatus(status)] = count
		stats.Documents += count
		stats.Passages += passages
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM blacklist`).Scan(&stats.BlacklistCount); err != nil {
		return nil, fmt.Errorf("failed to count blacklist: %w", err)
	}
	return stats, nil
}

func (s *SQLStore) Stats(ctx context.Context) (*types.StoreStats, error) {
	return s.statsWithQuerier(ctx, s.db)
}

// sqlTx wraps a SQL transaction
type sqlTx struct {
	tx    *sql.Tx
	store *SQLStore
}

func (t *sqlTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqlTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqlTx) CreateDocument(ctx context.Context, doc *types.Document) error {
	return t.store.createDocumentWithQuerier(ctx, t.tx, doc)
}

func (t *sqlTx) GetDocument(ctx context.Context, id string) (*types.Document, error) {
	return t.store.getDocumentWithQuerier(ctx, t.tx, "id", id)
}

func (t *sqlTx) GetDocumentByFilename(ctx context.Context, filename string) (*types.Document, error) {
	return t.store.getDocumentWithQuerier(ctx, t.tx, "filename", filename)
}

func (t *sqlTx) ListDocuments(ctx context.Context, opts ListOptions) ([]*types.Document, error) {
	return t.store.listDocumentsWithQuerier(ctx, t.tx, opts)
}

func (t *sqlTx) UpdateStatus(ctx context.Context, id string, status types.DocumentStatus, errNote string) error {
	return t.store.updateStatusWithQuerier(ctx, t.tx, id, status, errNote)
}

func (t *sqlTx) MarkProcessed(ctx context.Context, id string, pageCount, passageCount int, at time.Time) error {
	return t.store.markProcessedWithQuerier(ctx, t.tx, id, pageCount, passageCount, at)
}

func (t *sqlTx) ClearPassages(ctx context.Context, id string, status types.DocumentStatus) error {
	return t.store.clearPassagesWithQuerier(ctx, t.tx, id, status)
}

func (t *sqlTx) UpdateMetadata(ctx context.Context, id string, meta types.Metadata) error {
	return t.store.updateMetadataWithQuerier(ctx, t.tx, id, meta)
}

func (t *sqlTx) UpdateArchivePath(ctx context.Context, id string, archivePath string) error {
	return t.store.updateArchivePathWithQuerier(ctx, t.tx, id, archivePath)
}

func (t *sqlTx) UpdateSource(ctx context.Context, id string, path string, modTime time.Time) error {
	return t.store.updateSourceWithQuerier(ctx, t.tx, id, path, modTime)
}

func (t *sqlTx) DeleteDocument(ctx context.Context, id string) error {
	return t.store.deleteDocumentWithQuerier(ctx, t.tx, id)
}

func (t *sqlTx) AddBlacklist(ctx context.Context, entry *types.BlacklistEntry) error {
	return t.store.addBlacklistWithQuerier(ctx, t.tx, entry)
}

func (t *sqlTx) RemoveBlacklist(ctx context.Context, filename string) error {
	return t.store.removeBlacklistWithQuerier(ctx, t.tx, filename)
}

func (t *sqlTx) IsBlacklisted(ctx context.Context, filename string) (bool, error) {
	return t.store.isBlacklistedWithQuerier(ctx, t.tx, filename)
}

func (t *sqlTx) ListBlacklist(ctx context.Context) ([]*types.BlacklistEntry, error) {
	return t.store.listBlacklistWithQuerier(ctx, t.tx)
}

func (t *sqlTx) Stats(ctx context.Context) (*types.StoreStats, error) {
	return t.store.statsWithQuerier(ctx, t.tx)
}

func (t *sqlTx) Close() error {
	return t.Rollback()
}

func (t *sqlTx) BeginTx(ctx context.Context) (Tx, error) {
	return nil, fmt.Errorf("nested transactions not supported")
}
