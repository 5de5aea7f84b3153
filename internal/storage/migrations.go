package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.1.0"
)

// Migration represents a database schema migration. Each dialect gets its own DDL.
type Migration struct {
	Version      string
	SQLite       string
	Postgres     string
	DownSQLite   string
	DownPostgres string
}

func (m Migration) up(d Dialect) string {
	if d == DialectPostgres {
		return m.Postgres
	}
	return m.SQLite
}

func (m Migration) down(d Dialect) string {
	if d == DialectPostgres {
		return m.DownPostgres
	}
	return m.DownSQLite
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version:      "1.0.0",
		SQLite:       migrationV1SQLite,
		Postgres:     migrationV1Postgres,
		DownSQLite:   migrationV1Down,
		DownPostgres: migrationV1Down,
	},
	{
		Version:      "1.1.0",
		SQLite:       migrationV11Up,
		Postgres:     migrationV11Up,
		DownSQLite:   migrationV11Down,
		DownPostgres: migrationV11Down,
	},
}

const schemaVersionDDL = `
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`

const migrationV1SQLite = `
CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    filename TEXT NOT NULL UNIQUE,
    path TEXT NOT NULL,
    archive_path TEXT,
    status TEXT NOT NULL,
    page_count INTEGER NOT NULL DEFAULT 0,
    passage_count INTEGER NOT NULL DEFAULT 0,
    mod_time_ns INTEGER NOT NULL DEFAULT 0,
    publication_year INTEGER,
    authors TEXT,
    document_type TEXT,
    error TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    processed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);

CREATE TABLE IF NOT EXISTS blacklist (
    filename TEXT PRIMARY KEY,
    reason TEXT,
    created_at TIMESTAMP NOT NULL
);
`

const migrationV1Postgres = `
CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    filename TEXT NOT NULL UNIQUE,
    path TEXT NOT NULL,
    archive_path TEXT,
    status TEXT NOT NULL,
    page_count INTEGER NOT NULL DEFAULT 0,
    passage_count INTEGER NOT NULL DEFAULT 0,
    mod_time_ns BIGINT NOT NULL DEFAULT 0,
    publication_year INTEGER,
    authors TEXT,
    document_type TEXT,
    error TEXT,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    processed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);

CREATE TABLE IF NOT EXISTS blacklist (
    filename TEXT PRIMARY KEY,
    reason TEXT,
    created_at TIMESTAMPTZ NOT NULL
);
`

const migrationV1Down = `
DROP TABLE IF EXISTS blacklist;
DROP TABLE IF EXISTS documents;
`

// 1.1.0 adds the document title used for archive naming
const migrationV11Up = `ALTER TABLE documents ADD COLUMN title TEXT;`

const migrationV11Down = `ALTER TABLE documents DROP COLUMN title;`

// ApplyMigrations runs all pending migrations for the dialect
func ApplyMigrations(ctx context.Context, db *sql.DB, d Dialect) error {
	if _, err := db.ExecContext(ctx, schemaVersionDDL); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	currentVersion, err := currentSchemaVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range AllMigrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}

		if !currentVersion.LessThan(migrationVersion) {
			continue
		}

		if _, err := db.ExecContext(ctx, migration.up(d)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}

		if _, err := db.ExecContext(ctx, d.rebind("INSERT INTO schema_version (version) VALUES (?)"), migration.Version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}

		currentVersion = migrationVersion
	}

	return nil
}

// currentSchemaVersion returns the highest recorded version, 0.0.0 when none
func currentSchemaVersion(ctx context.Context, db *sql.DB) (*semver.Version, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}
	defer func() { _ = rows.Close() }()

	current := semver.MustParse("0.0.0")
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		v, err := semver.NewVersion(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid schema version %s: %w", raw, err)
		}
		if v.GreaterThan(current) {
			current = v
		}
	}
	return current, rows.Err()
}

// RollbackMigration rolls back the most recent migration
func RollbackMigration(ctx context.Context, db *sql.DB, d Dialect) error {
	current, err := currentSchemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if current.Equal(semver.MustParse("0.0.0")) {
		return fmt.Errorf("no migrations to rollback")
	}

	var migration *Migration
	for i := range AllMigrations {
		if semver.MustParse(AllMigrations[i].Version).Equal(current) {
			migration = &AllMigrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration %s not found", current)
	}

	if _, err := db.ExecContext(ctx, migration.down(d)); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", migration.Version, err)
	}

	if _, err := db.ExecContext(ctx, d.rebind("DELETE FROM schema_version WHERE version = ?"), migration.Version); err != nil {
		return fmt.Errorf("failed to remove migration record %s: %w", migration.Version, err)
	}

	return nil
}
