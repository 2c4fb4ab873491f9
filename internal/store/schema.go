package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SchemaVersion is the current schema version.
const SchemaVersion = 2

// schemaV1 is the initial schema. It is valid for both SQLite and Postgres.
const schemaV1 = `
-- One row per simulation run
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    mode TEXT NOT NULL,
    seed TEXT NOT NULL,      -- uint64 as decimal text
    steps INTEGER NOT NULL,
    config TEXT,             -- JSON
    status TEXT NOT NULL,
    created_at TEXT NOT NULL,
    finished_at TEXT,
    final_step INTEGER DEFAULT 0,
    kills INTEGER DEFAULT 0,
    target TEXT,
    error TEXT
);

-- Genotype counts after every step
CREATE TABLE IF NOT EXISTS trace_counts (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    step INTEGER NOT NULL,
    genotype TEXT NOT NULL,
    count INTEGER NOT NULL,
    PRIMARY KEY (run_id, step, genotype)
);
CREATE INDEX IF NOT EXISTS idx_trace_counts_genotype ON trace_counts(run_id, genotype);

-- Lineage edges, child -> parent
CREATE TABLE IF NOT EXISTS parents (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    genotype TEXT NOT NULL,
    parent TEXT NOT NULL,
    PRIMARY KEY (run_id, genotype)
);

-- Per-deme genotype counts at recorded steps
CREATE TABLE IF NOT EXISTS deme_counts (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    step INTEGER NOT NULL,
    row_idx INTEGER NOT NULL,
    col_idx INTEGER NOT NULL,
    genotype TEXT NOT NULL,
    count INTEGER NOT NULL,
    PRIMARY KEY (run_id, step, row_idx, col_idx, genotype)
);

-- Most frequent genotype per deme at recorded steps
CREATE TABLE IF NOT EXISTS grid_cells (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    step INTEGER NOT NULL,
    row_idx INTEGER NOT NULL,
    col_idx INTEGER NOT NULL,
    genotype TEXT NOT NULL,
    PRIMARY KEY (run_id, step, row_idx, col_idx)
);

-- Schema version
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);
`

// schemaV2 records the grid size of spatial runs and marks every stored
// step, including steps whose counts are empty.
const schemaV2 = `
ALTER TABLE runs ADD COLUMN grid_size INTEGER DEFAULT 0;

CREATE TABLE IF NOT EXISTS trace_steps (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    step INTEGER NOT NULL,
    PRIMARY KEY (run_id, step)
);
`

// tables lists every table, children first.
var tables = []string{"grid_cells", "deme_counts", "parents", "trace_counts", "trace_steps", "runs", "schema_version"}

// runTables are the tables keyed by run_id.
var runTables = tables[:5]

// Dialect selects the SQL driver and placeholder style.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// driverName returns the database/sql driver registered for the dialect.
func (d Dialect) driverName() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "sqlite"
}

// rebind rewrites ? placeholders to $n for Postgres.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// splitStatements splits a DDL script on semicolons, dropping comments and
// blank statements.
func splitStatements(script string) []string {
	var lines []string
	for _, line := range strings.Split(script, "\n") {
		if i := strings.Index(line, "--"); i >= 0 {
			line = line[:i]
		}
		lines = append(lines, line)
	}
	var out []string
	for _, stmt := range strings.Split(strings.Join(lines, "\n"), ";") {
		if s := strings.TrimSpace(stmt); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// InitSchema initializes the database schema.
// It creates all tables and applies migrations as needed.
// Runs integrity validation before migrations on existing SQLite databases.
func InitSchema(ctx context.Context, db *sql.DB, d Dialect) error {
	currentVersion, err := getSchemaVersion(ctx, db)
	if err != nil {
		// Schema version table doesn't exist yet, create fresh schema
		if err := createSchema(ctx, db, d); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
		return nil
	}

	if d == DialectSQLite {
		if err := ValidateIntegrity(ctx, db); err != nil {
			return fmt.Errorf("database integrity check failed: %w", err)
		}
	}

	if currentVersion > SchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", currentVersion, SchemaVersion)
	}
	if currentVersion < SchemaVersion {
		if err := migrateSchema(ctx, db, d, currentVersion); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return nil
}

// getSchemaVersion returns the current schema version from the database.
// Returns 0 and an error if the schema_version table doesn't exist.
func getSchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&version); err != nil {
		return 0, err
	}
	return int(version.Int64), nil
}

// createSchema creates the initial database schema.
func createSchema(ctx context.Context, db *sql.DB, d Dialect) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range append(splitStatements(schemaV1), splitStatements(schemaV2)...) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		d.rebind(`INSERT INTO schema_version (version, applied_at) VALUES (?, ?)`),
		SchemaVersion, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	return tx.Commit()
}

// migrateSchema applies migrations from currentVersion to SchemaVersion.
func migrateSchema(ctx context.Context, db *sql.DB, d Dialect, currentVersion int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if currentVersion < 2 {
		for _, stmt := range splitStatements(schemaV2) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("v2: %w", err)
			}
		}
		// Runs stored before v2 only have steps with counts.
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO trace_steps (run_id, step)
			SELECT DISTINCT run_id, step FROM trace_counts`); err != nil {
			return fmt.Errorf("v2: backfill trace steps: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		d.rebind(`INSERT INTO schema_version (version, applied_at) VALUES (?, ?)`),
		SchemaVersion, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return tx.Commit()
}

// ValidateIntegrity runs SQLite integrity checks on the database.
// It runs PRAGMA integrity_check and PRAGMA foreign_key_check.
func ValidateIntegrity(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `PRAGMA integrity_check`)
	if err != nil {
		return fmt.Errorf("failed to run integrity_check: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var result string
		if err := rows.Scan(&result); err != nil {
			return fmt.Errorf("failed to scan integrity_check result: %w", err)
		}
		if result != "ok" {
			return fmt.Errorf("integrity_check failed: %s", result)
		}
	}

	fkRows, err := db.QueryContext(ctx, `PRAGMA foreign_key_check`)
	if err != nil {
		return fmt.Errorf("failed to run foreign_key_check: %w", err)
	}
	defer fkRows.Close()

	var fkErrors []string
	for fkRows.Next() {
		var table, parent string
		var rowid, fkid sql.NullInt64
		if err := fkRows.Scan(&table, &rowid, &parent, &fkid); err != nil {
			return fmt.Errorf("failed to scan foreign_key_check result: %w", err)
		}
		fkErrors = append(fkErrors, fmt.Sprintf("table=%s rowid=%d parent=%s fkid=%d", table, rowid.Int64, parent, fkid.Int64))
	}

	if len(fkErrors) > 0 {
		return fmt.Errorf("foreign_key_check failed: %v", fkErrors)
	}
	return nil
}

// ResetSchema drops all tables and recreates the schema.
// Only use for testing.
func ResetSchema(ctx context.Context, db *sql.DB, d Dialect) error {
	for _, table := range tables {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", table)); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", table, err)
		}
	}
	return InitSchema(ctx, db, d)
}
