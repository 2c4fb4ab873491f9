package store

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

func openMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:?_pragma=foreign_keys(1)")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInitSchema_Fresh(t *testing.T) {
	db := openMemoryDB(t)
	ctx := context.Background()

	if err := InitSchema(ctx, db, DialectSQLite); err != nil {
		t.Fatalf("InitSchema failed: %v", err)
	}

	for _, table := range tables {
		if cols := getColumns(t, db, table); len(cols) == 0 {
			t.Errorf("table %s was not created", table)
		}
	}
	if !getColumns(t, db, "runs")["grid_size"] {
		t.Error("runs missing column grid_size")
	}
	demeCols := getColumns(t, db, "deme_counts")
	for _, col := range []string{"run_id", "step", "row_idx", "col_idx", "genotype", "count"} {
		if !demeCols[col] {
			t.Errorf("deme_counts missing column %s", col)
		}
	}

	var version int
	if err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&version); err != nil {
		t.Fatalf("get schema version: %v", err)
	}
	if version != SchemaVersion {
		t.Errorf("schema version = %d, want %d", version, SchemaVersion)
	}

	// Running again is a no-op.
	if err := InitSchema(ctx, db, DialectSQLite); err != nil {
		t.Fatalf("second InitSchema failed: %v", err)
	}
	var rows int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_version`).Scan(&rows); err != nil {
		t.Fatal(err)
	}
	if rows != 1 {
		t.Errorf("schema_version has %d rows, want 1", rows)
	}
}

func TestInitSchema_MigratesV1(t *testing.T) {
	db := openMemoryDB(t)
	ctx := context.Background()

	for _, stmt := range splitStatements(schemaV1) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatal(err)
		}
	}
	for _, stmt := range []string{
		`INSERT INTO schema_version (version, applied_at) VALUES (1, '2026-01-01')`,
		`INSERT INTO runs (id, mode, seed, steps, status, created_at) VALUES ('r', 'invasion', '1', 2, 'finished', 'x')`,
		`INSERT INTO trace_counts (run_id, step, genotype, count) VALUES ('r', 0, 'a', 1), ('r', 1, 'a', 2), ('r', 1, 'b', 1)`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatal(err)
		}
	}

	if err := InitSchema(ctx, db, DialectSQLite); err != nil {
		t.Fatalf("InitSchema failed: %v", err)
	}
	if !getColumns(t, db, "runs")["grid_size"] {
		t.Error("runs.grid_size was not added")
	}
	var steps, version int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trace_steps WHERE run_id = 'r'`).Scan(&steps); err != nil {
		t.Fatal(err)
	}
	if steps != 2 {
		t.Errorf("backfilled %d trace steps, want 2", steps)
	}
	if err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&version); err != nil {
		t.Fatal(err)
	}
	if version != SchemaVersion {
		t.Errorf("schema version = %d, want %d", version, SchemaVersion)
	}
}

func TestInitSchema_NewerVersionRejected(t *testing.T) {
	db := openMemoryDB(t)
	ctx := context.Background()
	if err := InitSchema(ctx, db, DialectSQLite); err != nil {
		t.Fatal(err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO schema_version (version, applied_at) VALUES (99, '2030-01-01')`); err != nil {
		t.Fatal(err)
	}
	if err := InitSchema(ctx, db, DialectSQLite); err == nil {
		t.Error("expected InitSchema to reject a newer schema version")
	}
}

func TestValidateIntegrity_ForeignKeyViolation(t *testing.T) {
	db := openMemoryDB(t)
	ctx := context.Background()
	if err := InitSchema(ctx, db, DialectSQLite); err != nil {
		t.Fatal(err)
	}
	if err := ValidateIntegrity(ctx, db); err != nil {
		t.Fatalf("fresh schema fails integrity: %v", err)
	}

	// Insert an orphaned trace row with enforcement off.
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = OFF`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO trace_counts (run_id, step, genotype, count) VALUES ('ghost', 0, 'g', 1)`); err != nil {
		t.Fatalf("insert orphan: %v", err)
	}
	err := ValidateIntegrity(ctx, db)
	if err == nil || !strings.Contains(err.Error(), "foreign_key_check") {
		t.Errorf("ValidateIntegrity() error = %v, want foreign key failure", err)
	}
}

func TestResetSchema(t *testing.T) {
	db := openMemoryDB(t)
	ctx := context.Background()
	if err := InitSchema(ctx, db, DialectSQLite); err != nil {
		t.Fatal(err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO runs (id, mode, seed, steps, status, created_at) VALUES ('r', 'invasion', '1', 1, 'running', 'x')`); err != nil {
		t.Fatal(err)
	}
	if err := ResetSchema(ctx, db, DialectSQLite); err != nil {
		t.Fatalf("ResetSchema failed: %v", err)
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("runs has %d rows after reset", n)
	}
}

func TestRebind(t *testing.T) {
	tests := []struct {
		dialect Dialect
		in      string
		want    string
	}{
		{DialectSQLite, "SELECT * FROM runs WHERE id = ? AND step = ?", "SELECT * FROM runs WHERE id = ? AND step = ?"},
		{DialectPostgres, "SELECT * FROM runs WHERE id = ? AND step = ?", "SELECT * FROM runs WHERE id = $1 AND step = $2"},
		{DialectPostgres, "SELECT 1", "SELECT 1"},
	}
	for _, tt := range tests {
		if got := tt.dialect.rebind(tt.in); got != tt.want {
			t.Errorf("%s.rebind(%q) = %q, want %q", tt.dialect, tt.in, got, tt.want)
		}
	}
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements(schemaV1)
	// five tables, one index, schema_version
	if len(stmts) != 7 {
		t.Fatalf("splitStatements() returned %d statements, want 7", len(stmts))
	}
	for _, s := range stmts {
		if strings.Contains(s, "--") {
			t.Errorf("statement still contains a comment: %q", s)
		}
	}
}

func getColumns(t *testing.T, db *sql.DB, table string) map[string]bool {
	t.Helper()
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("PRAGMA table_info(%s): %v", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("scan: %v", err)
		}
		cols[name] = true
	}
	return cols
}
