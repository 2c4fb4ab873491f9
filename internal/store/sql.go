package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // SQLite driver

	"github.com/nvandessel/tumorevo/internal/genome"
	"github.com/nvandessel/tumorevo/internal/modes"
	"github.com/nvandessel/tumorevo/internal/tumor"
)

// Compile-time contract assertion.
var _ TraceStore = (*SQLStore)(nil)

// SQLStore implements TraceStore over database/sql for SQLite and Postgres.
type SQLStore struct {
	mu      sync.Mutex
	db      *sql.DB
	dialect Dialect
}

// Open opens a trace store. For SQLite, source is a file path (parent
// directories are created); for Postgres it is a DSN.
func Open(ctx context.Context, d Dialect, source string) (*SQLStore, error) {
	var dsn string
	switch d {
	case DialectSQLite:
		if source == "" {
			return nil, errors.New("sqlite store requires a path")
		}
		if source != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(source), 0o750); err != nil {
				return nil, fmt.Errorf("failed to create store directory: %w", err)
			}
		}
		dsn = source + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	case DialectPostgres:
		if source == "" {
			return nil, errors.New("postgres store requires a DSN")
		}
		dsn = source
	default:
		return nil, fmt.Errorf("unknown store dialect %q", d)
	}

	db, err := sql.Open(d.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if d == DialectSQLite {
		// SQLite works best with single writer
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := InitSchema(ctx, db, d); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLStore{db: db, dialect: d}, nil
}

// DB exposes the underlying sql.DB.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Dialect returns the store's SQL dialect.
func (s *SQLStore) Dialect() Dialect { return s.dialect }

func (s *SQLStore) q(query string) string { return s.dialect.rebind(query) }

// CreateRun inserts a new run in the running state.
func (s *SQLStore) CreateRun(ctx context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		return errors.New("run ID is required")
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO runs (id, mode, seed, steps, grid_size, config, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		run.ID, run.Mode, strconv.FormatUint(run.Seed, 10), run.Steps, run.GridSize, run.Config, run.Status,
		run.CreatedAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun records the outcome of a run.
func (s *SQLStore) FinishRun(ctx context.Context, id string, res Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if res.Status == "" {
		res.Status = StatusFinished
	}
	out, err := s.db.ExecContext(ctx, s.q(`
		UPDATE runs SET status = ?, finished_at = ?, final_step = ?, kills = ?, target = ?, error = ?
		WHERE id = ?`),
		res.Status, time.Now().UTC().Format(timeFormat), res.FinalStep, res.Kills, res.Target, res.Error, id)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", id, err)
	}
	if n, err := out.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// timeFormat is fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const runColumns = `id, mode, seed, steps, grid_size, config, status, created_at, finished_at, final_step, kills, target, error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		r                        Run
		seed, created            string
		config, finished, target sql.NullString
		errText                  sql.NullString
		gridSize, finalStep      sql.NullInt64
		kills                    sql.NullInt64
	)
	if err := row.Scan(&r.ID, &r.Mode, &seed, &r.Steps, &gridSize, &config, &r.Status, &created,
		&finished, &finalStep, &kills, &target, &errText); err != nil {
		return nil, err
	}
	var err error
	if r.Seed, err = strconv.ParseUint(seed, 10, 64); err != nil {
		return nil, fmt.Errorf("run %s: bad seed %q: %w", r.ID, seed, err)
	}
	if r.CreatedAt, err = time.Parse(timeFormat, created); err != nil {
		return nil, fmt.Errorf("run %s: bad created_at: %w", r.ID, err)
	}
	if finished.Valid && finished.String != "" {
		t, err := time.Parse(timeFormat, finished.String)
		if err != nil {
			return nil, fmt.Errorf("run %s: bad finished_at: %w", r.ID, err)
		}
		r.FinishedAt = &t
	}
	r.GridSize = int(gridSize.Int64)
	r.Config = config.String
	r.FinalStep = int(finalStep.Int64)
	r.Kills = int(kills.Int64)
	r.Target = target.String
	r.Error = errText.String
	return &r, nil
}

// GetRun returns a run by id.
func (s *SQLStore) GetRun(ctx context.Context, id string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+runColumns+` FROM runs WHERE id = ?`), id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return r, nil
}

// ListRuns returns every run, newest first.
func (s *SQLStore) ListRuns(ctx context.Context) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// AppendTraces stores the genotype counts of each trace in one transaction.
func (s *SQLStore) AppendTraces(ctx context.Context, runID string, traces []modes.Trace) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.q(`
			INSERT INTO trace_counts (run_id, step, genotype, count) VALUES (?, ?, ?, ?)
			ON CONFLICT (run_id, step, genotype) DO UPDATE SET count = excluded.count`))
		if err != nil {
			return fmt.Errorf("failed to prepare trace insert: %w", err)
		}
		defer stmt.Close()
		mark, err := tx.PrepareContext(ctx, s.q(`
			INSERT INTO trace_steps (run_id, step) VALUES (?, ?)
			ON CONFLICT (run_id, step) DO NOTHING`))
		if err != nil {
			return fmt.Errorf("failed to prepare trace step insert: %w", err)
		}
		defer mark.Close()

		for _, tr := range traces {
			if _, err := mark.ExecContext(ctx, runID, tr.Step); err != nil {
				return fmt.Errorf("failed to insert trace step %d: %w", tr.Step, err)
			}
			for _, g := range slices.Sorted(maps.Keys(tr.Counts)) {
				if _, err := stmt.ExecContext(ctx, runID, tr.Step, string(g), tr.Counts[g]); err != nil {
					return fmt.Errorf("failed to insert trace step %d: %w", tr.Step, err)
				}
			}
		}
		return nil
	})
}

// SaveSnapshot upserts lineage and replaces the grid and deme counts of
// the snapshot's step.
func (s *SQLStore) SaveSnapshot(ctx context.Context, runID string, snap tumor.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		parent, err := tx.PrepareContext(ctx, s.q(`
			INSERT INTO parents (run_id, genotype, parent) VALUES (?, ?, ?)
			ON CONFLICT (run_id, genotype) DO NOTHING`))
		if err != nil {
			return fmt.Errorf("failed to prepare parent insert: %w", err)
		}
		defer parent.Close()
		for _, g := range slices.Sorted(maps.Keys(snap.Parents)) {
			if _, err := parent.ExecContext(ctx, runID, string(g), string(snap.Parents[g])); err != nil {
				return fmt.Errorf("failed to insert parent of %s: %w", g, err)
			}
		}

		for _, table := range []string{"grid_cells", "deme_counts"} {
			if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM `+table+` WHERE run_id = ? AND step = ?`), runID, snap.Step); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}

		grid, err := tx.PrepareContext(ctx, s.q(`
			INSERT INTO grid_cells (run_id, step, row_idx, col_idx, genotype) VALUES (?, ?, ?, ?, ?)`))
		if err != nil {
			return fmt.Errorf("failed to prepare grid insert: %w", err)
		}
		defer grid.Close()
		for row, cols := range snap.Grid {
			for col, g := range cols {
				if g == "" {
					continue
				}
				if _, err := grid.ExecContext(ctx, runID, snap.Step, row, col, string(g)); err != nil {
					return fmt.Errorf("failed to insert grid cell (%d,%d): %w", row, col, err)
				}
			}
		}

		demes, err := tx.PrepareContext(ctx, s.q(`
			INSERT INTO deme_counts (run_id, step, row_idx, col_idx, genotype, count) VALUES (?, ?, ?, ?, ?, ?)`))
		if err != nil {
			return fmt.Errorf("failed to prepare deme insert: %w", err)
		}
		defer demes.Close()
		for _, d := range snap.Demes {
			for _, g := range slices.Sorted(maps.Keys(d.Counts)) {
				if _, err := demes.ExecContext(ctx, runID, snap.Step, d.Row, d.Col, string(g), d.Counts[g]); err != nil {
					return fmt.Errorf("failed to insert deme count (%d,%d): %w", d.Row, d.Col, err)
				}
			}
		}
		return nil
	})
}

// LoadTraces returns every stored trace of a run ordered by step.
func (s *SQLStore) LoadTraces(ctx context.Context, runID string) ([]modes.Trace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT s.step, c.genotype, c.count FROM trace_steps s
		LEFT JOIN trace_counts c ON c.run_id = s.run_id AND c.step = s.step
		WHERE s.run_id = ? ORDER BY s.step, c.genotype`), runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query traces: %w", err)
	}
	defer rows.Close()

	var traces []modes.Trace
	for rows.Next() {
		var (
			step  int
			g     sql.NullString
			count sql.NullInt64
		)
		if err := rows.Scan(&step, &g, &count); err != nil {
			return nil, fmt.Errorf("failed to scan trace: %w", err)
		}
		if len(traces) == 0 || traces[len(traces)-1].Step != step {
			traces = append(traces, modes.Trace{Step: step, Counts: make(map[genome.GenotypeID]int)})
		}
		// An extinct step has a marker and no counts.
		if g.Valid {
			traces[len(traces)-1].Counts[genome.GenotypeID(g.String)] = int(count.Int64)
		}
	}
	return traces, rows.Err()
}

// LoadParents returns the lineage of a run.
func (s *SQLStore) LoadParents(ctx context.Context, runID string) (map[genome.GenotypeID]genome.GenotypeID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadParents(ctx, runID)
}

func (s *SQLStore) loadParents(ctx context.Context, runID string) (map[genome.GenotypeID]genome.GenotypeID, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT genotype, parent FROM parents WHERE run_id = ?`), runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query parents: %w", err)
	}
	defer rows.Close()

	out := make(map[genome.GenotypeID]genome.GenotypeID)
	for rows.Next() {
		var g, p string
		if err := rows.Scan(&g, &p); err != nil {
			return nil, fmt.Errorf("failed to scan parent: %w", err)
		}
		out[genome.GenotypeID(g)] = genome.GenotypeID(p)
	}
	return out, rows.Err()
}

// SnapshotSteps returns the recorded snapshot steps of a run in order.
func (s *SQLStore) SnapshotSteps(ctx context.Context, runID string) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT DISTINCT step FROM deme_counts WHERE run_id = ?
		UNION
		SELECT DISTINCT step FROM grid_cells WHERE run_id = ?
		ORDER BY 1`), runID, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot steps: %w", err)
	}
	defer rows.Close()

	var steps []int
	for rows.Next() {
		var step int
		if err := rows.Scan(&step); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// LoadSnapshot rebuilds the snapshot of a recorded step with the run's
// full grid: one DemeCount per deme in row-major order, empty demes
// included. Counts aggregates the demes.
func (s *SQLStore) LoadSnapshot(ctx context.Context, runID string, step int) (*tumor.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var size sql.NullInt64
	err := s.db.QueryRowContext(ctx, s.q(`SELECT grid_size FROM runs WHERE id = ?`), runID).Scan(&size)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get grid size of run %s: %w", runID, err)
	}
	n := int(size.Int64)
	if n <= 0 {
		return nil, fmt.Errorf("run %s has no grid", runID)
	}

	snap := &tumor.Snapshot{
		Step:   step,
		Counts: make(map[genome.GenotypeID]int),
		Grid:   make([][]genome.GenotypeID, n),
		Demes:  make([]tumor.DemeCount, 0, n*n),
	}
	for row := range n {
		snap.Grid[row] = make([]genome.GenotypeID, n)
		for col := range n {
			snap.Demes = append(snap.Demes, tumor.DemeCount{Row: row, Col: col, Counts: make(map[genome.GenotypeID]int)})
		}
	}
	inGrid := func(row, col int) error {
		if row < 0 || row >= n || col < 0 || col >= n {
			return fmt.Errorf("run %s step %d: deme (%d,%d) outside %dx%d grid", runID, step, row, col, n, n)
		}
		return nil
	}

	found := false
	demeRows, err := s.db.QueryContext(ctx, s.q(`
		SELECT row_idx, col_idx, genotype, count FROM deme_counts
		WHERE run_id = ? AND step = ?`), runID, step)
	if err != nil {
		return nil, fmt.Errorf("failed to query deme counts: %w", err)
	}
	for demeRows.Next() {
		var (
			row, col, count int
			g               string
		)
		if err := demeRows.Scan(&row, &col, &g, &count); err != nil {
			demeRows.Close()
			return nil, fmt.Errorf("failed to scan deme count: %w", err)
		}
		if err := inGrid(row, col); err != nil {
			demeRows.Close()
			return nil, err
		}
		snap.Demes[row*n+col].Counts[genome.GenotypeID(g)] = count
		snap.Counts[genome.GenotypeID(g)] += count
		found = true
	}
	demeRows.Close()
	if err := demeRows.Err(); err != nil {
		return nil, err
	}

	gridRows, err := s.db.QueryContext(ctx, s.q(`
		SELECT row_idx, col_idx, genotype FROM grid_cells WHERE run_id = ? AND step = ?`), runID, step)
	if err != nil {
		return nil, fmt.Errorf("failed to query grid: %w", err)
	}
	for gridRows.Next() {
		var (
			row, col int
			g        string
		)
		if err := gridRows.Scan(&row, &col, &g); err != nil {
			gridRows.Close()
			return nil, fmt.Errorf("failed to scan grid cell: %w", err)
		}
		if err := inGrid(row, col); err != nil {
			gridRows.Close()
			return nil, err
		}
		snap.Grid[row][col] = genome.GenotypeID(g)
		found = true
	}
	gridRows.Close()
	if err := gridRows.Err(); err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("no snapshot for run %s at step %d", runID, step)
	}

	if snap.Parents, err = s.loadParents(ctx, runID); err != nil {
		return nil, err
	}
	return snap, nil
}

// DeleteRun removes a run and everything recorded for it.
func (s *SQLStore) DeleteRun(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range runTables {
			if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM `+table+` WHERE run_id = ?`), id); err != nil {
				return fmt.Errorf("failed to delete from %s: %w", table, err)
			}
		}
		out, err := tx.ExecContext(ctx, s.q(`DELETE FROM runs WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("failed to delete run %s: %w", id, err)
		}
		if n, err := out.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return nil
	})
}

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Close closes the database.
func (s *SQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
