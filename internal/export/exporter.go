package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"maps"
	"path"
	"slices"

	"github.com/nvandessel/tumorevo/internal/blob"
	"github.com/nvandessel/tumorevo/internal/genome"
	"github.com/nvandessel/tumorevo/internal/modes"
	"github.com/nvandessel/tumorevo/internal/tumor"
)

const contentType = "text/csv"

// Record is the output of one recorded chunk of a run. Nil fields are
// skipped: Snapshot is nil for the nonspatial mode, Cells is nil for
// chunks that do not dump cell data.
type Record struct {
	Index       int
	Traces      []modes.Trace
	Parents     map[genome.GenotypeID]genome.GenotypeID
	Frequencies []tumor.GenotypeFrequency
	Snapshot    *tumor.Snapshot
	Cells       []tumor.CellRecord
	// Genome shape, used for the cell_exp header.
	Segments, SegmentSize int
}

// Exporter writes the tables of one run under <prefix>/<run>/.
type Exporter struct {
	store     blob.Store
	base      string
	overwrite bool
	logger    *slog.Logger
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithOverwrite replaces existing tables instead of failing.
func WithOverwrite() Option { return func(e *Exporter) { e.overwrite = true } }

// WithLogger sets the logger used for per-table debug output.
func WithLogger(l *slog.Logger) Option { return func(e *Exporter) { e.logger = l } }

// New returns an exporter for runID.
func New(store blob.Store, prefix, runID string, opts ...Option) *Exporter {
	e := &Exporter{store: store, base: path.Join(prefix, runID), logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Base returns the key prefix of the run.
func (e *Exporter) Base() string { return e.base }

// RecordDir returns the key prefix of record i.
func (e *Exporter) RecordDir(i int) string { return path.Join(e.base, fmt.Sprintf("record_%d", i)) }

// WriteRecord writes every table of rec and returns the written blobs.
func (e *Exporter) WriteRecord(ctx context.Context, rec Record) ([]blob.Info, error) {
	dir := e.RecordDir(rec.Index)
	tables := map[string]Table{
		"trace_counts.csv": TraceTable(rec.Traces),
		"parents.csv":      ParentTable(rec.Parents),
		"genotypes.csv":    FrequencyTable(rec.Frequencies),
	}
	if rec.Snapshot != nil {
		tables["grid.csv"] = GridTable(rec.Snapshot.Grid)
		tables["genotype_counts_demes.csv"] = DemeTable(rec.Snapshot.Demes)
	}
	if rec.Cells != nil {
		for name, t := range CellTables(rec.Cells, rec.Segments, rec.SegmentSize) {
			tables[path.Join("cell_data", name+".csv")] = t
		}
	}
	return e.writeTables(ctx, dir, tables)
}

// WriteGeneData writes the run-level gene annotation tables.
func (e *Exporter) WriteGeneData(ctx context.Context, data tumor.GeneData) ([]blob.Info, error) {
	tables := make(map[string]Table)
	for name, t := range GeneTables(data) {
		tables[name+".csv"] = t
	}
	return e.writeTables(ctx, path.Join(e.base, "gene_data"), tables)
}

func (e *Exporter) writeTables(ctx context.Context, dir string, tables map[string]Table) ([]blob.Info, error) {
	infos := make([]blob.Info, 0, len(tables))
	for _, name := range slices.Sorted(maps.Keys(tables)) {
		info, err := e.put(ctx, path.Join(dir, name), tables[name])
		if err != nil {
			return infos, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (e *Exporter) put(ctx context.Context, key string, t Table) (blob.Info, error) {
	b, err := Encode(t)
	if err != nil {
		return blob.Info{}, fmt.Errorf("failed to encode %s: %w", key, err)
	}
	info, err := e.store.Put(ctx, key, bytes.NewReader(b), blob.PutOptions{ContentType: contentType, Overwrite: e.overwrite})
	if err != nil {
		return blob.Info{}, fmt.Errorf("failed to write %s: %w", key, err)
	}
	e.logger.Debug("exported table", "key", key, "rows", len(t.Rows), "bytes", info.Size)
	return info, nil
}

// Encode renders a table as CSV.
func Encode(t Table) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.Header); err != nil {
		return nil, err
	}
	if err := w.WriteAll(t.Rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a CSV table written by Encode.
func Decode(b []byte) (Table, error) {
	r := csv.NewReader(bytes.NewReader(b))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return Table{}, err
	}
	if len(rows) == 0 {
		return Table{}, nil
	}
	return Table{Header: rows[0], Rows: rows[1:]}, nil
}
