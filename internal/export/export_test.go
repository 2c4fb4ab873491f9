package export

import (
	"context"
	"errors"
	"io"
	"slices"
	"testing"

	"github.com/nvandessel/tumorevo/internal/blob"
	"github.com/nvandessel/tumorevo/internal/cell"
	"github.com/nvandessel/tumorevo/internal/genome"
	"github.com/nvandessel/tumorevo/internal/modes"
	"github.com/nvandessel/tumorevo/internal/selection"
	"github.com/nvandessel/tumorevo/internal/tumor"
)

func TestTraceTable_ZeroFilled(t *testing.T) {
	traces := []modes.Trace{
		{Step: 0, Counts: map[genome.GenotypeID]int{"a": 1}},
		{Step: 1, Counts: map[genome.GenotypeID]int{"a": 2, "b": 1}},
		{Step: 2, Counts: map[genome.GenotypeID]int{"b": 3}},
	}
	got := TraceTable(traces)
	if want := []string{"step", "a", "b"}; !slices.Equal(got.Header, want) {
		t.Errorf("header = %v, want %v", got.Header, want)
	}
	want := [][]string{{"0", "1", "0"}, {"1", "2", "1"}, {"2", "0", "3"}}
	for i := range want {
		if !slices.Equal(got.Rows[i], want[i]) {
			t.Errorf("row %d = %v, want %v", i, got.Rows[i], want[i])
		}
	}
}

func TestParentTable(t *testing.T) {
	got := ParentTable(map[genome.GenotypeID]genome.GenotypeID{"c": "b", "b": "a"})
	if len(got.Rows) != 2 || got.Rows[0][0] != "b" || got.Rows[1][1] != "b" {
		t.Errorf("ParentTable() = %+v", got)
	}
}

func TestFrequenciesFromCounts(t *testing.T) {
	stromal := genome.GenotypeID(cell.Stromal.String())
	counts := map[genome.GenotypeID]int{"a": 3, "b": 1, "z": 0, stromal: 10}
	got := FrequenciesFromCounts(counts)
	if len(got) != 2 {
		t.Fatalf("FrequenciesFromCounts() = %+v, want 2 cancer genotypes", got)
	}
	if got[0].Genotype != "a" || got[0].Frequency != 0.75 || got[1].Frequency != 0.25 {
		t.Errorf("FrequenciesFromCounts() = %+v", got)
	}
	if out := FrequenciesFromCounts(nil); len(out) != 0 {
		t.Errorf("empty counts gave %+v", out)
	}
}

func TestGridAndDemeTables(t *testing.T) {
	grid := GridTable([][]genome.GenotypeID{{"a", ""}, {"", "b"}})
	if want := []string{"row", "0", "1"}; !slices.Equal(grid.Header, want) {
		t.Errorf("grid header = %v", grid.Header)
	}
	if want := []string{"1", "", "b"}; !slices.Equal(grid.Rows[1], want) {
		t.Errorf("grid row 1 = %v, want %v", grid.Rows[1], want)
	}

	demes := DemeTable([]tumor.DemeCount{
		{Row: 0, Col: 0, Counts: map[genome.GenotypeID]int{"a": 2}},
		{Row: 0, Col: 1, Counts: map[genome.GenotypeID]int{"b": 5}},
	})
	if want := []string{"deme", "a", "b"}; !slices.Equal(demes.Header, want) {
		t.Errorf("deme header = %v", demes.Header)
	}
	if want := []string{"0,1", "0", "5"}; !slices.Equal(demes.Rows[1], want) {
		t.Errorf("deme row 1 = %v, want %v", demes.Rows[1], want)
	}
}

func TestCellTables(t *testing.T) {
	cells := []tumor.CellRecord{
		{Genotype: "g1", Type: cell.Cancer, Row: 2, Col: 3, Mutations: []genome.Mutation{
			{Segment: 0, Haplotype: genome.Paternal, Allele: 0, Position: 4},
			{Segment: 1, Haplotype: genome.Maternal, Allele: 1, Position: 0},
		}},
		{Genotype: genome.GenotypeID(cell.Epithelial.String()), Type: cell.Epithelial, Row: 0, Col: 0},
	}

	tables := CellTables(cells, 2, 3)
	if _, ok := tables["cell_exp"]; ok {
		t.Error("cell_exp written without expression")
	}
	if n := len(tables["cell_gen"].Rows); n != 2 {
		t.Errorf("cell_gen rows = %d, want 2", n)
	}
	if want := []string{"C0", "2", "3"}; !slices.Equal(tables["cell_crd"].Rows[0], want) {
		t.Errorf("cell_crd row = %v, want %v", tables["cell_crd"].Rows[0], want)
	}
	if got := tables["cell_ids"].Rows[1]; got[0] != "C1" || got[2] != cell.Epithelial.String() {
		t.Errorf("cell_ids row = %v", got)
	}

	cells[0].Expression = []float64{1, 2, 3, 4, 5, 6}
	cells[1].Expression = []float64{0, 0, 0, 0, 0, 0.5}
	tables = CellTables(cells, 2, 3)
	exp, ok := tables["cell_exp"]
	if !ok {
		t.Fatal("cell_exp missing")
	}
	if len(exp.Header) != 7 || exp.Header[4] != "G1_0" {
		t.Errorf("cell_exp header = %v", exp.Header)
	}
	if exp.Rows[1][6] != "0.5" {
		t.Errorf("cell_exp row = %v", exp.Rows[1])
	}
}

func TestGeneTables(t *testing.T) {
	data := tumor.GeneData{
		DriverTypes:       [][]selection.DriverType{{selection.Oncogene, selection.Passenger}, {selection.Suppressor, selection.Passenger}},
		ConfersResistance: [][]bool{{false, true}, {false, false}},
	}
	tables := GeneTables(data)
	if want := []string{"G1", "-1", "0"}; !slices.Equal(tables["driver_types"].Rows[1], want) {
		t.Errorf("driver_types row = %v, want %v", tables["driver_types"].Rows[1], want)
	}
	if want := []string{"G0", "false", "true"}; !slices.Equal(tables["confers_resistance"].Rows[0], want) {
		t.Errorf("confers_resistance row = %v, want %v", tables["confers_resistance"].Rows[0], want)
	}
}

func TestEncodeDecode(t *testing.T) {
	in := Table{Header: []string{"deme", "a"}, Rows: [][]string{{"0,1", "3"}}}
	b, err := Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "deme,a\n\"0,1\",3\n" {
		t.Errorf("Encode() = %q", b)
	}
	out, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(out.Header, in.Header) || !slices.Equal(out.Rows[0], in.Rows[0]) {
		t.Errorf("Decode() = %+v", out)
	}
}

func testRecord(index int) Record {
	snap := tumor.Snapshot{
		Step:    10,
		Counts:  map[genome.GenotypeID]int{"a": 2},
		Parents: map[genome.GenotypeID]genome.GenotypeID{},
		Grid:    [][]genome.GenotypeID{{"a"}},
		Demes:   []tumor.DemeCount{{Row: 0, Col: 0, Counts: map[genome.GenotypeID]int{"a": 2}}},
	}
	return Record{
		Index:       index,
		Traces:      []modes.Trace{{Step: 10, Counts: map[genome.GenotypeID]int{"a": 2}}},
		Parents:     map[genome.GenotypeID]genome.GenotypeID{},
		Frequencies: FrequenciesFromCounts(snap.Counts),
		Snapshot:    &snap,
	}
}

func TestExporter_WriteRecord(t *testing.T) {
	store := blob.NewMemory()
	ctx := context.Background()
	e := New(store, "out", "run-1")

	if e.RecordDir(2) != "out/run-1/record_2" {
		t.Errorf("RecordDir() = %s", e.RecordDir(2))
	}

	infos, err := e.WriteRecord(ctx, testRecord(0))
	if err != nil {
		t.Fatalf("WriteRecord() error = %v", err)
	}
	var keys []string
	for _, info := range infos {
		keys = append(keys, info.Key)
	}
	want := []string{
		"out/run-1/record_0/genotype_counts_demes.csv",
		"out/run-1/record_0/genotypes.csv",
		"out/run-1/record_0/grid.csv",
		"out/run-1/record_0/parents.csv",
		"out/run-1/record_0/trace_counts.csv",
	}
	if !slices.Equal(keys, want) {
		t.Errorf("written keys = %v, want %v", keys, want)
	}

	_, rc, err := store.Get(ctx, "out/run-1/record_0/genotypes.csv")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := io.ReadAll(rc)
	rc.Close()
	if string(b) != "genotype,count,frequency\na,2,1\n" {
		t.Errorf("genotypes.csv = %q", b)
	}

	// A record index is written once unless overwriting.
	if _, err := e.WriteRecord(ctx, testRecord(0)); !errors.Is(err, blob.ErrExists) {
		t.Errorf("rewrite error = %v, want ErrExists", err)
	}
	if _, err := New(store, "out", "run-1", WithOverwrite()).WriteRecord(ctx, testRecord(0)); err != nil {
		t.Errorf("overwrite error = %v", err)
	}
}

func TestExporter_NonspatialAndCells(t *testing.T) {
	store := blob.NewMemory()
	ctx := context.Background()
	e := New(store, "", "run-2")

	rec := testRecord(1)
	rec.Snapshot = nil
	rec.Cells = []tumor.CellRecord{{Genotype: "a", Type: cell.Cancer, Expression: []float64{1}}}
	rec.Segments, rec.SegmentSize = 1, 1
	if _, err := e.WriteRecord(ctx, rec); err != nil {
		t.Fatal(err)
	}

	list, _ := store.List(ctx, "run-2/record_1/")
	var keys []string
	for _, info := range list {
		keys = append(keys, info.Key)
	}
	if slices.Contains(keys, "run-2/record_1/grid.csv") {
		t.Error("grid written without a snapshot")
	}
	for _, k := range []string{"run-2/record_1/cell_data/cell_exp.csv", "run-2/record_1/cell_data/cell_ids.csv"} {
		if !slices.Contains(keys, k) {
			t.Errorf("missing %s in %v", k, keys)
		}
	}
}

func TestExporter_WriteGeneData(t *testing.T) {
	store := blob.NewMemory()
	e := New(store, "p", "run-3")
	infos, err := e.WriteGeneData(context.Background(), tumor.GeneData{
		DriverTypes:       [][]selection.DriverType{{selection.Passenger}},
		ConfersResistance: [][]bool{{true}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 || infos[0].Key != "p/run-3/gene_data/confers_resistance.csv" {
		t.Errorf("WriteGeneData() = %+v", infos)
	}
}
