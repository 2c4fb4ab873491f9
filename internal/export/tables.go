// Package export renders simulation output as CSV tables and writes them
// to a blob store.
package export

import (
	"maps"
	"slices"
	"strconv"

	"github.com/nvandessel/tumorevo/internal/cell"
	"github.com/nvandessel/tumorevo/internal/genome"
	"github.com/nvandessel/tumorevo/internal/modes"
	"github.com/nvandessel/tumorevo/internal/tumor"
)

// Table is a CSV table: a header row and data rows.
type Table struct {
	Header []string
	Rows   [][]string
}

func itoa(n int) string { return strconv.Itoa(n) }

func ftoa(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

// TraceTable is one row per trace and one column per genotype ever seen,
// zero-filled where a genotype is absent.
func TraceTable(traces []modes.Trace) Table {
	seen := make(map[genome.GenotypeID]bool)
	for _, tr := range traces {
		for g := range tr.Counts {
			seen[g] = true
		}
	}
	cols := slices.Sorted(maps.Keys(seen))

	t := Table{Header: append([]string{"step"}, idStrings(cols)...)}
	for _, tr := range traces {
		row := make([]string, 0, len(cols)+1)
		row = append(row, itoa(tr.Step))
		for _, g := range cols {
			row = append(row, itoa(tr.Counts[g]))
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// ParentTable lists child -> parent edges ordered by child.
func ParentTable(parents map[genome.GenotypeID]genome.GenotypeID) Table {
	t := Table{Header: []string{"genotype", "parent"}}
	for _, g := range slices.Sorted(maps.Keys(parents)) {
		t.Rows = append(t.Rows, []string{string(g), string(parents[g])})
	}
	return t
}

// FrequencyTable lists cancer genotype counts and normalised frequencies.
func FrequencyTable(freqs []tumor.GenotypeFrequency) Table {
	t := Table{Header: []string{"genotype", "count", "frequency"}}
	for _, f := range freqs {
		t.Rows = append(t.Rows, []string{string(f.Genotype), itoa(f.Count), ftoa(f.Frequency)})
	}
	return t
}

// FrequenciesFromCounts derives normalised cancer genotype frequencies
// from stored counts.
func FrequenciesFromCounts(counts map[genome.GenotypeID]int) []tumor.GenotypeFrequency {
	var out []tumor.GenotypeFrequency
	total := 0
	for _, g := range slices.Sorted(maps.Keys(counts)) {
		if cell.IsHealthyGenotype(g) || counts[g] == 0 {
			continue
		}
		total += counts[g]
		out = append(out, tumor.GenotypeFrequency{Genotype: g, Count: counts[g]})
	}
	for i := range out {
		out[i].Frequency = float64(out[i].Count) / float64(total)
	}
	return out
}

// GridTable renders the dominant genotype of every deme, one row per grid row.
func GridTable(grid [][]genome.GenotypeID) Table {
	t := Table{Header: []string{"row"}}
	if len(grid) > 0 {
		for col := range grid[0] {
			t.Header = append(t.Header, itoa(col))
		}
	}
	for r, cols := range grid {
		row := make([]string, 0, len(cols)+1)
		row = append(row, itoa(r))
		row = append(row, idStrings(cols)...)
		t.Rows = append(t.Rows, row)
	}
	return t
}

// DemeTable is one row per deme, indexed "row,col", one column per
// genotype, zero-filled.
func DemeTable(demes []tumor.DemeCount) Table {
	seen := make(map[genome.GenotypeID]bool)
	for _, d := range demes {
		for g := range d.Counts {
			seen[g] = true
		}
	}
	cols := slices.Sorted(maps.Keys(seen))

	t := Table{Header: append([]string{"deme"}, idStrings(cols)...)}
	for _, d := range demes {
		row := make([]string, 0, len(cols)+1)
		row = append(row, itoa(d.Row)+","+itoa(d.Col))
		for _, g := range cols {
			row = append(row, itoa(d.Counts[g]))
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// CellTables splits cell records into the per-cell tables. Cells are named
// C0, C1, ... in record order. cell_exp is omitted when no record carries
// an expression vector.
func CellTables(cells []tumor.CellRecord, segments, segmentSize int) map[string]Table {
	gen := Table{Header: []string{"cell", "segment", "haplotype", "allele", "position"}}
	crd := Table{Header: []string{"cell", "row", "col"}}
	ids := Table{Header: []string{"cell", "genotype", "type"}}
	exp := Table{Header: []string{"cell"}}
	for seg := range segments {
		for i := range segmentSize {
			exp.Header = append(exp.Header, "G"+itoa(seg)+"_"+itoa(i))
		}
	}

	withExp := false
	for i, c := range cells {
		name := "C" + itoa(i)
		for _, m := range c.Mutations {
			gen.Rows = append(gen.Rows, []string{name, itoa(m.Segment), m.Haplotype.String(), itoa(m.Allele), itoa(m.Position)})
		}
		crd.Rows = append(crd.Rows, []string{name, itoa(c.Row), itoa(c.Col)})
		ids.Rows = append(ids.Rows, []string{name, string(c.Genotype), c.Type.String()})
		if c.Expression != nil {
			withExp = true
			row := make([]string, 0, len(c.Expression)+1)
			row = append(row, name)
			for _, v := range c.Expression {
				row = append(row, ftoa(v))
			}
			exp.Rows = append(exp.Rows, row)
		}
	}

	out := map[string]Table{"cell_gen": gen, "cell_crd": crd, "cell_ids": ids}
	if withExp {
		out["cell_exp"] = exp
	}
	return out
}

// GeneTables renders driver types and resistance flags, one row per
// segment and one column per site.
func GeneTables(data tumor.GeneData) map[string]Table {
	drivers := Table{Header: []string{"segment"}}
	resist := Table{Header: []string{"segment"}}
	if len(data.DriverTypes) > 0 {
		for i := range data.DriverTypes[0] {
			drivers.Header = append(drivers.Header, itoa(i))
			resist.Header = append(resist.Header, itoa(i))
		}
	}
	for seg, types := range data.DriverTypes {
		row := []string{"G" + itoa(seg)}
		for _, d := range types {
			row = append(row, itoa(int(d)))
		}
		drivers.Rows = append(drivers.Rows, row)
	}
	for seg, flags := range data.ConfersResistance {
		row := []string{"G" + itoa(seg)}
		for _, f := range flags {
			row = append(row, strconv.FormatBool(f))
		}
		resist.Rows = append(resist.Rows, row)
	}
	return map[string]Table{"driver_types": drivers, "confers_resistance": resist}
}

func idStrings(ids []genome.GenotypeID) []string {
	out := make([]string, len(ids))
	for i, g := range ids {
		out[i] = string(g)
	}
	return out
}
