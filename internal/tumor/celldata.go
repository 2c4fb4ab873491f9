package tumor

import (
	"maps"
	"slices"

	"github.com/nvandessel/tumorevo/internal/cell"
	"github.com/nvandessel/tumorevo/internal/genome"
	"github.com/nvandessel/tumorevo/internal/selection"
)

// CellRecord is the extracted state of one live cell.
type CellRecord struct {
	Genotype   genome.GenotypeID
	Type       cell.Type
	Row, Col   int
	Mutations  []genome.Mutation
	Expression []float64
}

// CellData extracts every live cell in row-major deme order. Expression
// vectors are derived from the cell type's baseline only when requested.
func (t *Tumor) CellData(withExpression bool) []CellRecord {
	var out []CellRecord
	for _, d := range t.demes {
		for _, c := range d.cells {
			rec := CellRecord{
				Genotype:  c.Genotype(),
				Type:      c.Type(),
				Row:       d.row,
				Col:       d.col,
				Mutations: c.Genome().Mutations(),
			}
			if withExpression {
				rec.Expression = t.sel.Expression(t.baselines[c.Type()], c.Genome())
			}
			out = append(out, rec)
		}
	}
	return out
}

// BaselineExpression returns a copy of the baseline expression of a cell type.
func (t *Tumor) BaselineExpression(typ cell.Type) []float64 {
	return slices.Clone(t.baselines[typ])
}

// GeneData is the per-site annotation of the selection model.
type GeneData struct {
	DriverTypes       [][]selection.DriverType
	ConfersResistance [][]bool
}

// GeneData returns the driver and resistance annotation of every segment.
func (t *Tumor) GeneData() GeneData {
	n := t.sel.Params().NumSegments
	out := GeneData{
		DriverTypes:       make([][]selection.DriverType, n),
		ConfersResistance: make([][]bool, n),
	}
	for seg := range n {
		out.DriverTypes[seg] = t.sel.DriverTypes(seg)
		out.ConfersResistance[seg] = t.sel.ResistanceMask(seg)
	}
	return out
}

// GenotypeFrequency is the live count and share of one cancer genotype.
type GenotypeFrequency struct {
	Genotype  genome.GenotypeID `json:"genotype"`
	Count     int               `json:"count"`
	Frequency float64           `json:"frequency"`
}

// Frequencies returns the cancer genotypes ordered by id with their counts
// normalised over all live cancer cells. Healthy types are excluded.
func (t *Tumor) Frequencies() []GenotypeFrequency {
	total := 0
	var out []GenotypeFrequency
	for _, g := range slices.Sorted(maps.Keys(t.counts)) {
		if cell.IsHealthyGenotype(g) {
			continue
		}
		n := t.counts[g]
		total += n
		out = append(out, GenotypeFrequency{Genotype: g, Count: n})
	}
	if total > 0 {
		for i := range out {
			out[i].Frequency = float64(out[i].Count) / float64(total)
		}
	}
	return out
}
