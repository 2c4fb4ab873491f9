package tumor

import (
	"maps"

	"github.com/nvandessel/tumorevo/internal/genome"
)

// DemeCount is the genotype composition of one deme.
type DemeCount struct {
	Row    int                       `json:"row"`
	Col    int                       `json:"col"`
	Counts map[genome.GenotypeID]int `json:"counts"`
}

// Snapshot is a deep copy of the tumor's output tables at one step.
type Snapshot struct {
	Step    int                                     `json:"step"`
	Counts  map[genome.GenotypeID]int               `json:"counts"`
	Parents map[genome.GenotypeID]genome.GenotypeID `json:"parents"`
	Grid    [][]genome.GenotypeID                   `json:"grid"`
	Demes   []DemeCount                             `json:"demes"`
}

// GenotypeGrid returns the most frequent genotype of every deme, "" for
// empty demes.
func (t *Tumor) GenotypeGrid() [][]genome.GenotypeID {
	out := make([][]genome.GenotypeID, t.cfg.GridSize)
	for row := range t.grid {
		out[row] = make([]genome.GenotypeID, t.cfg.GridSize)
		for col, d := range t.grid[row] {
			out[row][col] = d.MostFrequentGenotype()
		}
	}
	return out
}

// DemeCounts returns every deme's genotype counts in row-major order.
func (t *Tumor) DemeCounts() []DemeCount {
	out := make([]DemeCount, len(t.demes))
	for i, d := range t.demes {
		out[i] = DemeCount{Row: d.row, Col: d.col, Counts: maps.Clone(d.genotypes)}
	}
	return out
}

// Snapshot captures the current output tables.
func (t *Tumor) Snapshot() Snapshot {
	return Snapshot{
		Step:    t.steps,
		Counts:  t.Counts(),
		Parents: t.Parents(),
		Grid:    t.GenotypeGrid(),
		Demes:   t.DemeCounts(),
	}
}
