package tumor

import (
	"fmt"
	"maps"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/stat/distuv"
	"gonum.org/v1/gonum/stat/sampleuv"

	"github.com/nvandessel/tumorevo/internal/cell"
	"github.com/nvandessel/tumorevo/internal/constants"
	"github.com/nvandessel/tumorevo/internal/genome"
	"github.com/nvandessel/tumorevo/internal/selection"
)

// DemeParams configures crowding and sampling of every deme.
type DemeParams struct {
	CarryingCapacity int
	InitialDeathRate float64
	MaxDeathRate     float64
	// Overflow is "displace" or "grow". Under displace, an offspring placed
	// in a deme at or above capacity, its parent's or a neighbour it
	// disperses to, replaces a random resident.
	Overflow       string
	CellsPerUpdate int
}

// DefaultDemeParams returns the default deme parameters.
func DefaultDemeParams() DemeParams {
	return DemeParams{
		CarryingCapacity: constants.DefaultCarryingCapacity,
		InitialDeathRate: constants.DefaultDeathRate,
		MaxDeathRate:     constants.DefaultMaxDeathRate,
		Overflow:         constants.OverflowDisplace,
		CellsPerUpdate:   constants.CellsPerDemeUpdate,
	}
}

// Validate checks the deme parameters.
func (p DemeParams) Validate() error {
	switch {
	case p.CarryingCapacity < 1:
		return fmt.Errorf("%w: carrying capacity must be >= 1, got %d", ErrInvalidConfig, p.CarryingCapacity)
	case p.InitialDeathRate < 0 || p.InitialDeathRate > 1:
		return fmt.Errorf("%w: initial death rate must be in [0, 1], got %v", ErrInvalidConfig, p.InitialDeathRate)
	case p.MaxDeathRate < 0 || p.MaxDeathRate > 1:
		return fmt.Errorf("%w: max death rate must be in [0, 1], got %v", ErrInvalidConfig, p.MaxDeathRate)
	case p.Overflow != constants.OverflowDisplace && p.Overflow != constants.OverflowGrow:
		return fmt.Errorf("%w: overflow must be %q or %q, got %q", ErrInvalidConfig,
			constants.OverflowDisplace, constants.OverflowGrow, p.Overflow)
	case p.CellsPerUpdate < 1:
		return fmt.Errorf("%w: cells per update must be >= 1, got %d", ErrInvalidConfig, p.CellsPerUpdate)
	}
	return nil
}

// DemeConfig describes a deme to construct. Either Seed or Tumor must be set.
type DemeConfig struct {
	Params   DemeParams
	Row, Col int
	Seed     *cell.Cell
	Tumor    *Tumor
	// Selection is used for mutations when the deme has no parent tumor,
	// and is required in that case.
	Selection *selection.Selection
}

// Treatment describes the therapy applied during one update.
type Treatment struct {
	Active bool
	Target genome.Site
}

// Susceptible reports whether treatment raises the death rate of c.
func (tr Treatment) Susceptible(c *cell.Cell) bool {
	return tr.Active && c.IsCancer() && c.Carries(tr.Target)
}

// Lineage is one parent edge created by a mutation.
type Lineage struct {
	Genotype genome.GenotypeID `json:"genotype"`
	Parent   genome.GenotypeID `json:"parent"`
}

// UpdateStats counts the events applied by one update.
type UpdateStats struct {
	Births         int
	Deaths         int
	Mutations      int
	Dispersals     int
	Displacements  int
	TreatmentKills int
	Born           []Lineage
}

// Add accumulates o into s.
func (s *UpdateStats) Add(o UpdateStats) {
	s.Births += o.Births
	s.Deaths += o.Deaths
	s.Mutations += o.Mutations
	s.Dispersals += o.Dispersals
	s.Displacements += o.Displacements
	s.TreatmentKills += o.TreatmentKills
	s.Born = append(s.Born, o.Born...)
}

// Deme is one grid position's sub-population. Cells are kept in a slice
// with a position index so sampling only depends on the random source.
type Deme struct {
	params DemeParams
	row    int
	col    int
	tumor  *Tumor
	sel    *selection.Selection
	seen   map[genome.GenotypeID]struct{}

	cells     []*cell.Cell
	index     map[*cell.Cell]int
	genotypes map[genome.GenotypeID]int
	types     map[cell.Type]int
	parents   map[genome.GenotypeID]genome.GenotypeID
}

// NewDeme constructs a deme and adds the seed cell if there is one.
func NewDeme(cfg DemeConfig) (*Deme, error) {
	if cfg.Seed == nil && cfg.Tumor == nil {
		return nil, ErrDemeWithoutSource
	}
	if cfg.Tumor == nil && cfg.Selection == nil {
		return nil, ErrDemeWithoutSelection
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	d := &Deme{
		params:    cfg.Params,
		row:       cfg.Row,
		col:       cfg.Col,
		tumor:     cfg.Tumor,
		sel:       cfg.Selection,
		index:     make(map[*cell.Cell]int),
		genotypes: make(map[genome.GenotypeID]int),
		types:     make(map[cell.Type]int),
		parents:   make(map[genome.GenotypeID]genome.GenotypeID),
	}
	if cfg.Tumor != nil {
		d.sel = cfg.Tumor.sel
	} else {
		d.seen = make(map[genome.GenotypeID]struct{})
	}
	if cfg.Seed != nil {
		d.Add(cfg.Seed)
		d.markSeen(cfg.Seed.Genotype())
	}
	return d, nil
}

// Row returns the grid row.
func (d *Deme) Row() int { return d.row }

// Col returns the grid column.
func (d *Deme) Col() int { return d.col }

// Len returns the number of live cells.
func (d *Deme) Len() int { return len(d.cells) }

// Params returns the deme parameters.
func (d *Deme) Params() DemeParams { return d.params }

// Cells returns a copy of the live cell list.
func (d *Deme) Cells() []*cell.Cell { return slices.Clone(d.cells) }

// GenotypeCounts returns a copy of the genotype live counts.
func (d *Deme) GenotypeCounts() map[genome.GenotypeID]int { return maps.Clone(d.genotypes) }

// TypeCount returns the number of live cells of type t.
func (d *Deme) TypeCount(t cell.Type) int { return d.types[t] }

// Parents returns a copy of the parent edges created in this deme.
func (d *Deme) Parents() map[genome.GenotypeID]genome.GenotypeID { return maps.Clone(d.parents) }

// Add inserts a cell and updates counts.
func (d *Deme) Add(c *cell.Cell) {
	d.index[c] = len(d.cells)
	d.cells = append(d.cells, c)
	d.genotypes[c.Genotype()]++
	d.types[c.Type()]++
}

func (d *Deme) contains(c *cell.Cell) bool {
	_, ok := d.index[c]
	return ok
}

// remove deletes a cell by swapping it with the last one.
func (d *Deme) remove(c *cell.Cell) error {
	i, ok := d.index[c]
	if !ok {
		return fmt.Errorf("removing cell %s from deme (%d,%d): not a member", c.Genotype(), d.row, d.col)
	}
	if d.genotypes[c.Genotype()] <= 0 || d.types[c.Type()] <= 0 {
		return fmt.Errorf("removing cell %s from deme (%d,%d): %w", c.Genotype(), d.row, d.col, ErrNegativeCount)
	}

	last := len(d.cells) - 1
	if i != last {
		moved := d.cells[last]
		d.cells[i] = moved
		d.index[moved] = i
	}
	d.cells[last] = nil
	d.cells = d.cells[:last]
	delete(d.index, c)

	if d.genotypes[c.Genotype()]--; d.genotypes[c.Genotype()] == 0 {
		delete(d.genotypes, c.Genotype())
	}
	if d.types[c.Type()]--; d.types[c.Type()] == 0 {
		delete(d.types, c.Type())
	}
	return nil
}

// EffectiveDeathRate applies crowding to a per-cell death rate: unchanged
// up to carrying capacity, scaled by capacity and capped beyond it.
func (d *Deme) EffectiveDeathRate(cellRate float64) float64 {
	if len(d.cells) <= d.params.CarryingCapacity {
		return cellRate
	}
	return min(cellRate*float64(d.params.CarryingCapacity), d.params.MaxDeathRate)
}

// DeathRate returns the deme's current death-rate regime.
func (d *Deme) DeathRate() float64 {
	return d.EffectiveDeathRate(d.params.InitialDeathRate)
}

// Crowded reports whether the deme holds more cells than its capacity.
func (d *Deme) Crowded() bool {
	return len(d.cells) > d.params.CarryingCapacity
}

// MostFrequentGenotype returns the genotype with the most live cells,
// ties going to the smallest id. It returns "" for an empty deme.
func (d *Deme) MostFrequentGenotype() genome.GenotypeID {
	var best genome.GenotypeID
	bestCount := 0
	for _, g := range slices.Sorted(maps.Keys(d.genotypes)) {
		if n := d.genotypes[g]; n > bestCount {
			best, bestCount = g, n
		}
	}
	return best
}

// Validate checks that counters match the live cell set.
func (d *Deme) Validate() error {
	genotypes := make(map[genome.GenotypeID]int)
	types := make(map[cell.Type]int)
	for i, c := range d.cells {
		if d.index[c] != i {
			return fmt.Errorf("deme (%d,%d): index of cell %d is %d: %w", d.row, d.col, i, d.index[c], ErrCountMismatch)
		}
		genotypes[c.Genotype()]++
		types[c.Type()]++
	}
	if len(d.index) != len(d.cells) {
		return fmt.Errorf("deme (%d,%d): %d indexed cells, %d live: %w", d.row, d.col, len(d.index), len(d.cells), ErrCountMismatch)
	}
	total := 0
	for g, n := range d.genotypes {
		if n < 0 {
			return fmt.Errorf("deme (%d,%d) genotype %s: %w", d.row, d.col, g, ErrNegativeCount)
		}
		if genotypes[g] != n {
			return fmt.Errorf("deme (%d,%d) genotype %s counted %d, %d live: %w", d.row, d.col, g, n, genotypes[g], ErrCountMismatch)
		}
		total += n
	}
	if total != len(d.cells) || len(genotypes) != len(d.genotypes) {
		return fmt.Errorf("deme (%d,%d): genotype counts sum to %d, %d live: %w", d.row, d.col, total, len(d.cells), ErrCountMismatch)
	}
	for t, n := range types {
		if d.types[t] != n {
			return fmt.Errorf("deme (%d,%d) type %s counted %d, %d live: %w", d.row, d.col, t, d.types[t], n, ErrCountMismatch)
		}
	}
	for g, p := range d.parents {
		if g == p {
			return fmt.Errorf("deme (%d,%d) genotype %s: %w", d.row, d.col, g, ErrSelfParent)
		}
	}
	return nil
}

// Update samples up to CellsPerUpdate live cells and applies at most one
// death or division to each.
func (d *Deme) Update(r *rand.Rand, tr Treatment) (UpdateStats, error) {
	var stats UpdateStats
	n := min(d.params.CellsPerUpdate, len(d.cells))
	if n == 0 {
		return stats, nil
	}

	idxs := make([]int, n)
	sampleuv.WithoutReplacement(idxs, len(d.cells), r)
	sampled := make([]*cell.Cell, n)
	for i, j := range idxs {
		sampled[i] = d.cells[j]
	}

	for _, c := range sampled {
		// An earlier offspring may have displaced this cell.
		if !d.contains(c) {
			continue
		}
		susceptible := tr.Susceptible(c)
		death, ok := d.drawEvent(r, c, susceptible)
		if !ok {
			continue
		}
		if death {
			if err := d.remove(c); err != nil {
				return stats, err
			}
			stats.Deaths++
			if susceptible {
				stats.TreatmentKills++
			}
			continue
		}
		if err := d.divide(r, c, tr, &stats); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// drawEvent picks death or division for c and runs the Bernoulli trial for
// it. It returns whether the event is a death and whether it happens.
func (d *Deme) drawEvent(r *rand.Rand, c *cell.Cell, susceptible bool) (death, ok bool) {
	if c.Viability() == 0 {
		return true, true
	}
	deathRate := d.EffectiveDeathRate(c.DeathRate())
	if susceptible {
		deathRate = c.TreatmentEffectiveness()
	}
	if !c.IsCancer() {
		return true, bernoulli(r, deathRate)
	}

	divisionRate := c.DivisionRate()
	if deathRate+divisionRate <= 0 {
		return false, false
	}
	death = distuv.NewCategorical([]float64{deathRate, divisionRate}, r).Rand() == 0
	if death {
		return true, bernoulli(r, deathRate)
	}
	return false, bernoulli(r, divisionRate)
}

func (d *Deme) divide(r *rand.Rand, parent *cell.Cell, tr Treatment, stats *UpdateStats) error {
	child := parent.Divide()
	stats.Births++

	if bernoulli(r, child.MutationRate()) {
		mutated, err := child.Mutate(r, d.sel)
		if err != nil {
			return fmt.Errorf("mutating offspring of %s in deme (%d,%d): %w", parent.Genotype(), d.row, d.col, err)
		}
		if mutated {
			stats.Mutations++
			if err := d.recordParent(child, stats); err != nil {
				return err
			}
			return d.place(r, child, tr, stats)
		}
	}

	if bernoulli(r, child.DispersalRate()) {
		if neighbors := d.neighbors(); len(neighbors) > 0 {
			target := neighbors[r.IntN(len(neighbors))]
			stats.Dispersals++
			return target.place(r, child, tr, stats)
		}
	}
	return d.place(r, child, tr, stats)
}

// recordParent adds the parent edge of a freshly mutated clone. Only the
// first appearance of a genotype in the run records an edge, so the
// lineage stays a tree even when mutations converge.
func (d *Deme) recordParent(child *cell.Cell, stats *UpdateStats) error {
	g, p := child.Genotype(), child.Parent()
	if g == p {
		return fmt.Errorf("deme (%d,%d) genotype %s: %w", d.row, d.col, g, ErrSelfParent)
	}
	if !d.markSeen(g) {
		return nil
	}
	if existing, ok := d.parents[g]; ok && existing != p {
		return fmt.Errorf("deme (%d,%d) genotype %s has parents %s and %s: %w", d.row, d.col, g, existing, p, ErrParentConflict)
	}
	d.parents[g] = p
	stats.Born = append(stats.Born, Lineage{Genotype: g, Parent: p})
	return nil
}

// place inserts an offspring into this deme, displacing a resident first
// when the overflow policy requires it. Dispersing offspring are placed in
// the receiving deme.
func (d *Deme) place(r *rand.Rand, child *cell.Cell, tr Treatment, stats *UpdateStats) error {
	if d.params.Overflow == constants.OverflowDisplace && len(d.cells) >= d.params.CarryingCapacity && len(d.cells) > 0 {
		victim := d.cells[r.IntN(len(d.cells))]
		if err := d.remove(victim); err != nil {
			return err
		}
		stats.Deaths++
		stats.Displacements++
		if tr.Susceptible(victim) {
			stats.TreatmentKills++
		}
	}
	d.Add(child)
	return nil
}

func (d *Deme) neighbors() []*Deme {
	if d.tumor == nil {
		return nil
	}
	return d.tumor.Neighbors(d)
}

// markSeen records a genotype and reports whether it was new to the run.
func (d *Deme) markSeen(g genome.GenotypeID) bool {
	seen := d.seen
	if d.tumor != nil {
		seen = d.tumor.seen
	}
	if _, ok := seen[g]; ok {
		return false
	}
	seen[g] = struct{}{}
	return true
}

func bernoulli(r *rand.Rand, p float64) bool {
	return distuv.Bernoulli{P: p, Src: r}.Rand() == 1
}
