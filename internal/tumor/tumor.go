// Package tumor implements the spatial population: demes of cells on a
// square grid, the per-step stochastic update, and the genotype count and
// lineage bookkeeping aggregated over all demes.
package tumor

import (
	"fmt"
	"maps"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/stat/sampleuv"

	"github.com/nvandessel/tumorevo/internal/cell"
	"github.com/nvandessel/tumorevo/internal/constants"
	"github.com/nvandessel/tumorevo/internal/genome"
	"github.com/nvandessel/tumorevo/internal/selection"
)

// Config describes the grid and its initial tissue.
type Config struct {
	GridSize        int
	Structures      int
	StructureRadius int
	Founders        int
	ImmunePerDeme   int
	DemesPerStep    int

	Deme       DemeParams
	Epithelial cell.Params
	Stromal    cell.Params
	Immune     cell.Params
}

// DefaultConfig returns a single founder in the center of a 10x10 grid.
func DefaultConfig() Config {
	return Config{
		GridSize:     constants.DefaultGridSize,
		Structures:   1,
		Founders:     1,
		DemesPerStep: constants.DemesPerStep,
		Deme:         DefaultDemeParams(),
		Epithelial:   cell.DefaultParams(),
		Stromal:      cell.DefaultParams(),
		Immune:       cell.DefaultParams(),
	}
}

// Validate checks the tumor configuration.
func (c Config) Validate() error {
	switch {
	case c.GridSize < 1:
		return fmt.Errorf("%w: grid size must be >= 1, got %d", ErrInvalidConfig, c.GridSize)
	case c.Structures < 1:
		return fmt.Errorf("%w: structures must be >= 1, got %d", ErrInvalidConfig, c.Structures)
	case c.StructureRadius < 0:
		return fmt.Errorf("%w: structure radius must be >= 0, got %d", ErrInvalidConfig, c.StructureRadius)
	case c.Founders < 1:
		return fmt.Errorf("%w: founders must be >= 1, got %d", ErrInvalidConfig, c.Founders)
	case c.ImmunePerDeme < 0:
		return fmt.Errorf("%w: immune cells per deme must be >= 0, got %d", ErrInvalidConfig, c.ImmunePerDeme)
	case c.DemesPerStep < 1:
		return fmt.Errorf("%w: demes per step must be >= 1, got %d", ErrInvalidConfig, c.DemesPerStep)
	}
	return c.Deme.Validate()
}

// Tumor owns the deme grid and the run-wide genotype bookkeeping.
type Tumor struct {
	cfg     Config
	sel     *selection.Selection
	grid    [][]*Deme
	demes   []*Deme
	healthy *genome.Genome

	// seen holds every genotype that has existed during the run.
	seen    map[genome.GenotypeID]struct{}
	counts  map[genome.GenotypeID]int
	parents map[genome.GenotypeID]genome.GenotypeID
	steps   int

	baselines map[cell.Type][]float64
}

// New builds the grid, lays out the initial tissue and places the founders.
// With a structure radius of zero the founders go to the center deme and no
// healthy tissue is created. Otherwise each structure gets an epithelial
// ring, stroma fills every deme outside the structures, and the founders
// are placed on the inner ring of the first structure.
func New(founder *cell.Cell, sel *selection.Selection, cfg Config, r *rand.Rand) (*Tumor, error) {
	if founder == nil || !founder.IsCancer() {
		return nil, fmt.Errorf("%w: founder must be a cancer cell", ErrInvalidConfig)
	}
	if sel == nil {
		return nil, fmt.Errorf("%w: selection model is required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := sel.Params()
	t := &Tumor{
		cfg:       cfg,
		sel:       sel,
		grid:      make([][]*Deme, cfg.GridSize),
		healthy:   genome.New(p.NumSegments, p.SegmentSize),
		seen:      make(map[genome.GenotypeID]struct{}),
		baselines: make(map[cell.Type][]float64),
	}
	for _, ct := range cell.Types {
		t.baselines[ct] = sel.BaselineExpression(r)
	}

	for row := range cfg.GridSize {
		t.grid[row] = make([]*Deme, cfg.GridSize)
		for col := range cfg.GridSize {
			d, err := NewDeme(DemeConfig{Params: cfg.Deme, Row: row, Col: col, Tumor: t})
			if err != nil {
				return nil, fmt.Errorf("creating deme (%d,%d): %w", row, col, err)
			}
			t.grid[row][col] = d
			t.demes = append(t.demes, d)
		}
	}

	founders := []*cell.Cell{founder}
	for len(founders) < cfg.Founders {
		founders = append(founders, founder.Divide())
	}
	t.seen[founder.Genotype()] = struct{}{}

	center := point{cfg.GridSize / 2, cfg.GridSize / 2}
	if cfg.StructureRadius <= 0 {
		for _, f := range founders {
			t.at(center).Add(f)
		}
	} else if err := t.layoutStructures(founders, r); err != nil {
		return nil, err
	}

	if err := t.aggregate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tumor) layoutStructures(founders []*cell.Cell, r *rand.Rand) error {
	size := t.cfg.GridSize
	tissue := make(map[point]bool)
	var firstRing []point

	for s, c := range structureCenters(size, t.cfg.Structures) {
		border := clip(circumference(c, t.cfg.StructureRadius), size)
		for _, p := range border {
			tissue[p] = true
			if err := t.fill(p, cell.Epithelial, t.cfg.Epithelial, t.cfg.Deme.CarryingCapacity); err != nil {
				return err
			}
		}
		for _, p := range clip(interior(circumference(c, t.cfg.StructureRadius)), size) {
			tissue[p] = true
		}
		if s == 0 {
			firstRing = clip(circumference(c, t.cfg.StructureRadius-1), size)
			if len(firstRing) == 0 {
				firstRing = []point{c}
			}
		}
	}

	for _, d := range t.demes {
		p := point{d.row, d.col}
		if tissue[p] {
			continue
		}
		if err := t.fill(p, cell.Stromal, t.cfg.Stromal, t.cfg.Deme.CarryingCapacity); err != nil {
			return err
		}
		if err := t.fill(p, cell.Immune, t.cfg.Immune, t.cfg.ImmunePerDeme); err != nil {
			return err
		}
	}

	for _, f := range founders {
		p := firstRing[r.IntN(len(firstRing))]
		if !inBounds(p, size) {
			return fmt.Errorf("%w: founder position (%d,%d) outside grid", ErrInvalidConfig, p.row, p.col)
		}
		t.at(p).Add(f)
	}
	return nil
}

func (t *Tumor) fill(p point, typ cell.Type, params cell.Params, n int) error {
	for range n {
		c, err := cell.NewHealthy(typ, t.healthy, params)
		if err != nil {
			return err
		}
		t.at(p).Add(c)
	}
	return nil
}

func (t *Tumor) at(p point) *Deme { return t.grid[p.row][p.col] }

// Selection returns the run's selection model.
func (t *Tumor) Selection() *selection.Selection { return t.sel }

// Config returns the tumor configuration.
func (t *Tumor) Config() Config { return t.cfg }

// GridSize returns the side length of the grid.
func (t *Tumor) GridSize() int { return t.cfg.GridSize }

// Steps returns the number of updates applied so far.
func (t *Tumor) Steps() int { return t.steps }

// Deme returns the deme at (row, col), or nil when out of bounds.
func (t *Tumor) Deme(row, col int) *Deme {
	if !inBounds(point{row, col}, t.cfg.GridSize) {
		return nil
	}
	return t.grid[row][col]
}

// Demes returns every deme in row-major order.
func (t *Tumor) Demes() []*Deme { return slices.Clone(t.demes) }

// Neighbors returns the in-bounds von Neumann neighbors of d in the order
// up, right, down, left. The grid does not wrap.
func (t *Tumor) Neighbors(d *Deme) []*Deme {
	candidates := []point{
		{d.row - 1, d.col},
		{d.row, d.col + 1},
		{d.row + 1, d.col},
		{d.row, d.col - 1},
	}
	out := make([]*Deme, 0, len(candidates))
	for _, p := range candidates {
		if inBounds(p, t.cfg.GridSize) {
			out = append(out, t.at(p))
		}
	}
	return out
}

// Update advances the tumor by one step: up to DemesPerStep demes holding
// cancer cells are updated, then counts and parents are rebuilt from the
// demes.
func (t *Tumor) Update(r *rand.Rand, tr Treatment) (UpdateStats, error) {
	var stats UpdateStats

	var active []*Deme
	for _, d := range t.demes {
		if d.TypeCount(cell.Cancer) > 0 {
			active = append(active, d)
		}
	}
	if n := min(t.cfg.DemesPerStep, len(active)); n > 0 {
		idxs := make([]int, n)
		sampleuv.WithoutReplacement(idxs, len(active), r)
		for _, i := range idxs {
			d := active[i]
			s, err := d.Update(r, tr)
			stats.Add(s)
			if err != nil {
				return stats, fmt.Errorf("step %d: %w", t.steps, err)
			}
		}
	}

	t.steps++
	if err := t.aggregate(); err != nil {
		return stats, fmt.Errorf("step %d: %w", t.steps, err)
	}
	return stats, nil
}

// aggregate rebuilds global counts and parents from every deme.
func (t *Tumor) aggregate() error {
	counts := make(map[genome.GenotypeID]int)
	parents := make(map[genome.GenotypeID]genome.GenotypeID)
	for _, d := range t.demes {
		for g, n := range d.genotypes {
			if n < 0 {
				return fmt.Errorf("deme (%d,%d) genotype %s: %w", d.row, d.col, g, ErrNegativeCount)
			}
			counts[g] += n
		}
		for g, p := range d.parents {
			if g == p {
				return fmt.Errorf("genotype %s: %w", g, ErrSelfParent)
			}
			if existing, ok := parents[g]; ok && existing != p {
				return fmt.Errorf("genotype %s has parents %s and %s: %w", g, existing, p, ErrParentConflict)
			}
			parents[g] = p
		}
	}
	t.counts = counts
	t.parents = parents
	return nil
}

// Counts returns a copy of the live count of every genotype.
func (t *Tumor) Counts() map[genome.GenotypeID]int { return maps.Clone(t.counts) }

// Parents returns a copy of the genotype lineage.
func (t *Tumor) Parents() map[genome.GenotypeID]genome.GenotypeID { return maps.Clone(t.parents) }

// TotalCells returns the number of live cells of every type.
func (t *Tumor) TotalCells() int {
	n := 0
	for _, d := range t.demes {
		n += d.Len()
	}
	return n
}

// CancerCells returns the number of live cancer cells.
func (t *Tumor) CancerCells() int {
	n := 0
	for _, d := range t.demes {
		n += d.TypeCount(cell.Cancer)
	}
	return n
}

// OccupiedDemes returns the number of demes holding cancer cells.
func (t *Tumor) OccupiedDemes() int {
	n := 0
	for _, d := range t.demes {
		if d.TypeCount(cell.Cancer) > 0 {
			n++
		}
	}
	return n
}

// SiteCarriers counts the live cancer cells carrying each mutated site.
func (t *Tumor) SiteCarriers() map[genome.Site]int {
	out := make(map[genome.Site]int)
	byGenome := make(map[*genome.Genome][]genome.Site)
	for _, d := range t.demes {
		for _, c := range d.cells {
			if !c.IsCancer() {
				continue
			}
			sites, ok := byGenome[c.Genome()]
			if !ok {
				sites = c.Genome().MutatedSites()
				byGenome[c.Genome()] = sites
			}
			for _, s := range sites {
				out[s]++
			}
		}
	}
	return out
}

// MostPrevalentSite returns the mutated site carried by the most live
// cancer cells, ties going to the smallest site. It reports false when no
// live cancer cell carries a mutation.
func (t *Tumor) MostPrevalentSite() (genome.Site, int, bool) {
	var best genome.Site
	bestCount := 0
	for s, n := range t.SiteCarriers() {
		if n > bestCount || (n == bestCount && s.Less(best)) {
			best, bestCount = s, n
		}
	}
	return best, bestCount, bestCount > 0
}

// Validate checks every deme and the aggregates built from them.
func (t *Tumor) Validate() error {
	counts := make(map[genome.GenotypeID]int)
	for _, d := range t.demes {
		if err := d.Validate(); err != nil {
			return err
		}
		for g, n := range d.genotypes {
			counts[g] += n
		}
	}
	if !maps.Equal(counts, t.counts) {
		return fmt.Errorf("global counts differ from deme counts: %w", ErrCountMismatch)
	}
	for g, p := range t.parents {
		if g == p {
			return fmt.Errorf("genotype %s: %w", g, ErrSelfParent)
		}
	}
	return nil
}
