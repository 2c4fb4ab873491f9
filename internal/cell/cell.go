// Package cell defines the individual agents of the simulation.
package cell

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/nvandessel/tumorevo/internal/constants"
	"github.com/nvandessel/tumorevo/internal/genome"
	"github.com/nvandessel/tumorevo/internal/selection"
)

// Type tags a cell as cancer or one of the healthy tissue types.
type Type int

const (
	Cancer Type = iota
	Epithelial
	Stromal
	Immune
)

// Types lists every cell type in canonical order.
var Types = [...]Type{Cancer, Epithelial, Stromal, Immune}

var typeNames = map[Type]string{
	Cancer:     "cancer",
	Epithelial: "epithelial",
	Stromal:    "stromal",
	Immune:     "immune",
}

// String returns the lower-case type name.
func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// ParseType parses a cell type name.
func ParseType(s string) (Type, error) {
	for t, name := range typeNames {
		if strings.EqualFold(s, name) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown cell type %q", s)
}

// IsHealthyGenotype reports whether id names a healthy cell type rather
// than a cancer genotype.
func IsHealthyGenotype(id genome.GenotypeID) bool {
	for _, t := range Types[1:] {
		if string(id) == t.String() {
			return true
		}
	}
	return false
}

// Params holds the baseline rates of a cell.
type Params struct {
	DivisionRate  float64 `json:"division_rate" yaml:"division_rate"`
	DeathRate     float64 `json:"death_rate" yaml:"death_rate"`
	MaxBirthRate  float64 `json:"max_birth_rate" yaml:"max_birth_rate"`
	DispersalRate float64 `json:"dispersal_rate" yaml:"dispersal_rate"`
	MutationRate  float64 `json:"mutation_rate" yaml:"mutation_rate"`

	// PointWeight and CopyNumberWeight are the relative probabilities of
	// the two mutation event classes.
	PointWeight      float64 `json:"point_weight" yaml:"point_weight"`
	CopyNumberWeight float64 `json:"copy_number_weight" yaml:"copy_number_weight"`

	// MeanExtraSites is the Poisson mean of sites hit by a point event
	// beyond the first.
	MeanExtraSites float64 `json:"mean_extra_sites" yaml:"mean_extra_sites"`
}

// DefaultParams returns the default rates of a cancer cell.
func DefaultParams() Params {
	return Params{
		DivisionRate:     constants.DefaultDivisionRate,
		DeathRate:        constants.DefaultDeathRate,
		MaxBirthRate:     constants.DefaultMaxBirthRate,
		DispersalRate:    constants.DefaultDispersalRate,
		MutationRate:     constants.DefaultMutationRate,
		PointWeight:      constants.DefaultPointEventWeight,
		CopyNumberWeight: constants.DefaultCopyNumberEventWeight,
		MeanExtraSites:   constants.DefaultMeanExtraPointMutations,
	}
}

// Validate checks rates are probabilities and event weights are usable.
func (p Params) Validate() error {
	rates := []struct {
		name string
		v    float64
	}{
		{"division_rate", p.DivisionRate},
		{"death_rate", p.DeathRate},
		{"max_birth_rate", p.MaxBirthRate},
		{"dispersal_rate", p.DispersalRate},
		{"mutation_rate", p.MutationRate},
	}
	for _, r := range rates {
		if r.v < 0 || r.v > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %v", r.name, r.v)
		}
	}
	if p.PointWeight < 0 || p.CopyNumberWeight < 0 || p.PointWeight+p.CopyNumberWeight == 0 {
		return fmt.Errorf("mutation event weights must be non-negative and not both zero, got %v and %v",
			p.PointWeight, p.CopyNumberWeight)
	}
	if p.MeanExtraSites < 0 {
		return fmt.Errorf("mean_extra_sites must be non-negative, got %v", p.MeanExtraSites)
	}
	return nil
}

func (p Params) baseline() selection.Baseline {
	return selection.Baseline{
		Division:  p.DivisionRate,
		MaxBirth:  p.MaxBirthRate,
		Dispersal: p.DispersalRate,
		Death:     p.DeathRate,
	}
}

// Cell is one agent. Its lineage link is the parent genotype id, never a
// pointer to the parent cell, so dead cells are not retained.
type Cell struct {
	typ      Type
	genome   *genome.Genome
	genotype genome.GenotypeID
	parent   genome.GenotypeID
	params   Params
	rates    selection.Rates
}

// NewCancer returns a founder cancer cell with rates derived from its genome.
func NewCancer(g *genome.Genome, p Params, sel *selection.Selection) *Cell {
	c := &Cell{
		typ:      Cancer,
		genome:   g,
		genotype: g.ID(),
		params:   p,
	}
	if sel != nil {
		c.rates = sel.Evaluate(p.baseline(), g)
	} else {
		c.rates = selection.Rates{
			Viability:              1,
			Division:               min(p.DivisionRate, p.MaxBirthRate),
			Dispersal:              p.DispersalRate,
			TreatmentEffectiveness: p.DeathRate,
		}
	}
	return c
}

// NewHealthy returns a non-dividing healthy cell whose genotype is its
// type name. Healthy cells never mutate, so g may be shared by all of them.
func NewHealthy(t Type, g *genome.Genome, p Params) (*Cell, error) {
	if t == Cancer {
		return nil, errors.New("healthy cell cannot have cancer type")
	}
	return &Cell{
		typ:      t,
		genome:   g,
		genotype: genome.GenotypeID(t.String()),
		params:   p,
		rates: selection.Rates{
			Viability:              1,
			Dispersal:              p.DispersalRate,
			TreatmentEffectiveness: p.DeathRate,
		},
	}, nil
}

// Type returns the cell type.
func (c *Cell) Type() Type { return c.typ }

// Genome returns the cell's genome. It may be shared and must not be written.
func (c *Cell) Genome() *genome.Genome { return c.genome }

// Genotype returns the genotype id.
func (c *Cell) Genotype() genome.GenotypeID { return c.genotype }

// Parent returns the genotype of the cell this one divided from.
func (c *Cell) Parent() genome.GenotypeID { return c.parent }

// Params returns the baseline rates.
func (c *Cell) Params() Params { return c.params }

// IsCancer reports whether the cell can divide and mutate.
func (c *Cell) IsCancer() bool { return c.typ == Cancer }

// DeathRate returns the baseline death rate before crowding.
func (c *Cell) DeathRate() float64 { return c.params.DeathRate }

// MutationRate returns the probability that an offspring mutates.
func (c *Cell) MutationRate() float64 { return c.params.MutationRate }

// DivisionRate returns the genome-derived division rate.
func (c *Cell) DivisionRate() float64 { return c.rates.Division }

// DispersalRate returns the genome-derived dispersal rate.
func (c *Cell) DispersalRate() float64 { return c.rates.Dispersal }

// TreatmentEffectiveness returns the death rate under treatment.
func (c *Cell) TreatmentEffectiveness() float64 { return c.rates.TreatmentEffectiveness }

// Viability returns 0 for cells that must die at their next sampling.
func (c *Cell) Viability() float64 { return c.rates.Viability }

// Carries reports whether the cell carries a mutation at site.
func (c *Cell) Carries(site genome.Site) bool { return c.genome.HasSite(site) }

// Divide returns an offspring sharing the genome and rates of c, with c's
// genotype as its parent.
func (c *Cell) Divide() *Cell {
	child := *c
	child.parent = c.genotype
	return &child
}

// Mutate applies one copy-number or point event to a private copy of the
// genome, then re-derives rates and genotype. It reports false when the
// genome offers nothing to mutate; the cell is left unchanged.
func (c *Cell) Mutate(src rand.Source, sel *selection.Selection) (bool, error) {
	if sel == nil {
		return false, errors.New("mutate requires a selection model")
	}
	target, ok := c.genome.SampleTarget(src)
	if !ok {
		return false, nil
	}

	events := distuv.NewCategorical([]float64{c.params.PointWeight, c.params.CopyNumberWeight}, src)
	point := events.Rand() == 0

	g := c.genome.Clone()
	if point {
		sites, err := g.SamplePointSites(target, c.params.MeanExtraSites, src)
		if errors.Is(err, genome.ErrSaturated) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("sampling point mutation: %w", err)
		}
		if err := g.MutatePoint(target, sites); err != nil {
			return false, fmt.Errorf("applying point mutation: %w", err)
		}
	} else {
		amplify := rand.New(src).IntN(2) == 1
		if err := g.MutateCopyNumber(target, amplify); err != nil {
			return false, fmt.Errorf("applying copy number change: %w", err)
		}
	}

	c.genome = g
	c.rates = sel.Evaluate(c.params.baseline(), g)
	c.genotype = g.ID()
	return true, nil
}
