package selection

import "github.com/nvandessel/tumorevo/internal/genome"

// hits counts driver and resistance sites over present alleles. A site
// carried by several allele copies counts once per copy.
func (s *Selection) hits(g *genome.Genome) (drivers, resistant int) {
	g.ForEachPresent(func(t genome.Target, a genome.Allele) {
		for _, pos := range a.Sites() {
			site := genome.Site{Segment: t.Segment, Position: pos}
			if s.DriverType(site).IsDriver() {
				drivers++
			}
			if s.ConfersResistance(site) {
				resistant++
			}
		}
	})
	return drivers, resistant
}

// MutatedDrivers counts distinct driver sites carried by the genome.
func (s *Selection) MutatedDrivers(g *genome.Genome) int {
	n := 0
	for _, site := range g.MutatedSites() {
		if s.DriverType(site).IsDriver() {
			n++
		}
	}
	return n
}

// Viability returns 0 when the genome exceeds any structural threshold
// and 1 otherwise.
func (s *Selection) Viability(g *genome.Genome) float64 {
	p := s.params
	switch {
	case g.Ploidy() > p.MaxPloidy:
		return 0
	case g.MaxCopyNumber() > p.MaxCopyNumber:
		return 0
	case g.Nullisomies() > p.MaxNullisomies:
		return 0
	case s.MutatedDrivers(g) > p.MaxMutatedDrivers:
		return 0
	}
	return 1
}

// DivisionRate raises base by the driver effect of every carried driver
// site and caps the result at limit.
func (s *Selection) DivisionRate(base, limit float64, g *genome.Genome) float64 {
	drivers, _ := s.hits(g)
	return clamp(base+s.params.DriverEffects*float64(drivers), 0, limit)
}

// DispersalRate raises base by the driver effect of every carried driver
// site, capped at MaxRate.
func (s *Selection) DispersalRate(base float64, g *genome.Genome) float64 {
	drivers, _ := s.hits(g)
	return clamp(base+s.params.DriverEffects*float64(drivers), 0, s.params.MaxRate)
}

// TreatmentEffectiveness is the death rate of a treated carrier: drivers
// sensitise the cell, resistance sites protect it.
func (s *Selection) TreatmentEffectiveness(base float64, g *genome.Genome) float64 {
	drivers, resistant := s.hits(g)
	rate := base + s.params.DriverEffects*float64(drivers) - s.params.ResistantEffects*float64(resistant)
	return clamp(rate, 0, s.params.MaxRate)
}

// Rates bundles the phenotype derived from one genome.
type Rates struct {
	Viability              float64
	Division               float64
	Dispersal              float64
	TreatmentEffectiveness float64
}

// Baseline holds the genome-independent rates of a cell.
type Baseline struct {
	Division  float64
	MaxBirth  float64
	Dispersal float64
	Death     float64
}

// Evaluate derives all rates of a genome in one pass over its alleles.
func (s *Selection) Evaluate(b Baseline, g *genome.Genome) Rates {
	drivers, resistant := s.hits(g)
	p := s.params
	return Rates{
		Viability:              s.Viability(g),
		Division:               clamp(b.Division+p.DriverEffects*float64(drivers), 0, b.MaxBirth),
		Dispersal:              clamp(b.Dispersal+p.DriverEffects*float64(drivers), 0, p.MaxRate),
		TreatmentEffectiveness: clamp(b.Death+p.DriverEffects*float64(drivers)-p.ResistantEffects*float64(resistant), 0, p.MaxRate),
	}
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(v, hi))
}
