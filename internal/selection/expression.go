package selection

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/nvandessel/tumorevo/internal/constants"
	"github.com/nvandessel/tumorevo/internal/genome"
)

// BaselineExpression draws a per-gene expression probability vector for one
// cell type, laid out segment-major. Suppressor genes are fixed high and
// oncogenes fixed low.
func (s *Selection) BaselineExpression(src rand.Source) []float64 {
	beta := distuv.Beta{Alpha: constants.BaselineExpressionAlpha, Beta: constants.BaselineExpressionBeta, Src: src}
	size := s.params.SegmentSize
	out := make([]float64, s.params.NumSegments*size)
	for seg, types := range s.drivers {
		for pos, d := range types {
			i := seg*size + pos
			switch d {
			case Suppressor:
				out[i] = constants.SuppressorBaselineExpression
			case Oncogene:
				out[i] = constants.OncogeneBaselineExpression
			default:
				out[i] = beta.Rand()
			}
		}
	}
	return out
}

// Expression derives per-gene expression of a genome from a baseline
// vector. Each present allele contributes baseline times the effect of the
// sites it carries mutated; the sum is normalised so an unmutated diploid
// segment reproduces the baseline. Lost segments express nothing.
func (s *Selection) Expression(baseline []float64, g *genome.Genome) []float64 {
	size := s.params.SegmentSize
	out := make([]float64, len(baseline))
	if len(baseline) < g.NumSegments()*size {
		return out
	}

	for seg := range g.NumSegments() {
		base := baseline[seg*size : (seg+1)*size]
		dst := out[seg*size : (seg+1)*size]
		for _, h := range genome.Haplotypes {
			for j := range g.AlleleCount(seg, h) {
				a, _ := g.Allele(genome.Target{Segment: seg, Haplotype: h, Allele: j})
				if a.IsNull() {
					continue
				}
				for pos := range size {
					effect := 1.0
					if a.Has(pos) {
						effect = s.effects[seg][pos]
					}
					dst[pos] += base[pos] * effect / 2
				}
			}
		}
	}
	return out
}
