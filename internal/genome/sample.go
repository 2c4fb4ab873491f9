package genome

import (
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/stat/distuv"
	"gonum.org/v1/gonum/stat/sampleuv"
)

// SampleTarget picks an allele for a mutation event. The segment is drawn
// proportionally to its present allele count, then the haplotype
// proportionally to its present count, then a present allele uniformly.
// It reports false when no allele is present.
func (g *Genome) SampleTarget(src rand.Source) (Target, bool) {
	weights := make([]float64, len(g.segments))
	total := 0.0
	for i, seg := range g.segments {
		weights[i] = float64(seg.present(Paternal) + seg.present(Maternal))
		total += weights[i]
	}
	if total == 0 {
		return Target{}, false
	}
	segment := positive(weights, int(distuv.NewCategorical(weights, src).Rand()))
	seg := g.segments[segment]

	hapWeights := []float64{float64(seg.present(Paternal)), float64(seg.present(Maternal))}
	h := Haplotype(positive(hapWeights, int(distuv.NewCategorical(hapWeights, src).Rand())))

	var present []int
	for j, a := range seg.alleles[h] {
		if !a.null {
			present = append(present, j)
		}
	}
	pick := rand.New(src).IntN(len(present))
	return Target{Segment: segment, Haplotype: h, Allele: present[pick]}, true
}

// SamplePointSites draws min(Poisson(mean)+1, segment size) distinct sites
// for a point mutation on t, redrawing while the whole draw is already
// mutated on the allele.
func (g *Genome) SamplePointSites(t Target, mean float64, src rand.Source) ([]int, error) {
	a, ok := g.Allele(t)
	if !ok {
		return nil, ErrInvalidTarget
	}
	if a.null {
		return nil, ErrNullAllele
	}
	if a.Len() >= g.segmentSize {
		return nil, ErrSaturated
	}

	n := 1
	if mean > 0 {
		n += int(distuv.Poisson{Lambda: mean, Src: src}.Rand())
	}
	n = min(n, g.segmentSize)

	sites := make([]int, n)
	for {
		sampleuv.WithoutReplacement(sites, g.segmentSize, src)
		if !a.containsAll(sites) {
			out := slices.Clone(sites)
			slices.Sort(out)
			return out, nil
		}
	}
}

// positive returns i if weights[i] is positive, else the first positive
// index. Categorical can land on a zero weight when the uniform draw is 0.
func positive(weights []float64, i int) int {
	if weights[i] > 0 {
		return i
	}
	for j, w := range weights {
		if w > 0 {
			return j
		}
	}
	return i
}
