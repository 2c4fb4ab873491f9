package genome

import (
	"fmt"
	"slices"
)

// MutatePoint adds sites to the allele addressed by t. At least one site
// must be novel for the allele; a proposal fully contained in the allele
// returns ErrNoNovelSites so the caller can resample.
func (g *Genome) MutatePoint(t Target, sites []int) error {
	if !g.valid(t) {
		return fmt.Errorf("point mutation at %+v: %w", t, ErrInvalidTarget)
	}
	a := &g.segments[t.Segment].alleles[t.Haplotype][t.Allele]
	if a.null {
		return fmt.Errorf("point mutation at %+v: %w", t, ErrNullAllele)
	}
	for _, s := range sites {
		if s < 0 || s >= g.segmentSize {
			return fmt.Errorf("point mutation at %+v site %d: %w", t, s, ErrSiteOutOfRange)
		}
	}
	if a.containsAll(sites) {
		return ErrNoNovelSites
	}
	a.add(sites)
	return nil
}

// MutateCopyNumber amplifies or deletes the allele addressed by t.
// Amplification appends a copy to the same haplotype. Deletion removes the
// allele when the haplotype has another present copy, otherwise it leaves a
// null allele in the slot.
func (g *Genome) MutateCopyNumber(t Target, amplify bool) error {
	if !g.valid(t) {
		return fmt.Errorf("copy number change at %+v: %w", t, ErrInvalidTarget)
	}
	seg := &g.segments[t.Segment]
	a := seg.alleles[t.Haplotype][t.Allele]
	if a.null {
		return fmt.Errorf("copy number change at %+v: %w", t, ErrNullAllele)
	}

	if amplify {
		seg.alleles[t.Haplotype] = append(seg.alleles[t.Haplotype], a.clone())
		return nil
	}

	if seg.present(t.Haplotype) > 1 {
		seg.alleles[t.Haplotype] = slices.Delete(seg.alleles[t.Haplotype], t.Allele, t.Allele+1)
		return nil
	}
	seg.alleles[t.Haplotype][t.Allele] = Allele{null: true}
	return nil
}
