// Package genome models the per-cell genetic state of a simulated tumor:
// an ordered list of fixed-size segments, each carrying a paternal and a
// maternal haplotype made of allele copies, each allele being a set of
// mutated site positions.
package genome

import (
	"errors"
	"fmt"
	"slices"
)

// Haplotype identifies the parental origin of a segment copy.
type Haplotype int

const (
	Paternal Haplotype = iota
	Maternal
)

// Haplotypes lists both haplotypes in canonical order.
var Haplotypes = [...]Haplotype{Paternal, Maternal}

// String returns the short label used in exported tables.
func (h Haplotype) String() string {
	switch h {
	case Paternal:
		return "p"
	case Maternal:
		return "m"
	default:
		return fmt.Sprintf("haplotype(%d)", int(h))
	}
}

// Valid reports whether h is one of the two known haplotypes.
func (h Haplotype) Valid() bool {
	return h == Paternal || h == Maternal
}

var (
	// ErrInvalidTarget is returned when a target does not address an allele.
	ErrInvalidTarget = errors.New("genome: target does not address an allele")
	// ErrNullAllele is returned when a point mutation targets a deleted allele.
	ErrNullAllele = errors.New("genome: allele has copy number zero")
	// ErrSiteOutOfRange is returned for site positions outside the segment.
	ErrSiteOutOfRange = errors.New("genome: site outside segment")
	// ErrNoNovelSites is returned when every proposed site is already mutated.
	ErrNoNovelSites = errors.New("genome: no novel sites in proposal")
	// ErrSaturated is returned when an allele has no unmutated site left.
	ErrSaturated = errors.New("genome: allele has no unmutated site")
)

// Allele is one copy of a segment: the sorted set of its mutated sites.
// A null allele is what remains after the last copy of a haplotype is
// deleted; it holds no sites and does not count towards copy number.
type Allele struct {
	sites []int
	null  bool
}

// IsNull reports whether the allele has been deleted.
func (a Allele) IsNull() bool { return a.null }

// Len returns the number of mutated sites.
func (a Allele) Len() int { return len(a.sites) }

// Sites returns a copy of the mutated site positions in ascending order.
func (a Allele) Sites() []int { return slices.Clone(a.sites) }

// Has reports whether pos is mutated on this allele.
func (a Allele) Has(pos int) bool {
	_, ok := slices.BinarySearch(a.sites, pos)
	return ok
}

func (a Allele) containsAll(sites []int) bool {
	for _, s := range sites {
		if !a.Has(s) {
			return false
		}
	}
	return true
}

// add merges sites into the allele and returns how many were new.
func (a *Allele) add(sites []int) int {
	added := 0
	for _, s := range sites {
		i, ok := slices.BinarySearch(a.sites, s)
		if ok {
			continue
		}
		a.sites = slices.Insert(a.sites, i, s)
		added++
	}
	return added
}

func (a Allele) clone() Allele {
	return Allele{sites: slices.Clone(a.sites), null: a.null}
}

// Segment holds the allele copies of both haplotypes for one genomic segment.
type Segment struct {
	alleles [2][]Allele
}

func (s Segment) present(h Haplotype) int {
	n := 0
	for _, a := range s.alleles[h] {
		if !a.null {
			n++
		}
	}
	return n
}

func (s Segment) clone() Segment {
	var out Segment
	for _, h := range Haplotypes {
		out.alleles[h] = make([]Allele, len(s.alleles[h]))
		for i, a := range s.alleles[h] {
			out.alleles[h][i] = a.clone()
		}
	}
	return out
}

// Genome is the ordered list of segments of one cell. Genomes are shared
// between a dividing cell and its unmutated offspring, so callers must
// Clone before writing to a genome they did not create.
type Genome struct {
	segmentSize int
	segments    []Segment
}

// New returns a diploid genome with one unmutated allele per haplotype.
func New(nSegments, segmentSize int) *Genome {
	g := &Genome{
		segmentSize: segmentSize,
		segments:    make([]Segment, nSegments),
	}
	for i := range g.segments {
		for _, h := range Haplotypes {
			g.segments[i].alleles[h] = []Allele{{}}
		}
	}
	return g
}

// Clone returns a deep copy of the genome.
func (g *Genome) Clone() *Genome {
	out := &Genome{
		segmentSize: g.segmentSize,
		segments:    make([]Segment, len(g.segments)),
	}
	for i, s := range g.segments {
		out.segments[i] = s.clone()
	}
	return out
}

// NumSegments returns the number of segments.
func (g *Genome) NumSegments() int { return len(g.segments) }

// SegmentSize returns the number of sites per segment.
func (g *Genome) SegmentSize() int { return g.segmentSize }

// AlleleCount returns the number of allele slots, null ones included.
func (g *Genome) AlleleCount(segment int, h Haplotype) int {
	if segment < 0 || segment >= len(g.segments) || !h.Valid() {
		return 0
	}
	return len(g.segments[segment].alleles[h])
}

// Present returns the number of non-null alleles of a segment haplotype.
func (g *Genome) Present(segment int, h Haplotype) int {
	if segment < 0 || segment >= len(g.segments) || !h.Valid() {
		return 0
	}
	return g.segments[segment].present(h)
}

// Allele returns the allele addressed by t.
func (g *Genome) Allele(t Target) (Allele, bool) {
	if !g.valid(t) {
		return Allele{}, false
	}
	return g.segments[t.Segment].alleles[t.Haplotype][t.Allele].clone(), true
}

// Target addresses one allele slot.
type Target struct {
	Segment   int
	Haplotype Haplotype
	Allele    int
}

func (g *Genome) valid(t Target) bool {
	if t.Segment < 0 || t.Segment >= len(g.segments) || !t.Haplotype.Valid() {
		return false
	}
	return t.Allele >= 0 && t.Allele < len(g.segments[t.Segment].alleles[t.Haplotype])
}

// Site addresses a genomic position independently of allele copies.
type Site struct {
	Segment  int `json:"segment"`
	Position int `json:"position"`
}

// String formats the site as segment:position.
func (s Site) String() string {
	return fmt.Sprintf("%d:%d", s.Segment, s.Position)
}

// Less orders sites by segment then position.
func (s Site) Less(o Site) bool {
	if s.Segment != o.Segment {
		return s.Segment < o.Segment
	}
	return s.Position < o.Position
}

// HasSite reports whether any present allele carries the site.
func (g *Genome) HasSite(site Site) bool {
	if site.Segment < 0 || site.Segment >= len(g.segments) {
		return false
	}
	seg := g.segments[site.Segment]
	for _, h := range Haplotypes {
		for _, a := range seg.alleles[h] {
			if !a.null && a.Has(site.Position) {
				return true
			}
		}
	}
	return false
}

// MutatedSites returns the distinct sites carried by any present allele,
// ordered by segment then position.
func (g *Genome) MutatedSites() []Site {
	var out []Site
	for i, seg := range g.segments {
		var positions []int
		for _, h := range Haplotypes {
			for _, a := range seg.alleles[h] {
				if !a.null {
					positions = append(positions, a.sites...)
				}
			}
		}
		slices.Sort(positions)
		for _, p := range slices.Compact(positions) {
			out = append(out, Site{Segment: i, Position: p})
		}
	}
	return out
}

// Mutation is one row of the per-cell mutation table.
type Mutation struct {
	Segment   int
	Haplotype Haplotype
	Allele    int
	Position  int
}

// Mutations lists every mutated site of every present allele.
func (g *Genome) Mutations() []Mutation {
	var out []Mutation
	for i, seg := range g.segments {
		for _, h := range Haplotypes {
			for j, a := range seg.alleles[h] {
				if a.null {
					continue
				}
				for _, p := range a.sites {
					out = append(out, Mutation{Segment: i, Haplotype: h, Allele: j, Position: p})
				}
			}
		}
	}
	return out
}

// ForEachPresent calls fn for every present allele.
func (g *Genome) ForEachPresent(fn func(t Target, a Allele)) {
	for i, seg := range g.segments {
		for _, h := range Haplotypes {
			for j, a := range seg.alleles[h] {
				if !a.null {
					fn(Target{Segment: i, Haplotype: h, Allele: j}, a)
				}
			}
		}
	}
}

// PresentAlleles returns the total number of present alleles.
func (g *Genome) PresentAlleles() int {
	n := 0
	for _, seg := range g.segments {
		n += seg.present(Paternal) + seg.present(Maternal)
	}
	return n
}

// Ploidy returns the mean number of present alleles per segment.
func (g *Genome) Ploidy() float64 {
	if len(g.segments) == 0 {
		return 0
	}
	return float64(g.PresentAlleles()) / float64(len(g.segments))
}

// MaxCopyNumber returns the highest present allele count of any segment.
func (g *Genome) MaxCopyNumber() int {
	highest := 0
	for _, seg := range g.segments {
		if cn := seg.present(Paternal) + seg.present(Maternal); cn > highest {
			highest = cn
		}
	}
	return highest
}

// Nullisomies counts segment haplotypes that have lost every copy.
func (g *Genome) Nullisomies() int {
	n := 0
	for _, seg := range g.segments {
		for _, h := range Haplotypes {
			if seg.present(h) == 0 {
				n++
			}
		}
	}
	return n
}
