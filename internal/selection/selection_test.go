package selection

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/nvandessel/tumorevo/internal/genome"
)

func testParams() Params {
	p := DefaultParams()
	p.NumSegments = 4
	p.SegmentSize = 50
	p.PropDriver = 0.2
	p.PropResistance = 0.3
	p.DriverEffects = 0.05
	p.ResistantEffects = 0.02
	return p
}

func mustNew(t *testing.T, p Params, seed uint64) *Selection {
	t.Helper()
	s, err := New(p, rand.New(rand.NewPCG(seed, 1)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

// findSite returns the first site matching pred.
func findSite(t *testing.T, s *Selection, pred func(genome.Site) bool) genome.Site {
	t.Helper()
	p := s.Params()
	for seg := range p.NumSegments {
		for pos := range p.SegmentSize {
			site := genome.Site{Segment: seg, Position: pos}
			if pred(site) {
				return site
			}
		}
	}
	t.Fatal("no matching site")
	return genome.Site{}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"no segments", func(p *Params) { p.NumSegments = 0 }},
		{"no sites", func(p *Params) { p.SegmentSize = 0 }},
		{"driver proportion above one", func(p *Params) { p.PropDriver = 1.5 }},
		{"negative resistance proportion", func(p *Params) { p.PropResistance = -0.1 }},
		{"zero max rate", func(p *Params) { p.MaxRate = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testParams()
			tt.mutate(&p)
			_, err := New(p, rand.New(rand.NewPCG(1, 1)))
			if !errors.Is(err, ErrInvalidParams) {
				t.Errorf("New() error = %v, want ErrInvalidParams", err)
			}
		})
	}
}

func TestNew_Deterministic(t *testing.T) {
	a := mustNew(t, testParams(), 9)
	b := mustNew(t, testParams(), 9)
	for seg := range testParams().NumSegments {
		da, db := a.DriverTypes(seg), b.DriverTypes(seg)
		ra, rb := a.ResistanceMask(seg), b.ResistanceMask(seg)
		for pos := range da {
			if da[pos] != db[pos] || ra[pos] != rb[pos] {
				t.Fatalf("segment %d site %d differs between identically seeded runs", seg, pos)
			}
		}
	}
}

func TestNew_ResistanceDisjointFromDrivers(t *testing.T) {
	p := testParams()
	p.PropDriver = 0.5
	p.PropResistance = 1
	s := mustNew(t, p, 3)

	for seg := range p.NumSegments {
		drivers := s.DriverTypes(seg)
		mask := s.ResistanceMask(seg)
		for pos := range drivers {
			if drivers[pos].IsDriver() && mask[pos] {
				t.Fatalf("site %d:%d is both driver and resistant", seg, pos)
			}
			if !drivers[pos].IsDriver() && !mask[pos] {
				t.Fatalf("passenger %d:%d not resistant with proportion 1", seg, pos)
			}
		}
	}
	sup, onc := s.CountDrivers()
	if sup == 0 || onc == 0 {
		t.Errorf("CountDrivers() = %d suppressors, %d oncogenes; want both present", sup, onc)
	}
}

func TestNew_NoDrivers(t *testing.T) {
	p := testParams()
	p.PropDriver = 0
	s := mustNew(t, p, 4)
	if sup, onc := s.CountDrivers(); sup+onc != 0 {
		t.Errorf("CountDrivers() = %d, %d with zero driver proportion", sup, onc)
	}
}

func TestRates(t *testing.T) {
	s := mustNew(t, testParams(), 5)
	driver := findSite(t, s, func(site genome.Site) bool { return s.DriverType(site).IsDriver() })
	resist := findSite(t, s, s.ConfersResistance)

	g := genome.New(4, 50)
	base := Baseline{Division: 0.1, MaxBirth: 0.3, Dispersal: 0.1, Death: 0.1}

	r := s.Evaluate(base, g)
	if r.Viability != 1 || r.Division != 0.1 || r.Dispersal != 0.1 || r.TreatmentEffectiveness != 0.1 {
		t.Fatalf("unmutated rates = %+v", r)
	}

	if err := g.MutatePoint(genome.Target{Segment: driver.Segment, Haplotype: genome.Paternal}, []int{driver.Position}); err != nil {
		t.Fatal(err)
	}
	r = s.Evaluate(base, g)
	if math.Abs(r.Division-0.15) > 1e-9 {
		t.Errorf("Division with one driver = %v, want 0.15", r.Division)
	}
	if got := s.DivisionRate(0.1, 0.3, g); got != r.Division {
		t.Errorf("DivisionRate() = %v, Evaluate gave %v", got, r.Division)
	}
	if got := s.DispersalRate(0.1, g); got != r.Dispersal {
		t.Errorf("DispersalRate() = %v, Evaluate gave %v", got, r.Dispersal)
	}

	if err := g.MutatePoint(genome.Target{Segment: resist.Segment, Haplotype: genome.Maternal}, []int{resist.Position}); err != nil {
		t.Fatal(err)
	}
	want := 0.1 + 0.05 - 0.02
	if got := s.TreatmentEffectiveness(0.1, g); math.Abs(got-want) > 1e-9 {
		t.Errorf("TreatmentEffectiveness() = %v, want %v", got, want)
	}
}

func TestRates_Capped(t *testing.T) {
	p := testParams()
	p.DriverEffects = 10
	s := mustNew(t, p, 6)
	driver := findSite(t, s, func(site genome.Site) bool { return s.DriverType(site).IsDriver() })

	g := genome.New(4, 50)
	if err := g.MutatePoint(genome.Target{Segment: driver.Segment, Haplotype: genome.Paternal}, []int{driver.Position}); err != nil {
		t.Fatal(err)
	}
	if got := s.DivisionRate(0.1, 0.3, g); got != 0.3 {
		t.Errorf("DivisionRate() = %v, want cap 0.3", got)
	}
	if got := s.DispersalRate(0.1, g); got != p.MaxRate {
		t.Errorf("DispersalRate() = %v, want cap %v", got, p.MaxRate)
	}
}

func TestTreatmentEffectiveness_ClampedAtZero(t *testing.T) {
	p := testParams()
	p.ResistantEffects = 5
	s := mustNew(t, p, 7)
	resist := findSite(t, s, s.ConfersResistance)

	g := genome.New(4, 50)
	if err := g.MutatePoint(genome.Target{Segment: resist.Segment, Haplotype: genome.Paternal}, []int{resist.Position}); err != nil {
		t.Fatal(err)
	}
	if got := s.TreatmentEffectiveness(0.1, g); got != 0 {
		t.Errorf("TreatmentEffectiveness() = %v, want 0", got)
	}
}

func TestViability(t *testing.T) {
	tests := []struct {
		name  string
		setup func(p *Params, g *genome.Genome) error
		want  float64
	}{
		{
			name:  "diploid is viable",
			setup: func(*Params, *genome.Genome) error { return nil },
			want:  1,
		},
		{
			name: "copy number above threshold",
			setup: func(p *Params, g *genome.Genome) error {
				p.MaxCopyNumber = 2
				return g.MutateCopyNumber(genome.Target{Segment: 0, Haplotype: genome.Paternal}, true)
			},
			want: 0,
		},
		{
			name: "nullisomies above threshold",
			setup: func(p *Params, g *genome.Genome) error {
				p.MaxNullisomies = 0
				return g.MutateCopyNumber(genome.Target{Segment: 1, Haplotype: genome.Maternal}, false)
			},
			want: 0,
		},
		{
			name: "ploidy above threshold",
			setup: func(p *Params, g *genome.Genome) error {
				p.MaxPloidy = 2
				return g.MutateCopyNumber(genome.Target{Segment: 2, Haplotype: genome.Maternal}, true)
			},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testParams()
			g := genome.New(p.NumSegments, p.SegmentSize)
			if err := tt.setup(&p, g); err != nil {
				t.Fatal(err)
			}
			s := mustNew(t, p, 8)
			if got := s.Viability(g); got != tt.want {
				t.Errorf("Viability() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestViability_MutatedDrivers(t *testing.T) {
	p := testParams()
	p.MaxMutatedDrivers = 0
	s := mustNew(t, p, 10)
	driver := findSite(t, s, func(site genome.Site) bool { return s.DriverType(site).IsDriver() })

	g := genome.New(p.NumSegments, p.SegmentSize)
	if err := g.MutatePoint(genome.Target{Segment: driver.Segment, Haplotype: genome.Paternal}, []int{driver.Position}); err != nil {
		t.Fatal(err)
	}
	if got := s.MutatedDrivers(g); got != 1 {
		t.Errorf("MutatedDrivers() = %d, want 1", got)
	}
	if got := s.Viability(g); got != 0 {
		t.Errorf("Viability() = %v, want 0", got)
	}
}

func TestExpression(t *testing.T) {
	p := testParams()
	s := mustNew(t, p, 11)
	onc := findSite(t, s, func(site genome.Site) bool { return s.DriverType(site) == Oncogene })

	baseline := s.BaselineExpression(rand.New(rand.NewPCG(2, 2)))
	if len(baseline) != p.NumSegments*p.SegmentSize {
		t.Fatalf("baseline length = %d", len(baseline))
	}
	for i, v := range baseline {
		if v < 0 || v > 1 {
			t.Fatalf("baseline[%d] = %v outside [0, 1]", i, v)
		}
	}

	g := genome.New(p.NumSegments, p.SegmentSize)
	exp := s.Expression(baseline, g)
	for i := range exp {
		if math.Abs(exp[i]-baseline[i]) > 1e-12 {
			t.Fatalf("diploid expression[%d] = %v, want baseline %v", i, exp[i], baseline[i])
		}
	}

	if err := g.MutatePoint(genome.Target{Segment: onc.Segment, Haplotype: genome.Paternal}, []int{onc.Position}); err != nil {
		t.Fatal(err)
	}
	i := onc.Segment*p.SegmentSize + onc.Position
	want := baseline[i] * 1.5
	if got := s.Expression(baseline, g)[i]; math.Abs(got-want) > 1e-12 {
		t.Errorf("expression of mutated oncogene = %v, want %v", got, want)
	}

	// Losing both haplotypes silences the segment.
	for _, h := range genome.Haplotypes {
		if err := g.MutateCopyNumber(genome.Target{Segment: 3, Haplotype: h}, false); err != nil {
			t.Fatal(err)
		}
	}
	exp = s.Expression(baseline, g)
	for pos := range p.SegmentSize {
		if exp[3*p.SegmentSize+pos] != 0 {
			t.Fatalf("lost segment expresses site %d", pos)
		}
	}
}

func TestBaselineExpression_FixedDrivers(t *testing.T) {
	s := mustNew(t, testParams(), 12)
	baseline := s.BaselineExpression(rand.New(rand.NewPCG(3, 3)))
	size := s.Params().SegmentSize
	for seg := range s.Params().NumSegments {
		for pos, d := range s.DriverTypes(seg) {
			v := baseline[seg*size+pos]
			switch d {
			case Suppressor:
				if v != 0.8 {
					t.Errorf("suppressor %d:%d baseline = %v", seg, pos, v)
				}
			case Oncogene:
				if v != 0.01 {
					t.Errorf("oncogene %d:%d baseline = %v", seg, pos, v)
				}
			}
		}
	}
}
