package tumor

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/nvandessel/tumorevo/internal/cell"
	"github.com/nvandessel/tumorevo/internal/constants"
	"github.com/nvandessel/tumorevo/internal/genome"
	"github.com/nvandessel/tumorevo/internal/selection"
)

func testSelection(t *testing.T, mutate func(*selection.Params)) *selection.Selection {
	t.Helper()
	p := selection.DefaultParams()
	p.NumSegments = 2
	p.SegmentSize = 20
	p.DriverEffects = 0.01
	p.ResistantEffects = 0.01
	if mutate != nil {
		mutate(&p)
	}
	s, err := selection.New(p, rand.New(rand.NewPCG(1, 1)))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func testFounder(sel *selection.Selection, mutate func(*cell.Params)) *cell.Cell {
	p := cell.DefaultParams()
	if mutate != nil {
		mutate(&p)
	}
	sp := sel.Params()
	return cell.NewCancer(genome.New(sp.NumSegments, sp.SegmentSize), p, sel)
}

func stepRand(seed uint64, step int) *rand.Rand {
	return rand.New(rand.NewPCG(seed+uint64(step), constants.RandomStream))
}

func TestNewDeme_RequiresSource(t *testing.T) {
	_, err := NewDeme(DemeConfig{Params: DefaultDemeParams()})
	if !errors.Is(err, ErrDemeWithoutSource) {
		t.Errorf("NewDeme() error = %v, want ErrDemeWithoutSource", err)
	}
}

func TestNewDeme_StandaloneRequiresSelection(t *testing.T) {
	sel := testSelection(t, nil)
	_, err := NewDeme(DemeConfig{Params: DefaultDemeParams(), Seed: testFounder(sel, nil)})
	if !errors.Is(err, ErrDemeWithoutSelection) {
		t.Errorf("NewDeme() error = %v, want ErrDemeWithoutSelection", err)
	}
}

func TestNewDeme_InvalidParams(t *testing.T) {
	sel := testSelection(t, nil)
	p := DefaultDemeParams()
	p.Overflow = "spill"
	_, err := NewDeme(DemeConfig{Params: p, Seed: testFounder(sel, nil), Selection: sel})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("NewDeme() error = %v, want ErrInvalidConfig", err)
	}
}

func TestDeme_DeathRateRegime(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		maxRate  float64
		cells    int
		want     float64
	}{
		{"below capacity", 4, 0.5, 3, 0.1},
		{"at capacity", 4, 0.5, 4, 0.1},
		{"crowded scales with capacity", 4, 0.5, 5, 0.4},
		{"crowded saturates", 10, 0.5, 11, 0.5},
	}

	sel := testSelection(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultDemeParams()
			p.CarryingCapacity = tt.capacity
			p.MaxDeathRate = tt.maxRate
			p.InitialDeathRate = 0.1
			founder := testFounder(sel, nil)
			d, err := NewDeme(DemeConfig{Params: p, Seed: founder, Selection: sel})
			if err != nil {
				t.Fatal(err)
			}
			for d.Len() < tt.cells {
				d.Add(founder.Divide())
			}
			got := d.DeathRate()
			if diff := got - tt.want; diff > 1e-12 || diff < -1e-12 {
				t.Errorf("DeathRate() = %v, want %v", got, tt.want)
			}
			if d.Crowded() && got < p.InitialDeathRate {
				t.Errorf("crowded rate %v below initial %v", got, p.InitialDeathRate)
			}
		})
	}
}

func TestDeme_UpdateKeepsCounts(t *testing.T) {
	sel := testSelection(t, nil)
	p := DefaultDemeParams()
	p.Overflow = constants.OverflowGrow
	founder := testFounder(sel, func(p *cell.Params) {
		p.DivisionRate = 0.3
		p.MutationRate = 0.5
	})
	d, err := NewDeme(DemeConfig{Params: p, Seed: founder, Selection: sel})
	if err != nil {
		t.Fatal(err)
	}

	for step := range 300 {
		before := d.Len()
		stats, err := d.Update(stepRand(3, step), Treatment{})
		if err != nil {
			t.Fatalf("step %d: Update() error = %v", step, err)
		}
		if err := d.Validate(); err != nil {
			t.Fatalf("step %d: %v", step, err)
		}
		if got, want := d.Len()-before, stats.Births-stats.Deaths; got != want {
			t.Fatalf("step %d: population changed by %d, births-deaths = %d", step, got, want)
		}
		if d.Len() == 0 {
			break
		}
	}
	for g, parent := range d.Parents() {
		if g == parent {
			t.Errorf("genotype %s is its own parent", g)
		}
	}
}

func TestDeme_DisplaceHoldsCapacity(t *testing.T) {
	sel := testSelection(t, nil)
	p := DefaultDemeParams()
	p.CarryingCapacity = 3
	founder := testFounder(sel, func(p *cell.Params) {
		p.DivisionRate = 0.3
		p.DeathRate = 0
		p.MutationRate = 0
	})
	d, err := NewDeme(DemeConfig{Params: p, Seed: founder, Selection: sel})
	if err != nil {
		t.Fatal(err)
	}

	displaced := 0
	for step := range 200 {
		stats, err := d.Update(stepRand(4, step), Treatment{})
		if err != nil {
			t.Fatal(err)
		}
		displaced += stats.Displacements
		if d.Len() > p.CarryingCapacity {
			t.Fatalf("step %d: %d cells above capacity %d", step, d.Len(), p.CarryingCapacity)
		}
	}
	if d.Len() != p.CarryingCapacity {
		t.Errorf("Len() = %d, want deme filled to %d", d.Len(), p.CarryingCapacity)
	}
	if displaced == 0 {
		t.Error("no offspring displaced a resident in a full deme")
	}
}

func TestDeme_InviableCellsDie(t *testing.T) {
	// A copy-number ceiling of one makes every diploid genome inviable.
	sel := testSelection(t, func(p *selection.Params) { p.MaxCopyNumber = 1 })
	founder := testFounder(sel, nil)
	if founder.Viability() != 0 {
		t.Fatalf("founder viability = %v, want 0", founder.Viability())
	}

	p := DefaultDemeParams()
	d, err := NewDeme(DemeConfig{Params: p, Seed: founder, Selection: sel})
	if err != nil {
		t.Fatal(err)
	}
	d.Add(founder.Divide())
	d.Add(founder.Divide())

	stats, err := d.Update(stepRand(5, 0), Treatment{})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Deaths != 3 || d.Len() != 0 {
		t.Errorf("deaths = %d, remaining = %d; want all 3 inviable cells dead", stats.Deaths, d.Len())
	}
	if len(d.GenotypeCounts()) != 0 {
		t.Errorf("GenotypeCounts() = %v after every cell died", d.GenotypeCounts())
	}
}

func TestDeme_HealthyCellsDoNotDivide(t *testing.T) {
	sel := testSelection(t, nil)
	healthy, err := cell.NewHealthy(cell.Epithelial, genome.New(2, 20), cell.DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	d, err := NewDeme(DemeConfig{Params: DefaultDemeParams(), Seed: healthy, Selection: sel})
	if err != nil {
		t.Fatal(err)
	}
	for step := range 100 {
		stats, err := d.Update(stepRand(6, step), Treatment{})
		if err != nil {
			t.Fatal(err)
		}
		if stats.Births != 0 {
			t.Fatalf("healthy cell divided at step %d", step)
		}
	}
}

func TestDeme_RemoveRejectsNegativeCount(t *testing.T) {
	sel := testSelection(t, nil)
	founder := testFounder(sel, nil)
	d, err := NewDeme(DemeConfig{Params: DefaultDemeParams(), Seed: founder, Selection: sel})
	if err != nil {
		t.Fatal(err)
	}
	d.genotypes[founder.Genotype()] = 0

	if err := d.remove(founder); !errors.Is(err, ErrNegativeCount) {
		t.Errorf("remove() error = %v, want ErrNegativeCount", err)
	}
	if err := d.Validate(); !errors.Is(err, ErrCountMismatch) {
		t.Errorf("Validate() error = %v, want ErrCountMismatch", err)
	}
}

func TestDeme_MostFrequentGenotype(t *testing.T) {
	sel := testSelection(t, nil)
	a, _ := cell.NewHealthy(cell.Stromal, genome.New(2, 20), cell.DefaultParams())
	b, _ := cell.NewHealthy(cell.Epithelial, genome.New(2, 20), cell.DefaultParams())

	d, err := NewDeme(DemeConfig{Params: DefaultDemeParams(), Seed: a, Selection: sel})
	if err != nil {
		t.Fatal(err)
	}
	d.Add(b)
	if got := d.MostFrequentGenotype(); got != "epithelial" {
		t.Errorf("tie resolved to %q, want epithelial", got)
	}
	d.Add(a.Divide())
	if got := d.MostFrequentGenotype(); got != "stromal" {
		t.Errorf("MostFrequentGenotype() = %q, want stromal", got)
	}
}

func TestDeme_TreatmentKills(t *testing.T) {
	sel := testSelection(t, nil)
	founder := testFounder(sel, func(p *cell.Params) { p.DivisionRate = 0 })

	g := founder.Genome().Clone()
	target := genome.Site{Segment: 0, Position: 3}
	if err := g.MutatePoint(genome.Target{Segment: 0, Haplotype: genome.Paternal}, []int{target.Position}); err != nil {
		t.Fatal(err)
	}
	carrier := cell.NewCancer(g, founder.Params(), sel)

	d, err := NewDeme(DemeConfig{Params: DefaultDemeParams(), Seed: carrier, Selection: sel})
	if err != nil {
		t.Fatal(err)
	}
	d.Add(founder)

	kills, carriersLost := 0, 0
	for step := 0; step < 500 && d.Len() > 0; step++ {
		hadCarrier := d.GenotypeCounts()[carrier.Genotype()]
		stats, err := d.Update(stepRand(7, step), Treatment{Active: true, Target: target})
		if err != nil {
			t.Fatal(err)
		}
		kills += stats.TreatmentKills
		carriersLost += hadCarrier - d.GenotypeCounts()[carrier.Genotype()]
	}
	if kills != carriersLost {
		t.Errorf("treatment kills = %d, carriers removed = %d", kills, carriersLost)
	}
	if kills == 0 {
		t.Error("treated carrier never died")
	}
}
