package modes

import (
	"context"
	"errors"
	"maps"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/nvandessel/tumorevo/internal/cell"
	"github.com/nvandessel/tumorevo/internal/genome"
	"github.com/nvandessel/tumorevo/internal/selection"
	"github.com/nvandessel/tumorevo/internal/tumor"
)

// newTumor builds a 5x5 tumor whose founder carries a point mutation at
// segment 0 position 2 when marked is true.
func newTumor(t *testing.T, marked bool, mutationRate float64) *tumor.Tumor {
	t.Helper()
	sp := selection.DefaultParams()
	sp.NumSegments = 2
	sp.SegmentSize = 20
	sp.DriverEffects = 0.01
	sp.ResistantEffects = 0.01
	sel, err := selection.New(sp, rand.New(rand.NewPCG(1, 1)))
	if err != nil {
		t.Fatal(err)
	}

	g := genome.New(sp.NumSegments, sp.SegmentSize)
	if marked {
		if err := g.MutatePoint(genome.Target{Segment: 0, Haplotype: genome.Paternal}, []int{2}); err != nil {
			t.Fatal(err)
		}
	}
	cp := cell.DefaultParams()
	cp.DivisionRate = 0.3
	cp.MutationRate = mutationRate
	cp.DispersalRate = 0.2

	cfg := tumor.DefaultConfig()
	cfg.GridSize = 5
	tm, err := tumor.New(cell.NewCancer(g, cp, sel), sel, cfg, rand.New(rand.NewPCG(2, 2)))
	if err != nil {
		t.Fatal(err)
	}
	return tm
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		input   string
		want    Mode
		wantErr bool
	}{
		{"nonspatial", Nonspatial, false},
		{"Invasion", Invasion, false},
		{"2", Fission, false},
		{" boundary ", Boundary, false},
		{"4", 0, true},
		{"spatial", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseMode(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMode(%q) error = %v", tt.input, err)
			}
			if err == nil && got != tt.want {
				t.Errorf("ParseMode(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewSimulator_Unimplemented(t *testing.T) {
	tm := newTumor(t, false, 0)
	for _, m := range []Mode{Fission, Boundary} {
		if _, err := NewSimulator(m, tm, Options{}); !errors.Is(err, ErrNotImplemented) {
			t.Errorf("NewSimulator(%s) error = %v, want ErrNotImplemented", m, err)
		}
	}
	if _, err := NewSimulator(Mode(9), tm, Options{}); err == nil {
		t.Error("NewSimulator accepted an unknown mode")
	}
}

func TestSimulator_InitialTrace(t *testing.T) {
	tm := newTumor(t, false, 0)
	sim, err := NewSimulator(Nonspatial, tm, Options{Seed: 1})
	if err != nil {
		t.Fatal(err)
	}
	traces := sim.Traces()
	if len(traces) != 1 || traces[0].Step != 0 {
		t.Fatalf("initial traces = %+v", traces)
	}
	if !maps.Equal(traces[0].Counts, tm.Counts()) {
		t.Error("initial trace differs from tumor counts")
	}
}

func TestSimulator_TracesAreSnapshots(t *testing.T) {
	sim, err := NewSimulator(Nonspatial, newTumor(t, false, 0.3), Options{Seed: 5})
	if err != nil {
		t.Fatal(err)
	}
	if err := sim.Run(context.Background(), 20); err != nil {
		t.Fatal(err)
	}
	early := sim.Traces()

	if err := sim.Run(context.Background(), 50); err != nil {
		t.Fatal(err)
	}
	later := sim.Traces()
	if len(later) != 71 {
		t.Fatalf("recorded %d traces, want 71", len(later))
	}
	for i := range early {
		if !maps.Equal(early[i].Counts, later[i].Counts) {
			t.Fatalf("trace %d changed after later steps", i)
		}
	}

	later[0].Counts["tampered"] = 1
	if _, ok := sim.Traces()[0].Counts["tampered"]; ok {
		t.Error("Traces() exposes internal maps")
	}
	if got := sim.TracesSince(60); len(got) != 11 || got[0].Step != 60 {
		t.Errorf("TracesSince(60) = %d traces starting at %d", len(got), got[0].Step)
	}
}

func runTraces(t *testing.T, seed uint64, chunks ...int) []Trace {
	t.Helper()
	sim, err := NewSimulator(Invasion, newTumor(t, true, 0.3), Options{Seed: seed, TreatmentIteration: 15, TreatmentDuration: 5})
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range chunks {
		if err := sim.Run(context.Background(), n); err != nil {
			t.Fatal(err)
		}
	}
	return sim.Traces()
}

func TestSimulator_Deterministic(t *testing.T) {
	a := runTraces(t, 42, 60)
	b := runTraces(t, 42, 60)
	// Recording in chunks must not change the random stream.
	c := runTraces(t, 42, 10, 25, 25)

	for i := range a {
		if !maps.Equal(a[i].Counts, b[i].Counts) {
			t.Fatalf("step %d differs between identical runs", i)
		}
		if !maps.Equal(a[i].Counts, c[i].Counts) {
			t.Fatalf("step %d differs between single and chunked runs", i)
		}
	}

	d := runTraces(t, 43, 60)
	same := true
	for i := range a {
		if !maps.Equal(a[i].Counts, d[i].Counts) {
			same = false
			break
		}
	}
	if same {
		t.Error("different seeds produced identical traces")
	}
}

func TestSimulator_TreatmentWindow(t *testing.T) {
	const (
		start    = 10
		duration = 6
	)
	var treated []int
	kills := 0
	obs := ObserverFunc(func(_ context.Context, rec StepRecord) error {
		if rec.Treating {
			treated = append(treated, rec.Step)
		} else if rec.Stats.TreatmentKills != 0 {
			t.Errorf("step %d: %d kills outside the window", rec.Step, rec.Stats.TreatmentKills)
		}
		kills += rec.Stats.TreatmentKills
		return nil
	})

	sim, err := NewSimulator(Invasion, newTumor(t, true, 0), Options{
		Seed:               7,
		TreatmentIteration: start,
		TreatmentDuration:  duration,
		Observers:          []Observer{obs},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := sim.Run(context.Background(), 40); err != nil {
		t.Fatal(err)
	}

	if len(treated) != duration {
		t.Fatalf("treated during %d steps, want %d: %v", len(treated), duration, treated)
	}
	// The update that produces trace number start+1 is the first treated one.
	if treated[0] != start {
		t.Errorf("treatment began with step %d, want %d", treated[0], start)
	}
	site, ok := sim.TreatmentTarget()
	if !ok || site != (genome.Site{Segment: 0, Position: 2}) {
		t.Errorf("TreatmentTarget() = %v, %v", site, ok)
	}
	if sim.Kills() != kills {
		t.Errorf("Kills() = %d, observed %d", sim.Kills(), kills)
	}
	if sim.TreatmentActive() {
		t.Error("treatment still active after the window")
	}
}

func TestSimulator_TreatmentStartBounds(t *testing.T) {
	tests := []struct {
		name      string
		iteration int
		firstStep int // 0 means never treated
	}{
		{"disabled", -1, 0},
		{"zero disables", 0, 0},
		{"first step", 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var treated []int
			obs := ObserverFunc(func(_ context.Context, rec StepRecord) error {
				if rec.Treating {
					treated = append(treated, rec.Step)
				}
				return nil
			})
			sim, err := NewSimulator(Invasion, newTumor(t, true, 0), Options{
				Seed: 4, TreatmentIteration: tt.iteration, TreatmentDuration: 3, Observers: []Observer{obs},
			})
			if err != nil {
				t.Fatal(err)
			}
			if err := sim.Run(context.Background(), 6); err != nil {
				t.Fatal(err)
			}
			if tt.firstStep == 0 {
				if len(treated) != 0 {
					t.Errorf("treated steps %v, want none", treated)
				}
				return
			}
			if !slices.Equal(treated, []int{tt.firstStep, tt.firstStep + 1, tt.firstStep + 2}) {
				t.Errorf("treated steps %v, want 3 from step %d", treated, tt.firstStep)
			}
		})
	}
}

func TestSimulator_TreatmentSkippedWithoutMutations(t *testing.T) {
	sim, err := NewSimulator(Invasion, newTumor(t, false, 0), Options{Seed: 3, TreatmentIteration: 2, TreatmentDuration: 5})
	if err != nil {
		t.Fatal(err)
	}
	if err := sim.Run(context.Background(), 10); err != nil {
		t.Fatal(err)
	}
	if _, ok := sim.TreatmentTarget(); ok {
		t.Error("treatment target chosen with no mutated site")
	}
	if sim.Kills() != 0 {
		t.Errorf("Kills() = %d, want 0", sim.Kills())
	}
}

func TestSimulator_NonspatialNeverTreats(t *testing.T) {
	obs := ObserverFunc(func(_ context.Context, rec StepRecord) error {
		if rec.Treating || rec.Stats.TreatmentKills != 0 {
			t.Errorf("step %d treated in nonspatial mode", rec.Step)
		}
		return nil
	})
	sim, err := NewSimulator(Nonspatial, newTumor(t, true, 0), Options{
		Seed: 1, TreatmentIteration: 1, TreatmentDuration: 10, Observers: []Observer{obs},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := sim.Run(context.Background(), 15); err != nil {
		t.Fatal(err)
	}
}

func TestSimulator_Cancelled(t *testing.T) {
	sim, err := NewSimulator(Nonspatial, newTumor(t, false, 0), Options{})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sim.Run(ctx, 5); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if sim.Steps() != 0 {
		t.Errorf("Steps() = %d after cancelled run", sim.Steps())
	}
}

func TestSimulator_ObserverErrorAborts(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	obs := ObserverFunc(func(context.Context, StepRecord) error {
		calls++
		return boom
	})
	sim, err := NewSimulator(Nonspatial, newTumor(t, false, 0), Options{Observers: []Observer{obs}})
	if err != nil {
		t.Fatal(err)
	}
	if err := sim.Run(context.Background(), 5); !errors.Is(err, boom) {
		t.Errorf("Run() error = %v, want observer error", err)
	}
	if calls != 1 {
		t.Errorf("observer called %d times, want 1", calls)
	}
}
