package simulation_test

import (
	"context"
	"errors"
	"maps"
	"slices"
	"testing"

	"github.com/nvandessel/tumorevo/internal/config"
	"github.com/nvandessel/tumorevo/internal/modes"
	"github.com/nvandessel/tumorevo/internal/simulation"
	"github.com/nvandessel/tumorevo/internal/store"
)

// pointMutator makes every division carry a point mutation so a treatment
// target exists early.
func pointMutator(c *config.SimConfig) {
	c.Cell.Cancer.MutationRate = 1
	c.Cell.Cancer.PointWeight = 1
	c.Cell.Cancer.CopyNumberWeight = 0
}

func TestChunks(t *testing.T) {
	tests := []struct {
		steps, every int
		want         []int
	}{
		{100, 25, []int{25, 25, 25, 25}},
		{100, 30, []int{30, 30, 30, 10}},
		{100, 0, []int{100}},
		{100, 200, []int{100}},
		{0, 10, []int{0}},
	}
	for _, tt := range tests {
		if got := simulation.Chunks(tt.steps, tt.every); !slices.Equal(got, tt.want) {
			t.Errorf("Chunks(%d, %d) = %v, want %v", tt.steps, tt.every, got, tt.want)
		}
	}
}

func TestInvasionSpreads(t *testing.T) {
	r := simulation.NewRunner(t)
	result := r.Run(simulation.Scenario{Name: "spread", Steps: 80})

	simulation.AssertRunSucceeded(t, result)
	if len(result.Steps) != 80 {
		t.Fatalf("observed %d steps, want 80", len(result.Steps))
	}
	simulation.AssertCountsConsistent(t, result)
	simulation.AssertGrows(t, result)
	simulation.AssertSpreads(t, result, 2)
	simulation.AssertNoTreatment(t, result)
	simulation.AssertLineageValid(t, result)
	simulation.AssertStoredTraces(t, result)

	if result.Summary.Steps != 80 || result.Summary.Records != 1 {
		t.Errorf("summary = %+v", result.Summary)
	}
	if testing.Verbose() {
		t.Log(simulation.FormatStepDebug(result.Last()))
	}
}

func TestTreatmentWindow(t *testing.T) {
	r := simulation.NewRunner(t)
	result := r.Run(simulation.Scenario{
		Name:  "treatment",
		Steps: 60,
		Configure: func(c *config.SimConfig) {
			pointMutator(c)
			c.Treatment.Iteration = 20
			c.Treatment.Duration = 10
		},
	})

	simulation.AssertRunSucceeded(t, result)
	simulation.AssertTreatmentWindow(t, result, 20, 10)
	simulation.AssertLineageValid(t, result)

	if result.Summary.Target == "" {
		t.Error("summary has no treatment target")
	}
	if result.Summary.Kills != result.Last().Kills {
		t.Errorf("summary kills %d, observed %d", result.Summary.Kills, result.Last().Kills)
	}

	run, err := result.Store.GetRun(context.Background(), result.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != store.StatusFinished || run.Target != result.Summary.Target || run.Kills != result.Summary.Kills {
		t.Errorf("stored run = %+v, summary = %+v", run, result.Summary)
	}
}

func TestNonspatialNeverTreats(t *testing.T) {
	r := simulation.NewRunner(t)
	result := r.Run(simulation.Scenario{
		Name:  "nonspatial",
		Mode:  "nonspatial",
		Steps: 40,
		Configure: func(c *config.SimConfig) {
			pointMutator(c)
			c.Treatment.Iteration = 5
		},
	})
	simulation.AssertRunSucceeded(t, result)
	simulation.AssertNoTreatment(t, result)
	simulation.AssertExported(t, result,
		result.RunID+"/record_0/trace_counts.csv",
		result.RunID+"/record_0/cell_data/cell_ids.csv",
	)
	if _, err := result.Blobs.Head(context.Background(), result.RunID+"/record_0/grid.csv"); err == nil {
		t.Error("nonspatial run exported a grid")
	}
}

func TestRecordedChunks(t *testing.T) {
	r := simulation.NewRunner(t)
	result := r.Run(simulation.Scenario{
		Name:        "chunks",
		Steps:       30,
		RecordEvery: 10,
		Configure: func(c *config.SimConfig) {
			c.Export.Expression = true
		},
	})
	simulation.AssertRunSucceeded(t, result)
	simulation.AssertStoredTraces(t, result)

	steps, err := result.Store.SnapshotSteps(context.Background(), result.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(steps, []int{10, 20, 30}) {
		t.Errorf("snapshot steps = %v, want [10 20 30]", steps)
	}

	live := result.Session.Simulator().Tumor().Snapshot()
	loaded, err := result.Store.LoadSnapshot(context.Background(), result.RunID, 30)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Grid) != len(live.Grid) || len(loaded.Demes) != len(live.Demes) {
		t.Fatalf("loaded grid %d rows, %d demes; live %d rows, %d demes",
			len(loaded.Grid), len(loaded.Demes), len(live.Grid), len(live.Demes))
	}
	for i, d := range live.Demes {
		if !maps.Equal(loaded.Demes[i].Counts, d.Counts) {
			t.Errorf("deme (%d,%d) = %v, want %v", d.Row, d.Col, loaded.Demes[i].Counts, d.Counts)
		}
	}

	base := result.RunID
	simulation.AssertExported(t, result,
		base+"/gene_data/driver_types.csv",
		base+"/gene_data/confers_resistance.csv",
		base+"/record_0/grid.csv",
		base+"/record_1/genotype_counts_demes.csv",
		base+"/record_2/parents.csv",
		base+"/record_2/genotypes.csv",
		base+"/record_2/cell_data/cell_exp.csv",
		base+"/record_2/cell_data/cell_crd.csv",
	)
	if _, err := result.Blobs.Head(context.Background(), base+"/record_0/cell_data/cell_ids.csv"); err == nil {
		t.Error("cell data exported before the final record")
	}
}

func TestDeterministicAcrossChunking(t *testing.T) {
	r := simulation.NewRunner(t)
	whole := r.Run(simulation.Scenario{Name: "whole", Steps: 40, Seed: 11})
	chunked := r.Run(simulation.Scenario{Name: "chunked", Steps: 40, Seed: 11, RecordEvery: 7})
	simulation.AssertRunSucceeded(t, whole)
	simulation.AssertRunSucceeded(t, chunked)

	if len(whole.Steps) != len(chunked.Steps) {
		t.Fatalf("step counts differ: %d vs %d", len(whole.Steps), len(chunked.Steps))
	}
	for i := range whole.Steps {
		a, b := whole.Steps[i], chunked.Steps[i]
		if a.TotalCells != b.TotalCells || a.Stats.Births != b.Stats.Births || len(a.Counts) != len(b.Counts) {
			t.Fatalf("step %d diverged:\n  %s\n  %s", a.Step, simulation.FormatStepDebug(a), simulation.FormatStepDebug(b))
		}
	}
}

func TestCancelledRunIsStoredAsFailed(t *testing.T) {
	r := simulation.NewRunner(t)
	result := r.Run(simulation.Scenario{Name: "cancel", Steps: 100, StopAfter: 5})

	if !errors.Is(result.Err, context.Canceled) {
		t.Fatalf("run error = %v, want context.Canceled", result.Err)
	}
	if len(result.Steps) != 5 {
		t.Errorf("observed %d steps after cancel, want 5", len(result.Steps))
	}
	run, err := result.Store.GetRun(context.Background(), result.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != store.StatusFailed || run.FinalStep != 5 || run.Error == "" {
		t.Errorf("stored run = %+v", run)
	}
}

func TestBuild_InvalidConfig(t *testing.T) {
	cfg := simulation.SmallConfig()
	cfg.Mode = "fission"
	if _, err := simulation.Build(cfg, modes.Options{}); err == nil {
		t.Error("Build accepted an unimplemented mode")
	}

	cfg = simulation.SmallConfig()
	cfg.Spatial.GridSize = 0
	if _, err := simulation.Build(cfg, modes.Options{}); err == nil {
		t.Error("Build accepted an empty grid")
	}
}

func TestBuild_SameSeedSameLayout(t *testing.T) {
	cfg := simulation.SmallConfig()
	a, err := simulation.Build(cfg, modes.Options{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := simulation.Build(cfg, modes.Options{})
	if err != nil {
		t.Fatal(err)
	}
	ga, gb := a.Tumor().GenotypeGrid(), b.Tumor().GenotypeGrid()
	for i := range ga {
		if !slices.Equal(ga[i], gb[i]) {
			t.Fatalf("grid row %d differs: %v vs %v", i, ga[i], gb[i])
		}
	}
	if a.Tumor().TotalCells() != b.Tumor().TotalCells() {
		t.Errorf("cell totals differ: %d vs %d", a.Tumor().TotalCells(), b.Tumor().TotalCells())
	}
}
