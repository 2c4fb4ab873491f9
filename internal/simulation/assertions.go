package simulation

import (
	"context"
	"maps"
	"testing"
)

// AssertRunSucceeded fails the test if the run returned an error.
func AssertRunSucceeded(t *testing.T, result SimulationResult) {
	t.Helper()
	if result.Err != nil {
		t.Fatalf("AssertRunSucceeded: %s: %v", result.Name, result.Err)
	}
}

// AssertCountsConsistent asserts every step's trace counts are positive
// and sum to the live cell total.
func AssertCountsConsistent(t *testing.T, result SimulationResult) {
	t.Helper()
	for _, sr := range result.Steps {
		sum := 0
		for g, n := range sr.Counts {
			if n <= 0 {
				t.Errorf("AssertCountsConsistent: step %d: genotype %s has count %d", sr.Step, g, n)
			}
			sum += n
		}
		if sum != sr.TotalCells {
			t.Errorf("AssertCountsConsistent: step %d: counts sum to %d, tumor holds %d", sr.Step, sum, sr.TotalCells)
		}
	}
}

// AssertSpreads asserts that cancer cells occupy at least minDemes demes
// at the end of the run.
func AssertSpreads(t *testing.T, result SimulationResult, minDemes int) {
	t.Helper()
	last := result.Last()
	if last.OccupiedDemes < minDemes {
		t.Errorf("AssertSpreads: %d occupied demes after step %d (need %d)", last.OccupiedDemes, last.Step, minDemes)
	}
}

// AssertGrows asserts the cancer population at the end exceeds the first
// observed population.
func AssertGrows(t *testing.T, result SimulationResult) {
	t.Helper()
	if len(result.Steps) < 2 {
		t.Fatalf("AssertGrows: only %d steps observed", len(result.Steps))
	}
	first, last := result.Steps[0], result.Last()
	if last.CancerCells <= first.CancerCells {
		t.Errorf("AssertGrows: cancer cells %d at step %d, %d at step %d", first.CancerCells, first.Step, last.CancerCells, last.Step)
	}
}

// AssertTreatmentWindow asserts treatment was active for exactly duration
// consecutive steps starting at step start, and that kills only accrue
// inside the window.
func AssertTreatmentWindow(t *testing.T, result SimulationResult, start, duration int) {
	t.Helper()
	var treated []int
	for _, sr := range result.Steps {
		if sr.Treating {
			treated = append(treated, sr.Step)
		} else if sr.Stats.TreatmentKills != 0 {
			t.Errorf("AssertTreatmentWindow: step %d: %d kills outside the window", sr.Step, sr.Stats.TreatmentKills)
		}
	}
	if len(treated) != duration {
		t.Fatalf("AssertTreatmentWindow: %d treated steps, want %d (%v)", len(treated), duration, treated)
	}
	for i, step := range treated {
		if step != start+i {
			t.Errorf("AssertTreatmentWindow: treated step %d is %d, want %d", i, step, start+i)
		}
	}
}

// AssertNoTreatment asserts treatment never ran.
func AssertNoTreatment(t *testing.T, result SimulationResult) {
	t.Helper()
	for _, sr := range result.Steps {
		if sr.Treating || sr.Kills != 0 {
			t.Errorf("AssertNoTreatment: step %d: treating=%v kills=%d", sr.Step, sr.Treating, sr.Kills)
			return
		}
	}
}

// AssertLineageValid asserts the stored lineage of the run is a forest
// rooted at the initial genotypes.
func AssertLineageValid(t *testing.T, result SimulationResult) {
	t.Helper()
	errs, err := result.Store.ValidateLineage(context.Background(), result.RunID)
	if err != nil {
		t.Fatalf("AssertLineageValid: %v", err)
	}
	for _, e := range errs {
		t.Errorf("AssertLineageValid: %s", e)
	}
}

// AssertStoredTraces asserts the store holds one trace per observed step
// plus the initial trace, matching the observed counts.
func AssertStoredTraces(t *testing.T, result SimulationResult) {
	t.Helper()
	traces, err := result.Store.LoadTraces(context.Background(), result.RunID)
	if err != nil {
		t.Fatalf("AssertStoredTraces: %v", err)
	}
	if len(traces) != len(result.Steps)+1 {
		t.Fatalf("AssertStoredTraces: %d stored traces, want %d", len(traces), len(result.Steps)+1)
	}
	for i, sr := range result.Steps {
		tr := traces[i+1]
		if tr.Step != sr.Step || !maps.Equal(tr.Counts, sr.Counts) {
			t.Errorf("AssertStoredTraces: stored trace %d (step %d) differs from observed step %d", i+1, tr.Step, sr.Step)
		}
	}
}

// AssertExported asserts that every key exists in the blob store.
func AssertExported(t *testing.T, result SimulationResult, keys ...string) {
	t.Helper()
	for _, k := range keys {
		if _, err := result.Blobs.Head(context.Background(), k); err != nil {
			t.Errorf("AssertExported: %s: %v", k, err)
		}
	}
}
