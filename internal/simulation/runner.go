package simulation

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/nvandessel/tumorevo/internal/blob"
	"github.com/nvandessel/tumorevo/internal/export"
	"github.com/nvandessel/tumorevo/internal/modes"
	"github.com/nvandessel/tumorevo/internal/store"
)

// Runner orchestrates simulation experiments against the real engine, an
// isolated SQLite trace store and an in-memory blob store.
type Runner struct {
	t     *testing.T
	store *store.SQLStore
	blobs *blob.MemoryStore
	runs  int
}

// NewRunner creates a runner with a SQLite store under t.TempDir().
func NewRunner(t *testing.T) *Runner {
	t.Helper()
	s, err := store.Open(context.Background(), store.DialectSQLite, filepath.Join(t.TempDir(), "tumorsim.db"))
	if err != nil {
		t.Fatalf("NewRunner: failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return &Runner{t: t, store: s, blobs: blob.NewMemory()}
}

// Store returns the runner's trace store.
func (r *Runner) Store() *store.SQLStore { return r.store }

// Blobs returns the runner's blob store.
func (r *Runner) Blobs() *blob.MemoryStore { return r.blobs }

// Run executes the scenario and returns every observed step. Run errors
// are returned in the result, not reported, so scenarios can assert on
// cancellation.
func (r *Runner) Run(sc Scenario) SimulationResult {
	r.t.Helper()
	r.runs++

	cfg := SmallConfig()
	if sc.Mode != "" {
		cfg.Mode = sc.Mode
	}
	if sc.Seed != 0 {
		cfg.Seed = sc.Seed
	}
	if sc.Steps != 0 {
		cfg.Steps = sc.Steps
	}
	cfg.RecordEvery = sc.RecordEvery
	if sc.Configure != nil {
		sc.Configure(cfg)
	}

	name := sc.Name
	if name == "" {
		name = "scenario"
	}
	runID := fmt.Sprintf("%s-%d", name, r.runs)
	session := &Session{
		RunID:    runID,
		Config:   cfg,
		Store:    r.store,
		Exporter: export.New(r.blobs, "", runID),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var steps []StepResult
	collect := modes.ObserverFunc(func(_ context.Context, rec modes.StepRecord) error {
		steps = append(steps, StepResult{
			Step:          rec.Step,
			Stats:         rec.Stats,
			Treating:      rec.Treating,
			Kills:         rec.Kills,
			TotalCells:    rec.Tumor.TotalCells(),
			CancerCells:   rec.Tumor.CancerCells(),
			OccupiedDemes: rec.Tumor.OccupiedDemes(),
			Counts:        rec.Trace.Counts,
		})
		if sc.StopAfter > 0 && len(steps) >= sc.StopAfter {
			cancel()
		}
		return nil
	})

	summary, err := session.Run(ctx, collect)
	return SimulationResult{
		Name:    name,
		RunID:   runID,
		Summary: summary,
		Err:     err,
		Steps:   steps,
		Session: session,
		Store:   r.store,
		Blobs:   r.blobs,
	}
}

// FormatStepDebug returns a debug line for a step result.
func FormatStepDebug(sr StepResult) string {
	return fmt.Sprintf("step %d: cells=%d cancer=%d demes=%d births=%d deaths=%d mutations=%d treating=%v kills=%d",
		sr.Step, sr.TotalCells, sr.CancerCells, sr.OccupiedDemes,
		sr.Stats.Births, sr.Stats.Deaths, sr.Stats.Mutations, sr.Treating, sr.Kills)
}
