package simulation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nvandessel/tumorevo/internal/config"
	"github.com/nvandessel/tumorevo/internal/export"
	"github.com/nvandessel/tumorevo/internal/logging"
	"github.com/nvandessel/tumorevo/internal/modes"
	"github.com/nvandessel/tumorevo/internal/store"
	"github.com/nvandessel/tumorevo/internal/tumor"
)

// Session drives one run in chunks of cfg.RecordEvery steps. After every
// chunk the new traces and a snapshot go to the trace store and the
// chunk's tables go to the exporter. Both sinks are optional.
type Session struct {
	RunID    string
	Config   *config.SimConfig
	Store    store.TraceStore
	Exporter *export.Exporter
	Logger   *slog.Logger
	Events   *logging.EventLogger

	sim       *modes.Simulator
	persisted int // last step written to the store
	records   int
}

// Summary describes a finished run.
type Summary struct {
	RunID         string        `json:"run_id"`
	Mode          string        `json:"mode"`
	Seed          uint64        `json:"seed"`
	Steps         int           `json:"steps"`
	Records       int           `json:"records"`
	TotalCells    int           `json:"total_cells"`
	CancerCells   int           `json:"cancer_cells"`
	Genotypes     int           `json:"genotypes"`
	OccupiedDemes int           `json:"occupied_demes"`
	Kills         int           `json:"kills"`
	Target        string        `json:"target,omitempty"`
	Elapsed       time.Duration `json:"elapsed_ns"`
}

// Chunks splits steps into recording chunks. A non-positive every records
// once at the end; a trailing remainder forms a final shorter chunk. Zero
// steps still yields one empty chunk so the initial state is recorded.
func Chunks(steps, every int) []int {
	if steps <= 0 {
		return []int{0}
	}
	if every <= 0 || every >= steps {
		return []int{steps}
	}
	var out []int
	for rest := steps; rest > 0; rest -= every {
		out = append(out, min(every, rest))
	}
	return out
}

// Run builds the simulator, runs every chunk and records the outcome in
// the store. observers are attached to the simulator in order.
func (s *Session) Run(ctx context.Context, observers ...modes.Observer) (Summary, error) {
	if s.Logger == nil {
		s.Logger = logging.Discard()
	}
	start := time.Now()

	sim, err := Build(s.Config, modes.Options{Observers: observers, Logger: s.Logger, Events: s.Events})
	if err != nil {
		return Summary{}, err
	}
	s.sim = sim

	if err := s.createRun(ctx); err != nil {
		return Summary{}, err
	}

	runErr := s.run(ctx)
	summary := s.summary(time.Since(start))
	if finishErr := s.finish(runErr, summary); finishErr != nil {
		s.Logger.Error("failed to record run outcome", "run", s.RunID, "error", finishErr)
		runErr = errors.Join(runErr, finishErr)
	}
	s.Events.Log(logging.EventRunFinished, map[string]any{
		"step":   summary.Steps,
		"kills":  summary.Kills,
		"target": summary.Target,
		"ok":     runErr == nil,
	})
	return summary, runErr
}

// Simulator returns the simulator of a started session.
func (s *Session) Simulator() *modes.Simulator { return s.sim }

func (s *Session) createRun(ctx context.Context) error {
	if s.Store == nil {
		return nil
	}
	cfgJSON, err := json.Marshal(s.Config)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	run := store.Run{
		ID:     s.RunID,
		Mode:   s.sim.Mode().String(),
		Seed:   s.Config.Seed,
		Steps:  s.Config.Steps,
		Config: string(cfgJSON),
	}
	if s.sim.Mode().Spatial() {
		run.GridSize = s.sim.Tumor().GridSize()
	}
	err = s.Store.CreateRun(ctx, run)
	if err != nil {
		return err
	}
	s.persisted = -1
	return nil
}

func (s *Session) run(ctx context.Context) error {
	if s.Exporter != nil {
		if _, err := s.Exporter.WriteGeneData(ctx, s.sim.Tumor().GeneData()); err != nil {
			return err
		}
	}

	chunks := Chunks(s.Config.Steps, s.Config.RecordEvery)
	for i, n := range chunks {
		if err := s.sim.Run(ctx, n); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		if err := s.record(ctx, i, i == len(chunks)-1); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		s.records++
		s.Logger.Info("recorded chunk",
			"run", s.RunID,
			"record", i,
			"step", s.sim.Steps(),
			"cancer_cells", s.sim.Tumor().CancerCells(),
			"genotypes", len(s.sim.Tumor().Counts()))
	}
	return nil
}

// record persists and exports the state after chunk i. The final record
// also carries per-cell data.
func (s *Session) record(ctx context.Context, i int, final bool) error {
	t := s.sim.Tumor()
	snap := t.Snapshot()
	spatial := s.sim.Mode().Spatial()

	if s.Store != nil {
		if err := s.Store.AppendTraces(ctx, s.RunID, s.sim.TracesSince(s.persisted+1)); err != nil {
			return err
		}
		s.persisted = snap.Step
		stored := snap
		if !spatial {
			stored.Grid, stored.Demes = nil, nil
		}
		if err := s.Store.SaveSnapshot(ctx, s.RunID, stored); err != nil {
			return err
		}
	}

	if s.Exporter == nil {
		return nil
	}
	rec := export.Record{
		Index:       i,
		Traces:      s.sim.Traces(),
		Parents:     snap.Parents,
		Frequencies: t.Frequencies(),
		Segments:    s.Config.Cell.Segments,
		SegmentSize: s.Config.Cell.SegmentSize,
	}
	if spatial {
		rec.Snapshot = &snap
	}
	if final {
		rec.Cells = t.CellData(s.Config.Export.Expression)
		if rec.Cells == nil {
			rec.Cells = []tumor.CellRecord{}
		}
	}
	_, err := s.Exporter.WriteRecord(ctx, rec)
	return err
}

func (s *Session) summary(elapsed time.Duration) Summary {
	t := s.sim.Tumor()
	sum := Summary{
		RunID:         s.RunID,
		Mode:          s.sim.Mode().String(),
		Seed:          s.Config.Seed,
		Steps:         s.sim.Steps(),
		Records:       s.records,
		TotalCells:    t.TotalCells(),
		CancerCells:   t.CancerCells(),
		Genotypes:     len(t.Frequencies()),
		OccupiedDemes: t.OccupiedDemes(),
		Kills:         s.sim.Kills(),
		Elapsed:       elapsed,
	}
	if site, ok := s.sim.TreatmentTarget(); ok {
		sum.Target = site.String()
	}
	return sum
}

// finish records the run outcome. A cancelled or failed run is stored as
// failed with whatever steps completed.
func (s *Session) finish(runErr error, sum Summary) error {
	if s.Store == nil {
		return nil
	}
	res := store.Result{
		Status:    store.StatusFinished,
		FinalStep: sum.Steps,
		Kills:     sum.Kills,
		Target:    sum.Target,
	}
	if runErr != nil {
		res.Status = store.StatusFailed
		res.Error = runErr.Error()
	}
	// The run context may already be cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Store.FinishRun(ctx, s.RunID, res)
}
