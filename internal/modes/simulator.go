package modes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/nvandessel/tumorevo/internal/constants"
	"github.com/nvandessel/tumorevo/internal/genome"
	"github.com/nvandessel/tumorevo/internal/logging"
	"github.com/nvandessel/tumorevo/internal/tumor"
)

// Trace is the genotype count table after one step. Counts is owned by the
// trace and never aliases tumor state.
type Trace struct {
	Step   int                       `json:"step"`
	Counts map[genome.GenotypeID]int `json:"counts"`
}

// StepRecord is handed to observers after every step.
type StepRecord struct {
	Step      int
	Stats     tumor.UpdateStats
	Treating  bool
	Target    genome.Site
	HasTarget bool
	Kills     int
	Duration  time.Duration
	Trace     Trace
	// Tumor is the live tumor; observers must only read it.
	Tumor *tumor.Tumor
}

// Observer receives a record after each step. An error aborts the run.
type Observer interface {
	ObserveStep(ctx context.Context, rec StepRecord) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, rec StepRecord) error

// ObserveStep calls f.
func (f ObserverFunc) ObserveStep(ctx context.Context, rec StepRecord) error { return f(ctx, rec) }

// Options configures a Simulator.
type Options struct {
	Seed uint64
	// TreatmentIteration is the trace count at which treatment starts.
	// The initial trace counts, so 1 treats the first step. Values below 1
	// disable treatment.
	TreatmentIteration int
	TreatmentDuration  int
	Observers          []Observer
	Logger             *slog.Logger
	Events             *logging.EventLogger
}

type treatment struct {
	started bool
	stopped bool
	target  genome.Site
	chosen  bool
	kills   int
}

// Simulator advances one tumor and keeps its trace history.
type Simulator struct {
	mode   Mode
	tumor  *tumor.Tumor
	opts   Options
	logger *slog.Logger
	traces []Trace
	treat  treatment
}

// NewSimulator records the initial trace of t. Fission and boundary modes
// return ErrNotImplemented.
func NewSimulator(mode Mode, t *tumor.Tumor, opts Options) (*Simulator, error) {
	if !mode.Implemented() {
		if mode == Fission || mode == Boundary {
			return nil, fmt.Errorf("%s: %w", mode, ErrNotImplemented)
		}
		return nil, fmt.Errorf("unknown mode %d", int(mode))
	}
	if t == nil {
		return nil, errors.New("simulator requires a tumor")
	}
	if opts.TreatmentDuration < 0 {
		return nil, fmt.Errorf("treatment duration must be non-negative, got %d", opts.TreatmentDuration)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Simulator{mode: mode, tumor: t, opts: opts, logger: logger}
	s.traces = append(s.traces, Trace{Step: t.Steps(), Counts: t.Counts()})
	return s, nil
}

// Mode returns the simulation mode.
func (s *Simulator) Mode() Mode { return s.mode }

// Tumor returns the simulated tumor.
func (s *Simulator) Tumor() *tumor.Tumor { return s.tumor }

// Steps returns the number of updates applied so far.
func (s *Simulator) Steps() int { return s.tumor.Steps() }

// Traces returns a deep copy of every recorded trace.
func (s *Simulator) Traces() []Trace {
	out := make([]Trace, len(s.traces))
	for i, tr := range s.traces {
		out[i] = Trace{Step: tr.Step, Counts: maps.Clone(tr.Counts)}
	}
	return out
}

// TracesSince returns copies of the traces recorded at or after step.
func (s *Simulator) TracesSince(step int) []Trace {
	i, _ := slices.BinarySearchFunc(s.traces, step, func(tr Trace, step int) int { return tr.Step - step })
	out := make([]Trace, 0, len(s.traces)-i)
	for _, tr := range s.traces[i:] {
		out = append(out, Trace{Step: tr.Step, Counts: maps.Clone(tr.Counts)})
	}
	return out
}

// TreatmentTarget returns the treated site once treatment has started.
func (s *Simulator) TreatmentTarget() (genome.Site, bool) {
	return s.treat.target, s.treat.chosen
}

// Kills returns the total treatment-attributable deaths so far.
func (s *Simulator) Kills() int { return s.treat.kills }

// TreatmentActive reports whether the next step is inside the window.
func (s *Simulator) TreatmentActive() bool {
	return s.window(len(s.traces))
}

func (s *Simulator) window(traces int) bool {
	if s.mode != Invasion || !s.treat.chosen {
		return false
	}
	start := s.opts.TreatmentIteration
	return traces >= start && traces < start+s.opts.TreatmentDuration
}

// Run applies steps updates, stopping early if ctx is cancelled.
func (s *Simulator) Run(ctx context.Context, steps int) error {
	for range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.step(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Simulator) step(ctx context.Context) error {
	step := s.tumor.Steps()
	tr := s.prepareTreatment(step)

	r := rand.New(rand.NewPCG(s.opts.Seed+uint64(step), constants.RandomStream))
	start := time.Now()
	stats, err := s.tumor.Update(r, tr)
	if err != nil {
		return fmt.Errorf("updating tumor: %w", err)
	}
	elapsed := time.Since(start)
	s.treat.kills += stats.TreatmentKills

	trace := Trace{Step: s.tumor.Steps(), Counts: s.tumor.Counts()}
	s.traces = append(s.traces, trace)

	for _, b := range stats.Born {
		s.opts.Events.GenotypeBorn(trace.Step, string(b.Genotype), string(b.Parent))
	}
	s.logger.Log(ctx, logging.LevelTrace, "step",
		"step", trace.Step,
		"births", stats.Births,
		"deaths", stats.Deaths,
		"mutations", stats.Mutations,
		"genotypes", len(trace.Counts))

	rec := StepRecord{
		Step:      trace.Step,
		Stats:     stats,
		Treating:  tr.Active,
		Target:    s.treat.target,
		HasTarget: s.treat.chosen,
		Kills:     s.treat.kills,
		Duration:  elapsed,
		Trace:     Trace{Step: trace.Step, Counts: maps.Clone(trace.Counts)},
		Tumor:     s.tumor,
	}
	for _, o := range s.opts.Observers {
		if err := o.ObserveStep(ctx, rec); err != nil {
			return fmt.Errorf("observing step %d: %w", trace.Step, err)
		}
	}
	return nil
}

// prepareTreatment starts or stops the treatment window and returns the
// treatment for the coming update.
func (s *Simulator) prepareTreatment(step int) tumor.Treatment {
	if s.mode != Invasion || s.opts.TreatmentIteration < 1 {
		return tumor.Treatment{}
	}
	n := len(s.traces)

	if n == s.opts.TreatmentIteration && !s.treat.started {
		s.treat.started = true
		site, carriers, ok := s.tumor.MostPrevalentSite()
		if !ok {
			s.logger.Warn("no mutated site among live cancer cells, skipping treatment", "step", step)
			s.opts.Events.Log(logging.EventTreatmentSkipped, map[string]any{"step": step})
		} else {
			s.treat.target, s.treat.chosen = site, true
			cancer := s.tumor.CancerCells()
			s.logger.Info("starting treatment",
				"step", step,
				"target", site.String(),
				"carriers", carriers,
				"cancer_cells", cancer,
				"duration", s.opts.TreatmentDuration)
			s.opts.Events.Log(logging.EventTreatmentStarted, map[string]any{
				"step":         step,
				"segment":      site.Segment,
				"position":     site.Position,
				"carriers":     carriers,
				"cancer_cells": cancer,
				"duration":     s.opts.TreatmentDuration,
			})
		}
	}

	active := s.window(n)
	if s.treat.chosen && !active && !s.treat.stopped && n >= s.opts.TreatmentIteration {
		s.treat.stopped = true
		s.logger.Info("stopped treatment",
			"step", step,
			"target", s.treat.target.String(),
			"killed", s.treat.kills)
		s.opts.Events.Log(logging.EventTreatmentStopped, map[string]any{
			"step":     step,
			"segment":  s.treat.target.Segment,
			"position": s.treat.target.Position,
			"killed":   s.treat.kills,
		})
	}
	return tumor.Treatment{Active: active, Target: s.treat.target}
}
