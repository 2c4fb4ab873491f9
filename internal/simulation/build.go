package simulation

import (
	"fmt"
	"math/rand/v2"

	"github.com/nvandessel/tumorevo/internal/cell"
	"github.com/nvandessel/tumorevo/internal/config"
	"github.com/nvandessel/tumorevo/internal/constants"
	"github.com/nvandessel/tumorevo/internal/genome"
	"github.com/nvandessel/tumorevo/internal/modes"
	"github.com/nvandessel/tumorevo/internal/selection"
	"github.com/nvandessel/tumorevo/internal/tumor"
)

// Build assembles the selection model, an unmutated cancer founder and the
// initial tumor described by cfg, then wraps them in a simulator. Observers,
// loggers and event sinks are taken from opts; seed and treatment settings
// come from cfg.
func Build(cfg *config.SimConfig, opts modes.Options) (*modes.Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	mode, err := cfg.ModeValue()
	if err != nil {
		return nil, err
	}

	sel, err := selection.New(cfg.SelectionParams(), rand.NewPCG(cfg.Seed, constants.SelectionStream))
	if err != nil {
		return nil, fmt.Errorf("building selection: %w", err)
	}
	founder := cell.NewCancer(genome.New(cfg.Cell.Segments, cfg.Cell.SegmentSize), cfg.Cell.Cancer, sel)

	t, err := tumor.New(founder, sel, cfg.TumorConfig(), rand.New(rand.NewPCG(cfg.Seed, constants.LayoutStream)))
	if err != nil {
		return nil, fmt.Errorf("building tumor: %w", err)
	}

	base := cfg.SimulatorOptions()
	base.Observers = opts.Observers
	base.Logger = opts.Logger
	base.Events = opts.Events
	return modes.NewSimulator(mode, t, base)
}
