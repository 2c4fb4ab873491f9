package simulation

import (
	"github.com/nvandessel/tumorevo/internal/blob"
	"github.com/nvandessel/tumorevo/internal/config"
	"github.com/nvandessel/tumorevo/internal/genome"
	"github.com/nvandessel/tumorevo/internal/store"
	"github.com/nvandessel/tumorevo/internal/tumor"
)

// Scenario defines a complete simulation experiment.
type Scenario struct {
	Name        string
	Mode        string // empty keeps the base config's mode
	Seed        uint64
	Steps       int
	RecordEvery int // 0 records once at the end

	// Configure, when non-nil, adjusts the base config from SmallConfig.
	Configure func(c *config.SimConfig)

	// StopAfter, when positive, cancels the run context once that many
	// steps have been observed.
	StopAfter int
}

// StepResult captures the state observed after one step.
type StepResult struct {
	Step          int
	Stats         tumor.UpdateStats
	Treating      bool
	Kills         int
	TotalCells    int
	CancerCells   int
	OccupiedDemes int
	Counts        map[genome.GenotypeID]int
}

// SimulationResult captures every step and the final sinks.
type SimulationResult struct {
	Name    string
	RunID   string
	Summary Summary
	Err     error
	Steps   []StepResult
	Session *Session
	Store   *store.SQLStore
	Blobs   *blob.MemoryStore
}

// Last returns the final observed step, or the zero value.
func (r SimulationResult) Last() StepResult {
	if len(r.Steps) == 0 {
		return StepResult{}
	}
	return r.Steps[len(r.Steps)-1]
}
