package simulation

import (
	"github.com/nvandessel/tumorevo/internal/config"
	"github.com/nvandessel/tumorevo/internal/constants"
)

// SmallConfig returns a configuration that runs fast enough for tests: a
// 5x5 grid, two 20-site segments and brisk division. Persistence and
// export are left to the Runner.
func SmallConfig() *config.SimConfig {
	c := config.Default()
	c.Steps = 50
	c.RecordEvery = 0
	c.Seed = 7
	c.Cell.Segments = 2
	c.Cell.SegmentSize = 20
	c.Cell.Cancer.DivisionRate = 0.3
	c.Cell.Cancer.MaxBirthRate = 0.6
	c.Cell.Cancer.DispersalRate = 0.2
	c.Cell.Cancer.MutationRate = 0.2
	c.Selection.DriverEffects = 0.01
	c.Selection.ResistantEffects = 0.01
	c.Spatial.GridSize = 5
	c.Deme.Overflow = constants.OverflowDisplace
	c.Store.Driver = ""
	c.Export.Driver = ""
	return c
}

// GrowingFraction returns the share of steps whose cancer population did
// not shrink relative to the previous step.
func GrowingFraction(steps []StepResult) float64 {
	if len(steps) < 2 {
		return 0
	}
	grew := 0
	for i := 1; i < len(steps); i++ {
		if steps[i].CancerCells >= steps[i-1].CancerCells {
			grew++
		}
	}
	return float64(grew) / float64(len(steps)-1)
}
