// Package simulation assembles and drives tumor runs.
//
// Build wires a validated config into a simulator, and Session runs it in
// recording chunks, persisting traces and snapshots to a trace store and
// exporting CSV tables to a blob store. The cmd/tumorsim run command and
// the scenario harness below share this path.
//
// The harness (Runner, Scenario, Assert*) exercises the real engine, a
// real SQLite trace store and an in-memory blob store with no mocks. Each
// test gets an isolated database via t.TempDir().
//
// Usage:
//
//	func TestTreatmentWindow(t *testing.T) {
//	    r := simulation.NewRunner(t)
//	    result := r.Run(simulation.Scenario{
//	        Name:  "treatment",
//	        Steps: 60,
//	        Configure: func(c *config.SimConfig) {
//	            c.Treatment.Iteration = 20
//	            c.Treatment.Duration = 10
//	        },
//	    })
//	    simulation.AssertTreatmentWindow(t, result, 20, 10)
//	}
package simulation
