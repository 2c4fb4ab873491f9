// Package store defines the TraceStore interface for persisting simulation
// runs: their metadata, per-step genotype counts, lineage and recorded
// spatial snapshots.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/nvandessel/tumorevo/internal/genome"
	"github.com/nvandessel/tumorevo/internal/modes"
	"github.com/nvandessel/tumorevo/internal/tumor"
)

// Run status values.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// Run describes one simulation run.
type Run struct {
	ID        string    `json:"id"`
	Mode      string    `json:"mode"`
	Seed      uint64    `json:"seed"`
	Steps     int       `json:"steps"`
	// GridSize is the side of the deme grid, 0 for nonspatial runs.
	GridSize  int       `json:"grid_size"`
	Config    string    `json:"config,omitempty"` // JSON-encoded effective config
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`

	FinishedAt *time.Time `json:"finished_at,omitempty"`
	FinalStep  int        `json:"final_step"`
	Kills      int        `json:"kills"`
	// Target is the treated site as "segment:position", empty if untreated.
	Target string `json:"target,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Result is written when a run ends.
type Result struct {
	Status    string
	FinalStep int
	Kills     int
	Target    string
	Error     string
}

// TraceStore defines the interface for storing and querying simulation runs.
type TraceStore interface {
	// Run operations
	CreateRun(ctx context.Context, run Run) error
	FinishRun(ctx context.Context, id string, res Result) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context) ([]Run, error)

	// AppendTraces stores genotype counts per step. Re-appending a step
	// overwrites its counts.
	AppendTraces(ctx context.Context, runID string, traces []modes.Trace) error

	// SaveSnapshot upserts lineage and stores the grid and per-deme counts
	// of one recorded step.
	SaveSnapshot(ctx context.Context, runID string, snap tumor.Snapshot) error

	LoadTraces(ctx context.Context, runID string) ([]modes.Trace, error)
	LoadParents(ctx context.Context, runID string) (map[genome.GenotypeID]genome.GenotypeID, error)
	LoadSnapshot(ctx context.Context, runID string, step int) (*tumor.Snapshot, error)
	SnapshotSteps(ctx context.Context, runID string) ([]int, error)

	Close() error
}
