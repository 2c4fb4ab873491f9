package main

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/nvandessel/tumorevo/internal/blob"
	"github.com/nvandessel/tumorevo/internal/export"
	"github.com/nvandessel/tumorevo/internal/modes"
	"github.com/nvandessel/tumorevo/internal/store"
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <run-id>",
		Short: "Re-export a stored run as CSV tables",
		Long: `Export rebuilds the record tables of a stored run from the trace store
and writes them to the configured export target, replacing existing
tables. Per-cell and gene tables are only written by the run itself.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			ts, err := requireStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer ts.Close()

			blobs, err := openBlobs(ctx, cfg)
			if err != nil {
				return err
			}
			if blobs == nil {
				return fmt.Errorf("no export target configured")
			}

			logger := newLogger(cmd, cfg)
			exp := export.New(blobs, cfg.Export.Prefix, args[0], export.WithOverwrite(), export.WithLogger(logger))
			written, err := reexport(ctx, ts, exp, args[0])
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"run": args[0], "tables": written})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d tables to %s\n", len(written), exp.Base())
			return nil
		},
	}
	return cmd
}

// reexport writes one record per stored snapshot. Nonspatial runs store
// no snapshots and get a single record from the last trace.
func reexport(ctx context.Context, ts *store.SQLStore, exp *export.Exporter, runID string) ([]blob.Info, error) {
	run, err := ts.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	mode, err := modes.ParseMode(run.Mode)
	if err != nil {
		return nil, err
	}
	traces, err := ts.LoadTraces(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(traces) == 0 {
		return nil, fmt.Errorf("run %s has no traces", runID)
	}
	parents, err := ts.LoadParents(ctx, runID)
	if err != nil {
		return nil, err
	}

	steps := []int{traces[len(traces)-1].Step}
	if mode.Spatial() {
		if steps, err = ts.SnapshotSteps(ctx, runID); err != nil {
			return nil, err
		}
	}

	var written []blob.Info
	for i, step := range steps {
		upto := slices.IndexFunc(traces, func(tr modes.Trace) bool { return tr.Step > step })
		if upto < 0 {
			upto = len(traces)
		}
		if upto == 0 {
			return nil, fmt.Errorf("run %s has no trace at step %d", runID, step)
		}
		rec := export.Record{
			Index:       i,
			Traces:      traces[:upto],
			Parents:     parents,
			Frequencies: export.FrequenciesFromCounts(traces[upto-1].Counts),
		}
		if mode.Spatial() {
			snap, err := ts.LoadSnapshot(ctx, runID, step)
			if err != nil {
				return nil, err
			}
			rec.Snapshot = snap
		}
		infos, err := exp.WriteRecord(ctx, rec)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		written = append(written, infos...)
	}
	return written, nil
}
