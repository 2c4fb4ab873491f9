package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/nvandessel/tumorevo/internal/config"
	"github.com/nvandessel/tumorevo/internal/export"
	"github.com/nvandessel/tumorevo/internal/metrics"
	"github.com/nvandessel/tumorevo/internal/modes"
	"github.com/nvandessel/tumorevo/internal/simulation"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation",
		Long: `Run a simulation from the configured founder for the configured number
of steps. Every recorded chunk is stored and exported; the final record
also carries per-cell data.

Interrupting the run stores it as failed with the steps completed so far.`,
		Example: `  tumorsim run --steps 200 --record-every 50
  tumorsim run --config sim.yaml --mode nonspatial --seed 3
  tumorsim run --treatment-at 100 --treatment-for 50 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			applyRunFlags(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			runID, _ := cmd.Flags().GetString("run-id")
			if runID == "" {
				runID = uuid.NewString()
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			sigCh := make(chan os.Signal, 1)
			notifySignals(sigCh)
			go func() {
				select {
				case <-sigCh:
					cancel()
				case <-ctx.Done():
				}
			}()

			summary, err := runSimulation(ctx, cmd, cfg, runID)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			if printErr := printSummary(cmd, summary); printErr != nil {
				return printErr
			}
			if err != nil {
				return fmt.Errorf("run %s interrupted at step %d", runID, summary.Steps)
			}
			return nil
		},
	}

	cmd.Flags().String("run-id", "", "Run id (default: random UUID)")
	cmd.Flags().String("mode", "", "Simulation mode (nonspatial, invasion)")
	cmd.Flags().Int("steps", 0, "Number of steps")
	cmd.Flags().Uint64("seed", 0, "Random seed")
	cmd.Flags().Int("record-every", 0, "Record every N steps (0 records only the end)")
	cmd.Flags().Int("treatment-at", 0, "Trace count at which treatment starts (1 treats the first step, -1 disables)")
	cmd.Flags().Int("treatment-for", 0, "Treatment duration in steps")
	cmd.Flags().Bool("expression", false, "Export per-cell expression tables")
	return cmd
}

// applyRunFlags overrides config values with explicitly set flags.
func applyRunFlags(cmd *cobra.Command, cfg *config.SimConfig) {
	f := cmd.Flags()
	if f.Changed("mode") {
		cfg.Mode, _ = f.GetString("mode")
	}
	if f.Changed("steps") {
		cfg.Steps, _ = f.GetInt("steps")
	}
	if f.Changed("seed") {
		cfg.Seed, _ = f.GetUint64("seed")
	}
	if f.Changed("record-every") {
		cfg.RecordEvery, _ = f.GetInt("record-every")
	}
	if f.Changed("treatment-at") {
		cfg.Treatment.Iteration, _ = f.GetInt("treatment-at")
	}
	if f.Changed("treatment-for") {
		cfg.Treatment.Duration, _ = f.GetInt("treatment-for")
	}
	if f.Changed("expression") {
		cfg.Export.Expression, _ = f.GetBool("expression")
	}
}

// runSimulation wires the store, exporter, metrics and event log into a
// session and runs it.
func runSimulation(ctx context.Context, cmd *cobra.Command, cfg *config.SimConfig, runID string) (simulation.Summary, error) {
	logger := newLogger(cmd, cfg).With("run", runID)
	events := cfg.EventLogger(runID)
	defer events.Close()

	session := &simulation.Session{
		RunID:  runID,
		Config: cfg,
		Logger: logger,
		Events: events,
	}

	ts, err := openStore(ctx, cfg)
	if err != nil {
		return simulation.Summary{}, err
	}
	if ts != nil {
		defer ts.Close()
		session.Store = ts
	}

	blobs, err := openBlobs(ctx, cfg)
	if err != nil {
		return simulation.Summary{}, err
	}
	if blobs != nil {
		session.Exporter = export.New(blobs, cfg.Export.Prefix, runID, export.WithLogger(logger))
	}

	var observers []modes.Observer
	if cfg.Metrics.Addr != "" {
		rec, err := metrics.NewRecorder(runID)
		if err != nil {
			return simulation.Summary{}, err
		}
		observers = append(observers, rec)

		srvCtx, stop := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := rec.Serve(srvCtx, cfg.Metrics.Addr, logger); err != nil {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
		defer func() {
			stop()
			<-done
		}()
	}

	logger.Info("starting run",
		"mode", cfg.Mode,
		"seed", cfg.Seed,
		"steps", cfg.Steps,
		"grid", cfg.Spatial.GridSize,
		"store", cfg.Store.Driver,
		"export", cfg.Export.String())
	return session.Run(ctx, observers...)
}

func printSummary(cmd *cobra.Command, s simulation.Summary) error {
	jsonOut, _ := cmd.Flags().GetBool("json")
	if jsonOut {
		return writeJSON(cmd.OutOrStdout(), s)
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Run %s (%s, seed %d)\n", s.RunID, s.Mode, s.Seed)
	fmt.Fprintf(w, "  steps:      %d (%d records)\n", s.Steps, s.Records)
	fmt.Fprintf(w, "  cells:      %d total, %d cancer\n", s.TotalCells, s.CancerCells)
	fmt.Fprintf(w, "  genotypes:  %d\n", s.Genotypes)
	if s.OccupiedDemes > 0 {
		fmt.Fprintf(w, "  demes:      %d occupied\n", s.OccupiedDemes)
	}
	if s.Target != "" {
		fmt.Fprintf(w, "  treatment:  site %s, %d kills\n", s.Target, s.Kills)
	}
	fmt.Fprintf(w, "  elapsed:    %s\n", s.Elapsed.Round(time.Millisecond))
	return nil
}
