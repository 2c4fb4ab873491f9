package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded runs",
	}
	cmd.AddCommand(newRunsListCmd(), newRunsShowCmd(), newRunsCheckCmd(), newRunsDeleteCmd())
	return cmd
}

func newRunsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ts, err := requireStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer ts.Close()

			runs, err := ts.ListRuns(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"runs": runs, "count": len(runs)})
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tMODE\tSEED\tSTEP\tSTATUS\tCREATED")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d/%d\t%s\t%s\n",
					r.ID, r.Mode, r.Seed, r.FinalStep, r.Steps, r.Status, r.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func newRunsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ts, err := requireStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer ts.Close()

			run, err := ts.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			steps, err := ts.SnapshotSteps(cmd.Context(), run.ID)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"run": run, "snapshot_steps": steps})
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Run %s\n", run.ID)
			fmt.Fprintf(w, "  mode:     %s (seed %d)\n", run.Mode, run.Seed)
			fmt.Fprintf(w, "  status:   %s at step %d of %d\n", run.Status, run.FinalStep, run.Steps)
			fmt.Fprintf(w, "  created:  %s\n", run.CreatedAt.Format(time.RFC3339))
			if run.FinishedAt != nil {
				fmt.Fprintf(w, "  finished: %s\n", run.FinishedAt.Format(time.RFC3339))
			}
			if run.Target != "" {
				fmt.Fprintf(w, "  treated:  site %s, %d kills\n", run.Target, run.Kills)
			}
			if run.Error != "" {
				fmt.Fprintf(w, "  error:    %s\n", run.Error)
			}
			fmt.Fprintf(w, "  snapshots: %v\n", steps)
			return nil
		},
	}
}

func newRunsCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <run-id>",
		Short: "Check the stored lineage of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ts, err := requireStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer ts.Close()

			if _, err := ts.GetRun(cmd.Context(), args[0]); err != nil {
				return err
			}
			issues, err := ts.ValidateLineage(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				if err := writeJSON(cmd.OutOrStdout(), map[string]any{"valid": len(issues) == 0, "issues": issues}); err != nil {
					return err
				}
			} else if len(issues) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Lineage is valid.")
			} else {
				for _, issue := range issues {
					fmt.Fprintln(cmd.OutOrStdout(), issue.String())
				}
			}
			if len(issues) > 0 {
				return fmt.Errorf("%d lineage issues", len(issues))
			}
			return nil
		},
	}
}

func newRunsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a run and everything recorded for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ts, err := requireStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer ts.Close()

			if err := ts.DeleteRun(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", args[0])
			return nil
		},
	}
}
