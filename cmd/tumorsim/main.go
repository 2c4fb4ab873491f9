package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/nvandessel/tumorevo/internal/blob"
	"github.com/nvandessel/tumorevo/internal/config"
	"github.com/nvandessel/tumorevo/internal/logging"
	"github.com/nvandessel/tumorevo/internal/store"
	"github.com/spf13/cobra"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tumorsim",
		Short: "Spatial simulation of tumor clonal evolution",
		Long: `tumorsim grows a tumor from a single cancer founder on a grid of demes.

Cells divide, mutate, die and disperse under a genotype-driven selection
model. Runs are recorded to a trace store and exported as CSV tables.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Override the log level (info, debug, trace)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newValidateCmd(),
		newRunsCmd(),
		newExportCmd(),
	)
	return rootCmd
}

// loadConfig resolves the config file, environment overrides and the
// --log-level flag.
func loadConfig(cmd *cobra.Command) (*config.SimConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg *config.SimConfig) *slog.Logger {
	return logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())
}

// openStore opens the configured trace store. It returns nil when
// persistence is disabled.
func openStore(ctx context.Context, cfg *config.SimConfig) (*store.SQLStore, error) {
	switch store.Dialect(cfg.Store.Driver) {
	case "":
		return nil, nil
	case store.DialectSQLite:
		return store.Open(ctx, store.DialectSQLite, cfg.Store.Path)
	case store.DialectPostgres:
		return store.Open(ctx, store.DialectPostgres, cfg.Store.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// requireStore is openStore for commands that cannot work without one.
func requireStore(ctx context.Context, cfg *config.SimConfig) (*store.SQLStore, error) {
	s, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("no trace store configured")
	}
	return s, nil
}

// openBlobs opens the configured export target. It returns nil when
// export is disabled.
func openBlobs(ctx context.Context, cfg *config.SimConfig) (blob.Store, error) {
	if cfg.Export.Driver == "" {
		return nil, nil
	}
	return blob.Open(ctx, cfg.BlobConfig())
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
