package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nvandessel/tumorevo/internal/config"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and print the effective values",
		Long: `Validate loads the config file and environment overrides, checks every
parameter and prints the configuration a run would use. Credentials are
redacted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				if jsonOut {
					_ = writeJSON(cmd.OutOrStdout(), map[string]any{"valid": false, "error": err.Error()})
				}
				return fmt.Errorf("invalid config: %w", err)
			}

			shown := redacted(cfg)
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"valid": true, "config": shown})
			}
			out, err := yaml.Marshal(shown)
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# config is valid\n%s", out)
			return nil
		},
	}
}

// redacted returns a copy of cfg safe to print.
func redacted(cfg *config.SimConfig) config.SimConfig {
	c := *cfg
	c.Export.SecretAccessKey = c.Export.RedactedSecret()
	if c.Store.DSN != "" {
		c.Store.DSN = "(set)"
	}
	return c
}
