package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"riskflow/backend/internal/config"
	"riskflow/backend/internal/graph"
	"riskflow/backend/internal/logging"
	"riskflow/backend/internal/repository"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "riskflow",
		Short:        "Risk and compliance workflow service",
		Long:         "Riskflow runs risk and compliance workflows, tracks their SLAs and escalates breaches.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: ./config.yaml or ./config/config.yaml)")

	rootCmd.AddCommand(newServeCommand(&configPath))
	rootCmd.AddCommand(newMigrateCommand(&configPath))
	rootCmd.AddCommand(newValidateCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, MCP server, step worker and SLA tracker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func newMigrateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger := logging.NewLogger(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

			if err := repository.Migrate(cfg.DSN()); err != nil {
				return err
			}
			logger.Info("database schema up to date", "host", cfg.DB.Host, "db", cfg.DB.Name)
			return nil
		},
	}
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <definition>...",
		Short: "Validate workflow definition files (YAML or JSON)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			invalid := 0
			for _, path := range args {
				def, err := graph.LoadFile(path)
				if err != nil {
					invalid++
					fmt.Fprintf(out, "%s: invalid: %v\n", path, err)
					continue
				}

				steps, err := graph.Linearize(def)
				if err != nil {
					fmt.Fprintf(out, "%s: valid, not executable: %v\n", path, err)
					continue
				}
				fmt.Fprintf(out, "%s: valid, %d steps\n", path, len(steps))
				for _, s := range steps {
					fmt.Fprintf(out, "  %d. %s (%s, %s)\n", s.Position+1, s.ID, s.Kind, s.AssignedRole)
				}
			}
			if invalid > 0 {
				return fmt.Errorf("%d of %d definitions invalid", invalid, len(args))
			}
			return nil
		},
	}
}
