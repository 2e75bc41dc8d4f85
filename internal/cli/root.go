package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/evoforge/internal/config"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var configPath string

var rootCmd = &cobra.Command{
	Use:   "evoforge",
	Short: "Phase-orchestrated software evolution",
	Long: `evoforge runs AI worker processes through configurable phase workflows
with deterministic quality gates, semantic verification, and a staged
deployment pipeline (test env, validation, production).

All state is stored in ~/.evoforge/ (SQLite for run history, JSON for
project records and attempt artifacts).`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "workflow config file (default: ./evolve.yaml, ~/.evoforge/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(integrateCmd)
	rootCmd.AddCommand(phasesCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(dbCmd)
}

// loadWorkflow loads the workflow config from --config or the default
// locations and validates it.
func loadWorkflow() (*config.Workflow, error) {
	var (
		cfg *config.WorkflowConfig
		err error
	)
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, fmt.Errorf("invalid workflow config: %s", errs[0].Error())
	}
	return &cfg.Workflow, nil
}
