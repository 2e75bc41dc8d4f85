package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/evoforge/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Workflow configuration tools",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the workflow config and report every problem",
	RunE: func(cmd *cobra.Command, args []string) error {
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
			return err
		}

		errs := config.Validate(cfg)
		if len(errs) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "Config OK: %d phases, %d workers.\n",
				len(cfg.Workflow.Phases), len(cfg.Workflow.Workers))
			return nil
		}
		for _, e := range errs {
			fmt.Fprintf(cmd.OutOrStdout(), "- %s\n", e.Error())
		}
		return fmt.Errorf("%d validation errors", len(errs))
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
}
