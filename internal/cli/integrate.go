package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/evoforge/internal/evolution"
	"github.com/lucasnoah/evoforge/internal/project"
)

var integrateCmd = &cobra.Command{
	Use:   "integrate <project>",
	Short: "Promote a validated, deployed project to production",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadWorkflow()
		if err != nil {
			return err
		}
		store, err := project.DefaultStore()
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}

		pl := evolution.NewPipeline(cfg, evolution.Deps{
			Store:    store,
			Progress: cmd.OutOrStdout(),
		})
		if err := pl.Integrate(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Project %s integrated.\n", args[0])
		return nil
	},
}
