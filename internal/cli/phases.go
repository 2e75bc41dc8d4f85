package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/evoforge/internal/phase"
)

var phasesCmd = &cobra.Command{
	Use:   "phases",
	Short: "Show the workflow's phases in execution order",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadWorkflow()
		if err != nil {
			return err
		}
		ordered, err := phase.Order(cfg.Phases)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Workflow: %s\n\n", cfg.Name)
		fmt.Fprintf(w, "%-4s %-16s %-14s %-12s %-14s %s\n", "#", "PHASE", "TYPE", "WORKER", "GATE", "DEPENDS ON")
		for i, p := range ordered {
			gateType := p.Gate.Type
			if gateType == "" {
				gateType = "-"
			}
			deps := strings.Join(p.DependsOn, ", ")
			if deps == "" {
				deps = "-"
			}
			fmt.Fprintf(w, "%-4d %-16s %-14s %-12s %-14s %s\n", i+1, p.ID, p.Type, p.Worker, gateType, deps)
		}
		return nil
	},
}
