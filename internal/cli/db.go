package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Run-history database management",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()
		fmt.Fprintln(cmd.OutOrStdout(), "Schema up to date.")
		return nil
	},
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the database (destructive!)",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()
		if err := database.Reset(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Database reset.")
		return nil
	},
}

var dbHistoryCmd = &cobra.Command{
	Use:   "history <project>",
	Short: "Show past pipeline runs for a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		runs, err := database.RunHistory(args[0])
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-38s %-10s %-20s %s\n", "JOB", "STATUS", "STARTED", "ERROR")
		fmt.Fprintf(w, "%-38s %-10s %-20s %s\n",
			strings.Repeat("-", 38), strings.Repeat("-", 10), strings.Repeat("-", 20), strings.Repeat("-", 5))
		for _, r := range runs {
			fmt.Fprintf(w, "%-38s %-10s %-20s %s\n", r.JobID, r.Status, r.StartedAt, r.Error)
		}
		return nil
	},
}

var dbGatesCmd = &cobra.Command{
	Use:   "gates <project> [phase]",
	Short: "Show failing gates, or a phase's full gate history",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		if len(args) == 2 {
			runs, err := database.GateHistory(args[0], args[1])
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No gate runs recorded.")
				return nil
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-8s %-14s %-8s %s\n", "ATTEMPT", "GATE", "PASSED", "MESSAGE")
			for _, g := range runs {
				fmt.Fprintf(w, "%-8d %-14s %-8t %s\n", g.Attempt, g.Gate, g.Passed, g.Message)
			}
			return nil
		}

		failed, err := database.LatestFailedGates(args[0])
		if err != nil {
			return err
		}
		if len(failed) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No failing gates.")
			return nil
		}
		for _, g := range failed {
			fmt.Fprintf(cmd.OutOrStdout(), "%s (attempt %d, %s): %s\n", g.Phase, g.Attempt, g.Gate, g.Message)
		}
		return nil
	},
}

var dbEventsCmd = &cobra.Command{
	Use:   "events <project>",
	Short: "Show a project's recorded events across all runs, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		events, err := database.EventHistory(args[0])
		if err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No events recorded.")
			return nil
		}
		for _, e := range events {
			line := fmt.Sprintf("%s [%s]", e.Timestamp, e.Event)
			if e.Phase != "" {
				line += " " + e.Phase
			}
			if e.Data != "" && e.Data != "{}" && e.Data != "null" {
				line += " " + e.Data
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		return nil
	},
}

var dbActiveCmd = &cobra.Command{
	Use:   "active",
	Short: "Show pipeline runs still marked running",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		runs, err := database.ActiveRuns()
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No active runs.")
			return nil
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-38s %-16s %s\n", "JOB", "PROJECT", "STARTED")
		for _, r := range runs {
			fmt.Fprintf(w, "%-38s %-16s %s\n", r.JobID, r.Project, r.StartedAt)
		}
		return nil
	},
}

func init() {
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbResetCmd)
	dbCmd.AddCommand(dbHistoryCmd)
	dbCmd.AddCommand(dbGatesCmd)
	dbCmd.AddCommand(dbEventsCmd)
	dbCmd.AddCommand(dbActiveCmd)
}
