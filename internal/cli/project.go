package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/evoforge/internal/project"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage evolution projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create <name> [path]",
	Short: "Register a new project",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) > 1 {
			path = args[1]
		} else {
			wd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("get working directory: %w", err)
			}
			path = wd
		}

		store, err := project.DefaultStore()
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		p, err := store.Create(args[0], path)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created project %s (%s) at %s\n", p.Name, p.Status, p.Path)
		return nil
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := project.DefaultStore()
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}

		statusFilter, _ := cmd.Flags().GetString("status")
		projects, err := store.List(project.Status(statusFilter))
		if err != nil {
			return fmt.Errorf("list projects: %w", err)
		}

		if len(projects) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No projects found.")
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-20s %-12s %-40s %s\n", "NAME", "STATUS", "PATH", "UPDATED")
		fmt.Fprintf(w, "%-20s %-12s %-40s %s\n",
			strings.Repeat("-", 20),
			strings.Repeat("-", 12),
			strings.Repeat("-", 40),
			strings.Repeat("-", 7))
		for _, p := range projects {
			fmt.Fprintf(w, "%-20s %-12s %-40s %s\n", p.Name, p.Status, p.Path, p.UpdatedAt)
		}
		return nil
	},
}

var projectStatusCmd = &cobra.Command{
	Use:   "status <name>",
	Short: "Show detailed project status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := project.DefaultStore()
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}

		p, err := store.Get(args[0])
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Project %s\n", p.Name)
		fmt.Fprintf(w, "  Status:  %s\n", p.Status)
		fmt.Fprintf(w, "  Path:    %s\n", p.Path)
		if p.Error != "" {
			fmt.Fprintf(w, "  Error:   %s\n", p.Error)
		}
		fmt.Fprintf(w, "  Created: %s\n", p.CreatedAt)
		fmt.Fprintf(w, "  Updated: %s\n", p.UpdatedAt)
		return nil
	},
}

func init() {
	projectListCmd.Flags().String("status", "", "filter by status")
	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectStatusCmd)
}
