package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/evoforge/internal/db"
	"github.com/lucasnoah/evoforge/internal/escalate"
	"github.com/lucasnoah/evoforge/internal/event"
	"github.com/lucasnoah/evoforge/internal/gate"
	"github.com/lucasnoah/evoforge/internal/job"
	"github.com/lucasnoah/evoforge/internal/project"
)

var (
	runForce         bool
	runAutoIntegrate bool
)

var runCmd = &cobra.Command{
	Use:   "run <project>",
	Short: "Run the full pipeline for a project",
	Long: `Run executes every phase of the workflow against the project's source
tree, then deploys the result to the test environment and validates it.
With --auto-integrate a passing validation is promoted to production.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadWorkflow()
		if err != nil {
			return err
		}
		store, err := project.DefaultStore()
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		database, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		workers := job.BuildWorkers(cfg)
		runner := &job.PipelineRunner{
			Config:   cfg,
			Store:    store,
			Workers:  workers,
			Gates:    gate.NewRunner(&gate.ExecRunner{}),
			Verifier: job.BuildVerifier(cfg, workers),
			Decider:  escalate.AutoAbort{},
			GateLog:  database,
			Progress: cmd.ErrOrStderr(),
		}
		manager := job.NewManager(runner, heartbeatInterval(cfg.Defaults.HeartbeatInterval), database)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		j, err := manager.Start(args[0], job.RunOpts{
			Force:         runForce,
			AutoIntegrate: runAutoIntegrate,
		})
		if err != nil {
			return err
		}
		go func() {
			<-ctx.Done()
			_ = manager.Cancel(j.ID)
		}()

		// Follow the event stream to completion.
		out := cmd.OutOrStdout()
		offset := 0
		for {
			events, open := j.Log.WaitAfter(context.Background(), offset)
			for _, e := range events {
				fmt.Fprintln(out, formatEvent(e))
			}
			offset += len(events)
			if !open {
				break
			}
		}

		info := j.Snapshot()
		switch {
		case info.Status == job.StatusCompleted:
			fmt.Fprintf(out, "Run %s completed.\n", j.ID)
			return nil
		case info.Error == "cancelled":
			return fmt.Errorf("run cancelled")
		default:
			return fmt.Errorf("run failed: %s", info.Error)
		}
	},
}

func formatEvent(e event.Event) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s]", e.Timestamp.Format(time.TimeOnly), e.Type)
	if e.PhaseID != "" {
		fmt.Fprintf(&sb, " %s", e.PhaseID)
	}
	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%s", k, e.Data[k])
	}
	return sb.String()
}

func heartbeatInterval(s string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return 20 * time.Second
}

func openDatabase() (*db.DB, error) {
	path, err := db.DefaultDBPath()
	if err != nil {
		return nil, err
	}
	database, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

func init() {
	runCmd.Flags().BoolVar(&runForce, "force", false, "re-run an already integrated project")
	runCmd.Flags().BoolVar(&runAutoIntegrate, "auto-integrate", false, "promote to production when validation passes")
}
