package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/evoforge/internal/escalate"
	"github.com/lucasnoah/evoforge/internal/gate"
	"github.com/lucasnoah/evoforge/internal/job"
	"github.com/lucasnoah/evoforge/internal/project"
	"github.com/lucasnoah/evoforge/internal/web"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the JSON API for runs, jobs, and event streams",
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
		hub := escalate.NewHub()
		runner := &job.PipelineRunner{
			Config:   cfg,
			Store:    store,
			Workers:  workers,
			Gates:    gate.NewRunner(&gate.ExecRunner{}),
			Verifier: job.BuildVerifier(cfg, workers),
			Decider:  hub,
			GateLog:  database,
			Progress: cmd.ErrOrStderr(),
		}
		manager := job.NewManager(runner, heartbeatInterval(cfg.Defaults.HeartbeatInterval), database)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return web.NewServer(manager, store, hub, servePort).Start(ctx)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "port to listen on")
}
