package job

import (
	"context"
	"io"
	"time"

	"github.com/lucasnoah/evoforge/internal/config"
	"github.com/lucasnoah/evoforge/internal/escalate"
	"github.com/lucasnoah/evoforge/internal/event"
	"github.com/lucasnoah/evoforge/internal/evolution"
	"github.com/lucasnoah/evoforge/internal/gate"
	"github.com/lucasnoah/evoforge/internal/phase"
	"github.com/lucasnoah/evoforge/internal/project"
	"github.com/lucasnoah/evoforge/internal/verify"
	"github.com/lucasnoah/evoforge/internal/worker"
)

// PipelineRunner is the production Runner: it claims the project, runs the
// phase orchestrator, and hands the result to the staged deployment pipeline.
type PipelineRunner struct {
	Config   *config.Workflow
	Store    *project.Store
	Workers  map[string]worker.Worker
	Gates    *gate.Runner
	Verifier *verify.Agent
	Decider  escalate.Decider
	GateLog  phase.GateRecorder
	Progress io.Writer

	// Evolver overrides the staged deployment stage, for tests.
	Evolver func(ctx context.Context, projectName string, listener event.Listener, autoIntegrate bool) error
}

// Claim performs the trigger pre-checks and takes the project into
// developing. Rejections (busy, already integrated) surface here as the
// store's typed errors, before any job or event exists.
func (r *PipelineRunner) Claim(projectName string, opts RunOpts) error {
	_, err := r.Store.CheckAndStart(projectName, opts.Force)
	return err
}

// Run executes the full pipeline for one claimed project. The phase run and
// the deployment stages all report through the listener.
func (r *PipelineRunner) Run(ctx context.Context, projectName string, opts RunOpts, listener event.Listener) error {
	p, err := r.Store.Get(projectName)
	if err != nil {
		return err
	}

	orch := phase.New(r.Config, phase.Deps{
		Workers:  r.Workers,
		Gates:    r.Gates,
		Verifier: r.Verifier,
		Decider:  r.Decider,
		Listener: listener,
		Store:    r.Store,
		GateLog:  r.GateLog,
		Progress: r.Progress,
	})
	if _, err := orch.Run(ctx, projectName, p.Path); err != nil {
		_ = r.Store.SetFailed(projectName, err.Error())
		return err
	}
	if err := r.Store.Transition(projectName, project.StatusReady); err != nil {
		return err
	}

	if r.Evolver != nil {
		return r.Evolver(ctx, projectName, listener, opts.AutoIntegrate)
	}
	pl := evolution.NewPipeline(r.Config, evolution.Deps{
		Store:    r.Store,
		Listener: listener,
		Progress: r.Progress,
	})
	return pl.Execute(ctx, projectName, evolution.Options{AutoIntegrate: opts.AutoIntegrate})
}

// BuildWorkers constructs process workers from the workflow's worker
// configurations.
func BuildWorkers(cfg *config.Workflow) map[string]worker.Worker {
	workers := make(map[string]worker.Worker, len(cfg.Workers))
	for name, wc := range cfg.Workers {
		workers[name] = &worker.ProcessWorker{
			Command: wc.Command,
			Model:   wc.Model,
			Flags:   wc.Flags,
		}
	}
	return workers
}

// BuildVerifier constructs the verification agent from the configured judge
// worker, or nil when none is configured.
func BuildVerifier(cfg *config.Workflow, workers map[string]worker.Worker) *verify.Agent {
	judge, ok := workers[cfg.Defaults.VerifyWorker]
	if !ok {
		return nil
	}
	timeout := 10 * time.Minute
	if d, err := time.ParseDuration(cfg.Defaults.Timeout); err == nil && d > 0 {
		timeout = d
	}
	return verify.NewAgent(judge, timeout)
}
