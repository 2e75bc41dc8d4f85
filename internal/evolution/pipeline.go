package evolution

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/lucasnoah/evoforge/internal/config"
	"github.com/lucasnoah/evoforge/internal/event"
	"github.com/lucasnoah/evoforge/internal/project"
)

// Options controls a pipeline execution.
type Options struct {
	// AutoIntegrate promotes to production immediately after validation
	// passes. When false the project stops at deployed and can be
	// integrated later.
	AutoIntegrate bool
}

// Deps wires the pipeline's collaborators. Nil stage implementations are
// built from the workflow's environments with a real command runner.
type Deps struct {
	Store      *project.Store
	Deployer   *Deployer
	Validator  *Validator
	Integrator *Integrator
	Listener   event.Listener
	Progress   io.Writer
}

// Pipeline drives a ready project through deploy, validate, and integrate,
// keeping the project's status in lockstep with each stage.
type Pipeline struct {
	cfg        *config.Workflow
	store      *project.Store
	deployer   *Deployer
	validator  *Validator
	integrator *Integrator
	listener   event.Listener
	progress   io.Writer
}

// NewPipeline creates a Pipeline for the given workflow.
func NewPipeline(cfg *config.Workflow, deps Deps) *Pipeline {
	pl := &Pipeline{
		cfg:        cfg,
		store:      deps.Store,
		deployer:   deps.Deployer,
		validator:  deps.Validator,
		integrator: deps.Integrator,
		listener:   deps.Listener,
		progress:   deps.Progress,
	}
	cmd := &ExecRunner{}
	if pl.deployer == nil {
		pl.deployer = NewDeployer(cfg.Environments, cmd)
	}
	if pl.validator == nil {
		pl.validator = NewValidator(cfg.Environments, cmd)
	}
	if pl.integrator == nil {
		pl.integrator = NewIntegrator(cfg.Environments, cmd)
	}
	if pl.listener == nil {
		pl.listener = event.Discard
	}
	if pl.progress == nil {
		pl.progress = io.Discard
	}
	return pl
}

// Execute runs the staged deployment for a project whose phases completed
// (status ready). On validation failure the test environment is rolled back
// to baseline and the project is marked failed.
func (pl *Pipeline) Execute(ctx context.Context, projectName string, opts Options) error {
	p, err := pl.store.Get(projectName)
	if err != nil {
		return err
	}

	// Deploy to the test environment.
	pl.step(event.StepStarted, "deploy", nil)
	dres, err := pl.deployer.Deploy(ctx, p.Path)
	if err != nil {
		return pl.fail(projectName, fmt.Sprintf("deploy failed: %v", err))
	}
	if err := pl.store.Transition(projectName, project.StatusDeployed); err != nil {
		return err
	}
	pl.step(event.StepCompleted, "deploy", map[string]string{
		"files_copied": strconv.Itoa(dres.FilesCopied),
	})
	pl.logf("deployed %d files to test env", dres.FilesCopied)

	// Validate against the test environment.
	if err := pl.store.Transition(projectName, project.StatusValidating); err != nil {
		return err
	}
	pl.step(event.StepStarted, "validate", nil)
	vres, err := pl.validator.Validate(ctx)
	if err != nil {
		pl.rollback(ctx)
		return pl.fail(projectName, fmt.Sprintf("validation error: %v", err))
	}
	if !vres.Passed {
		pl.rollback(ctx)
		return pl.fail(projectName, "validation failed: "+vres.Failure())
	}
	if err := pl.store.Transition(projectName, project.StatusDeployed); err != nil {
		return err
	}
	pl.step(event.StepCompleted, "validate", map[string]string{
		"suites": strconv.Itoa(len(vres.Suites)),
	})
	pl.logf("validation passed (%d suites)", len(vres.Suites))

	if !opts.AutoIntegrate {
		pl.logf("stopping at deployed; integrate later to promote")
		return nil
	}
	return pl.integrate(ctx, projectName)
}

// Integrate promotes an already-validated, deployed project to production.
func (pl *Pipeline) Integrate(ctx context.Context, projectName string) error {
	p, err := pl.store.Get(projectName)
	if err != nil {
		return err
	}
	if p.Status != project.StatusDeployed {
		return fmt.Errorf("project %q is %s, only deployed projects can integrate", projectName, p.Status)
	}
	return pl.integrate(ctx, projectName)
}

func (pl *Pipeline) integrate(ctx context.Context, projectName string) error {
	pl.step(event.StepStarted, "integrate", nil)
	ires, err := pl.integrator.Integrate(ctx, pl.cfg.Environments.Test.Path)
	if err != nil {
		return pl.fail(projectName, fmt.Sprintf("integration failed: %v", err))
	}
	if err := pl.store.Transition(projectName, project.StatusIntegrated); err != nil {
		return err
	}
	pl.step(event.StepCompleted, "integrate", map[string]string{
		"backup_id":    ires.BackupID,
		"files_copied": strconv.Itoa(ires.FilesCopied),
	})
	pl.logf("integrated to production (snapshot %s)", ires.BackupID)
	return nil
}

// rollback returns the test environment to baseline, best effort.
func (pl *Pipeline) rollback(ctx context.Context) {
	if err := pl.deployer.Rollback(ctx); err != nil {
		pl.logf("rollback failed: %v", err)
	} else {
		pl.logf("test env rolled back to baseline")
	}
}

// fail marks the project failed and returns the failure as an error.
func (pl *Pipeline) fail(projectName, msg string) error {
	_ = pl.store.SetFailed(projectName, msg)
	pl.logf("%s", msg)
	return fmt.Errorf("%s", msg)
}

func (pl *Pipeline) step(t event.Type, name string, extra map[string]string) {
	data := map[string]string{"step": name}
	for k, v := range extra {
		data[k] = v
	}
	pl.listener.OnEvent(event.New(t, "", data))
}

func (pl *Pipeline) logf(format string, args ...interface{}) {
	fmt.Fprintf(pl.progress, format+"\n", args...)
}
