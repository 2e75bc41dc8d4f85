package evolution

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/lucasnoah/evoforge/internal/config"
	"github.com/lucasnoah/evoforge/internal/event"
	"github.com/lucasnoah/evoforge/internal/project"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *eventRecorder) OnEvent(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) steps() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, string(e.Type)+":"+e.Data["step"])
	}
	return out
}

func pipelineFixture(t *testing.T, cmd CommandRunner) (*Pipeline, *project.Store, config.Environments, *eventRecorder) {
	t.Helper()
	env := testEnvs(t)
	env.Validation = config.Validation{UnitCommand: "run-unit"}

	source := t.TempDir()
	writeFile(t, filepath.Join(source, "feature.py"), "new")

	store := project.NewStore(t.TempDir())
	if _, err := store.Create("webapp", source); err != nil {
		t.Fatal(err)
	}
	for _, to := range []project.Status{project.StatusDeveloping, project.StatusReady} {
		if err := store.Transition("webapp", to); err != nil {
			t.Fatal(err)
		}
	}

	cfg := &config.Workflow{Name: "demo", Environments: env}
	rec := &eventRecorder{}
	pl := NewPipeline(cfg, Deps{
		Store:      store,
		Deployer:   NewDeployer(env, cmd),
		Validator:  NewValidator(env, cmd),
		Integrator: NewIntegrator(env, cmd),
		Listener:   rec,
	})
	return pl, store, env, rec
}

func TestPipelineAutoIntegrate(t *testing.T) {
	cmd := &fakeCmd{}
	pl, store, env, rec := pipelineFixture(t, cmd)

	if err := pl.Execute(context.Background(), "webapp", Options{AutoIntegrate: true}); err != nil {
		t.Fatal(err)
	}

	p, _ := store.Get("webapp")
	if p.Status != project.StatusIntegrated {
		t.Errorf("status = %s, want integrated", p.Status)
	}
	if got := snapshot(t, env.Production.Path); got["feature.py"] != "new" {
		t.Errorf("production = %v, want promoted artifacts", got)
	}

	want := []string{
		"step_started:deploy", "step_completed:deploy",
		"step_started:validate", "step_completed:validate",
		"step_started:integrate", "step_completed:integrate",
	}
	got := rec.steps()
	if len(got) != len(want) {
		t.Fatalf("steps = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("step[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestPipelineStopsAtDeployed(t *testing.T) {
	cmd := &fakeCmd{}
	pl, store, env, rec := pipelineFixture(t, cmd)

	if err := pl.Execute(context.Background(), "webapp", Options{}); err != nil {
		t.Fatal(err)
	}

	p, _ := store.Get("webapp")
	if p.Status != project.StatusDeployed {
		t.Errorf("status = %s, want deployed", p.Status)
	}
	for _, s := range rec.steps() {
		if strings.Contains(s, "integrate") {
			t.Errorf("unexpected integrate step: %v", rec.steps())
		}
	}
	if _, err := os.Stat(env.Production.Path); err != nil {
		t.Fatal(err)
	}
	if got := snapshot(t, env.Production.Path); got["feature.py"] != "" {
		t.Errorf("production touched without auto-integrate: %v", got)
	}

	// A deployed project can be promoted later.
	if err := pl.Integrate(context.Background(), "webapp"); err != nil {
		t.Fatal(err)
	}
	p, _ = store.Get("webapp")
	if p.Status != project.StatusIntegrated {
		t.Errorf("status after integrate = %s, want integrated", p.Status)
	}
}

func TestPipelineValidationFailureRollsBack(t *testing.T) {
	cmd := &fakeCmd{exits: []int{1}} // unit suite fails
	pl, store, env, _ := pipelineFixture(t, cmd)

	err := pl.Execute(context.Background(), "webapp", Options{AutoIntegrate: true})
	if err == nil || !strings.Contains(err.Error(), "validation failed") {
		t.Fatalf("expected validation failure, got %v", err)
	}

	p, _ := store.Get("webapp")
	if p.Status != project.StatusFailed {
		t.Errorf("status = %s, want failed", p.Status)
	}
	if !strings.Contains(p.Error, "validation failed") {
		t.Errorf("error = %q, want validation failure recorded", p.Error)
	}

	// Test env is back to an exact baseline copy; no deployed artifact survives.
	if !sameTree(snapshot(t, env.Test.Path), snapshot(t, env.Baseline)) {
		t.Errorf("test env = %v, want baseline %v", snapshot(t, env.Test.Path), snapshot(t, env.Baseline))
	}

	// Production was never touched.
	if got := snapshot(t, env.Production.Path); got["feature.py"] != "" {
		t.Errorf("production modified on failed validation: %v", got)
	}
}

func TestPipelineIntegrateRejectsWrongStatus(t *testing.T) {
	cmd := &fakeCmd{}
	pl, store, _, _ := pipelineFixture(t, cmd)

	err := pl.Integrate(context.Background(), "webapp")
	if err == nil {
		t.Fatal("expected error integrating a ready project")
	}
	p, _ := store.Get("webapp")
	if p.Status != project.StatusReady {
		t.Errorf("status = %s, want ready unchanged", p.Status)
	}
}
