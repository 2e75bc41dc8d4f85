package phase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lucasnoah/evoforge/internal/config"
	"github.com/lucasnoah/evoforge/internal/escalate"
	"github.com/lucasnoah/evoforge/internal/event"
	"github.com/lucasnoah/evoforge/internal/gate"
	"github.com/lucasnoah/evoforge/internal/verify"
	"github.com/lucasnoah/evoforge/internal/worker"
)

// scriptedCmd returns queued exit codes in order; 0 once the queue is empty.
type scriptedCmd struct {
	mu    sync.Mutex
	exits []int
	calls []string
}

func (s *scriptedCmd) Run(ctx context.Context, dir, command string) (string, string, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, command)
	if len(s.exits) == 0 {
		return "", "", 0, nil
	}
	code := s.exits[0]
	s.exits = s.exits[1:]
	if code != 0 {
		return "", "assertion failed: got 3, want 5", code, nil
	}
	return "ok", "", 0, nil
}

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) OnEvent(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) sequence() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = string(e.Type) + "(" + e.PhaseID + ")"
	}
	return out
}

func testsPassGate() config.Gate {
	return config.Gate{Type: "tests_pass", Params: map[string]string{"command": "make test"}}
}

func twoPhaseWorkflow() *config.Workflow {
	return &config.Workflow{
		Name: "demo",
		Defaults: config.Defaults{
			Worker:            "main",
			AlternateWorker:   "alt",
			MaxRetries:        3,
			MaxRetriesPerTier: 3,
		},
		Phases: []config.Phase{
			{ID: "a", Name: "Analyze", Type: "research", Worker: "main", Task: "analyze", Gate: testsPassGate()},
			{ID: "b", Name: "Build", Type: "development", Worker: "main", Task: "build", Gate: testsPassGate(), DependsOn: []string{"a"}},
		},
	}
}

func okOutcomes(n int) []*worker.Outcome {
	out := make([]*worker.Outcome, n)
	for i := range out {
		out[i] = &worker.Outcome{Output: `{"ok":true}`, ExitCode: 0}
	}
	return out
}

func TestOrderDeclarationOrder(t *testing.T) {
	phases := []config.Phase{
		{ID: "c", DependsOn: []string{"a"}},
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
	}
	ordered, err := Order(phases)
	if err != nil {
		t.Fatal(err)
	}
	got := []string{ordered[0].ID, ordered[1].ID, ordered[2].ID}
	// a unblocks both; c was declared before b so c runs first.
	want := []string{"a", "c", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestOrderRejectsCycle(t *testing.T) {
	phases := []config.Phase{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"a"}},
	}
	if _, err := Order(phases); err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestOrderRejectsUndefinedDependency(t *testing.T) {
	phases := []config.Phase{{ID: "a", DependsOn: []string{"ghost"}}}
	if _, err := Order(phases); err == nil {
		t.Fatal("expected undefined dependency error")
	}
}

// Phase A passes first try; phase B's gate fails twice, recovers through
// retry and a worker switch, and passes on the third attempt.
func TestRunRecoverySequence(t *testing.T) {
	cfg := twoPhaseWorkflow()
	main := worker.NewFake(okOutcomes(3)...)
	alt := worker.NewFake(okOutcomes(1)...)
	cmd := &scriptedCmd{exits: []int{0, 1, 1, 0}}
	rec := &recorder{}

	o := New(cfg, Deps{
		Workers:  map[string]worker.Worker{"main": main, "alt": alt},
		Gates:    gate.NewRunner(cmd),
		Listener: rec,
	})

	results, err := o.Run(context.Background(), "", t.TempDir())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []string{
		"phase_started(a)",
		"phase_completed(a)",
		"phase_started(b)",
		"gate_failed(b)",
		"escalation_triggered(b)",
		"gate_failed(b)",
		"escalation_triggered(b)",
		"phase_completed(b)",
	}
	got := rec.sequence()
	if len(got) != len(want) {
		t.Fatalf("event sequence = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event[%d] = %s, want %s (full: %v)", i, got[i], want[i], got)
		}
	}

	b := results["b"]
	if b == nil || !b.Success {
		t.Fatalf("phase b result = %+v", b)
	}
	if b.Attempts != 3 {
		t.Errorf("phase b attempts = %d, want 3", b.Attempts)
	}
	// Second recovery switched to the alternate worker.
	if b.Worker != "alt" {
		t.Errorf("phase b final worker = %q, want alt", b.Worker)
	}
	if alt.CallCount() != 1 {
		t.Errorf("alternate worker calls = %d, want 1", alt.CallCount())
	}
}

// A persistently failing gate burns retry, switch, and hint, then escalates;
// with no interactive decider the phase aborts and later phases never run.
func TestRunFailFast(t *testing.T) {
	cfg := twoPhaseWorkflow()
	cfg.Phases = append(cfg.Phases, config.Phase{
		ID: "c", Name: "Later", Type: "development", Worker: "main", Task: "later",
		Gate: testsPassGate(), DependsOn: []string{"b"},
	})
	main := worker.NewFake(okOutcomes(6)...)
	alt := worker.NewFake(okOutcomes(6)...)
	cmd := &scriptedCmd{exits: []int{0, 1, 1, 1, 1}}
	rec := &recorder{}

	o := New(cfg, Deps{
		Workers:  map[string]worker.Worker{"main": main, "alt": alt},
		Gates:    gate.NewRunner(cmd),
		Listener: rec,
	})

	results, err := o.Run(context.Background(), "", t.TempDir())
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) || exhausted.Phase != "b" {
		t.Fatalf("expected ExhaustedError for phase b, got %v", err)
	}
	if results["a"] == nil || !results["a"].Success {
		t.Error("phase a should have completed before the failure")
	}
	if _, ran := results["c"]; ran {
		t.Error("phase c must not run after b exhausts recovery")
	}
	for _, s := range rec.sequence() {
		if s == "phase_started(c)" {
			t.Error("phase c was started despite fail-fast")
		}
	}

	// The hinted retry carried the gate failure details to the worker.
	if alt.CallCount() != 2 {
		t.Fatalf("alternate worker calls = %d, want 2", alt.CallCount())
	}
	hinted := alt.Calls[1]
	if !strings.Contains(hinted.Feedback, "quality gate failed") {
		t.Errorf("hinted retry feedback = %q, want gate failure details", hinted.Feedback)
	}
}

// A crashed worker is not retryable: the first failure escalates immediately.
func TestRunWorkerCrashEscalates(t *testing.T) {
	cfg := twoPhaseWorkflow()
	cfg.Phases = cfg.Phases[:1]
	main := worker.NewFake(&worker.Outcome{ExitCode: 9, Crashed: true})
	rec := &recorder{}

	o := New(cfg, Deps{
		Workers:  map[string]worker.Worker{"main": main},
		Gates:    gate.NewRunner(&scriptedCmd{}),
		Listener: rec,
	})

	_, err := o.Run(context.Background(), "", t.TempDir())
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if main.CallCount() != 1 {
		t.Errorf("crashed worker was retried: %d calls", main.CallCount())
	}

	var action string
	for _, e := range rec.events {
		if e.Type == event.EscalationTriggered {
			action = e.Data["action"]
		}
		if e.Type == event.GateFailed {
			t.Error("crash must not emit gate_failed")
		}
	}
	if action != string(escalate.ActionEscalateToHuman) {
		t.Errorf("escalation action = %q, want escalate_to_human", action)
	}
}

// Verification failure re-invokes the worker with the judge's feedback
// embedded verbatim, then succeeds.
func TestRunVerificationFeedbackLoop(t *testing.T) {
	cfg := twoPhaseWorkflow()
	cfg.Phases = []config.Phase{{
		ID: "a", Name: "Write", Type: "development", Worker: "main", Task: "write",
		Intent:  "handles errors",
		Outputs: []string{worker.OutputFile},
		Gate:    config.Gate{Type: "files_exist"},
		Verify:  true,
	}}
	main := worker.NewFake(okOutcomes(2)...)
	judge := worker.NewFake(
		&worker.Outcome{Output: `{"success":false,"feedback":"missing error handling in parser"}`},
		&worker.Outcome{Output: `{"success":true}`},
	)
	rec := &recorder{}

	o := New(cfg, Deps{
		Workers:  map[string]worker.Worker{"main": main},
		Gates:    gate.NewRunner(&scriptedCmd{}),
		Verifier: verify.NewAgent(judge, time.Minute),
		Listener: rec,
	})

	results, err := o.Run(context.Background(), "", t.TempDir())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	a := results["a"]
	if a == nil || !a.Success {
		t.Fatalf("phase a result = %+v", a)
	}
	if main.CallCount() != 2 {
		t.Fatalf("worker calls = %d, want 2", main.CallCount())
	}
	if fb := main.Calls[1].Feedback; !strings.Contains(fb, "missing error handling in parser") {
		t.Errorf("retry feedback = %q, want verbatim judge feedback", fb)
	}

	failures := 0
	for _, e := range rec.events {
		if e.Type == event.VerificationFailed {
			failures++
		}
	}
	if failures != 1 {
		t.Errorf("verification_failed events = %d, want 1", failures)
	}
}

type gateLogRecorder struct {
	mu   sync.Mutex
	rows []string
}

func (g *gateLogRecorder) LogGateRun(project, phase string, attempt int, gateName string, passed bool, message, details string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rows = append(g.rows, fmt.Sprintf("%s/%s#%d %s passed=%t", project, phase, attempt, gateName, passed))
	return nil
}

// Every gate check lands in the run-history recorder, passes included.
func TestRunRecordsGateRuns(t *testing.T) {
	cfg := twoPhaseWorkflow()
	main := worker.NewFake(okOutcomes(4)...)
	alt := worker.NewFake(okOutcomes(4)...)
	cmd := &scriptedCmd{exits: []int{0, 1, 1, 0}}
	gateLog := &gateLogRecorder{}

	o := New(cfg, Deps{
		Workers: map[string]worker.Worker{"main": main, "alt": alt},
		Gates:   gate.NewRunner(cmd),
		GateLog: gateLog,
	})

	if _, err := o.Run(context.Background(), "webapp", t.TempDir()); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"webapp/a#1 tests_pass passed=true",
		"webapp/b#1 tests_pass passed=false",
		"webapp/b#2 tests_pass passed=false",
		"webapp/b#3 tests_pass passed=true",
	}
	if len(gateLog.rows) != len(want) {
		t.Fatalf("gate rows = %v, want %v", gateLog.rows, want)
	}
	for i := range want {
		if gateLog.rows[i] != want[i] {
			t.Fatalf("row[%d] = %s, want %s", i, gateLog.rows[i], want[i])
		}
	}
}

type scriptedDecider struct {
	decisions []escalate.Decision
}

func (d *scriptedDecider) Decide(context.Context, string, string, *gate.Result) (escalate.Decision, error) {
	if len(d.decisions) == 0 {
		return escalate.DecisionAbort, nil
	}
	next := d.decisions[0]
	d.decisions = d.decisions[1:]
	return next, nil
}

// A resume decision grants a fresh tier-1 budget on the primary worker.
func TestRunResumeResetsBudget(t *testing.T) {
	cfg := twoPhaseWorkflow()
	cfg.Phases = cfg.Phases[:1]
	cfg.Defaults.MaxRetriesPerTier = 1
	main := worker.NewFake(okOutcomes(8)...)
	alt := worker.NewFake(okOutcomes(8)...)
	cmd := &scriptedCmd{exits: []int{1, 1, 1, 1, 1, 1, 1, 1}}

	o := New(cfg, Deps{
		Workers: map[string]worker.Worker{"main": main, "alt": alt},
		Gates:   gate.NewRunner(cmd),
		Decider: &scriptedDecider{decisions: []escalate.Decision{escalate.DecisionResume}},
	})

	_, err := o.Run(context.Background(), "", t.TempDir())
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	// retry, escalate(resume), retry, escalate(abort): four worker invocations.
	if got := main.CallCount() + alt.CallCount(); got != 4 {
		t.Errorf("total worker calls = %d, want 4", got)
	}
}
