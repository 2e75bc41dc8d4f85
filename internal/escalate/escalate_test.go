package escalate

import (
	"strings"
	"testing"
	"time"

	"github.com/lucasnoah/evoforge/internal/gate"
)

func failedGate() *gate.Result {
	return &gate.Result{
		Gate:    "tests_pass",
		Passed:  false,
		Message: "test suite failed (exit 1)",
		Details: map[string]string{"exit_code": "1"},
	}
}

func TestHandleGateFailureActionSequence(t *testing.T) {
	m := NewManager(3, time.Minute)
	state := NewState()

	// Tier-1 order: retry, switch worker, retry with hint, then human.
	want := []Action{ActionRetry, ActionSwitchWorker, ActionRetryWithHint, ActionEscalateToHuman}
	for i, expected := range want {
		got := m.HandleGateFailure("impl", failedGate(), state)
		if got != expected {
			t.Fatalf("attempt %d: expected %s, got %s", i, expected, got)
		}
		state.Record(got)
	}

	if state.Tier != Tier2 {
		t.Errorf("expected tier 2 after escalation, got %d", state.Tier)
	}
	// Once in tier 2, the answer never changes.
	if got := m.HandleGateFailure("impl", failedGate(), state); got != ActionEscalateToHuman {
		t.Errorf("tier-2 state should keep escalating, got %s", got)
	}
}

func TestHandleGateFailureIsPure(t *testing.T) {
	m := NewManager(3, time.Minute)
	state := NewState()
	state.Attempts = 1

	first := m.HandleGateFailure("impl", failedGate(), state)
	second := m.HandleGateFailure("impl", failedGate(), state)
	if first != second {
		t.Errorf("same inputs gave different actions: %s vs %s", first, second)
	}
	if state.Attempts != 1 || len(state.History) != 0 {
		t.Error("HandleGateFailure must not mutate state")
	}
}

func TestHandleGateFailureRespectsMaxRetries(t *testing.T) {
	m := NewManager(1, time.Minute)
	state := NewState()

	if got := m.HandleGateFailure("impl", failedGate(), state); got != ActionRetry {
		t.Fatalf("first action should be retry, got %s", got)
	}
	state.Record(ActionRetry)

	if got := m.HandleGateFailure("impl", failedGate(), state); got != ActionEscalateToHuman {
		t.Errorf("expected escalation after max retries, got %s", got)
	}
}

func TestHandleWorkerFailureCrashEscalates(t *testing.T) {
	m := NewManager(3, time.Minute)
	state := NewState()

	if got := m.HandleWorkerFailure("impl", true, state); got != ActionEscalateToHuman {
		t.Errorf("crash should escalate immediately, got %s", got)
	}
	if got := m.HandleWorkerFailure("impl", false, state); got != ActionRetry {
		t.Errorf("timeout should retry, got %s", got)
	}
}

func TestStateRecord(t *testing.T) {
	state := NewState()
	state.Record(ActionRetry)
	state.Record(ActionSwitchWorker)

	if state.Attempts != 2 {
		t.Errorf("expected 2 attempts consumed, got %d", state.Attempts)
	}
	if len(state.History) != 2 {
		t.Errorf("expected 2 history entries, got %d", len(state.History))
	}

	state.Record(ActionEscalateToHuman)
	if state.Tier != Tier2 {
		t.Error("escalate_to_human should move state to tier 2")
	}
	if state.Attempts != 2 {
		t.Error("escalation itself should not consume a tier-1 attempt")
	}

	state.Reset()
	if state.Attempts != 0 || state.Tier != Tier1 || state.History != nil {
		t.Errorf("reset did not restore phase-start state: %+v", state)
	}
}

func TestHint(t *testing.T) {
	hint := Hint(failedGate())
	if !strings.Contains(hint, "tests_pass") {
		t.Errorf("hint should name the gate, got %q", hint)
	}
	if !strings.Contains(hint, "exit_code: 1") {
		t.Errorf("hint should include details, got %q", hint)
	}
	if Hint(nil) != "" {
		t.Error("nil gate result should produce empty hint")
	}
}
