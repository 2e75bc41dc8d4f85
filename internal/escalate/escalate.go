package escalate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lucasnoah/evoforge/internal/gate"
)

// Action is the recovery step the orchestrator should take next.
type Action string

const (
	ActionRetry           Action = "retry"
	ActionRetryWithHint   Action = "retry_with_hint"
	ActionSwitchWorker    Action = "switch_worker"
	ActionEscalateToHuman Action = "escalate_to_human"
	ActionAbort           Action = "abort"
)

// Tier identifies which failure-handling tier a phase is in.
type Tier int

const (
	Tier1 Tier = 1 // autonomous recovery
	Tier2 Tier = 2 // suspended for external decision
)

// Decision is the external verdict that unblocks a tier-2 suspension.
type Decision string

const (
	DecisionResume Decision = "resume"
	DecisionAbort  Decision = "abort"
)

// Decider supplies the external decision for a tier-2 escalation. Implementations
// may block (waiting on a human); the context bounds the wait.
type Decider interface {
	Decide(ctx context.Context, projectName, phase string, gateResult *gate.Result) (Decision, error)
}

// AutoAbort is a Decider that always aborts; used when no interactive channel exists.
type AutoAbort struct{}

func (AutoAbort) Decide(context.Context, string, string, *gate.Result) (Decision, error) {
	return DecisionAbort, nil
}

// State tracks recovery progress for one phase within a run.
// Mutated only by the orchestrator through Record; reset at phase start.
type State struct {
	Attempts int
	History  []Action
	Tier     Tier
}

// NewState creates a fresh tier-1 state.
func NewState() *State {
	return &State{Tier: Tier1}
}

// Reset returns the state to its phase-start condition.
func (s *State) Reset() {
	s.Attempts = 0
	s.History = nil
	s.Tier = Tier1
}

// Record notes that an action was taken and consumed an attempt.
func (s *State) Record(a Action) {
	s.History = append(s.History, a)
	switch a {
	case ActionRetry, ActionRetryWithHint, ActionSwitchWorker:
		s.Attempts++
	case ActionEscalateToHuman:
		s.Tier = Tier2
	}
}

// Manager decides recovery actions for gate, verification, and worker failures.
type Manager struct {
	maxRetriesPerTier int
	attemptTimeout    time.Duration
}

// NewManager creates a Manager. maxRetriesPerTier <= 0 defaults to 3.
func NewManager(maxRetriesPerTier int, attemptTimeout time.Duration) *Manager {
	if maxRetriesPerTier <= 0 {
		maxRetriesPerTier = 3
	}
	if attemptTimeout <= 0 {
		attemptTimeout = 30 * time.Minute
	}
	return &Manager{maxRetriesPerTier: maxRetriesPerTier, attemptTimeout: attemptTimeout}
}

// AttemptTimeout bounds a single tier-1 recovery attempt.
func (m *Manager) AttemptTimeout() time.Duration {
	return m.attemptTimeout
}

// HandleGateFailure returns the next recovery action for a failed quality gate.
// Pure given its inputs: it never mutates state (callers Record the action),
// so the decision sequence is deterministic and directly testable.
//
// Tier-1 order: retry unchanged, then retry on the alternate worker
// configuration, then retry with a hint derived from the failure details.
// Once tier-1 attempts are exhausted the phase escalates to a human.
func (m *Manager) HandleGateFailure(phase string, gateResult *gate.Result, state *State) Action {
	if state.Tier == Tier2 {
		return ActionEscalateToHuman
	}
	if state.Attempts >= m.maxRetriesPerTier {
		return ActionEscalateToHuman
	}
	switch state.Attempts {
	case 0:
		return ActionRetry
	case 1:
		return ActionSwitchWorker
	default:
		return ActionRetryWithHint
	}
}

// HandleWorkerFailure returns the recovery action for a worker that timed out
// or crashed. Timeouts are retryable within tier 1; a crash is not retryable
// by default and escalates immediately.
func (m *Manager) HandleWorkerFailure(phase string, crashed bool, state *State) Action {
	if crashed {
		return ActionEscalateToHuman
	}
	return m.HandleGateFailure(phase, nil, state)
}

// Hint derives a retry hint from a failed gate's structured details.
func Hint(gateResult *gate.Result) string {
	if gateResult == nil {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "The %s quality gate failed: %s\n", gateResult.Gate, gateResult.Message)
	if len(gateResult.Details) > 0 {
		keys := make([]string, 0, len(gateResult.Details))
		for k := range gateResult.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "- %s: %s\n", k, gateResult.Details[k])
		}
	}
	sb.WriteString("Address these specific failures before finishing.")
	return sb.String()
}
