package phase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/lucasnoah/evoforge/internal/config"
	"github.com/lucasnoah/evoforge/internal/escalate"
	"github.com/lucasnoah/evoforge/internal/event"
	"github.com/lucasnoah/evoforge/internal/gate"
	"github.com/lucasnoah/evoforge/internal/project"
	"github.com/lucasnoah/evoforge/internal/verify"
	"github.com/lucasnoah/evoforge/internal/worker"
)

// Result is the retained outcome of one phase; only the last attempt's
// outcome survives, earlier attempts are observable through events and
// the per-attempt artifact directories.
type Result struct {
	Phase    string         `json:"phase"`
	Success  bool           `json:"success"`
	Attempts int            `json:"attempts"`
	Worker   string         `json:"worker"`
	Output   string         `json:"output,omitempty"`
	Gate     *gate.Result   `json:"gate,omitempty"`
	Verdict  *verify.Result `json:"verdict,omitempty"`
	Step     worker.Step    `json:"step"`
	Duration time.Duration  `json:"duration_ns"`
}

// ExhaustedError reports that a phase ran out of recovery options.
type ExhaustedError struct {
	Phase  string
	Reason string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("phase %s: escalation exhausted: %s", e.Phase, e.Reason)
}

// GateRecorder persists quality gate outcomes to the run-history database.
type GateRecorder interface {
	LogGateRun(project, phase string, attempt int, gate string, passed bool, message, details string) error
}

// Deps wires the orchestrator's collaborators. Zero-value fields get safe
// defaults where one exists.
type Deps struct {
	Workers  map[string]worker.Worker // by config name
	Gates    *gate.Runner
	Verifier *verify.Agent
	Escalate *escalate.Manager
	Decider  escalate.Decider
	Listener event.Listener
	Store    *project.Store // attempt artifact persistence, optional
	GateLog  GateRecorder   // gate run history, optional
	Progress io.Writer
}

// Orchestrator executes a workflow's phases in dependency order, fail-fast:
// worker, then quality gate, then optional verification, with tiered
// escalation on failure.
type Orchestrator struct {
	cfg      *config.Workflow
	workers  map[string]worker.Worker
	gates    *gate.Runner
	verifier *verify.Agent
	esc      *escalate.Manager
	decider  escalate.Decider
	listener event.Listener
	store    *project.Store
	gateLog  GateRecorder
	progress io.Writer
}

// New creates an Orchestrator for the given workflow.
func New(cfg *config.Workflow, deps Deps) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		workers:  deps.Workers,
		gates:    deps.Gates,
		verifier: deps.Verifier,
		esc:      deps.Escalate,
		decider:  deps.Decider,
		listener: deps.Listener,
		store:    deps.Store,
		gateLog:  deps.GateLog,
		progress: deps.Progress,
	}
	if o.esc == nil {
		o.esc = escalate.NewManager(cfg.Defaults.MaxRetriesPerTier, parseDuration(cfg.Defaults.Timeout, 30*time.Minute))
	}
	if o.decider == nil {
		o.decider = escalate.AutoAbort{}
	}
	if o.listener == nil {
		o.listener = event.Discard
	}
	if o.progress == nil {
		o.progress = io.Discard
	}
	return o
}

// Run executes every phase in dependency order against workdir. It stops at
// the first phase that exhausts recovery and returns the results gathered so
// far keyed by phase id. projectName may be empty when no artifact store is
// attached.
func (o *Orchestrator) Run(ctx context.Context, projectName, workdir string) (map[string]*Result, error) {
	ordered, err := Order(o.cfg.Phases)
	if err != nil {
		return nil, err
	}

	results := make(map[string]*Result, len(ordered))
	for _, p := range ordered {
		res, err := o.runPhase(ctx, projectName, workdir, p)
		if res != nil {
			results[p.ID] = res
		}
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// phaseRun carries the mutable recovery state for one phase execution.
type phaseRun struct {
	o       *Orchestrator
	phase   config.Phase
	project string
	workdir string
	timeout time.Duration

	state         *escalate.State
	primary       worker.Worker
	primaryName   string
	alternate     worker.Worker
	alternateName string
	current       worker.Worker
	currentName   string
	hint          string
}

func (o *Orchestrator) runPhase(ctx context.Context, projectName, workdir string, p config.Phase) (*Result, error) {
	o.emit(event.PhaseStarted, p.ID, map[string]string{"name": p.Name, "type": p.Type})
	o.logf("phase %s: started", p.ID)

	primary, ok := o.workers[p.Worker]
	if !ok {
		return nil, fmt.Errorf("phase %s: unknown worker %q", p.ID, p.Worker)
	}
	r := &phaseRun{
		o:           o,
		phase:       p,
		project:     projectName,
		workdir:     workdir,
		timeout:     parseDuration(p.Timeout, 30*time.Minute),
		state:       escalate.NewState(),
		primary:     primary,
		primaryName: p.Worker,
	}
	r.alternate, r.alternateName = primary, p.Worker
	if alt, ok := o.workers[o.cfg.Defaults.AlternateWorker]; ok && o.cfg.Defaults.AlternateWorker != p.Worker {
		r.alternate, r.alternateName = alt, o.cfg.Defaults.AlternateWorker
	}
	r.current, r.currentName = r.primary, r.primaryName

	start := time.Now()
	res := &Result{Phase: p.ID}
	baseTask := worker.Task{Phase: p.ID, Description: taskDescription(p)}

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Attempts++
		res.Worker = r.currentName

		task := baseTask
		task.Feedback = r.hint
		if o.store != nil && projectName != "" {
			rendered := task.Description
			if task.Feedback != "" {
				rendered += "\n\n" + task.Feedback
			}
			_ = o.store.SaveTask(projectName, p.ID, res.Attempts, rendered)
		}

		outcome, err := r.current.Invoke(ctx, task, workdir, r.timeout)
		if err != nil {
			return res, fmt.Errorf("phase %s: invoke worker: %w", p.ID, err)
		}
		res.Output, res.Step = outcome.Output, outcome.Step

		if outcome.Failed() {
			reason := "worker timed out"
			if outcome.Crashed {
				reason = fmt.Sprintf("worker crashed (exit %d)", outcome.ExitCode)
			}
			o.logf("phase %s: %s", p.ID, reason)
			action := o.esc.HandleWorkerFailure(p.ID, outcome.Crashed, r.state)
			failure := &gate.Result{Gate: "worker", Message: reason}
			again, err := r.recover(ctx, action, failure)
			if err != nil {
				return res, err
			}
			if again {
				continue
			}
		}

		gres, err := o.checkGate(p, workdir)
		if err != nil {
			return res, fmt.Errorf("phase %s: %w", p.ID, err)
		}
		res.Gate = gres
		if gres != nil && projectName != "" {
			if o.store != nil {
				_ = o.store.SaveGateResult(projectName, p.ID, res.Attempts, gres)
			}
			if o.gateLog != nil {
				details := ""
				if len(gres.Details) > 0 {
					if b, err := json.Marshal(gres.Details); err == nil {
						details = string(b)
					}
				}
				_ = o.gateLog.LogGateRun(projectName, p.ID, res.Attempts, gres.Gate, gres.Passed, gres.Message, details)
			}
		}
		if gres != nil && !gres.Passed {
			o.emit(event.GateFailed, p.ID, map[string]string{"gate": gres.Gate, "message": gres.Message})
			o.logf("phase %s: gate %s failed: %s", p.ID, gres.Gate, gres.Message)
			action := o.esc.HandleGateFailure(p.ID, gres, r.state)
			again, err := r.recover(ctx, action, gres)
			if err != nil {
				return res, err
			}
			if again {
				continue
			}
		}

		if p.Verify && o.verifier != nil {
			ok, err := o.verifyPhase(ctx, r, res, baseTask)
			if err != nil {
				return res, err
			}
			if !ok {
				return res, &ExhaustedError{Phase: p.ID, Reason: "verification failed after retries"}
			}
		}

		res.Success = true
		res.Duration = time.Since(start)
		if o.store != nil && projectName != "" {
			_ = o.store.SavePhaseResult(projectName, p.ID, res.Attempts, res)
		}
		o.emit(event.PhaseCompleted, p.ID, map[string]string{
			"name":     p.Name,
			"attempts": strconv.Itoa(res.Attempts),
		})
		o.logf("phase %s: completed in %s (%d attempts)", p.ID, res.Duration.Round(time.Millisecond), res.Attempts)
		return res, nil
	}
}

// checkGate runs the phase's quality gate; a phase without one passes
// implicitly.
func (o *Orchestrator) checkGate(p config.Phase, workdir string) (*gate.Result, error) {
	if p.Gate.Type == "" || o.gates == nil {
		return nil, nil
	}
	desc := gate.Descriptor{Type: p.Gate.Type, Params: p.Gate.Params}
	return o.gates.Check(desc, workdir, p.Outputs)
}

// verifyPhase judges the gated output and, on failure, re-runs the worker
// with feedback up to the configured retry budget.
func (o *Orchestrator) verifyPhase(ctx context.Context, r *phaseRun, res *Result, baseTask worker.Task) (bool, error) {
	p := r.phase
	verdict, err := o.verifier.VerifyPhase(ctx, r.workdir, primaryOutput(p), p.Intent)
	if err != nil {
		verdict = &verify.Result{Success: false, Feedback: fmt.Sprintf("verification unavailable: %v", err)}
	}
	res.Verdict = verdict
	if verdict.Success {
		return true, nil
	}

	o.emit(event.VerificationFailed, p.ID, map[string]string{"feedback": verdict.Feedback})
	o.logf("phase %s: verification failed: %s", p.ID, verdict.Feedback)

	maxRetries := o.cfg.Defaults.MaxRetries
	if maxRetries <= 1 {
		return false, nil
	}

	task := baseTask
	task.Feedback = verify.FeedbackPrompt(verdict)
	out, err := o.verifier.RunWithRetries(ctx, verify.RunOpts{
		Primary:    r.current,
		Task:       task,
		Workdir:    r.workdir,
		OutputPath: primaryOutput(p),
		Intent:     p.Intent,
		Timeout:    r.timeout,
		MaxRetries: maxRetries - 1,
		State:      r.state,
		OnFailure: func(attempt int, vr *verify.Result) {
			o.emit(event.VerificationFailed, p.ID, map[string]string{"feedback": vr.Feedback})
		},
	})
	res.Attempts += out.Attempts
	if out.Last != nil {
		res.Verdict = out.Last
	}
	if out.Worker != nil {
		res.Output, res.Step = out.Worker.Output, out.Worker.Step
	}
	if err != nil {
		return false, fmt.Errorf("phase %s: %w", p.ID, err)
	}
	return out.Verified, nil
}

// recover applies one escalation action. It returns true when the phase
// should re-run, false with an error when the phase is out of options.
func (r *phaseRun) recover(ctx context.Context, action escalate.Action, failure *gate.Result) (bool, error) {
	r.o.emit(event.EscalationTriggered, r.phase.ID, map[string]string{
		"action":   string(action),
		"attempts": strconv.Itoa(r.state.Attempts),
	})
	r.o.logf("phase %s: escalation action %s (attempt %d)", r.phase.ID, action, r.state.Attempts)
	r.state.Record(action)

	switch action {
	case escalate.ActionRetry:
		return true, nil
	case escalate.ActionSwitchWorker:
		r.current, r.currentName = r.alternate, r.alternateName
		return true, nil
	case escalate.ActionRetryWithHint:
		r.hint = escalate.Hint(failure)
		return true, nil
	case escalate.ActionEscalateToHuman:
		decision, err := r.o.decider.Decide(ctx, r.project, r.phase.ID, failure)
		if err != nil {
			return false, fmt.Errorf("phase %s: escalation decision: %w", r.phase.ID, err)
		}
		if decision == escalate.DecisionResume {
			// A resume grants a fresh tier-1 budget on the primary worker.
			r.state.Reset()
			r.current, r.currentName = r.primary, r.primaryName
			r.hint = ""
			return true, nil
		}
		return false, &ExhaustedError{Phase: r.phase.ID, Reason: failure.Message}
	default:
		return false, &ExhaustedError{Phase: r.phase.ID, Reason: failure.Message}
	}
}

func (o *Orchestrator) emit(t event.Type, phaseID string, data map[string]string) {
	o.listener.OnEvent(event.New(t, phaseID, data))
}

func (o *Orchestrator) logf(format string, args ...interface{}) {
	fmt.Fprintf(o.progress, format+"\n", args...)
}

// taskDescription renders the full task handed to the worker: the phase's
// task text plus its declared inputs and required outputs.
func taskDescription(p config.Phase) string {
	var sb strings.Builder
	sb.WriteString(p.Task)
	if len(p.Inputs) > 0 {
		sb.WriteString("\n\nInput files:\n")
		for _, in := range p.Inputs {
			sb.WriteString("- " + in + "\n")
		}
	}
	if len(p.Outputs) > 0 {
		sb.WriteString("\nRequired output files:\n")
		for _, out := range p.Outputs {
			sb.WriteString("- " + out + "\n")
		}
	}
	return sb.String()
}

// primaryOutput is the artifact verification judges: the first declared output.
func primaryOutput(p config.Phase) string {
	if len(p.Outputs) > 0 {
		return p.Outputs[0]
	}
	return ""
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
