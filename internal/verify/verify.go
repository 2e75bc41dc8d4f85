package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/lucasnoah/evoforge/internal/escalate"
	"github.com/lucasnoah/evoforge/internal/worker"
)

// Result is a judge worker's semantic verdict on a phase's output.
type Result struct {
	Success  bool    `json:"success"`
	Feedback string  `json:"feedback,omitempty"`
	Issues   []Issue `json:"issues,omitempty"`
}

// Issue is one structured problem found during verification.
type Issue struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Location string `json:"location,omitempty"`
}

// Agent invokes a second, independent worker to judge whether phase output
// satisfies intent. The judge is typically a cheaper configuration than the
// phase's primary worker; its verdict is advisory, not generative.
type Agent struct {
	judge   worker.Worker
	timeout time.Duration
}

// NewAgent creates an Agent using the given judge worker.
func NewAgent(judge worker.Worker, timeout time.Duration) *Agent {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Agent{judge: judge, timeout: timeout}
}

// VerifyPhase asks the judge whether the artifact at outputPath (relative to
// workdir) satisfies intent. The judge runs in its own subdirectory so its
// result file never collides with the phase worker's.
func (a *Agent) VerifyPhase(ctx context.Context, workdir, outputPath, intent string) (*Result, error) {
	task := worker.Task{
		Description: judgeTask(workdir, outputPath, intent),
	}

	outcome, err := a.judge.Invoke(ctx, task, filepath.Join(workdir, ".verify"), a.timeout)
	if err != nil {
		return nil, fmt.Errorf("invoke judge: %w", err)
	}
	if outcome.Failed() {
		return nil, fmt.Errorf("judge worker failed (timed_out=%v crashed=%v)", outcome.TimedOut, outcome.Crashed)
	}

	return parseVerdict(outcome.Output)
}

// RunOpts configures a verified run of a phase worker.
type RunOpts struct {
	Primary    worker.Worker
	Task       worker.Task
	Workdir    string
	OutputPath string // artifact to judge, relative to Workdir
	Intent     string
	Timeout    time.Duration
	MaxRetries int
	State      *escalate.State              // attempt counter, bumped per invocation
	OnFailure  func(attempt int, r *Result) // called after each failed verdict
}

// RunOutcome reports the final state of a verified run.
type RunOutcome struct {
	Verified bool
	Attempts int
	Last     *Result // last verdict; nil if the worker itself failed
	Worker   *worker.Outcome
}

// RunWithRetries loops: run worker, verify, and on failure re-invoke the
// worker with a feedback prompt embedding the issues found. It stops after
// MaxRetries attempts and returns the last failure. Every invocation strictly
// increases the escalation state's attempt counter.
func (a *Agent) RunWithRetries(ctx context.Context, opts RunOpts) (*RunOutcome, error) {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	out := &RunOutcome{}
	task := opts.Task

	for attempt := 1; attempt <= maxRetries; attempt++ {
		out.Attempts = attempt
		if opts.State != nil {
			opts.State.Attempts++
		}

		workerOutcome, err := opts.Primary.Invoke(ctx, task, opts.Workdir, opts.Timeout)
		if err != nil {
			return out, fmt.Errorf("invoke worker (attempt %d): %w", attempt, err)
		}
		out.Worker = workerOutcome
		if workerOutcome.Failed() {
			return out, fmt.Errorf("worker failed during verification attempt %d (timed_out=%v crashed=%v)",
				attempt, workerOutcome.TimedOut, workerOutcome.Crashed)
		}

		verdict, err := a.VerifyPhase(ctx, opts.Workdir, opts.OutputPath, opts.Intent)
		if err != nil {
			// Advisory judge unavailable: count the attempt as failed with a
			// generic note rather than crediting unjudged output.
			verdict = &Result{Success: false, Feedback: fmt.Sprintf("verification unavailable: %v", err)}
		}
		out.Last = verdict

		if verdict.Success {
			out.Verified = true
			return out, nil
		}

		if opts.OnFailure != nil {
			opts.OnFailure(attempt, verdict)
		}
		task = opts.Task
		task.Feedback = FeedbackPrompt(verdict)
	}

	return out, nil
}

// FeedbackPrompt builds the re-invocation prompt from a failed verdict. The
// verdict's feedback text is embedded verbatim.
func FeedbackPrompt(r *Result) string {
	var sb strings.Builder
	sb.WriteString("Your previous output did not satisfy the phase intent.\n")
	if r.Feedback != "" {
		sb.WriteString("\n" + r.Feedback + "\n")
	}
	if len(r.Issues) > 0 {
		sb.WriteString("\nSpecific issues:\n")
		for _, issue := range r.Issues {
			if issue.Location != "" {
				fmt.Fprintf(&sb, "- [%s] %s (%s)\n", issue.Severity, issue.Message, issue.Location)
			} else {
				fmt.Fprintf(&sb, "- [%s] %s\n", issue.Severity, issue.Message)
			}
		}
	}
	sb.WriteString("\nRevise your output to address every issue above.")
	return sb.String()
}

// judgeTask formats the task description handed to the judge worker.
func judgeTask(workdir, outputPath, intent string) string {
	return fmt.Sprintf(`Judge whether the artifact at %s satisfies this intent:

%s

Respond by writing JSON to your output file: {"success": bool, "feedback": string, "issues": [{"severity", "message", "location"}]}.
Judge only; do not modify any files.`, filepath.Join(workdir, outputPath), intent)
}

// parseVerdict decodes the judge's output file contents. A malformed verdict
// is a verification failure carrying the raw text, never a success.
func parseVerdict(output string) (*Result, error) {
	output = strings.TrimSpace(output)
	if output == "" {
		return &Result{Success: false, Feedback: "judge produced no verdict"}, nil
	}
	var r Result
	if err := json.Unmarshal([]byte(output), &r); err != nil {
		return &Result{Success: false, Feedback: "unparseable verdict: " + firstLine(output)}, nil
	}
	return &r, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
