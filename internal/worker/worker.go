package worker

import (
	"context"
	"time"
)

// TaskFile is the well-known file a worker reads its task description from.
const TaskFile = "TASK.md"

// OutputFile is the well-known file a worker must write its result to before
// exiting. It is deleted before every invocation so a timed-out or crashed run
// can never surface output left behind by a previous one.
const OutputFile = "worker-result.json"

// Task describes one unit of work handed to a worker.
type Task struct {
	Phase       string // phase id, for logging
	Description string
	Feedback    string // verification feedback or escalation hint, appended verbatim
}

// Outcome captures everything observable about a single worker invocation.
type Outcome struct {
	Output   string        // contents of OutputFile; empty when absent
	Stdout   string        // captured process stdout
	Stderr   string        // captured process stderr
	ExitCode int
	TimedOut bool
	Crashed  bool // non-zero exit without producing output
	Duration time.Duration
	Step     Step // advisory self-reported progress marker
}

// Failed reports whether the invocation did not produce usable output.
func (o *Outcome) Failed() bool {
	return o.TimedOut || o.Crashed
}

// Worker runs one external process per unit of work. Implementations spawn the
// process in workdir, enforce the timeout, and read back OutputFile plus stdout.
type Worker interface {
	Invoke(ctx context.Context, task Task, workdir string, timeout time.Duration) (*Outcome, error)
}
