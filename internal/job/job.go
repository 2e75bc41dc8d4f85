package job

import (
	"context"
	"sync"
	"time"

	"github.com/lucasnoah/evoforge/internal/event"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// RunOpts carries the caller's switches for one pipeline run.
type RunOpts struct {
	Force         bool // re-run an already integrated project
	AutoIntegrate bool // promote to production when validation passes
}

// Runner executes the full pipeline for one project, emitting progress to the
// listener. Implementations own project status bookkeeping. Claim performs
// the trigger pre-checks and takes ownership of the project; it runs before
// any job exists, so a rejection leaves no trace.
type Runner interface {
	Claim(projectName string, opts RunOpts) error
	Run(ctx context.Context, projectName string, opts RunOpts, listener event.Listener) error
}

// Job is one background pipeline execution. Its event log is the live stream
// consumers poll or subscribe to.
type Job struct {
	ID      string
	Project string
	Log     *event.Log

	mu         sync.Mutex
	status     Status
	err        string
	startedAt  time.Time
	finishedAt time.Time
	cancel     context.CancelFunc
}

// Info is an immutable snapshot of a job's state.
type Info struct {
	ID         string    `json:"id"`
	Project    string    `json:"project"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Events     int       `json:"events"`
}

// Snapshot returns the job's current state.
func (j *Job) Snapshot() Info {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Info{
		ID:         j.ID,
		Project:    j.Project,
		Status:     j.status,
		Error:      j.err,
		StartedAt:  j.startedAt,
		FinishedAt: j.finishedAt,
		Events:     j.Log.Len(),
	}
}

// Status returns the job's current lifecycle state.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Running reports whether the job has not yet reached a terminal state.
func (j *Job) Running() bool {
	return j.Status() == StatusRunning
}

func (j *Job) finish(status Status, errMsg string) {
	j.mu.Lock()
	j.status = status
	j.err = errMsg
	j.finishedAt = time.Now().UTC()
	j.mu.Unlock()
	j.Log.Close()
}
