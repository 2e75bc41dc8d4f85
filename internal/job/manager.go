package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lucasnoah/evoforge/internal/db"
	"github.com/lucasnoah/evoforge/internal/event"
)

// ErrProjectBusy is returned when a run is requested for a project that
// already has a running job in this process.
var ErrProjectBusy = errors.New("project already has a running job")

// Manager launches and tracks background pipeline jobs. At most one job per
// project runs at a time; each job carries its own event log and a heartbeat
// that keeps stream consumers alive through long silent stretches.
type Manager struct {
	runner    Runner
	heartbeat time.Duration
	database  *db.DB // optional event persistence

	mu        sync.Mutex
	jobs      map[string]*Job
	byProject map[string]*Job
	wg        sync.WaitGroup
}

// NewManager creates a Manager. heartbeat <= 0 defaults to 20s. database may
// be nil to skip persistence.
func NewManager(runner Runner, heartbeat time.Duration, database *db.DB) *Manager {
	if heartbeat <= 0 {
		heartbeat = 20 * time.Second
	}
	return &Manager{
		runner:    runner,
		heartbeat: heartbeat,
		database:  database,
		jobs:      make(map[string]*Job),
		byProject: make(map[string]*Job),
	}
}

// Start launches a pipeline job for the project. It returns ErrProjectBusy
// when the project already has a running job, and the runner's typed
// rejection when the trigger pre-checks fail. A rejected trigger creates no
// job, emits no events, and writes no run-history row.
func (m *Manager) Start(projectName string, opts RunOpts) (*Job, error) {
	if projectName == "" {
		return nil, fmt.Errorf("project name is required")
	}

	m.mu.Lock()
	if existing, ok := m.byProject[projectName]; ok && existing.Running() {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s (job %s)", ErrProjectBusy, projectName, existing.ID)
	}
	m.mu.Unlock()

	// The claim serializes concurrent triggers through the project store's
	// lock, so two racing Starts cannot both pass the pre-checks.
	if err := m.runner.Claim(projectName, opts); err != nil {
		return nil, err
	}

	m.mu.Lock()
	ctx, cancel := context.WithCancel(context.Background())
	j := &Job{
		ID:        uuid.NewString(),
		Project:   projectName,
		Log:       event.NewLog(),
		status:    StatusRunning,
		startedAt: time.Now().UTC(),
		cancel:    cancel,
	}
	m.jobs[j.ID] = j
	m.byProject[projectName] = j
	m.wg.Add(1)
	m.mu.Unlock()

	if m.database != nil {
		_ = m.database.StartPipelineRun(j.ID, projectName)
	}

	go m.run(ctx, j, opts)
	return j, nil
}

// Get returns a job by id.
func (m *Manager) Get(id string) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	return j, ok
}

// List returns snapshots of all known jobs, newest first.
func (m *Manager) List() []Info {
	m.mu.Lock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j)
	}
	m.mu.Unlock()

	infos := make([]Info, len(jobs))
	for i, j := range jobs {
		infos[i] = j.Snapshot()
	}
	sort.Slice(infos, func(i, k int) bool {
		return infos[i].StartedAt.After(infos[k].StartedAt)
	})
	return infos
}

// Cancel requests cancellation of a running job. The worker process receives
// the cancellation through its context; already committed stages are not
// rolled back.
func (m *Manager) Cancel(id string) error {
	j, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("job %q not found", id)
	}
	if !j.Running() {
		return fmt.Errorf("job %q is %s", id, j.Status())
	}
	j.cancel()
	return nil
}

// Shutdown cancels every running job and waits for them to finish, bounded by
// the context.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	for _, j := range m.jobs {
		if j.Running() {
			j.cancel()
		}
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run drives one job to completion: the pipeline itself plus a heartbeat
// goroutine that fills gaps in the event stream.
func (m *Manager) run(ctx context.Context, j *Job, opts RunOpts) {
	defer m.wg.Done()
	defer j.cancel()

	listener := m.listenerFor(j)

	runCtx, stop := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		m.beat(gctx, j, listener)
		return nil
	})
	g.Go(func() error {
		defer stop()
		return m.execute(gctx, j, opts, listener)
	})
	err := g.Wait()

	status := StatusCompleted
	errMsg := ""
	switch {
	case err != nil && ctx.Err() == context.Canceled:
		// A cancelled job is a failed job with a cancelled reason.
		status, errMsg = StatusFailed, "cancelled"
	case err != nil:
		status, errMsg = StatusFailed, err.Error()
	}
	j.finish(status, errMsg)
	if m.database != nil {
		_ = m.database.FinishPipelineRun(j.ID, string(status), errMsg)
	}
}

// execute runs the pipeline, converting a panic into a failed job rather than
// taking the whole process down.
func (m *Manager) execute(ctx context.Context, j *Job, opts RunOpts, listener event.Listener) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panicked: %v\n%s", r, debug.Stack())
			listener.OnEvent(event.New(event.PipelineFailed, "", map[string]string{"error": fmt.Sprintf("panic: %v", r)}))
		}
	}()

	listener.OnEvent(event.New(event.PipelineStarted, "", map[string]string{"project": j.Project, "job": j.ID}))
	err = m.runner.Run(ctx, j.Project, opts, listener)
	if err != nil {
		listener.OnEvent(event.New(event.PipelineFailed, "", map[string]string{"error": err.Error()}))
		return err
	}
	listener.OnEvent(event.New(event.PipelineCompleted, "", map[string]string{"project": j.Project}))
	return nil
}

// beat appends a heartbeat whenever the stream has been silent for a full
// interval. Heartbeats do not reset the silence clock.
func (m *Manager) beat(ctx context.Context, j *Job, listener event.Listener) {
	ticker := time.NewTicker(m.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if silent := j.Log.SinceLastEvent(); silent >= m.heartbeat {
				listener.OnEvent(event.New(event.Heartbeat, "", map[string]string{
					"silent_for": silent.Round(time.Second).String(),
				}))
			}
		}
	}
}

// listenerFor fans events out to the job's log and, when configured, the
// run-history database.
func (m *Manager) listenerFor(j *Job) event.Listener {
	return event.ListenerFunc(func(e event.Event) {
		j.Log.Append(e)
		if m.database != nil {
			data := ""
			if len(e.Data) > 0 {
				if b, err := json.Marshal(e.Data); err == nil {
					data = string(b)
				}
			}
			_ = m.database.LogRunEvent(j.ID, j.Project, string(e.Type), e.PhaseID, data)
		}
	})
}
