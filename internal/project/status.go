package project

import "fmt"

// Status is an EvolutionProject's position in the staged deployment pipeline.
// It only ever moves forward along the directed path, or to StatusFailed from
// any non-terminal state. StatusIntegrated is terminal-success.
type Status string

const (
	StatusPending    Status = "pending"
	StatusDeveloping Status = "developing"
	StatusReady      Status = "ready"
	StatusDeployed   Status = "deployed"
	StatusValidating Status = "validating"
	StatusIntegrated Status = "integrated"
	StatusFailed     Status = "failed"
)

// forward enumerates the allowed forward transitions.
var forward = map[Status][]Status{
	StatusPending:    {StatusDeveloping},
	StatusDeveloping: {StatusReady},
	StatusReady:      {StatusDeployed},
	StatusDeployed:   {StatusValidating, StatusIntegrated},
	StatusValidating: {StatusDeployed},
}

// Valid reports whether s is a recognized status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusDeveloping, StatusReady, StatusDeployed,
		StatusValidating, StatusIntegrated, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusIntegrated || s == StatusFailed
}

// CanTransition reports whether moving from s to next is allowed.
func (s Status) CanTransition(next Status) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	for _, allowed := range forward[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// InvalidTransitionError reports a disallowed status move.
type InvalidTransitionError struct {
	Project string
	From    Status
	To      Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("project %q: invalid status transition %s -> %s", e.Project, e.From, e.To)
}

// BusyError is returned when a pipeline run is rejected because another run
// holds the project. Returned before any side effect; callers must not queue.
type BusyError struct {
	Project string
	Status  Status
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("project %q is busy (status %s): a pipeline run is already in progress", e.Project, e.Status)
}

// AlreadyIntegratedError is returned when a run is requested on an integrated
// project without force.
type AlreadyIntegratedError struct {
	Project string
}

func (e *AlreadyIntegratedError) Error() string {
	return fmt.Sprintf("project %q is already integrated (use force to re-run)", e.Project)
}
