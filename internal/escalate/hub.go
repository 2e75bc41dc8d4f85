package escalate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lucasnoah/evoforge/internal/gate"
)

// Pending describes a suspended phase waiting on an external decision.
type Pending struct {
	Project string    `json:"project"`
	Phase   string    `json:"phase"`
	Message string    `json:"message"`
	Since   time.Time `json:"since"`
}

type pendingEntry struct {
	info Pending
	ch   chan Decision
}

// Hub is a Decider that suspends the calling phase until an external
// resume/abort decision arrives via Resolve. At most one escalation can be
// pending per project (phases within a project run sequentially).
type Hub struct {
	mu      sync.Mutex
	pending map[string]*pendingEntry // by project
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{pending: make(map[string]*pendingEntry)}
}

// Decide registers the escalation and blocks until Resolve supplies a
// decision or the context is cancelled. Cancellation aborts.
func (h *Hub) Decide(ctx context.Context, projectName, phase string, gateResult *gate.Result) (Decision, error) {
	message := ""
	if gateResult != nil {
		message = gateResult.Message
	}
	entry := &pendingEntry{
		info: Pending{Project: projectName, Phase: phase, Message: message, Since: time.Now().UTC()},
		ch:   make(chan Decision, 1),
	}

	h.mu.Lock()
	h.pending[projectName] = entry
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		if h.pending[projectName] == entry {
			delete(h.pending, projectName)
		}
		h.mu.Unlock()
	}()

	select {
	case d := <-entry.ch:
		return d, nil
	case <-ctx.Done():
		return DecisionAbort, ctx.Err()
	}
}

// Resolve delivers the decision for a project's pending escalation.
func (h *Hub) Resolve(projectName string, d Decision) error {
	if d != DecisionResume && d != DecisionAbort {
		return fmt.Errorf("unknown decision %q", d)
	}
	h.mu.Lock()
	entry, ok := h.pending[projectName]
	if ok {
		delete(h.pending, projectName)
	}
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pending escalation for project %q", projectName)
	}
	entry.ch <- d
	return nil
}

// Pending lists every suspended escalation.
func (h *Hub) Pending() []Pending {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Pending, 0, len(h.pending))
	for _, e := range h.pending {
		out = append(out, e.info)
	}
	return out
}
