package event

import "time"

// Type identifies a lifecycle event emitted by the orchestrator or pipeline.
type Type string

const (
	PhaseStarted         Type = "phase_started"
	PhaseCompleted       Type = "phase_completed"
	GateFailed           Type = "gate_failed"
	VerificationFailed   Type = "verification_failed"
	EscalationTriggered  Type = "escalation_triggered"
	StepStarted          Type = "step_started"
	StepCompleted        Type = "step_completed"
	PipelineStarted      Type = "pipeline_started"
	PipelineFailed       Type = "pipeline_failed"
	PipelineCompleted    Type = "pipeline_completed"
	Heartbeat            Type = "heartbeat"
)

// Event is one entry in a job's ordered event stream.
type Event struct {
	Type      Type              `json:"event_type"`
	PhaseID   string            `json:"phase_id,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// New creates an event stamped with the current time.
func New(t Type, phaseID string, data map[string]string) Event {
	return Event{Type: t, PhaseID: phaseID, Data: data, Timestamp: time.Now().UTC()}
}

// Listener receives events fire-and-forget. Implementations must not block;
// slow consumers buffer via Log.
type Listener interface {
	OnEvent(e Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(e Event)

func (f ListenerFunc) OnEvent(e Event) { f(e) }

// Discard is a Listener that drops every event.
var Discard Listener = ListenerFunc(func(Event) {})
