package worker

import "strings"

// Step is a worker's self-reported progress marker, parsed from stdout lines
// of the form "##STEP: <name>". Advisory only: it feeds logging and telemetry
// and never gates what the worker is allowed to do next.
type Step string

const (
	StepUnknown      Step = "unknown"
	StepAnalyzing    Step = "analyzing"
	StepImplementing Step = "implementing"
	StepTesting      Step = "testing"
	StepDocumenting  Step = "documenting"
	StepDone         Step = "done"
)

const stepPrefix = "##STEP:"

var knownSteps = map[string]Step{
	"analyzing":    StepAnalyzing,
	"implementing": StepImplementing,
	"testing":      StepTesting,
	"documenting":  StepDocumenting,
	"done":         StepDone,
}

// ParseStep returns the last recognized step marker in the given output, or
// StepUnknown when none is present. Unrecognized marker names are ignored.
func ParseStep(output string) Step {
	step := StepUnknown
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, stepPrefix) {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(line, stepPrefix)))
		if s, ok := knownSteps[name]; ok {
			step = s
		}
	}
	return step
}
