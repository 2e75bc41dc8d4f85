package config

import "fmt"

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks a WorkflowConfig for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *WorkflowConfig) []ValidationError {
	var errs []ValidationError
	w := cfg.Workflow

	// Required fields
	if w.Name == "" {
		errs = append(errs, ValidationError{Field: "workflow.name", Message: "is required"})
	}
	if len(w.Phases) == 0 {
		errs = append(errs, ValidationError{Field: "workflow.phases", Message: "at least one phase is required"})
	}

	// Build set of phase IDs for reference validation
	phaseIDs := make(map[string]bool)
	for i, p := range w.Phases {
		if p.ID == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("workflow.phases[%d].id", i),
				Message: "is required",
			})
			continue
		}
		if phaseIDs[p.ID] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("workflow.phases[%d].id", i),
				Message: fmt.Sprintf("duplicate phase ID %q", p.ID),
			})
		}
		phaseIDs[p.ID] = true
	}

	for i, p := range w.Phases {
		prefix := fmt.Sprintf("workflow.phases[%d]", i)

		if p.Type != "" && !PhaseTypes[p.Type] {
			errs = append(errs, ValidationError{
				Field:   prefix + ".type",
				Message: fmt.Sprintf("unrecognized phase type %q", p.Type),
			})
		}

		if p.Gate.Type != "" && !GateTypes[p.Gate.Type] {
			errs = append(errs, ValidationError{
				Field:   prefix + ".quality_gate.type",
				Message: fmt.Sprintf("unrecognized gate type %q", p.Gate.Type),
			})
		}

		// depends_on must reference declared phases, and never the phase itself
		for _, dep := range p.DependsOn {
			if dep == p.ID {
				errs = append(errs, ValidationError{
					Field:   prefix + ".depends_on",
					Message: fmt.Sprintf("phase %q depends on itself", p.ID),
				})
				continue
			}
			if !phaseIDs[dep] {
				errs = append(errs, ValidationError{
					Field:   prefix + ".depends_on",
					Message: fmt.Sprintf("references undefined phase %q", dep),
				})
			}
		}

		// Worker references must resolve to a configured worker
		if p.Worker != "" {
			if _, ok := w.Workers[p.Worker]; !ok {
				errs = append(errs, ValidationError{
					Field:   prefix + ".worker",
					Message: fmt.Sprintf("references undefined worker %q", p.Worker),
				})
			}
		}
	}

	// Default worker references
	for _, ref := range []struct{ field, name string }{
		{"workflow.defaults.worker", w.Defaults.Worker},
		{"workflow.defaults.alternate_worker", w.Defaults.AlternateWorker},
		{"workflow.defaults.verify_worker", w.Defaults.VerifyWorker},
	} {
		if ref.name == "" {
			continue
		}
		if _, ok := w.Workers[ref.name]; !ok {
			errs = append(errs, ValidationError{
				Field:   ref.field,
				Message: fmt.Sprintf("references undefined worker %q", ref.name),
			})
		}
	}

	// Dependency graph must be acyclic
	if cycle := findCycle(w.Phases); cycle != "" {
		errs = append(errs, ValidationError{
			Field:   "workflow.phases",
			Message: fmt.Sprintf("dependency cycle involving phase %q", cycle),
		})
	}

	return errs
}

// findCycle returns the ID of a phase on a depends_on cycle, or "" if acyclic.
func findCycle(phases []Phase) string {
	deps := make(map[string][]string, len(phases))
	for _, p := range phases {
		deps[p.ID] = p.DependsOn
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(phases))

	var visit func(id string) string
	visit = func(id string) string {
		switch state[id] {
		case visiting:
			return id
		case done:
			return ""
		}
		state[id] = visiting
		for _, dep := range deps[id] {
			if found := visit(dep); found != "" {
				return found
			}
		}
		state[id] = done
		return ""
	}

	for _, p := range phases {
		if found := visit(p.ID); found != "" {
			return found
		}
	}
	return ""
}
