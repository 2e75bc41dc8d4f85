package phase

import (
	"fmt"

	"github.com/lucasnoah/evoforge/internal/config"
)

// Order returns the workflow's phases topologically sorted by depends_on,
// with ties broken by declaration order. Phases run strictly in the returned
// sequence; there is no branching.
func Order(phases []config.Phase) ([]config.Phase, error) {
	byID := make(map[string]config.Phase, len(phases))
	indegree := make(map[string]int, len(phases))
	dependents := make(map[string][]string, len(phases))

	for _, p := range phases {
		if _, dup := byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate phase id %q", p.ID)
		}
		byID[p.ID] = p
		indegree[p.ID] = 0
	}
	for _, p := range phases {
		for _, dep := range p.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("phase %q depends on undefined phase %q", p.ID, dep)
			}
			indegree[p.ID]++
			dependents[dep] = append(dependents[dep], p.ID)
		}
	}

	// Kahn's algorithm. The ready list is rebuilt from declaration order each
	// round so ties always resolve to the earliest-declared phase.
	ordered := make([]config.Phase, 0, len(phases))
	done := make(map[string]bool, len(phases))

	for len(ordered) < len(phases) {
		picked := false
		for _, p := range phases {
			if done[p.ID] || indegree[p.ID] != 0 {
				continue
			}
			ordered = append(ordered, p)
			done[p.ID] = true
			for _, dep := range dependents[p.ID] {
				indegree[dep]--
			}
			picked = true
			break
		}
		if !picked {
			return nil, fmt.Errorf("dependency cycle among phases")
		}
	}

	return ordered, nil
}
