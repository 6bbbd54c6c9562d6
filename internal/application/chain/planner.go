package chain

import (
	"sort"
	"strings"
)

// Plan validates a chain definition and sorts it into parallel execution levels
// using Kahn's algorithm: levels[i] holds every step whose remaining
// in-degree drops to zero once levels[<i] are removed. Intra-level steps
// have no dependencies on each other, so the executor may run them
// concurrently and join before the next level.
func Plan(spec *Spec) (*ExecutionPlan, error) {
	if err := validate(spec); err != nil {
		return nil, err
	}

	inDegree := make(map[string]int, len(spec.Steps))
	dependents := make(map[string][]string, len(spec.Steps))
	byID := make(map[string]StepSpec, len(spec.Steps))

	for _, step := range spec.Steps {
		byID[step.ID] = step
		inDegree[step.ID] = len(step.DependsOn)
		for _, dep := range step.DependsOn {
			dependents[dep] = append(dependents[dep], step.ID)
		}
	}

	var ready []string
	for _, step := range spec.Steps {
		if inDegree[step.ID] == 0 {
			ready = append(ready, step.ID)
		}
	}

	plan := &ExecutionPlan{
		ChainName: spec.Name,
		Nodes:     make(map[string]ExecutionNode, len(spec.Steps)),
	}

	placed := 0
	for level := 0; len(ready) > 0; level++ {
		sort.Strings(ready)
		plan.Levels = append(plan.Levels, ready)

		var next []string
		for _, id := range ready {
			step := byID[id]
			plan.Nodes[id] = ExecutionNode{
				StepID:       step.ID,
				Workflow:     step.Workflow,
				Parameters:   copyMap(step.Parameters),
				Condition:    step.Condition,
				Dependencies: append([]string(nil), step.DependsOn...),
				Level:        level,
			}
			placed++

			for _, dependent := range dependents[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		ready = next
	}

	if placed != len(spec.Steps) {
		var stuck []string
		for id, deg := range inDegree {
			if deg > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return nil, validationErrorf("chain contains a dependency cycle involving: %s",
			strings.Join(stuck, ", "))
	}

	return plan, nil
}

func validate(spec *Spec) error {
	if spec.Name == "" {
		return validationErrorf("chain name is required")
	}
	if len(spec.Steps) == 0 {
		return validationErrorf("chain has no steps")
	}

	seen := make(map[string]bool, len(spec.Steps))
	for _, step := range spec.Steps {
		if step.ID == "" {
			return validationErrorf("step id is required")
		}
		if !stepIDPattern.MatchString(step.ID) {
			return validationErrorf("invalid step id %q: must match [A-Za-z0-9_-]+", step.ID)
		}
		if seen[step.ID] {
			return validationErrorf("duplicate step id %q", step.ID)
		}
		seen[step.ID] = true

		if step.Workflow == "" {
			return validationErrorf("step %q has no workflow", step.ID)
		}
	}

	for _, step := range spec.Steps {
		for _, dep := range step.DependsOn {
			if !seen[dep] {
				return validationErrorf("step %q depends on unknown step %q", step.ID, dep)
			}
			if dep == step.ID {
				return validationErrorf("step %q depends on itself", step.ID)
			}
		}
	}
	return nil
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
