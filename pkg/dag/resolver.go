// Package dag validates workflow step graphs and produces a deterministic
// topological order. It has no side effects and no dependency on storage or
// transport; every function here is a pure transformation of a
// models.WorkflowSpec.
package dag

import (
	"fmt"

	"github.com/cloudshipai/workflowcore/pkg/models"
)

// CycleError is returned when Resolve re-enters a step that is still being
// visited, including a step that names itself in Needs.
type CycleError struct {
	StepID string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected at step %q", e.StepID)
}

// MissingDependencyError is returned when a step's Needs entry does not name
// a sibling step in the same workflow.
type MissingDependencyError struct {
	StepID   string
	NeededID string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("dependency not found: step %q needs %q", e.StepID, e.NeededID)
}

// DuplicateStepError is returned when two steps in the same spec share an id.
type DuplicateStepError struct {
	StepID string
}

func (e *DuplicateStepError) Error() string {
	return fmt.Sprintf("duplicate step id %q", e.StepID)
}

// ValidationResult accumulates every structural error found in a spec before
// Resolve is attempted, so callers can report them together.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// Validate accumulates every structural error in spec (duplicate ids,
// dangling dependencies, cycles) without short-circuiting on the first one.
func Validate(spec *models.WorkflowSpec) ValidationResult {
	result := ValidationResult{Valid: true}

	seen := make(map[string]bool, len(spec.Steps))
	for _, s := range spec.Steps {
		if seen[s.ID] {
			result.Errors = append(result.Errors, (&DuplicateStepError{StepID: s.ID}).Error())
			result.Valid = false
			continue
		}
		seen[s.ID] = true
	}

	for _, s := range spec.Steps {
		for _, need := range s.Needs {
			if !seen[need] {
				result.Errors = append(result.Errors, (&MissingDependencyError{StepID: s.ID, NeededID: need}).Error())
				result.Valid = false
			}
		}
	}

	if !result.Valid {
		return result
	}

	if _, err := Resolve(spec); err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, err.Error())
	}

	return result
}

// Resolve returns a topological order over spec.Steps, or the first
// structural error encountered. Traversal is a depth-first post-order walk
// driven by step order as it appears in the spec, so the result is
// deterministic for a given input.
func Resolve(spec *models.WorkflowSpec) ([]string, error) {
	byID := make(map[string]*models.Step, len(spec.Steps))
	for i := range spec.Steps {
		s := &spec.Steps[i]
		if _, dup := byID[s.ID]; dup {
			return nil, &DuplicateStepError{StepID: s.ID}
		}
		byID[s.ID] = s
	}

	var (
		visiting = make(map[string]bool, len(spec.Steps))
		done     = make(map[string]bool, len(spec.Steps))
		order    = make([]string, 0, len(spec.Steps))
	)

	var visit func(id string) error
	visit = func(id string) error {
		if done[id] {
			return nil
		}
		if visiting[id] {
			return &CycleError{StepID: id}
		}
		step, ok := byID[id]
		if !ok {
			return nil
		}

		visiting[id] = true
		for _, need := range step.Needs {
			if _, ok := byID[need]; !ok {
				return &MissingDependencyError{StepID: id, NeededID: need}
			}
			if err := visit(need); err != nil {
				return err
			}
		}
		visiting[id] = false
		done[id] = true
		order = append(order, id)
		return nil
	}

	for _, s := range spec.Steps {
		if err := visit(s.ID); err != nil {
			return nil, err
		}
	}

	return order, nil
}

// GetReadySteps filters steps to those not yet in completed whose every
// dependency is already in completed. The sequential engine does not use
// this for scheduling (see the parallelism non-goal), but it is exposed for
// future parallel schedulers.
func GetReadySteps(steps []models.Step, completed map[string]bool) []models.Step {
	ready := make([]models.Step, 0)
	for _, s := range steps {
		if completed[s.ID] {
			continue
		}
		allDone := true
		for _, need := range s.Needs {
			if !completed[need] {
				allDone = false
				break
			}
		}
		if allDone {
			ready = append(ready, s)
		}
	}
	return ready
}
