// Package readiness holds the single readiness rule. No other component may
// compute readiness on its own; the engine calls Evaluate after every
// constraint mutation.
package readiness

import "commitline/internal/domain"

// Evaluate maps a work item's constraint set to a binary verdict.
//
// Ready iff the set is non-empty and every constraint is Cleared. An empty
// set is Not Ready: a work item with nothing to clear has not demonstrated
// readiness, it has merely not been examined.
func Evaluate(constraints []domain.Constraint) domain.WorkItemState {
	if len(constraints) == 0 {
		return domain.StateNotReady
	}
	for _, c := range constraints {
		if c.Status != domain.ConstraintCleared {
			return domain.StateNotReady
		}
	}
	return domain.StateReady
}

// OpenIDs returns the ids of constraints still Open, in input order. Used by
// refusal payloads to cite the blocking constraints.
func OpenIDs(constraints []domain.Constraint) []string {
	ids := []string{}
	for _, c := range constraints {
		if c.Status == domain.ConstraintOpen {
			ids = append(ids, c.ID)
		}
	}
	return ids
}
