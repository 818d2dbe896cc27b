package readiness_test

import (
	"testing"

	"commitline/internal/domain"
	"commitline/internal/readiness"
)

func constraint(id string, status domain.ConstraintStatus) domain.Constraint {
	return domain.Constraint{ID: id, WorkItemID: "w1", Type: "Materials", Status: status}
}

func TestEvaluate(t *testing.T) {
	cases := []struct {
		name        string
		constraints []domain.Constraint
		want        domain.WorkItemState
	}{
		{"no constraints", nil, domain.StateNotReady},
		{"single open", []domain.Constraint{constraint("a", domain.ConstraintOpen)}, domain.StateNotReady},
		{"single cleared", []domain.Constraint{constraint("a", domain.ConstraintCleared)}, domain.StateReady},
		{"mixed", []domain.Constraint{
			constraint("a", domain.ConstraintCleared),
			constraint("b", domain.ConstraintOpen),
		}, domain.StateNotReady},
		{"all cleared", []domain.Constraint{
			constraint("a", domain.ConstraintCleared),
			constraint("b", domain.ConstraintCleared),
		}, domain.StateReady},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := readiness.Evaluate(tc.constraints); got != tc.want {
				t.Fatalf("want %s, got %s", tc.want, got)
			}
		})
	}
}

func TestOpenIDs(t *testing.T) {
	ids := readiness.OpenIDs([]domain.Constraint{
		constraint("a", domain.ConstraintCleared),
		constraint("b", domain.ConstraintOpen),
		constraint("c", domain.ConstraintOpen),
	})
	if len(ids) != 2 || ids[0] != "b" || ids[1] != "c" {
		t.Fatalf("unexpected open ids %v", ids)
	}
	// empty input still serializes as [] in refusal payloads
	if ids := readiness.OpenIDs(nil); ids == nil || len(ids) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v", ids)
	}
}
