package engine

import "fmt"

// Refusal codes.
const (
	RefusalNotReady          = "not_ready"
	RefusalActiveCommitment  = "active_commitment_exists"
	RefusalNotActive         = "commitment_not_active"
	RefusalImmutableField    = "immutable_field"
	RefusalIllegalTransition = "illegal_transition"
)

// Refusal is the system working correctly: a final, server-enforced
// rejection of an action that violates a core invariant. It is distinct
// from a validation error and carries the Open constraints it cites.
type Refusal struct {
	Code              string
	Message           string
	OpenConstraintIDs []string
}

func (r *Refusal) Error() string {
	return fmt.Sprintf("refusal (%s): %s", r.Code, r.Message)
}

func refuse(code, format string, args ...any) *Refusal {
	return &Refusal{Code: code, Message: fmt.Sprintf(format, args...)}
}
