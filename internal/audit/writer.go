// Package audit is the append-only event sink. It exposes a single insert
// operation; there is no update or delete surface anywhere in the module,
// so once a row is written it stays written.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Event types emitted by the engine. One event per operation.
const (
	WorkItemCreated           = "work_item_created"
	WorkItemReset             = "work_item_reset"
	ConstraintCreated         = "constraint_created"
	ConstraintCleared         = "constraint_cleared"
	ConstraintReopened        = "constraint_reopened"
	CommitmentCreated         = "commitment_created"
	CommitmentCompleted       = "commitment_completed"
	CommitmentFailed          = "commitment_failed"
	CommitmentRefusedNotReady = "commitment_refused_not_ready"
	CommitmentModifyRefused   = "commitment_modify_refused"
)

// Entity kinds recorded on events.
const (
	EntityWorkItem   = "work_item"
	EntityConstraint = "constraint"
	EntityCommitment = "commitment"
)

type Writer struct {
	DB *sql.DB
}

type EventPayload map[string]any

// Append inserts one event inside the caller's transaction so the log stays
// causally consistent with the state change it records. The caller supplies
// ts (RFC3339) so the event carries the same clock as the state change.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, ts, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO audit_events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, entityID, actorID, string(data))
	return err
}
