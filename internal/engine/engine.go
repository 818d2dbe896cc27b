// Package engine orchestrates every legal state transition. All writes to
// work items, constraints, commitments, learning signals, and the audit log
// go through one of its operations; each operation is a single transaction.
package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"commitline/internal/audit"
	"commitline/internal/config"
	"commitline/internal/domain"
	"commitline/internal/readiness"
	"commitline/internal/repo"
	"commitline/internal/signal"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Audit  audit.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Audit:  audit.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// WorkItemCreateOptions are parameters for creating a work item.
type WorkItemCreateOptions struct {
	Title                   string
	Description             string
	Location                string
	OwnerUserID             string
	ReferencePlanSystem     string
	ReferencePlanExternalID string
	ReferencePlanDatesJSON  string
	ActorID                 string
}

// CreateWorkItem creates a work item in Intent and immediately re-evaluates
// readiness against its empty constraint set, so the returned item is
// already Not Ready. Intent is never a resting state.
func (e Engine) CreateWorkItem(ctx context.Context, opts WorkItemCreateOptions) (domain.WorkItem, error) {
	if e.Config == nil {
		return domain.WorkItem{}, errors.New("config not loaded")
	}
	if strings.TrimSpace(opts.Title) == "" {
		return domain.WorkItem{}, errors.New("title is required")
	}
	if strings.TrimSpace(opts.OwnerUserID) == "" {
		return domain.WorkItem{}, errors.New("owner_user_id is required")
	}
	if opts.ReferencePlanSystem != "" && !domain.ReferencePlanSystem(opts.ReferencePlanSystem).Valid() {
		return domain.WorkItem{}, fmt.Errorf("invalid reference_plan_system %q", opts.ReferencePlanSystem)
	}
	if opts.ReferencePlanDatesJSON != "" {
		if err := validateJSON(opts.ReferencePlanDatesJSON); err != nil {
			return domain.WorkItem{}, fmt.Errorf("reference_plan_dates_json: %w", err)
		}
	}
	now := e.now().UTC().Format(time.RFC3339)
	w := domain.WorkItem{
		ID:          uuid.New().String(),
		Title:       opts.Title,
		Description: opts.Description,
		Location:    opts.Location,
		OwnerUserID: opts.OwnerUserID,
		State:       domain.StateIntent,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.ReferencePlanSystem != "" {
		s := domain.ReferencePlanSystem(opts.ReferencePlanSystem)
		w.ReferencePlanSystem = &s
	}
	if opts.ReferencePlanExternalID != "" {
		w.ReferencePlanExternalID = &opts.ReferencePlanExternalID
	}
	if opts.ReferencePlanDatesJSON != "" {
		w.ReferencePlanDatesJSON = &opts.ReferencePlanDatesJSON
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkItem{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertWorkItem(ctx, tx, w); err != nil {
		return domain.WorkItem{}, fmt.Errorf("insert work item: %w", err)
	}
	w, err = e.reevaluate(ctx, tx, w)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if err := e.Audit.Append(ctx, tx, now, audit.WorkItemCreated, audit.EntityWorkItem, w.ID, opts.ActorID, audit.EventPayload{
		"title": w.Title,
		"state": w.State,
	}); err != nil {
		return domain.WorkItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkItem{}, err
	}
	return w, nil
}

// ConstraintCreateOptions are parameters for adding a constraint.
type ConstraintCreateOptions struct {
	Type        string
	Description string
	ActorID     string
}

// AddConstraint attaches an Open constraint. If the work item was Ready the
// re-evaluation forces it back to Not Ready.
func (e Engine) AddConstraint(ctx context.Context, workItemID string, opts ConstraintCreateOptions) (domain.Constraint, error) {
	if e.Config == nil {
		return domain.Constraint{}, errors.New("config not loaded")
	}
	if strings.TrimSpace(opts.Type) == "" {
		return domain.Constraint{}, errors.New("type is required")
	}
	if !e.Config.KnownConstraintType(opts.Type) {
		return domain.Constraint{}, fmt.Errorf("invalid constraint type %q; not in catalog", opts.Type)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Constraint{}, err
	}
	defer tx.Rollback()

	w, err := e.Repo.GetWorkItemTx(ctx, tx, workItemID)
	if err != nil {
		return domain.Constraint{}, err
	}
	c := domain.Constraint{
		ID:          uuid.New().String(),
		WorkItemID:  w.ID,
		Type:        opts.Type,
		Description: opts.Description,
		Status:      domain.ConstraintOpen,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertConstraint(ctx, tx, c); err != nil {
		return domain.Constraint{}, fmt.Errorf("insert constraint: %w", err)
	}
	if _, err := e.reevaluate(ctx, tx, w); err != nil {
		return domain.Constraint{}, err
	}
	if err := e.Audit.Append(ctx, tx, c.CreatedAt, audit.ConstraintCreated, audit.EntityConstraint, c.ID, opts.ActorID, audit.EventPayload{
		"work_item_id": w.ID,
		"type":         c.Type,
	}); err != nil {
		return domain.Constraint{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Constraint{}, err
	}
	return c, nil
}

// ClearConstraint marks a constraint Cleared with clearer attribution and
// re-evaluates the owning work item. Clearing an already-Cleared constraint
// is a deterministic no-op: no state change, no audit event.
func (e Engine) ClearConstraint(ctx context.Context, constraintID, actorID string) (domain.Constraint, error) {
	if strings.TrimSpace(actorID) == "" {
		return domain.Constraint{}, errors.New("actor_id is required to clear a constraint")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Constraint{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetConstraintTx(ctx, tx, constraintID)
	if err != nil {
		return domain.Constraint{}, err
	}
	if c.Status == domain.ConstraintCleared {
		return c, nil
	}
	now := e.now().UTC().Format(time.RFC3339)
	c.Status = domain.ConstraintCleared
	c.ClearedByUserID = &actorID
	c.ClearedAt = &now
	if err := e.Repo.UpdateConstraintStatus(ctx, tx, c); err != nil {
		return domain.Constraint{}, err
	}
	w, err := e.Repo.GetWorkItemTx(ctx, tx, c.WorkItemID)
	if err != nil {
		return domain.Constraint{}, err
	}
	if _, err := e.reevaluate(ctx, tx, w); err != nil {
		return domain.Constraint{}, err
	}
	if err := e.Audit.Append(ctx, tx, now, audit.ConstraintCleared, audit.EntityConstraint, c.ID, actorID, audit.EventPayload{
		"work_item_id": c.WorkItemID,
		"type":         c.Type,
	}); err != nil {
		return domain.Constraint{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Constraint{}, err
	}
	return c, nil
}

// ReopenConstraint sets a Cleared constraint back to Open, dropping the
// clearer attribution, and re-evaluates the owning work item. Reopening an
// already-Open constraint is a deterministic no-op.
func (e Engine) ReopenConstraint(ctx context.Context, constraintID, actorID string) (domain.Constraint, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Constraint{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetConstraintTx(ctx, tx, constraintID)
	if err != nil {
		return domain.Constraint{}, err
	}
	if c.Status == domain.ConstraintOpen {
		return c, nil
	}
	now := e.now().UTC().Format(time.RFC3339)
	c.Status = domain.ConstraintOpen
	c.ClearedByUserID = nil
	c.ClearedAt = nil
	if err := e.Repo.UpdateConstraintStatus(ctx, tx, c); err != nil {
		return domain.Constraint{}, err
	}
	w, err := e.Repo.GetWorkItemTx(ctx, tx, c.WorkItemID)
	if err != nil {
		return domain.Constraint{}, err
	}
	if _, err := e.reevaluate(ctx, tx, w); err != nil {
		return domain.Constraint{}, err
	}
	if err := e.Audit.Append(ctx, tx, now, audit.ConstraintReopened, audit.EntityConstraint, c.ID, actorID, audit.EventPayload{
		"work_item_id": c.WorkItemID,
		"type":         c.Type,
	}); err != nil {
		return domain.Constraint{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Constraint{}, err
	}
	return c, nil
}

// CommitmentCreateOptions are parameters for creating a commitment.
type CommitmentCreateOptions struct {
	OwnerUserID string
	DueAt       time.Time
	ActorID     string
}

// CreateCommitment promises delivery of a Ready work item. If the item is
// not Ready the call is refused: nothing is created, nothing transitions,
// and a commitment_refused_not_ready audit event citing the Open
// constraints is the only write. There is no override path.
func (e Engine) CreateCommitment(ctx context.Context, workItemID string, opts CommitmentCreateOptions) (domain.Commitment, error) {
	if opts.DueAt.IsZero() {
		return domain.Commitment{}, errors.New("due_at is required")
	}
	if strings.TrimSpace(opts.ActorID) == "" {
		return domain.Commitment{}, errors.New("actor_id is required to commit")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Commitment{}, err
	}
	defer tx.Rollback()

	w, err := e.Repo.GetWorkItemTx(ctx, tx, workItemID)
	if err != nil {
		return domain.Commitment{}, err
	}
	constraints, err := e.Repo.ListConstraintsTx(ctx, tx, w.ID)
	if err != nil {
		return domain.Commitment{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	if w.State != domain.StateReady {
		openIDs := readiness.OpenIDs(constraints)
		if err := e.Audit.Append(ctx, tx, now, audit.CommitmentRefusedNotReady, audit.EntityWorkItem, w.ID, opts.ActorID, audit.EventPayload{
			"work_item_id":        w.ID,
			"state":               w.State,
			"open_constraint_ids": openIDs,
			"constraint_count":    len(constraints),
			"attempted_by":        opts.ActorID,
		}); err != nil {
			return domain.Commitment{}, err
		}
		if err := tx.Commit(); err != nil {
			return domain.Commitment{}, err
		}
		r := refuse(RefusalNotReady, "cannot commit %s work; %d constraint(s) open", w.State, len(openIDs))
		if len(constraints) == 0 {
			r.Message = "cannot commit work with no constraints; add at least one and clear it to demonstrate readiness"
		}
		r.OpenConstraintIDs = openIDs
		return domain.Commitment{}, r
	}
	// A Ready item cannot have an Active commitment; this guard catches
	// callers racing past the state check before the unique index does.
	if _, err := e.Repo.ActiveCommitmentTx(ctx, tx, w.ID); err == nil {
		return domain.Commitment{}, refuse(RefusalActiveCommitment, "work item %s already has an active commitment", w.ID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Commitment{}, err
	}
	owner := opts.OwnerUserID
	if owner == "" {
		owner = w.OwnerUserID
	}
	c := domain.Commitment{
		ID:                uuid.New().String(),
		WorkItemID:        w.ID,
		CommittedByUserID: opts.ActorID,
		OwnerUserID:       owner,
		DueAt:             opts.DueAt.UTC().Format(time.RFC3339),
		Status:            domain.CommitmentActive,
		CreatedAt:         now,
	}
	if err := e.Repo.InsertCommitment(ctx, tx, c); err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.Commitment{}, repo.ErrConflict
		}
		return domain.Commitment{}, fmt.Errorf("insert commitment: %w", err)
	}
	if err := e.Repo.UpdateWorkItemState(ctx, tx, w.ID, domain.StateCommitted, now, w.Version); err != nil {
		return domain.Commitment{}, err
	}
	if err := e.Audit.Append(ctx, tx, now, audit.CommitmentCreated, audit.EntityCommitment, c.ID, opts.ActorID, audit.EventPayload{
		"work_item_id": w.ID,
		"due_at":       c.DueAt,
		"owner":        c.OwnerUserID,
	}); err != nil {
		return domain.Commitment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Commitment{}, err
	}
	return c, nil
}

// CompleteCommitment terminates an Active commitment. On-time completion
// moves commitment and work item to Complete. Completion strictly after
// due_at is never a success: it is routed through the failure path with
// cause Other and an automatic note, exactly as an explicit failure would
// be, including the learning signal.
func (e Engine) CompleteCommitment(ctx context.Context, commitmentID, actorID string, now time.Time) (domain.Commitment, error) {
	if now.IsZero() {
		now = e.now()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Commitment{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCommitmentTx(ctx, tx, commitmentID)
	if err != nil {
		return domain.Commitment{}, err
	}
	if c.Status != domain.CommitmentActive {
		return domain.Commitment{}, refuse(RefusalNotActive, "commitment %s is %s, not Active", c.ID, c.Status)
	}
	due, err := time.Parse(time.RFC3339, c.DueAt)
	if err != nil {
		return domain.Commitment{}, fmt.Errorf("parse due_at: %w", err)
	}
	if now.After(due) {
		cause := signal.Cause{
			Primary: domain.CauseOther,
			Notes:   "Auto-failed: completed after due date",
		}
		c, _, err = e.failTx(ctx, tx, c, actorID, cause, now)
		if err != nil {
			return domain.Commitment{}, err
		}
		if err := tx.Commit(); err != nil {
			return domain.Commitment{}, err
		}
		return c, nil
	}
	ts := now.UTC().Format(time.RFC3339)
	if err := e.Repo.SetCommitmentOutcome(ctx, tx, c.ID, domain.CommitmentComplete, &ts, nil); err != nil {
		return domain.Commitment{}, err
	}
	w, err := e.Repo.GetWorkItemTx(ctx, tx, c.WorkItemID)
	if err != nil {
		return domain.Commitment{}, err
	}
	if err := e.Repo.UpdateWorkItemState(ctx, tx, w.ID, domain.StateComplete, ts, w.Version); err != nil {
		return domain.Commitment{}, err
	}
	if err := e.Audit.Append(ctx, tx, ts, audit.CommitmentCompleted, audit.EntityCommitment, c.ID, actorID, audit.EventPayload{
		"work_item_id": c.WorkItemID,
		"due_at":       c.DueAt,
	}); err != nil {
		return domain.Commitment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Commitment{}, err
	}
	c.Status = domain.CommitmentComplete
	c.CompletedAt = &ts
	return c, nil
}

// FailCommitment terminates an Active commitment as Failed and generates
// its learning signal in the same transaction. A failure record never
// exists without its signal: if the cause does not validate, nothing is
// written.
func (e Engine) FailCommitment(ctx context.Context, commitmentID, actorID string, cause signal.Cause) (domain.Commitment, domain.LearningSignal, error) {
	if err := cause.Validate(); err != nil {
		return domain.Commitment{}, domain.LearningSignal{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Commitment{}, domain.LearningSignal{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCommitmentTx(ctx, tx, commitmentID)
	if err != nil {
		return domain.Commitment{}, domain.LearningSignal{}, err
	}
	if c.Status != domain.CommitmentActive {
		return domain.Commitment{}, domain.LearningSignal{}, refuse(RefusalNotActive, "commitment %s is %s, not Active", c.ID, c.Status)
	}
	c, s, err := e.failTx(ctx, tx, c, actorID, cause, e.now())
	if err != nil {
		return domain.Commitment{}, domain.LearningSignal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Commitment{}, domain.LearningSignal{}, err
	}
	return c, s, nil
}

// failTx is the single failure path shared by FailCommitment and late
// CompleteCommitment. Caller holds the transaction and has verified the
// commitment is Active.
func (e Engine) failTx(ctx context.Context, tx *sql.Tx, c domain.Commitment, actorID string, cause signal.Cause, now time.Time) (domain.Commitment, domain.LearningSignal, error) {
	w, err := e.Repo.GetWorkItemTx(ctx, tx, c.WorkItemID)
	if err != nil {
		return c, domain.LearningSignal{}, err
	}
	s, err := signal.Generate(w, c, cause, now)
	if err != nil {
		return c, domain.LearningSignal{}, err
	}
	ts := now.UTC().Format(time.RFC3339)
	if err := e.Repo.SetCommitmentOutcome(ctx, tx, c.ID, domain.CommitmentFailed, nil, &ts); err != nil {
		return c, domain.LearningSignal{}, err
	}
	if err := e.Repo.UpdateWorkItemState(ctx, tx, w.ID, domain.StateFailed, ts, w.Version); err != nil {
		return c, domain.LearningSignal{}, err
	}
	if err := e.Repo.InsertLearningSignal(ctx, tx, s); err != nil {
		return c, domain.LearningSignal{}, fmt.Errorf("insert learning signal: %w", err)
	}
	if err := e.Audit.Append(ctx, tx, ts, audit.CommitmentFailed, audit.EntityCommitment, c.ID, actorID, audit.EventPayload{
		"work_item_id":  w.ID,
		"primary_cause": s.PrimaryCause,
		"drilldown_key": s.DrilldownKey,
		"signal_id":     s.ID,
	}); err != nil {
		return c, domain.LearningSignal{}, err
	}
	c.Status = domain.CommitmentFailed
	c.FailedAt = &ts
	return c, s, nil
}

// AttemptModifyCommitment is the defensive guard for the immutable fields.
// It never succeeds: every call is refused and audited, regardless of
// caller identity or code path.
func (e Engine) AttemptModifyCommitment(ctx context.Context, commitmentID, field, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCommitmentTx(ctx, tx, commitmentID)
	if err != nil {
		return err
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Audit.Append(ctx, tx, now, audit.CommitmentModifyRefused, audit.EntityCommitment, c.ID, actorID, audit.EventPayload{
		"field":        field,
		"attempted_by": actorID,
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return refuse(RefusalImmutableField, "commitment field %s is immutable once created", field)
}

// ResetWorkItem starts a brand-new Intent lifecycle for a Complete or
// Failed work item. Terminal commitments stay terminal; the fresh Intent is
// immediately re-evaluated like any other.
func (e Engine) ResetWorkItem(ctx context.Context, workItemID, actorID string) (domain.WorkItem, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkItem{}, err
	}
	defer tx.Rollback()

	w, err := e.Repo.GetWorkItemTx(ctx, tx, workItemID)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if !w.State.Terminal() {
		return domain.WorkItem{}, refuse(RefusalIllegalTransition, "only Complete or Failed work items can be reset; current state is %s", w.State)
	}
	from := w.State
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateWorkItemState(ctx, tx, w.ID, domain.StateIntent, now, w.Version); err != nil {
		return domain.WorkItem{}, err
	}
	w.State = domain.StateIntent
	w.Version++
	w.UpdatedAt = now
	w, err = e.reevaluate(ctx, tx, w)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if err := e.Audit.Append(ctx, tx, now, audit.WorkItemReset, audit.EntityWorkItem, w.ID, actorID, audit.EventPayload{
		"from":  from,
		"state": w.State,
	}); err != nil {
		return domain.WorkItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkItem{}, err
	}
	return w, nil
}

// reevaluate recomputes readiness for the gating states. Committed and the
// terminal states are untouchable here: only commitment outcomes or an
// explicit reset move them.
func (e Engine) reevaluate(ctx context.Context, tx *sql.Tx, w domain.WorkItem) (domain.WorkItem, error) {
	switch w.State {
	case domain.StateCommitted, domain.StateComplete, domain.StateFailed:
		return w, nil
	}
	constraints, err := e.Repo.ListConstraintsTx(ctx, tx, w.ID)
	if err != nil {
		return w, err
	}
	next := readiness.Evaluate(constraints)
	if next == w.State {
		return w, nil
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateWorkItemState(ctx, tx, w.ID, next, now, w.Version); err != nil {
		return w, err
	}
	w.State = next
	w.Version++
	w.UpdatedAt = now
	return w, nil
}

func validateJSON(in string) error {
	var tmp any
	if err := json.Unmarshal([]byte(in), &tmp); err != nil {
		return err
	}
	return nil
}
