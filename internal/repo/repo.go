package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"commitline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict signals a lost optimistic-concurrency race; callers may retry.
	ErrConflict = errors.New("conflict: entity was modified concurrently")
)

// IsUniqueViolation reports whether err is a SQLite unique-index violation,
// such as a second Active commitment racing past the engine check into the
// partial unique index.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// --- work items ---

const workItemCols = `id,title,COALESCE(description,''),COALESCE(location,''),owner_user_id,state,reference_plan_system,reference_plan_external_id,reference_plan_dates_json,version,created_at,updated_at`

func scanWorkItem(scan func(dest ...any) error) (domain.WorkItem, error) {
	var w domain.WorkItem
	var system, extID, dates sql.NullString
	err := scan(&w.ID, &w.Title, &w.Description, &w.Location, &w.OwnerUserID, &w.State,
		&system, &extID, &dates, &w.Version, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if err != nil {
		return w, err
	}
	if system.Valid {
		s := domain.ReferencePlanSystem(system.String)
		w.ReferencePlanSystem = &s
	}
	if extID.Valid {
		w.ReferencePlanExternalID = &extID.String
	}
	if dates.Valid {
		w.ReferencePlanDatesJSON = &dates.String
	}
	return w, nil
}

func (r Repo) InsertWorkItem(ctx context.Context, tx *sql.Tx, w domain.WorkItem) error {
	var system any
	if w.ReferencePlanSystem != nil {
		system = string(*w.ReferencePlanSystem)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO work_items(id,title,description,location,owner_user_id,state,reference_plan_system,reference_plan_external_id,reference_plan_dates_json,version,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		w.ID, w.Title, nullable(w.Description), nullable(w.Location), w.OwnerUserID, string(w.State),
		system, nullableStringPtr(w.ReferencePlanExternalID), nullableStringPtr(w.ReferencePlanDatesJSON),
		w.Version, w.CreatedAt, w.UpdatedAt)
	return err
}

func (r Repo) GetWorkItem(ctx context.Context, id string) (domain.WorkItem, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+workItemCols+` FROM work_items WHERE id=?`, id)
	return scanWorkItem(row.Scan)
}

func (r Repo) GetWorkItemTx(ctx context.Context, tx *sql.Tx, id string) (domain.WorkItem, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+workItemCols+` FROM work_items WHERE id=?`, id)
	return scanWorkItem(row.Scan)
}

// UpdateWorkItemState moves a work item to a new state iff nobody else has
// touched the row since it was read. Zero rows affected means the version
// check lost a race and the whole operation must be rejected as a conflict.
func (r Repo) UpdateWorkItemState(ctx context.Context, tx *sql.Tx, id string, state domain.WorkItemState, updatedAt string, expectedVersion int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE work_items SET state=?, updated_at=?, version=version+1 WHERE id=? AND version=?`,
		string(state), updatedAt, id, expectedVersion)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

type WorkItemFilters struct {
	State domain.WorkItemState
	Owner string
	Limit int
}

func (r Repo) ListWorkItems(ctx context.Context, f WorkItemFilters) ([]domain.WorkItem, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.State != "" {
		clauses = append(clauses, "state=?")
		args = append(args, string(f.State))
	}
	if f.Owner != "" {
		clauses = append(clauses, "owner_user_id=?")
		args = append(args, f.Owner)
	}
	query := `SELECT ` + workItemCols + ` FROM work_items WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkItem
	for rows.Next() {
		w, err := scanWorkItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

func (r Repo) CountWorkItemsByState(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT state, COUNT(*) FROM work_items GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

// --- constraints ---

const constraintCols = `id,work_item_id,type,COALESCE(description,''),status,cleared_by_user_id,cleared_at,created_at`

func scanConstraint(scan func(dest ...any) error) (domain.Constraint, error) {
	var c domain.Constraint
	var clearedBy, clearedAt sql.NullString
	err := scan(&c.ID, &c.WorkItemID, &c.Type, &c.Description, &c.Status, &clearedBy, &clearedAt, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if clearedBy.Valid {
		c.ClearedByUserID = &clearedBy.String
	}
	if clearedAt.Valid {
		c.ClearedAt = &clearedAt.String
	}
	return c, nil
}

func (r Repo) InsertConstraint(ctx context.Context, tx *sql.Tx, c domain.Constraint) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO constraints(id,work_item_id,type,description,status,cleared_by_user_id,cleared_at,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, c.WorkItemID, c.Type, nullable(c.Description), string(c.Status),
		nullableStringPtr(c.ClearedByUserID), nullableStringPtr(c.ClearedAt), c.CreatedAt)
	return err
}

func (r Repo) GetConstraint(ctx context.Context, id string) (domain.Constraint, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+constraintCols+` FROM constraints WHERE id=?`, id)
	return scanConstraint(row.Scan)
}

func (r Repo) GetConstraintTx(ctx context.Context, tx *sql.Tx, id string) (domain.Constraint, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+constraintCols+` FROM constraints WHERE id=?`, id)
	return scanConstraint(row.Scan)
}

// UpdateConstraintStatus writes status and clearer attribution only. Type,
// owner work item, and creation time are never updated.
func (r Repo) UpdateConstraintStatus(ctx context.Context, tx *sql.Tx, c domain.Constraint) error {
	res, err := tx.ExecContext(ctx, `UPDATE constraints SET status=?, cleared_by_user_id=?, cleared_at=? WHERE id=?`,
		string(c.Status), nullableStringPtr(c.ClearedByUserID), nullableStringPtr(c.ClearedAt), c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListConstraints(ctx context.Context, workItemID string) ([]domain.Constraint, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+constraintCols+` FROM constraints WHERE work_item_id=? ORDER BY created_at ASC, id ASC`, workItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectConstraints(rows)
}

func (r Repo) ListConstraintsTx(ctx context.Context, tx *sql.Tx, workItemID string) ([]domain.Constraint, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+constraintCols+` FROM constraints WHERE work_item_id=? ORDER BY created_at ASC, id ASC`, workItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectConstraints(rows)
}

func collectConstraints(rows *sql.Rows) ([]domain.Constraint, error) {
	var res []domain.Constraint
	for rows.Next() {
		c, err := scanConstraint(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// --- commitments ---

const commitmentCols = `id,work_item_id,committed_by_user_id,owner_user_id,due_at,status,created_at,completed_at,failed_at`

func scanCommitment(scan func(dest ...any) error) (domain.Commitment, error) {
	var c domain.Commitment
	var completedAt, failedAt sql.NullString
	err := scan(&c.ID, &c.WorkItemID, &c.CommittedByUserID, &c.OwnerUserID, &c.DueAt, &c.Status, &c.CreatedAt, &completedAt, &failedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if completedAt.Valid {
		c.CompletedAt = &completedAt.String
	}
	if failedAt.Valid {
		c.FailedAt = &failedAt.String
	}
	return c, nil
}

func (r Repo) InsertCommitment(ctx context.Context, tx *sql.Tx, c domain.Commitment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO commitments(id,work_item_id,committed_by_user_id,owner_user_id,due_at,status,created_at,completed_at,failed_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		c.ID, c.WorkItemID, c.CommittedByUserID, c.OwnerUserID, c.DueAt, string(c.Status), c.CreatedAt,
		nullableStringPtr(c.CompletedAt), nullableStringPtr(c.FailedAt))
	return err
}

func (r Repo) GetCommitment(ctx context.Context, id string) (domain.Commitment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+commitmentCols+` FROM commitments WHERE id=?`, id)
	return scanCommitment(row.Scan)
}

func (r Repo) GetCommitmentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Commitment, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+commitmentCols+` FROM commitments WHERE id=?`, id)
	return scanCommitment(row.Scan)
}

// ActiveCommitmentTx returns the single Active commitment for a work item,
// or ErrNotFound. The partial unique index guarantees there is at most one.
func (r Repo) ActiveCommitmentTx(ctx context.Context, tx *sql.Tx, workItemID string) (domain.Commitment, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+commitmentCols+` FROM commitments WHERE work_item_id=? AND status='Active'`, workItemID)
	return scanCommitment(row.Scan)
}

// SetCommitmentOutcome terminates an Active commitment. Only status and the
// terminal timestamp change; the immutable fields are not in the statement
// at all, and the status guard makes termination single-shot.
func (r Repo) SetCommitmentOutcome(ctx context.Context, tx *sql.Tx, id string, status domain.CommitmentStatus, completedAt, failedAt *string) error {
	res, err := tx.ExecContext(ctx, `UPDATE commitments SET status=?, completed_at=?, failed_at=? WHERE id=? AND status='Active'`,
		string(status), nullableStringPtr(completedAt), nullableStringPtr(failedAt), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

func (r Repo) ListCommitments(ctx context.Context, workItemID string) ([]domain.Commitment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+commitmentCols+` FROM commitments WHERE work_item_id=? ORDER BY created_at DESC, id DESC`, workItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Commitment
	for rows.Next() {
		c, err := scanCommitment(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// --- learning signals ---

const signalCols = `id,work_item_id,commitment_id,primary_cause,secondary_cause,notes,drilldown_key,created_at`

func scanSignal(scan func(dest ...any) error) (domain.LearningSignal, error) {
	var s domain.LearningSignal
	var secondary, notes sql.NullString
	err := scan(&s.ID, &s.WorkItemID, &s.CommitmentID, &s.PrimaryCause, &secondary, &notes, &s.DrilldownKey, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if secondary.Valid {
		s.SecondaryCause = &secondary.String
	}
	if notes.Valid {
		s.Notes = &notes.String
	}
	return s, nil
}

func (r Repo) InsertLearningSignal(ctx context.Context, tx *sql.Tx, s domain.LearningSignal) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO learning_signals(id,work_item_id,commitment_id,primary_cause,secondary_cause,notes,drilldown_key,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		s.ID, s.WorkItemID, s.CommitmentID, string(s.PrimaryCause),
		nullableStringPtr(s.SecondaryCause), nullableStringPtr(s.Notes), s.DrilldownKey, s.CreatedAt)
	return err
}

func (r Repo) GetLearningSignalByCommitment(ctx context.Context, commitmentID string) (domain.LearningSignal, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+signalCols+` FROM learning_signals WHERE commitment_id=?`, commitmentID)
	return scanSignal(row.Scan)
}

type SignalFilters struct {
	WorkItemID string
	Cause      domain.PrimaryCause
	Since      string
	Until      string
}

func (r Repo) ListLearningSignals(ctx context.Context, f SignalFilters) ([]domain.LearningSignal, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.WorkItemID != "" {
		clauses = append(clauses, "work_item_id=?")
		args = append(args, f.WorkItemID)
	}
	if f.Cause != "" {
		clauses = append(clauses, "primary_cause=?")
		args = append(args, string(f.Cause))
	}
	if f.Since != "" {
		clauses = append(clauses, "created_at>=?")
		args = append(args, f.Since)
	}
	if f.Until != "" {
		clauses = append(clauses, "created_at<=?")
		args = append(args, f.Until)
	}
	query := `SELECT ` + signalCols + ` FROM learning_signals WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LearningSignal
	for rows.Next() {
		s, err := scanSignal(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// --- audit events (read side; writes go through audit.Writer only) ---

type AuditFilters struct {
	EntityKind string
	EntityID   string
	Type       string
	ActorID    string
	Since      string
	Until      string
	Limit      int
}

func (r Repo) ListAuditEvents(ctx context.Context, f AuditFilters) ([]domain.AuditEvent, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.ActorID != "" {
		clauses = append(clauses, "actor_id=?")
		args = append(args, f.ActorID)
	}
	if f.Since != "" {
		clauses = append(clauses, "ts>=?")
		args = append(args, f.Since)
	}
	if f.Until != "" {
		clauses = append(clauses, "ts<=?")
		args = append(args, f.Until)
	}
	query := `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM audit_events WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY ts ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEvent
	for rows.Next() {
		var e domain.AuditEvent
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
