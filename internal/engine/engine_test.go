package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"commitline/internal/audit"
	"commitline/internal/config"
	"commitline/internal/db"
	"commitline/internal/domain"
	"commitline/internal/engine"
	"commitline/internal/migrate"
	"commitline/internal/repo"
	"commitline/internal/signal"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default("site-1"))
	eng.Now = func() time.Time { return time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func auditFilter(evtType, entityID string) repo.AuditFilters {
	return repo.AuditFilters{Type: evtType, EntityID: entityID}
}

func listSignals(workItemID string) repo.SignalFilters {
	return repo.SignalFilters{WorkItemID: workItemID}
}

func allEvents() repo.AuditFilters {
	return repo.AuditFilters{}
}

func mustCreate(t *testing.T, env testEnv, title string) domain.WorkItem {
	t.Helper()
	w, err := env.Engine.CreateWorkItem(env.Ctx, engine.WorkItemCreateOptions{
		Title:       title,
		OwnerUserID: "foreman-1",
		Location:    "Zone A",
		ActorID:     "planner-1",
	})
	if err != nil {
		t.Fatalf("create work item: %v", err)
	}
	return w
}

func mustReady(t *testing.T, env testEnv, w domain.WorkItem) domain.WorkItem {
	t.Helper()
	c, err := env.Engine.AddConstraint(env.Ctx, w.ID, engine.ConstraintCreateOptions{
		Type: "Materials", ActorID: "planner-1",
	})
	if err != nil {
		t.Fatalf("add constraint: %v", err)
	}
	if _, err := env.Engine.ClearConstraint(env.Ctx, c.ID, "planner-1"); err != nil {
		t.Fatalf("clear constraint: %v", err)
	}
	w, err = env.Engine.Repo.GetWorkItem(env.Ctx, w.ID)
	if err != nil {
		t.Fatalf("get work item: %v", err)
	}
	if w.State != domain.StateReady {
		t.Fatalf("expected Ready, got %s", w.State)
	}
	return w
}

func TestWorkItemNeverRestsInIntent(t *testing.T) {
	env := newTestEnv(t)
	w := mustCreate(t, env, "Pour slab")
	if w.State != domain.StateNotReady {
		t.Fatalf("new item should be Not Ready, got %s", w.State)
	}
}

func TestReadinessBinaryTransitions(t *testing.T) {
	env := newTestEnv(t)
	w := mustCreate(t, env, "Install ducts")
	c1, err := env.Engine.AddConstraint(env.Ctx, w.ID, engine.ConstraintCreateOptions{Type: "Access", ActorID: "planner-1"})
	if err != nil {
		t.Fatal(err)
	}
	c2, err := env.Engine.AddConstraint(env.Ctx, w.ID, engine.ConstraintCreateOptions{Type: "Permits", ActorID: "planner-1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ClearConstraint(env.Ctx, c1.ID, "super-1"); err != nil {
		t.Fatal(err)
	}
	w, _ = env.Engine.Repo.GetWorkItem(env.Ctx, w.ID)
	if w.State != domain.StateNotReady {
		t.Fatalf("one open constraint left, expected Not Ready, got %s", w.State)
	}
	if _, err := env.Engine.ClearConstraint(env.Ctx, c2.ID, "super-1"); err != nil {
		t.Fatal(err)
	}
	w, _ = env.Engine.Repo.GetWorkItem(env.Ctx, w.ID)
	if w.State != domain.StateReady {
		t.Fatalf("all cleared, expected Ready, got %s", w.State)
	}
	// reopening knocks it straight back
	if _, err := env.Engine.ReopenConstraint(env.Ctx, c1.ID, "super-1"); err != nil {
		t.Fatal(err)
	}
	w, _ = env.Engine.Repo.GetWorkItem(env.Ctx, w.ID)
	if w.State != domain.StateNotReady {
		t.Fatalf("reopened constraint, expected Not Ready, got %s", w.State)
	}
}

func TestAddConstraintKnocksReadyBack(t *testing.T) {
	env := newTestEnv(t)
	w := mustReady(t, env, mustCreate(t, env, "Ready until blocked"))
	c, err := env.Engine.AddConstraint(env.Ctx, w.ID, engine.ConstraintCreateOptions{Type: "Permits", ActorID: "planner-1"})
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != domain.ConstraintOpen {
		t.Fatalf("new constraint must be Open, got %s", c.Status)
	}
	w, _ = env.Engine.Repo.GetWorkItem(env.Ctx, w.ID)
	if w.State != domain.StateNotReady {
		t.Fatalf("open constraint must revert Ready to Not Ready, got %s", w.State)
	}
}

func TestClearIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	w := mustCreate(t, env, "Idempotent clear")
	c, err := env.Engine.AddConstraint(env.Ctx, w.ID, engine.ConstraintCreateOptions{Type: "Weather", ActorID: "planner-1"})
	if err != nil {
		t.Fatal(err)
	}
	first, err := env.Engine.ClearConstraint(env.Ctx, c.ID, "super-1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.Engine.ClearConstraint(env.Ctx, c.ID, "someone-else")
	if err != nil {
		t.Fatal(err)
	}
	if second.ClearedByUserID == nil || *second.ClearedByUserID != *first.ClearedByUserID {
		t.Fatalf("repeat clear must not change attribution")
	}
	events, err := env.Engine.Repo.ListAuditEvents(env.Ctx, auditFilter(audit.ConstraintCleared, c.ID))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("no-op clear must not append an event, got %d", len(events))
	}
}

func TestReopenIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	w := mustCreate(t, env, "Idempotent reopen")
	c, err := env.Engine.AddConstraint(env.Ctx, w.ID, engine.ConstraintCreateOptions{Type: "Access", ActorID: "planner-1"})
	if err != nil {
		t.Fatal(err)
	}
	// already Open: a deterministic no-op
	got, err := env.Engine.ReopenConstraint(env.Ctx, c.ID, "super-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.ConstraintOpen || got.ClearedByUserID != nil || got.ClearedAt != nil {
		t.Fatalf("no-op reopen must not change the constraint: %+v", got)
	}
	w, _ = env.Engine.Repo.GetWorkItem(env.Ctx, w.ID)
	if w.State != domain.StateNotReady {
		t.Fatalf("no-op reopen must not change state, got %s", w.State)
	}
	events, err := env.Engine.Repo.ListAuditEvents(env.Ctx, auditFilter(audit.ConstraintReopened, c.ID))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatalf("no-op reopen must not append an event, got %d", len(events))
	}
}

func TestCommitRefusedWhenNotReady(t *testing.T) {
	env := newTestEnv(t)
	w := mustCreate(t, env, "Premature commit")
	c, err := env.Engine.AddConstraint(env.Ctx, w.ID, engine.ConstraintCreateOptions{Type: "Information", ActorID: "planner-1"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.CreateCommitment(env.Ctx, w.ID, engine.CommitmentCreateOptions{
		DueAt: time.Date(2026, 3, 5, 17, 0, 0, 0, time.UTC), ActorID: "foreman-1",
	})
	var ref *engine.Refusal
	if !errors.As(err, &ref) {
		t.Fatalf("expected refusal, got %v", err)
	}
	if ref.Code != engine.RefusalNotReady {
		t.Fatalf("expected code %s, got %s", engine.RefusalNotReady, ref.Code)
	}
	if len(ref.OpenConstraintIDs) != 1 || ref.OpenConstraintIDs[0] != c.ID {
		t.Fatalf("refusal must cite the open constraint, got %v", ref.OpenConstraintIDs)
	}
	// nothing was created, nothing transitioned
	w, _ = env.Engine.Repo.GetWorkItem(env.Ctx, w.ID)
	if w.State != domain.StateNotReady {
		t.Fatalf("state must be unchanged, got %s", w.State)
	}
	commitments, _ := env.Engine.Repo.ListCommitments(env.Ctx, w.ID)
	if len(commitments) != 0 {
		t.Fatalf("no commitment must exist after refusal")
	}
	// but the refused attempt is in the log
	events, err := env.Engine.Repo.ListAuditEvents(env.Ctx, auditFilter(audit.CommitmentRefusedNotReady, w.ID))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected exactly one refusal event, got %d", len(events))
	}
}

func TestCommitRefusedWithZeroConstraints(t *testing.T) {
	env := newTestEnv(t)
	w := mustCreate(t, env, "No constraints yet")
	_, err := env.Engine.CreateCommitment(env.Ctx, w.ID, engine.CommitmentCreateOptions{
		DueAt: time.Date(2026, 3, 5, 17, 0, 0, 0, time.UTC), ActorID: "foreman-1",
	})
	var ref *engine.Refusal
	if !errors.As(err, &ref) {
		t.Fatalf("expected refusal, got %v", err)
	}
	if len(ref.OpenConstraintIDs) != 0 {
		t.Fatalf("zero-constraint item has no open constraints to cite, got %v", ref.OpenConstraintIDs)
	}
}

func TestCommitMovesReadyToCommitted(t *testing.T) {
	env := newTestEnv(t)
	w := mustReady(t, env, mustCreate(t, env, "Hang doors"))
	c, err := env.Engine.CreateCommitment(env.Ctx, w.ID, engine.CommitmentCreateOptions{
		DueAt: time.Date(2026, 3, 5, 17, 0, 0, 0, time.UTC), ActorID: "foreman-1",
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if c.Status != domain.CommitmentActive {
		t.Fatalf("expected Active commitment, got %s", c.Status)
	}
	if c.OwnerUserID != "foreman-1" {
		t.Fatalf("owner defaults to work item owner, got %s", c.OwnerUserID)
	}
	w, _ = env.Engine.Repo.GetWorkItem(env.Ctx, w.ID)
	if w.State != domain.StateCommitted {
		t.Fatalf("expected Committed, got %s", w.State)
	}
	// a second active commitment is refused
	_, err = env.Engine.CreateCommitment(env.Ctx, w.ID, engine.CommitmentCreateOptions{
		DueAt: time.Date(2026, 3, 6, 17, 0, 0, 0, time.UTC), ActorID: "foreman-1",
	})
	if err == nil {
		t.Fatalf("expected second commitment to be rejected")
	}
}

func TestStaleVersionSurfacesConflict(t *testing.T) {
	env := newTestEnv(t)
	w := mustCreate(t, env, "Stale token")
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	err = env.Engine.Repo.UpdateWorkItemState(env.Ctx, tx, w.ID, domain.StateReady, "2026-03-01T08:00:00Z", w.Version+41)
	if !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("stale version must surface ErrConflict, got %v", err)
	}
}

func TestConcurrentCommitsOneWinner(t *testing.T) {
	env := newTestEnv(t)
	w := mustReady(t, env, mustCreate(t, env, "Contested"))
	due := time.Date(2026, 3, 5, 17, 0, 0, 0, time.UTC)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.CreateCommitment(env.Ctx, w.ID, engine.CommitmentCreateOptions{
				DueAt: due, ActorID: "foreman-1",
			})
		}(i)
	}
	wg.Wait()
	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d (errors: %v)", wins, errs)
	}
	commitments, err := env.Engine.Repo.ListCommitments(env.Ctx, w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(commitments) != 1 || commitments[0].Status != domain.CommitmentActive {
		t.Fatalf("expected a single Active commitment, got %+v", commitments)
	}
	w, _ = env.Engine.Repo.GetWorkItem(env.Ctx, w.ID)
	if w.State != domain.StateCommitted {
		t.Fatalf("expected Committed, got %s", w.State)
	}
}

func TestCommittedItemIgnoresConstraintChurn(t *testing.T) {
	env := newTestEnv(t)
	w := mustReady(t, env, mustCreate(t, env, "Stable once committed"))
	if _, err := env.Engine.CreateCommitment(env.Ctx, w.ID, engine.CommitmentCreateOptions{
		DueAt: time.Date(2026, 3, 5, 17, 0, 0, 0, time.UTC), ActorID: "foreman-1",
	}); err != nil {
		t.Fatal(err)
	}
	// new open constraint must not knock a Committed item back
	if _, err := env.Engine.AddConstraint(env.Ctx, w.ID, engine.ConstraintCreateOptions{Type: "Weather", ActorID: "planner-1"}); err != nil {
		t.Fatal(err)
	}
	w, _ = env.Engine.Repo.GetWorkItem(env.Ctx, w.ID)
	if w.State != domain.StateCommitted {
		t.Fatalf("Committed must survive constraint churn, got %s", w.State)
	}
}

func TestCompleteOnTime(t *testing.T) {
	env := newTestEnv(t)
	w := mustReady(t, env, mustCreate(t, env, "On time"))
	c, err := env.Engine.CreateCommitment(env.Ctx, w.ID, engine.CommitmentCreateOptions{
		DueAt: time.Date(2026, 3, 5, 17, 0, 0, 0, time.UTC), ActorID: "foreman-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	done, err := env.Engine.CompleteCommitment(env.Ctx, c.ID, "foreman-1", time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != domain.CommitmentComplete || done.CompletedAt == nil {
		t.Fatalf("expected Complete with timestamp, got %+v", done)
	}
	w, _ = env.Engine.Repo.GetWorkItem(env.Ctx, w.ID)
	if w.State != domain.StateComplete {
		t.Fatalf("expected Complete work item, got %s", w.State)
	}
	// no signal on success
	if _, err := env.Engine.Repo.GetLearningSignalByCommitment(env.Ctx, c.ID); err == nil {
		t.Fatalf("on-time completion must not generate a signal")
	}
	// terminal commitment cannot be completed again
	_, err = env.Engine.CompleteCommitment(env.Ctx, c.ID, "foreman-1", time.Date(2026, 3, 4, 13, 0, 0, 0, time.UTC))
	var ref *engine.Refusal
	if !errors.As(err, &ref) || ref.Code != engine.RefusalNotActive {
		t.Fatalf("expected not-active refusal, got %v", err)
	}
}

func TestLateCompletionRoutesThroughFailure(t *testing.T) {
	env := newTestEnv(t)
	w := mustReady(t, env, mustCreate(t, env, "Late finish"))
	c, err := env.Engine.CreateCommitment(env.Ctx, w.ID, engine.CommitmentCreateOptions{
		DueAt: time.Date(2026, 3, 5, 17, 0, 0, 0, time.UTC), ActorID: "foreman-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := env.Engine.CompleteCommitment(env.Ctx, c.ID, "foreman-1", time.Date(2026, 3, 6, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("late complete: %v", err)
	}
	if got.Status != domain.CommitmentFailed {
		t.Fatalf("late completion is a failure, got %s", got.Status)
	}
	w, _ = env.Engine.Repo.GetWorkItem(env.Ctx, w.ID)
	if w.State != domain.StateFailed {
		t.Fatalf("expected Failed work item, got %s", w.State)
	}
	s, err := env.Engine.Repo.GetLearningSignalByCommitment(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("late completion must generate a signal: %v", err)
	}
	if s.PrimaryCause != domain.CauseOther {
		t.Fatalf("auto-fail cause must be Other, got %s", s.PrimaryCause)
	}
	if s.Notes == nil || *s.Notes != "Auto-failed: completed after due date" {
		t.Fatalf("unexpected auto-fail note: %+v", s.Notes)
	}
}

func TestFailRequiresValidCause(t *testing.T) {
	env := newTestEnv(t)
	w := mustReady(t, env, mustCreate(t, env, "Needs a cause"))
	c, err := env.Engine.CreateCommitment(env.Ctx, w.ID, engine.CommitmentCreateOptions{
		DueAt: time.Date(2026, 3, 5, 17, 0, 0, 0, time.UTC), ActorID: "foreman-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	// missing cause
	if _, _, err := env.Engine.FailCommitment(env.Ctx, c.ID, "foreman-1", signal.Cause{}); err == nil {
		t.Fatalf("expected error for missing cause")
	}
	// cause outside the closed set
	if _, _, err := env.Engine.FailCommitment(env.Ctx, c.ID, "foreman-1", signal.Cause{Primary: "Bad luck"}); err == nil {
		t.Fatalf("expected error for unknown cause")
	}
	// Other without notes
	if _, _, err := env.Engine.FailCommitment(env.Ctx, c.ID, "foreman-1", signal.Cause{Primary: domain.CauseOther}); err == nil {
		t.Fatalf("expected error for Other without notes")
	}
	// commitment untouched by the rejected attempts
	cur, _ := env.Engine.Repo.GetCommitment(env.Ctx, c.ID)
	if cur.Status != domain.CommitmentActive {
		t.Fatalf("rejected fails must not touch the commitment, got %s", cur.Status)
	}
	// valid cause succeeds and signal exists atomically
	failed, s, err := env.Engine.FailCommitment(env.Ctx, c.ID, "foreman-1", signal.Cause{
		Primary:   domain.CauseMaterials,
		Secondary: "Rebar delivery slipped",
	})
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if failed.Status != domain.CommitmentFailed {
		t.Fatalf("expected Failed, got %s", failed.Status)
	}
	if s.CommitmentID != c.ID || s.WorkItemID != w.ID {
		t.Fatalf("signal must reference commitment and work item: %+v", s)
	}
	if s.DrilldownKey != "Materials|Zone A|no_reference" {
		t.Fatalf("unexpected drilldown key %q", s.DrilldownKey)
	}
}

func TestExactlyOneSignalPerFailure(t *testing.T) {
	env := newTestEnv(t)
	w := mustReady(t, env, mustCreate(t, env, "One signal"))
	c, err := env.Engine.CreateCommitment(env.Ctx, w.ID, engine.CommitmentCreateOptions{
		DueAt: time.Date(2026, 3, 5, 17, 0, 0, 0, time.UTC), ActorID: "foreman-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := env.Engine.FailCommitment(env.Ctx, c.ID, "foreman-1", signal.Cause{Primary: domain.CauseWeather}); err != nil {
		t.Fatal(err)
	}
	// failing again is refused, so a second signal can never be written
	_, _, err = env.Engine.FailCommitment(env.Ctx, c.ID, "foreman-1", signal.Cause{Primary: domain.CauseAccess})
	var ref *engine.Refusal
	if !errors.As(err, &ref) || ref.Code != engine.RefusalNotActive {
		t.Fatalf("expected not-active refusal, got %v", err)
	}
	signals, err := env.Engine.Repo.ListLearningSignals(env.Ctx, listSignals(w.ID))
	if err != nil {
		t.Fatal(err)
	}
	if len(signals) != 1 {
		t.Fatalf("expected exactly one signal, got %d", len(signals))
	}
}

func TestAttemptModifyCommitmentAlwaysRefused(t *testing.T) {
	env := newTestEnv(t)
	w := mustReady(t, env, mustCreate(t, env, "Immutable"))
	c, err := env.Engine.CreateCommitment(env.Ctx, w.ID, engine.CommitmentCreateOptions{
		DueAt: time.Date(2026, 3, 5, 17, 0, 0, 0, time.UTC), ActorID: "foreman-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	err = env.Engine.AttemptModifyCommitment(env.Ctx, c.ID, "due_at", "admin-1")
	var ref *engine.Refusal
	if !errors.As(err, &ref) || ref.Code != engine.RefusalImmutableField {
		t.Fatalf("expected immutable-field refusal, got %v", err)
	}
	events, err := env.Engine.Repo.ListAuditEvents(env.Ctx, auditFilter(audit.CommitmentModifyRefused, c.ID))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("refused modification must be audited, got %d events", len(events))
	}
	cur, _ := env.Engine.Repo.GetCommitment(env.Ctx, c.ID)
	if cur.DueAt != c.DueAt {
		t.Fatalf("due_at changed")
	}
}

func TestResetWorkItem(t *testing.T) {
	env := newTestEnv(t)
	w := mustReady(t, env, mustCreate(t, env, "Second attempt"))
	c, err := env.Engine.CreateCommitment(env.Ctx, w.ID, engine.CommitmentCreateOptions{
		DueAt: time.Date(2026, 3, 5, 17, 0, 0, 0, time.UTC), ActorID: "foreman-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	// reset before terminal is an illegal transition
	_, err = env.Engine.ResetWorkItem(env.Ctx, w.ID, "planner-1")
	var ref *engine.Refusal
	if !errors.As(err, &ref) || ref.Code != engine.RefusalIllegalTransition {
		t.Fatalf("expected illegal-transition refusal, got %v", err)
	}
	if _, _, err := env.Engine.FailCommitment(env.Ctx, c.ID, "foreman-1", signal.Cause{Primary: domain.CauseInterfaces}); err != nil {
		t.Fatal(err)
	}
	w2, err := env.Engine.ResetWorkItem(env.Ctx, w.ID, "planner-1")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	// constraints from the first lifecycle were all Cleared, so the fresh
	// evaluation lands on Ready straight away
	if w2.State != domain.StateReady {
		t.Fatalf("expected Ready after reset with cleared constraints, got %s", w2.State)
	}
	// the failed commitment stays terminal
	old, _ := env.Engine.Repo.GetCommitment(env.Ctx, c.ID)
	if old.Status != domain.CommitmentFailed {
		t.Fatalf("terminal commitment must stay terminal, got %s", old.Status)
	}
	// a new commitment can be made on the new lifecycle
	if _, err := env.Engine.CreateCommitment(env.Ctx, w.ID, engine.CommitmentCreateOptions{
		DueAt: time.Date(2026, 3, 10, 17, 0, 0, 0, time.UTC), ActorID: "foreman-1",
	}); err != nil {
		t.Fatalf("commit after reset: %v", err)
	}
}

func TestConstraintTypeMustBeInCatalog(t *testing.T) {
	env := newTestEnv(t)
	w := mustCreate(t, env, "Catalog only")
	_, err := env.Engine.AddConstraint(env.Ctx, w.ID, engine.ConstraintCreateOptions{Type: "Vibes", ActorID: "planner-1"})
	if err == nil {
		t.Fatalf("expected catalog rejection")
	}
}

func TestAuditTrailOrderedAndComplete(t *testing.T) {
	env := newTestEnv(t)
	w := mustReady(t, env, mustCreate(t, env, "Audited"))
	c, err := env.Engine.CreateCommitment(env.Ctx, w.ID, engine.CommitmentCreateOptions{
		DueAt: time.Date(2026, 3, 5, 17, 0, 0, 0, time.UTC), ActorID: "foreman-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CompleteCommitment(env.Ctx, c.ID, "foreman-1", time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}
	events, err := env.Engine.Repo.ListAuditEvents(env.Ctx, allEvents())
	if err != nil {
		t.Fatal(err)
	}
	// created, constraint created, constraint cleared, committed, completed
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}
	var lastID int64
	for _, e := range events {
		if e.ID <= lastID {
			t.Fatalf("events not in insertion order")
		}
		lastID = e.ID
		if e.ActorID == "" {
			t.Fatalf("every event carries an actor")
		}
	}
	// event time comes from the engine clock, not the wall clock
	if events[0].TS != "2026-03-01T08:00:00Z" {
		t.Fatalf("event ts must follow the engine clock, got %s", events[0].TS)
	}
	if events[len(events)-1].TS != "2026-03-05T12:00:00Z" {
		t.Fatalf("completion event must carry the completion time, got %s", events[len(events)-1].TS)
	}
	want := []string{
		audit.WorkItemCreated,
		audit.ConstraintCreated,
		audit.ConstraintCleared,
		audit.CommitmentCreated,
		audit.CommitmentCompleted,
	}
	for i, typ := range want {
		if events[i].Type != typ {
			t.Fatalf("event %d: want %s, got %s", i, typ, events[i].Type)
		}
	}
}
