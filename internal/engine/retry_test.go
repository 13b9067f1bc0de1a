package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/licensahq/stageact/internal/action"
	"github.com/licensahq/stageact/internal/observability"
	"github.com/licensahq/stageact/model"
)

func seedFailure(t *testing.T, store Store, id string) model.FailedAction {
	t.Helper()
	appUUID := "app-1"
	now := time.Now().UTC()
	fa := model.FailedAction{
		ID:              id,
		ApplicationUUID: &appUUID,
		ActionType:      "email",
		ActionConfig: map[string]any{
			"template":  "approval",
			"recipient": "@applicant_email",
		},
		ActionData: map[string]any{
			"entity_uuid":     "app-1",
			"applicant_email": "maria@example.com",
		},
		ErrorMessage: "smtp relay refused",
		ErrorTrace:   "smtp relay refused",
		Status:       model.FailedActionStatusFailed,
		CreatedBy:    "user-reviewer",
		UpdatedBy:    "user-reviewer",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := store.InsertFailedAction(context.Background(), fa); err != nil {
		t.Fatalf("InsertFailedAction error: %v", err)
	}
	return fa
}

func newTestRetrier(t *testing.T, store Store, email *fakeHandler) *Retrier {
	t.Helper()
	handlers := action.NewRegistry()
	handlers.Register(email)
	metrics := observability.InitMetrics(prometheus.NewRegistry())
	return NewRetrier(store, handlers, zap.NewNop(), metrics, time.Second)
}

func TestRetrier_Retry_success(t *testing.T) {
	store := NewMemStore()
	seedFailure(t, store, "fail-1")
	email := &fakeHandler{typ: action.TypeEmail}
	retrier := newTestRetrier(t, store, email)
	ctx := context.Background()

	fa, err := retrier.Retry(ctx, "fail-1", testActor())
	if err != nil {
		t.Fatalf("Retry error: %v", err)
	}
	if fa.Status != model.FailedActionStatusResolved {
		t.Errorf("Status = %q, want resolved", fa.Status)
	}
	if fa.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", fa.RetryCount)
	}
	if fa.ResolvedAt == nil || fa.LastRetryAt == nil {
		t.Error("expected ResolvedAt and LastRetryAt to be set")
	}
	if email.calls != 1 {
		t.Errorf("handler calls = %d", email.calls)
	}

	// Resolution wrote an audit record for the now-successful execution.
	records, total, err := store.ListAuditRecords(ctx, model.AuditFilters{Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("ListAuditRecords error: %v", err)
	}
	if total != 1 {
		t.Fatalf("audit total = %d, want 1", total)
	}
	if records[0].ActionType != "email" {
		t.Errorf("audit ActionType = %q", records[0].ActionType)
	}
	if records[0].TriggeredBy == nil || *records[0].TriggeredBy != "user-reviewer" {
		t.Errorf("audit TriggeredBy = %v", records[0].TriggeredBy)
	}
}

func TestRetrier_Retry_failureIncrementsCount(t *testing.T) {
	store := NewMemStore()
	seedFailure(t, store, "fail-1")
	email := &fakeHandler{typ: action.TypeEmail, err: errors.New("still refusing")}
	retrier := newTestRetrier(t, store, email)
	ctx := context.Background()

	fa, err := retrier.Retry(ctx, "fail-1", testActor())
	wantCode(t, err, model.ErrRetryFailed)
	if fa.Status != model.FailedActionStatusRetrying {
		t.Errorf("Status = %q, want retrying", fa.Status)
	}
	if fa.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", fa.RetryCount)
	}
	if fa.ErrorMessage != "still refusing" {
		t.Errorf("ErrorMessage = %q", fa.ErrorMessage)
	}

	// A second failing retry stays in retrying with a bumped count.
	fa, err = retrier.Retry(ctx, "fail-1", testActor())
	wantCode(t, err, model.ErrRetryFailed)
	if fa.Status != model.FailedActionStatusRetrying {
		t.Errorf("Status = %q, want retrying", fa.Status)
	}
	if fa.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", fa.RetryCount)
	}

	// No audit entries for failed attempts.
	_, total, _ := store.ListAuditRecords(ctx, model.AuditFilters{Page: 1, PageSize: 10})
	if total != 0 {
		t.Errorf("audit total = %d, want 0", total)
	}
}

func TestRetrier_Retry_failureRefreshesErrorTrace(t *testing.T) {
	store := NewMemStore()
	seedFailure(t, store, "fail-1")
	email := &fakeHandler{typ: action.TypeEmail, err: errors.New("connection reset by peer")}
	retrier := newTestRetrier(t, store, email)
	ctx := context.Background()

	// The retry fails for a different reason than the original failure;
	// the stored record reflects the latest attempt, not the first one.
	_, err := retrier.Retry(ctx, "fail-1", testActor())
	wantCode(t, err, model.ErrRetryFailed)

	fa, err := store.GetFailedAction(ctx, "fail-1")
	if err != nil {
		t.Fatalf("GetFailedAction error: %v", err)
	}
	if fa.ErrorMessage != "connection reset by peer" {
		t.Errorf("ErrorMessage = %q", fa.ErrorMessage)
	}
	if fa.ErrorTrace != "connection reset by peer" {
		t.Errorf("ErrorTrace = %q, want trace of the latest attempt", fa.ErrorTrace)
	}

	// Resolution clears both fields.
	email.err = nil
	if _, err := retrier.Retry(ctx, "fail-1", testActor()); err != nil {
		t.Fatalf("Retry error: %v", err)
	}
	fa, err = store.GetFailedAction(ctx, "fail-1")
	if err != nil {
		t.Fatalf("GetFailedAction error: %v", err)
	}
	if fa.ErrorMessage != "" || fa.ErrorTrace != "" {
		t.Errorf("resolved record keeps error fields: message %q trace %q", fa.ErrorMessage, fa.ErrorTrace)
	}
}

func TestRetrier_Retry_alreadyResolved(t *testing.T) {
	store := NewMemStore()
	seedFailure(t, store, "fail-1")
	email := &fakeHandler{typ: action.TypeEmail}
	retrier := newTestRetrier(t, store, email)
	ctx := context.Background()

	if _, err := retrier.Retry(ctx, "fail-1", testActor()); err != nil {
		t.Fatalf("first Retry error: %v", err)
	}
	_, err := retrier.Retry(ctx, "fail-1", testActor())
	wantCode(t, err, model.ErrAlreadyResolved)
	if email.calls != 1 {
		t.Errorf("handler calls = %d, want 1", email.calls)
	}
}

func TestRetrier_Retry_concurrentRetryConflicts(t *testing.T) {
	store := NewMemStore()
	seedFailure(t, store, "fail-1")

	// A competing retry lands while the handler is executing.
	email := &fakeHandler{typ: action.TypeEmail}
	email.onExec = func() {
		fa, _ := store.GetFailedAction(context.Background(), "fail-1")
		now := time.Now().UTC()
		fa.Status = model.FailedActionStatusRetrying
		fa.RetryCount++
		fa.LastRetryAt = &now
		if err := store.UpdateFailedAction(context.Background(), fa, fa.RetryCount-1); err != nil {
			t.Errorf("competing update error: %v", err)
		}
	}
	retrier := newTestRetrier(t, store, email)

	_, err := retrier.Retry(context.Background(), "fail-1", testActor())
	wantCode(t, err, model.ErrConflict)

	// The losing retry's audit record rolled back with its transaction.
	_, total, _ := store.ListAuditRecords(context.Background(), model.AuditFilters{Page: 1, PageSize: 10})
	if total != 0 {
		t.Errorf("audit total = %d, want 0", total)
	}
}

func TestRetrier_Retry_notFound(t *testing.T) {
	retrier := newTestRetrier(t, NewMemStore(), &fakeHandler{typ: action.TypeEmail})
	_, err := retrier.Retry(context.Background(), "no-such-id", testActor())
	wantCode(t, err, model.ErrNotFound)
}

func TestRetrier_Resolve_manual(t *testing.T) {
	store := NewMemStore()
	seedFailure(t, store, "fail-1")
	email := &fakeHandler{typ: action.TypeEmail}
	retrier := newTestRetrier(t, store, email)
	ctx := context.Background()

	fa, err := retrier.Resolve(ctx, "fail-1", testActor())
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if fa.Status != model.FailedActionStatusResolved {
		t.Errorf("Status = %q", fa.Status)
	}
	if fa.ResolvedAt == nil {
		t.Error("expected ResolvedAt to be set")
	}
	if email.calls != 0 {
		t.Errorf("handler ran %d times during a manual resolve", email.calls)
	}

	_, err = retrier.Resolve(ctx, "fail-1", testActor())
	wantCode(t, err, model.ErrAlreadyResolved)
}

func TestRetrier_Delete_requiresResolved(t *testing.T) {
	store := NewMemStore()
	seedFailure(t, store, "fail-1")
	retrier := newTestRetrier(t, store, &fakeHandler{typ: action.TypeEmail})
	ctx := context.Background()

	err := retrier.Delete(ctx, "fail-1", testActor())
	wantCode(t, err, model.ErrConflict)

	if _, err := retrier.Resolve(ctx, "fail-1", testActor()); err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if err := retrier.Delete(ctx, "fail-1", testActor()); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	_, err = retrier.Get(ctx, "fail-1")
	wantCode(t, err, model.ErrNotFound)
}

func TestRetrier_Sweep(t *testing.T) {
	store := NewMemStore()
	old := seedFailure(t, store, "fail-old-1")
	old.UpdatedAt = time.Now().UTC().Add(-2 * time.Hour)
	if err := store.UpdateFailedAction(context.Background(), old, 0); err != nil {
		t.Fatalf("backdate error: %v", err)
	}
	older := seedFailure(t, store, "fail-old-2")
	older.UpdatedAt = time.Now().UTC().Add(-3 * time.Hour)
	if err := store.UpdateFailedAction(context.Background(), older, 0); err != nil {
		t.Fatalf("backdate error: %v", err)
	}
	seedFailure(t, store, "fail-fresh")

	email := &fakeHandler{typ: action.TypeEmail}
	retrier := newTestRetrier(t, store, email)

	attempted, resolved, err := retrier.Sweep(context.Background(), time.Now().UTC().Add(-time.Hour), 50)
	if err != nil {
		t.Fatalf("Sweep error: %v", err)
	}
	if attempted != 2 || resolved != 2 {
		t.Errorf("attempted = %d, resolved = %d, want 2/2", attempted, resolved)
	}

	// The fresh failure was left for operators.
	fa, _ := store.GetFailedAction(context.Background(), "fail-fresh")
	if fa.Status != model.FailedActionStatusFailed {
		t.Errorf("fresh Status = %q, want failed", fa.Status)
	}
}

func TestRetrier_Cleanup_keepsUnresolved(t *testing.T) {
	store := NewMemStore()
	resolvedOld := seedFailure(t, store, "fail-resolved")
	past := time.Now().UTC().AddDate(0, 0, -120)
	resolvedOld.Status = model.FailedActionStatusResolved
	resolvedOld.ResolvedAt = &past
	if err := store.UpdateFailedAction(context.Background(), resolvedOld, 0); err != nil {
		t.Fatalf("seed resolved error: %v", err)
	}
	unresolvedOld := seedFailure(t, store, "fail-unresolved")
	unresolvedOld.UpdatedAt = past
	if err := store.UpdateFailedAction(context.Background(), unresolvedOld, 0); err != nil {
		t.Fatalf("seed unresolved error: %v", err)
	}

	retrier := newTestRetrier(t, store, &fakeHandler{typ: action.TypeEmail})
	removed, err := retrier.Cleanup(context.Background(), 90)
	if err != nil {
		t.Fatalf("Cleanup error: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	// The unresolved record is still there no matter how old it is.
	if _, err := store.GetFailedAction(context.Background(), "fail-unresolved"); err != nil {
		t.Errorf("unresolved record was purged: %v", err)
	}
	_, err = store.GetFailedAction(context.Background(), "fail-resolved")
	wantCode(t, err, model.ErrNotFound)
}

func TestRetrier_Stats(t *testing.T) {
	store := NewMemStore()
	seedFailure(t, store, "fail-1")
	seedFailure(t, store, "fail-2")
	resolved := seedFailure(t, store, "fail-3")
	now := time.Now().UTC()
	resolved.Status = model.FailedActionStatusResolved
	resolved.ResolvedAt = &now
	if err := store.UpdateFailedAction(context.Background(), resolved, 0); err != nil {
		t.Fatalf("seed resolved error: %v", err)
	}

	retrier := newTestRetrier(t, store, &fakeHandler{typ: action.TypeEmail})
	stats, err := retrier.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats error: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("Total = %d", stats.Total)
	}
	if stats.ByStatus[model.FailedActionStatusFailed] != 2 {
		t.Errorf("ByStatus[failed] = %d", stats.ByStatus[model.FailedActionStatusFailed])
	}
	if stats.ByStatus[model.FailedActionStatusResolved] != 1 {
		t.Errorf("ByStatus[resolved] = %d", stats.ByStatus[model.FailedActionStatusResolved])
	}
}
