package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/licensahq/stageact/model"
)

func TestMemStore_UpdateEntityStage_optimisticLock(t *testing.T) {
	store := NewMemStore()
	store.SeedEntity(testEntity())
	ctx := context.Background()

	entity, _ := store.GetEntity(ctx, "app-1")
	entity.CurrentStage = "approved"
	if err := store.UpdateEntityStage(ctx, entity); err != nil {
		t.Fatalf("UpdateEntityStage error: %v", err)
	}

	updated, _ := store.GetEntity(ctx, "app-1")
	if updated.Version != entity.Version+1 {
		t.Errorf("Version = %d, want %d", updated.Version, entity.Version+1)
	}

	// A writer holding the old version loses.
	stale := entity
	stale.CurrentStage = "rejected"
	err := store.UpdateEntityStage(ctx, stale)
	wantCode(t, err, model.ErrConflict)
}

func TestMemStore_InTransaction_rollback(t *testing.T) {
	store := NewMemStore()
	store.SeedEntity(testEntity())
	ctx := context.Background()

	err := store.InTransaction(ctx, func(ctx context.Context, tx Store) error {
		entity, _ := tx.GetEntity(ctx, "app-1")
		entity.CurrentStage = "approved"
		if err := tx.UpdateEntityStage(ctx, entity); err != nil {
			return err
		}
		if err := tx.InsertAuditRecord(ctx, model.AuditRecord{ID: "audit-tx", CreatedAt: time.Now().UTC()}); err != nil {
			return err
		}
		// A failure record through the root store while the tx is open.
		if err := store.InsertFailedAction(ctx, model.FailedAction{
			ID:        "fail-tx",
			Status:    model.FailedActionStatusFailed,
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	if err == nil || err.Error() != "abort" {
		t.Fatalf("InTransaction error = %v, want abort", err)
	}

	// Entity and audit writes rolled back.
	entity, _ := store.GetEntity(ctx, "app-1")
	if entity.CurrentStage != "submitted" {
		t.Errorf("CurrentStage = %q, want submitted", entity.CurrentStage)
	}
	if _, err := store.GetAuditRecord(ctx, "audit-tx"); !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("audit record survived the rollback: %v", err)
	}

	// The failure record did not roll back.
	if _, err := store.GetFailedAction(ctx, "fail-tx"); err != nil {
		t.Errorf("failure record lost with the rollback: %v", err)
	}
}

func TestMemStore_InTransaction_commit(t *testing.T) {
	store := NewMemStore()
	store.SeedEntity(testEntity())
	ctx := context.Background()

	err := store.InTransaction(ctx, func(ctx context.Context, tx Store) error {
		entity, _ := tx.GetEntity(ctx, "app-1")
		entity.CurrentStage = "approved"
		return tx.UpdateEntityStage(ctx, entity)
	})
	if err != nil {
		t.Fatalf("InTransaction error: %v", err)
	}
	entity, _ := store.GetEntity(ctx, "app-1")
	if entity.CurrentStage != "approved" {
		t.Errorf("CurrentStage = %q, want approved", entity.CurrentStage)
	}
}

func TestMemStore_UpdateFailedAction_retryCountGuard(t *testing.T) {
	store := NewMemStore()
	fa := seedFailure(t, store, "fail-1")
	ctx := context.Background()

	fa.RetryCount = 1
	fa.Status = model.FailedActionStatusRetrying
	if err := store.UpdateFailedAction(ctx, fa, 0); err != nil {
		t.Fatalf("UpdateFailedAction error: %v", err)
	}

	// Same expected count again is a lost race.
	err := store.UpdateFailedAction(ctx, fa, 0)
	wantCode(t, err, model.ErrConflict)
}

func TestMemStore_ListUnresolvedBefore(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	newer := seedFailure(t, store, "fail-newer")
	newer.UpdatedAt = time.Now().UTC().Add(-1 * time.Hour)
	if err := store.UpdateFailedAction(ctx, newer, 0); err != nil {
		t.Fatal(err)
	}
	oldest := seedFailure(t, store, "fail-oldest")
	oldest.UpdatedAt = time.Now().UTC().Add(-5 * time.Hour)
	if err := store.UpdateFailedAction(ctx, oldest, 0); err != nil {
		t.Fatal(err)
	}
	resolved := seedFailure(t, store, "fail-resolved")
	now := time.Now().UTC()
	resolved.Status = model.FailedActionStatusResolved
	resolved.ResolvedAt = &now
	resolved.UpdatedAt = time.Now().UTC().Add(-6 * time.Hour)
	if err := store.UpdateFailedAction(ctx, resolved, 0); err != nil {
		t.Fatal(err)
	}
	seedFailure(t, store, "fail-fresh")

	pending, err := store.ListUnresolvedBefore(ctx, time.Now().UTC().Add(-30*time.Minute), 10)
	if err != nil {
		t.Fatalf("ListUnresolvedBefore error: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	if pending[0].ID != "fail-oldest" || pending[1].ID != "fail-newer" {
		t.Errorf("order = %q, %q, want oldest first", pending[0].ID, pending[1].ID)
	}

	limited, err := store.ListUnresolvedBefore(ctx, time.Now().UTC().Add(-30*time.Minute), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].ID != "fail-oldest" {
		t.Errorf("limited = %v", limited)
	}
}

func TestMemStore_ListFailedActions_filters(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	seedFailure(t, store, "fail-1")
	seedFailure(t, store, "fail-2")
	resolved := seedFailure(t, store, "fail-3")
	now := time.Now().UTC()
	resolved.Status = model.FailedActionStatusResolved
	resolved.ResolvedAt = &now
	if err := store.UpdateFailedAction(ctx, resolved, 0); err != nil {
		t.Fatal(err)
	}

	failures, total, err := store.ListFailedActions(ctx, model.FailureFilters{
		Status: model.FailedActionStatusFailed, Page: 1, PageSize: 10,
	})
	if err != nil {
		t.Fatalf("ListFailedActions error: %v", err)
	}
	if total != 2 || len(failures) != 2 {
		t.Errorf("total = %d, len = %d, want 2/2", total, len(failures))
	}

	_, appTotal, err := store.ListFailedActions(ctx, model.FailureFilters{
		ApplicationUUID: "app-1", Page: 1, PageSize: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if appTotal != 3 {
		t.Errorf("app total = %d, want 3", appTotal)
	}
}

func TestMemStore_SoftDeleteAuditRecord(t *testing.T) {
	store := NewMemStore()
	seedAuditRecords(t, store, 1)
	ctx := context.Background()

	if err := store.SoftDeleteAuditRecord(ctx, "audit-000"); err != nil {
		t.Fatalf("SoftDeleteAuditRecord error: %v", err)
	}
	err := store.SoftDeleteAuditRecord(ctx, "audit-000")
	wantCode(t, err, model.ErrNotFound)

	err = store.SoftDeleteAuditRecord(ctx, "no-such-record")
	wantCode(t, err, model.ErrNotFound)
}

func TestMemStore_PurgeAuditRecords_includesSoftDeleted(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	old := model.AuditRecord{ID: "audit-old", ActionType: "email", CreatedAt: time.Now().UTC().AddDate(0, 0, -400)}
	if err := store.InsertAuditRecord(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := store.SoftDeleteAuditRecord(ctx, "audit-old"); err != nil {
		t.Fatal(err)
	}
	seedAuditRecords(t, store, 1)

	removed, err := store.PurgeAuditRecords(ctx, time.Now().UTC().AddDate(0, 0, -365))
	if err != nil {
		t.Fatalf("PurgeAuditRecords error: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := store.GetAuditRecord(ctx, "audit-000"); err != nil {
		t.Errorf("recent record purged: %v", err)
	}
}
