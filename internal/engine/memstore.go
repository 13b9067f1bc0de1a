package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/licensahq/stageact/model"
)

// MemStore is an in-memory Store for local development and tests.
// Transactions are emulated by holding the write lock for the duration of
// the callback and restoring a snapshot on error. Failed actions live
// behind their own lock so a failure written through the root store
// during a transaction is visible after the rollback, matching the
// dispatcher's bookkeeping contract.
type MemStore struct {
	mu       sync.RWMutex
	entities map[string]model.Entity
	audit    []model.AuditRecord

	fmu      sync.RWMutex
	failures map[string]model.FailedAction
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		entities: make(map[string]model.Entity),
		failures: make(map[string]model.FailedAction),
	}
}

// SeedEntity inserts or replaces an entity. Test and dev helper.
func (s *MemStore) SeedEntity(entity model.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[entity.UUID] = entity
}

func (s *MemStore) GetEntity(ctx context.Context, uuid string) (model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getEntityLocked(uuid)
}

func (s *MemStore) getEntityLocked(uuid string) (model.Entity, error) {
	entity, ok := s.entities[uuid]
	if !ok {
		return model.Entity{}, model.NewNotFoundError(fmt.Sprintf("entity %q not found", uuid))
	}
	return entity, nil
}

func (s *MemStore) UpdateEntityStage(ctx context.Context, entity model.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateEntityStageLocked(entity)
}

func (s *MemStore) updateEntityStageLocked(entity model.Entity) error {
	current, ok := s.entities[entity.UUID]
	if !ok {
		return model.NewNotFoundError(fmt.Sprintf("entity %q not found", entity.UUID))
	}
	if current.Version != entity.Version {
		return model.NewConflictError(fmt.Sprintf("entity %q was modified concurrently", entity.UUID))
	}
	entity.Version++
	entity.UpdatedAt = time.Now().UTC()
	s.entities[entity.UUID] = entity
	return nil
}

func (s *MemStore) InsertAuditRecord(ctx context.Context, rec model.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertAuditRecordLocked(rec)
	return nil
}

func (s *MemStore) insertAuditRecordLocked(rec model.AuditRecord) {
	s.audit = append(s.audit, rec)
}

func (s *MemStore) GetAuditRecord(ctx context.Context, id string) (model.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.audit {
		if rec.ID == id {
			return rec, nil
		}
	}
	return model.AuditRecord{}, model.NewNotFoundError(fmt.Sprintf("audit record %q not found", id))
}

func (s *MemStore) ListAuditRecords(ctx context.Context, filters model.AuditFilters) ([]model.AuditRecord, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]model.AuditRecord, 0, len(s.audit))
	for _, rec := range s.audit {
		if rec.DeletedAt != nil && !filters.WithDeleted {
			continue
		}
		if filters.ActionType != "" && rec.ActionType != filters.ActionType {
			continue
		}
		if filters.ApplicationUUID != "" &&
			(rec.ApplicationUUID == nil || *rec.ApplicationUUID != filters.ApplicationUUID) {
			continue
		}
		matched = append(matched, rec)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		var less bool
		switch filters.SortBy {
		case "action_type":
			less = matched[i].ActionType < matched[j].ActionType
		case "execution_time_ms":
			less = matched[i].ExecutionTimeMs < matched[j].ExecutionTimeMs
		default:
			less = matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		if filters.SortOrder == "asc" {
			return less
		}
		return !less
	})

	total := int64(len(matched))
	return pageOf(matched, filters.Page, filters.PageSize), total, nil
}

func (s *MemStore) SoftDeleteAuditRecord(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.audit {
		if s.audit[i].ID == id && s.audit[i].DeletedAt == nil {
			now := time.Now().UTC()
			s.audit[i].DeletedAt = &now
			return nil
		}
	}
	return model.NewNotFoundError(fmt.Sprintf("audit record %q not found", id))
}

func (s *MemStore) AuditStats(ctx context.Context, trailingDays int) (model.AuditStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -trailingDays)
	stats := model.AuditStats{
		ByType:       make(map[string]int64),
		TrailingDays: trailingDays,
	}
	var sumMs int64
	daily := make(map[string]int64)
	for _, rec := range s.audit {
		if rec.DeletedAt != nil || rec.CreatedAt.Before(cutoff) {
			continue
		}
		stats.Total++
		stats.ByType[rec.ActionType]++
		sumMs += rec.ExecutionTimeMs
		daily[rec.CreatedAt.Format("2006-01-02")]++
	}
	if stats.Total > 0 {
		stats.AvgExecutionMs = float64(sumMs) / float64(stats.Total)
	}
	days := make([]string, 0, len(daily))
	for day := range daily {
		days = append(days, day)
	}
	sort.Strings(days)
	for _, day := range days {
		stats.Daily = append(stats.Daily, model.DailyCount{Day: day, Count: daily[day]})
	}
	return stats, nil
}

func (s *MemStore) PurgeAuditRecords(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.audit[:0]
	var removed int64
	for _, rec := range s.audit {
		if rec.CreatedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	s.audit = kept
	return removed, nil
}

func (s *MemStore) InsertFailedAction(ctx context.Context, fa model.FailedAction) error {
	s.fmu.Lock()
	defer s.fmu.Unlock()
	if _, exists := s.failures[fa.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("failed action %q already exists", fa.ID))
	}
	s.failures[fa.ID] = fa
	return nil
}

func (s *MemStore) GetFailedAction(ctx context.Context, id string) (model.FailedAction, error) {
	s.fmu.RLock()
	defer s.fmu.RUnlock()
	fa, ok := s.failures[id]
	if !ok {
		return model.FailedAction{}, model.NewNotFoundError(fmt.Sprintf("failed action %q not found", id))
	}
	return fa, nil
}

func (s *MemStore) ListFailedActions(ctx context.Context, filters model.FailureFilters) ([]model.FailedAction, int64, error) {
	s.fmu.RLock()
	defer s.fmu.RUnlock()

	matched := make([]model.FailedAction, 0, len(s.failures))
	for _, fa := range s.failures {
		if filters.Status != "" && fa.Status != filters.Status {
			continue
		}
		if filters.ActionType != "" && fa.ActionType != filters.ActionType {
			continue
		}
		if filters.ApplicationUUID != "" &&
			(fa.ApplicationUUID == nil || *fa.ApplicationUUID != filters.ApplicationUUID) {
			continue
		}
		matched = append(matched, fa)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	return pageOf(matched, filters.Page, filters.PageSize), total, nil
}

func (s *MemStore) UpdateFailedAction(ctx context.Context, fa model.FailedAction, expectedRetryCount int) error {
	s.fmu.Lock()
	defer s.fmu.Unlock()
	current, ok := s.failures[fa.ID]
	if !ok {
		return model.NewNotFoundError(fmt.Sprintf("failed action %q not found", fa.ID))
	}
	if current.RetryCount != expectedRetryCount {
		return model.NewConflictError(fmt.Sprintf("failed action %q was retried concurrently", fa.ID))
	}
	s.failures[fa.ID] = fa
	return nil
}

func (s *MemStore) DeleteFailedAction(ctx context.Context, id string) error {
	s.fmu.Lock()
	defer s.fmu.Unlock()
	fa, ok := s.failures[id]
	if !ok {
		return model.NewNotFoundError(fmt.Sprintf("failed action %q not found", id))
	}
	if fa.Status != model.FailedActionStatusResolved {
		return model.NewConflictError(fmt.Sprintf("failed action %q is not resolved", id))
	}
	delete(s.failures, id)
	return nil
}

func (s *MemStore) ListUnresolvedBefore(ctx context.Context, cutoff time.Time, limit int) ([]model.FailedAction, error) {
	s.fmu.RLock()
	defer s.fmu.RUnlock()

	var pending []model.FailedAction
	for _, fa := range s.failures {
		if fa.Status == model.FailedActionStatusResolved {
			continue
		}
		if !fa.UpdatedAt.Before(cutoff) {
			continue
		}
		pending = append(pending, fa)
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].UpdatedAt.Before(pending[j].UpdatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (s *MemStore) PurgeResolvedFailedActions(ctx context.Context, before time.Time) (int64, error) {
	s.fmu.Lock()
	defer s.fmu.Unlock()

	var removed int64
	for id, fa := range s.failures {
		if fa.Status != model.FailedActionStatusResolved {
			continue
		}
		if fa.ResolvedAt != nil && fa.ResolvedAt.Before(before) {
			delete(s.failures, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemStore) FailureStats(ctx context.Context) (model.FailureStats, error) {
	s.fmu.RLock()
	defer s.fmu.RUnlock()

	stats := model.FailureStats{ByStatus: make(map[string]int64)}
	for _, fa := range s.failures {
		stats.Total++
		stats.ByStatus[fa.Status]++
	}
	return stats, nil
}

// InTransaction holds the write lock for the callback and restores the
// entity and audit state on error. Failed action writes are guarded
// separately and are not rolled back.
func (s *MemStore) InTransaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapEntities := make(map[string]model.Entity, len(s.entities))
	for k, v := range s.entities {
		snapEntities[k] = v
	}
	snapAudit := make([]model.AuditRecord, len(s.audit))
	copy(snapAudit, s.audit)

	if err := fn(ctx, &memTx{s: s}); err != nil {
		s.entities = snapEntities
		s.audit = snapAudit
		return err
	}
	return nil
}

func (s *MemStore) Ping(ctx context.Context) error {
	return nil
}

// HealthCheck implements observability.HealthChecker.
func (s *MemStore) HealthCheck(ctx context.Context) error {
	return s.Ping(ctx)
}

// memTx is the transactional handle over a MemStore. The parent holds the
// write lock, so entity and audit operations go straight at the maps;
// failed action operations delegate to the root store, which has its own
// lock.
type memTx struct {
	s *MemStore
}

func (t *memTx) GetEntity(ctx context.Context, uuid string) (model.Entity, error) {
	return t.s.getEntityLocked(uuid)
}

func (t *memTx) UpdateEntityStage(ctx context.Context, entity model.Entity) error {
	return t.s.updateEntityStageLocked(entity)
}

func (t *memTx) InsertAuditRecord(ctx context.Context, rec model.AuditRecord) error {
	t.s.insertAuditRecordLocked(rec)
	return nil
}

func (t *memTx) GetAuditRecord(ctx context.Context, id string) (model.AuditRecord, error) {
	for _, rec := range t.s.audit {
		if rec.ID == id {
			return rec, nil
		}
	}
	return model.AuditRecord{}, model.NewNotFoundError(fmt.Sprintf("audit record %q not found", id))
}

func (t *memTx) ListAuditRecords(ctx context.Context, filters model.AuditFilters) ([]model.AuditRecord, int64, error) {
	return nil, 0, errUnsupportedInTx("ListAuditRecords")
}

func (t *memTx) SoftDeleteAuditRecord(ctx context.Context, id string) error {
	return errUnsupportedInTx("SoftDeleteAuditRecord")
}

func (t *memTx) AuditStats(ctx context.Context, trailingDays int) (model.AuditStats, error) {
	return model.AuditStats{}, errUnsupportedInTx("AuditStats")
}

func (t *memTx) PurgeAuditRecords(ctx context.Context, before time.Time) (int64, error) {
	return 0, errUnsupportedInTx("PurgeAuditRecords")
}

func (t *memTx) InsertFailedAction(ctx context.Context, fa model.FailedAction) error {
	return t.s.InsertFailedAction(ctx, fa)
}

func (t *memTx) GetFailedAction(ctx context.Context, id string) (model.FailedAction, error) {
	return t.s.GetFailedAction(ctx, id)
}

func (t *memTx) ListFailedActions(ctx context.Context, filters model.FailureFilters) ([]model.FailedAction, int64, error) {
	return t.s.ListFailedActions(ctx, filters)
}

func (t *memTx) UpdateFailedAction(ctx context.Context, fa model.FailedAction, expectedRetryCount int) error {
	return t.s.UpdateFailedAction(ctx, fa, expectedRetryCount)
}

func (t *memTx) DeleteFailedAction(ctx context.Context, id string) error {
	return t.s.DeleteFailedAction(ctx, id)
}

func (t *memTx) ListUnresolvedBefore(ctx context.Context, cutoff time.Time, limit int) ([]model.FailedAction, error) {
	return t.s.ListUnresolvedBefore(ctx, cutoff, limit)
}

func (t *memTx) PurgeResolvedFailedActions(ctx context.Context, before time.Time) (int64, error) {
	return t.s.PurgeResolvedFailedActions(ctx, before)
}

func (t *memTx) FailureStats(ctx context.Context) (model.FailureStats, error) {
	return t.s.FailureStats(ctx)
}

// InTransaction on a transactional handle joins the open transaction.
func (t *memTx) InTransaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return fn(ctx, t)
}

func (t *memTx) Ping(ctx context.Context) error {
	return nil
}

func errUnsupportedInTx(op string) error {
	return model.NewStoreUnavailableError(op + " is not supported inside a transaction")
}

// pageOf slices one page out of the already-filtered, already-sorted set.
func pageOf[T any](items []T, page, pageSize int) []T {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []T{}
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
