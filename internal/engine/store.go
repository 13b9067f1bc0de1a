// Package engine implements stage resolution, action dispatch, the audit
// trail, and failed-action recovery.
package engine

import (
	"context"
	"time"

	"github.com/licensahq/stageact/model"
)

// Store persists engine state: entities, audit records, and failed
// actions. InTransaction yields a Store handle whose writes commit or
// roll back together; implementations must support calling every other
// method on that handle.
type Store interface {
	// GetEntity retrieves an entity by UUID. Returns NOT_FOUND if absent.
	GetEntity(ctx context.Context, uuid string) (model.Entity, error)

	// UpdateEntityStage persists a stage change with optimistic locking.
	// The entity's Version must match the stored version; returns
	// CONFLICT when it has moved on.
	UpdateEntityStage(ctx context.Context, entity model.Entity) error

	// InsertAuditRecord appends one immutable audit entry.
	InsertAuditRecord(ctx context.Context, rec model.AuditRecord) error

	// GetAuditRecord retrieves one audit record by id, including
	// soft-deleted rows.
	GetAuditRecord(ctx context.Context, id string) (model.AuditRecord, error)

	// ListAuditRecords returns a page of audit records plus the total
	// count matching the filters.
	ListAuditRecords(ctx context.Context, filters model.AuditFilters) ([]model.AuditRecord, int64, error)

	// SoftDeleteAuditRecord hides a record from default listings without
	// removing it. Returns NOT_FOUND if absent or already deleted.
	SoftDeleteAuditRecord(ctx context.Context, id string) error

	// AuditStats aggregates the audit trail over the trailing window.
	AuditStats(ctx context.Context, trailingDays int) (model.AuditStats, error)

	// PurgeAuditRecords permanently removes audit records created before
	// the cutoff, returning the number removed.
	PurgeAuditRecords(ctx context.Context, before time.Time) (int64, error)

	// InsertFailedAction records a failed action.
	InsertFailedAction(ctx context.Context, fa model.FailedAction) error

	// GetFailedAction retrieves one failed action by id.
	GetFailedAction(ctx context.Context, id string) (model.FailedAction, error)

	// ListFailedActions returns a page of failed actions plus the total
	// count matching the filters.
	ListFailedActions(ctx context.Context, filters model.FailureFilters) ([]model.FailedAction, int64, error)

	// UpdateFailedAction persists retry bookkeeping guarded by the
	// retry count: the stored retry_count must equal expectedRetryCount
	// or CONFLICT is returned, so concurrent retries cannot both win.
	UpdateFailedAction(ctx context.Context, fa model.FailedAction, expectedRetryCount int) error

	// DeleteFailedAction permanently removes one failed action. Only
	// resolved records may be deleted.
	DeleteFailedAction(ctx context.Context, id string) error

	// ListUnresolvedBefore returns failed and retrying actions last
	// touched before the cutoff, oldest first, for the retry sweep.
	ListUnresolvedBefore(ctx context.Context, cutoff time.Time, limit int) ([]model.FailedAction, error)

	// PurgeResolvedFailedActions permanently removes resolved records
	// older than the cutoff, returning the number removed. Unresolved
	// records are never purged.
	PurgeResolvedFailedActions(ctx context.Context, before time.Time) (int64, error)

	// FailureStats aggregates the failed action store.
	FailureStats(ctx context.Context) (model.FailureStats, error)

	// InTransaction runs fn with a transactional Store handle. fn
	// returning an error rolls everything back.
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	// Ping verifies store connectivity for health checks.
	Ping(ctx context.Context) error
}
