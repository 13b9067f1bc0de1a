package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/licensahq/stageact/internal/observability"
	"github.com/licensahq/stageact/model"
)

const (
	defaultPageSize = 25
	maxPageSize     = 200
)

// AuditLog is the operator surface over the audit trail. Records are only
// ever appended by the dispatcher; this service reads, soft-deletes, and
// purges past retention.
type AuditLog struct {
	store   Store
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewAuditLog wires the audit service.
func NewAuditLog(store Store, logger *zap.Logger, metrics *observability.Metrics) *AuditLog {
	return &AuditLog{store: store, logger: logger, metrics: metrics}
}

// Get returns one audit record by id, soft-deleted rows included.
func (a *AuditLog) Get(ctx context.Context, id string) (model.AuditRecord, error) {
	return a.store.GetAuditRecord(ctx, id)
}

// List returns a page of audit records and the total matching count.
func (a *AuditLog) List(ctx context.Context, filters model.AuditFilters) ([]model.AuditRecord, int64, error) {
	normalizeAuditFilters(&filters)
	return a.store.ListAuditRecords(ctx, filters)
}

// Delete soft-deletes one audit record. The row stays retrievable by id
// and in with_deleted listings until retention purges it.
func (a *AuditLog) Delete(ctx context.Context, id string, actor model.Actor) error {
	if err := a.store.SoftDeleteAuditRecord(ctx, id); err != nil {
		return err
	}
	observability.ActorLogger(ctx, a.logger).Info("audit record soft-deleted",
		zap.String("audit_id", id),
		zap.String("deleted_by", actor.ID),
	)
	return nil
}

// Stats aggregates the audit trail over the trailing window, defaulting
// to 30 days.
func (a *AuditLog) Stats(ctx context.Context, trailingDays int) (model.AuditStats, error) {
	if trailingDays <= 0 {
		trailingDays = 30
	}
	return a.store.AuditStats(ctx, trailingDays)
}

// Cleanup permanently removes audit records older than retentionDays.
// Run from the retention schedule, also reachable on demand.
func (a *AuditLog) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays < 1 {
		return 0, model.NewBadRequestError("retention_days must be at least 1")
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	removed, err := a.store.PurgeAuditRecords(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	a.metrics.RecordCleanup("audit", removed)
	a.logger.Info("audit cleanup complete",
		zap.Int("retention_days", retentionDays),
		zap.Int64("removed", removed),
	)
	return removed, nil
}

func normalizeAuditFilters(f *model.AuditFilters) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = defaultPageSize
	}
	if f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}
	switch f.SortBy {
	case "created_at", "action_type", "execution_time_ms":
	default:
		f.SortBy = "created_at"
	}
	if f.SortOrder != "asc" {
		f.SortOrder = "desc"
	}
}
