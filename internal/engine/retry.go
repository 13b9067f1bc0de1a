package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/licensahq/stageact/internal/action"
	"github.com/licensahq/stageact/internal/observability"
	"github.com/licensahq/stageact/model"
)

// Retrier re-executes failed actions from their stored config and data
// snapshot. A retry count guard on every update keeps concurrent retries
// of the same record from both winning; resolved is terminal.
type Retrier struct {
	store          Store
	handlers       *action.Registry
	logger         *zap.Logger
	metrics        *observability.Metrics
	handlerTimeout time.Duration
}

// NewRetrier wires a Retrier.
func NewRetrier(store Store, handlers *action.Registry, logger *zap.Logger,
	metrics *observability.Metrics, handlerTimeout time.Duration) *Retrier {
	if handlerTimeout <= 0 {
		handlerTimeout = 15 * time.Second
	}
	return &Retrier{
		store:          store,
		handlers:       handlers,
		logger:         logger,
		metrics:        metrics,
		handlerTimeout: handlerTimeout,
	}
}

// Get returns one failed action by id.
func (r *Retrier) Get(ctx context.Context, id string) (model.FailedAction, error) {
	return r.store.GetFailedAction(ctx, id)
}

// List returns a page of failed actions and the total matching count.
func (r *Retrier) List(ctx context.Context, filters model.FailureFilters) ([]model.FailedAction, int64, error) {
	normalizeFailureFilters(&filters)
	return r.store.ListFailedActions(ctx, filters)
}

// Stats aggregates the failed action store and refreshes the unresolved
// failures gauge.
func (r *Retrier) Stats(ctx context.Context) (model.FailureStats, error) {
	stats, err := r.store.FailureStats(ctx)
	if err != nil {
		return model.FailureStats{}, err
	}
	unresolved := stats.ByStatus[model.FailedActionStatusFailed] +
		stats.ByStatus[model.FailedActionStatusRetrying]
	r.metrics.SetUnresolvedFailures(float64(unresolved))
	return stats, nil
}

// Retry re-executes the failed action byte-identically from its stored
// config and data. Success writes an audit record and resolves the record
// in one transaction; failure moves it to retrying with an incremented
// count and returns RETRY_FAILED.
func (r *Retrier) Retry(ctx context.Context, id string, actor model.Actor) (model.FailedAction, error) {
	ctx, span := observability.StartSpan(ctx, "engine.Retry",
		observability.AttrFailedAction.String(id),
		observability.AttrActorID.String(actor.ID),
	)
	var retErr error
	defer func() { observability.EndSpanWithError(span, retErr) }()

	logger := observability.ActorLogger(ctx, r.logger)

	fa, err := r.store.GetFailedAction(ctx, id)
	if err != nil {
		retErr = err
		return model.FailedAction{}, err
	}
	if fa.Status == model.FailedActionStatusResolved {
		retErr = model.NewAlreadyResolvedError(id)
		return fa, retErr
	}
	span.SetAttributes(observability.AttrActionType.String(fa.ActionType))

	// The guard captured before execution: another retry landing first
	// bumps the count and our update comes back CONFLICT.
	expected := fa.RetryCount

	cfg, err := action.ParseConfig(model.ActionSpec{Type: fa.ActionType, Config: fa.ActionConfig})
	if err != nil {
		retErr = err
		return fa, err
	}
	handler, ok := r.handlers.Get(cfg.Type)
	if !ok {
		retErr = model.NewUnsupportedActionTypeError(fa.ActionType)
		return fa, retErr
	}

	dctx := model.DataContext(fa.ActionData)
	now := time.Now().UTC()

	hctx, cancel := context.WithTimeout(ctx, r.handlerTimeout)
	start := time.Now()
	res, execErr := handler.Execute(hctx, cfg, dctx, actor)
	elapsed := time.Since(start)
	cancel()

	fa.RetryCount = expected + 1
	fa.LastRetryAt = &now
	fa.UpdatedBy = actor.ID
	fa.UpdatedAt = now

	if execErr != nil {
		fa.Status = model.FailedActionStatusRetrying
		fa.ErrorMessage = execErr.Error()
		fa.ErrorTrace = fmt.Sprintf("%+v", execErr)
		if uerr := r.store.UpdateFailedAction(ctx, fa, expected); uerr != nil {
			retErr = uerr
			return fa, uerr
		}
		r.metrics.RecordRetry(fa.ActionType, "failure")
		logger.Warn("retry failed",
			zap.String("failed_action_id", id),
			zap.String("action_type", fa.ActionType),
			zap.Int("retry_count", fa.RetryCount),
			zap.Error(execErr),
		)
		retErr = model.NewRetryFailedError(
			fmt.Sprintf("retry of action %q failed: %v", fa.ActionType, execErr)).
			WithMeta("failed_action_id", id)
		return fa, retErr
	}

	fa.Status = model.FailedActionStatusResolved
	fa.ResolvedAt = &now
	fa.ErrorMessage = ""
	fa.ErrorTrace = ""

	err = r.store.InTransaction(ctx, func(ctx context.Context, tx Store) error {
		rec := model.AuditRecord{
			ID:              uuid.NewString(),
			ApplicationUUID: fa.ApplicationUUID,
			ActionType:      fa.ActionType,
			ActionConfig:    fa.ActionConfig,
			ActionData:      fa.ActionData,
			ActionResult:    res,
			ExecutionTimeMs: elapsed.Milliseconds(),
			TriggeredBy:     &actor.ID,
			CreatedAt:       now,
		}
		if err := tx.InsertAuditRecord(ctx, rec); err != nil {
			return err
		}
		return tx.UpdateFailedAction(ctx, fa, expected)
	})
	if err != nil {
		retErr = err
		return fa, err
	}

	r.metrics.RecordRetry(fa.ActionType, "success")
	logger.Info("retry resolved failed action",
		zap.String("failed_action_id", id),
		zap.String("action_type", fa.ActionType),
		zap.Int("retry_count", fa.RetryCount),
	)
	return fa, nil
}

// Resolve marks a failed action resolved without re-executing it, for
// failures an operator handled out of band.
func (r *Retrier) Resolve(ctx context.Context, id string, actor model.Actor) (model.FailedAction, error) {
	fa, err := r.store.GetFailedAction(ctx, id)
	if err != nil {
		return model.FailedAction{}, err
	}
	if fa.Status == model.FailedActionStatusResolved {
		return fa, model.NewAlreadyResolvedError(id)
	}

	now := time.Now().UTC()
	expected := fa.RetryCount
	fa.Status = model.FailedActionStatusResolved
	fa.ResolvedAt = &now
	fa.UpdatedBy = actor.ID
	fa.UpdatedAt = now

	if err := r.store.UpdateFailedAction(ctx, fa, expected); err != nil {
		return fa, err
	}
	observability.ActorLogger(ctx, r.logger).Info("failed action manually resolved",
		zap.String("failed_action_id", id),
		zap.String("resolved_by", actor.ID),
	)
	return fa, nil
}

// Delete permanently removes a resolved failed action. The store rejects
// deleting unresolved records.
func (r *Retrier) Delete(ctx context.Context, id string, actor model.Actor) error {
	if err := r.store.DeleteFailedAction(ctx, id); err != nil {
		return err
	}
	observability.ActorLogger(ctx, r.logger).Info("failed action deleted",
		zap.String("failed_action_id", id),
		zap.String("deleted_by", actor.ID),
	)
	return nil
}

// Sweep retries unresolved failures last touched before cutoff, oldest
// first, up to batch records. Individual failures do not stop the sweep.
// Returns how many records were attempted and how many resolved.
func (r *Retrier) Sweep(ctx context.Context, cutoff time.Time, batch int) (attempted, resolved int, err error) {
	if batch < 1 {
		batch = 50
	}
	pending, err := r.store.ListUnresolvedBefore(ctx, cutoff, batch)
	if err != nil {
		return 0, 0, err
	}
	for _, fa := range pending {
		if ctx.Err() != nil {
			return attempted, resolved, ctx.Err()
		}
		attempted++
		if _, rerr := r.Retry(ctx, fa.ID, *model.SystemActor()); rerr == nil {
			resolved++
		}
	}
	if attempted > 0 {
		r.logger.Info("retry sweep complete",
			zap.Int("attempted", attempted),
			zap.Int("resolved", resolved),
		)
	}
	return attempted, resolved, nil
}

// Cleanup permanently removes resolved failed actions older than
// retentionDays. Unresolved records are never removed.
func (r *Retrier) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays < 1 {
		return 0, model.NewBadRequestError("retention_days must be at least 1")
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	removed, err := r.store.PurgeResolvedFailedActions(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	r.metrics.RecordCleanup("failed_actions", removed)
	r.logger.Info("failed action cleanup complete",
		zap.Int("retention_days", retentionDays),
		zap.Int64("removed", removed),
	)
	return removed, nil
}

func normalizeFailureFilters(f *model.FailureFilters) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = defaultPageSize
	}
	if f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}
}
