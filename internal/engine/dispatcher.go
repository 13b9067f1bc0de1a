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

// Dispatcher moves an entity into a target stage and executes that
// stage's configured actions in order, inside one store transaction.
// The first failing action aborts the pipeline and rolls the stage
// change back; the failure is recorded through the root store so it
// survives the rollback.
type Dispatcher struct {
	store          Store
	resolver       *Resolver
	handlers       *action.Registry
	logger         *zap.Logger
	metrics        *observability.Metrics
	handlerTimeout time.Duration
}

// NewDispatcher wires a Dispatcher. handlerTimeout bounds each
// individual action handler call.
func NewDispatcher(store Store, resolver *Resolver, handlers *action.Registry,
	logger *zap.Logger, metrics *observability.Metrics, handlerTimeout time.Duration) *Dispatcher {
	if handlerTimeout <= 0 {
		handlerTimeout = 15 * time.Second
	}
	return &Dispatcher{
		store:          store,
		resolver:       resolver,
		handlers:       handlers,
		logger:         logger,
		metrics:        metrics,
		handlerTimeout: handlerTimeout,
	}
}

// Dispatch validates and performs the transition entityUUID to targetStage
// for the given actor, executing the target stage's actions. Config
// errors (unknown action type, bad config) surface before the
// transaction opens and leave no trace in the store.
func (d *Dispatcher) Dispatch(ctx context.Context, entityUUID, targetStage string,
	formData map[string]any, actor model.Actor) (model.DispatchResult, error) {

	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "engine.Dispatch",
		observability.AttrEntityUUID.String(entityUUID),
		observability.AttrStage.String(targetStage),
		observability.AttrActorID.String(actor.ID),
	)
	var retErr error
	defer func() { observability.EndSpanWithError(span, retErr) }()

	logger := observability.ActorLogger(ctx, d.logger)

	entity, err := d.store.GetEntity(ctx, entityUUID)
	if err != nil {
		retErr = err
		return model.DispatchResult{}, err
	}
	span.SetAttributes(observability.AttrTemplate.String(entity.TemplateName))

	stage, err := d.resolver.Resolve(entity, targetStage, actor)
	if err != nil {
		retErr = err
		return model.DispatchResult{}, err
	}

	// Type-check every action before touching anything. A batch with one
	// bad config never partially runs.
	configs := make([]*action.Config, len(stage.Actions))
	for i, spec := range stage.Actions {
		cfg, err := action.ParseConfig(spec)
		if err != nil {
			retErr = err
			return model.DispatchResult{}, err
		}
		if _, ok := d.handlers.Get(cfg.Type); !ok {
			retErr = model.NewUnsupportedActionTypeError(cfg.Type.String())
			return model.DispatchResult{}, retErr
		}
		configs[i] = cfg
	}

	dctx := model.BuildDataContext(entity, formData)
	dctx["target_stage"] = targetStage

	result := model.DispatchResult{EntityUUID: entityUUID, Stage: targetStage}

	err = d.store.InTransaction(ctx, func(ctx context.Context, tx Store) error {
		updated := entity
		updated.CurrentStage = targetStage
		if err := tx.UpdateEntityStage(ctx, updated); err != nil {
			return err
		}

		for i, cfg := range configs {
			actionType := cfg.Type.String()
			res, elapsed, execErr := d.execute(ctx, cfg, dctx, actor)

			if execErr != nil {
				d.metrics.RecordAction(actionType, "failure", elapsed)
				faID, recErr := d.recordFailure(ctx, entity, cfg, dctx, actor, execErr)
				if recErr != nil {
					// Losing the failure record loses the retry path,
					// so this error wins over the action error.
					return recErr
				}
				result.FailedActionID = faID
				logger.Warn("action failed, aborting dispatch",
					zap.String("entity_uuid", entityUUID),
					zap.String("stage", targetStage),
					zap.String("action_type", actionType),
					zap.Int("action_index", i),
					zap.String("failed_action_id", faID),
					zap.Error(execErr),
				)
				return failureEnvelope(actionType, execErr).WithMeta("failed_action_id", faID)
			}

			d.metrics.RecordAction(actionType, "success", elapsed)
			rec := model.AuditRecord{
				ID:              uuid.NewString(),
				ApplicationUUID: &entity.UUID,
				ActionType:      actionType,
				ActionConfig:    cfg.Raw,
				ActionData:      dctx,
				ActionResult:    res,
				ExecutionTimeMs: elapsed.Milliseconds(),
				TriggeredBy:     &actor.ID,
				CreatedAt:       time.Now().UTC(),
			}
			if aerr := tx.InsertAuditRecord(ctx, rec); aerr != nil {
				// An audit infrastructure hiccup must not undo work that
				// already happened against external systems.
				d.metrics.RecordAuditWriteFailure()
				logger.Warn("audit record write failed",
					zap.String("entity_uuid", entityUUID),
					zap.String("action_type", actionType),
					zap.Error(aerr),
				)
			}
			result.Executed = append(result.Executed, actionType)
		}
		return nil
	})

	status := "success"
	if err != nil {
		status = "failure"
	}
	d.metrics.RecordDispatch(entity.TemplateName, targetStage, status, time.Since(start))

	if err != nil {
		retErr = err
		return result, err
	}

	logger.Info("dispatch complete",
		zap.String("entity_uuid", entityUUID),
		zap.String("stage", targetStage),
		zap.Int("actions_executed", len(result.Executed)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

// execute runs one handler under the per-handler timeout.
func (d *Dispatcher) execute(ctx context.Context, cfg *action.Config,
	dctx model.DataContext, actor model.Actor) (model.ActionResult, time.Duration, error) {

	handler, ok := d.handlers.Get(cfg.Type)
	if !ok {
		return nil, 0, model.NewUnsupportedActionTypeError(cfg.Type.String())
	}

	hctx, cancel := context.WithTimeout(ctx, d.handlerTimeout)
	defer cancel()

	start := time.Now()
	res, err := handler.Execute(hctx, cfg, dctx, actor)
	elapsed := time.Since(start)

	if err == nil && hctx.Err() != nil {
		err = model.NewBackendTimeoutError()
	}
	return res, elapsed, err
}

// recordFailure writes the failed action through the root store, outside
// the dispatch transaction, so the record survives the rollback.
func (d *Dispatcher) recordFailure(ctx context.Context, entity model.Entity,
	cfg *action.Config, dctx model.DataContext, actor model.Actor, execErr error) (string, error) {

	now := time.Now().UTC()
	fa := model.FailedAction{
		ID:              uuid.NewString(),
		ApplicationUUID: &entity.UUID,
		ActionType:      cfg.Type.String(),
		ActionConfig:    cfg.Raw,
		ActionData:      dctx,
		ErrorMessage:    execErr.Error(),
		ErrorTrace:      fmt.Sprintf("%+v", execErr),
		Status:          model.FailedActionStatusFailed,
		CreatedBy:       actor.ID,
		UpdatedBy:       actor.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := d.store.InsertFailedAction(ctx, fa); err != nil {
		if ee, ok := err.(*model.ErrorEnvelope); ok {
			return "", ee
		}
		return "", model.NewStoreUnavailableError(
			fmt.Sprintf("recording failed action: %v", err))
	}
	d.metrics.RecordFailedAction(fa.ActionType)
	return fa.ID, nil
}

// failureEnvelope wraps a handler error in an ACTION_FAILED envelope,
// preserving an envelope that already carries that code.
func failureEnvelope(actionType string, err error) *model.ErrorEnvelope {
	if ee, ok := err.(*model.ErrorEnvelope); ok && ee.Code == model.ErrActionFailed {
		return ee
	}
	return model.NewActionFailedError(actionType, err.Error())
}
