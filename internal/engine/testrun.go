package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/licensahq/stageact/internal/action"
	"github.com/licensahq/stageact/internal/observability"
	"github.com/licensahq/stageact/model"
)

// TestRunner executes a supplied action config against synthetic sample
// data. Collaborator calls are real; nothing touches the store, so there
// is no entity, no transaction, no audit record, and no failure record.
type TestRunner struct {
	handlers       *action.Registry
	logger         *zap.Logger
	handlerTimeout time.Duration
}

// NewTestRunner wires a TestRunner.
func NewTestRunner(handlers *action.Registry, logger *zap.Logger, handlerTimeout time.Duration) *TestRunner {
	if handlerTimeout <= 0 {
		handlerTimeout = 15 * time.Second
	}
	return &TestRunner{handlers: handlers, logger: logger, handlerTimeout: handlerTimeout}
}

// Run parses and executes spec against sampleData for actor. Config
// errors are returned as errors; execution failures come back inside the
// result with Success false, so an operator can iterate on a config
// without the call failing outright.
func (t *TestRunner) Run(ctx context.Context, spec model.ActionSpec,
	sampleData map[string]any, actor model.Actor) (model.TestRunResult, error) {

	cfg, err := action.ParseConfig(spec)
	if err != nil {
		return model.TestRunResult{}, err
	}
	handler, ok := t.handlers.Get(cfg.Type)
	if !ok {
		return model.TestRunResult{}, model.NewUnsupportedActionTypeError(spec.Type)
	}

	hctx, cancel := context.WithTimeout(ctx, t.handlerTimeout)
	defer cancel()

	start := time.Now()
	res, execErr := handler.Execute(hctx, cfg, model.DataContext(sampleData), actor)
	elapsed := time.Since(start)

	result := model.TestRunResult{
		ActionType:      cfg.Type.String(),
		ExecutionTimeMs: elapsed.Milliseconds(),
	}
	if execErr != nil {
		result.Error = execErr.Error()
		observability.ActorLogger(ctx, t.logger).Info("test run failed",
			zap.String("action_type", result.ActionType),
			zap.Error(execErr),
		)
		return result, nil
	}
	result.Success = true
	result.Result = res
	return result, nil
}
