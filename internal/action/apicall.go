package action

import (
	"context"
	"fmt"

	"github.com/licensahq/stageact/internal/collab"
	"github.com/licensahq/stageact/model"
)

// APICallHandler performs HTTP calls against configured backend
// services, mapping data-context fields into the request body.
type APICallHandler struct {
	caller collab.Caller
}

// NewAPICallHandler builds the api_call handler.
func NewAPICallHandler(caller collab.Caller) *APICallHandler {
	return &APICallHandler{caller: caller}
}

func (h *APICallHandler) Type() Type { return TypeAPICall }

// Execute resolves the body mapping and headers against the data
// context and performs the call. A missing referenced field fails the
// action rather than sending a partial payload.
func (h *APICallHandler) Execute(ctx context.Context, cfg *Config, dctx model.DataContext, actor model.Actor) (model.ActionResult, error) {
	ac := cfg.APICall
	if ac == nil {
		return nil, model.NewConfigurationError("api_call action missing parsed config")
	}

	body := make(map[string]any, len(ac.BodyMapping))
	for key, expr := range ac.BodyMapping {
		v, ok := expr.Resolve(dctx, actor)
		if !ok {
			return nil, model.NewActionFailedError(TypeAPICall.String(),
				fmt.Sprintf("body field %q references absent data field %q", key, expr.Field))
		}
		body[key] = v
	}

	headers := make(map[string]string, len(ac.Headers)+2)
	for key, expr := range ac.Headers {
		v, ok := expr.Resolve(dctx, actor)
		if !ok {
			return nil, model.NewActionFailedError(TypeAPICall.String(),
				fmt.Sprintf("header %q references absent data field %q", key, expr.Field))
		}
		headers[key] = v
	}
	if !ac.AuthToken.IsZero() {
		tok, ok := ac.AuthToken.Resolve(dctx, actor)
		if !ok || tok == "" {
			return nil, model.NewActionFailedError(TypeAPICall.String(),
				"auth token could not be resolved for the acting operator")
		}
		headers["Authorization"] = "Bearer " + tok
	}
	if actor.CorrelationID != "" {
		headers["X-Correlation-Id"] = actor.CorrelationID
	}

	result, err := h.caller.Call(ctx, ac.Service, ac.Method, ac.Endpoint, headers, body)
	if err != nil {
		return nil, err
	}

	return model.ActionResult{
		"service":     ac.Service,
		"endpoint":    ac.Endpoint,
		"method":      ac.Method,
		"status_code": result.StatusCode,
		"response":    result.Body,
	}, nil
}
