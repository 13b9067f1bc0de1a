package template

import (
	"fmt"

	"github.com/licensahq/stageact/internal/action"
	"github.com/licensahq/stageact/internal/openapi"
	"github.com/licensahq/stageact/model"
)

// VError describes a single validation error in a template.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator validates templates structurally, referentially, and
// optionally checks api_call endpoints against OpenAPI specs. A template
// set that fails validation must never be served: a bad action config is
// rejected here, at authoring time, not mid-dispatch.
type Validator struct {
	handlers *action.Registry
}

// NewValidator creates a new Validator. When handlers is non-nil,
// actions whose type has no registered handler are rejected, so a
// template cannot reference a collaborator the deployment never
// configured. Nil skips the check.
func NewValidator(handlers *action.Registry) *Validator {
	return &Validator{handlers: handlers}
}

// Validate checks all templates. The index may be nil to skip OpenAPI
// checks.
func (v *Validator) Validate(defs []model.TemplateDefinition, index *openapi.Index) []VError {
	var errs []VError

	seen := make(map[string]bool, len(defs))
	for i, def := range defs {
		prefix := fmt.Sprintf("templates[%d]", i)
		if def.Name != "" && seen[def.Name] {
			errs = append(errs, VError{
				Path:    prefix + ".name",
				Code:    "DUPLICATE",
				Message: fmt.Sprintf("template %q defined more than once", def.Name),
			})
		}
		seen[def.Name] = true
		errs = append(errs, v.validateTemplate(prefix, def, index)...)
	}
	return errs
}

func (v *Validator) validateTemplate(prefix string, def model.TemplateDefinition, index *openapi.Index) []VError {
	var errs []VError

	if def.Name == "" {
		errs = append(errs, VError{Path: prefix + ".name", Code: "REQUIRED", Message: "name is required"})
	}
	if len(def.Stages) == 0 {
		errs = append(errs, VError{Path: prefix + ".stages", Code: "REQUIRED", Message: "at least one stage is required"})
	}

	stageNames := make(map[string]bool, len(def.Stages))
	for i, s := range def.Stages {
		sp := fmt.Sprintf("%s.stages[%d]", prefix, i)
		if s.Name == "" {
			errs = append(errs, VError{Path: sp + ".name", Code: "REQUIRED", Message: "stage name is required"})
		}
		if stageNames[s.Name] {
			errs = append(errs, VError{
				Path:    sp + ".name",
				Code:    "DUPLICATE",
				Message: fmt.Sprintf("stage %q defined more than once", s.Name),
			})
		}
		stageNames[s.Name] = true
	}

	for i, s := range def.Stages {
		sp := fmt.Sprintf("%s.stages[%d]", prefix, i)
		errs = append(errs, v.validateStage(sp, s, stageNames, index)...)
	}

	return errs
}

func (v *Validator) validateStage(prefix string, s model.StageDefinition, stageNames map[string]bool, index *openapi.Index) []VError {
	var errs []VError

	if len(s.AllowedRoles) == 0 {
		errs = append(errs, VError{
			Path:    prefix + ".allowed_roles",
			Code:    "REQUIRED",
			Message: "at least one allowed role is required",
		})
	}

	for i, target := range s.AllowedTransitions {
		if !stageNames[target] {
			errs = append(errs, VError{
				Path:    fmt.Sprintf("%s.allowed_transitions[%d]", prefix, i),
				Code:    "REF_NOT_FOUND",
				Message: fmt.Sprintf("transition target %q is not a stage in this template", target),
			})
		}
	}

	for i, spec := range s.Actions {
		ap := fmt.Sprintf("%s.actions[%d]", prefix, i)
		errs = append(errs, v.validateAction(ap, spec, index)...)
	}

	return errs
}

func (v *Validator) validateAction(prefix string, spec model.ActionSpec, index *openapi.Index) []VError {
	cfg, err := action.ParseConfig(spec)
	if err != nil {
		code := "CONFIG_INVALID"
		if model.IsCode(err, model.ErrUnsupportedActionType) {
			code = "UNSUPPORTED_TYPE"
		}
		msg := err.Error()
		if ee, ok := err.(*model.ErrorEnvelope); ok {
			msg = ee.Message
		}
		return []VError{{Path: prefix, Code: code, Message: msg}}
	}

	if v.handlers != nil {
		if _, ok := v.handlers.Get(cfg.Type); !ok {
			return []VError{{
				Path:    prefix + ".type",
				Code:    "HANDLER_NOT_CONFIGURED",
				Message: fmt.Sprintf("no handler configured for action type %q", cfg.Type),
			}}
		}
	}

	// Endpoint check against the service's published contract, when a
	// spec was loaded for it.
	if cfg.Type == action.TypeAPICall && index != nil {
		ac := cfg.APICall
		if index.HasService(ac.Service) && !index.HasRoute(ac.Service, ac.Method, ac.Endpoint) {
			return []VError{{
				Path:    prefix + ".endpoint",
				Code:    "ROUTE_NOT_FOUND",
				Message: fmt.Sprintf("%s %s not published by service %q", ac.Method, ac.Endpoint, ac.Service),
			}}
		}
	}

	return nil
}
