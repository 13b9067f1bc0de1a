package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/licensahq/stageact/internal/engine"
	"github.com/licensahq/stageact/model"
)

func handleEntityGet(store engine.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entity, err := store.GetEntity(r.Context(), chi.URLParam(r, "entityUUID"))
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, entity)
	}
}

func handleDispatch(dispatcher *engine.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := model.MustActor(r.Context())
		entityUUID := chi.URLParam(r, "entityUUID")

		var body struct {
			TargetStage string         `json:"target_stage"`
			FormData    map[string]any `json:"form_data"`
		}
		if err := DecodeJSON(r, &body); err != nil {
			WriteError(w, r, err)
			return
		}
		if body.TargetStage == "" {
			WriteError(w, r, model.NewValidationError([]model.FieldError{
				{Field: "target_stage", Code: "REQUIRED", Message: "target_stage is required"},
			}))
			return
		}

		result, err := dispatcher.Dispatch(r.Context(), entityUUID, body.TargetStage, body.FormData, *actor)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, result)
	}
}

func handleTestAction(runner *engine.TestRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := model.MustActor(r.Context())

		var body struct {
			Action     model.ActionSpec `json:"action"`
			SampleData map[string]any   `json:"sample_data"`
		}
		if err := DecodeJSON(r, &body); err != nil {
			WriteError(w, r, err)
			return
		}
		if body.Action.Type == "" {
			WriteError(w, r, model.NewValidationError([]model.FieldError{
				{Field: "action.type", Code: "REQUIRED", Message: "action.type is required"},
			}))
			return
		}

		result, err := runner.Run(r.Context(), body.Action, body.SampleData, *actor)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, result)
	}
}
