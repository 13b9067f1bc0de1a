package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/licensahq/stageact/internal/engine"
	"github.com/licensahq/stageact/model"
)

func handleFailureList(retrier *engine.Retrier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filters := model.FailureFilters{
			Status:          q.Get("status"),
			ActionType:      q.Get("action_type"),
			ApplicationUUID: q.Get("application_uuid"),
			Page:            intQuery(q.Get("page"), 1),
			PageSize:        intQuery(q.Get("page_size"), 0),
		}

		failures, total, err := retrier.List(r.Context(), filters)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		if failures == nil {
			failures = []model.FailedAction{}
		}
		WriteJSON(w, http.StatusOK, pagedResponse{
			Items:    failures,
			Total:    total,
			Page:     filters.Page,
			PageSize: filters.PageSize,
		})
	}
}

func handleFailureGet(retrier *engine.Retrier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fa, err := retrier.Get(r.Context(), chi.URLParam(r, "failureID"))
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, fa)
	}
}

func handleFailureRetry(retrier *engine.Retrier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := model.MustActor(r.Context())
		fa, err := retrier.Retry(r.Context(), chi.URLParam(r, "failureID"), *actor)
		if err != nil {
			// A failing retry still updated the record; return both.
			if model.IsCode(err, model.ErrRetryFailed) {
				type retryFailedResponse struct {
					Error        *model.ErrorEnvelope `json:"error"`
					FailedAction model.FailedAction   `json:"failed_action"`
				}
				WriteJSON(w, http.StatusBadGateway, retryFailedResponse{
					Error:        err.(*model.ErrorEnvelope),
					FailedAction: fa,
				})
				return
			}
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, fa)
	}
}

func handleFailureResolve(retrier *engine.Retrier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := model.MustActor(r.Context())
		fa, err := retrier.Resolve(r.Context(), chi.URLParam(r, "failureID"), *actor)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, fa)
	}
}

func handleFailureDelete(retrier *engine.Retrier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := model.MustActor(r.Context())
		if err := retrier.Delete(r.Context(), chi.URLParam(r, "failureID"), *actor); err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleFailureStats(retrier *engine.Retrier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := retrier.Stats(r.Context())
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, stats)
	}
}

func handleFailureCleanup(retrier *engine.Retrier, defaultRetentionDays int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RetentionDays int `json:"retention_days"`
		}
		if err := DecodeJSON(r, &body); err != nil {
			WriteError(w, r, err)
			return
		}
		if body.RetentionDays == 0 {
			body.RetentionDays = defaultRetentionDays
		}

		removed, err := retrier.Cleanup(r.Context(), body.RetentionDays)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"removed":        removed,
			"retention_days": body.RetentionDays,
		})
	}
}
