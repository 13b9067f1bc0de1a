package transport

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/licensahq/stageact/internal/engine"
	"github.com/licensahq/stageact/model"
)

func handleAuditList(audit *engine.AuditLog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filters := model.AuditFilters{
			ActionType:      q.Get("action_type"),
			ApplicationUUID: q.Get("application_uuid"),
			SortBy:          q.Get("sort_by"),
			SortOrder:       q.Get("sort_order"),
			WithDeleted:     q.Get("with_deleted") == "true",
			Page:            intQuery(q.Get("page"), 1),
			PageSize:        intQuery(q.Get("page_size"), 0),
		}

		records, total, err := audit.List(r.Context(), filters)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		if records == nil {
			records = []model.AuditRecord{}
		}
		WriteJSON(w, http.StatusOK, pagedResponse{
			Items:    records,
			Total:    total,
			Page:     filters.Page,
			PageSize: filters.PageSize,
		})
	}
}

func handleAuditGet(audit *engine.AuditLog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := audit.Get(r.Context(), chi.URLParam(r, "auditID"))
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, rec)
	}
}

func handleAuditDelete(audit *engine.AuditLog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := model.MustActor(r.Context())
		if err := audit.Delete(r.Context(), chi.URLParam(r, "auditID"), *actor); err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleAuditStats(audit *engine.AuditLog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := audit.Stats(r.Context(), intQuery(r.URL.Query().Get("trailing_days"), 0))
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, stats)
	}
}

func handleAuditCleanup(audit *engine.AuditLog, defaultRetentionDays int) http.HandlerFunc {
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

		removed, err := audit.Cleanup(r.Context(), body.RetentionDays)
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

func intQuery(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
