// Package transport contains the HTTP router, middleware chain, and all
// request handlers for the engine's operator API.
package transport

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/licensahq/stageact/internal/observability"
	"github.com/licensahq/stageact/model"
)

// maxRequestBytes caps request bodies to keep a stray client from
// exhausting memory.
const maxRequestBytes = 1 << 20

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:            http.StatusBadRequest,
	model.ErrUnauthorized:          http.StatusUnauthorized,
	model.ErrForbidden:             http.StatusForbidden,
	model.ErrNotFound:              http.StatusNotFound,
	model.ErrConflict:              http.StatusConflict,
	model.ErrValidationError:       http.StatusUnprocessableEntity,
	model.ErrInternalError:         http.StatusInternalServerError,
	model.ErrStoreUnavailable:      http.StatusServiceUnavailable,
	model.ErrStageNotFound:         http.StatusNotFound,
	model.ErrTransitionNotAllowed:  http.StatusUnprocessableEntity,
	model.ErrRoleNotPermitted:      http.StatusForbidden,
	model.ErrUnsupportedActionType: http.StatusBadRequest,
	model.ErrConfiguration:         http.StatusUnprocessableEntity,
	model.ErrActionFailed:          http.StatusBadGateway,
	model.ErrRetryFailed:           http.StatusBadGateway,
	model.ErrAlreadyResolved:       http.StatusConflict,
	model.ErrBackendUnavailable:    http.StatusBadGateway,
	model.ErrBackendTimeout:        http.StatusGatewayTimeout,
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes an ErrorEnvelope as a JSON response with the mapped
// HTTP status code, stamping the active trace id onto the envelope. A
// non-envelope error becomes a generic 500.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	ee, ok := err.(*model.ErrorEnvelope)
	if !ok {
		ee = model.NewInternalError()
	}
	if ee.TraceID == "" && r != nil {
		ee.TraceID = observability.TraceIDFromContext(r.Context())
	}

	status := statusForCode[ee.Code]
	if status == 0 {
		status = http.StatusInternalServerError
	}

	type errorResponse struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	WriteJSON(w, status, errorResponse{Error: ee})
}

// DecodeJSON reads a size-capped JSON request body into dst. An empty
// body is allowed when dst accepts it as absent fields.
func DecodeJSON(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		return model.NewBadRequestError("unable to read request body")
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return model.NewBadRequestError("request body is not valid JSON")
	}
	return nil
}

// pagedResponse is the standard list envelope.
type pagedResponse struct {
	Items    any   `json:"items"`
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
}
