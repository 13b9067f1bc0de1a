package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/licensahq/stageact/model"
)

func TestWriteError_statusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{model.NewBadRequestError("bad"), http.StatusBadRequest},
		{model.NewUnauthorizedError("who"), http.StatusUnauthorized},
		{model.NewNotFoundError("entity app-1 not found"), http.StatusNotFound},
		{model.NewStageNotFoundError("stage gone is not defined"), http.StatusNotFound},
		{model.NewTransitionNotAllowedError("submitted cannot move to archived"), http.StatusUnprocessableEntity},
		{model.NewRoleNotPermittedError("role clerk may not enter approved"), http.StatusForbidden},
		{model.NewConfigurationError("email action is missing recipient"), http.StatusUnprocessableEntity},
		{model.NewUnsupportedActionTypeError("carrier_pigeon"), http.StatusBadRequest},
		{model.NewActionFailedError("email", "relay refused"), http.StatusBadGateway},
		{model.NewRetryFailedError("retry of fa-1 failed"), http.StatusBadGateway},
		{model.NewAlreadyResolvedError("fa-1"), http.StatusConflict},
		{model.NewBackendTimeoutError(), http.StatusGatewayTimeout},
		{model.NewStoreUnavailableError("pg down"), http.StatusServiceUnavailable},
		{errors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		WriteError(w, r, tt.err)
		if w.Code != tt.want {
			t.Errorf("WriteError(%v) status = %d, want %d", tt.err, w.Code, tt.want)
		}
		if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
			t.Errorf("Content-Type = %q", ct)
		}
	}
}

func TestWriteError_envelopeShape(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	WriteError(w, r, model.NewNotFoundError("audit record rec-1 not found"))

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != model.ErrNotFound {
		t.Errorf("code = %q", body.Error.Code)
	}
	if body.Error.Message == "" {
		t.Error("message is empty")
	}
}

func TestWriteError_plainErrorHidesDetail(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	WriteError(w, r, errors.New("pq: password authentication failed"))

	if strings.Contains(w.Body.String(), "password") {
		t.Error("internal error detail leaked to the client")
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	t.Run("valid", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x"}`))
		var p payload
		if err := DecodeJSON(r, &p); err != nil {
			t.Fatalf("err = %v", err)
		}
		if p.Name != "x" {
			t.Errorf("Name = %q", p.Name)
		}
	})

	t.Run("empty body ok", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
		var p payload
		if err := DecodeJSON(r, &p); err != nil {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{not json`))
		var p payload
		err := DecodeJSON(r, &p)
		if !model.IsCode(err, model.ErrBadRequest) {
			t.Fatalf("err = %v, want BAD_REQUEST", err)
		}
	})

	t.Run("oversized body truncated to invalid JSON", func(t *testing.T) {
		big := `{"name":"` + strings.Repeat("a", maxRequestBytes) + `"}`
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big))
		var p payload
		if err := DecodeJSON(r, &p); !model.IsCode(err, model.ErrBadRequest) {
			t.Fatalf("err = %v, want BAD_REQUEST", err)
		}
	})
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
	} {
		if got := w.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
}
