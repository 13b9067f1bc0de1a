// Package integration provides a reusable test harness for end-to-end
// testing of the stage action engine. It starts a full HTTP server with
// mock collaborator services, an in-memory store, and a test JWT issuer.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/licensahq/stageact/internal/action"
	"github.com/licensahq/stageact/internal/collab"
	"github.com/licensahq/stageact/internal/config"
	"github.com/licensahq/stageact/internal/engine"
	"github.com/licensahq/stageact/internal/observability"
	"github.com/licensahq/stageact/internal/template"
	"github.com/licensahq/stageact/internal/transport"
	"github.com/licensahq/stageact/model"
)

// licensingServiceID is the api_call target configured in the default
// test template.
const licensingServiceID = "licensing-svc"

// defaultTemplateYAML is the stage template loaded by default. It covers
// every handler type across the approval and rejection paths.
const defaultTemplateYAML = `
name: license-application
description: Trade license application processing
kind: application
stages:
  - name: submitted
    allowed_transitions: [approved, rejected]
    allowed_roles: [reviewer]
  - name: approved
    allowed_transitions: [archived]
    allowed_roles: [reviewer]
    actions:
      - type: email
        config:
          template: approval
          recipient: "@applicant_email"
      - type: api_call
        config:
          service: licensing-svc
          endpoint: /v1/licenses
          method: POST
          body:
            application: "@entity_uuid"
      - type: create_invoice
        config:
          invoice_type: license_fee
          amount: "@fee_amount"
          description: License issuance fee
  - name: rejected
    allowed_transitions: []
    allowed_roles: [reviewer]
    actions:
      - type: admin_email
        config:
          template: rejection
      - type: create_document
        config:
          document_type: rejection_notice
          template_name: rejection-letter
          fields:
            applicant: "@applicant_name"
  - name: archived
    allowed_roles: [admin]
`

// TestHarness encapsulates a fully wired engine instance with mock
// collaborator backends.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Store    *engine.MemStore
	Registry *template.Registry
	Retrier  *engine.Retrier
	AuditLog *engine.AuditLog

	Mail      *MockBackend
	Payments  *MockBackend
	Documents *MockBackend
	Licensing *MockBackend
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	templateYAML   string
	handlerTimeout time.Duration
}

// WithTemplateYAML replaces the default stage template.
func WithTemplateYAML(yaml string) HarnessOption {
	return func(c *harnessConfig) {
		c.templateYAML = yaml
	}
}

// WithHandlerTimeout sets the per-action handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// NewTestHarness creates and starts a full engine test instance. The
// server is automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		templateYAML:   defaultTemplateYAML,
		handlerTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(hc)
	}

	h := &TestHarness{t: t}

	// Mock collaborators.
	h.Mail = newMockBackend(t, "mail", map[string]any{
		"POST /v1/messages": map[string]any{"status": "queued"},
	})
	h.Payments = newMockBackend(t, "payments", map[string]any{
		"POST /v1/invoices": map[string]any{
			"invoice_id":     "inv-1001",
			"invoice_number": "2026-1001",
			"amount":         150.0,
			"currency":       "EUR",
			"due_date":       "2026-09-30",
		},
	})
	h.Documents = newMockBackend(t, "documents", map[string]any{
		"POST /v1/documents": map[string]any{
			"document_id":  "doc-2001",
			"download_url": "https://files.test/doc-2001.pdf",
		},
	})
	h.Licensing = newMockBackend(t, licensingServiceID, map[string]any{
		"POST /v1/licenses": map[string]any{"license_id": "lic-3001"},
	})

	// Write the template to disk so the loader path is exercised.
	templateDir := t.TempDir()
	templatePath := filepath.Join(templateDir, "license-application.yaml")
	if err := os.WriteFile(templatePath, []byte(hc.templateYAML), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}

	loader := template.NewLoader()
	defs, err := loader.LoadAll([]string{templateDir})
	if err != nil {
		t.Fatalf("load templates: %v", err)
	}
	if verrs := template.NewValidator(nil).Validate(defs, nil); len(verrs) > 0 {
		t.Fatalf("template validation: %v", verrs)
	}
	h.Registry = template.NewRegistry(defs)

	// Store and collaborator clients.
	h.Store = engine.NewMemStore()

	mailCfg := config.MailConfig{
		BaseURL:      h.Mail.URL(),
		Timeout:      3 * time.Second,
		AdminAddress: "licensing-admin@licensa.test",
		FromAddress:  "noreply@licensa.test",
		Templates: map[string]config.MailTemplate{
			"approval": {
				Subject: "Your application has been approved",
				Body:    "Dear applicant, your application @entity_uuid was approved.",
			},
			"rejection": {
				Subject: "Application rejected",
				Body:    "Application @entity_uuid moved to rejected.",
			},
		},
	}
	services := map[string]config.ServiceConfig{
		licensingServiceID: {BaseURL: h.Licensing.URL(), Timeout: 3 * time.Second},
	}

	mailer := collab.NewHTTPMailer(mailCfg)
	handlers := action.NewRegistry()
	handlers.Register(action.NewEmailHandler(mailer, mailCfg.Templates))
	handlers.Register(action.NewAdminEmailHandler(mailer, mailCfg.Templates, mailCfg.AdminAddress))
	handlers.Register(action.NewAPICallHandler(collab.NewHTTPCaller(services)))
	handlers.Register(action.NewInvoiceHandler(collab.NewHTTPPayments(config.ServiceConfig{
		BaseURL: h.Payments.URL(),
		Timeout: 3 * time.Second,
	})))
	handlers.Register(action.NewDocumentHandler(collab.NewHTTPDocuments(config.ServiceConfig{
		BaseURL: h.Documents.URL(),
		Timeout: 3 * time.Second,
	})))

	// Engine services.
	logger := zap.NewNop()
	metrics := observability.InitMetrics(prometheus.NewRegistry())
	resolver := engine.NewResolver(h.Registry)
	dispatcher := engine.NewDispatcher(h.Store, resolver, handlers, logger, metrics, hc.handlerTimeout)
	h.AuditLog = engine.NewAuditLog(h.Store, logger, metrics)
	h.Retrier = engine.NewRetrier(h.Store, handlers, logger, metrics, hc.handlerTimeout)
	testRunner := engine.NewTestRunner(handlers, logger, hc.handlerTimeout)

	// JWT issuer and router.
	h.issuer = newTokenIssuer(t)
	cfg := config.Defaults()
	cfg.Server.HandlerTimeout = 10 * time.Second
	cfg.Identity.Issuer = h.issuer.Issuer()
	cfg.Identity.Audience = h.issuer.Audience()
	cfg.Identity.JWKSURL = h.issuer.JWKSURL()
	cfg.Observability.Metrics.Enabled = false

	jwks := transport.NewJWKSClient(h.issuer.JWKSURL(), 1*time.Hour, logger)
	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Metrics:      metrics,
		Authenticate: transport.JWTAuthenticator(cfg.Identity, jwks),
		Store:        h.Store,
		Dispatcher:   dispatcher,
		AuditLog:     h.AuditLog,
		Retrier:      h.Retrier,
		TestRunner:   testRunner,
		Templates:    h.Registry,
		Readiness: observability.ReadinessChecks{
			TemplatesLoaded: func() bool { return h.Registry.Len() > 0 },
			Store:           h.Store,
		},
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// ReviewerToken returns a signed token for the standard reviewer
// identity.
func (h *TestHarness) ReviewerToken() string {
	return h.issuer.GenerateToken(TestClaims{
		SubjectID: "user-reviewer",
		Email:     "reviewer@licensa.test",
		Role:      "reviewer",
		Roles:     []string{"reviewer"},
	})
}

// Token returns a signed token for arbitrary claims.
func (h *TestHarness) Token(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// ExpiredToken returns a token that expired an hour ago.
func (h *TestHarness) ExpiredToken() string {
	return h.issuer.GenerateExpiredToken(TestClaims{
		SubjectID: "user-reviewer",
		Role:      "reviewer",
	})
}

// SeedApplication stores a license application entity at the submitted
// stage and returns its UUID.
func (h *TestHarness) SeedApplication(uuid string) string {
	now := time.Now().UTC()
	h.Store.SeedEntity(model.Entity{
		UUID:         uuid,
		Kind:         "application",
		TemplateName: "license-application",
		CurrentStage: "submitted",
		Data: map[string]any{
			"applicant_email": "maria@example.com",
			"applicant_name":  "Maria Jansen",
			"fee_amount":      "150.00",
		},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	})
	return uuid
}

// Do performs an authenticated JSON request against the test server.
func (h *TestHarness) Do(t *testing.T, token, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, h.server.URL+path, reqBody)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	var decoded map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("decode response %q: %v", string(raw), err)
		}
	}
	return resp, decoded
}

// Dispatch triggers a stage transition as the standard reviewer.
func (h *TestHarness) Dispatch(t *testing.T, entityUUID, targetStage string) (*http.Response, map[string]any) {
	t.Helper()
	return h.Do(t, h.ReviewerToken(), http.MethodPost,
		fmt.Sprintf("/api/entities/%s/transition", entityUUID),
		map[string]any{"target_stage": targetStage})
}
