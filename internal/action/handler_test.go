package action

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/licensahq/stageact/internal/collab"
	"github.com/licensahq/stageact/internal/config"
	"github.com/licensahq/stageact/model"
)

type fakeMailer struct {
	sent []collab.MailMessage
	err  error
}

func (m *fakeMailer) Send(_ context.Context, msg collab.MailMessage) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type fakeCaller struct {
	lastService string
	lastMethod  string
	lastPath    string
	lastHeaders map[string]string
	lastBody    map[string]any
	result      collab.CallResult
	err         error
}

func (c *fakeCaller) Call(_ context.Context, service, method, endpoint string, headers map[string]string, body map[string]any) (collab.CallResult, error) {
	c.lastService, c.lastMethod, c.lastPath = service, method, endpoint
	c.lastHeaders, c.lastBody = headers, body
	if c.err != nil {
		return collab.CallResult{}, c.err
	}
	return c.result, nil
}

func (c *fakeCaller) Knows(string) bool { return true }

type fakePayments struct {
	lastReq collab.InvoiceRequest
	receipt collab.InvoiceReceipt
	err     error
}

func (p *fakePayments) CreateInvoice(_ context.Context, req collab.InvoiceRequest) (collab.InvoiceReceipt, error) {
	p.lastReq = req
	return p.receipt, p.err
}

type fakeDocuments struct {
	lastReq collab.DocumentRequest
	receipt collab.DocumentReceipt
	err     error
}

func (d *fakeDocuments) CreateDocument(_ context.Context, req collab.DocumentRequest) (collab.DocumentReceipt, error) {
	d.lastReq = req
	return d.receipt, d.err
}

var mailTemplates = map[string]config.MailTemplate{
	"approval_notice": {
		Subject: "Application @application_number approved",
		Body:    "Dear @applicant_name, your application was approved.",
	},
}

func approvalContext() model.DataContext {
	return model.DataContext{
		"entity_uuid":        "app-42",
		"applicant_name":     "Jane Smith",
		"applicant_email":    "jane@example.com",
		"application_number": "LIC-2026-0042",
		"fee_amount":         "125.00",
	}
}

func mustParse(t *testing.T, spec model.ActionSpec) *Config {
	t.Helper()
	cfg, err := ParseConfig(spec)
	require.NoError(t, err)
	return cfg
}

func TestEmailHandlerExecute(t *testing.T) {
	mailer := &fakeMailer{}
	h := NewEmailHandler(mailer, mailTemplates)

	cfg := mustParse(t, model.ActionSpec{
		Type: "email",
		Config: map[string]any{
			"template":  "approval_notice",
			"recipient": "@applicant_email",
		},
	})

	result, err := h.Execute(context.Background(), cfg, approvalContext(), model.Actor{ID: "op-1"})
	require.NoError(t, err)

	require.Len(t, mailer.sent, 1)
	msg := mailer.sent[0]
	assert.Equal(t, "jane@example.com", msg.To)
	assert.Equal(t, "Application LIC-2026-0042 approved", msg.Subject)
	assert.Equal(t, "Dear Jane Smith, your application was approved.", msg.Body)
	assert.Equal(t, "jane@example.com", result["recipient"])
}

func TestEmailHandlerMissingRecipientField(t *testing.T) {
	h := NewEmailHandler(&fakeMailer{}, mailTemplates)
	cfg := mustParse(t, model.ActionSpec{
		Type: "email",
		Config: map[string]any{
			"template":  "approval_notice",
			"recipient": "@contact_email",
		},
	})

	dctx := approvalContext()
	delete(dctx, "contact_email")

	_, err := h.Execute(context.Background(), cfg, dctx, model.Actor{ID: "op-1"})
	require.Error(t, err)
	assert.True(t, model.IsCode(err, model.ErrActionFailed))
}

func TestEmailHandlerUnknownTemplate(t *testing.T) {
	h := NewEmailHandler(&fakeMailer{}, mailTemplates)
	cfg := mustParse(t, model.ActionSpec{
		Type: "email",
		Config: map[string]any{
			"template":  "no_such_template",
			"recipient": "@applicant_email",
		},
	})

	_, err := h.Execute(context.Background(), cfg, approvalContext(), model.Actor{ID: "op-1"})
	require.Error(t, err)
	assert.True(t, model.IsCode(err, model.ErrConfiguration))
}

func TestAdminEmailHandlerUsesConfiguredAddress(t *testing.T) {
	mailer := &fakeMailer{}
	h := NewAdminEmailHandler(mailer, mailTemplates, "ops@example.com")
	cfg := mustParse(t, model.ActionSpec{
		Type:   "admin_email",
		Config: map[string]any{"template": "approval_notice"},
	})

	_, err := h.Execute(context.Background(), cfg, approvalContext(), model.Actor{ID: "op-1"})
	require.NoError(t, err)
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "ops@example.com", mailer.sent[0].To)
}

func TestAPICallHandlerExecute(t *testing.T) {
	caller := &fakeCaller{result: collab.CallResult{StatusCode: 201, Body: map[string]any{"id": "lic-7"}}}
	h := NewAPICallHandler(caller)
	cfg := mustParse(t, model.ActionSpec{
		Type: "api_call",
		Config: map[string]any{
			"service":  "licensing",
			"endpoint": "/v1/licenses",
			"body": map[string]any{
				"holder": "@applicant_name",
				"kind":   "standard",
			},
			"auth_token": "__self__",
		},
	})

	actor := model.Actor{ID: "op-1", Credential: "tok-9", CorrelationID: "corr-1"}
	result, err := h.Execute(context.Background(), cfg, approvalContext(), actor)
	require.NoError(t, err)

	assert.Equal(t, "licensing", caller.lastService)
	assert.Equal(t, "POST", caller.lastMethod)
	assert.Equal(t, "/v1/licenses", caller.lastPath)
	assert.Equal(t, "Jane Smith", caller.lastBody["holder"])
	assert.Equal(t, "standard", caller.lastBody["kind"])
	assert.Equal(t, "Bearer tok-9", caller.lastHeaders["Authorization"])
	assert.Equal(t, "corr-1", caller.lastHeaders["X-Correlation-Id"])
	assert.Equal(t, 201, result["status_code"])
}

func TestAPICallHandlerSelfTokenWithoutCredential(t *testing.T) {
	h := NewAPICallHandler(&fakeCaller{})
	cfg := mustParse(t, model.ActionSpec{
		Type: "api_call",
		Config: map[string]any{
			"service":    "licensing",
			"endpoint":   "/v1/licenses",
			"auth_token": "__self__",
		},
	})

	_, err := h.Execute(context.Background(), cfg, approvalContext(), model.Actor{ID: "system"})
	require.Error(t, err)
	assert.True(t, model.IsCode(err, model.ErrActionFailed))
}

func TestAPICallHandlerAbsentBodyField(t *testing.T) {
	h := NewAPICallHandler(&fakeCaller{})
	cfg := mustParse(t, model.ActionSpec{
		Type: "api_call",
		Config: map[string]any{
			"service":  "licensing",
			"endpoint": "/v1/licenses",
			"body":     map[string]any{"holder": "@missing_field"},
		},
	})

	_, err := h.Execute(context.Background(), cfg, approvalContext(), model.Actor{ID: "op-1"})
	require.Error(t, err)
	assert.True(t, model.IsCode(err, model.ErrActionFailed))
}

func TestInvoiceHandlerExecute(t *testing.T) {
	payments := &fakePayments{receipt: collab.InvoiceReceipt{
		InvoiceID: "inv-1", InvoiceNumber: "2026-0001", Amount: 125, Currency: "EUR",
	}}
	h := NewInvoiceHandler(payments)
	cfg := mustParse(t, model.ActionSpec{
		Type: "create_invoice",
		Config: map[string]any{
			"invoice_type": "processing_fee",
			"amount":       "@fee_amount",
			"description":  "Fee for @application_number",
		},
	})

	result, err := h.Execute(context.Background(), cfg, approvalContext(), model.Actor{ID: "op-1"})
	require.NoError(t, err)

	assert.Equal(t, "app-42", payments.lastReq.ApplicationUUID)
	assert.InDelta(t, 125.0, payments.lastReq.Amount, 0.001)
	assert.Equal(t, "Fee for LIC-2026-0042", payments.lastReq.Description)
	assert.Equal(t, "op-1", payments.lastReq.RequestedBy)
	assert.Equal(t, "inv-1", result["invoice_id"])
}

func TestInvoiceHandlerBadAmount(t *testing.T) {
	h := NewInvoiceHandler(&fakePayments{})
	cfg := mustParse(t, model.ActionSpec{
		Type: "create_invoice",
		Config: map[string]any{
			"invoice_type": "processing_fee",
			"amount":       "@applicant_name",
		},
	})

	_, err := h.Execute(context.Background(), cfg, approvalContext(), model.Actor{ID: "op-1"})
	require.Error(t, err)
	assert.True(t, model.IsCode(err, model.ErrActionFailed))
}

func TestDocumentHandlerExecute(t *testing.T) {
	documents := &fakeDocuments{receipt: collab.DocumentReceipt{DocumentID: "doc-1"}}
	h := NewDocumentHandler(documents)
	cfg := mustParse(t, model.ActionSpec{
		Type: "create_document",
		Config: map[string]any{
			"document_type": "license_certificate",
			"template_name": "certificate_v2",
			"fields": map[string]any{
				"holder": "@applicant_name",
				"number": "@application_number",
			},
		},
	})

	result, err := h.Execute(context.Background(), cfg, approvalContext(), model.Actor{ID: "op-1"})
	require.NoError(t, err)

	assert.Equal(t, "certificate_v2", documents.lastReq.TemplateName)
	assert.Equal(t, "Jane Smith", documents.lastReq.Fields["holder"])
	assert.Equal(t, "doc-1", result["document_id"])
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(NewAPICallHandler(&fakeCaller{}))
	r.Register(NewEmailHandler(&fakeMailer{}, mailTemplates))

	h, ok := r.Get(TypeAPICall)
	require.True(t, ok)
	assert.Equal(t, TypeAPICall, h.Type())

	_, ok = r.Get(TypeCreateInvoice)
	assert.False(t, ok)

	assert.Equal(t, []Type{TypeAPICall, TypeEmail}, r.Types())

	assert.Panics(t, func() {
		r.Register(NewAPICallHandler(&fakeCaller{}))
	})
}
