package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/licensahq/stageact/internal/action"
	"github.com/licensahq/stageact/internal/observability"
	"github.com/licensahq/stageact/internal/template"
	"github.com/licensahq/stageact/model"
)

// --- Test helpers ---

func testActor() model.Actor {
	return model.Actor{
		ID:    "user-reviewer",
		Email: "reviewer@example.com",
		Role:  "reviewer",
	}
}

// fakeHandler is a controllable action handler registered under a real
// action type.
type fakeHandler struct {
	typ    action.Type
	err    error
	result model.ActionResult
	calls  int
	onExec func()
}

func (h *fakeHandler) Type() action.Type { return h.typ }

func (h *fakeHandler) Execute(_ context.Context, _ *action.Config, _ model.DataContext, _ model.Actor) (model.ActionResult, error) {
	h.calls++
	if h.onExec != nil {
		h.onExec()
	}
	if h.err != nil {
		return nil, h.err
	}
	if h.result != nil {
		return h.result, nil
	}
	return model.ActionResult{"ok": true}, nil
}

func testTemplates() []model.TemplateDefinition {
	return []model.TemplateDefinition{
		{
			Name: "license-application",
			Kind: "application",
			Stages: []model.StageDefinition{
				{
					Name:               "submitted",
					AllowedTransitions: []string{"approved", "rejected"},
					AllowedRoles:       []string{"applicant"},
				},
				{
					Name:         "approved",
					AllowedRoles: []string{"reviewer"},
					Actions: []model.ActionSpec{
						{
							Type: "email",
							Config: map[string]any{
								"template":  "approval",
								"recipient": "@applicant_email",
							},
						},
						{
							Type: "api_call",
							Config: map[string]any{
								"service":  "licensing-svc",
								"endpoint": "/v1/licenses",
								"method":   "POST",
							},
						},
					},
				},
				{
					Name:         "rejected",
					AllowedRoles: []string{"admin"},
				},
				{
					Name:         "needs-info",
					AllowedRoles: []string{"reviewer"},
					Actions: []model.ActionSpec{
						// Missing recipient makes this config invalid.
						{Type: "email", Config: map[string]any{"template": "needs-info"}},
					},
				},
			},
		},
	}
}

func testEntity() model.Entity {
	return model.Entity{
		UUID:         "app-1",
		Kind:         "application",
		TemplateName: "license-application",
		CurrentStage: "submitted",
		Data: map[string]any{
			"applicant_email": "maria@example.com",
			"fee_amount":      "125.00",
		},
		Version:   3,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
}

type testHarness struct {
	dispatcher *Dispatcher
	store      *MemStore
	email      *fakeHandler
	apiCall    *fakeHandler
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	return newTestHarnessWithStore(t, NewMemStore())
}

func newTestHarnessWithStore(t *testing.T, base Store) *testHarness {
	t.Helper()

	mem, _ := base.(*MemStore)
	if mem == nil {
		mem = NewMemStore()
	}
	mem.SeedEntity(testEntity())

	email := &fakeHandler{typ: action.TypeEmail}
	apiCall := &fakeHandler{typ: action.TypeAPICall}
	handlers := action.NewRegistry()
	handlers.Register(email)
	handlers.Register(apiCall)

	resolver := NewResolver(template.NewRegistry(testTemplates()))
	metrics := observability.InitMetrics(prometheus.NewRegistry())
	dispatcher := NewDispatcher(base, resolver, handlers, zap.NewNop(), metrics, time.Second)

	return &testHarness{dispatcher: dispatcher, store: mem, email: email, apiCall: apiCall}
}

func wantCode(t *testing.T, err error, code string) *model.ErrorEnvelope {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	envErr, ok := err.(*model.ErrorEnvelope)
	if !ok {
		t.Fatalf("error type = %T: %v", err, err)
	}
	if envErr.Code != code {
		t.Fatalf("code = %s, want %s (%s)", envErr.Code, code, envErr.Message)
	}
	return envErr
}

// --- Dispatch tests ---

func TestDispatcher_Dispatch_success(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	result, err := h.dispatcher.Dispatch(ctx, "app-1", "approved", map[string]any{"note": "looks good"}, testActor())
	if err != nil {
		t.Fatalf("Dispatch error: %v", err)
	}
	if result.EntityUUID != "app-1" || result.Stage != "approved" {
		t.Errorf("result = %+v", result)
	}
	if len(result.Executed) != 2 {
		t.Fatalf("Executed = %v, want 2 actions", result.Executed)
	}
	if result.Executed[0] != "email" || result.Executed[1] != "api_call" {
		t.Errorf("Executed = %v, want declaration order", result.Executed)
	}
	if h.email.calls != 1 || h.apiCall.calls != 1 {
		t.Errorf("handler calls = email %d, api_call %d", h.email.calls, h.apiCall.calls)
	}

	entity, err := h.store.GetEntity(ctx, "app-1")
	if err != nil {
		t.Fatalf("GetEntity error: %v", err)
	}
	if entity.CurrentStage != "approved" {
		t.Errorf("CurrentStage = %q, want approved", entity.CurrentStage)
	}
	if entity.Version != 4 {
		t.Errorf("Version = %d, want 4", entity.Version)
	}

	records, total, err := h.store.ListAuditRecords(ctx, model.AuditFilters{Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("ListAuditRecords error: %v", err)
	}
	if total != 2 {
		t.Fatalf("audit total = %d, want 2", total)
	}
	for _, rec := range records {
		if rec.ApplicationUUID == nil || *rec.ApplicationUUID != "app-1" {
			t.Errorf("ApplicationUUID = %v", rec.ApplicationUUID)
		}
		if rec.TriggeredBy == nil || *rec.TriggeredBy != "user-reviewer" {
			t.Errorf("TriggeredBy = %v", rec.TriggeredBy)
		}
		if rec.ActionData["target_stage"] != "approved" {
			t.Errorf("ActionData[target_stage] = %v", rec.ActionData["target_stage"])
		}
	}
}

func TestDispatcher_Dispatch_abortOnFirstFailure(t *testing.T) {
	h := newTestHarness(t)
	h.email.err = errors.New("smtp relay refused")
	ctx := context.Background()

	result, err := h.dispatcher.Dispatch(ctx, "app-1", "approved", nil, testActor())
	envErr := wantCode(t, err, model.ErrActionFailed)

	if h.apiCall.calls != 0 {
		t.Errorf("api_call handler ran %d times after an earlier failure", h.apiCall.calls)
	}

	// The stage change rolled back.
	entity, _ := h.store.GetEntity(ctx, "app-1")
	if entity.CurrentStage != "submitted" {
		t.Errorf("CurrentStage = %q, want submitted", entity.CurrentStage)
	}
	if entity.Version != 3 {
		t.Errorf("Version = %d, want 3", entity.Version)
	}

	// No audit entries survived the rollback.
	_, total, _ := h.store.ListAuditRecords(ctx, model.AuditFilters{Page: 1, PageSize: 10})
	if total != 0 {
		t.Errorf("audit total = %d, want 0", total)
	}

	// The failure record did survive.
	if result.FailedActionID == "" {
		t.Fatal("expected FailedActionID in result")
	}
	if envErr.Meta["failed_action_id"] != result.FailedActionID {
		t.Errorf("meta failed_action_id = %q", envErr.Meta["failed_action_id"])
	}
	fa, err := h.store.GetFailedAction(ctx, result.FailedActionID)
	if err != nil {
		t.Fatalf("GetFailedAction error: %v", err)
	}
	if fa.Status != model.FailedActionStatusFailed {
		t.Errorf("Status = %q", fa.Status)
	}
	if fa.ActionType != "email" {
		t.Errorf("ActionType = %q", fa.ActionType)
	}
	if fa.ErrorMessage != "smtp relay refused" {
		t.Errorf("ErrorMessage = %q", fa.ErrorMessage)
	}
	if fa.ActionData["applicant_email"] != "maria@example.com" {
		t.Errorf("ActionData snapshot missing entity data: %v", fa.ActionData)
	}
}

func TestDispatcher_Dispatch_secondActionFails(t *testing.T) {
	h := newTestHarness(t)
	h.apiCall.err = errors.New("backend 500")
	ctx := context.Background()

	_, err := h.dispatcher.Dispatch(ctx, "app-1", "approved", nil, testActor())
	wantCode(t, err, model.ErrActionFailed)

	// First action ran but its audit entry rolled back with the stage.
	if h.email.calls != 1 {
		t.Errorf("email calls = %d, want 1", h.email.calls)
	}
	_, total, _ := h.store.ListAuditRecords(ctx, model.AuditFilters{Page: 1, PageSize: 10})
	if total != 0 {
		t.Errorf("audit total = %d, want 0", total)
	}
	entity, _ := h.store.GetEntity(ctx, "app-1")
	if entity.CurrentStage != "submitted" {
		t.Errorf("CurrentStage = %q, want submitted", entity.CurrentStage)
	}
}

func TestDispatcher_Dispatch_configErrorBeforeTransaction(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	// Allow the transition first so the config check is what trips.
	entity := testEntity()
	entity.CurrentStage = "approved"
	h.store.SeedEntity(entity)
	tmpl := testTemplates()
	tmpl[0].Stages[1].AllowedTransitions = []string{"needs-info"}
	h.dispatcher.resolver = NewResolver(template.NewRegistry(tmpl))

	_, err := h.dispatcher.Dispatch(ctx, "app-1", "needs-info", nil, testActor())
	wantCode(t, err, model.ErrConfiguration)

	if h.email.calls != 0 {
		t.Errorf("email handler ran %d times for an invalid config", h.email.calls)
	}
	got, _ := h.store.GetEntity(ctx, "app-1")
	if got.CurrentStage != "approved" {
		t.Errorf("CurrentStage = %q, want approved", got.CurrentStage)
	}
	stats, _ := h.store.FailureStats(ctx)
	if stats.Total != 0 {
		t.Errorf("failure records = %d, want 0", stats.Total)
	}
}

func TestDispatcher_Dispatch_resolverErrors(t *testing.T) {
	tests := []struct {
		name        string
		entityUUID  string
		targetStage string
		actor       model.Actor
		wantCode    string
	}{
		{"entity not found", "no-such-entity", "approved", testActor(), model.ErrNotFound},
		{"stage not found", "app-1", "archived", testActor(), model.ErrStageNotFound},
		{"transition not allowed", "app-1", "submitted", testActor(), model.ErrTransitionNotAllowed},
		{"role not permitted", "app-1", "rejected", testActor(), model.ErrRoleNotPermitted},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHarness(t)
			_, err := h.dispatcher.Dispatch(context.Background(), tc.entityUUID, tc.targetStage, nil, tc.actor)
			wantCode(t, err, tc.wantCode)
			if h.email.calls != 0 || h.apiCall.calls != 0 {
				t.Error("handlers ran for a rejected dispatch")
			}
		})
	}
}

func TestDispatcher_Dispatch_systemActorBypassesRoles(t *testing.T) {
	h := newTestHarness(t)

	result, err := h.dispatcher.Dispatch(context.Background(), "app-1", "rejected", nil, *model.SystemActor())
	if err != nil {
		t.Fatalf("Dispatch error: %v", err)
	}
	if result.Stage != "rejected" {
		t.Errorf("Stage = %q", result.Stage)
	}
}

// auditFailingStore fails every audit insert while delegating everything
// else, inside transactions included.
type auditFailingStore struct {
	Store
}

func (s *auditFailingStore) InsertAuditRecord(ctx context.Context, rec model.AuditRecord) error {
	return errors.New("audit storage down")
}

func (s *auditFailingStore) InTransaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return s.Store.InTransaction(ctx, func(ctx context.Context, tx Store) error {
		return fn(ctx, &auditFailingStore{Store: tx})
	})
}

func TestDispatcher_Dispatch_auditWriteFailureDoesNotAbort(t *testing.T) {
	mem := NewMemStore()
	mem.SeedEntity(testEntity())
	h := newTestHarnessWithStore(t, &auditFailingStore{Store: mem})
	ctx := context.Background()

	result, err := h.dispatcher.Dispatch(ctx, "app-1", "approved", nil, testActor())
	if err != nil {
		t.Fatalf("Dispatch error: %v", err)
	}
	if len(result.Executed) != 2 {
		t.Errorf("Executed = %v, want 2 actions", result.Executed)
	}
	entity, _ := mem.GetEntity(ctx, "app-1")
	if entity.CurrentStage != "approved" {
		t.Errorf("CurrentStage = %q, want approved", entity.CurrentStage)
	}
}

// failureRecordFailingStore refuses failed action inserts.
type failureRecordFailingStore struct {
	Store
}

func (s *failureRecordFailingStore) InsertFailedAction(ctx context.Context, fa model.FailedAction) error {
	return errors.New("failure storage down")
}

func (s *failureRecordFailingStore) InTransaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return s.Store.InTransaction(ctx, func(ctx context.Context, tx Store) error {
		return fn(ctx, &failureRecordFailingStore{Store: tx})
	})
}

func TestDispatcher_Dispatch_failureRecordWriteErrorPropagates(t *testing.T) {
	mem := NewMemStore()
	mem.SeedEntity(testEntity())
	h := newTestHarnessWithStore(t, &failureRecordFailingStore{Store: mem})
	h.email.err = errors.New("smtp relay refused")
	ctx := context.Background()

	_, err := h.dispatcher.Dispatch(ctx, "app-1", "approved", nil, testActor())
	wantCode(t, err, model.ErrStoreUnavailable)

	entity, _ := mem.GetEntity(ctx, "app-1")
	if entity.CurrentStage != "submitted" {
		t.Errorf("CurrentStage = %q, want submitted", entity.CurrentStage)
	}
}

func TestDispatcher_Dispatch_handlerTimeout(t *testing.T) {
	mem := NewMemStore()
	mem.SeedEntity(testEntity())

	slow := &fakeHandler{typ: action.TypeEmail, onExec: func() { time.Sleep(30 * time.Millisecond) }}
	apiCall := &fakeHandler{typ: action.TypeAPICall}
	handlers := action.NewRegistry()
	handlers.Register(slow)
	handlers.Register(apiCall)

	resolver := NewResolver(template.NewRegistry(testTemplates()))
	metrics := observability.InitMetrics(prometheus.NewRegistry())
	dispatcher := NewDispatcher(mem, resolver, handlers, zap.NewNop(), metrics, 5*time.Millisecond)

	_, err := dispatcher.Dispatch(context.Background(), "app-1", "approved", nil, testActor())
	wantCode(t, err, model.ErrActionFailed)
	if apiCall.calls != 0 {
		t.Errorf("api_call ran after a timed-out action")
	}
}
