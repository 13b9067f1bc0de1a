package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/licensahq/stageact/internal/action"
	"github.com/licensahq/stageact/model"
)

func TestTestRunner_Run_success(t *testing.T) {
	email := &fakeHandler{typ: action.TypeEmail, result: model.ActionResult{"recipient": "maria@example.com"}}
	handlers := action.NewRegistry()
	handlers.Register(email)
	runner := NewTestRunner(handlers, zap.NewNop(), time.Second)

	spec := model.ActionSpec{
		Type:   "email",
		Config: map[string]any{"template": "approval", "recipient": "@applicant_email"},
	}
	result, err := runner.Run(context.Background(), spec, map[string]any{"applicant_email": "maria@example.com"}, testActor())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !result.Success {
		t.Errorf("Success = false: %s", result.Error)
	}
	if result.ActionType != "email" {
		t.Errorf("ActionType = %q", result.ActionType)
	}
	if result.Result["recipient"] != "maria@example.com" {
		t.Errorf("Result = %v", result.Result)
	}
}

func TestTestRunner_Run_executionFailureInResult(t *testing.T) {
	email := &fakeHandler{typ: action.TypeEmail, err: errors.New("smtp relay refused")}
	handlers := action.NewRegistry()
	handlers.Register(email)
	runner := NewTestRunner(handlers, zap.NewNop(), time.Second)

	spec := model.ActionSpec{
		Type:   "email",
		Config: map[string]any{"template": "approval", "recipient": "@applicant_email"},
	}
	result, err := runner.Run(context.Background(), spec, nil, testActor())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if result.Success {
		t.Error("Success = true for a failing handler")
	}
	if result.Error == "" {
		t.Error("expected Error to carry the handler failure")
	}
}

func TestTestRunner_Run_configError(t *testing.T) {
	runner := NewTestRunner(action.NewRegistry(), zap.NewNop(), time.Second)

	_, err := runner.Run(context.Background(), model.ActionSpec{
		Type:   "email",
		Config: map[string]any{"template": "approval"},
	}, nil, testActor())
	wantCode(t, err, model.ErrConfiguration)

	_, err = runner.Run(context.Background(), model.ActionSpec{Type: "carrier_pigeon"}, nil, testActor())
	wantCode(t, err, model.ErrUnsupportedActionType)
}
