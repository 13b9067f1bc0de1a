package model

import "time"

// Failed action status constants. The lifecycle is
// failed, then retrying, then resolved; resolved is terminal and a failing retry
// keeps the record in retrying with an incremented count.
const (
	FailedActionStatusFailed   = "failed"
	FailedActionStatusRetrying = "retrying"
	FailedActionStatusResolved = "resolved"
)

// AuditRecord is one immutable entry in the action execution audit trail.
// Created exactly once per successfully executed action, inside the same
// transaction as the entity's status change; never mutated afterwards.
type AuditRecord struct {
	ID              string         `json:"id"`
	ApplicationUUID *string        `json:"application_uuid,omitempty"`
	ActionType      string         `json:"action_type"`
	ActionConfig    map[string]any `json:"action_config"`
	ActionData      map[string]any `json:"action_data"`
	ActionResult    map[string]any `json:"action_result,omitempty"`
	ExecutionTimeMs int64          `json:"execution_time_ms"`
	TriggeredBy     *string        `json:"triggered_by,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	DeletedAt       *time.Time     `json:"deleted_at,omitempty"`
}

// FailedAction captures the exact inputs of an action that aborted a
// dispatch, so an operator can retry it byte-identically later.
type FailedAction struct {
	ID              string         `json:"id"`
	ApplicationUUID *string        `json:"application_uuid,omitempty"`
	ActionType      string         `json:"action_type"`
	ActionConfig    map[string]any `json:"action_config"`
	ActionData      map[string]any `json:"action_data"`
	ErrorMessage    string         `json:"error_message"`
	ErrorTrace      string         `json:"error_trace,omitempty"`
	Status          string         `json:"status"`
	RetryCount      int            `json:"retry_count"`
	LastRetryAt     *time.Time     `json:"last_retry_at,omitempty"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty"`
	CreatedBy       string         `json:"created_by,omitempty"`
	UpdatedBy       string         `json:"updated_by,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// AuditFilters are the operator-facing list filters for audit records.
type AuditFilters struct {
	ActionType      string `json:"action_type,omitempty"`
	ApplicationUUID string `json:"application_uuid,omitempty"`
	SortBy          string `json:"sort_by,omitempty"`
	SortOrder       string `json:"sort_order,omitempty"`
	WithDeleted     bool   `json:"with_deleted,omitempty"`
	Page            int    `json:"page"`
	PageSize        int    `json:"page_size"`
}

// FailureFilters are the operator-facing list filters for failed actions.
type FailureFilters struct {
	Status          string `json:"status,omitempty"`
	ActionType      string `json:"action_type,omitempty"`
	ApplicationUUID string `json:"application_uuid,omitempty"`
	Page            int    `json:"page"`
	PageSize        int    `json:"page_size"`
}

// DailyCount is one day's worth of audit activity.
type DailyCount struct {
	Day   string `json:"day"`
	Count int64  `json:"count"`
}

// AuditStats summarizes the audit trail for dashboards.
type AuditStats struct {
	Total          int64            `json:"total"`
	ByType         map[string]int64 `json:"by_type"`
	AvgExecutionMs float64          `json:"avg_execution_ms"`
	Daily          []DailyCount     `json:"daily"`
	TrailingDays   int              `json:"trailing_days"`
}

// FailureStats summarizes the failed action store for dashboards.
type FailureStats struct {
	Total    int64            `json:"total"`
	ByStatus map[string]int64 `json:"by_status"`
}

// DispatchResult reports the outcome of a stage dispatch: which actions
// executed before the pipeline stopped, and the failure bookkeeping id
// when it stopped early.
type DispatchResult struct {
	EntityUUID     string   `json:"entity_uuid"`
	Stage          string   `json:"stage"`
	Executed       []string `json:"executed"`
	FailedActionID string   `json:"failed_action_id,omitempty"`
}

// TestRunResult is the outcome of executing a supplied action config
// against synthetic sample data, without any entity or transaction.
type TestRunResult struct {
	Success         bool         `json:"success"`
	ActionType      string       `json:"action_type"`
	Result          ActionResult `json:"result,omitempty"`
	Error           string       `json:"error,omitempty"`
	ExecutionTimeMs int64        `json:"execution_time_ms"`
}
