package model

import "fmt"

// Standard error codes.
const (
	ErrBadRequest       = "BAD_REQUEST"
	ErrUnauthorized     = "UNAUTHORIZED"
	ErrForbidden        = "FORBIDDEN"
	ErrNotFound         = "NOT_FOUND"
	ErrConflict         = "CONFLICT"
	ErrValidationError  = "VALIDATION_ERROR"
	ErrInternalError    = "INTERNAL_ERROR"
	ErrStoreUnavailable = "STORE_UNAVAILABLE"
)

// Engine-specific error codes.
const (
	ErrStageNotFound         = "STAGE_NOT_FOUND"
	ErrTransitionNotAllowed  = "TRANSITION_NOT_ALLOWED"
	ErrRoleNotPermitted      = "ROLE_NOT_PERMITTED"
	ErrUnsupportedActionType = "UNSUPPORTED_ACTION_TYPE"
	ErrConfiguration         = "CONFIGURATION_ERROR"
	ErrActionFailed          = "ACTION_FAILED"
	ErrRetryFailed           = "RETRY_FAILED"
	ErrAlreadyResolved       = "ALREADY_RESOLVED"
	ErrBackendUnavailable    = "BACKEND_UNAVAILABLE"
	ErrBackendTimeout        = "BACKEND_TIMEOUT"
)

// ErrorEnvelope is the standard error envelope returned by the engine and
// its HTTP surface. It implements the error interface.
type ErrorEnvelope struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details []FieldError      `json:"details,omitempty"`
	Meta    map[string]string `json:"meta,omitempty"`
	TraceID string            `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithMeta returns the envelope with an extra metadata entry attached.
// Used to carry machine-readable context such as a failed action id.
func (e *ErrorEnvelope) WithMeta(key, value string) *ErrorEnvelope {
	if e.Meta == nil {
		e.Meta = make(map[string]string, 1)
	}
	e.Meta[key] = value
	return e
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewStoreUnavailableError returns a STORE_UNAVAILABLE error. Callers must
// treat this as fatal for the current request: no audit or failure
// bookkeeping can be trusted while the store is down.
func NewStoreUnavailableError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrStoreUnavailable, Message: msg}
}

// NewStageNotFoundError returns a STAGE_NOT_FOUND error.
func NewStageNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrStageNotFound, Message: msg}
}

// NewTransitionNotAllowedError returns a TRANSITION_NOT_ALLOWED error.
func NewTransitionNotAllowedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrTransitionNotAllowed, Message: msg}
}

// NewRoleNotPermittedError returns a ROLE_NOT_PERMITTED error.
func NewRoleNotPermittedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrRoleNotPermitted, Message: msg}
}

// NewUnsupportedActionTypeError returns an UNSUPPORTED_ACTION_TYPE error.
func NewUnsupportedActionTypeError(actionType string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrUnsupportedActionType,
		Message: fmt.Sprintf("unsupported action type %q", actionType),
	}
}

// NewConfigurationError returns a CONFIGURATION_ERROR. Configuration errors
// surface at authoring/validation time, never silently at dispatch.
func NewConfigurationError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConfiguration, Message: msg}
}

// NewActionFailedError returns an ACTION_FAILED error for a handler-level
// execution failure.
func NewActionFailedError(actionType, msg string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrActionFailed,
		Message: fmt.Sprintf("action %q failed: %s", actionType, msg),
	}
}

// NewRetryFailedError returns a RETRY_FAILED error for a failed retry attempt.
func NewRetryFailedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrRetryFailed, Message: msg}
}

// NewAlreadyResolvedError returns an ALREADY_RESOLVED error.
func NewAlreadyResolvedError(id string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrAlreadyResolved,
		Message: fmt.Sprintf("failed action %q is already resolved", id),
	}
}

// NewBackendUnavailableError returns a BACKEND_UNAVAILABLE error.
func NewBackendUnavailableError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendUnavailable,
		Message: "The backend service is temporarily unavailable",
	}
}

// NewBackendTimeoutError returns a BACKEND_TIMEOUT error.
func NewBackendTimeoutError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendTimeout,
		Message: "The backend service did not respond in time",
	}
}

// IsCode reports whether err is an ErrorEnvelope with the given code.
func IsCode(err error, code string) bool {
	ee, ok := err.(*ErrorEnvelope)
	return ok && ee.Code == code
}
