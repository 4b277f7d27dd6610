package domain

import (
	"errors"
	"net/http"
)

// Stage identifies the pipeline stage that produced a failure.
type Stage string

const (
	StageValidate Stage = "validate"
	StageResolve  Stage = "resolve"
	StageFrames   Stage = "frame_budget"
	StageBind     Stage = "bind"
	StageSubmit   Stage = "submit"
	StageMonitor  Stage = "monitor"
	StageFetch    Stage = "fetch"
	StageGateway  Stage = "gateway"
)

// ErrorCategory classifies failures for callers. Categories map to
// HTTP-style status semantics: request problems are 4xx, engine and timeout
// problems are 5xx.
type ErrorCategory string

const (
	CategoryValidation          ErrorCategory = "validation"
	CategoryNotFound            ErrorCategory = "not_found"
	CategoryResolution          ErrorCategory = "resolution"
	CategoryAudioDecode         ErrorCategory = "audio_decode"
	CategoryBinding             ErrorCategory = "binding"
	CategoryEngineNotReady      ErrorCategory = "engine_not_ready"
	CategorySubmitRejected      ErrorCategory = "submit_rejected"
	CategoryExecutionFailed     ErrorCategory = "execution_failed"
	CategoryMonitorDisconnected ErrorCategory = "monitor_disconnected"
	CategoryNotReady            ErrorCategory = "not_ready"
	CategoryHistoryUnavailable  ErrorCategory = "history_unavailable"
	CategoryCallerTimeout       ErrorCategory = "caller_timeout"
	CategoryInternal            ErrorCategory = "internal"
)

// HTTPStatus maps a category to the status code the gateway reports.
func (c ErrorCategory) HTTPStatus() int {
	switch c {
	case CategoryValidation:
		return http.StatusBadRequest
	case CategoryNotFound:
		return http.StatusNotFound
	case CategoryResolution, CategoryAudioDecode:
		return http.StatusUnprocessableEntity
	case CategorySubmitRejected, CategoryExecutionFailed, CategoryEngineNotReady,
		CategoryNotReady, CategoryHistoryUnavailable, CategoryMonitorDisconnected:
		return http.StatusBadGateway
	case CategoryCallerTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Error is a categorized failure raised by pipeline stages. The orchestrator
// translates every stage error into a TaskFailure; nothing else reaches the
// caller.
type Error struct {
	Category ErrorCategory
	Message  string
	Err      error
}

// NewError constructs a categorized error.
func NewError(category ErrorCategory, message string) *Error {
	return &Error{Category: category, Message: message}
}

// WrapError attaches a category to an underlying error.
func WrapError(category ErrorCategory, message string, err error) *Error {
	return &Error{Category: category, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Category) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Category) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CategoryOf extracts the category from err, defaulting to internal for
// uncategorized faults.
func CategoryOf(err error) ErrorCategory {
	var de *Error
	if errors.As(err, &de) {
		return de.Category
	}
	return CategoryInternal
}

// MessageOf returns the caller-safe message for err. Categorized errors
// surface their detail verbatim; anything else is reported as-is since the
// orchestrator is the last boundary before the caller.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		if de.Err != nil {
			return de.Message + ": " + de.Err.Error()
		}
		return de.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
