package engine

import (
	"errors"
	"fmt"

	"github.com/openfroyo/endstate/pkg/manifest"
	"github.com/openfroyo/endstate/pkg/stores"
)

// ErrorClass represents the classification of a run-level error.
type ErrorClass string

const (
	// ErrorClassInput covers bad manifests, unreadable files and schema
	// mismatches on import. Nothing is mutated.
	ErrorClassInput ErrorClass = "input"

	// ErrorClassItem is a failure local to one manifest entry. Item errors
	// are recorded in the run items and never abort a run.
	ErrorClassItem ErrorClass = "item"

	// ErrorClassState is a state store read or write failure. The previous
	// state document is left untouched.
	ErrorClassState ErrorClass = "state"

	// ErrorClassPolicy means a manifest policy denied the run.
	ErrorClassPolicy ErrorClass = "policy"

	// ErrorClassFatal aborts the run with nothing claimed as applied.
	ErrorClassFatal ErrorClass = "fatal"
)

// Common error codes.
const (
	ErrCodeManifestInvalid    = "MANIFEST_INVALID"
	ErrCodeManifestUnreadable = "MANIFEST_UNREADABLE"
	ErrCodeSchemaMismatch     = "SCHEMA_MISMATCH"
	ErrCodeStateIO            = "STATE_IO"
	ErrCodeStateCorrupt       = "STATE_CORRUPT"
	ErrCodePolicyDenied       = "POLICY_DENIED"
	ErrCodeCancelled          = "RUN_CANCELLED"
	ErrCodeDriverUnavailable  = "DRIVER_UNAVAILABLE"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// Process exit codes.
const (
	ExitSuccess      = 0
	ExitFailure      = 1
	ExitInputError   = 2
	ExitStateError   = 3
	ExitPolicyDenied = 4
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Code is the stable machine-readable error code.
	Code string `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// AppID is the manifest entry that caused the error, if applicable.
	AppID string `json:"appId,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.AppID != "" {
		msg += fmt.Sprintf(" (app=%s)", e.AppID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewInputError creates a new input error.
func NewInputError(code, message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassInput, Code: code, Message: message, Err: err}
}

// NewStateError creates a new state error.
func NewStateError(code, message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassState, Code: code, Message: message, Err: err}
}

// NewPolicyError creates a policy denial.
func NewPolicyError(message string, violations []string) *EngineError {
	e := &EngineError{Class: ErrorClassPolicy, Code: ErrCodePolicyDenied, Message: message}
	return e.WithDetail("violations", violations)
}

// NewFatalError creates a new fatal error.
func NewFatalError(code, message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassFatal, Code: code, Message: message, Err: err}
}

// WithApp adds the manifest entry to an error.
func (e *EngineError) WithApp(appID string) *EngineError {
	e.AppID = appID
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode replaces the error code.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// FromManifestError maps a manifest load failure to an input error.
func FromManifestError(err error) *EngineError {
	var merr *manifest.Error
	if errors.As(err, &merr) {
		code := ErrCodeManifestInvalid
		if merr.Code == manifest.ErrCodeUnreadable {
			code = ErrCodeManifestUnreadable
		}
		return NewInputError(code, "cannot load manifest", err).WithDetail("manifestCode", string(merr.Code))
	}
	return NewInputError(ErrCodeManifestUnreadable, "cannot load manifest", err)
}

// FromStateError maps a state store failure. A document rejected during
// import is an input error; anything else is a state error.
func FromStateError(err error) *EngineError {
	var serr *stores.StateError
	if !errors.As(err, &serr) {
		return NewStateError(ErrCodeStateIO, "state operation failed", err)
	}

	code := string(serr.Code)
	if serr.Op == "import" && serr.Code != stores.ErrCodeIO {
		return NewInputError(code, "rejected state document", err).WithOperation(serr.Op)
	}
	return NewStateError(code, "state "+serr.Op+" failed", err).WithOperation(serr.Op)
}

// IsInputError returns true if the error is classified as an input error.
func IsInputError(err error) bool {
	return classOf(err) == ErrorClassInput
}

// IsStateError returns true if the error is classified as a state error.
func IsStateError(err error) bool {
	return classOf(err) == ErrorClassState
}

// IsFatal returns true if the error is classified as fatal.
func IsFatal(err error) bool {
	return classOf(err) == ErrorClassFatal
}

func classOf(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// ExitCode maps an error returned by the engine to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	switch classOf(err) {
	case ErrorClassInput:
		return ExitInputError
	case ErrorClassState:
		return ExitStateError
	case ErrorClassPolicy:
		return ExitPolicyDenied
	default:
		return ExitFailure
	}
}
