package manifest

import "fmt"

// ErrorCode is a stable machine-readable manifest failure code.
type ErrorCode string

const (
	ErrCodeUnreadable   ErrorCode = "MANIFEST_UNREADABLE"
	ErrCodeParse        ErrorCode = "MANIFEST_PARSE_ERROR"
	ErrCodeInvalid      ErrorCode = "MANIFEST_INVALID"
	ErrCodeIncludeCycle ErrorCode = "MANIFEST_INCLUDE_CYCLE"
)

// Error is returned for any manifest that cannot be loaded or fails validation.
type Error struct {
	Code    ErrorCode
	Path    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Path != "" {
		msg += fmt.Sprintf(" (%s)", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, path, message string, err error) *Error {
	return &Error{Code: code, Path: path, Message: message, Err: err}
}
