package stores

import "fmt"

// ErrorCode is a stable machine-readable state store failure code.
type ErrorCode string

const (
	// ErrCodeIO means the state file or its directory could not be read or written.
	ErrCodeIO ErrorCode = "STATE_IO"

	// ErrCodeCorrupt means the document is not valid JSON for EngineState.
	ErrCodeCorrupt ErrorCode = "STATE_CORRUPT"

	// ErrCodeSchemaMismatch means schemaVersion is missing or not 1.
	ErrCodeSchemaMismatch ErrorCode = "SCHEMA_MISMATCH"
)

// StateError describes a failed state store operation.
type StateError struct {
	Code ErrorCode
	Op   string
	Path string
	Err  error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("[%s] state %s %s: %v", e.Code, e.Op, e.Path, e.Err)
}

func (e *StateError) Unwrap() error {
	return e.Err
}

func stateError(code ErrorCode, op, path string, err error) *StateError {
	return &StateError{Code: code, Op: op, Path: path, Err: err}
}
