package trajectory

import "fmt"

// Validation error codes.
const (
	CodeMalformedInput   = "malformed_input"
	CodeUnknownEventType = "unknown_event_type"
	CodeMissingField     = "missing_field"
	CodeInvalidTimestamp = "invalid_timestamp"
)

// ValidationError describes why a trajectory file was rejected.
type ValidationError struct {
	Code  string // one of the Code* constants
	Index int    // record index in the original file, -1 when file-level
	Field string // offending field, when applicable
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("%s at record %d: %s", e.Code, e.Index, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func malformed(msg string) *ValidationError {
	return &ValidationError{Code: CodeMalformedInput, Index: -1, Msg: msg}
}
