package core

import (
	"errors"
	"fmt"
)

// Canonical error codes shared by the workflow and crew engines.
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeGraphInvalid        = "GRAPH_INVALID"
	ErrCodeCrewInvalid         = "CREW_INVALID"
	ErrCodeNodeExecution       = "NODE_EXECUTION_ERROR"
	ErrCodeUnsupportedNodeType = "UNSUPPORTED_NODE_TYPE"
	ErrCodeTaskExecution       = "TASK_EXECUTION_ERROR"
	ErrCodeOracleUnavailable   = "ORACLE_UNAVAILABLE"
	ErrCodeConcurrency         = "CONCURRENCY_VIOLATION"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeCanceled            = "CANCELED"
	ErrCodeInternal            = "INTERNAL"
)

// Sentinels matched through errors.Is against any *Error carrying the same kind.
var (
	ErrValidation          = errors.New("validation error")
	ErrNodeExecution       = errors.New("node execution error")
	ErrUnsupportedNodeType = errors.New("unsupported node type")
	ErrTaskExecution       = errors.New("task execution error")
	ErrOracleUnavailable   = errors.New("oracle unavailable")
	ErrConcurrency         = errors.New("concurrency violation")
	ErrNotFound            = errors.New("not found")
	ErrCanceled            = errors.New("canceled")
)

var sentinelByCode = map[string]error{
	ErrCodeValidation:          ErrValidation,
	ErrCodeGraphInvalid:        ErrValidation,
	ErrCodeCrewInvalid:         ErrValidation,
	ErrCodeNodeExecution:       ErrNodeExecution,
	ErrCodeUnsupportedNodeType: ErrUnsupportedNodeType,
	ErrCodeTaskExecution:       ErrTaskExecution,
	ErrCodeOracleUnavailable:   ErrOracleUnavailable,
	ErrCodeConcurrency:         ErrConcurrency,
	ErrCodeNotFound:            ErrNotFound,
	ErrCodeCanceled:            ErrCanceled,
}

// Error is the structured error envelope carried in execution results.
type Error struct {
	Message string         `json:"message"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`

	cause error
}

// NewError wraps err with a code and optional details. A nil err yields a
// message equal to the code.
func NewError(err error, code string, details map[string]any) *Error {
	msg := code
	if err != nil {
		msg = err.Error()
	}
	return &Error{Message: msg, Code: code, Details: details, cause: err}
}

// NewErrorf builds an *Error from a formatted message.
func NewErrorf(code string, format string, args ...any) *Error {
	return NewError(fmt.Errorf(format, args...), code, nil)
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is reports whether target is the sentinel for this error's code.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	if s, ok := sentinelByCode[e.Code]; ok && s == target {
		return true
	}
	t, ok := target.(*Error)
	return ok && t.Code != "" && t.Code == e.Code
}

// WithDetail returns the error after setting a detail key.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// AsMap returns a JSON-friendly representation of the error.
func (e *Error) AsMap() map[string]any {
	if e == nil {
		return nil
	}
	out := map[string]any{"message": e.Message}
	if e.Code != "" {
		out["code"] = e.Code
	}
	if len(e.Details) > 0 {
		out["details"] = e.Details
	}
	return out
}

// AsError converts any error into an *Error, keeping an existing envelope
// and using fallbackCode otherwise.
func AsError(err error, fallbackCode string) *Error {
	if err == nil {
		return nil
	}
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr
	}
	return NewError(err, fallbackCode, nil)
}

// ValidationError reports a malformed graph or crew definition.
func ValidationError(code string, format string, args ...any) *Error {
	if code == "" {
		code = ErrCodeValidation
	}
	return NewErrorf(code, format, args...)
}
