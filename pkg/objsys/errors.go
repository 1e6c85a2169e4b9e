package objsys

import (
	"errors"
	"fmt"
)

// ErrorCode identifies the kind of failure reported by the object runtime.
type ErrorCode string

const (
	// Argument errors
	ErrorCodeArg          ErrorCode = "ARG_ERROR"
	ErrorCodeTypeMismatch ErrorCode = "TYPE_MISMATCH"

	// Registry errors
	ErrorCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrorCodeDuplicateName ErrorCode = "DUPLICATE_NAME"
	ErrorCodeInUse         ErrorCode = "IN_USE"

	// Dispatch errors
	ErrorCodeMethodUnavailable ErrorCode = "METHOD_UNAVAILABLE"
	ErrorCodeMethodFailed      ErrorCode = "METHOD_FAILED"

	// Resource errors
	ErrorCodeAllocFailure ErrorCode = "ALLOC_FAILURE"

	// Plugin errors
	ErrorCodeIO              ErrorCode = "IO_ERROR"
	ErrorCodeSymbolMissing   ErrorCode = "SYMBOL_MISSING"
	ErrorCodeVersionMismatch ErrorCode = "VERSION_MISMATCH"
)

// Sentinel errors, one per code. Every *Error matches the sentinel of its
// code with errors.Is.
var (
	ErrArg               = errors.New("invalid argument")
	ErrTypeMismatch      = errors.New("type mismatch")
	ErrNotFound          = errors.New("not found")
	ErrDuplicateName     = errors.New("duplicate class name")
	ErrInUse             = errors.New("in use")
	ErrMethodUnavailable = errors.New("method unavailable")
	ErrMethodFailed      = errors.New("method failed")
	ErrAllocFailure      = errors.New("allocation failed")
	ErrIO                = errors.New("i/o error")
	ErrSymbolMissing     = errors.New("symbol missing")
	ErrVersionMismatch   = errors.New("version mismatch")
)

var sentinels = map[ErrorCode]error{
	ErrorCodeArg:               ErrArg,
	ErrorCodeTypeMismatch:      ErrTypeMismatch,
	ErrorCodeNotFound:          ErrNotFound,
	ErrorCodeDuplicateName:     ErrDuplicateName,
	ErrorCodeInUse:             ErrInUse,
	ErrorCodeMethodUnavailable: ErrMethodUnavailable,
	ErrorCodeMethodFailed:      ErrMethodFailed,
	ErrorCodeAllocFailure:      ErrAllocFailure,
	ErrorCodeIO:                ErrIO,
	ErrorCodeSymbolMissing:     ErrSymbolMissing,
	ErrorCodeVersionMismatch:   ErrVersionMismatch,
}

// Error is the error type returned by every public entry point of the
// runtime and the plugin manager.
type Error struct {
	Code    ErrorCode
	Op      string // operation, e.g. "Registry.New"
	Class   string // class name involved, if any
	Message string
	Cause   error
	Context map[string]interface{}

	fatal bool
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := string(e.Code) + ": " + e.Op
	if e.Class != "" {
		msg += fmt.Sprintf(" [%s]", e.Class)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the sentinel for this error's code.
func (e *Error) Is(target error) bool {
	if s, ok := sentinels[e.Code]; ok && s == target {
		return true
	}
	if t, ok := target.(*Error); ok {
		return t.Code == e.Code && t.Op == "" && t.Class == ""
	}
	return false
}

// NewError creates a new runtime error.
func NewError(code ErrorCode, op, class, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Class:   class,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// IsFatal returns true if the error is an allocation failure raised by a
// registry configured to treat those as fatal.
func (e *Error) IsFatal() bool {
	return e.Code == ErrorCodeAllocFailure && e.fatal
}

// CodeOf returns the code of the first *Error in err's chain, or "" if
// there is none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func errorf(code ErrorCode, op, class, format string, args ...interface{}) *Error {
	return NewError(code, op, class, fmt.Sprintf(format, args...), nil)
}
