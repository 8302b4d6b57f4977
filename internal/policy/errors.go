package policy

import (
	"errors"
	"fmt"
	"syscall"
)

// OS-style result codes. Values mirror the Win32 error codes the sandbox
// reports so callers can compare them against native results.
const (
	CodeSuccess            uint32 = 0
	CodeNotSupported       uint32 = 50
	CodeBadArguments       uint32 = 160
	CodeNoData             uint32 = 232
	CodeAlreadyInitialized uint32 = 1247
	CodeUnknown            uint32 = 0xFFFFFFFF
)

// Error represents a sandbox failure that carries an OS-style code
type Error struct {
	Code    uint32
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so wrapped detail does not
// defeat errors.Is against the sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new Error
func NewError(code uint32, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

var (
	// ErrBadArguments reports an unrecognized level or token type.
	ErrBadArguments = NewError(CodeBadArguments, "bad arguments", nil)

	// ErrAlreadyInitialized reports a second Init on the same instance.
	ErrAlreadyInitialized = NewError(CodeAlreadyInitialized, "already initialized", nil)

	// ErrNoData reports an operation issued before Init.
	ErrNoData = NewError(CodeNoData, "not initialized", nil)

	// ErrUnsupported reports a sandbox operation on a platform without one.
	ErrUnsupported = NewError(CodeNotSupported, "not supported on this platform", nil)
)

// BadArguments wraps ErrBadArguments with detail about the rejected value.
func BadArguments(format string, args ...any) error {
	return NewError(CodeBadArguments, fmt.Sprintf(format, args...), nil)
}

// Code extracts the OS-style code from err. nil maps to CodeSuccess, a
// wrapped syscall.Errno to its numeric value and anything unrecognized to
// CodeUnknown.
func Code(err error) uint32 {
	if err == nil {
		return CodeSuccess
	}

	var sbErr *Error
	if errors.As(err, &sbErr) {
		return sbErr.Code
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return uint32(errno)
	}

	return CodeUnknown
}
