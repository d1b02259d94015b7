// Package api
// Author: momentics <momentics@gmail.com>
//
// Plugin lifecycle error codes and the structured error carried across the daemon.

package api

import (
	"errors"
	"fmt"
)

// ErrorCode is the fixed status enumeration reported by plugin load and unload.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeMemory
	ErrCodeParams
	ErrCodeExists
	ErrCodeNoExist
	ErrCodeNoLoad
	ErrCodeUnknown
	ErrCodeFileIO
	ErrCodeException
	ErrCodeDepends
	ErrCodePermanent
)

var codeText = [...]string{
	ErrCodeOK:        "Module Loaded Ok",
	ErrCodeMemory:    "Module Memory Error",
	ErrCodeParams:    "invalid module parameters",
	ErrCodeExists:    "module already loaded",
	ErrCodeNoExist:   "Module Does Not Exist",
	ErrCodeNoLoad:    "Unable to load module",
	ErrCodeUnknown:   "Unknown error",
	ErrCodeFileIO:    "File I/O Error",
	ErrCodeException: "Module threw an exception",
	ErrCodeDepends:   "Module dependency could not be satisfied",
	ErrCodePermanent: "module is permanent",
}

// String returns the human-readable status for the code.
func (c ErrorCode) String() string {
	if c < 0 || int(c) >= len(codeText) {
		return codeText[ErrCodeUnknown]
	}
	return codeText[c]
}

// Sentinels for errors.Is checks against *Error values.
var (
	ErrMemory    = &Error{Code: ErrCodeMemory}
	ErrParams    = &Error{Code: ErrCodeParams}
	ErrExists    = &Error{Code: ErrCodeExists}
	ErrNoExist   = &Error{Code: ErrCodeNoExist}
	ErrNoLoad    = &Error{Code: ErrCodeNoLoad}
	ErrUnknown   = &Error{Code: ErrCodeUnknown}
	ErrFileIO    = &Error{Code: ErrCodeFileIO}
	ErrException = &Error{Code: ErrCodeException}
	ErrDepends   = &Error{Code: ErrCodeDepends}
	ErrPermanent = &Error{Code: ErrCodePermanent}
)

// ErrNotSupported reports a facility missing on the current platform.
var ErrNotSupported = errors.New("operation not supported")

// Error is a structured error attributed to a plugin.
type Error struct {
	Code    ErrorCode
	Message string
	Module  string
	Context map[string]any
	Err     error
}

// NewError creates a new structured error.
func NewError(code ErrorCode, module, message string) *Error {
	return &Error{
		Code:    code,
		Module:  module,
		Message: message,
	}
}

// Errorf builds an *Error wrapping cause.
func Errorf(code ErrorCode, module string, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Module:  module,
		Message: fmt.Sprintf(format, args...),
		Err:     cause,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Code.String()
	if e.Module != "" {
		msg = e.Module + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if len(e.Context) > 0 {
		msg = fmt.Sprintf("%s (context: %+v)", msg, e.Context)
	}
	return msg
}

// Unwrap exposes the cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// CodeOf extracts the status code from err. A nil error is ErrCodeOK.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeUnknown
}
