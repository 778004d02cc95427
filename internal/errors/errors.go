package errors

import (
	"errors"
	"fmt"
)

// AppError is the error type carried across the engine. A Code travels
// with every failure so the orchestrator can decide retry behavior and
// reports can name the kind without string matching.
type AppError struct {
	Code            Code
	Message         string
	SuggestedAction string
	IsUserFacing    bool
	WrappedError    error
}

func (e *AppError) Error() string {
	if e.WrappedError != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.WrappedError)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.WrappedError
}

func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewUserFacing builds an error whose message and suggestion are meant
// for the operator, not the log.
func NewUserFacing(code Code, message, suggestion string) *AppError {
	return &AppError{
		Code:            code,
		Message:         message,
		SuggestedAction: suggestion,
		IsUserFacing:    true,
	}
}

// Wrap attaches a code and message to err. An err that already is an
// AppError passes through unchanged so the original code survives.
func Wrap(err error, code Code, message string) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return &AppError{Code: code, Message: message, WrappedError: err}
}

// Recode is like Wrap but always applies the new code, keeping err in
// the chain. Used where a lower-level code must be reclassified, e.g.
// transient probe failures becoming Timeout after retries run out.
func Recode(err error, code Code, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, WrappedError: err}
}

// GetCode extracts the code from any error in the chain.
func GetCode(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsTransient reports whether err is worth retrying at the probe layer.
func IsTransient(err error) bool {
	return Is(err, CodeTransientProbe)
}

// GetUserFacingMessage walks the chain for the first user-facing error
// and returns its message and suggested action.
func GetUserFacingMessage(err error) (message, suggestion string, ok bool) {
	var appErr *AppError
	for e := err; e != nil; e = errors.Unwrap(e) {
		if errors.As(e, &appErr) && appErr.IsUserFacing {
			return appErr.Message, appErr.SuggestedAction, true
		}
	}
	return "An unexpected error occurred.", "Check logs for more details.", false
}
