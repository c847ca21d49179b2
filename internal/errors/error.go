package errors

import (
	stderrors "errors"
	"fmt"
)

// Category represents the type of error.
type Category string

const (
	CategoryProtocol  Category = "protocol"
	CategoryUsage     Category = "usage"
	CategoryTransport Category = "transport"
	CategoryBundle    Category = "bundle"
	CategoryConfig    Category = "config"
)

// SyncError is a structured error with a registered code and category.
type SyncError struct {
	// Code is a unique error identifier (e.g., "S101").
	Code string

	// Category is the error type (protocol, usage, etc.).
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *SyncError) Unwrap() error {
	return e.Wrapped
}

// Is reports whether target is a SyncError carrying the same code.
func (e *SyncError) Is(target error) bool {
	t, ok := target.(*SyncError)
	if !ok || t.Code == "" {
		return false
	}
	return t.Code == e.Code
}

// WithMessagef replaces the short message.
func (e *SyncError) WithMessagef(format string, args ...any) *SyncError {
	e.Message = fmt.Sprintf(format, args...)
	return e
}

// WithDetail adds a detailed explanation to the error.
func (e *SyncError) WithDetail(d string) *SyncError {
	e.Detail = d
	return e
}

// Wrap wraps another error.
func (e *SyncError) Wrap(err error) *SyncError {
	e.Wrapped = err
	return e
}

// New creates a SyncError from a registered error code.
func New(code string) *SyncError {
	template, ok := registry[code]
	if !ok {
		return &SyncError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &SyncError{
		Code:     code,
		Category: template.Category,
		Message:  template.Message,
		Detail:   template.Detail,
	}
}

// Newf creates a new SyncError with a formatted message (no code).
func Newf(category Category, format string, args ...any) *SyncError {
	return &SyncError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps a standard error in a SyncError.
// An error that already is a SyncError is returned unchanged.
func FromError(err error, code string) *SyncError {
	if err == nil {
		return nil
	}
	var se *SyncError
	if stderrors.As(err, &se) {
		return se
	}
	return New(code).Wrap(err)
}

// Panicf raises a usage error. Usage errors indicate a bug in the calling
// code and are never returned.
func Panicf(code string, format string, args ...any) {
	panic(New(code).WithMessagef(format, args...))
}

// CategoryOf returns the category of the first SyncError in err's chain.
func CategoryOf(err error) (Category, bool) {
	var se *SyncError
	if !stderrors.As(err, &se) {
		return "", false
	}
	return se.Category, true
}

// Is is errors.Is from the standard library, re-exported so callers that
// import this package under the name errors keep access to it.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As is errors.As from the standard library.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
