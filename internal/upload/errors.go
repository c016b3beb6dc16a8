package upload

import (
	"errors"
	"fmt"
)

// Code classifies pipeline failures for API mapping.
type Code string

const (
	CodeNotFound      Code = "not_found"
	CodeUnauthorized  Code = "unauthorized"
	CodeValidation    Code = "validation"
	CodeQuotaExceeded Code = "quota_exceeded"
	CodeLocked        Code = "locked"
	CodeStorageFailed Code = "storage_failed"
)

// Error is a pipeline failure with a stable machine-readable code and a
// human-readable message safe to surface to clients.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func failf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// CodeOf extracts the pipeline code from an error, defaulting to
// CodeStorageFailed for unclassified failures.
func CodeOf(err error) Code {
	var pipelineErr *Error
	if errors.As(err, &pipelineErr) {
		return pipelineErr.Code
	}
	return CodeStorageFailed
}
