// Package errors provides the structured error type used across the
// ingestion pipeline, plus retry helpers with exponential backoff.
package errors

import (
	"errors"
	"fmt"
)

// FlowError is the structured error type for pipeline failures. It carries
// enough context to decide step-versus-workflow impact and retryability
// without string matching at call sites.
type FlowError struct {
	// Code is the stable error code (e.g. ERR_TRANSIENT_IO).
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error origin (input, io, model, ...).
	Category Category

	// Severity says whether the step or the whole workflow fails.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error, if any.
	Cause error

	// Retryable indicates a queue redelivery may succeed.
	Retryable bool
}

// Error implements the error interface.
func (e *FlowError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *FlowError) Unwrap() error {
	return e.Cause
}

// Is matches FlowErrors by code so errors.Is works across wrap layers.
func (e *FlowError) Is(target error) bool {
	if t, ok := target.(*FlowError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail and returns the error for chaining.
func (e *FlowError) WithDetail(key, value string) *FlowError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a FlowError with category, severity, and retryability derived
// from the code.
func New(code, message string, cause error) *FlowError {
	return &FlowError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a FlowError from an existing error, keeping its message.
// Returns nil when err is nil.
func Wrap(code string, err error) *FlowError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// TransientIO creates a retryable I/O error.
func TransientIO(message string, cause error) *FlowError {
	return New(CodeTransientIO, message, cause)
}

// InvalidInput creates an input validation error.
func InvalidInput(message string, cause error) *FlowError {
	return New(CodeInvalidInput, message, cause)
}

// UnsupportedFormat creates an unsupported-format error for the given MIME type.
func UnsupportedFormat(fileType string) *FlowError {
	return New(CodeUnsupportedFormat, "unsupported file type: "+fileType, nil).
		WithDetail("file_type", fileType)
}

// Subprocess creates a subprocess failure error carrying captured stderr.
func Subprocess(message, stderr string, cause error) *FlowError {
	e := New(CodeSubprocess, message, cause)
	if stderr != "" {
		e = e.WithDetail("stderr", stderr)
	}
	return e
}

// ModelAgent creates an analyzer runtime error.
func ModelAgent(message string, cause error) *FlowError {
	return New(CodeModelAgent, message, cause)
}

// IsRetryable reports whether err (or any error in its chain) is a retryable
// FlowError.
func IsRetryable(err error) bool {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	return false
}

// FailsWorkflow reports whether err terminates the owning workflow rather
// than just its step.
func FailsWorkflow(err error) bool {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Severity == SeverityWorkflow
	}
	return false
}

// CodeOf extracts the error code, or empty string for non-FlowErrors.
func CodeOf(err error) string {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}
