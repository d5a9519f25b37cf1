package errors

import (
	"fmt"
)

// RAGError is the structured error type for local-rag.
// It provides rich context for error handling, logging, and API responses.
type RAGError struct {
	// Code is the unique error code (e.g., "ERR_201_NOT_FOUND").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Upstream, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *RAGError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *RAGError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with RAGError.
func (e *RAGError) Is(target error) bool {
	if t, ok := target.(*RAGError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *RAGError) WithDetail(key, value string) *RAGError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *RAGError) WithSuggestion(suggestion string) *RAGError {
	e.Suggestion = suggestion
	return e
}

// New creates a new RAGError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *RAGError {
	return &RAGError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Newf creates a RAGError with a formatted message and no cause.
func Newf(code string, format string, args ...any) *RAGError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap creates a RAGError from an existing error.
// The error's message becomes the RAGError message.
func Wrap(code string, err error) *RAGError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// NotFound creates a missing-entity error.
func NotFound(what string, id string) *RAGError {
	return Newf(ErrCodeNotFound, "%s not found: %s", what, id).WithDetail("id", id)
}

// UnsupportedFormat creates an extractor rejection error.
func UnsupportedFormat(ext string) *RAGError {
	return Newf(ErrCodeUnsupportedFormat, "unsupported file format: %s", ext)
}

// ParseError creates a document parsing error.
func ParseError(message string, cause error) *RAGError {
	return New(ErrCodeParse, message, cause)
}

// UpstreamError creates an embedding/chat server error.
// Upstream errors are retryable.
func UpstreamError(message string, cause error) *RAGError {
	return New(ErrCodeUpstreamUnavailable, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *RAGError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *RAGError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if re, ok := err.(*RAGError); ok {
		return re.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if re, ok := err.(*RAGError); ok {
		return re.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a RAGError.
// Returns empty string if not a RAGError.
func GetCode(err error) string {
	if re, ok := err.(*RAGError); ok {
		return re.Code
	}
	return ""
}

// GetCategory extracts the category from a RAGError.
func GetCategory(err error) Category {
	if re, ok := err.(*RAGError); ok {
		return re.Category
	}
	return ""
}
