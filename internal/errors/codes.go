// Package errors provides structured error handling for local-rag.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO and document errors (file, parse, upload)
//   - 3XX: Upstream errors (embedding/chat servers)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

import "net/http"

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file, parse, and storage errors.
	CategoryIO Category = "IO"
	// CategoryUpstream indicates embedding/chat server errors.
	CategoryUpstream Category = "UPSTREAM"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigInvalid = "ERR_101_CONFIG_INVALID"
	ErrCodeDataDirLocked = "ERR_102_DATA_DIR_LOCKED"

	// IO and document errors (200-299)
	ErrCodeNotFound           = "ERR_201_NOT_FOUND"
	ErrCodeUnsupportedFormat  = "ERR_202_UNSUPPORTED_FORMAT"
	ErrCodeParse              = "ERR_203_PARSE"
	ErrCodeUploadTooLarge     = "ERR_204_UPLOAD_TOO_LARGE"
	ErrCodeMalformedMultipart = "ERR_205_MALFORMED_MULTIPART"
	ErrCodeStoreCorrupt       = "ERR_206_STORE_CORRUPT"

	// Upstream errors (300-399)
	ErrCodeUpstreamUnavailable = "ERR_301_UPSTREAM_UNAVAILABLE"
	ErrCodeUpstreamTimeout     = "ERR_302_UPSTREAM_TIMEOUT"
	ErrCodeModelAbsent         = "ERR_303_MODEL_ABSENT"

	// Validation errors (400-499)
	ErrCodeInvalidInput        = "ERR_401_INVALID_INPUT"
	ErrCodeProviderUnsupported = "ERR_402_PROVIDER_UNSUPPORTED"
	ErrCodeIndexCompat         = "ERR_403_INDEX_COMPAT"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeIndexFailed     = "ERR_503_INDEX_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryUpstream
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeStoreCorrupt, ErrCodeDataDirLocked:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeUpstreamUnavailable, ErrCodeUpstreamTimeout:
		return true
	default:
		return false
	}
}

// HTTPStatus maps an error code to the HTTP status the API surfaces.
func HTTPStatus(err error) int {
	switch GetCode(err) {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUploadTooLarge:
		return http.StatusRequestEntityTooLarge
	case ErrCodeUnsupportedFormat, ErrCodeParse, ErrCodeMalformedMultipart,
		ErrCodeInvalidInput, ErrCodeProviderUnsupported:
		return http.StatusBadRequest
	case ErrCodeIndexCompat:
		return http.StatusConflict
	case ErrCodeUpstreamUnavailable, ErrCodeUpstreamTimeout, ErrCodeModelAbsent:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
