// Package errors provides structured error handling for rehydrate.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration and feature-flag errors
//   - 2XX: Index and catalog I/O errors
//   - 3XX: Retrieval errors (adapters, fan-out, cancellation)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates index and catalog I/O errors.
	CategoryIO Category = "IO"
	// CategoryRetrieval indicates adapter and pipeline errors.
	CategoryRetrieval Category = "RETRIEVAL"
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
	ErrCodeConfigInvalid  = "ERR_101_CONFIG_INVALID"
	ErrCodeConfigNotFound = "ERR_102_CONFIG_NOT_FOUND"
	ErrCodeBudgetConfig   = "ERR_106_BUDGET_CONFIG"
	ErrCodeInvalidFlags   = "ERR_107_INVALID_FLAGS"

	// IO errors (200-299)
	ErrCodeIndexOpen    = "ERR_201_INDEX_OPEN"
	ErrCodeCatalog      = "ERR_202_CATALOG"
	ErrCodeIndexLocked  = "ERR_203_INDEX_LOCKED"
	ErrCodeCorruptIndex = "ERR_205_CORRUPT_INDEX"

	// Retrieval errors (300-399)
	ErrCodeAdapterTimeout        = "ERR_301_ADAPTER_TIMEOUT"
	ErrCodeAdapterUnavailable    = "ERR_302_ADAPTER_UNAVAILABLE"
	ErrCodeRetrievalUnavailable  = "ERR_303_RETRIEVAL_UNAVAILABLE"
	ErrCodePartialResult         = "ERR_304_PARTIAL_RESULT"
	ErrCodeQualityGateHardFailed = "ERR_305_QUALITY_GATE_HARD_FAILURE"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"

	// Internal errors (500-599)
	ErrCodeInternal = "ERR_501_INTERNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// "101" from "ERR_101_CONFIG_INVALID"
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryRetrieval
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeBudgetConfig, ErrCodeInvalidFlags,
		ErrCodeRetrievalUnavailable, ErrCodePartialResult:
		return SeverityFatal
	case ErrCodeAdapterTimeout, ErrCodeAdapterUnavailable, ErrCodeQualityGateHardFailed:
		// Absorbed by the pipeline; the request degrades instead of failing.
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeAdapterTimeout, ErrCodeAdapterUnavailable, ErrCodeRetrievalUnavailable,
		ErrCodeIndexLocked:
		return true
	default:
		return false
	}
}
