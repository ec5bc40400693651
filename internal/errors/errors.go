package errors

import (
	"errors"
	"fmt"
)

// Error is the structured error type for rehydrate.
// It carries enough context for logging, tracing, and CLI presentation.
type Error struct {
	// Code is the unique error code (e.g., "ERR_106_BUDGET_CONFIG").
	Code string

	// Message is the human-readable error message.
	Message string

	Category Category
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Sentinels for errors.Is matching. Matching is by code, so any *Error
// carrying the same code satisfies errors.Is against these.
var (
	ErrBudgetConfig          = &Error{Code: ErrCodeBudgetConfig}
	ErrInvalidFlags          = &Error{Code: ErrCodeInvalidFlags}
	ErrAdapterTimeout        = &Error{Code: ErrCodeAdapterTimeout}
	ErrAdapterUnavailable    = &Error{Code: ErrCodeAdapterUnavailable}
	ErrRetrievalUnavailable  = &Error{Code: ErrCodeRetrievalUnavailable}
	ErrPartialResult         = &Error{Code: ErrCodePartialResult}
	ErrQualityGateHardFailed = &Error{Code: ErrCodeQualityGateHardFailed}
)

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// New creates a new Error with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an Error from an existing error.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *Error {
	return New(ErrCodeConfigInvalid, message, cause)
}

// BudgetConfigError reports a token budget that cannot hold the pinned slot.
func BudgetConfigError(message string) *Error {
	return New(ErrCodeBudgetConfig, message, nil).
		WithSuggestion("shorten the role's pinned invariants or raise the token budget")
}

// InvalidFlagsError reports a rejected feature-flag combination.
func InvalidFlagsError(message string) *Error {
	return New(ErrCodeInvalidFlags, message, nil)
}

// AdapterTimeoutError reports an adapter call that exceeded its deadline.
func AdapterTimeoutError(adapter string, cause error) *Error {
	return New(ErrCodeAdapterTimeout, adapter+" adapter timed out", cause).
		WithDetail("adapter", adapter)
}

// AdapterUnavailableError reports an adapter call that failed outright.
func AdapterUnavailableError(adapter string, cause error) *Error {
	return New(ErrCodeAdapterUnavailable, adapter+" adapter unavailable", cause).
		WithDetail("adapter", adapter)
}

// RetrievalUnavailableError reports that no ranker produced results.
func RetrievalUnavailableError(cause error) *Error {
	return New(ErrCodeRetrievalUnavailable, "both vector and lexical retrieval failed", cause).
		WithSuggestion("check that the index exists and rerun `rehydrate index`")
}

// PartialResultError reports a request cancelled before adapter results joined.
func PartialResultError(cause error) *Error {
	return New(ErrCodePartialResult, "request cancelled before retrieval completed", cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *Error {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from the first *Error in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
