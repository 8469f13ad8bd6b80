package errors

import (
	"errors"
	"fmt"
)

// IndexError is the structured error type for indexsync.
// It provides rich context for error handling, logging, and user presentation.
type IndexError struct {
	// Code is the unique error code (e.g., "ERR_207_INDEX_MUTATION").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Network, etc.).
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
func (e *IndexError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *IndexError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with IndexError.
func (e *IndexError) Is(target error) bool {
	if t, ok := target.(*IndexError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *IndexError) WithDetail(key, value string) *IndexError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *IndexError) WithSuggestion(suggestion string) *IndexError {
	e.Suggestion = suggestion
	return e
}

// New creates a new IndexError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *IndexError {
	return &IndexError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an IndexError from an existing error.
// The error's message becomes the IndexError message.
func Wrap(code string, err error) *IndexError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinel values usable as errors.Is targets.
var (
	ErrIndexMutation        = &IndexError{Code: ErrCodeIndexMutation}
	ErrDispatchTransport    = &IndexError{Code: ErrCodeDispatchTransport}
	ErrConfigInconsistent   = &IndexError{Code: ErrCodeConfigInconsistent}
	ErrMonitorCallback      = &IndexError{Code: ErrCodeMonitorCallback}
	ErrWriterLocked         = &IndexError{Code: ErrCodeWriterLocked}
	ErrQueueSealed          = &IndexError{Code: ErrCodeQueueSealed}
	ErrBackendClosed        = &IndexError{Code: ErrCodeBackendClosed}
	ErrUnknownEntityBinding = &IndexError{Code: ErrCodeUnknownEntityBinding}
)

// IndexMutationFailure reports a failed add/update/delete/purge/optimize
// against the index writer of entityType.
func IndexMutationFailure(entityType, message string, cause error) *IndexError {
	return New(ErrCodeIndexMutation, message, cause).WithDetail("entity_type", entityType)
}

// DispatchTransportFailure reports a queue that could not be shipped to the
// master node for index.
func DispatchTransportFailure(index string, cause error) *IndexError {
	return New(ErrCodeDispatchTransport, "unable to send work queue for index "+index, cause).
		WithDetail("index", index)
}

// ConfigurationInconsistency reports mixed or incompatible configuration,
// such as facet bounds of different numeric types.
func ConfigurationInconsistency(message string) *IndexError {
	return New(ErrCodeConfigInconsistent, message, nil)
}

// MonitorCallbackFailure wraps a failure raised by a progress monitor.
func MonitorCallbackFailure(callback string, cause error) *IndexError {
	return New(ErrCodeMonitorCallback, "progress monitor "+callback+" failed", cause).
		WithDetail("callback", callback)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *IndexError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// IOError creates an I/O-related error.
func IOError(message string, cause error) *IndexError {
	return New(ErrCodeFileNotFound, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *IndexError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *IndexError {
	return New(ErrCodeInternal, message, cause)
}

// As returns the first IndexError in err's chain.
func As(err error) (*IndexError, bool) {
	var ie *IndexError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	ie, ok := As(err)
	return ok && ie.Retryable
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	ie, ok := As(err)
	return ok && ie.Severity == SeverityFatal
}

// GetCode extracts the error code from the first IndexError in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	if ie, ok := As(err); ok {
		return ie.Code
	}
	return ""
}

// GetCategory extracts the category from the first IndexError in the chain.
func GetCategory(err error) Category {
	if ie, ok := As(err); ok {
		return ie.Category
	}
	return ""
}
