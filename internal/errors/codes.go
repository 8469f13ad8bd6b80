// Package errors provides structured error handling for indexsync.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO and index storage errors
//   - 3XX: Network and cluster transport errors
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file, disk and index storage errors.
	CategoryIO Category = "IO"
	// CategoryNetwork indicates network and cluster transport errors.
	CategoryNetwork Category = "NETWORK"
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
	ErrCodeConfigNotFound       = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid        = "ERR_102_CONFIG_INVALID"
	ErrCodeConfigPermission     = "ERR_103_CONFIG_PERMISSION"
	ErrCodeConfigInconsistent   = "ERR_104_CONFIG_INCONSISTENT"
	ErrCodeUnknownEntityBinding = "ERR_105_UNKNOWN_ENTITY_BINDING"

	// IO errors (200-299)
	ErrCodeFileNotFound   = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission = "ERR_202_FILE_PERMISSION"
	ErrCodeDiskFull       = "ERR_203_DISK_FULL"
	ErrCodeWriterLocked   = "ERR_204_WRITER_LOCKED"
	ErrCodeCorruptIndex   = "ERR_205_CORRUPT_INDEX"
	ErrCodeEntityStore    = "ERR_206_ENTITY_STORE"
	ErrCodeIndexMutation  = "ERR_207_INDEX_MUTATION"
	ErrCodeIndexCommit    = "ERR_208_INDEX_COMMIT"

	// Network errors (300-399)
	ErrCodeNetworkTimeout     = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeNetworkUnavailable = "ERR_302_NETWORK_UNAVAILABLE"
	ErrCodeMasterUnavailable  = "ERR_303_MASTER_UNAVAILABLE"
	ErrCodeDispatchTransport  = "ERR_304_DISPATCH_TRANSPORT"

	// Validation errors (400-499)
	ErrCodeInvalidInput    = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidWorkItem = "ERR_402_INVALID_WORK_ITEM"
	ErrCodeQueueSealed     = "ERR_403_QUEUE_SEALED"
	ErrCodeInvalidEnvelope = "ERR_404_INVALID_ENVELOPE"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeBackendClosed   = "ERR_502_BACKEND_CLOSED"
	ErrCodeSearchFailed    = "ERR_503_SEARCH_FAILED"
	ErrCodeMassIndexFailed = "ERR_505_MASS_INDEX_FAILED"
	ErrCodeMonitorCallback = "ERR_506_MONITOR_CALLBACK"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "101" from "ERR_101_CONFIG_NOT_FOUND")
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeDiskFull, ErrCodeConfigInconsistent:
		return SeverityFatal
	case ErrCodeMonitorCallback:
		// Monitor failures are logged and swallowed.
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// Dispatch transport failures are deliberately absent: a failed send is
// surfaced to the caller, never retried by the dispatcher.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeNetworkUnavailable, ErrCodeWriterLocked:
		return true
	default:
		return false
	}
}
