package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrNotImplemented  ErrorCode = "not_implemented"
	ErrAlreadyRunning  ErrorCode = "already_running"

	// Configuration errors
	ErrInvalidConfig    ErrorCode = "invalid_configuration"
	ErrBindFlags        ErrorCode = "bind_flags_failed"
	ErrReadConfig       ErrorCode = "read_config_failed"
	ErrInvalidFrequency ErrorCode = "invalid_frequency"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"
	ErrInitLogger      ErrorCode = "init_logger_failed"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"

	// Acquisition errors
	ErrOpenSource     ErrorCode = "source_open_failed"
	ErrSampleFailed   ErrorCode = "sample_failed"
	ErrCloseSource    ErrorCode = "source_close_failed"
	ErrPersistFailed  ErrorCode = "persist_failed"
	ErrFinalizeFailed ErrorCode = "finalize_failed"

	// Operation errors
	ErrOperationFailed  ErrorCode = "operation_failed"
	ErrTimeout          ErrorCode = "operation_timeout"
	ErrInvalidOperation ErrorCode = "invalid_operation"

	// Metrics errors
	ErrInitMetrics  ErrorCode = "init_metrics_failed"
	ErrServeMetrics ErrorCode = "serve_metrics_failed"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:         "Internal error occurred",
	ErrInvalidArgument:  "Invalid argument provided",
	ErrNotImplemented:   "Operation not implemented",
	ErrAlreadyRunning:   "Another acquisition is already running",
	ErrInvalidConfig:    "Invalid configuration",
	ErrBindFlags:        "Failed to bind flags",
	ErrReadConfig:       "Failed to read config file",
	ErrInvalidFrequency: "Invalid sampling frequency",
	ErrInvalidLogLevel:  "Invalid log level",
	ErrInitLogger:       "Failed to initialize logger",
	ErrInitFailed:       "Initialization failed",
	ErrShutdownFailed:   "Shutdown failed",
	ErrOpenSource:       "Failed to open sample source",
	ErrSampleFailed:     "Failed to read sample",
	ErrCloseSource:      "Failed to close sample source",
	ErrPersistFailed:    "Failed to persist run record",
	ErrFinalizeFailed:   "Failed to finalize run",
	ErrOperationFailed:  "Operation failed",
	ErrTimeout:          "Operation timed out",
	ErrInvalidOperation: "Invalid operation",
	ErrInitMetrics:      "Failed to initialize metrics",
	ErrServeMetrics:     "Failed to serve metrics",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
