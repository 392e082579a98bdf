package metrics

import "codeberg.org/mutker/daqlog/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidListen = errors.ErrorCode("metrics_invalid_listen_address")

	// Registration Errors
	ErrRegisterFailed = errors.ErrInitMetrics

	// Service Errors
	ErrServeFailed     = errors.ErrServeMetrics
	ErrServiceShutdown = errors.ErrShutdownFailed
)
