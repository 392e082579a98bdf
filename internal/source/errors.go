package source

import (
	"codeberg.org/mutker/daqlog/internal/errors"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

const (
	// Configuration Errors
	ErrUnknownKind   = errors.ErrorCode("source_unknown_kind")
	ErrInvalidConfig = errors.ErrorCode("source_invalid_config")
	ErrBadAddress    = errors.ErrorCode("source_bad_address")

	// Lifecycle Errors
	ErrOpenFailed  = errors.ErrOpenSource
	ErrCloseFailed = errors.ErrCloseSource
	ErrClosed      = errors.ErrorCode("source_closed")

	// Read Errors
	ErrReadFailed      = errors.ErrSampleFailed
	ErrBadReading      = errors.ErrorCode("source_bad_reading")
	ErrOverload        = errors.ErrorCode("source_overload")
	ErrSimulatedFault  = errors.ErrorCode("source_simulated_fault")
	ErrInstrumentError = errors.ErrorCode("source_instrument_error")

	// NVML Errors
	ErrNVMLInit         = errors.ErrorCode("nvml_init_failed")
	ErrNVMLDevice       = errors.ErrorCode("nvml_device_not_found")
	ErrNVMLUnsupported  = errors.ErrorCode("nvml_metric_unsupported")
	ErrNVMLReadFailed   = errors.ErrorCode("nvml_read_failed")
	ErrNVMLShutdownFail = errors.ErrorCode("nvml_shutdown_failed")
)

// nvmlError represents an NVML-specific error
type nvmlError struct {
	ret nvml.Return
}

func (e nvmlError) Error() string {
	return nvml.ErrorString(e.ret)
}

// newNVMLError creates an error from an NVML return code
func newNVMLError(ret nvml.Return) error {
	if ret == nvml.SUCCESS {
		return nil
	}
	return &nvmlError{ret: ret}
}

// IsNVMLSuccess checks if a Return value indicates success
func IsNVMLSuccess(ret nvml.Return) bool {
	return ret == nvml.SUCCESS
}
