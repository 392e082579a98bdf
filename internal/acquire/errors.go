package acquire

import "codeberg.org/mutker/daqlog/internal/errors"

const (
	ErrInvalidPeriod   = errors.ErrInvalidFrequency
	ErrInvalidDeadline = errors.ErrorCode("acquire_invalid_deadline")
	ErrSourcePanic     = errors.ErrorCode("acquire_source_panic")
	ErrNonFinite       = errors.ErrorCode("acquire_non_finite_reading")
)
