package buffer

import "codeberg.org/mutker/daqlog/internal/errors"

const (
	ErrInvalidCapacity = errors.ErrorCode("buffer_invalid_capacity")
	ErrRecorderClosed  = errors.ErrorCode("recorder_append_after_drain")
	ErrRecorderDrained = errors.ErrorCode("recorder_already_drained")
)
