package display

import "codeberg.org/mutker/daqlog/internal/errors"

const (
	ErrPublisherInit  = errors.ErrorCode("display_publisher_init_failed")
	ErrPublisherClose = errors.ErrorCode("display_publisher_close_failed")
)
