package shutdown

import "codeberg.org/mutker/daqlog/internal/errors"

const (
	ErrInvalidTransition = errors.ErrInvalidOperation
	ErrSaveFailed        = errors.ErrPersistFailed
	ErrCloseFailed       = errors.ErrCloseSource
)
