package errors_test

import (
	"fmt"
	"os"
	"testing"

	"codeberg.org/mutker/daqlog/internal/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessages(t *testing.T) {
	f := errors.New()

	assert.Equal(t, "Failed to open sample source", f.New(errors.ErrOpenSource).Error())
	assert.Equal(t, "Invalid sampling frequency: -1", f.WithData(errors.ErrInvalidFrequency, -1).Error())
	assert.Equal(t, "instrument busy", f.WithMessage(errors.ErrOpenSource, "instrument busy").Error())
	assert.Equal(t, "Failed to persist run record: permission denied",
		f.Wrap(errors.ErrPersistFailed, os.ErrPermission).Error())

	// codes without a registered message fall back to the code itself
	assert.Equal(t, "source_overload", f.New(errors.ErrorCode("source_overload")).Error())
}

func TestWithMessageKeepsCause(t *testing.T) {
	err := errors.Wrap(errors.ErrPersistFailed, os.ErrPermission).WithMessage("disk full")

	assert.Equal(t, "disk full: permission denied", err.Error())
	assert.Equal(t, errors.ErrPersistFailed, err.Code())
	assert.ErrorIs(t, err, os.ErrPermission)
}

func TestHasCodeFollowsChain(t *testing.T) {
	inner := errors.New().WithData(errors.ErrSampleFailed, "timeout")
	outer := errors.Wrap(errors.ErrFinalizeFailed, fmt.Errorf("close: %w", inner))

	assert.True(t, errors.HasCode(outer, errors.ErrFinalizeFailed))
	assert.True(t, errors.HasCode(outer, errors.ErrSampleFailed))
	assert.False(t, errors.HasCode(outer, errors.ErrOpenSource))
	assert.False(t, errors.HasCode(nil, errors.ErrOpenSource))

	code, ok := errors.CodeOf(outer)
	require.True(t, ok)
	assert.Equal(t, errors.ErrFinalizeFailed, code)

	_, ok = errors.CodeOf(os.ErrClosed)
	assert.False(t, ok)
}

func TestHasCodeThroughMultierror(t *testing.T) {
	var combined *multierror.Error
	combined = multierror.Append(combined, errors.Wrap(errors.ErrPersistFailed, os.ErrPermission))
	combined = multierror.Append(combined, errors.Wrap(errors.ErrCloseSource, os.ErrClosed))

	err := errors.Wrap(errors.ErrFinalizeFailed, combined.ErrorOrNil())

	assert.True(t, errors.HasCode(err, errors.ErrPersistFailed))
	assert.True(t, errors.HasCode(err, errors.ErrCloseSource))
	assert.ErrorIs(t, err, os.ErrPermission)
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestSentinelComparison(t *testing.T) {
	sentinel := errors.New().New(errors.ErrTimeout)
	wrapped := errors.New().WithData(errors.ErrTimeout, "5s")

	assert.ErrorIs(t, wrapped, sentinel)
	assert.NotErrorIs(t, wrapped, errors.New().New(errors.ErrInternal))
	assert.Equal(t, "5s", wrapped.GetData())
}
