// Package source adapts bench instruments to the single-reading capability the
// acquisition loop consumes. Each instrument family is a Driver selected by
// kind at construction time.
package source

import (
	"context"

	"codeberg.org/mutker/daqlog/internal/errors"
	"k8s.io/utils/clock"
)

type options struct {
	clock clock.Clock
	dial  dialFunc
	nvml  nvmlLibrary
}

// Option customises driver construction.
type Option func(*options)

// WithClock sets the clock simulated sources read time from and sleep on.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// New returns the driver for cfg.Kind.
func New(cfg Config, opts ...Option) (Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{
		clock: clock.RealClock{},
		dial:  dialTransport,
		nvml:  nvmlWrapper{},
	}
	for _, opt := range opts {
		opt(o)
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	switch cfg.Kind {
	case KindSim:
		return &simDriver{cfg: cfg, clock: o.clock}, nil
	case KindSCPI:
		return &scpiDriver{cfg: cfg, dial: o.dial}, nil
	case KindNVML:
		return &nvmlDriver{cfg: cfg, lib: o.nvml}, nil
	default:
		return nil, errors.New().WithData(ErrUnknownKind, cfg.Kind)
	}
}

// Open is shorthand for building the driver for cfg and opening
// cfg.Address with it.
func Open(ctx context.Context, cfg Config, opts ...Option) (Source, error) {
	drv, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return drv.Open(ctx, cfg.Address)
}
