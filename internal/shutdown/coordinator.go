// Package shutdown owns the run state machine. Any number of triggers may ask
// for a stop; the run is finalized exactly once.
package shutdown

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"codeberg.org/mutker/daqlog/internal/errors"
	"codeberg.org/mutker/daqlog/internal/logger"
	"codeberg.org/mutker/daqlog/internal/sample"
	"codeberg.org/mutker/daqlog/internal/store"
	"github.com/hashicorp/go-multierror"
)

// State is the lifecycle position of a run.
type State int32

const (
	Idle State = iota
	Running
	Stopping
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Reason records what ended a run.
type Reason string

const (
	ReasonNone     Reason = ""
	ReasonSignal   Reason = "signal"
	ReasonOperator Reason = "operator"
	ReasonDeadline Reason = "deadline"
	ReasonFinalize Reason = "finalize"
	ReasonError    Reason = "error"
	ReasonContext  Reason = "context"
)

// Drainer hands over the recorded run.
type Drainer interface {
	Drain() ([]sample.Sample, error)
}

type Coordinator struct {
	state  atomic.Int32
	reason atomic.Value

	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	finalizeOnce sync.Once
	log          logger.Logger
}

func New() *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		log:    logger.WithComponent("shutdown"),
	}
	c.reason.Store(ReasonNone)
	return c
}

// Start moves an idle run to Running.
func (c *Coordinator) Start() error {
	if !c.state.CompareAndSwap(int32(Idle), int32(Running)) {
		return errors.New().WithData(ErrInvalidTransition, c.State().String()+" -> running")
	}
	c.log.Debug().Msg("Run started")
	return nil
}

// RequestStop moves the run to Stopping. Only the first call from Idle or
// Running has an effect and returns true; it is safe from any goroutine,
// including a signal listener racing the scheduler's own deadline.
func (c *Coordinator) RequestStop(reason Reason) bool {
	for {
		cur := State(c.state.Load())
		if cur != Idle && cur != Running {
			return false
		}
		if c.state.CompareAndSwap(int32(cur), int32(Stopping)) {
			c.reason.Store(reason)
			close(c.done)
			c.cancel()
			c.log.Info().Str("reason", string(reason)).Msg("Stop requested")
			return true
		}
	}
}

// Done is closed once a stop has been requested.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Context is cancelled once a stop has been requested.
func (c *Coordinator) Context() context.Context {
	return c.ctx
}

func (c *Coordinator) State() State {
	return State(c.state.Load())
}

func (c *Coordinator) Reason() Reason {
	return c.reason.Load().(Reason)
}

// Finalize drains rec, saves the samples with p and closes src. Only the
// first call does anything; later calls return nil. A still-running run is
// stopped first. Save and close are both attempted and their errors combined.
func (c *Coordinator) Finalize(rec Drainer, src io.Closer, p store.Persister) error {
	var err error
	c.finalizeOnce.Do(func() {
		err = c.finalize(rec, src, p)
	})
	return err
}

func (c *Coordinator) finalize(rec Drainer, src io.Closer, p store.Persister) error {
	errFactory := errors.New()
	var result *multierror.Error

	c.RequestStop(ReasonFinalize)

	samples, err := rec.Drain()
	if err != nil {
		result = multierror.Append(result, err)
	} else if p != nil {
		if err := p.Save(samples); err != nil {
			result = multierror.Append(result, errFactory.Wrap(ErrSaveFailed, err))
		} else {
			c.log.Info().Int("samples", len(samples)).Str("path", p.Path()).Msg("Run saved")
		}
	}

	if src != nil {
		if err := src.Close(); err != nil {
			result = multierror.Append(result, errFactory.Wrap(ErrCloseFailed, err))
		}
	}

	c.state.Store(int32(Terminated))

	if err := result.ErrorOrNil(); err != nil {
		c.log.Error().Err(err).Msg("Finalize completed with errors")
		return errFactory.Wrap(errors.ErrFinalizeFailed, err)
	}

	c.log.Debug().Msg("Run finalized")
	return nil
}
