// Package session owns one acquisition run from open to finalize.
package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"codeberg.org/mutker/daqlog/internal/acquire"
	"codeberg.org/mutker/daqlog/internal/buffer"
	"codeberg.org/mutker/daqlog/internal/config"
	"codeberg.org/mutker/daqlog/internal/display"
	"codeberg.org/mutker/daqlog/internal/errors"
	"codeberg.org/mutker/daqlog/internal/logger"
	"codeberg.org/mutker/daqlog/internal/metrics"
	"codeberg.org/mutker/daqlog/internal/shutdown"
	"codeberg.org/mutker/daqlog/internal/source"
	"codeberg.org/mutker/daqlog/internal/store"
	"github.com/hashicorp/go-multierror"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"
)

// Deps replaces parts of the run that are otherwise built from the
// configuration. The zero value uses the real clock, process signals and no
// operator input.
type Deps struct {
	Clock clock.Clock
	// Stdin is watched for the operator's stop line when input is enabled.
	Stdin  io.Reader
	Prompt io.Writer
	// Signals replaces SIGINT/SIGTERM delivery.
	Signals       <-chan os.Signal
	Driver        source.Driver
	SourceOptions []source.Option
	Persister     store.Persister
	Renderer      display.Renderer
}

// Result describes a finished run.
type Result struct {
	RunID    string
	Path     string
	Reason   shutdown.Reason
	Identity source.Identity
	Stats    acquire.Stats
}

type Session struct {
	cfg  *config.Config
	deps Deps
	log  logger.Logger
}

func New(cfg *config.Config, deps Deps) *Session {
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	return &Session{
		cfg:  cfg,
		deps: deps,
		log:  logger.WithComponent("session"),
	}
}

// Run opens the source, samples until a stop is requested or the configured
// duration passes, and finalizes the run once. Cancelling ctx stops the run
// the same way a signal does. An open failure is returned before any sample
// is taken; a finalize failure is returned after the run has terminated.
func (s *Session) Run(ctx context.Context) (Result, error) {
	errFactory := errors.New()
	res := Result{RunID: ulid.Make().String()}

	src, err := s.open(ctx)
	if err != nil {
		return res, errFactory.Wrap(errors.ErrOpenSource, err)
	}
	if id, ok := src.(source.Identifier); ok {
		res.Identity = id.Identity()
	}

	started := s.deps.Clock.Now()

	sched, persister, renderer, collector, err := s.build(res.RunID, started)
	if err != nil {
		if cerr := src.Close(); cerr != nil {
			s.log.Warn().Err(cerr).Msg("Failed to close source after setup error")
		}
		return res, err
	}
	res.Path = persister.Path()

	coord := shutdown.New()
	if err := coord.Start(); err != nil {
		return res, errFactory.Wrap(errors.ErrInitFailed, err)
	}
	collector.SetState(shutdown.Running.String())

	s.log.Info().
		Str("run_id", res.RunID).
		Str("source", s.cfg.Source.Kind).
		Str("model", res.Identity.Model).
		Float64("frequency", s.cfg.Frequency).
		Dur("duration", s.cfg.Duration).
		Str("output", res.Path).
		Msg("Run started")

	watchCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(watchCtx)

	g.Go(func() error {
		if s.deps.Signals != nil {
			shutdown.WatchSignalChannel(gctx, coord, s.deps.Signals)
		} else {
			shutdown.WatchSignals(gctx, coord)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			coord.RequestStop(shutdown.ReasonContext)
		case <-gctx.Done():
		}
		return nil
	})
	g.Go(func() error {
		if err := collector.Serve(gctx); err != nil {
			s.log.Error().Err(err).Msg("Metrics endpoint stopped")
		}
		return nil
	})

	if s.cfg.Input && s.deps.Stdin != nil {
		go shutdown.WatchInput(coord, s.deps.Stdin, s.deps.Prompt)
	}

	var runErr error
	res.Stats, runErr = s.acquire(sched, src, coord)

	collector.SetState(shutdown.Stopping.String())
	ferr := coord.Finalize(sched.Recorder(), src, persister)
	collector.SetState(shutdown.Terminated.String())
	res.Reason = coord.Reason()

	if err := renderer.Close(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to close display")
	}

	cancel()
	_ = g.Wait()

	s.log.Info().
		Str("run_id", res.RunID).
		Str("reason", string(res.Reason)).
		Str("path", res.Path).
		Object("stats", res.Stats).
		Msg("Run finished")

	if runErr != nil {
		return res, multierror.Append(runErr, ferr).ErrorOrNil()
	}
	return res, ferr
}

// acquire runs the loop. A panic escaping it stops the run with ReasonError
// so the run is still finalized.
func (s *Session) acquire(sched *acquire.Scheduler, src source.Source, coord *shutdown.Coordinator) (st acquire.Stats, err error) {
	defer func() {
		if r := recover(); r != nil {
			coord.RequestStop(shutdown.ReasonError)
			err = errors.New().WithData(errors.ErrInternal, fmt.Sprint(r))
			s.log.Error().Err(err).Msg("Acquisition loop failed")
		}
	}()

	return sched.Run(src, coord), nil
}

func (s *Session) open(ctx context.Context) (source.Source, error) {
	drv := s.deps.Driver
	if drv == nil {
		opts := append([]source.Option{source.WithClock(s.deps.Clock)}, s.deps.SourceOptions...)
		d, err := source.New(s.cfg.Source, opts...)
		if err != nil {
			return nil, err
		}
		drv = d
	}

	s.log.Debug().Str("kind", drv.Kind()).Str("address", s.cfg.Source.Address).Msg("Opening source")
	return drv.Open(ctx, s.cfg.Source.Address)
}

func (s *Session) build(runID string, started time.Time) (
	*acquire.Scheduler, store.Persister, display.Renderer, metrics.Collector, error,
) {
	rolling, err := buffer.NewRolling(s.cfg.BufferCapacity)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	persister := s.deps.Persister
	if persister == nil {
		persister, err = store.New(s.cfg.Output, runID, started)
		if err != nil {
			return nil, nil, nil, nil, err
		}
	}

	collector, err := metrics.New(s.cfg.Metrics)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	renderer := s.deps.Renderer
	if renderer == nil {
		renderer, err = display.New(s.cfg.Display, runID)
		if err != nil {
			return nil, nil, nil, nil, err
		}
	}

	sched, err := acquire.New(
		acquire.Config{Period: s.cfg.Period(), Deadline: s.cfg.Duration},
		acquire.WithClock(s.deps.Clock),
		acquire.WithBuffer(rolling),
		acquire.WithRenderer(renderer),
		acquire.WithMetrics(collector),
	)
	if err != nil {
		_ = renderer.Close()
		return nil, nil, nil, nil, err
	}

	return sched, persister, renderer, collector, nil
}
