// Package acquire drives a source at a fixed rate. Fire times come from
// start + tick*period so per-tick latency never accumulates into drift.
package acquire

import (
	"context"
	"fmt"
	"math"
	"time"

	"codeberg.org/mutker/daqlog/internal/buffer"
	"codeberg.org/mutker/daqlog/internal/display"
	"codeberg.org/mutker/daqlog/internal/errors"
	"codeberg.org/mutker/daqlog/internal/logger"
	"codeberg.org/mutker/daqlog/internal/metrics"
	"codeberg.org/mutker/daqlog/internal/sample"
	"codeberg.org/mutker/daqlog/internal/shutdown"
	"codeberg.org/mutker/daqlog/internal/source"
	"k8s.io/utils/clock"
)

const (
	defaultBufferCapacity = 100
	defaultSampleTimeout  = 5 * time.Second
)

// Canceller is the part of the shutdown coordinator the loop needs.
type Canceller interface {
	Done() <-chan struct{}
	RequestStop(reason shutdown.Reason) bool
}

type Config struct {
	Period time.Duration
	// Deadline bounds the run from its first tick; zero means no bound.
	Deadline time.Duration
}

type Option func(*Scheduler)

func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

func WithBuffer(b *buffer.Rolling) Option {
	return func(s *Scheduler) { s.buffer = b }
}

func WithRecorder(r *buffer.Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

func WithRenderer(r display.Renderer) Option {
	return func(s *Scheduler) { s.renderer = r }
}

func WithMetrics(m metrics.Collector) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithSampleTimeout bounds a single Sample call. Reads are not cancelled by
// a stop request; they run to completion or to this timeout.
func WithSampleTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.sampleTimeout = d }
}

type Scheduler struct {
	cfg           Config
	clock         clock.Clock
	buffer        *buffer.Rolling
	recorder      *buffer.Recorder
	renderer      display.Renderer
	metrics       metrics.Collector
	sampleTimeout time.Duration
	log           logger.Logger
}

func New(cfg Config, opts ...Option) (*Scheduler, error) {
	errFactory := errors.New()

	if cfg.Period <= 0 {
		return nil, errFactory.WithData(ErrInvalidPeriod, cfg.Period)
	}
	if cfg.Deadline < 0 {
		return nil, errFactory.WithData(ErrInvalidDeadline, cfg.Deadline)
	}

	s := &Scheduler{
		cfg:           cfg,
		clock:         clock.RealClock{},
		sampleTimeout: defaultSampleTimeout,
		log:           logger.WithComponent("acquire"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.buffer == nil {
		b, err := buffer.NewRolling(defaultBufferCapacity)
		if err != nil {
			return nil, err
		}
		s.buffer = b
	}
	if s.recorder == nil {
		s.recorder = buffer.NewRecorder(expectedSamples(cfg))
	}
	if s.renderer == nil {
		s.renderer = display.Nop
	}
	if s.metrics == nil {
		s.metrics = metrics.NewNop()
	}

	return s, nil
}

// Buffer returns the display buffer the loop pushes to.
func (s *Scheduler) Buffer() *buffer.Rolling { return s.buffer }

// Recorder returns the run record the loop appends to.
func (s *Scheduler) Recorder() *buffer.Recorder { return s.recorder }

// Run samples src until stop is done or the deadline passes. A deadline
// stops the run through stop, exactly as an external request would. Errors
// from src are counted and skipped; Run itself cannot fail.
func (s *Scheduler) Run(src source.Source, stop Canceller) Stats {
	period := s.cfg.Period
	start := s.clock.Now()

	var deadline time.Time
	if s.cfg.Deadline > 0 {
		deadline = start.Add(s.cfg.Deadline)
	}

	st := Stats{TargetHz: float64(time.Second) / float64(period)}
	var acc moments
	var busy time.Duration
	var tick int64

	s.log.Info().
		Dur("period", period).
		Dur("deadline", s.cfg.Deadline).
		Msg("Acquisition started")

	for {
		select {
		case <-stop.Done():
			return s.finish(st, acc, busy, start)
		default:
		}

		now := s.clock.Now()
		if !deadline.IsZero() && !now.Before(deadline) {
			stop.RequestStop(shutdown.ReasonDeadline)
			return s.finish(st, acc, busy, start)
		}

		v, err := s.read(src)
		took := s.clock.Since(now)
		busy += took
		st.Ticks++

		if err != nil {
			st.Errors++
			s.metrics.ObserveError(took)
			s.log.Warn().Err(err).Int64("tick", tick).Msg("Sample failed")
		} else {
			smp := sample.New(now, v)
			s.buffer.Push(smp)
			if err := s.recorder.Append(smp); err != nil {
				s.log.Error().Err(err).Int64("tick", tick).Msg("Run record rejected sample")
			}
			st.Samples++
			acc.add(v)
			s.metrics.ObserveSample(took, v)
			s.renderer.Render(s.buffer.Points(start))
		}

		tick++
		next := start.Add(time.Duration(tick) * period)
		now = s.clock.Now()

		var wait time.Duration
		if now.Before(next) {
			wait = next.Sub(now)
		} else {
			// Late: fire once now, in the slot that contains now. Slots
			// passed over entirely are skipped, not replayed.
			slot := int64(now.Sub(start) / period)
			if skipped := slot - tick; skipped > 0 {
				st.Overruns += int(skipped)
				s.metrics.ObserveOverruns(int(skipped))
				s.log.Debug().Int64("tick", tick).Int64("skipped", skipped).Msg("Tick overran period")
				tick = slot
			}
		}

		if !deadline.IsZero() {
			if remaining := deadline.Sub(now); wait > remaining {
				wait = max(remaining, 0)
			}
		}

		if wait > 0 {
			s.wait(wait, stop)
		}
	}
}

func (s *Scheduler) wait(d time.Duration, stop Canceller) {
	t := s.clock.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C():
	case <-stop.Done():
	}
}

// read calls src once. A panicking source counts as a failed read.
func (s *Scheduler) read(src source.Source) (v float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New().WithData(ErrSourcePanic, fmt.Sprint(r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.sampleTimeout)
	defer cancel()

	v, err = src.Sample(ctx)
	if err == nil && (math.IsNaN(v) || math.IsInf(v, 0)) {
		return 0, errors.New().WithData(ErrNonFinite, v)
	}
	return v, err
}

func (s *Scheduler) finish(st Stats, acc moments, busy time.Duration, start time.Time) Stats {
	st.Elapsed = s.clock.Since(start)
	if st.Elapsed > 0 {
		st.ActualHz = float64(st.Ticks) / st.Elapsed.Seconds()
	}
	if st.Ticks > 0 {
		st.MeanTickTime = busy / time.Duration(st.Ticks)
	}
	st.ValueMean, st.ValueStdDev = acc.mean, acc.stdDev()

	s.log.Info().
		Int("ticks", st.Ticks).
		Int("samples", st.Samples).
		Int("errors", st.Errors).
		Int("overruns", st.Overruns).
		Dur("elapsed", st.Elapsed).
		Msg("Acquisition stopped")

	return st
}

// moments keeps a running mean and sum of squared deviations (Welford).
type moments struct {
	n    int
	mean float64
	m2   float64
}

func (m *moments) add(v float64) {
	m.n++
	d := v - m.mean
	m.mean += d / float64(m.n)
	m.m2 += d * (v - m.mean)
}

// stdDev is the sample standard deviation; zero below two values.
func (m moments) stdDev() float64 {
	if m.n < 2 {
		return 0
	}
	return math.Sqrt(m.m2 / float64(m.n-1))
}

func expectedSamples(cfg Config) int {
	if cfg.Deadline <= 0 || cfg.Period <= 0 {
		return defaultBufferCapacity
	}
	n := cfg.Deadline / cfg.Period
	if n > 1<<20 {
		return 1 << 20
	}
	return int(n) + 1
}
