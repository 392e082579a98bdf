package source

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"codeberg.org/mutker/daqlog/internal/errors"
	"codeberg.org/mutker/daqlog/internal/logger"
	"gonum.org/v1/gonum/stat/distuv"
	"k8s.io/utils/clock"
)

const (
	WaveSine     = "sine"
	WaveRamp     = "ramp"
	WaveConstant = "constant"
	WaveNoise    = "noise"
)

// simDriver generates readings without hardware. It stands in for a DAQ
// analog-input channel during bench setup and in tests.
type simDriver struct {
	cfg   Config
	clock clock.Clock
}

func (*simDriver) Kind() string { return KindSim }

func (d *simDriver) Open(_ context.Context, address string) (Source, error) {
	if address == "" {
		address = "SimDev1/ai0"
	}

	s := &simSource{
		cfg:     d.cfg,
		clock:   d.clock,
		address: address,
		opened:  d.clock.Now(),
	}
	if d.cfg.Noise > 0 {
		s.noise = distuv.Normal{
			Mu:    0,
			Sigma: d.cfg.Noise,
			Src:   rand.NewPCG(d.cfg.Seed, d.cfg.Seed^0x9e3779b97f4a7c15),
		}
	}

	logger.Debug().
		Str("address", address).
		Str("waveform", d.cfg.Waveform).
		Float64("amplitude", d.cfg.Amplitude).
		Msg("Simulated source opened")

	return s, nil
}

type simSource struct {
	cfg     Config
	clock   clock.Clock
	address string
	opened  time.Time
	noise   distuv.Normal

	mu     sync.Mutex
	reads  int
	closed bool
}

func (s *simSource) Sample(ctx context.Context) (float64, error) {
	errFactory := errors.New()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, errFactory.New(ErrClosed)
	}
	n := s.reads
	s.reads++
	s.mu.Unlock()

	if s.cfg.Latency > 0 {
		if err := s.wait(ctx, s.cfg.Latency); err != nil {
			return 0, errFactory.Wrap(ErrReadFailed, err)
		}
	}

	if s.cfg.FailEvery > 0 && (n+1)%s.cfg.FailEvery == 0 {
		return 0, errFactory.WithData(ErrSimulatedFault, n)
	}

	return s.value(n), nil
}

func (s *simSource) wait(ctx context.Context, d time.Duration) error {
	t := s.clock.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *simSource) value(n int) float64 {
	v := s.cfg.Offset

	switch s.cfg.Waveform {
	case WaveSine:
		t := s.clock.Since(s.opened).Seconds()
		v += s.cfg.Amplitude * math.Sin(2*math.Pi*s.cfg.SignalHz*t)
	case WaveRamp:
		v += s.cfg.Amplitude * float64(n)
	case WaveConstant, WaveNoise:
	}

	if s.noise.Src != nil {
		v += s.noise.Rand()
	}

	return v
}

func (s *simSource) Identity() Identity {
	return Identity{
		Vendor: "daqlog",
		Model:  "simulated " + s.cfg.Waveform,
		Serial: s.address,
		Unit:   "V",
	}
}

func (s *simSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New().New(ErrClosed)
	}
	s.closed = true
	logger.Debug().Str("address", s.address).Int("reads", s.reads).Msg("Simulated source closed")
	return nil
}
