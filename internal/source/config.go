package source

import (
	"time"

	"codeberg.org/mutker/daqlog/internal/errors"
)

const (
	KindSim  = "sim"
	KindSCPI = "scpi"
	KindNVML = "nvml"

	defaultTimeout = 2 * time.Second
)

// Config selects and tunes a source. Fields are grouped by the kind that
// reads them; the rest are ignored.
type Config struct {
	Kind    string        `mapstructure:"kind"`
	Address string        `mapstructure:"address"`
	Timeout time.Duration `mapstructure:"timeout"`

	// sim
	Waveform  string        `mapstructure:"waveform"`
	Amplitude float64       `mapstructure:"amplitude"`
	Offset    float64       `mapstructure:"offset"`
	SignalHz  float64       `mapstructure:"signal_hz"`
	Noise     float64       `mapstructure:"noise"`
	FailEvery int           `mapstructure:"fail_every"`
	Latency   time.Duration `mapstructure:"latency"`
	Seed      uint64        `mapstructure:"seed"`

	// scpi
	Function   string  `mapstructure:"function"`
	Range      float64 `mapstructure:"range"`
	Resolution float64 `mapstructure:"resolution"`
	NPLC       float64 `mapstructure:"nplc"`
	AutoZero   bool    `mapstructure:"autozero"`
	Display    bool    `mapstructure:"display"`

	// nvml
	Metric string `mapstructure:"metric"`
}

func DefaultConfig() Config {
	return Config{
		Kind:      KindSim,
		Timeout:   defaultTimeout,
		Waveform:  WaveSine,
		Amplitude: 5.0,
		SignalHz:  1.0,
		Function:  "VOLT:DC",
		Range:     10,
		AutoZero:  false,
		Display:   false,
		Metric:    MetricTemperature,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	switch c.Kind {
	case KindSim:
		switch c.Waveform {
		case WaveSine, WaveRamp, WaveConstant, WaveNoise:
		default:
			return errFactory.WithData(ErrInvalidConfig, "unknown waveform "+c.Waveform)
		}
		if c.FailEvery < 0 || c.Latency < 0 || c.Noise < 0 {
			return errFactory.WithData(ErrInvalidConfig, "fail_every, latency and noise must not be negative")
		}
	case KindSCPI:
		if c.Address == "" {
			return errFactory.WithData(ErrInvalidConfig, "scpi source needs an address")
		}
		if c.Function == "" {
			return errFactory.WithData(ErrInvalidConfig, "scpi source needs a measurement function")
		}
	case KindNVML:
		if _, ok := nvmlMetrics[c.Metric]; !ok {
			return errFactory.WithData(ErrInvalidConfig, "unknown nvml metric "+c.Metric)
		}
	default:
		return errFactory.WithData(ErrUnknownKind, c.Kind)
	}

	if c.Timeout < 0 {
		return errFactory.WithData(ErrInvalidConfig, "timeout must not be negative")
	}

	return nil
}
