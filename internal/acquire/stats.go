package acquire

import (
	"time"

	"github.com/rs/zerolog"
)

// Stats summarises a finished run.
type Stats struct {
	Ticks    int
	Samples  int
	Errors   int
	Overruns int

	Elapsed  time.Duration
	TargetHz float64
	// ActualHz is ticks per second of wall time, failed reads included.
	ActualHz     float64
	MeanTickTime time.Duration

	ValueMean   float64
	ValueStdDev float64
}

// MarshalZerologObject lets Stats be logged with Event.Object.
func (s Stats) MarshalZerologObject(e *zerolog.Event) {
	e.Int("ticks", s.Ticks).
		Int("samples", s.Samples).
		Int("errors", s.Errors).
		Int("overruns", s.Overruns).
		Dur("elapsed", s.Elapsed).
		Float64("target_hz", s.TargetHz).
		Float64("actual_hz", s.ActualHz).
		Dur("mean_tick_time", s.MeanTickTime).
		Float64("value_mean", s.ValueMean).
		Float64("value_stddev", s.ValueStdDev)
}
