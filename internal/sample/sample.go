// Package sample holds the value types that flow from the acquisition loop
// into the display buffer, the run record and the persisters.
package sample

import (
	"strconv"
	"time"
)

// TimestampLayout is the local-time layout written to run files,
// e.g. "2024-05-01 13:04:05.123456".
const TimestampLayout = "2006-01-02 15:04:05.000000"

// Sample is one reading. Timestamp keeps the monotonic clock reading and is
// used for interval math; Wallclock has it stripped and is only persisted.
type Sample struct {
	Timestamp time.Time
	Wallclock time.Time
	Value     float64
}

// New builds a Sample taken at t.
func New(t time.Time, value float64) Sample {
	return Sample{
		Timestamp: t,
		Wallclock: t.Round(0),
		Value:     value,
	}
}

// Since returns the seconds elapsed between origin and the sample.
func (s Sample) Since(origin time.Time) float64 {
	return s.Timestamp.Sub(origin).Seconds()
}

// Point is a display coordinate relative to the run start.
type Point struct {
	RelTime float64 `json:"t"`
	Value   float64 `json:"v"`
}

// Record is the persisted form of a Sample.
type Record struct {
	Timestamp string
	Value     float64
}

// ToRecord formats the sample for storage in local time.
func (s Sample) ToRecord() Record {
	return Record{
		Timestamp: s.Wallclock.Local().Format(TimestampLayout),
		Value:     s.Value,
	}
}

// FormatValue renders v as the shortest decimal that round-trips.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
