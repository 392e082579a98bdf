package acquire

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"codeberg.org/mutker/daqlog/internal/buffer"
	"codeberg.org/mutker/daqlog/internal/sample"
	"codeberg.org/mutker/daqlog/internal/shutdown"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/clock"
	clocktesting "k8s.io/utils/clock/testing"
)

// steppingClock advances fake time by the full duration of every timer it
// hands out, so the loop runs without real sleeps.
type steppingClock struct {
	*clocktesting.FakeClock
}

func newSteppingClock() *steppingClock {
	return &steppingClock{clocktesting.NewFakeClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))}
}

func (c *steppingClock) NewTimer(d time.Duration) clock.Timer {
	t := c.FakeClock.NewTimer(d)
	c.FakeClock.Step(d)
	return t
}

// rampSource returns 0, 1, 2, ... and spends cost of fake time per read.
type rampSource struct {
	clk    *steppingClock
	cost   time.Duration
	calls  int
	failOn map[int]error
	onCall func(i int)
	closed bool

	// replace swaps the i-th reading for another value.
	replace map[int]float64
}

func (r *rampSource) Sample(context.Context) (float64, error) {
	i := r.calls
	r.calls++
	if r.cost > 0 {
		r.clk.Step(r.cost)
	}
	if r.onCall != nil {
		r.onCall(i)
	}
	if err := r.failOn[i]; err != nil {
		return 0, err
	}
	if v, ok := r.replace[i]; ok {
		return v, nil
	}
	return float64(i), nil
}

func (r *rampSource) Close() error {
	r.closed = true
	return nil
}

type countingRenderer struct {
	renders int
	last    []sample.Point
}

func (r *countingRenderer) Render(points []sample.Point) {
	r.renders++
	r.last = points
}

func (*countingRenderer) Close() error { return nil }

type fakeMetrics struct {
	samples, errors, overruns int
}

func (m *fakeMetrics) ObserveSample(time.Duration, float64) { m.samples++ }
func (m *fakeMetrics) ObserveError(time.Duration)           { m.errors++ }
func (m *fakeMetrics) ObserveOverruns(n int)                { m.overruns += n }
func (m *fakeMetrics) SetState(string)                      {}
func (m *fakeMetrics) Serve(context.Context) error          { return nil }

func startedCoordinator(t *testing.T) *shutdown.Coordinator {
	t.Helper()
	c := shutdown.New()
	require.NoError(t, c.Start())
	return c
}

func drained(t *testing.T, s *Scheduler) []float64 {
	t.Helper()
	samples, err := s.Recorder().Drain()
	require.NoError(t, err)
	values := make([]float64, len(samples))
	for i, smp := range samples {
		values[i] = smp.Value
	}
	return values
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{Period: 0})
	assert.Error(t, err)

	_, err = New(Config{Period: time.Second, Deadline: -time.Second})
	assert.Error(t, err)
}

func TestRunRampUntilDeadline(t *testing.T) {
	clk := newSteppingClock()
	s, err := New(Config{Period: 100 * time.Millisecond, Deadline: time.Second}, WithClock(clk))
	require.NoError(t, err)

	stop := startedCoordinator(t)
	st := s.Run(&rampSource{clk: clk}, stop)

	values := drained(t, s)
	require.GreaterOrEqual(t, len(values), 9)
	require.LessOrEqual(t, len(values), 10)
	for i, v := range values {
		assert.Equal(t, float64(i), v)
	}

	assert.Equal(t, 10, st.Ticks)
	assert.Equal(t, 0, st.Overruns)
	assert.Equal(t, time.Second, st.Elapsed)
	assert.InDelta(t, 10, st.TargetHz, 1e-9)
	assert.InDelta(t, 10, st.ActualHz, 1e-9)
	assert.InDelta(t, 4.5, st.ValueMean, 1e-9)
	assert.InDelta(t, math.Sqrt(82.5/9), st.ValueStdDev, 1e-9)

	assert.Equal(t, shutdown.Stopping, stop.State())
	assert.Equal(t, shutdown.ReasonDeadline, stop.Reason())
}

func TestTickCountMatchesDurationOverPeriod(t *testing.T) {
	periods := []time.Duration{7 * time.Millisecond, 30 * time.Millisecond, 100 * time.Millisecond, 333 * time.Millisecond}
	durations := []time.Duration{250 * time.Millisecond, time.Second, 2500 * time.Millisecond}

	for _, p := range periods {
		for _, d := range durations {
			t.Run(fmt.Sprintf("p=%s/d=%s", p, d), func(t *testing.T) {
				clk := newSteppingClock()
				s, err := New(Config{Period: p, Deadline: d}, WithClock(clk))
				require.NoError(t, err)

				st := s.Run(&rampSource{clk: clk}, startedCoordinator(t))

				expected := int(d / p)
				assert.GreaterOrEqual(t, st.Ticks, expected-1)
				assert.LessOrEqual(t, st.Ticks, expected+1)
				assert.Equal(t, 0, st.Overruns)
			})
		}
	}
}

func TestSlowSourceSkipsSlotsWithoutBursting(t *testing.T) {
	clk := newSteppingClock()
	m := &fakeMetrics{}
	s, err := New(Config{Period: 100 * time.Millisecond, Deadline: time.Second}, WithClock(clk), WithMetrics(m))
	require.NoError(t, err)

	st := s.Run(&rampSource{clk: clk, cost: 150 * time.Millisecond}, startedCoordinator(t))

	assert.Less(t, st.Ticks, 10)
	assert.Equal(t, 7, st.Ticks)
	assert.Equal(t, 3, st.Overruns)
	assert.Equal(t, 3, m.overruns)
	assert.Equal(t, 7, m.samples)

	samples, err := s.Recorder().Drain()
	require.NoError(t, err)
	for i := 1; i < len(samples); i++ {
		gap := samples[i].Timestamp.Sub(samples[i-1].Timestamp)
		assert.GreaterOrEqual(t, gap, 150*time.Millisecond, "tick %d fired in a burst", i)
	}
}

func TestTransientErrorDoesNotStopRun(t *testing.T) {
	clk := newSteppingClock()
	m := &fakeMetrics{}
	s, err := New(Config{Period: 100 * time.Millisecond, Deadline: time.Second}, WithClock(clk), WithMetrics(m))
	require.NoError(t, err)

	src := &rampSource{clk: clk, failOn: map[int]error{3: errors.New("timeout")}}
	st := s.Run(src, startedCoordinator(t))

	assert.Equal(t, 10, st.Ticks)
	assert.Equal(t, 9, st.Samples)
	assert.Equal(t, 1, st.Errors)
	assert.Equal(t, 1, m.errors)
	assert.Equal(t, []float64{0, 1, 2, 4, 5, 6, 7, 8, 9}, drained(t, s))
}

type panickingSource struct{ calls int }

func (p *panickingSource) Sample(context.Context) (float64, error) {
	p.calls++
	if p.calls == 1 {
		panic("driver bug")
	}
	return 1, nil
}

func (*panickingSource) Close() error { return nil }

func TestNonFiniteReadingsAreSkipped(t *testing.T) {
	clk := newSteppingClock()
	m := &fakeMetrics{}
	s, err := New(Config{Period: 100 * time.Millisecond, Deadline: 500 * time.Millisecond}, WithClock(clk), WithMetrics(m))
	require.NoError(t, err)

	src := &rampSource{clk: clk, replace: map[int]float64{1: math.NaN(), 3: math.Inf(-1)}}
	st := s.Run(src, startedCoordinator(t))

	assert.Equal(t, 5, st.Ticks)
	assert.Equal(t, 2, st.Errors)
	assert.Equal(t, 3, st.Samples)
	assert.Equal(t, 2, m.errors)
	assert.Equal(t, []float64{0, 2, 4}, drained(t, s))
	assert.InDelta(t, 2, st.ValueMean, 1e-9)
	assert.InDelta(t, 2, st.ValueStdDev, 1e-9)
}

func TestPanickingSourceCountsAsError(t *testing.T) {
	clk := newSteppingClock()
	s, err := New(Config{Period: 100 * time.Millisecond, Deadline: 300 * time.Millisecond}, WithClock(clk))
	require.NoError(t, err)

	st := s.Run(&panickingSource{}, startedCoordinator(t))

	assert.Equal(t, 3, st.Ticks)
	assert.Equal(t, 1, st.Errors)
	assert.Equal(t, 2, st.Samples)
}

func TestStopBeforeFirstTick(t *testing.T) {
	clk := newSteppingClock()
	s, err := New(Config{Period: 100 * time.Millisecond}, WithClock(clk))
	require.NoError(t, err)

	stop := startedCoordinator(t)
	stop.RequestStop(shutdown.ReasonSignal)

	src := &rampSource{clk: clk}
	st := s.Run(src, stop)

	assert.Equal(t, 0, st.Ticks)
	assert.Equal(t, 0, src.calls)
	assert.Equal(t, shutdown.ReasonSignal, stop.Reason())
}

func TestExternalStopEndsRunWithinOneTick(t *testing.T) {
	clk := newSteppingClock()
	s, err := New(Config{Period: 100 * time.Millisecond}, WithClock(clk))
	require.NoError(t, err)

	stop := startedCoordinator(t)
	src := &rampSource{clk: clk}
	src.onCall = func(i int) {
		if i == 5 {
			stop.RequestStop(shutdown.ReasonOperator)
		}
	}

	st := s.Run(src, stop)

	assert.Equal(t, 6, st.Ticks)
	assert.Equal(t, 6, src.calls)
	assert.Equal(t, shutdown.ReasonOperator, stop.Reason())
}

func TestWaitIsCappedAtDeadline(t *testing.T) {
	clk := newSteppingClock()
	s, err := New(Config{Period: 300 * time.Millisecond, Deadline: time.Second}, WithClock(clk))
	require.NoError(t, err)

	st := s.Run(&rampSource{clk: clk}, startedCoordinator(t))

	assert.Equal(t, 4, st.Ticks)
	assert.Equal(t, time.Second, st.Elapsed)
}

func TestRendererSeesRollingWindow(t *testing.T) {
	clk := newSteppingClock()
	rolling, err := buffer.NewRolling(3)
	require.NoError(t, err)
	r := &countingRenderer{}

	s, err := New(Config{Period: 100 * time.Millisecond, Deadline: time.Second},
		WithClock(clk), WithBuffer(rolling), WithRenderer(r))
	require.NoError(t, err)

	s.Run(&rampSource{clk: clk}, startedCoordinator(t))

	assert.Equal(t, 10, r.renders)
	require.Len(t, r.last, 3)
	assert.Equal(t, []float64{7, 8, 9}, []float64{r.last[0].Value, r.last[1].Value, r.last[2].Value})
	assert.InDelta(t, 0.9, r.last[2].RelTime, 1e-9)
	assert.Equal(t, 10, s.Recorder().Len())
}
