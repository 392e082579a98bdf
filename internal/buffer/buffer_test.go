package buffer_test

import (
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/daqlog/internal/buffer"
	"codeberg.org/mutker/daqlog/internal/errors"
	"codeberg.org/mutker/daqlog/internal/sample"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var origin = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func at(i int, v float64) sample.Sample {
	return sample.New(origin.Add(time.Duration(i)*100*time.Millisecond), v)
}

func values(samples []sample.Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Value
	}
	return out
}

func TestRollingKeepsLastCapacitySamples(t *testing.T) {
	r, err := buffer.NewRolling(3)
	require.NoError(t, err)

	for i, v := range []float64{1, 2, 3, 4, 5} {
		r.Push(at(i, v))
	}

	assert.Equal(t, []float64{3, 4, 5}, values(r.Snapshot()))
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, uint64(2), r.Evicted())
}

func TestRollingNeverExceedsCapacity(t *testing.T) {
	for _, capacity := range []int{1, 2, 7, 100} {
		r, err := buffer.NewRolling(capacity)
		require.NoError(t, err)

		for k := 0; k < capacity+13; k++ {
			r.Push(at(k, float64(k)))
			require.LessOrEqual(t, r.Len(), capacity)
		}

		snap := values(r.Snapshot())
		require.Len(t, snap, capacity)
		for i, v := range snap {
			assert.Equal(t, float64(13+i), v, "capacity %d index %d", capacity, i)
		}
	}
}

func TestRollingPartiallyFilled(t *testing.T) {
	r, err := buffer.NewRolling(5)
	require.NoError(t, err)

	assert.Empty(t, r.Snapshot())
	r.Push(at(0, 1))
	r.Push(at(1, 2))
	assert.Equal(t, []float64{1, 2}, values(r.Snapshot()))
	assert.Equal(t, 5, r.Cap())
}

func TestRollingPointsAreRelativeToOrigin(t *testing.T) {
	r, err := buffer.NewRolling(2)
	require.NoError(t, err)

	r.Push(at(0, 1))
	r.Push(at(1, 2))
	r.Push(at(2, 3))

	points := r.Points(origin)
	require.Len(t, points, 2)
	assert.InDelta(t, 0.1, points[0].RelTime, 1e-9)
	assert.InDelta(t, 0.2, points[1].RelTime, 1e-9)
	assert.Equal(t, 3.0, points[1].Value)
}

func TestRollingRejectsZeroCapacity(t *testing.T) {
	_, err := buffer.NewRolling(0)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, buffer.ErrInvalidCapacity))
}

func TestRollingSnapshotWhilePushing(t *testing.T) {
	r, err := buffer.NewRolling(16)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5000; i++ {
			r.Push(at(i, float64(i)))
		}
	}()

	for {
		snap := values(r.Snapshot())
		for i := 1; i < len(snap); i++ {
			require.Equal(t, snap[i-1]+1, snap[i], "snapshot must be contiguous and ordered")
		}
		select {
		case <-done:
			return
		default:
		}
	}
}

func TestRecorderDrainReturnsAppendOrder(t *testing.T) {
	rec := buffer.NewRecorder(4)
	for i := 0; i < 10; i++ {
		require.NoError(t, rec.Append(at(i, float64(i))))
	}
	assert.Equal(t, 10, rec.Len())

	got, err := rec.Drain()
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, values(got))
	assert.Equal(t, 0, rec.Len())
}

func TestRecorderAppendAfterDrainFails(t *testing.T) {
	rec := buffer.NewRecorder(0)
	require.NoError(t, rec.Append(at(0, 1)))

	_, err := rec.Drain()
	require.NoError(t, err)

	err = rec.Append(at(1, 2))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, buffer.ErrRecorderClosed))

	_, err = rec.Drain()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, buffer.ErrRecorderDrained))
}

func TestRecorderConcurrentDrainHandsOverOnce(t *testing.T) {
	rec := buffer.NewRecorder(0)
	for i := 0; i < 100; i++ {
		require.NoError(t, rec.Append(at(i, float64(i))))
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		handed  [][]sample.Sample
		refused int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := rec.Drain()
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				refused++
				return
			}
			handed = append(handed, got)
		}()
	}
	wg.Wait()

	require.Len(t, handed, 1)
	assert.Equal(t, 7, refused)
	assert.Len(t, handed[0], 100)
}
