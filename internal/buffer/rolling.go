package buffer

import (
	"sync"
	"time"

	"codeberg.org/mutker/daqlog/internal/errors"
	"codeberg.org/mutker/daqlog/internal/sample"
)

// Rolling is a fixed-capacity ring of samples for live display. When full,
// Push evicts the oldest sample.
type Rolling struct {
	mu    sync.Mutex
	ring  []sample.Sample
	head  int // index of the oldest sample
	count int
	drops uint64
}

// NewRolling returns an empty buffer holding at most capacity samples.
func NewRolling(capacity int) (*Rolling, error) {
	if capacity < 1 {
		return nil, errors.New().WithData(ErrInvalidCapacity, capacity)
	}
	return &Rolling{ring: make([]sample.Sample, capacity)}, nil
}

// Push appends s, evicting the oldest sample first when the buffer is full.
func (r *Rolling) Push(s sample.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == len(r.ring) {
		r.ring[r.head] = s
		r.head = (r.head + 1) % len(r.ring)
		r.drops++
		return
	}

	r.ring[(r.head+r.count)%len(r.ring)] = s
	r.count++
}

// Snapshot returns the held samples, oldest first. The returned slice is a
// copy and is never observed mid-eviction.
func (r *Rolling) Snapshot() []sample.Sample {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]sample.Sample, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.ring[(r.head+i)%len(r.ring)]
	}
	return out
}

// Points returns the snapshot as display points relative to origin.
func (r *Rolling) Points(origin time.Time) []sample.Point {
	snap := r.Snapshot()
	points := make([]sample.Point, len(snap))
	for i, s := range snap {
		points[i] = sample.Point{RelTime: s.Since(origin), Value: s.Value}
	}
	return points
}

func (r *Rolling) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func (r *Rolling) Cap() int {
	return len(r.ring)
}

// Evicted returns how many samples have been pushed out of the window.
func (r *Rolling) Evicted() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drops
}
