package buffer

import (
	"sync"

	"codeberg.org/mutker/daqlog/internal/errors"
	"codeberg.org/mutker/daqlog/internal/sample"
)

// Recorder is the append-only, full-resolution record of a run. It is
// drained exactly once by the finalize path and is closed afterwards.
type Recorder struct {
	mu      sync.Mutex
	samples []sample.Sample
	drained bool
}

// NewRecorder returns an empty recorder. sizeHint preallocates room for the
// expected number of samples and may be zero.
func NewRecorder(sizeHint int) *Recorder {
	if sizeHint < 0 {
		sizeHint = 0
	}
	return &Recorder{samples: make([]sample.Sample, 0, sizeHint)}
}

// Append adds s to the record. Appending after Drain is a programming error
// and returns ErrRecorderClosed instead of dropping the sample silently.
func (r *Recorder) Append(s sample.Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.drained {
		return errors.New().WithData(ErrRecorderClosed, s.Value)
	}
	r.samples = append(r.samples, s)
	return nil
}

// Drain hands over every appended sample in append order and closes the
// recorder.
func (r *Recorder) Drain() ([]sample.Sample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.drained {
		return nil, errors.New().New(ErrRecorderDrained)
	}
	r.drained = true
	out := r.samples
	r.samples = nil
	return out, nil
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}
