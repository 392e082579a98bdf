package metrics

import (
	"context"
	"time"
)

// Collector receives acquisition events from the scheduler.
type Collector interface {
	// ObserveSample records a successful read that took d.
	ObserveSample(d time.Duration, value float64)
	// ObserveError records a failed read that took d.
	ObserveError(d time.Duration)
	// ObserveOverruns records n schedule slots skipped because a tick ran late.
	ObserveOverruns(n int)
	// SetState publishes the run state name.
	SetState(state string)
	// Serve exposes the collected metrics until ctx is done.
	Serve(ctx context.Context) error
}
