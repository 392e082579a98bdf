package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"codeberg.org/mutker/daqlog/internal/errors"
	"codeberg.org/mutker/daqlog/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

var runStates = []string{"idle", "running", "stopping", "terminated"}

type service struct {
	cfg      Config
	registry *prometheus.Registry

	ticks     prometheus.Counter
	failures  prometheus.Counter
	overruns  prometheus.Counter
	lastValue prometheus.Gauge
	duration  prometheus.Histogram
	state     *prometheus.GaugeVec
}

// No-op implementation
type noopCollector struct{}

// NewNop returns a Collector that records nothing and serves nothing.
func NewNop() Collector { return &noopCollector{} }

// New returns a prometheus-backed Collector, or a no-op one when cfg
// disables metrics.
func New(cfg Config) (Collector, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled() {
		logger.Debug().Msg("Metrics collection disabled, using no-op collector")
		return NewNop(), nil
	}

	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	s := &service{
		cfg:      cfg,
		registry: reg,
		ticks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Number of scheduler ticks that attempted a read",
		}),
		failures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sample_errors_total",
			Help:      "Number of reads that failed and were skipped",
		}),
		overruns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overruns_total",
			Help:      "Number of schedule slots skipped because a tick ran late",
		}),
		lastValue: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_value",
			Help:      "Most recent successful reading",
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sample_duration_seconds",
			Help:      "Time spent in a single read",
			Buckets:   []float64{0.0005, 0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1},
		}),
		state: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_state",
			Help:      "1 for the current run state, 0 otherwise",
		}, []string{"state"}),
	}

	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, errFactory.Wrap(ErrRegisterFailed, err)
	}

	s.SetState("idle")

	logger.Debug().Str("listen", cfg.Listen).Msg("Metrics service initialized")

	return s, nil
}

func (s *service) ObserveSample(d time.Duration, value float64) {
	s.ticks.Inc()
	s.duration.Observe(d.Seconds())
	s.lastValue.Set(value)
}

func (s *service) ObserveError(d time.Duration) {
	s.ticks.Inc()
	s.failures.Inc()
	s.duration.Observe(d.Seconds())
}

func (s *service) ObserveOverruns(n int) {
	if n > 0 {
		s.overruns.Add(float64(n))
	}
}

func (s *service) SetState(state string) {
	for _, name := range runStates {
		v := 0.0
		if name == state {
			v = 1
		}
		s.state.WithLabelValues(name).Set(v)
	}
}

// Serve runs the /metrics endpoint until ctx is done.
func (s *service) Serve(ctx context.Context) error {
	errFactory := errors.New()

	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return errFactory.Wrap(ErrServeFailed, err).WithData(s.cfg.Listen)
	}

	mux := http.NewServeMux()
	mux.Handle(defaultPath, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	logger.Info().Str("address", ln.Addr().String()).Msg("Serving metrics")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errFactory.Wrap(ErrServeFailed, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errFactory.Wrap(ErrServiceShutdown, err)
	}
	return nil
}

// Registry returns the registry backing the /metrics endpoint.
func (s *service) Registry() *prometheus.Registry {
	return s.registry
}

// No-op implementation
func (*noopCollector) ObserveSample(time.Duration, float64) {}
func (*noopCollector) ObserveError(time.Duration)           {}
func (*noopCollector) ObserveOverruns(int)                  {}
func (*noopCollector) SetState(string)                      {}

func (*noopCollector) Serve(ctx context.Context) error {
	<-ctx.Done()
	return nil
}
