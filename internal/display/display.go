// Package display renders the rolling buffer once per tick. Renderers must
// not block the acquisition loop.
package display

import (
	"codeberg.org/mutker/daqlog/internal/logger"
	"codeberg.org/mutker/daqlog/internal/sample"
	"github.com/hashicorp/go-multierror"
)

// Renderer receives the display buffer after every successful sample,
// oldest point first. The slice is owned by the renderer.
type Renderer interface {
	Render(points []sample.Point)
	Close() error
}

type Config struct {
	// Log writes the newest point to the debug log.
	Log bool `mapstructure:"log"`
	// Endpoint, when set, is a ZeroMQ address frames are published on.
	Endpoint string `mapstructure:"endpoint"`
}

func DefaultConfig() Config {
	return Config{
		Log:      true,
		Endpoint: "",
	}
}

// New builds the renderers cfg enables.
func New(cfg Config, runID string) (Renderer, error) {
	var rs []Renderer

	if cfg.Log {
		rs = append(rs, NewLog())
	}
	if cfg.Endpoint != "" {
		pub, err := NewPublisher(cfg.Endpoint, runID)
		if err != nil {
			return nil, err
		}
		rs = append(rs, pub)
	}

	switch len(rs) {
	case 0:
		return Nop, nil
	case 1:
		return rs[0], nil
	default:
		return Multi(rs...), nil
	}
}

type nop struct{}

func (nop) Render([]sample.Point) {}
func (nop) Close() error          { return nil }

// Nop discards everything.
var Nop Renderer = nop{}

type multi []Renderer

// Multi renders to each of rs in order.
func Multi(rs ...Renderer) Renderer {
	return multi(rs)
}

func (m multi) Render(points []sample.Point) {
	for _, r := range m {
		r.Render(points)
	}
}

func (m multi) Close() error {
	var result *multierror.Error
	for _, r := range m {
		if err := r.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

type logRenderer struct {
	log logger.Logger
}

// NewLog logs the newest point and the buffer depth at debug level.
func NewLog() Renderer {
	return &logRenderer{log: logger.WithComponent("display")}
}

func (r *logRenderer) Render(points []sample.Point) {
	if len(points) == 0 {
		return
	}
	last := points[len(points)-1]
	r.log.Debug().
		Float64("t", last.RelTime).
		Float64("value", last.Value).
		Int("points", len(points)).
		Msg("Sample")
}

func (*logRenderer) Close() error { return nil }
