package metrics

import (
	"net"

	"codeberg.org/mutker/daqlog/internal/errors"
)

const (
	defaultPath = "/metrics"
	namespace   = "daqlog"
)

type Config struct {
	// Listen is the address the /metrics endpoint binds to. Empty disables
	// collection entirely.
	Listen string `mapstructure:"listen"`
}

func DefaultConfig() Config {
	return Config{
		Listen: "", // Disabled by default
	}
}

// Enabled reports whether metrics are collected and served.
func (c Config) Enabled() bool {
	return c.Listen != ""
}

func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return errors.New().Wrap(ErrInvalidListen, err).WithData(c.Listen)
	}
	return nil
}
