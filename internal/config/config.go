package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/daqlog/internal/display"
	"codeberg.org/mutker/daqlog/internal/errors"
	"codeberg.org/mutker/daqlog/internal/metrics"
	"codeberg.org/mutker/daqlog/internal/source"
	"codeberg.org/mutker/daqlog/internal/store"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultFrequency      = 10.0
	DefaultBufferCapacity = 100
	DefaultLogLevel       = "info"
	DefaultEnvPrefix      = "DAQLOG"

	configName = "daqlog"
	configEnv  = "DAQLOG_CONFIG"
)

type Config struct {
	// Frequency is the target sampling rate in Hz.
	Frequency float64 `mapstructure:"frequency"`
	// Duration bounds the run; zero means run until stopped.
	Duration       time.Duration `mapstructure:"duration"`
	BufferCapacity int           `mapstructure:"buffer_capacity"`
	// Input enables the "press Enter to stop" listener on stdin.
	Input    bool   `mapstructure:"input"`
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
	PIDFile  bool   `mapstructure:"pid_file"`

	Source  source.Config  `mapstructure:"source"`
	Output  store.Config   `mapstructure:"output"`
	Display display.Config `mapstructure:"display"`
	Metrics metrics.Config `mapstructure:"metrics"`
}

// flagKeys maps command line flag names onto configuration keys.
var flagKeys = map[string]string{
	"frequency":      "frequency",
	"duration":       "duration",
	"buffer":         "buffer_capacity",
	"input":          "input",
	"log-level":      "log_level",
	"log-file":       "log_file",
	"source":         "source.kind",
	"address":        "source.address",
	"format":         "output.format",
	"output-dir":     "output.dir",
	"prefix":         "output.prefix",
	"publish":        "display.endpoint",
	"metrics-listen": "metrics.listen",
}

// RegisterFlags adds the run flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to configuration file")
	fs.Float64P("frequency", "f", DefaultFrequency, "Sampling frequency in Hz")
	fs.DurationP("duration", "d", 0, "Maximum run duration (0 runs until stopped)")
	fs.Int("buffer", DefaultBufferCapacity, "Number of points kept for live display")
	fs.Bool("input", true, "Stop the run when Enter is pressed")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.String("log-file", "", "Also write JSON logs to this rotated file")
	fs.String("source", source.KindSim, "Sample source kind (sim, scpi, nvml)")
	fs.String("address", "", "Sample source address")
	fs.String("format", store.FormatCSV, "Output format (csv, sqlite, npy)")
	fs.String("output-dir", ".", "Directory for run files")
	fs.String("prefix", store.DefaultPrefix, "Run file name prefix")
	fs.String("publish", "", "ZeroMQ endpoint for live display frames, e.g. tcp://*:5556")
	fs.String("metrics-listen", "", "Serve Prometheus metrics on this address")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("frequency", DefaultFrequency)
	v.SetDefault("duration", time.Duration(0))
	v.SetDefault("buffer_capacity", DefaultBufferCapacity)
	v.SetDefault("input", true)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("log_file", "")
	v.SetDefault("pid_file", true)

	sd := source.DefaultConfig()
	v.SetDefault("source.kind", sd.Kind)
	v.SetDefault("source.address", sd.Address)
	v.SetDefault("source.timeout", sd.Timeout)
	v.SetDefault("source.waveform", sd.Waveform)
	v.SetDefault("source.amplitude", sd.Amplitude)
	v.SetDefault("source.offset", sd.Offset)
	v.SetDefault("source.signal_hz", sd.SignalHz)
	v.SetDefault("source.noise", sd.Noise)
	v.SetDefault("source.fail_every", sd.FailEvery)
	v.SetDefault("source.latency", sd.Latency)
	v.SetDefault("source.seed", sd.Seed)
	v.SetDefault("source.function", sd.Function)
	v.SetDefault("source.range", sd.Range)
	v.SetDefault("source.resolution", sd.Resolution)
	v.SetDefault("source.nplc", sd.NPLC)
	v.SetDefault("source.autozero", sd.AutoZero)
	v.SetDefault("source.display", sd.Display)
	v.SetDefault("source.metric", sd.Metric)

	od := store.DefaultConfig()
	v.SetDefault("output.dir", od.Dir)
	v.SetDefault("output.format", od.Format)
	v.SetDefault("output.prefix", od.Prefix)

	dd := display.DefaultConfig()
	v.SetDefault("display.log", dd.Log)
	v.SetDefault("display.endpoint", dd.Endpoint)

	md := metrics.DefaultConfig()
	v.SetDefault("metrics.listen", md.Listen)
}

// Load reads configuration from defaults, the config file, DAQLOG_* environment
// variables and fs, in increasing order of precedence. fs may be nil.
func Load(fs *pflag.FlagSet, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{
		envPrefix:  DefaultEnvPrefix,
		searchDirs: defaultSearchDirs(),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidArgument, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if f := fs.Lookup("config"); f != nil && f.Changed {
			o.configPath = f.Value.String()
		}
		for name, key := range flagKeys {
			f := fs.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, errFactory.Wrap(errors.ErrBindFlags, err)
			}
		}
	}

	if o.configPath == "" {
		o.configPath = os.Getenv(configEnv)
	}

	if err := readConfigFile(v, o); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func readConfigFile(v *viper.Viper, o *options) error {
	errFactory := errors.New()

	if o.configPath != "" {
		v.SetConfigFile(o.configPath)
		if err := v.ReadInConfig(); err != nil {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
		return nil
	}

	v.SetConfigName(configName)
	for _, dir := range o.searchDirs {
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	return nil
}

func defaultSearchDirs() []string {
	dirs := []string{filepath.FromSlash("/etc/daqlog")}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", "daqlog"))
	}
	return append(dirs, ".")
}

// Period returns the sampling period derived from Frequency.
func (c *Config) Period() time.Duration {
	return time.Duration(float64(time.Second) / c.Frequency)
}

// Validate checks ranges that the acquisition loop depends on.
func (c *Config) Validate() error {
	errFactory := errors.New()

	invalid := func(code errors.ErrorCode, field string, value interface{}, reason string) error {
		return errFactory.Wrap(code, &validationError{field: field, value: value, reason: reason})
	}

	if c.Frequency <= 0 || math.IsNaN(c.Frequency) || math.IsInf(c.Frequency, 0) {
		return invalid(errors.ErrInvalidFrequency, "frequency", c.Frequency, "must be a positive number of Hz")
	}
	if c.Period() <= 0 {
		return invalid(errors.ErrInvalidFrequency, "frequency", c.Frequency, "period rounds to zero")
	}
	if c.Duration < 0 {
		return invalid(errors.ErrInvalidConfig, "duration", c.Duration, "must not be negative")
	}
	if c.BufferCapacity < 1 {
		return invalid(errors.ErrInvalidConfig, "buffer_capacity", c.BufferCapacity, "must be at least 1")
	}
	if !LogLevel(c.LogLevel).IsValid() && c.LogLevel != "warn" {
		return invalid(errors.ErrInvalidLogLevel, "log_level", c.LogLevel, "must be debug, info, warning or error")
	}
	if err := c.Output.Validate(); err != nil {
		return err
	}
	if err := c.Source.Validate(); err != nil {
		return err
	}

	return nil
}
