package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/daqlog/internal/config"
	"codeberg.org/mutker/daqlog/internal/errors"
	"codeberg.org/mutker/daqlog/internal/source"
	"codeberg.org/mutker/daqlog/internal/store"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// isolated keeps Load away from config files on the host running the tests.
func isolated(t *testing.T) config.Option {
	t.Helper()
	t.Setenv("DAQLOG_CONFIG", "")
	return config.WithSearchDirs(t.TempDir())
}

func flags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("daqlog", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load(nil, isolated(t))
	require.NoError(t, err)

	assert.InDelta(t, config.DefaultFrequency, cfg.Frequency, 1e-9)
	assert.Equal(t, time.Duration(0), cfg.Duration)
	assert.Equal(t, config.DefaultBufferCapacity, cfg.BufferCapacity)
	assert.True(t, cfg.Input)
	assert.True(t, cfg.PIDFile)
	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, source.KindSim, cfg.Source.Kind)
	assert.Equal(t, store.FormatCSV, cfg.Output.Format)
	assert.Equal(t, store.DefaultPrefix, cfg.Output.Prefix)
	assert.True(t, cfg.Display.Log)
	assert.False(t, cfg.Metrics.Enabled())
	assert.Equal(t, 100*time.Millisecond, cfg.Period())
}

func TestLoadFromEnvConfigPath(t *testing.T) {
	path := writeConfig(t, "daqlog.toml", `
frequency = 25.0
duration = "30s"
log_level = "debug"

[source]
kind = "sim"
waveform = "ramp"
amplitude = 2.5

[output]
format = "sqlite"
dir = "/data/runs"
prefix = "PDMS_Test"

[metrics]
listen = ":9101"
`)
	t.Setenv("DAQLOG_CONFIG", path)

	cfg, err := config.Load(nil, config.WithSearchDirs(t.TempDir()))
	require.NoError(t, err)

	assert.InDelta(t, 25.0, cfg.Frequency, 1e-9)
	assert.Equal(t, 30*time.Second, cfg.Duration)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, source.WaveRamp, cfg.Source.Waveform)
	assert.InDelta(t, 2.5, cfg.Source.Amplitude, 1e-9)
	assert.Equal(t, store.FormatSQLite, cfg.Output.Format)
	assert.Equal(t, "/data/runs", cfg.Output.Dir)
	assert.Equal(t, "PDMS_Test", cfg.Output.Prefix)
	assert.Equal(t, ":9101", cfg.Metrics.Listen)
	assert.Equal(t, 40*time.Millisecond, cfg.Period())
}

func TestLoadSearchDirsYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "daqlog.yaml"), []byte("frequency: 2\nbuffer_capacity: 20\n"), 0o600))
	t.Setenv("DAQLOG_CONFIG", "")

	cfg, err := config.Load(nil, config.WithSearchDirs(dir))
	require.NoError(t, err)

	assert.InDelta(t, 2.0, cfg.Frequency, 1e-9)
	assert.Equal(t, 20, cfg.BufferCapacity)
	assert.Equal(t, 500*time.Millisecond, cfg.Period())
}

func TestPrecedence(t *testing.T) {
	path := writeConfig(t, "daqlog.toml", `
frequency = 25.0
buffer_capacity = 30
log_level = "warning"
`)
	opt := isolated(t)
	t.Setenv("DAQLOG_BUFFER_CAPACITY", "40")
	t.Setenv("DAQLOG_LOG_LEVEL", "error")
	t.Setenv("DAQLOG_SOURCE_WAVEFORM", "constant")

	fs := flags(t, "--config", path, "--frequency", "100", "--log-level", "debug", "--format", "npy")

	cfg, err := config.Load(fs, opt)
	require.NoError(t, err)

	assert.InDelta(t, 100.0, cfg.Frequency, 1e-9, "flag beats file")
	assert.Equal(t, 40, cfg.BufferCapacity, "env beats file")
	assert.Equal(t, "debug", cfg.LogLevel, "flag beats env")
	assert.Equal(t, source.WaveConstant, cfg.Source.Waveform)
	assert.Equal(t, store.FormatNPY, cfg.Output.Format)
	assert.Equal(t, 10*time.Millisecond, cfg.Period())
}

func TestUnchangedFlagsKeepFileValues(t *testing.T) {
	path := writeConfig(t, "daqlog.toml", "frequency = 25.0\n")
	opt := isolated(t)

	cfg, err := config.Load(flags(t, "--config", path), opt)
	require.NoError(t, err)

	assert.InDelta(t, 25.0, cfg.Frequency, 1e-9)
}

func TestInputFlag(t *testing.T) {
	opt := isolated(t)

	cfg, err := config.Load(flags(t, "--input=false"), opt)
	require.NoError(t, err)

	assert.False(t, cfg.Input)
}

func TestWithEnvPrefix(t *testing.T) {
	opt := isolated(t)
	t.Setenv("BENCH_FREQUENCY", "5")

	cfg, err := config.Load(nil, opt, config.WithEnvPrefix("BENCH"))
	require.NoError(t, err)

	assert.InDelta(t, 5.0, cfg.Frequency, 1e-9)
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	path := writeConfig(t, "daqlog.toml", "This is not a valid TOML file\n")

	_, err := config.Load(nil, config.WithConfigFile(path), config.WithSearchDirs(t.TempDir()))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := config.Load(nil, config.WithConfigFile(filepath.Join(t.TempDir(), "missing.toml")))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		code  errors.ErrorCode
		field string
	}{
		{"zero frequency", []string{"--frequency", "0"}, errors.ErrInvalidFrequency, "frequency"},
		{"negative frequency", []string{"--frequency", "-3"}, errors.ErrInvalidFrequency, "frequency"},
		{"negative duration", []string{"--duration", "-1s"}, errors.ErrInvalidConfig, "duration"},
		{"empty buffer", []string{"--buffer", "0"}, errors.ErrInvalidConfig, "buffer_capacity"},
		{"bad log level", []string{"--log-level", "verbose"}, errors.ErrInvalidLogLevel, "log_level"},
		{"unknown format", []string{"--format", "parquet"}, store.ErrUnknownFormat, ""},
		{"unknown source", []string{"--source", "labjack"}, source.ErrUnknownKind, ""},
		{"scpi without address", []string{"--source", "scpi"}, source.ErrInvalidConfig, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opt := isolated(t)

			_, err := config.Load(flags(t, tt.args...), opt)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, tt.code), "got %v", err)

			if tt.field != "" {
				var ve config.ValidationError
				require.True(t, errors.As(err, &ve))
				assert.Equal(t, tt.field, ve.Field())
				assert.NotEmpty(t, ve.Reason())
			}
		})
	}
}

func TestLogLevelIsValid(t *testing.T) {
	for _, l := range []config.LogLevel{config.LogLevelDebug, config.LogLevelInfo, config.LogLevelWarning, config.LogLevelError} {
		assert.True(t, l.IsValid(), l.String())
	}
	assert.False(t, config.LogLevel("trace").IsValid())
}
