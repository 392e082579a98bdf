// Package store writes a finished run to disk. A Persister is handed the full
// run once, at finalize, and reports failure without retrying.
package store

import (
	"fmt"
	"path/filepath"
	"time"

	"codeberg.org/mutker/daqlog/internal/errors"
	"codeberg.org/mutker/daqlog/internal/sample"
)

const (
	FormatCSV    = "csv"
	FormatSQLite = "sqlite"
	FormatNPY    = "npy"

	DefaultPrefix = "run"

	filenameLayout = "2006-01-02_15-04-05"
	defaultDirPerm = 0o755
)

// Persister stores a complete run record.
type Persister interface {
	Save(samples []sample.Sample) error
	// Path names where Save writes.
	Path() string
}

type Config struct {
	Dir    string `mapstructure:"dir"`
	Format string `mapstructure:"format"`
	Prefix string `mapstructure:"prefix"`
}

func DefaultConfig() Config {
	return Config{
		Dir:    ".",
		Format: FormatCSV,
		Prefix: DefaultPrefix,
	}
}

func (c Config) Validate() error {
	switch c.Format {
	case FormatCSV, FormatSQLite, FormatNPY:
	default:
		return errors.New().WithData(ErrUnknownFormat, c.Format)
	}
	return nil
}

// New returns the persister for cfg.Format. File formats get one file per run
// named after the start time; sqlite keeps every run in one database.
func New(cfg Config, runID string, started time.Time) (Persister, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}

	switch cfg.Format {
	case FormatSQLite:
		return NewSQLite(filepath.Join(cfg.Dir, prefix+".db"), runID, started), nil
	case FormatNPY:
		return NewNPY(filepath.Join(cfg.Dir, Filename(prefix, started, "npy"))), nil
	default:
		return NewCSV(filepath.Join(cfg.Dir, Filename(prefix, started, "csv"))), nil
	}
}

// Filename builds <prefix>_<YYYY-mm-dd_HH-MM-SS>.<ext>.
func Filename(prefix string, started time.Time, ext string) string {
	return fmt.Sprintf("%s_%s.%s", prefix, started.Format(filenameLayout), ext)
}
