package store

import (
	"bufio"
	"encoding/csv"
	"os"
	"path/filepath"

	"codeberg.org/mutker/daqlog/internal/errors"
	"codeberg.org/mutker/daqlog/internal/logger"
	"codeberg.org/mutker/daqlog/internal/sample"
)

var csvHeader = []string{"timestamp", "value"}

type csvPersister struct {
	path string
}

// NewCSV writes a header row and one "timestamp,value" row per sample.
func NewCSV(path string) Persister {
	return &csvPersister{path: path}
}

func (p *csvPersister) Path() string { return p.path }

func (p *csvPersister) Save(samples []sample.Sample) error {
	errFactory := errors.New()

	if err := os.MkdirAll(filepath.Dir(p.path), defaultDirPerm); err != nil {
		return errFactory.Wrap(ErrCreateFile, err).WithData(p.path)
	}

	f, err := os.Create(p.path)
	if err != nil {
		return errFactory.Wrap(ErrCreateFile, err).WithData(p.path)
	}

	bw := bufio.NewWriter(f)
	w := csv.NewWriter(bw)

	writeErr := func() error {
		if err := w.Write(csvHeader); err != nil {
			return err
		}
		for _, s := range samples {
			r := s.ToRecord()
			if err := w.Write([]string{r.Timestamp, sample.FormatValue(r.Value)}); err != nil {
				return err
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return err
		}
		return bw.Flush()
	}()

	closeErr := f.Close()
	if writeErr != nil {
		return errFactory.Wrap(ErrWriteFailed, writeErr).WithData(p.path)
	}
	if closeErr != nil {
		return errFactory.Wrap(ErrWriteFailed, closeErr).WithData(p.path)
	}

	logger.Debug().Str("path", p.path).Int("rows", len(samples)).Msg("CSV written")
	return nil
}
