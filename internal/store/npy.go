package store

import (
	"os"
	"path/filepath"

	"codeberg.org/mutker/daqlog/internal/errors"
	"codeberg.org/mutker/daqlog/internal/logger"
	"codeberg.org/mutker/daqlog/internal/sample"
	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

type npyPersister struct {
	path string
}

// NewNPY writes the run as an N×2 float64 array: unix seconds, value.
func NewNPY(path string) Persister {
	return &npyPersister{path: path}
}

func (p *npyPersister) Path() string { return p.path }

func (p *npyPersister) Save(samples []sample.Sample) error {
	errFactory := errors.New()

	if err := os.MkdirAll(filepath.Dir(p.path), defaultDirPerm); err != nil {
		return errFactory.Wrap(ErrCreateFile, err).WithData(p.path)
	}

	f, err := os.Create(p.path)
	if err != nil {
		return errFactory.Wrap(ErrCreateFile, err).WithData(p.path)
	}

	writeErr := npyio.Write(f, toMatrix(samples))
	closeErr := f.Close()
	if writeErr != nil {
		return errFactory.Wrap(ErrWriteFailed, writeErr).WithData(p.path)
	}
	if closeErr != nil {
		return errFactory.Wrap(ErrWriteFailed, closeErr).WithData(p.path)
	}

	logger.Debug().Str("path", p.path).Int("rows", len(samples)).Msg("NPY written")
	return nil
}

// toMatrix lays samples out row by row. mat.NewDense rejects zero rows, so an
// empty run is written as an empty vector.
func toMatrix(samples []sample.Sample) any {
	if len(samples) == 0 {
		return []float64{}
	}

	data := make([]float64, 0, 2*len(samples))
	for _, s := range samples {
		data = append(data, float64(s.Wallclock.UnixNano())/1e9, s.Value)
	}
	return mat.NewDense(len(samples), 2, data)
}
