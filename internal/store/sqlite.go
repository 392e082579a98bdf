package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"codeberg.org/mutker/daqlog/internal/errors"
	"codeberg.org/mutker/daqlog/internal/logger"
	"codeberg.org/mutker/daqlog/internal/sample"
	_ "github.com/mattn/go-sqlite3"
)

type sqlitePersister struct {
	path    string
	runID   string
	started time.Time
	logger  logger.Logger
}

// NewSQLite appends the run to the database at path, creating it if needed.
// Runs are keyed by runID.
func NewSQLite(path, runID string, started time.Time) Persister {
	return &sqlitePersister{
		path:    path,
		runID:   runID,
		started: started,
		logger:  logger.WithComponent("store"),
	}
}

func (p *sqlitePersister) Path() string { return p.path }

func (p *sqlitePersister) Save(samples []sample.Sample) error {
	errFactory := errors.New()

	if err := os.MkdirAll(filepath.Dir(p.path), defaultDirPerm); err != nil {
		return errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  p.path,
			Error: err.Error(),
		})
	}

	dsn := p.path + "?_journal=WAL&_auto_vacuum=2&_foreign_keys=1"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return errFactory.Wrap(ErrStorageInit, err)
	}

	if err := ensureSchema(db, p.path, p.logger); err != nil {
		db.Close()
		return errFactory.Wrap(ErrStorageInit, err)
	}

	if err := p.insert(db, samples); err != nil {
		db.Close()
		return err
	}

	if _, err := db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		p.logger.Warn().Err(err).Msg("WAL checkpoint failed")
	}

	if err := db.Close(); err != nil {
		return errFactory.Wrap(ErrStorageClose, err)
	}

	p.logger.Debug().
		Str("path", p.path).
		Str("run_id", p.runID).
		Int("samples", len(samples)).
		Msg("Run stored")

	return nil
}

// insert writes the run row and its samples in one transaction.
func (p *sqlitePersister) insert(db *sql.DB, samples []sample.Sample) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				p.logger.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.Exec(insertRunSQL,
		p.runID,
		p.started.Format(time.RFC3339Nano),
		time.Now().Format(time.RFC3339Nano),
		len(samples),
	); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err).WithData(p.runID)
	}

	stmt, err := tx.Prepare(insertSampleSQL)
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for i, s := range samples {
		r := s.ToRecord()
		if _, err := stmt.Exec(p.runID, i, r.Timestamp, s.Wallclock.UnixNano(), r.Value); err != nil {
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	committed = true

	return nil
}
