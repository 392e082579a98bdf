package store

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/daqlog/internal/errors"
	"codeberg.org/mutker/daqlog/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version    INTEGER PRIMARY KEY,
	       applied_at TEXT    NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS runs (
	       run_id       TEXT PRIMARY KEY,
	       started_at   TEXT NOT NULL,
	       saved_at     TEXT NOT NULL,
	       sample_count INTEGER NOT NULL CHECK (sample_count >= 0)
	   );
	   CREATE TABLE IF NOT EXISTS samples (
	       run_id     TEXT    NOT NULL REFERENCES runs(run_id),
	       seq        INTEGER NOT NULL,
	       timestamp  TEXT    NOT NULL,
	       unix_nano  INTEGER NOT NULL,
	       value      REAL    NOT NULL,
	       PRIMARY KEY (run_id, seq)
	   );`

	recordVersionSQL = `INSERT INTO schema_versions (version, applied_at) VALUES (?, ?)`

	insertRunSQL = `
    INSERT INTO runs (run_id, started_at, saved_at, sample_count)
    VALUES (?, ?, ?, ?)`

	insertSampleSQL = `
    INSERT INTO samples (run_id, seq, timestamp, unix_nano, value)
    VALUES (?, ?, ?, ?, ?)`
)

var dropOrder = []string{"samples", "runs", "schema_versions"}

// initSchema creates the tables and records the current version.
func initSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback schema init")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	if _, err := tx.Exec(recordVersionSQL, SchemaVersion, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, fmt.Errorf("record version %d: %w", SchemaVersion, err))
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Debug().Int("version", SchemaVersion).Msg("Schema initialized")
	return nil
}

// schemaVersion returns the recorded version, 0 for an empty database.
func schemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	var tables int
	if err := db.QueryRow(
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_versions'`,
	).Scan(&tables); err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if tables == 0 {
		return 0, nil
	}

	var version int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_versions`).Scan(&version); err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}

	return version, nil
}

// ensureSchema brings db to SchemaVersion. A database written by another
// version is copied aside with VACUUM INTO before its tables are recreated.
func ensureSchema(db *sql.DB, path string, log logger.Logger) error {
	errFactory := errors.New()

	version, err := schemaVersion(db)
	if err != nil {
		return err
	}
	if version == SchemaVersion {
		return nil
	}

	if version != 0 {
		backup := backupPath(path, version, time.Now())
		if _, err := db.Exec("VACUUM INTO ?", backup); err != nil {
			return errFactory.Wrap(ErrSchemaMigrationFailed, err).WithData(backup)
		}
		log.Info().Str("path", backup).Int("version", version).Msg("Database backup created")

		if err := dropTables(db); err != nil {
			return err
		}
	}

	return initSchema(db, log)
}

func backupPath(path string, version int, now time.Time) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return filepath.Join(filepath.Dir(path),
		fmt.Sprintf("%s_v%d_%s.db.bak", base, version, now.UTC().Format("20060102T150405Z")))
}

func dropTables(db *sql.DB) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaMigrationFailed, err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, table := range dropOrder {
		if _, err := tx.Exec("DROP TABLE IF EXISTS " + table); err != nil {
			return errFactory.Wrap(ErrSchemaMigrationFailed, err).WithData(table)
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaMigrationFailed, err)
	}
	return nil
}
