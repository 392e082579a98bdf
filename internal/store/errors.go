package store

import "codeberg.org/mutker/daqlog/internal/errors"

const (
	// Configuration Errors
	ErrUnknownFormat = errors.ErrorCode("store_unknown_format")

	// Write Errors
	ErrPersistFailed = errors.ErrPersistFailed
	ErrCreateFile    = errors.ErrorCode("store_create_file_failed")
	ErrWriteFailed   = errors.ErrorCode("store_write_failed")

	// Database Errors
	ErrStorageInit            = errors.ErrorCode("store_init_failed")
	ErrSchemaInitFailed       = errors.ErrorCode("store_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("store_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("store_schema_migration_failed")
	ErrTransactionFailed      = errors.ErrorCode("store_transaction_failed")
	ErrStorageClose           = errors.ErrorCode("store_close_failed")
)
