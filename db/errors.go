package db

import (
	"errors"
)

// Errors.
var (
	ErrTableNotFound               = errors.New("table not found")
	ErrTableAlreadyExists          = errors.New("table already exists")
	ErrRecordAlreadyExists         = errors.New("record already exists")
	ErrRecordNotFound              = errors.New("record not found")
	ErrOptimisticConcurrencyFailed = errors.New("record timestamp does not match")
	ErrTimestampFieldRequired      = errors.New("timestamp field is required")
	ErrTableNameValidation         = errors.New("table name must be 3-63 lower-case letters, digits and `-`, must not start or end with `-` and must not contain `--`")
	ErrNotInitialized              = errors.New("application not initialized")
	ErrTransactionNotFound         = errors.New("transaction not found")
	ErrShuttingDown                = errors.New("server is shutting down")
)
