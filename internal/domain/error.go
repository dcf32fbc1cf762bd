package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOperationFailed    = errors.New("operation failed")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Reconciliation errors
	ErrConflictingResolution = errors.New("payment intent already resolved with a different outcome")
	ErrNoGatewayCredentials  = errors.New("no gateway credentials configured for business")
	ErrLockNotAcquired       = errors.New("could not acquire lock")
)
