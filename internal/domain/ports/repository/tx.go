package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

// NoTX marks a call that should run outside any transaction.
var NoTX Tx

// TransactionManager provides a thin abstraction to execute a function within
// a database transaction, passing the underlying transaction handle via `tx`.
//
// The activation success path relies on this being the ONLY concurrency
// control in the core: every write of the (intent, subscription, business,
// owner) group happens inside one WithTx callback and commits atomically.
//
// Repositories MUST gracefully accept a nil tx (non-transactional path);
// the concrete type of the handle is infra-defined (pgx.Tx for Postgres).
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
