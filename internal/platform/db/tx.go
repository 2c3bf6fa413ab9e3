package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// DBTxKey holds the active transaction, if any.
const DBTxKey contextKey = "db_tx"

// TxFromContext returns the transaction started by WithTx, or nil.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// WithTx begins a transaction on the tenant connection in ctx and returns a
// context carrying it. Stores resolve the transaction before the connection,
// so every store call made with the returned context joins it. The caller
// commits or rolls back.
func WithTx(ctx context.Context) (context.Context, pgx.Tx, error) {
	conn := ConnFromContext(ctx)
	if conn == nil {
		return ctx, nil, errors.New("no database connection in context")
	}
	tx, err := conn.Begin(ctx)
	if err != nil {
		return ctx, nil, err
	}
	return context.WithValue(ctx, DBTxKey, tx), tx, nil
}
