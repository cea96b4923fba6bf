package db

import (
	"context"

	"github.com/jackc/pgx/v5"
)

type ctxKey string

const txKey ctxKey = "pgx_tx"

// WithTx stores a transaction on the context so repositories participating in
// a multi-table operation (e.g. invite redemption) share it.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey, tx)
}

// TxFromContext returns the transaction stored on the context, or nil.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey).(pgx.Tx)
	return tx
}
