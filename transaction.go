package zgraph

import (
	"context"
	"database/sql"
	"errors"
)

// Tx is a running transaction. It is a ConnectionProvider whose calls all
// run inside the transaction.
type Tx struct {
	tx *sql.Tx
}

// Conn returns the transaction as a Conn.
func (t *Tx) Conn() Conn { return t.tx }

func (t *Tx) RunWithConnection(ctx context.Context, fn func(context.Context, Conn) error) error {
	return fn(ctx, t.tx)
}

// Transaction runs fn inside a transaction on db. The transaction commits
// when fn returns nil and rolls back on error or panic.
func Transaction(ctx context.Context, db *sql.DB, fn func(tx *Tx) error) (err error) {
	if db == nil {
		return sql.ErrConnDone
	}
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return sqlTx.Commit()
}
