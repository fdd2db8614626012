package zgraph

import (
	"context"
	"database/sql"
	"time"
)

// query runs a select and reads every row. Values are the driver's; []byte
// is copied since drivers may reuse the buffer.
func (c *Client) query(ctx context.Context, conn Conn, query string, args []any) ([][]any, error) {
	start := time.Now()
	rows, release, err := c.queryRows(ctx, conn, query, args)
	if err != nil {
		c.logger.DebugContext(ctx, "execute sql", "sql", query, "args", args, "elapsed", time.Since(start), "error", err)
		return nil, WrapQueryError("query", query, args, err)
	}
	defer release()
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, WrapQueryError("query", query, args, err)
	}
	var out [][]any
	for rows.Next() {
		vals := make([]any, len(cols))
		dest := make([]any, len(cols))
		for i := range vals {
			dest[i] = &vals[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, WrapQueryError("query", query, args, err)
		}
		for i, v := range vals {
			vals[i] = plainScan(v)
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapQueryError("query", query, args, err)
	}
	c.logger.DebugContext(ctx, "execute sql", "sql", query, "args", args, "rows", len(out), "elapsed", time.Since(start))
	return out, nil
}

func (c *Client) queryRows(ctx context.Context, conn Conn, query string, args []any) (*sql.Rows, func(), error) {
	if db, ok := conn.(*sql.DB); ok && c.stmtCache != nil {
		stmt, release, err := c.stmtCache.Prepare(ctx, db, query)
		if err != nil {
			return nil, nil, err
		}
		rows, err := stmt.QueryContext(ctx, args...)
		if err != nil {
			release()
			return nil, nil, err
		}
		return rows, release, nil
	}
	rows, err := conn.QueryContext(ctx, query, args...)
	return rows, func() {}, err
}

// exec runs a statement and returns the number of affected rows, -1 when
// the driver cannot tell.
func (c *Client) exec(ctx context.Context, conn Conn, query string, args []any) (int64, error) {
	start := time.Now()
	var (
		res sql.Result
		err error
	)
	if db, ok := conn.(*sql.DB); ok && c.stmtCache != nil {
		var stmt *sql.Stmt
		var release func()
		stmt, release, err = c.stmtCache.Prepare(ctx, db, query)
		if err == nil {
			res, err = stmt.ExecContext(ctx, args...)
			release()
		}
	} else {
		res, err = conn.ExecContext(ctx, query, args...)
	}
	if err != nil {
		c.logger.DebugContext(ctx, "execute sql", "sql", query, "args", args, "elapsed", time.Since(start), "error", err)
		return 0, WrapQueryError("exec", query, args, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		n = -1
	}
	c.logger.DebugContext(ctx, "execute sql", "sql", query, "args", args, "affected", n, "elapsed", time.Since(start))
	return n, nil
}

func plainScan(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
