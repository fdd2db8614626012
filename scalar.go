package zgraph

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Count returns the number of rows q selects. Limit and offset apply
// before counting.
//
//	n, err := zgraph.From(book).Where(book.Get("edition").Gt(1)).Count(ctx, client)
func (q Query) Count(ctx context.Context, c *Client) (int64, error) {
	q = q.resolved()
	if q.err != nil {
		return 0, q.err
	}
	// plain row counts only need the root id; distinct and grouped queries
	// count what they select
	if !q.distinct && len(q.groupBy) == 0 && q.root != nil {
		q = q.Select(q.root.ID())
	}
	text, args, err := Render(q, c.dialect)
	if err != nil {
		return 0, err
	}

	var rows [][]any
	err = c.reads.RunWithConnection(ctx, func(ctx context.Context, conn Conn) error {
		var err error
		rows, err = c.query(ctx, conn, "select count(*) from ("+text+") as tb_count_", args)
		return err
	})
	if err != nil {
		return 0, err
	}
	if len(rows) != 1 || len(rows[0]) != 1 {
		return 0, fmt.Errorf("zgraph: count returned %d rows", len(rows))
	}
	var n int64
	if err := mapstructure.WeakDecode(rows[0][0], &n); err != nil {
		return 0, fmt.Errorf("zgraph: reading count: %w", err)
	}
	return n, nil
}

// Exists reports whether q selects at least one row.
func (q Query) Exists(ctx context.Context, c *Client) (bool, error) {
	n, err := q.Limit(1).Count(ctx, c)
	return n > 0, err
}

// Pluck runs a query selecting exactly one value, a property path, column
// or literal, and returns the value of every row.
//
//	names, err := zgraph.From(book).Select(book.Get("name")).Distinct().Pluck(ctx, client)
func (q Query) Pluck(ctx context.Context, c *Client) ([]any, error) {
	q = q.resolved()
	if q.err != nil {
		return nil, q.err
	}
	if len(q.selections) != 1 {
		return nil, newConfigError("query", "", "", "Pluck needs exactly one selection")
	}
	switch q.selections[0].(type) {
	case *Table, *FetchSelection:
		return nil, newConfigError("query", "", "", "Pluck needs a value selection, use Objects for tables")
	}
	rows, err := q.Execute(ctx, c)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r[0]
	}
	return out, nil
}

// Scalars is Pluck decoding every value into T. Values are converted
// weakly, so an int64 column can be read as string and text digits as int.
// Null values leave the zero value of T.
func Scalars[T any](ctx context.Context, q Query, c *Client) ([]T, error) {
	vals, err := q.Pluck(ctx, c)
	if err != nil {
		return nil, err
	}
	out := make([]T, len(vals))
	for i, v := range vals {
		if v == nil {
			continue
		}
		if err := mapstructure.WeakDecode(v, &out[i]); err != nil {
			return nil, fmt.Errorf("zgraph: decoding value %d: %w", i, err)
		}
	}
	return out, nil
}
