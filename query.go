package zgraph

import (
	"context"
	"fmt"
	"slices"
)

// Selection is something a query can select: a table, a table shaped by a
// fetcher, or a value expression.
type Selection interface {
	selection()
}

func (*Table) selection()          {}
func (*FetchSelection) selection() {}
func (*Literal) selection()        {}
func (*PropertyPath) selection()   {}
func (*ColumnRef) selection()      {}

// FetchSelection selects a table and loads the object graph described by a
// fetcher for every returned object.
type FetchSelection struct {
	table   *Table
	fetcher *Fetcher
}

// state holds the clauses shared by root queries and sub-queries. Builder
// methods copy it; slices are clipped so appends never write into a
// backing array another value can see.
type state struct {
	root       *Table
	selections []Selection
	where      []Predicate
	groupBy    []Expression
	having     []Predicate
	orderBy    []Order
	distinct   bool
	limit      int
	offset     int
	err        error
}

func newState(t *Table) state {
	st := state{root: t}
	if t == nil {
		st.err = ErrNilPointer
	}
	return st
}

func (s state) fail(err error) state {
	if s.err == nil {
		s.err = err
	}
	return s
}

func (s state) withWhere(ps []Predicate) state {
	for _, p := range ps {
		if p != nil {
			s.where = append(slices.Clip(s.where), p)
		}
	}
	return s
}

func (s state) withGroupBy(values []any) state {
	for _, v := range values {
		s.groupBy = append(slices.Clip(s.groupBy), operand(v))
	}
	return s
}

func (s state) withHaving(ps []Predicate) state {
	for _, p := range ps {
		if p != nil {
			s.having = append(slices.Clip(s.having), p)
		}
	}
	return s
}

func (s state) withOrderBy(orders []Order) state {
	s.orderBy = append(slices.Clip(s.orderBy), orders...)
	return s
}

func (s state) withLimit(limit int) state {
	if limit < 0 {
		return s.fail(newConfigError("query", "", "", "limit cannot be negative"))
	}
	s.limit = limit
	return s
}

func (s state) withOffset(offset int) state {
	if offset < 0 {
		return s.fail(newConfigError("query", "", "", "offset cannot be negative"))
	}
	s.offset = offset
	return s
}

// Query is a top-level select. It is an immutable value: every method
// returns a new query and leaves the receiver unchanged.
type Query struct {
	state
}

// From starts a query over the root table t.
func From(t *Table) Query { return Query{newState(t)} }

// Err returns the first error recorded while building the query.
func (q Query) Err() error { return q.err }

// Where adds predicates, joined with and.
func (q Query) Where(ps ...Predicate) Query { return Query{q.withWhere(ps)} }

// GroupBy adds grouping expressions.
func (q Query) GroupBy(values ...any) Query { return Query{q.withGroupBy(values)} }

// Having adds predicates on groups.
func (q Query) Having(ps ...Predicate) Query { return Query{q.withHaving(ps)} }

// OrderBy adds order items.
func (q Query) OrderBy(orders ...Order) Query { return Query{q.withOrderBy(orders)} }

// Distinct selects distinct rows.
func (q Query) Distinct() Query {
	s := q.state
	s.distinct = true
	return Query{s}
}

// Limit bounds the number of rows.
func (q Query) Limit(n int) Query { return Query{q.withLimit(n)} }

// Offset skips rows.
func (q Query) Offset(n int) Query { return Query{q.withOffset(n)} }

// Select replaces the selection list. Without a selection the query
// selects its root table.
func (q Query) Select(sels ...Selection) Query {
	s := q.state
	s.selections = slices.Clone(sels)
	for _, sel := range sels {
		if sel == nil {
			return Query{s.fail(ErrNilPointer)}
		}
		if fs, ok := sel.(*FetchSelection); ok && fs.fetcher != nil && fs.fetcher.err != nil {
			return Query{s.fail(fs.fetcher.err)}
		}
	}
	return Query{s}
}

func (q Query) resolved() Query {
	if len(q.selections) == 0 && q.root != nil {
		s := q.state
		s.selections = []Selection{q.root}
		return Query{s}
	}
	return q
}

// SQL renders the query with dialect d.
func (q Query) SQL(d *Dialect) (string, []any, error) {
	return Render(q.resolved(), d)
}

// SubQuery is a select nested in an in or exists predicate. It may refer
// to tables of the enclosing queries; those references render the
// enclosing aliases.
type SubQuery struct {
	state
}

// SubFrom starts a sub-query over the root table t.
func SubFrom(t *Table) SubQuery { return SubQuery{newState(t)} }

// Where adds predicates, joined with and.
func (q SubQuery) Where(ps ...Predicate) SubQuery { return SubQuery{q.withWhere(ps)} }

// GroupBy adds grouping expressions.
func (q SubQuery) GroupBy(values ...any) SubQuery { return SubQuery{q.withGroupBy(values)} }

// Having adds predicates on groups.
func (q SubQuery) Having(ps ...Predicate) SubQuery { return SubQuery{q.withHaving(ps)} }

// OrderBy adds order items.
func (q SubQuery) OrderBy(orders ...Order) SubQuery { return SubQuery{q.withOrderBy(orders)} }

// Distinct selects distinct rows.
func (q SubQuery) Distinct() SubQuery {
	s := q.state
	s.distinct = true
	return SubQuery{s}
}

// Limit bounds the number of rows.
func (q SubQuery) Limit(n int) SubQuery { return SubQuery{q.withLimit(n)} }

// Select sets the selected values. Tables select their id.
func (q SubQuery) Select(values ...any) SubQuery {
	s := q.state
	s.selections = nil
	for _, v := range values {
		sel, ok := operand(v).(Selection)
		if !ok {
			return SubQuery{s.fail(newConfigError("query", "", "", fmt.Sprintf("%s cannot be selected by a sub-query", typeName(v))))}
		}
		s.selections = append(s.selections, sel)
	}
	return SubQuery{s}
}

// forIn returns q selecting its root id when it selects nothing.
func (q SubQuery) forIn() SubQuery {
	if len(q.selections) == 0 && q.root != nil {
		return q.Select(q.root)
	}
	return q
}

// Execute runs the query and returns one value per selection and row.
// Table selections yield *Object values, nil for unmatched outer joins.
// Fetcher selections also load their object graphs.
func (q Query) Execute(ctx context.Context, c *Client) ([][]any, error) {
	q = q.resolved()
	if q.err != nil {
		return nil, q.err
	}
	text, args, err := Render(q, c.dialect)
	if err != nil {
		return nil, err
	}

	concurrent := c.fetchConcurrency > 1
	var (
		rows    [][]any
		fetches []pendingFetch
	)
	err = c.reads.RunWithConnection(ctx, func(ctx context.Context, conn Conn) error {
		raw, err := c.query(ctx, conn, text, args)
		if err != nil {
			return err
		}
		rows, fetches, err = c.materialize(q.selections, raw)
		if err != nil || concurrent {
			return err
		}
		eng := c.newFetchEngine(conn)
		for _, f := range fetches {
			if err := eng.run(ctx, f.objects, f.fetcher); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if concurrent {
		eng := c.newFetchEngine(nil)
		for _, f := range fetches {
			if err := eng.run(ctx, f.objects, f.fetcher); err != nil {
				return nil, err
			}
		}
	}
	return rows, nil
}

// Objects runs a query selecting one table and returns its objects.
func (q Query) Objects(ctx context.Context, c *Client) ([]*Object, error) {
	q = q.resolved()
	if len(q.selections) != 1 {
		return nil, newConfigError("query", "", "", "Objects needs exactly one table selection")
	}
	switch q.selections[0].(type) {
	case *Table, *FetchSelection:
	default:
		return nil, newConfigError("query", "", "", "Objects needs a table selection")
	}
	rows, err := q.Execute(ctx, c)
	if err != nil {
		return nil, err
	}
	out := make([]*Object, 0, len(rows))
	for _, r := range rows {
		if o, ok := r[0].(*Object); ok && o != nil {
			out = append(out, o)
		}
	}
	return out, nil
}

// First returns the first object of the query, ErrRecordNotFound when
// there is none.
func (q Query) First(ctx context.Context, c *Client) (*Object, error) {
	objs, err := q.Limit(1).Objects(ctx, c)
	if err != nil {
		return nil, err
	}
	if len(objs) == 0 {
		return nil, ErrRecordNotFound
	}
	return objs[0], nil
}

type pendingFetch struct {
	objects []*Object
	fetcher *Fetcher
}

// materialize turns raw rows into selection values. Objects of one fetcher
// selection sharing an id are the same instance.
func (c *Client) materialize(sels []Selection, raw [][]any) ([][]any, []pendingFetch, error) {
	type layout struct {
		entity  *EntityType
		props   []*Property
		fetcher *Fetcher
		seen    map[any]*Object
		fetch   int
	}
	layouts := make([]*layout, len(sels))
	var fetches []pendingFetch
	for i, sel := range sels {
		switch s := sel.(type) {
		case *Table:
			layouts[i] = &layout{entity: s.entity, props: selectedProps(s.entity, nil)}
		case *FetchSelection:
			layouts[i] = &layout{
				entity:  s.table.entity,
				props:   selectedProps(s.table.entity, s.fetcher),
				fetcher: s.fetcher,
				seen:    make(map[any]*Object),
				fetch:   len(fetches),
			}
			fetches = append(fetches, pendingFetch{fetcher: s.fetcher})
		}
	}

	out := make([][]any, 0, len(raw))
	for _, r := range raw {
		row := make([]any, len(sels))
		col := 0
		for i, l := range layouts {
			if l == nil {
				row[i] = r[col]
				col++
				continue
			}
			o, err := readObject(c.meta, l.entity, l.props, r[col:col+len(l.props)])
			if err != nil {
				return nil, nil, err
			}
			col += len(l.props)
			if o != nil && l.seen != nil {
				k := idKey(o.ID())
				if prev, ok := l.seen[k]; ok {
					o = prev
				} else {
					l.seen[k] = o
					fetches[l.fetch].objects = append(fetches[l.fetch].objects, o)
				}
			}
			if o == nil {
				row[i] = (*Object)(nil)
			} else {
				row[i] = o
			}
		}
		out = append(out, row)
	}
	return out, fetches, nil
}

// readObject builds an object from the columns of selectedProps. Owning
// references become id-only targets. A nil id means an unmatched outer
// join and yields nil.
func readObject(meta MetadataProvider, e *EntityType, props []*Property, vals []any) (*Object, error) {
	if vals[0] == nil {
		return nil, nil
	}
	o := newObject(e, len(props))
	for i, p := range props {
		if !p.IsReference() {
			o.set(p, vals[i])
			continue
		}
		target, err := meta.Entity(p.Assoc.Target)
		if err != nil {
			return nil, err
		}
		if vals[i] == nil {
			o.setAssociation(p, nil, idOnlyShape(target))
			continue
		}
		o.setAssociation(p, idOnlyObject(target, vals[i]), idOnlyShape(target))
	}
	return o, nil
}

func idOnlyObject(e *EntityType, id any) *Object {
	o := newObject(e, 1)
	o.values[e.ID().Name] = id
	return o
}
