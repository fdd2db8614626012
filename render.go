package zgraph

import (
	"fmt"
	"strings"
)

// sqlWriter accumulates SQL text and its positional arguments.
type sqlWriter struct {
	sb      strings.Builder
	args    []any
	dialect *Dialect
	plan    *plan
	scope   *scope
	err     error
}

func newSQLWriter(d *Dialect) *sqlWriter {
	if d == nil {
		d = Dialects.Default
	}
	return &sqlWriter{dialect: d}
}

func (w *sqlWriter) write(s string) { w.sb.WriteString(s) }

func (w *sqlWriter) ident(name string) { w.sb.WriteString(w.dialect.Quote(name)) }

func (w *sqlWriter) column(alias, name string) {
	if alias != "" {
		w.sb.WriteString(alias)
		w.sb.WriteByte('.')
	}
	w.ident(name)
}

func (w *sqlWriter) variable(v any) {
	w.args = append(w.args, v)
	w.sb.WriteString(w.dialect.Placeholder(len(w.args)))
}

func (w *sqlWriter) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *sqlWriter) String() string { return w.sb.String() }

// Render compiles q into SQL text and arguments. Rendering the same query
// twice yields identical text and argument order.
func Render(q Query, d *Dialect) (string, []any, error) {
	p, err := newPlan(&q.state)
	if err != nil {
		return "", nil, err
	}
	w := newSQLWriter(d)
	w.plan = p
	w.scope = p.root
	w.query(&q.state, false)
	if w.err != nil {
		return "", nil, w.err
	}
	return w.String(), w.args, nil
}

func (w *sqlWriter) query(st *state, exists bool) {
	w.write("select ")
	if st.distinct {
		w.write("distinct ")
	}
	if exists {
		w.write("1")
	} else {
		w.selections(st.selections)
	}

	w.write(" from ")
	root := w.scope.rootNode
	w.ident(root.table.entity.Table)
	w.write(" as ")
	w.write(root.alias)
	w.joins(root)

	if len(st.where) > 0 {
		w.write(" where ")
		w.expr(And(st.where...))
	}
	if len(st.groupBy) > 0 {
		w.write(" group by ")
		for i, g := range st.groupBy {
			if i > 0 {
				w.write(", ")
			}
			w.expr(g)
		}
	}
	if len(st.having) > 0 {
		w.write(" having ")
		w.expr(And(st.having...))
	}
	if len(st.orderBy) > 0 {
		w.write(" order by ")
		for i, o := range st.orderBy {
			if i > 0 {
				w.write(", ")
			}
			w.expr(o.expr)
			if o.desc {
				w.write(" desc")
			} else {
				w.write(" asc")
			}
		}
	}
	w.paginate(st.limit, st.offset)
}

func (w *sqlWriter) paginate(limit, offset int) {
	switch {
	case limit > 0:
		w.write(" limit ")
		w.variable(limit)
	case offset > 0 && w.dialect.UnboundedLimit != nil:
		w.write(" limit ")
		w.variable(w.dialect.UnboundedLimit)
	}
	if offset > 0 {
		w.write(" offset ")
		w.variable(offset)
	}
}

func (w *sqlWriter) selections(sels []Selection) {
	for i, sel := range sels {
		if i > 0 {
			w.write(", ")
		}
		switch s := sel.(type) {
		case *Table:
			w.tableColumns(s, selectedProps(s.entity, nil))
		case *FetchSelection:
			w.tableColumns(s.table, selectedProps(s.table.entity, s.fetcher))
		case Expression:
			w.expr(s)
		default:
			w.fail(fmt.Errorf("zgraph: unsupported selection %s", typeName(sel)))
		}
	}
}

func (w *sqlWriter) tableColumns(t *Table, props []*Property) {
	a := w.scope.rootNode.alias
	if t.parent != nil {
		a = w.scope.nodes[t.key()].alias
	}
	for i, p := range props {
		if i > 0 {
			w.write(", ")
		}
		if p.IsReference() {
			w.column(a, p.Assoc.ForeignKey)
		} else {
			w.column(a, p.Column)
		}
	}
}

func (w *sqlWriter) joins(n *joinNode) {
	for _, c := range n.children {
		if !c.middleUsed && !c.used {
			continue
		}
		middle, target := joinOn(c)
		kw := " " + c.table.join.String() + " "
		if c.middleUsed {
			w.write(kw)
			w.ident(c.table.assoc.middle.Table)
			w.write(" as ")
			w.write(c.middleAlias)
			w.write(" on ")
			w.column(n.alias, middle[0])
			w.write(" = ")
			w.column(c.middleAlias, middle[1])
		}
		if !c.used {
			continue
		}
		w.write(kw)
		w.ident(c.table.entity.Table)
		w.write(" as ")
		w.write(c.alias)
		w.write(" on ")
		if c.middleUsed {
			w.column(c.middleAlias, target[0])
		} else {
			w.column(n.alias, target[0])
		}
		w.write(" = ")
		w.column(c.alias, target[1])
		w.joins(c)
	}
}

// renderChild renders e, wrapped in parentheses when it binds at least as
// loosely as threshold.
func (w *sqlWriter) renderChild(e Expression, threshold int) {
	if precedenceOf(e) >= threshold {
		w.write("(")
		w.expr(e)
		w.write(")")
		return
	}
	w.expr(e)
}

func (w *sqlWriter) expr(e Expression) {
	switch n := e.(type) {
	case *Literal:
		w.variable(n.value)
	case *PropertyPath:
		ref, ok := w.plan.paths[pathUse{w.scope, n}]
		if !ok {
			w.fail(newConfigError("render", "", n.prop, fmt.Sprintf("%s.%s was not planned", n.table, n.prop)))
			return
		}
		w.column(ref.alias(), ref.column)
	case *ColumnRef:
		w.column(n.qualifier, n.name)
	case *Comparison:
		w.renderChild(n.left, precComparison)
		w.write(" ")
		w.write(string(n.op))
		w.write(" ")
		w.renderChild(n.right, precComparison)
	case *Logical:
		w.logical(n)
	case *BetweenPredicate:
		w.renderChild(n.expr, precComparison)
		if n.negated {
			w.write(" not")
		}
		w.write(" between ")
		w.renderChild(n.lower, precComparison)
		w.write(" and ")
		w.renderChild(n.upper, precComparison)
	case *InSubquery:
		w.renderChild(n.expr, precComparison)
		if n.negated {
			w.write(" not")
		}
		w.write(" in ")
		w.subquery(n, &n.query.state, false)
	case *ExistsPredicate:
		if n.negated {
			w.write("not ")
		}
		w.write("exists ")
		w.subquery(n, &n.query.state, true)
	case *InList:
		w.inList(n)
	case *TupleIn:
		w.tupleIn(n)
	case *NullCheck:
		w.renderChild(n.expr, precComparison)
		if n.negated {
			w.write(" is not null")
		} else {
			w.write(" is null")
		}
	case *NativePredicate:
		w.native(n)
	default:
		panic(unhandledNode(e))
	}
}

func (w *sqlWriter) logical(n *Logical) {
	switch n.op {
	case opNot:
		w.write("not ")
		w.renderChild(n.operands[0], precComparison)
	case opAnd, opOr:
		sep, threshold, empty := " and ", precOr, "1 = 1"
		if n.op == opOr {
			sep, threshold, empty = " or ", precNative, "1 = 0"
		}
		if len(n.operands) == 0 {
			w.write(empty)
			return
		}
		for i, p := range n.operands {
			if i > 0 {
				w.write(sep)
			}
			w.renderChild(p, threshold)
		}
	default:
		panic(unhandledNode(n))
	}
}

func (w *sqlWriter) subquery(key Expression, st *state, exists bool) {
	sc, ok := w.plan.subs[key]
	if !ok {
		w.fail(fmt.Errorf("zgraph: sub-query was not planned"))
		return
	}
	outer := w.scope
	w.scope = sc
	w.write("(")
	w.query(st, exists)
	w.write(")")
	w.scope = outer
}

func (w *sqlWriter) inList(n *InList) {
	if len(n.values) == 0 {
		if n.negated {
			w.write("1 = 1")
		} else {
			w.write("1 = 0")
		}
		return
	}
	w.renderChild(n.expr, precComparison)
	if n.negated {
		w.write(" not")
	}
	w.write(" in (")
	for i, v := range n.values {
		if i > 0 {
			w.write(", ")
		}
		w.renderChild(v, precComparison)
	}
	w.write(")")
}

func (w *sqlWriter) tupleIn(n *TupleIn) {
	if len(n.rows) == 0 {
		if n.negated {
			w.write("1 = 1")
		} else {
			w.write("1 = 0")
		}
		return
	}
	if w.dialect.RowValueIn {
		w.write("(")
		for i, e := range n.exprs {
			if i > 0 {
				w.write(", ")
			}
			w.expr(e)
		}
		w.write(")")
		if n.negated {
			w.write(" not")
		}
		w.write(" in (")
		for i, row := range n.rows {
			if i > 0 {
				w.write(", ")
			}
			w.write("(")
			for j, v := range row {
				if j > 0 {
					w.write(", ")
				}
				w.variable(v)
			}
			w.write(")")
		}
		w.write(")")
		return
	}

	if n.negated {
		w.write("not ")
	}
	w.write("(")
	for i, row := range n.rows {
		if i > 0 {
			w.write(" or ")
		}
		if len(n.rows) > 1 {
			w.write("(")
		}
		for j, v := range row {
			if j > 0 {
				w.write(" and ")
			}
			w.expr(n.exprs[j])
			w.write(" = ")
			w.variable(v)
		}
		if len(n.rows) > 1 {
			w.write(")")
		}
	}
	w.write(")")
}

// native copies the raw fragment, binding each ? outside string literals
// to the next argument.
func (w *sqlWriter) native(n *NativePredicate) {
	next := 0
	inQuote := false
	for i := 0; i < len(n.sql); i++ {
		c := n.sql[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			w.sb.WriteByte(c)
		case c == '?' && !inQuote:
			if next >= len(n.args) {
				w.fail(newConfigError("render", "", "", fmt.Sprintf("native sql %q has more placeholders than arguments", n.sql)))
				return
			}
			w.variable(n.args[next])
			next++
		default:
			w.sb.WriteByte(c)
		}
	}
	if next != len(n.args) {
		w.fail(newConfigError("render", "", "", fmt.Sprintf("native sql %q has %d placeholders for %d arguments", n.sql, next, len(n.args))))
	}
}

// selectedProps lists the properties a table selection reads: the id, the
// scalars, then the owning references whose foreign keys are selected.
// Without a fetcher every scalar and owning reference is read.
func selectedProps(e *EntityType, f *Fetcher) []*Property {
	props := []*Property{e.ID()}
	if f == nil {
		for _, p := range e.Props() {
			if !p.IsID && !p.IsAssociation() {
				props = append(props, p)
			}
		}
		for _, p := range e.Props() {
			if p.ownsForeignKey() {
				props = append(props, p)
			}
		}
		return props
	}
	for _, name := range f.scalars {
		p, _ := e.Prop(name)
		if !p.IsID {
			props = append(props, p)
		}
	}
	for _, fd := range f.fields {
		if fd.prop.ownsForeignKey() {
			props = append(props, fd.prop)
		}
	}
	return props
}
