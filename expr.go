package zgraph

// Expression is a node of the expression tree. The set of node types is
// closed: Literal, PropertyPath, ColumnRef and the predicate nodes in
// predicate.go. Nodes are immutable.
type Expression interface {
	exprNode()
}

// Rendering precedences. A larger value binds looser.
const (
	precAtom       = 0
	precComparison = 4
	precNot        = 5
	precAnd        = 6
	precOr         = 7
	precNative     = 8
)

// Literal is a value rendered as a positional parameter.
type Literal struct {
	value any
}

// Value wraps v as a literal expression.
func Value(v any) *Literal { return &Literal{value: v} }

// Value returns the wrapped value.
func (l *Literal) Value() any { return l.value }

// PropertyPath references a property reached from a table. The chain of
// association names is carried by the table itself.
type PropertyPath struct {
	table *Table
	prop  string
	err   error
}

// Table returns the table the property belongs to.
func (p *PropertyPath) Table() *Table { return p.table }

// Chain returns the property names from the root table to the property.
func (p *PropertyPath) Chain() []string {
	return append(p.table.chain(), p.prop)
}

// Eq returns p = v.
func (p *PropertyPath) Eq(v any) Predicate { return Eq(p, v) }

// Ne returns p <> v.
func (p *PropertyPath) Ne(v any) Predicate { return Ne(p, v) }

// Lt returns p < v.
func (p *PropertyPath) Lt(v any) Predicate { return Lt(p, v) }

// Le returns p <= v.
func (p *PropertyPath) Le(v any) Predicate { return Le(p, v) }

// Gt returns p > v.
func (p *PropertyPath) Gt(v any) Predicate { return Gt(p, v) }

// Ge returns p >= v.
func (p *PropertyPath) Ge(v any) Predicate { return Ge(p, v) }

// Like returns p like pattern.
func (p *PropertyPath) Like(pattern string) Predicate { return Like(p, pattern) }

// Between returns p between lower and upper.
func (p *PropertyPath) Between(lower, upper any) Predicate { return Between(p, lower, upper) }

// In returns p in (values...).
func (p *PropertyPath) In(values ...any) Predicate { return In(p, values...) }

// InQuery returns p in (sub-query).
func (p *PropertyPath) InQuery(q SubQuery) Predicate { return InQuery(p, q) }

// NotInQuery returns p not in (sub-query).
func (p *PropertyPath) NotInQuery(q SubQuery) Predicate { return NotInQuery(p, q) }

// IsNull returns p is null.
func (p *PropertyPath) IsNull() Predicate { return IsNull(p) }

// IsNotNull returns p is not null.
func (p *PropertyPath) IsNotNull() Predicate { return IsNotNull(p) }

// Asc orders by p ascending.
func (p *PropertyPath) Asc() Order { return Asc(p) }

// Desc orders by p descending.
func (p *PropertyPath) Desc() Order { return Desc(p) }

// ColumnRef is a raw column, optionally qualified. It is used for middle
// tables, which have no entity metadata.
type ColumnRef struct {
	qualifier string
	name      string
}

func columnRef(qualifier, name string) *ColumnRef {
	return &ColumnRef{qualifier: qualifier, name: name}
}

func (*Literal) exprNode()      {}
func (*PropertyPath) exprNode() {}
func (*ColumnRef) exprNode()    {}

// operand turns a Go value into an expression; expressions pass through.
func operand(v any) Expression {
	switch x := v.(type) {
	case Expression:
		return x
	case *Table:
		return x.ID()
	default:
		return Value(v)
	}
}

// Order is one order by item.
type Order struct {
	expr Expression
	desc bool
}

// Asc orders by e ascending.
func Asc(e any) Order { return Order{expr: operand(e)} }

// Desc orders by e descending.
func Desc(e any) Order { return Order{expr: operand(e), desc: true} }

// precedenceOf returns the rendering precedence of a node.
func precedenceOf(e Expression) int {
	switch n := e.(type) {
	case *Literal, *PropertyPath, *ColumnRef, *ExistsPredicate, *InSubquery:
		return precAtom
	case *Comparison, *BetweenPredicate, *InList, *TupleIn, *NullCheck:
		return precComparison
	case *Logical:
		switch n.op {
		case opAnd:
			return precAnd
		case opOr:
			return precOr
		default:
			return precNot
		}
	case *NativePredicate:
		return precNative
	default:
		panic(unhandledNode(e))
	}
}

// walk visits e and its children depth first. Sub-queries are reported to
// visit but not entered; their clauses form their own scope.
func walk(e Expression, visit func(Expression)) {
	visit(e)
	switch n := e.(type) {
	case *Literal, *PropertyPath, *ColumnRef, *NativePredicate, *ExistsPredicate:
	case *Comparison:
		walk(n.left, visit)
		walk(n.right, visit)
	case *Logical:
		for _, p := range n.operands {
			walk(p, visit)
		}
	case *BetweenPredicate:
		walk(n.expr, visit)
		walk(n.lower, visit)
		walk(n.upper, visit)
	case *InSubquery:
		walk(n.expr, visit)
	case *InList:
		walk(n.expr, visit)
		for _, v := range n.values {
			walk(v, visit)
		}
	case *TupleIn:
		for _, c := range n.exprs {
			walk(c, visit)
		}
	case *NullCheck:
		walk(n.expr, visit)
	default:
		panic(unhandledNode(e))
	}
}

func unhandledNode(e Expression) string {
	return "zgraph: unhandled expression node " + typeName(e)
}
