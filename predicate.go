package zgraph

import "fmt"

// Predicate is a boolean expression. Not returns the negation without
// wrapping where the node has a negated form of its own.
type Predicate interface {
	Expression
	Not() Predicate
	predicateNode()
}

// CompareOp is a binary comparison operator.
type CompareOp string

const (
	OpEq      CompareOp = "="
	OpNe      CompareOp = "<>"
	OpLt      CompareOp = "<"
	OpLe      CompareOp = "<="
	OpGt      CompareOp = ">"
	OpGe      CompareOp = ">="
	OpLike    CompareOp = "like"
	OpNotLike CompareOp = "not like"
)

var negatedOps = map[CompareOp]CompareOp{
	OpEq:      OpNe,
	OpNe:      OpEq,
	OpLt:      OpGe,
	OpGe:      OpLt,
	OpGt:      OpLe,
	OpLe:      OpGt,
	OpLike:    OpNotLike,
	OpNotLike: OpLike,
}

// Comparison is left op right.
type Comparison struct {
	op          CompareOp
	left, right Expression
}

func compare(op CompareOp, left, right any) Predicate {
	return &Comparison{op: op, left: operand(left), right: operand(right)}
}

// Eq returns left = right. Plain Go values become literals.
func Eq(left, right any) Predicate { return compare(OpEq, left, right) }

// Ne returns left <> right.
func Ne(left, right any) Predicate { return compare(OpNe, left, right) }

// Lt returns left < right.
func Lt(left, right any) Predicate { return compare(OpLt, left, right) }

// Le returns left <= right.
func Le(left, right any) Predicate { return compare(OpLe, left, right) }

// Gt returns left > right.
func Gt(left, right any) Predicate { return compare(OpGt, left, right) }

// Ge returns left >= right.
func Ge(left, right any) Predicate { return compare(OpGe, left, right) }

// Like returns left like pattern.
func Like(left any, pattern string) Predicate { return compare(OpLike, left, pattern) }

func (c *Comparison) Not() Predicate {
	return &Comparison{op: negatedOps[c.op], left: c.left, right: c.right}
}

type logicOp int

const (
	opAnd logicOp = iota
	opOr
	opNot
)

// Logical combines predicates with and, or, or negates a single predicate
// that has no negated form of its own.
type Logical struct {
	op       logicOp
	operands []Predicate
}

// And joins predicates. Nil predicates are dropped; an empty And is true.
func And(ps ...Predicate) Predicate {
	return logical(opAnd, ps)
}

// Or joins predicates. Nil predicates are dropped; an empty Or is false.
func Or(ps ...Predicate) Predicate {
	return logical(opOr, ps)
}

// Not negates p.
func Not(p Predicate) Predicate { return p.Not() }

func logical(op logicOp, ps []Predicate) Predicate {
	operands := make([]Predicate, 0, len(ps))
	for _, p := range ps {
		if p != nil {
			operands = append(operands, p)
		}
	}
	if len(operands) == 1 {
		return operands[0]
	}
	return &Logical{op: op, operands: operands}
}

func (l *Logical) Not() Predicate {
	switch l.op {
	case opNot:
		return l.operands[0]
	case opAnd, opOr:
		negated := make([]Predicate, len(l.operands))
		for i, p := range l.operands {
			negated[i] = p.Not()
		}
		op := opOr
		if l.op == opOr {
			op = opAnd
		}
		return &Logical{op: op, operands: negated}
	default:
		panic(unhandledNode(l))
	}
}

// BetweenPredicate is expr [not] between lower and upper.
type BetweenPredicate struct {
	expr, lower, upper Expression
	negated            bool
}

// Between returns e between lower and upper.
func Between(e, lower, upper any) Predicate {
	return &BetweenPredicate{expr: operand(e), lower: operand(lower), upper: operand(upper)}
}

func (b *BetweenPredicate) Not() Predicate {
	return &BetweenPredicate{expr: b.expr, lower: b.lower, upper: b.upper, negated: !b.negated}
}

// InSubquery is expr [not] in (sub-query).
type InSubquery struct {
	expr    Expression
	query   SubQuery
	negated bool
}

// InQuery returns e in (q). A sub-query selecting nothing selects its
// root id.
func InQuery(e any, q SubQuery) Predicate {
	return &InSubquery{expr: operand(e), query: q.forIn()}
}

// NotInQuery returns e not in (q).
func NotInQuery(e any, q SubQuery) Predicate {
	return &InSubquery{expr: operand(e), query: q.forIn(), negated: true}
}

func (p *InSubquery) Not() Predicate {
	return &InSubquery{expr: p.expr, query: p.query, negated: !p.negated}
}

// ExistsPredicate is [not] exists (sub-query).
type ExistsPredicate struct {
	query   SubQuery
	negated bool
}

// Exists returns exists (q).
func Exists(q SubQuery) Predicate { return &ExistsPredicate{query: q} }

// NotExists returns not exists (q).
func NotExists(q SubQuery) Predicate { return &ExistsPredicate{query: q, negated: true} }

func (p *ExistsPredicate) Not() Predicate {
	return &ExistsPredicate{query: p.query, negated: !p.negated}
}

// InList is expr [not] in (v1, v2, ...).
type InList struct {
	expr    Expression
	values  []Expression
	negated bool
}

// In returns e in (values...). An empty list is false.
func In(e any, values ...any) Predicate {
	exprs := make([]Expression, len(values))
	for i, v := range values {
		exprs[i] = operand(v)
	}
	return &InList{expr: operand(e), values: exprs}
}

func (p *InList) Not() Predicate {
	return &InList{expr: p.expr, values: p.values, negated: !p.negated}
}

// TupleIn is (c1, c2) [not] in ((?, ?), ...), the membership test used for
// middle table pairs.
type TupleIn struct {
	exprs   []Expression
	rows    [][]any
	negated bool
}

func tupleIn(exprs []Expression, rows [][]any) *TupleIn {
	return &TupleIn{exprs: exprs, rows: rows}
}

func (p *TupleIn) Not() Predicate {
	return &TupleIn{exprs: p.exprs, rows: p.rows, negated: !p.negated}
}

// NullCheck is expr is [not] null.
type NullCheck struct {
	expr    Expression
	negated bool
}

// IsNull returns e is null.
func IsNull(e any) Predicate { return &NullCheck{expr: operand(e)} }

// IsNotNull returns e is not null.
func IsNotNull(e any) Predicate { return &NullCheck{expr: operand(e), negated: true} }

func (p *NullCheck) Not() Predicate {
	return &NullCheck{expr: p.expr, negated: !p.negated}
}

// NativePredicate is a raw SQL fragment. Each ? in the text is bound to the
// next argument and rendered with the dialect's placeholder.
type NativePredicate struct {
	sql  string
	args []any
}

// Native returns a raw SQL predicate.
func Native(sql string, args ...any) Predicate {
	return &NativePredicate{sql: sql, args: args}
}

func (p *NativePredicate) Not() Predicate {
	return &Logical{op: opNot, operands: []Predicate{p}}
}

func (*Comparison) exprNode()       {}
func (*Logical) exprNode()          {}
func (*BetweenPredicate) exprNode() {}
func (*InSubquery) exprNode()       {}
func (*ExistsPredicate) exprNode()  {}
func (*InList) exprNode()           {}
func (*TupleIn) exprNode()          {}
func (*NullCheck) exprNode()        {}
func (*NativePredicate) exprNode()  {}

func (*Comparison) predicateNode()       {}
func (*Logical) predicateNode()          {}
func (*BetweenPredicate) predicateNode() {}
func (*InSubquery) predicateNode()       {}
func (*ExistsPredicate) predicateNode()  {}
func (*InList) predicateNode()           {}
func (*TupleIn) predicateNode()          {}
func (*NullCheck) predicateNode()        {}
func (*NativePredicate) predicateNode()  {}

func typeName(v any) string { return fmt.Sprintf("%T", v) }
