package zgraph

import (
	"fmt"
	"strconv"
)

// A plan is built in two passes over a query tree. The first pass walks
// every clause, routes each property path to the scope owning its root
// table and records which join nodes are needed. The second pass numbers
// the needed tables. Rendering only reads the result.
type plan struct {
	root  *scope
	subs  map[Expression]*scope
	paths map[pathUse]pathRef
	err   error
}

// scope is one select statement: the outer query or a sub-query.
type scope struct {
	parent   *scope
	root     *tableRoot
	rootNode *joinNode
	nodes    map[string]*joinNode
	children []*scope
}

// joinNode is one table of a scope's join tree. A many-to-many hop also
// owns the middle table in front of its target.
type joinNode struct {
	table    *Table
	parent   *joinNode
	children []*joinNode

	used        bool
	middleUsed  bool
	alias       string
	middleAlias string
}

type refSide int

const (
	refTarget refSide = iota
	refParent
	refMiddle
)

// pathRef is where a property path reads its column from.
type pathRef struct {
	node   *joinNode
	side   refSide
	column string
}

func (r pathRef) alias() string {
	switch r.side {
	case refParent:
		return r.node.parent.alias
	case refMiddle:
		return r.node.middleAlias
	default:
		return r.node.alias
	}
}

type pathUse struct {
	scope *scope
	path  *PropertyPath
}

func newPlan(st *state) (*plan, error) {
	if st.err != nil {
		return nil, st.err
	}
	p := &plan{
		subs:  make(map[Expression]*scope),
		paths: make(map[pathUse]pathRef),
	}
	p.root = p.collect(nil, st, false)
	if p.err != nil {
		return nil, p.err
	}
	for _, sel := range st.selections {
		var t *Table
		switch s := sel.(type) {
		case *Table:
			t = s
		case *FetchSelection:
			t = s.table
		default:
			continue
		}
		switch {
		case t.ex:
			return nil, newConfigError("query", t.entity.Name, "",
				fmt.Sprintf("extended table %s cannot be selected by a top-level query", t))
		case t.fanOut:
			return nil, newConfigError("query", t.entity.Name, "",
				fmt.Sprintf("table %s is reached through a list association and cannot be selected by a top-level query", t))
		}
	}
	p.assignAliases()
	return p, nil
}

func (p *plan) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

func (p *plan) collect(parent *scope, st *state, exists bool) *scope {
	sc := &scope{parent: parent, nodes: make(map[string]*joinNode)}
	if parent != nil {
		parent.children = append(parent.children, sc)
	}
	if st.err != nil {
		p.fail(st.err)
		return sc
	}
	if st.root.err != nil {
		p.fail(st.root.err)
		return sc
	}
	if st.root.parent != nil {
		p.fail(newConfigError("query", st.root.entity.Name, "", "query root must be a root table"))
		return sc
	}
	sc.root = st.root.root
	sc.rootNode = &joinNode{table: st.root, used: true}

	if !exists {
		for _, sel := range st.selections {
			switch s := sel.(type) {
			case *Table:
				p.useTable(sc, s)
			case *FetchSelection:
				p.useTable(sc, s.table)
			case Expression:
				p.expr(sc, s)
			default:
				p.fail(fmt.Errorf("zgraph: unsupported selection %s", typeName(sel)))
			}
		}
	}
	for _, w := range st.where {
		p.expr(sc, w)
	}
	for _, g := range st.groupBy {
		p.expr(sc, g)
	}
	for _, h := range st.having {
		p.expr(sc, h)
	}
	for _, o := range st.orderBy {
		p.expr(sc, o.expr)
	}
	return sc
}

func (p *plan) expr(sc *scope, e Expression) {
	walk(e, func(n Expression) {
		switch x := n.(type) {
		case *PropertyPath:
			p.usePath(sc, x)
		case *InSubquery:
			p.sub(sc, x, &x.query.state, false)
		case *ExistsPredicate:
			p.sub(sc, x, &x.query.state, true)
		}
	})
}

func (p *plan) sub(sc *scope, key Expression, st *state, exists bool) {
	if _, ok := p.subs[key]; ok {
		return
	}
	p.subs[key] = p.collect(sc, st, exists)
}

func (p *plan) useTable(sc *scope, t *Table) {
	if t.err != nil {
		p.fail(t.err)
		return
	}
	if t.root != sc.root {
		p.fail(newConfigError("query", t.entity.Name, "",
			fmt.Sprintf("selected table %s does not belong to the query", t)))
		return
	}
	markUsed(p.node(sc, t))
}

func (p *plan) usePath(sc *scope, path *PropertyPath) {
	if path.err != nil {
		p.fail(path.err)
		return
	}
	owner := sc
	for owner != nil && owner.root != path.table.root {
		owner = owner.parent
	}
	if owner == nil {
		p.fail(newConfigError("query", path.table.entity.Name, path.prop,
			fmt.Sprintf("%s references a table that is not in scope", path.table)))
		return
	}

	n := p.node(owner, path.table)
	prop, _ := n.table.entity.Prop(path.prop)
	if prop.IsID && n.parent != nil {
		if column, side, ok := elide(n.table); ok {
			if side == refMiddle {
				n.middleUsed = true
			}
			markUsed(n.parent)
			p.paths[pathUse{sc, path}] = pathRef{node: n, side: side, column: column}
			return
		}
	}
	markUsed(n)
	p.paths[pathUse{sc, path}] = pathRef{node: n, side: refTarget, column: prop.Column}
}

// node returns the join node of t inside sc, creating the chain of nodes
// from the root on first use.
func (p *plan) node(sc *scope, t *Table) *joinNode {
	if t.parent == nil {
		return sc.rootNode
	}
	key := t.key()
	if n, ok := sc.nodes[key]; ok {
		return n
	}
	parent := p.node(sc, t.parent)
	n := &joinNode{table: t, parent: parent}
	parent.children = append(parent.children, n)
	sc.nodes[key] = n
	return n
}

func markUsed(n *joinNode) {
	for ; n != nil && !n.used; n = n.parent {
		n.used = true
		if n.table.assoc != nil && n.table.assoc.middle != nil {
			n.middleUsed = true
		}
	}
}

// elide returns the column holding the id of t's table on the near side of
// the hop, when there is one.
func elide(t *Table) (string, refSide, bool) {
	a := t.assoc
	switch {
	case a.middle != nil && !t.inverse:
		return a.middle.TargetJoinColumn, refMiddle, true
	case a.middle != nil:
		return a.middle.JoinColumn, refMiddle, true
	case a.sourceFK != "" && !t.inverse:
		return a.sourceFK, refParent, true
	case a.targetFK != "" && t.inverse:
		return a.targetFK, refParent, true
	}
	return "", refTarget, false
}

// assignAliases numbers tables table-first and depth-first: the outer root,
// its join tree, then every sub-query scope in clause order.
func (p *plan) assignAliases() {
	n := 0
	next := func() string {
		n++
		return "tb_" + strconv.Itoa(n) + "_"
	}
	var visitNode func(*joinNode)
	visitNode = func(node *joinNode) {
		for _, c := range node.children {
			if c.middleUsed {
				c.middleAlias = next()
			}
			if c.used {
				c.alias = next()
				visitNode(c)
			}
		}
	}
	var visitScope func(*scope)
	visitScope = func(sc *scope) {
		sc.rootNode.alias = next()
		visitNode(sc.rootNode)
		for _, c := range sc.children {
			visitScope(c)
		}
	}
	visitScope(p.root)
}

// joinOn returns the on conditions of the hop into n: the middle table
// first when there is one.
func joinOn(n *joinNode) (middle [2]string, target [2]string) {
	t := n.table
	a := t.assoc
	parentID := t.parent.entity.ID().Column
	targetID := t.entity.ID().Column
	switch {
	case a.middle != nil:
		near, far := a.middle.JoinColumn, a.middle.TargetJoinColumn
		if t.inverse {
			near, far = far, near
		}
		return [2]string{parentID, near}, [2]string{far, targetID}
	case a.sourceFK != "" && !t.inverse:
		return middle, [2]string{a.sourceFK, targetID}
	case a.sourceFK != "":
		return middle, [2]string{parentID, a.sourceFK}
	case !t.inverse:
		return middle, [2]string{parentID, a.targetFK}
	default:
		return middle, [2]string{a.targetFK, targetID}
	}
}
