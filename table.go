package zgraph

import (
	"fmt"
	"strings"
)

// JoinType is the SQL join used for an association hop.
type JoinType int

const (
	InnerJoin JoinType = iota
	LeftJoin
)

func (j JoinType) String() string {
	if j == LeftJoin {
		return "left join"
	}
	return "inner join"
}

type tableRoot struct {
	meta   MetadataProvider
	entity *EntityType
}

// Table references an entity table inside a query: either a query root or
// a table reached from another table through an association hop. Tables
// are immutable; Join and Ex return new values.
type Table struct {
	root    *tableRoot
	parent  *Table
	assoc   *assocInfo
	inverse bool // the hop walks assoc from its target back to its owner
	join    JoinType
	entity  *EntityType

	ex     bool // extended view, may join list associations
	fanOut bool // some hop from the root is multi-valued
	err    error
}

// NewTable returns a root table for the named entity. Errors are kept on
// the table and reported when a query using it is rendered.
func NewTable(meta MetadataProvider, entity string) *Table {
	e, err := meta.Entity(entity)
	if err != nil {
		return &Table{root: &tableRoot{meta: meta}, err: err}
	}
	if e.Abstract {
		return &Table{
			root: &tableRoot{meta: meta, entity: e},
			err:  newConfigError("query", e.Name, "", "mapped superclass cannot be queried"),
		}
	}
	return &Table{root: &tableRoot{meta: meta, entity: e}, entity: e}
}

// Entity returns the entity type of the table.
func (t *Table) Entity() *EntityType { return t.entity }

// Err returns the first construction error of the table or its parents.
func (t *Table) Err() error { return t.err }

// IsRoot reports whether t is a query root.
func (t *Table) IsRoot() bool { return t.parent == nil }

// Get references a scalar property of the table.
func (t *Table) Get(prop string) *PropertyPath {
	if t.err != nil {
		return &PropertyPath{table: t, prop: prop, err: t.err}
	}
	p, ok := t.entity.Prop(prop)
	if !ok {
		return &PropertyPath{table: t, prop: prop, err: unknownProperty("query", t.entity, prop)}
	}
	if p.IsAssociation() {
		return &PropertyPath{table: t, prop: prop, err: newConfigError("query", t.entity.Name, prop,
			"association cannot be used as a value, join it and reference its id")}
	}
	return &PropertyPath{table: t, prop: prop}
}

// ID references the identifier of the table.
func (t *Table) ID() *PropertyPath {
	if t.entity == nil {
		return &PropertyPath{table: t, err: t.err}
	}
	return t.Get(t.entity.ID().Name)
}

// Ex returns the extended view of the table, which may also join to-many
// and many-to-many associations.
func (t *Table) Ex() *Table {
	c := *t
	c.ex = true
	return &c
}

// IsEx reports whether t is an extended view.
func (t *Table) IsEx() bool { return t.ex }

// Join follows an association with an inner join.
func (t *Table) Join(prop string) *Table { return t.joinWith(prop, InnerJoin) }

// LeftJoin follows an association with a left outer join.
func (t *Table) LeftJoin(prop string) *Table { return t.joinWith(prop, LeftJoin) }

func (t *Table) joinWith(prop string, jt JoinType) *Table {
	child := &Table{root: t.root, parent: t, join: jt, ex: t.ex, fanOut: t.fanOut}
	if t.err != nil {
		child.err = t.err
		return child
	}
	info, err := resolveAssociation(t.root.meta, t.entity, prop)
	if err != nil {
		child.err = err
		return child
	}
	if info.kind() != ToOne {
		if !t.ex {
			child.err = newConfigError("query", t.entity.Name, prop,
				fmt.Sprintf("%s association can only be joined from an extended table, use Ex()", info.kind()))
			return child
		}
		child.fanOut = true
	}
	child.assoc = info
	child.entity = info.target
	return child
}

// InverseJoin walks owner.prop backwards: t must be the target of that
// association and the returned table is its owner side.
func (t *Table) InverseJoin(owner, prop string) *Table {
	return t.inverseJoinWith(owner, prop, InnerJoin)
}

func (t *Table) inverseJoinWith(owner, prop string, jt JoinType) *Table {
	child := &Table{root: t.root, parent: t, join: jt, inverse: true, ex: t.ex, fanOut: t.fanOut}
	if t.err != nil {
		child.err = t.err
		return child
	}
	ownerType, err := t.root.meta.Entity(owner)
	if err != nil {
		child.err = err
		return child
	}
	info, err := resolveAssociation(t.root.meta, ownerType, prop)
	if err != nil {
		child.err = err
		return child
	}
	if !t.entity.IsSubtypeOf(info.target) {
		child.err = newConfigError("query", owner, prop,
			fmt.Sprintf("association does not reference %s", t.entity.Name))
		return child
	}
	// Walking backwards is single-valued only when each target has at most
	// one owner: a to-many hop or an inverse one-to-one.
	if info.kind() != ToMany && !(info.kind() == ToOne && info.targetFK != "") {
		child.fanOut = true
	}
	child.assoc = info
	child.inverse = true
	child.entity = ownerType
	return child
}

// Fetch selects t shaped by the fetcher. The engine then loads the
// associations the fetcher names.
func (t *Table) Fetch(f *Fetcher) *FetchSelection {
	return &FetchSelection{table: t, fetcher: f}
}

// chain returns the association names from the root to t.
func (t *Table) chain() []string {
	if t.parent == nil {
		return nil
	}
	name := ""
	if t.assoc != nil {
		name = t.assoc.prop.Name
		if t.inverse {
			name = "~" + t.assoc.String()
		}
	}
	return append(t.parent.chain(), name)
}

// key identifies the join path inside its root. Two tables with the same
// key share one join.
func (t *Table) key() string {
	if t.parent == nil {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(t.parent.key())
	sb.WriteString("/")
	if t.inverse {
		sb.WriteString("~")
	}
	if t.assoc != nil {
		sb.WriteString(t.assoc.String())
	}
	if t.join == LeftJoin {
		sb.WriteString("?")
	}
	return sb.String()
}

func (t *Table) String() string {
	if t.entity == nil {
		return "<invalid table>"
	}
	if t.parent == nil {
		return t.entity.Name
	}
	return t.parent.String() + "." + strings.Join(t.chain()[len(t.parent.chain()):], ".")
}
