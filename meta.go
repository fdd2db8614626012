package zgraph

import "fmt"

// AssociationKind classifies how an association property resolves its targets.
type AssociationKind int

const (
	// ToOne references at most one target. It either owns a foreign key column
	// or is the inverse side of a one-to-one owned by the target.
	ToOne AssociationKind = iota + 1
	// ToMany is the inverse side of a to-one association declared on the target.
	ToMany
	// ManyToMany links both sides through a middle table.
	ManyToMany
)

func (k AssociationKind) String() string {
	switch k {
	case ToOne:
		return "to-one"
	case ToMany:
		return "to-many"
	case ManyToMany:
		return "many-to-many"
	default:
		return fmt.Sprintf("AssociationKind(%d)", int(k))
	}
}

// MiddleTable describes the join table behind a many-to-many association,
// seen from the side that declares it.
type MiddleTable struct {
	Table            string
	JoinColumn       string // references the declaring side
	TargetJoinColumn string // references the target side
}

// Inverse returns the same table seen from the other endpoint.
func (m MiddleTable) Inverse() MiddleTable {
	return MiddleTable{
		Table:            m.Table,
		JoinColumn:       m.TargetJoinColumn,
		TargetJoinColumn: m.JoinColumn,
	}
}

// Association holds the association part of a property.
type Association struct {
	Kind   AssociationKind
	Target string

	// ForeignKey is the column on the declaring table for an owning to-one.
	ForeignKey string

	// MappedBy names the owning association on the target for inverse sides.
	MappedBy string

	// Middle is set for the owning side of a many-to-many association.
	Middle *MiddleTable
}

// Property is one declared or inherited property of an entity type.
type Property struct {
	Name      string
	Column    string
	Nullable  bool
	IsID      bool
	IsVersion bool
	Assoc     *Association
}

// IsAssociation reports whether the property references other entities.
func (p *Property) IsAssociation() bool { return p.Assoc != nil }

// IsReference reports whether the property is a to-one association.
func (p *Property) IsReference() bool { return p.Assoc != nil && p.Assoc.Kind == ToOne }

// IsList reports whether the property holds a list of targets.
func (p *Property) IsList() bool {
	return p.Assoc != nil && (p.Assoc.Kind == ToMany || p.Assoc.Kind == ManyToMany)
}

func (p *Property) ownsForeignKey() bool {
	return p.IsReference() && p.Assoc.ForeignKey != "" && p.Assoc.MappedBy == ""
}

func (p *Property) String() string { return p.Name }

// EntityType is the read-only descriptor of an entity or mapped superclass.
type EntityType struct {
	Name     string
	Table    string
	Abstract bool

	super   *EntityType
	props   []*Property
	byName  map[string]*Property
	id      *Property
	version *Property
}

// ID returns the identifier property.
func (e *EntityType) ID() *Property { return e.id }

// Version returns the version property or nil.
func (e *EntityType) Version() *Property { return e.version }

// Super returns the mapped superclass this type extends, or nil.
func (e *EntityType) Super() *EntityType { return e.super }

// Prop looks up a property, inherited ones included.
func (e *EntityType) Prop(name string) (*Property, bool) {
	p, ok := e.byName[name]
	return p, ok
}

// Props returns all properties, inherited first, in declaration order.
func (e *EntityType) Props() []*Property { return e.props }

// Scalars returns the non-association properties, id included.
func (e *EntityType) Scalars() []*Property {
	out := make([]*Property, 0, len(e.props))
	for _, p := range e.props {
		if !p.IsAssociation() {
			out = append(out, p)
		}
	}
	return out
}

// Associations returns the association properties.
func (e *EntityType) Associations() []*Property {
	var out []*Property
	for _, p := range e.props {
		if p.IsAssociation() {
			out = append(out, p)
		}
	}
	return out
}

// IsSubtypeOf reports whether e is other or extends it.
func (e *EntityType) IsSubtypeOf(other *EntityType) bool {
	for t := e; t != nil; t = t.super {
		if t == other || t.Name == other.Name {
			return true
		}
	}
	return false
}

func (e *EntityType) String() string { return e.Name }

// MetadataProvider supplies entity descriptors. Implementations must return
// the same immutable descriptor for a name for the whole process lifetime.
type MetadataProvider interface {
	Entity(name string) (*EntityType, error)
}

// assocInfo is an association resolved against the metadata provider and
// oriented from the declaring side.
type assocInfo struct {
	owner  *EntityType
	prop   *Property
	target *EntityType

	// sourceFK is the FK column on the owner table (owning to-one).
	sourceFK string

	// targetFK is the FK column on the target table (inverse to-one, to-many).
	targetFK string

	// middle is oriented so JoinColumn references owner.
	middle *MiddleTable

	// owning is the owning property when prop is an inverse side.
	owning       *Property
	owningEntity *EntityType
}

func (a *assocInfo) kind() AssociationKind { return a.prop.Assoc.Kind }

func (a *assocInfo) String() string { return a.owner.Name + "." + a.prop.Name }

func resolveAssociation(meta MetadataProvider, owner *EntityType, name string) (*assocInfo, error) {
	prop, ok := owner.Prop(name)
	if !ok {
		return nil, unknownProperty("association", owner, name)
	}
	if !prop.IsAssociation() {
		return nil, newConfigError("association", owner.Name, name, "property is not an association")
	}
	target, err := meta.Entity(prop.Assoc.Target)
	if err != nil {
		return nil, err
	}
	info := &assocInfo{owner: owner, prop: prop, target: target}
	if prop.Assoc.MappedBy == "" {
		switch prop.Assoc.Kind {
		case ToOne:
			if prop.Assoc.ForeignKey == "" {
				return nil, newConfigError("association", owner.Name, name, "owning reference has no foreign key")
			}
			info.sourceFK = prop.Assoc.ForeignKey
		case ManyToMany:
			if prop.Assoc.Middle == nil {
				return nil, newConfigError("association", owner.Name, name, "owning many-to-many has no middle table")
			}
			m := *prop.Assoc.Middle
			info.middle = &m
		default:
			return nil, newConfigError("association", owner.Name, name, "to-many association requires mappedBy")
		}
		return info, nil
	}

	owning, ok := target.Prop(prop.Assoc.MappedBy)
	if !ok || !owning.IsAssociation() {
		return nil, newConfigError("association", owner.Name, name,
			fmt.Sprintf("mappedBy %q is not an association of %s", prop.Assoc.MappedBy, target.Name))
	}
	info.owning = owning
	info.owningEntity = target
	switch prop.Assoc.Kind {
	case ToOne, ToMany:
		if !owning.ownsForeignKey() {
			return nil, newConfigError("association", owner.Name, name,
				fmt.Sprintf("mappedBy %s.%s must be an owning reference", target.Name, owning.Name))
		}
		info.targetFK = owning.Assoc.ForeignKey
	case ManyToMany:
		if owning.Assoc.Kind != ManyToMany || owning.Assoc.Middle == nil {
			return nil, newConfigError("association", owner.Name, name,
				fmt.Sprintf("mappedBy %s.%s must be an owning many-to-many", target.Name, owning.Name))
		}
		m := owning.Assoc.Middle.Inverse()
		info.middle = &m
	}
	return info, nil
}
