package zgraph

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Fetcher describes the shape of an object graph to load: the scalar
// properties of an entity and, per association, the shape of its targets.
// The identifier is always loaded. Fetchers are immutable; every builder
// method returns a new value.
type Fetcher struct {
	entity  *EntityType
	scalars []string
	fields  []*fetchField
	shape   string
	err     error
}

type fetchField struct {
	prop      *Property
	child     *Fetcher
	filter    Filter
	filterKey string

	// depth is the number of levels a recursive field still expands. The
	// child of a recursive field is its owner fetcher.
	recursive bool
	depth     int
}

// FieldOption configures an association field of a fetcher.
type FieldOption func(*fetchField)

// WithFilter restricts and orders the targets of a list association.
func WithFilter(f Filter) FieldOption {
	key := filterKey(f)
	return func(fd *fetchField) {
		fd.filter = f
		fd.filterKey = key
	}
}

// NewFetcher returns an id-only fetcher for e.
func NewFetcher(e *EntityType) *Fetcher {
	f := &Fetcher{entity: e}
	if e == nil {
		f.err = ErrNilPointer
		return f
	}
	if e.Abstract {
		f.err = newConfigError("fetcher", e.Name, "", "mapped superclass cannot be fetched")
	}
	return f.finish()
}

// Entity returns the fetched entity type.
func (f *Fetcher) Entity() *EntityType { return f.entity }

// Err returns the first error recorded while building the fetcher.
func (f *Fetcher) Err() error { return f.err }

// IsSimple reports whether f loads the identifier only.
func (f *Fetcher) IsSimple() bool { return len(f.scalars) == 0 && len(f.fields) == 0 }

func (f *Fetcher) clone() *Fetcher {
	return &Fetcher{
		entity:  f.entity,
		scalars: slices.Clip(f.scalars),
		fields:  slices.Clip(f.fields),
		err:     f.err,
	}
}

// Add loads the named properties. An association is loaded with an
// id-only child.
func (f *Fetcher) Add(props ...string) *Fetcher {
	if f.err != nil {
		return f
	}
	c := f.clone()
	for _, name := range props {
		p, ok := f.entity.Prop(name)
		if !ok {
			c.err = unknownProperty("fetcher", f.entity, name)
			return c
		}
		if p.IsAssociation() {
			c = c.with(p, nil)
			if c.err != nil {
				return c
			}
			continue
		}
		if !p.IsID && !slices.Contains(c.scalars, name) {
			c.scalars = append(c.scalars, name)
		}
	}
	return c.finish()
}

// AddAll loads every scalar property.
func (f *Fetcher) AddAll() *Fetcher {
	if f.err != nil {
		return f
	}
	var names []string
	for _, p := range f.entity.Scalars() {
		names = append(names, p.Name)
	}
	return f.Add(names...)
}

// With loads the association prop with the given child shape. A nil child
// loads target ids only.
func (f *Fetcher) With(prop string, child *Fetcher, opts ...FieldOption) *Fetcher {
	if f.err != nil {
		return f
	}
	p, ok := f.entity.Prop(prop)
	if !ok {
		return f.failed(unknownProperty("fetcher", f.entity, prop))
	}
	if !p.IsAssociation() {
		return f.failed(newConfigError("fetcher", f.entity.Name, prop, "only associations take a child fetcher"))
	}
	if child != nil && child.err != nil {
		return f.failed(child.err)
	}
	c := f.clone().with(p, child, opts...)
	if c.err != nil {
		return c
	}
	return c.finish()
}

// Recursive loads the self-referencing association prop down to depth
// levels, each level with the shape of f.
func (f *Fetcher) Recursive(prop string, depth int, opts ...FieldOption) *Fetcher {
	if f.err != nil {
		return f
	}
	p, ok := f.entity.Prop(prop)
	if !ok {
		return f.failed(unknownProperty("fetcher", f.entity, prop))
	}
	if !p.IsAssociation() || !targets(p, f.entity) {
		return f.failed(newConfigError("fetcher", f.entity.Name, prop, "recursive fields must reference the same entity"))
	}
	if depth <= 0 {
		return f.failed(newConfigError("fetcher", f.entity.Name, prop, "recursive fields need a positive depth"))
	}
	fd := &fetchField{prop: p, recursive: true, depth: depth}
	for _, opt := range opts {
		opt(fd)
	}
	c := f.clone()
	c.fields = replaceField(c.fields, fd)
	return c.finish()
}

// targets reports whether the association p accepts objects of type e.
func targets(p *Property, e *EntityType) bool {
	for t := e; t != nil; t = t.super {
		if t.Name == p.Assoc.Target {
			return true
		}
	}
	return false
}

func (f *Fetcher) with(p *Property, child *Fetcher, opts ...FieldOption) *Fetcher {
	if child != nil && !targets(p, child.entity) {
		f.err = newConfigError("fetcher", f.entity.Name, p.Name,
			fmt.Sprintf("child fetcher is for %s, association targets %s", child.entity.Name, p.Assoc.Target))
		return f
	}
	if child != nil && child.IsSimple() {
		child = nil
	}
	fd := &fetchField{prop: p, child: child}
	for _, opt := range opts {
		opt(fd)
	}
	f.fields = replaceField(f.fields, fd)
	return f
}

func replaceField(fields []*fetchField, fd *fetchField) []*fetchField {
	for i, old := range fields {
		if old.prop.Name == fd.prop.Name {
			out := slices.Clone(fields)
			out[i] = fd
			return out
		}
	}
	return append(fields, fd)
}

func (f *Fetcher) failed(err error) *Fetcher {
	c := f.clone()
	c.err = err
	return c
}

func (f *Fetcher) finish() *Fetcher {
	if f.err == nil {
		f.shape = f.render()
	}
	return f
}

// childOf returns the shape the targets of fd are loaded with. It is nil
// for an id-only child.
func (f *Fetcher) childOf(fd *fetchField) *Fetcher {
	if !fd.recursive {
		return fd.child
	}
	c := f.clone()
	if fd.depth <= 1 {
		c.fields = slices.DeleteFunc(slices.Clone(c.fields), func(x *fetchField) bool { return x == fd })
	} else {
		next := *fd
		next.depth--
		c.fields = replaceField(c.fields, &next)
	}
	return c.finish()
}

// String returns the canonical form of the fetcher, for example
// "Book { id, name, store { id, name }, authors { id } }". Fetchers with
// equal strings load equal shapes.
func (f *Fetcher) String() string {
	if f.err != nil {
		return "<invalid fetcher: " + f.err.Error() + ">"
	}
	return f.shape
}

func (f *Fetcher) render() string {
	var sb strings.Builder
	sb.WriteString(f.entity.Name)
	sb.WriteString(" ")
	f.renderBody(&sb)
	return sb.String()
}

func (f *Fetcher) renderBody(sb *strings.Builder) {
	sb.WriteString("{ ")
	sb.WriteString(f.entity.ID().Name)
	for _, s := range f.scalars {
		sb.WriteString(", ")
		sb.WriteString(s)
	}
	for _, fd := range f.fields {
		sb.WriteString(", ")
		sb.WriteString(fd.prop.Name)
		if fd.recursive {
			sb.WriteString("*")
			sb.WriteString(strconv.Itoa(fd.depth))
		}
		if fd.filter != nil {
			fmt.Fprintf(sb, " @filter(%s)", fd.filterKey)
		}
		if fd.child != nil {
			sb.WriteString(" ")
			fd.child.renderBody(sb)
		}
	}
	sb.WriteString(" }")
}

// idOnlyShape is the shape of a reference read from a foreign key.
func idOnlyShape(e *EntityType) string {
	return e.Name + " { " + e.ID().Name + " }"
}

// shapeOf returns the canonical shape of an optional child fetcher.
func shapeOf(target *EntityType, child *Fetcher) string {
	if child == nil {
		return idOnlyShape(target)
	}
	return child.String()
}
