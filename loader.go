package zgraph

import (
	"context"
	"fmt"
	"reflect"
)

const collectionSourceMsg = "source cannot be collection, do you want to call 'BatchLoad'?"

// loaderBase is the state shared by reference and list loaders. Loaders
// are immutable; the For* methods return copies.
type loaderBase struct {
	c       *Client
	info    *assocInfo
	conn    Conn
	filter  Filter
	fetcher *Fetcher
	err     error
}

func (c *Client) newLoaderBase(entity, prop string) loaderBase {
	e, err := c.meta.Entity(entity)
	if err != nil {
		return loaderBase{c: c, err: err}
	}
	info, err := resolveAssociation(c.meta, e, prop)
	if err != nil {
		return loaderBase{c: c, err: err}
	}
	return loaderBase{c: c, info: info, fetcher: defaultFetcher(info.target)}
}

// defaultFetcher loads every scalar and owning reference id of e.
func defaultFetcher(e *EntityType) *Fetcher {
	f := NewFetcher(e).AddAll()
	for _, p := range e.Props() {
		if p.ownsForeignKey() {
			f = f.Add(p.Name)
		}
	}
	return f
}

func (l loaderBase) withFetcher(f *Fetcher) (loaderBase, bool) {
	if l.err != nil {
		return l, false
	}
	if f == nil {
		l.err = ErrNilPointer
		return l, true
	}
	if f == l.fetcher || (f.err == nil && l.fetcher.err == nil && f.String() == l.fetcher.String()) {
		return l, false
	}
	if f.err != nil {
		l.err = f.err
		return l, true
	}
	if !targets(l.info.prop, f.entity) {
		l.err = newConfigError("loader", l.info.owner.Name, l.info.prop.Name,
			fmt.Sprintf("fetcher is for %s, association targets %s", f.entity.Name, l.info.target.Name))
		return l, true
	}
	l.fetcher = f
	return l, true
}

func (l loaderBase) load(ctx context.Context, sources []source, limit, offset int) (map[any][]*Object, error) {
	if l.err != nil {
		return nil, l.err
	}
	child := l.fetcher
	if child.IsSimple() {
		child = nil
	}
	ld := assocLoad{c: l.c, info: l.info, child: child, filter: l.filter, limit: limit, offset: offset}

	if len(sources) == 0 {
		return map[any][]*Object{}, nil
	}
	var out map[any][]*Object
	run := func(ctx context.Context, conn Conn) error {
		var err error
		out, err = ld.run(ctx, conn, sources)
		if err != nil || child == nil {
			return err
		}
		return l.complete(ctx, conn, sources, out, child)
	}
	var err error
	if l.conn != nil {
		err = run(ctx, l.conn)
	} else {
		err = l.c.reads.RunWithConnection(ctx, run)
	}
	if err != nil {
		return nil, &LoadError{Entity: l.info.owner.Name, Association: l.info.prop.Name, Err: err}
	}
	return out, nil
}

// complete interns the loaded targets and loads the associations of child
// onto them.
func (l loaderBase) complete(ctx context.Context, conn Conn, sources []source, res map[any][]*Object, child *Fetcher) error {
	eng := l.c.newFetchEngine(conn)
	shape := child.String()
	var targets []*Object
	seen := make(map[*Object]bool)
	done := make(map[any]bool)
	for _, s := range sources {
		k := idKey(s.id)
		if done[k] {
			continue
		}
		done[k] = true
		list := res[k]
		for i, t := range list {
			list[i] = eng.arena.intern(t, shape)
			if !seen[list[i]] {
				seen[list[i]] = true
				targets = append(targets, list[i])
			}
		}
	}
	return eng.run(ctx, targets, child)
}

// objectSources turns owner objects into sources. Owners whose reference
// is loaded carry its foreign key.
func (l loaderBase) objectSources(objects []*Object) ([]source, error) {
	out := make([]source, 0, len(objects))
	for _, o := range objects {
		if o == nil {
			return nil, ErrNilPointer
		}
		if !o.typ.IsSubtypeOf(l.info.owner) {
			return nil, newConfigError("loader", l.info.owner.Name, l.info.prop.Name,
				fmt.Sprintf("source is a %s", o.typ.Name))
		}
		if o.ID() == nil {
			return nil, newConfigError("loader", l.info.owner.Name, l.info.prop.Name, "source has no id")
		}
		s := source{id: o.ID()}
		if l.info.sourceFK != "" {
			if ref, loaded := o.Ref(l.info.prop.Name); loaded {
				s.fkKnown = true
				if ref != nil {
					s.fk = ref.ID()
				}
			}
		}
		out = append(out, s)
	}
	return out, nil
}

func (l loaderBase) idSources(ids []any) ([]source, error) {
	out := make([]source, 0, len(ids))
	for _, id := range ids {
		if id == nil {
			return nil, ErrNilPointer
		}
		if isCollection(id) {
			return nil, newConfigError("loader", l.info.owner.Name, l.info.prop.Name, "identifier cannot be a collection")
		}
		if !reflect.TypeOf(id).Comparable() {
			return nil, newConfigError("loader", l.info.owner.Name, l.info.prop.Name,
				fmt.Sprintf("identifier of type %T is not comparable", id))
		}
		out = append(out, source{id: id})
	}
	return out, nil
}

// ReferenceLoader loads a to-one association for one or many owners.
type ReferenceLoader struct {
	loaderBase
}

// ReferenceLoader returns a loader for the to-one association entity.prop.
// Targets are loaded with all scalars unless ForFetcher says otherwise.
func (c *Client) ReferenceLoader(entity, prop string) *ReferenceLoader {
	b := c.newLoaderBase(entity, prop)
	if b.err == nil && !b.info.prop.IsReference() {
		b.err = newConfigError("loader", entity, prop, "reference loader needs a to-one association, use ListLoader")
	}
	return &ReferenceLoader{b}
}

// Err returns the error recorded while configuring the loader.
func (l *ReferenceLoader) Err() error { return l.err }

// ForConnection returns a loader running on conn.
func (l *ReferenceLoader) ForConnection(conn Conn) *ReferenceLoader {
	if conn == l.conn {
		return l
	}
	c := *l
	c.conn = conn
	return &c
}

// ForFilter returns a loader applying f to the targets. Targets the filter
// rejects load as absent, so the reference must be nullable.
func (l *ReferenceLoader) ForFilter(f Filter) *ReferenceLoader {
	if l.err != nil || sameFilter(f, l.filter) {
		return l
	}
	c := *l
	if f != nil && !l.info.prop.Nullable && l.info.prop.Assoc.MappedBy == "" {
		c.err = newConfigError("loader", l.info.owner.Name, l.info.prop.Name,
			"filter cannot be applied to a non-null reference")
		return &c
	}
	c.filter = f
	return &c
}

// ForFetcher returns a loader shaping the targets with f.
func (l *ReferenceLoader) ForFetcher(f *Fetcher) *ReferenceLoader {
	b, changed := l.withFetcher(f)
	if !changed {
		return l
	}
	return &ReferenceLoader{b}
}

// Load returns the target of src, an *Object or an identifier. The
// target is nil when the reference is absent.
func (l *ReferenceLoader) Load(ctx context.Context, src any) (*Object, error) {
	if l.err != nil {
		return nil, l.err
	}
	if isCollection(src) {
		return nil, newConfigError("loader", l.info.owner.Name, l.info.prop.Name, collectionSourceMsg)
	}
	if o, ok := src.(*Object); ok {
		m, err := l.BatchLoad(ctx, []*Object{o})
		if err != nil {
			return nil, err
		}
		return m[o], nil
	}
	m, err := l.BatchLoadByIDs(ctx, []any{src})
	if err != nil {
		return nil, err
	}
	return m[src], nil
}

// BatchLoad loads the targets of many owners in one batch. Every owner is
// a key of the result; absent references map to nil.
func (l *ReferenceLoader) BatchLoad(ctx context.Context, sources []*Object) (map[*Object]*Object, error) {
	if l.err != nil {
		return nil, l.err
	}
	srcs, err := l.objectSources(sources)
	if err != nil {
		return nil, err
	}
	res, err := l.load(ctx, srcs, 0, 0)
	if err != nil {
		return nil, err
	}
	out := make(map[*Object]*Object, len(sources))
	for _, o := range sources {
		out[o] = first(res[idKey(o.ID())])
	}
	return out, nil
}

// BatchLoadByIDs is BatchLoad for owner identifiers. The result is keyed by
// the identifiers as given.
func (l *ReferenceLoader) BatchLoadByIDs(ctx context.Context, ids []any) (map[any]*Object, error) {
	if l.err != nil {
		return nil, l.err
	}
	srcs, err := l.idSources(ids)
	if err != nil {
		return nil, err
	}
	res, err := l.load(ctx, srcs, 0, 0)
	if err != nil {
		return nil, err
	}
	out := make(map[any]*Object, len(ids))
	for _, id := range ids {
		out[id] = first(res[idKey(id)])
	}
	return out, nil
}

func first(l []*Object) *Object {
	if len(l) == 0 {
		return nil
	}
	return l[0]
}

// ListLoader loads a to-many or many-to-many association.
type ListLoader struct {
	loaderBase
}

// ListLoader returns a loader for the list association entity.prop.
func (c *Client) ListLoader(entity, prop string) *ListLoader {
	b := c.newLoaderBase(entity, prop)
	if b.err == nil && !b.info.prop.IsList() {
		b.err = newConfigError("loader", entity, prop, "list loader needs a list association, use ReferenceLoader")
	}
	return &ListLoader{b}
}

// Err returns the error recorded while configuring the loader.
func (l *ListLoader) Err() error { return l.err }

// ForConnection returns a loader running on conn.
func (l *ListLoader) ForConnection(conn Conn) *ListLoader {
	if conn == l.conn {
		return l
	}
	c := *l
	c.conn = conn
	return &c
}

// ForFilter returns a loader applying f to the targets.
func (l *ListLoader) ForFilter(f Filter) *ListLoader {
	if l.err != nil || sameFilter(f, l.filter) {
		return l
	}
	c := *l
	c.filter = f
	return &c
}

// ForFetcher returns a loader shaping the targets with f.
func (l *ListLoader) ForFetcher(f *Fetcher) *ListLoader {
	b, changed := l.withFetcher(f)
	if !changed {
		return l
	}
	return &ListLoader{b}
}

// Load returns the targets of src, an *Object or an identifier.
func (l *ListLoader) Load(ctx context.Context, src any) ([]*Object, error) {
	return l.LoadPage(ctx, src, 0, 0)
}

// LoadPage returns up to limit targets of src after skipping offset.
// A zero limit means no limit.
func (l *ListLoader) LoadPage(ctx context.Context, src any, limit, offset int) ([]*Object, error) {
	if l.err != nil {
		return nil, l.err
	}
	if isCollection(src) {
		return nil, newConfigError("loader", l.info.owner.Name, l.info.prop.Name, collectionSourceMsg)
	}
	if limit < 0 || offset < 0 {
		return nil, newConfigError("loader", l.info.owner.Name, l.info.prop.Name, "limit and offset cannot be negative")
	}
	var (
		srcs []source
		err  error
	)
	if o, ok := src.(*Object); ok {
		srcs, err = l.objectSources([]*Object{o})
	} else {
		srcs, err = l.idSources([]any{src})
	}
	if err != nil {
		return nil, err
	}
	res, err := l.load(ctx, srcs, limit, offset)
	if err != nil {
		return nil, err
	}
	list := res[idKey(srcs[0].id)]
	if list == nil {
		list = []*Object{}
	}
	return list, nil
}

// BatchLoad loads the targets of many owners with one statement. Every
// owner is a key of the result; owners without targets map to an empty
// list.
func (l *ListLoader) BatchLoad(ctx context.Context, sources []*Object) (map[*Object][]*Object, error) {
	if l.err != nil {
		return nil, l.err
	}
	srcs, err := l.objectSources(sources)
	if err != nil {
		return nil, err
	}
	res, err := l.load(ctx, srcs, 0, 0)
	if err != nil {
		return nil, err
	}
	out := make(map[*Object][]*Object, len(sources))
	for _, o := range sources {
		out[o] = nonNil(res[idKey(o.ID())])
	}
	return out, nil
}

// BatchLoadByIDs is BatchLoad for owner identifiers.
func (l *ListLoader) BatchLoadByIDs(ctx context.Context, ids []any) (map[any][]*Object, error) {
	if l.err != nil {
		return nil, l.err
	}
	srcs, err := l.idSources(ids)
	if err != nil {
		return nil, err
	}
	res, err := l.load(ctx, srcs, 0, 0)
	if err != nil {
		return nil, err
	}
	out := make(map[any][]*Object, len(ids))
	for _, id := range ids {
		out[id] = nonNil(res[idKey(id)])
	}
	return out, nil
}

func nonNil(l []*Object) []*Object {
	if l == nil {
		return []*Object{}
	}
	return l
}
