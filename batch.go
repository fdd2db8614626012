package zgraph

import (
	"context"
	"fmt"
)

// source is one owner of an association load. fk is the foreign key of an
// owning reference when the owner object carries it.
type source struct {
	id      any
	fk      any
	fkKnown bool
}

// assocLoad resolves one association for a batch of sources with as few
// statements as the association kind allows. A nil child loads target ids
// only.
type assocLoad struct {
	c      *Client
	info   *assocInfo
	child  *Fetcher
	filter Filter

	// limit and offset page the targets; only valid for a single source.
	limit, offset int
}

// targetFetcher is the fetcher shaping the loaded targets. It is never nil.
func (l assocLoad) targetFetcher() *Fetcher {
	if l.child != nil {
		return l.child
	}
	return NewFetcher(l.info.target)
}

func (l assocLoad) idOnly() bool {
	return l.child == nil && l.filter == nil
}

// run returns the targets of every source keyed by idKey of the source id.
// Sources without targets have no entry. Sources beyond the dialect batch
// size are loaded with one statement per chunk.
func (l assocLoad) run(ctx context.Context, conn Conn, sources []source) (map[any][]*Object, error) {
	out := make(map[any][]*Object, len(sources))
	if len(sources) == 0 {
		return out, nil
	}
	if (l.limit > 0 || l.offset > 0) && len(sources) > 1 {
		return nil, newConfigError("loader", l.info.owner.Name, l.info.prop.Name, "paging needs a single source")
	}
	for _, chunk := range chunks(distinctSources(sources), l.c.dialect.MaxBatchSize) {
		if _, err := l.runChunk(ctx, conn, chunk, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (l assocLoad) runChunk(ctx context.Context, conn Conn, sources []source, out map[any][]*Object) (map[any][]*Object, error) {
	switch {
	case l.info.sourceFK != "":
		return l.ownedReference(ctx, conn, sources, out)
	case l.info.targetFK != "":
		return l.byTargetFK(ctx, conn, sources, out)
	case l.info.middle != nil:
		if l.idOnly() {
			return l.middleOnly(ctx, conn, sources, out)
		}
		return l.byInverseJoin(ctx, conn, sources, out)
	}
	return nil, newConfigError("loader", l.info.owner.Name, l.info.prop.Name, "unsupported association")
}

// distinctSources drops sources repeating an earlier id.
func distinctSources(sources []source) []source {
	seen := newIDSet(len(sources))
	out := sources[:0:0]
	for _, s := range sources {
		if seen.add(s.id) {
			out = append(out, s)
		}
	}
	return out
}

// chunks splits items into runs of at most size. A size of zero or less
// keeps items whole.
func chunks[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) <= size {
		return [][]T{items}
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for len(items) > size {
		out = append(out, items[:size:size])
		items = items[size:]
	}
	return append(out, items)
}

func sourceIDs(sources []source) []any {
	ids := newIDSet(len(sources))
	for _, s := range sources {
		ids.add(s.id)
	}
	return ids.values
}

// ownedReference loads an owning to-one. Sources with a loaded foreign key
// are resolved from it; the others need the owner table.
func (l assocLoad) ownedReference(ctx context.Context, conn Conn, sources []source, out map[any][]*Object) (map[any][]*Object, error) {
	var known, unknown []source
	for _, s := range sources {
		if s.fkKnown {
			known = append(known, s)
		} else {
			unknown = append(unknown, s)
		}
	}

	if len(known) > 0 {
		if l.idOnly() {
			for _, s := range known {
				if s.fk != nil {
					out[idKey(s.id)] = []*Object{idOnlyObject(l.info.target, s.fk)}
				}
			}
		} else {
			fks := newIDSet(len(known))
			for _, s := range known {
				if s.fk != nil {
					fks.add(s.fk)
				}
			}
			byID, err := l.targetsByID(ctx, conn, fks.values)
			if err != nil {
				return nil, err
			}
			for _, s := range known {
				if t, ok := byID[idKey(s.fk)]; ok && s.fk != nil {
					out[idKey(s.id)] = []*Object{t}
				}
			}
		}
	}

	if len(unknown) == 0 {
		return out, nil
	}
	if l.idOnly() {
		return l.foreignKeys(ctx, conn, sourceIDs(unknown), out)
	}
	return l.byInverseJoin(ctx, conn, unknown, out)
}

// targetsByID loads the targets with the given ids.
func (l assocLoad) targetsByID(ctx context.Context, conn Conn, ids []any) (map[any]*Object, error) {
	byID := make(map[any]*Object, len(ids))
	if len(ids) == 0 {
		return byID, nil
	}
	f := l.targetFetcher()
	t := NewTable(l.c.meta, f.entity.Name)
	q := From(t).Where(t.ID().In(ids...)).Select(t.Fetch(f))
	q = applyFilter(l.filter, t, q)
	rows, err := l.c.loadRows(ctx, conn, q)
	if err != nil {
		return nil, err
	}
	props := selectedProps(f.entity, f)
	for _, r := range rows {
		o, err := readObject(l.c.meta, f.entity, props, r)
		if err != nil {
			return nil, err
		}
		byID[idKey(o.ID())] = o
	}
	return byID, nil
}

// foreignKeys reads the foreign keys of owners whose objects do not carry
// them. Owners with a null key get no entry.
func (l assocLoad) foreignKeys(ctx context.Context, conn Conn, ids []any, out map[any][]*Object) (map[any][]*Object, error) {
	owner := NewTable(l.c.meta, l.info.owner.Name)
	q := From(owner).
		Where(owner.ID().In(ids...)).
		Select(owner.ID(), owner.Join(l.info.prop.Name).ID())
	rows, err := l.c.loadRows(ctx, conn, q)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if r[1] != nil {
			out[idKey(r[0])] = []*Object{idOnlyObject(l.info.target, r[1])}
		}
	}
	return out, nil
}

// byTargetFK loads the targets holding a foreign key to the owners: inverse
// one-to-one and one-to-many associations.
func (l assocLoad) byTargetFK(ctx context.Context, conn Conn, sources []source, out map[any][]*Object) (map[any][]*Object, error) {
	f := l.targetFetcher()
	t := NewTable(l.c.meta, f.entity.Name)
	backRef := t.Join(l.info.owning.Name).ID()
	q := From(t).
		Where(backRef.In(sourceIDs(sources)...)).
		Select(t.Fetch(f), backRef)
	q = applyFilter(l.filter, t, q)
	return l.collect(ctx, conn, q.Limit(l.limit).Offset(l.offset), f, out)
}

// byInverseJoin loads targets joined back to their owners, selecting the
// owner id next to every target.
func (l assocLoad) byInverseJoin(ctx context.Context, conn Conn, sources []source, out map[any][]*Object) (map[any][]*Object, error) {
	f := l.targetFetcher()
	t := NewTable(l.c.meta, f.entity.Name)
	owner := t.InverseJoin(l.info.owner.Name, l.info.prop.Name).ID()
	q := From(t).
		Where(owner.In(sourceIDs(sources)...)).
		Select(t.Fetch(f), owner)
	q = applyFilter(l.filter, t, q)
	return l.collect(ctx, conn, q.Limit(l.limit).Offset(l.offset), f, out)
}

// collect reads rows of target columns followed by the owner id.
func (l assocLoad) collect(ctx context.Context, conn Conn, q Query, f *Fetcher, out map[any][]*Object) (map[any][]*Object, error) {
	rows, err := l.c.loadRows(ctx, conn, q)
	if err != nil {
		return nil, err
	}
	props := selectedProps(f.entity, f)
	for _, r := range rows {
		o, err := readObject(l.c.meta, f.entity, props, r[:len(props)])
		if err != nil {
			return nil, err
		}
		if o == nil {
			continue
		}
		k := idKey(r[len(props)])
		out[k] = append(out[k], o)
	}
	return out, nil
}

// middleOnly reads target ids from the middle table without touching the
// target table.
func (l assocLoad) middleOnly(ctx context.Context, conn Conn, sources []source, out map[any][]*Object) (map[any][]*Object, error) {
	m := l.info.middle
	w := newSQLWriter(l.c.dialect)
	w.write("select ")
	w.ident(m.JoinColumn)
	w.write(", ")
	w.ident(m.TargetJoinColumn)
	w.write(" from ")
	w.ident(m.Table)
	w.write(" where ")
	w.expr(In(columnRef("", m.JoinColumn), sourceIDs(sources)...))
	w.paginate(l.limit, l.offset)
	if w.err != nil {
		return nil, w.err
	}
	rows, err := l.c.query(ctx, conn, w.String(), w.args)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		k := idKey(r[0])
		out[k] = append(out[k], idOnlyObject(l.info.target, r[1]))
	}
	return out, nil
}

// loadRows renders q and reads its raw rows.
func (c *Client) loadRows(ctx context.Context, conn Conn, q Query) ([][]any, error) {
	if q.err != nil {
		return nil, q.err
	}
	text, args, err := Render(q, c.dialect)
	if err != nil {
		return nil, fmt.Errorf("zgraph: render load query: %w", err)
	}
	return c.query(ctx, conn, text, args)
}
