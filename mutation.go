package zgraph

import (
	"context"
)

// DeleteByIDs deletes the rows of entity with the given ids and returns the
// number of deleted entity rows. Middle table rows of every many-to-many
// association of entity are removed first. With triggers, association
// events fire for every removed link and entity events carry the old rows.
//
// The statements run on one connection of the client provider. Run it
// inside Transaction for an atomic delete.
func (c *Client) DeleteByIDs(ctx context.Context, entity string, ids ...any) (int64, error) {
	e, err := c.meta.Entity(entity)
	if err != nil {
		return 0, err
	}
	if e.Abstract {
		return 0, newConfigError("delete", e.Name, "", "mapped superclass cannot be deleted")
	}
	set := newIDSet(len(ids))
	for _, id := range ids {
		if id == nil {
			return 0, ErrNilPointer
		}
		if isCollection(id) {
			return 0, newConfigError("delete", e.Name, "", "identifier cannot be a collection")
		}
		set.add(id)
	}
	if set.len() == 0 {
		return 0, nil
	}

	var n int64
	err = c.provider.RunWithConnection(ctx, func(ctx context.Context, conn Conn) error {
		for _, chunk := range chunks(set.values, c.dialect.MaxBatchSize) {
			deleted, err := c.deleteChunk(ctx, conn, e, chunk)
			if err != nil {
				return err
			}
			n += deleted
		}
		return nil
	})
	return n, err
}

func (c *Client) deleteChunk(ctx context.Context, conn Conn, e *EntityType, ids []any) (int64, error) {
	var old []*Object
	if c.triggers != nil {
		t := NewTable(c.meta, e.Name)
		rows, err := c.loadRows(ctx, conn, From(t).Where(t.ID().In(ids...)).Select(t))
		if err != nil {
			return 0, err
		}
		props := selectedProps(e, nil)
		for _, r := range rows {
			o, err := readObject(c.meta, e, props, r)
			if err != nil {
				return 0, err
			}
			old = append(old, o)
		}
	}

	for _, p := range e.Associations() {
		if p.Assoc.Kind != ManyToMany {
			continue
		}
		a := c.Association(e.Name, p.Name)
		if a.err != nil {
			return 0, a.err
		}
		if err := a.detach(ctx, conn, ids); err != nil {
			return 0, err
		}
	}

	w := newSQLWriter(c.dialect)
	w.write(statementPrefix(c.dialect, templateDelete, e.Table))
	w.expr(In(columnRef("", e.ID().Column), ids...))
	n, err := c.exec(ctx, conn, w.String(), w.args)
	if err != nil {
		return 0, err
	}

	for _, o := range old {
		c.fire(func(tr Triggers) { tr.FireEntityTableChange(ctx, o, nil, nil) })
	}
	return n, nil
}

// detach deletes every middle table row whose source is one of ids.
func (a *AssociationSync) detach(ctx context.Context, conn Conn, ids []any) error {
	sc, _ := a.columns()
	if a.c.triggers != nil {
		pairs, err := a.linksOf(ctx, conn, ids)
		if err != nil {
			return err
		}
		_, err = a.delete(ctx, conn, pairs)
		return err
	}
	w := newSQLWriter(a.c.dialect)
	w.write(statementPrefix(a.c.dialect, templateDelete, a.middle.Table))
	w.expr(In(columnRef("", sc), ids...))
	_, err := a.c.exec(ctx, conn, w.String(), w.args)
	return err
}

func (a *AssociationSync) linksOf(ctx context.Context, conn Conn, ids []any) ([]IDPair, error) {
	sc, tc := a.columns()
	w := newSQLWriter(a.c.dialect)
	w.write(statementPrefix(a.c.dialect, templateSelect, a.middle.Table, sc, tc))
	w.expr(In(columnRef("", sc), ids...))
	rows, err := a.c.query(ctx, conn, w.String(), w.args)
	if err != nil {
		return nil, err
	}
	out := make([]IDPair, len(rows))
	for i, r := range rows {
		out[i] = Pair(r[0], r[1])
	}
	return out, nil
}
