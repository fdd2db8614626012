package zgraph

import (
	"context"
	"fmt"
)

// SyncMode selects how Sync writes id pairs to a middle table.
type SyncMode int

const (
	// SyncInsert inserts every pair; existing rows fail with ErrDuplicateKey.
	SyncInsert SyncMode = iota + 1
	// SyncDelete deletes the pairs that exist.
	SyncDelete
	// SyncInsertMissing inserts the pairs that do not exist yet.
	SyncInsertMissing
)

func (m SyncMode) String() string {
	switch m {
	case SyncInsert:
		return "insert"
	case SyncDelete:
		return "delete"
	case SyncInsertMissing:
		return "insertMissing"
	default:
		return fmt.Sprintf("SyncMode(%d)", int(m))
	}
}

// IDPair is one middle table row seen from the operator's orientation.
type IDPair struct {
	Source any
	Target any
}

// Pair returns the pair (source, target).
func Pair(source, target any) IDPair { return IDPair{Source: source, Target: target} }

// AssociationSync writes the middle table of a many-to-many association.
// It is immutable; Reversed, ForConnection and WithReason return copies.
type AssociationSync struct {
	c *Client

	// entity and prop are always the owning side.
	entity   *EntityType
	prop     *Property
	middle   MiddleTable
	reversed bool

	conn   Conn
	reason any
	err    error
}

// Association returns the sync operator of the many-to-many entity.prop.
// When prop is the inverse side the operator starts reversed: pairs are
// still (entity id, target id).
func (c *Client) Association(entity, prop string) *AssociationSync {
	a := &AssociationSync{c: c}
	e, err := c.meta.Entity(entity)
	if err != nil {
		a.err = err
		return a
	}
	info, err := resolveAssociation(c.meta, e, prop)
	if err != nil {
		a.err = err
		return a
	}
	if info.kind() != ManyToMany {
		a.err = newConfigError("association", entity, prop, "only many-to-many associations have a middle table")
		return a
	}
	if info.owning != nil {
		a.entity = info.owningEntity
		a.prop = info.owning
		a.middle = *info.owning.Assoc.Middle
		a.reversed = true
		return a
	}
	a.entity = e
	a.prop = info.prop
	a.middle = *info.middle
	return a
}

// Err returns the error recorded while configuring the operator.
func (a *AssociationSync) Err() error { return a.err }

// Reversed returns the operator seen from the other side.
func (a *AssociationSync) Reversed() *AssociationSync {
	c := *a
	c.reversed = !a.reversed
	return &c
}

// IsReversed reports whether pairs are (target side id, owning side id).
func (a *AssociationSync) IsReversed() bool { return a.reversed }

// ForConnection returns an operator running on conn instead of the client
// provider.
func (a *AssociationSync) ForConnection(conn Conn) *AssociationSync {
	if conn == a.conn {
		return a
	}
	c := *a
	c.conn = conn
	return &c
}

// WithReason returns an operator passing reason to the triggers.
func (a *AssociationSync) WithReason(reason any) *AssociationSync {
	c := *a
	c.reason = reason
	return &c
}

// columns returns the physical (source, target) columns of the view.
func (a *AssociationSync) columns() (string, string) {
	if a.reversed {
		return a.middle.TargetJoinColumn, a.middle.JoinColumn
	}
	return a.middle.JoinColumn, a.middle.TargetJoinColumn
}

// owning returns p in owning orientation.
func (a *AssociationSync) owning(p IDPair) (source, target any) {
	if a.reversed {
		return p.Target, p.Source
	}
	return p.Source, p.Target
}

// Insert is Sync with SyncInsert.
func (a *AssociationSync) Insert(ctx context.Context, pairs ...IDPair) (int64, error) {
	return a.Sync(ctx, SyncInsert, pairs...)
}

// Delete is Sync with SyncDelete.
func (a *AssociationSync) Delete(ctx context.Context, pairs ...IDPair) (int64, error) {
	return a.Sync(ctx, SyncDelete, pairs...)
}

// InsertMissing is Sync with SyncInsertMissing.
func (a *AssociationSync) InsertMissing(ctx context.Context, pairs ...IDPair) (int64, error) {
	return a.Sync(ctx, SyncInsertMissing, pairs...)
}

// Sync writes pairs with mode and returns the number of affected rows.
// Duplicate pairs are written once. No statement runs for an empty input.
func (a *AssociationSync) Sync(ctx context.Context, mode SyncMode, pairs ...IDPair) (int64, error) {
	if a.err != nil {
		return 0, a.err
	}
	pairs, err := distinctPairs(pairs)
	if err != nil {
		return 0, err
	}
	if len(pairs) == 0 {
		return 0, nil
	}
	var n int64
	err = a.run(ctx, func(ctx context.Context, conn Conn) error {
		var err error
		n, err = a.sync(ctx, conn, mode, pairs)
		return err
	})
	return n, err
}

func (a *AssociationSync) run(ctx context.Context, fn func(context.Context, Conn) error) error {
	if a.conn != nil {
		return fn(ctx, a.conn)
	}
	return a.c.provider.RunWithConnection(ctx, fn)
}

func (a *AssociationSync) sync(ctx context.Context, conn Conn, mode SyncMode, pairs []IDPair) (int64, error) {
	switch mode {
	case SyncInsert:
		return a.insert(ctx, conn, pairs)
	case SyncDelete:
		if a.c.triggers != nil {
			existing, err := a.existing(ctx, conn, pairs)
			if err != nil {
				return 0, err
			}
			pairs = existing
		}
		return a.delete(ctx, conn, pairs)
	case SyncInsertMissing:
		existing, err := a.existing(ctx, conn, pairs)
		if err != nil {
			return 0, err
		}
		return a.insert(ctx, conn, subtractPairs(pairs, existing))
	default:
		return 0, newConfigError("association", a.entity.Name, a.prop.Name, "unknown sync mode "+mode.String())
	}
}

func distinctPairs(pairs []IDPair) ([]IDPair, error) {
	type key struct{ s, t any }
	seen := make(map[key]bool, len(pairs))
	out := make([]IDPair, 0, len(pairs))
	for _, p := range pairs {
		if p.Source == nil || p.Target == nil {
			return nil, ErrNilPointer
		}
		k := key{idKey(p.Source), idKey(p.Target)}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, p)
	}
	return out, nil
}

func subtractPairs(pairs, remove []IDPair) []IDPair {
	type key struct{ s, t any }
	drop := make(map[key]bool, len(remove))
	for _, p := range remove {
		drop[key{idKey(p.Source), idKey(p.Target)}] = true
	}
	var out []IDPair
	for _, p := range pairs {
		if !drop[key{idKey(p.Source), idKey(p.Target)}] {
			out = append(out, p)
		}
	}
	return out
}

func (a *AssociationSync) tuple(pairs []IDPair) *TupleIn {
	sc, tc := a.columns()
	rows := make([][]any, len(pairs))
	for i, p := range pairs {
		rows[i] = []any{p.Source, p.Target}
	}
	return tupleIn([]Expression{columnRef("", sc), columnRef("", tc)}, rows)
}

// existing returns the pairs that have a middle table row.
func (a *AssociationSync) existing(ctx context.Context, conn Conn, pairs []IDPair) ([]IDPair, error) {
	var out []IDPair
	if len(pairs) == 0 {
		return out, nil
	}
	sc, tc := a.columns()
	for _, chunk := range chunks(pairs, a.c.dialect.MaxBatchSize) {
		w := newSQLWriter(a.c.dialect)
		w.write(statementPrefix(a.c.dialect, templateSelect, a.middle.Table, sc, tc))
		w.expr(a.tuple(chunk))
		rows, err := a.c.query(ctx, conn, w.String(), w.args)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			out = append(out, IDPair{Source: r[0], Target: r[1]})
		}
	}
	return out, nil
}

func (a *AssociationSync) insert(ctx context.Context, conn Conn, pairs []IDPair) (int64, error) {
	if len(pairs) == 0 {
		return 0, nil
	}
	var total int64
	for _, chunk := range chunks(pairs, a.c.dialect.MaxBatchSize) {
		n, err := a.insertChunk(ctx, conn, chunk)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (a *AssociationSync) insertChunk(ctx context.Context, conn Conn, pairs []IDPair) (int64, error) {
	sc, tc := a.columns()
	w := newSQLWriter(a.c.dialect)
	w.write(statementPrefix(a.c.dialect, templateInsert, a.middle.Table, sc, tc))
	for i, p := range pairs {
		if i > 0 {
			w.write(", ")
		}
		w.write("(")
		w.variable(p.Source)
		w.write(", ")
		w.variable(p.Target)
		w.write(")")
	}
	n, err := a.c.exec(ctx, conn, w.String(), w.args)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		n = int64(len(pairs))
	}
	for _, p := range pairs {
		s, t := a.owning(p)
		a.c.fire(func(tr Triggers) { tr.FireMiddleTableInsert(ctx, a.entity, a.prop, s, t, a.reason) })
	}
	return n, nil
}

func (a *AssociationSync) delete(ctx context.Context, conn Conn, pairs []IDPair) (int64, error) {
	if len(pairs) == 0 {
		return 0, nil
	}
	var total int64
	for _, chunk := range chunks(pairs, a.c.dialect.MaxBatchSize) {
		n, err := a.deleteChunk(ctx, conn, chunk)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (a *AssociationSync) deleteChunk(ctx context.Context, conn Conn, pairs []IDPair) (int64, error) {
	w := newSQLWriter(a.c.dialect)
	w.write(statementPrefix(a.c.dialect, templateDelete, a.middle.Table))
	w.expr(a.tuple(pairs))
	n, err := a.c.exec(ctx, conn, w.String(), w.args)
	if err != nil {
		return 0, err
	}
	for _, p := range pairs {
		s, t := a.owning(p)
		a.c.fire(func(tr Triggers) { tr.FireMiddleTableDelete(ctx, a.entity, a.prop, s, t, a.reason) })
	}
	return n, nil
}

// ReplaceResult counts the rows Replace changed.
type ReplaceResult struct {
	Inserted int64
	Deleted  int64
}

// Replace makes targetIDs the complete target list of sourceID: rows to
// other targets are deleted and missing rows inserted.
func (a *AssociationSync) Replace(ctx context.Context, sourceID any, targetIDs ...any) (ReplaceResult, error) {
	var res ReplaceResult
	if a.err != nil {
		return res, a.err
	}
	if sourceID == nil {
		return res, ErrNilPointer
	}
	want := make([]IDPair, len(targetIDs))
	for i, t := range targetIDs {
		want[i] = Pair(sourceID, t)
	}
	want, err := distinctPairs(want)
	if err != nil {
		return res, err
	}

	err = a.run(ctx, func(ctx context.Context, conn Conn) error {
		current, err := a.targetsOf(ctx, conn, sourceID)
		if err != nil {
			return err
		}
		if res.Deleted, err = a.delete(ctx, conn, subtractPairs(current, want)); err != nil {
			return err
		}
		res.Inserted, err = a.insert(ctx, conn, subtractPairs(want, current))
		return err
	})
	return res, err
}

func (a *AssociationSync) targetsOf(ctx context.Context, conn Conn, sourceID any) ([]IDPair, error) {
	sc, tc := a.columns()
	w := newSQLWriter(a.c.dialect)
	w.write(statementPrefix(a.c.dialect, templateSelect, a.middle.Table, tc))
	w.expr(Eq(columnRef("", sc), sourceID))
	rows, err := a.c.query(ctx, conn, w.String(), w.args)
	if err != nil {
		return nil, err
	}
	out := make([]IDPair, len(rows))
	for i, r := range rows {
		out[i] = Pair(sourceID, r[0])
	}
	return out, nil
}
