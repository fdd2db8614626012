package zgraph

import (
	"context"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mappingTable = "BOOK_AUTHOR_MAPPING"

func TestAssociation_Insert(t *testing.T) {
	f := newBookFixture(t)
	a := f.client.Association("Book", "authors")
	require.NoError(t, a.Err())

	n, err := a.Insert(context.Background(),
		Pair(int64(3), int64(1)),
		Pair(int64(3), int64(1)),
		Pair(int64(4), int64(1)),
	)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Equal(t,
		[]string{"insert into BOOK_AUTHOR_MAPPING(BOOK_ID, AUTHOR_ID) values(?, ?), (?, ?)"},
		f.rec.Statements())
	assert.Equal(t, 8, f.count(t, mappingTable))

	_, err = a.Insert(context.Background(), Pair(int64(1), int64(1)))
	require.Error(t, err)
	assert.True(t, IsDuplicateKey(err))
	var qe *QueryError
	assert.ErrorAs(t, err, &qe)
}

func TestAssociation_InsertMissing(t *testing.T) {
	f := newBookFixture(t)

	n, err := f.client.Association("Book", "authors").InsertMissing(context.Background(),
		Pair(int64(1), int64(1)),
		Pair(int64(1), int64(3)),
	)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, []string{
		"select BOOK_ID, AUTHOR_ID from BOOK_AUTHOR_MAPPING where (BOOK_ID, AUTHOR_ID) in ((?, ?), (?, ?))",
		"insert into BOOK_AUTHOR_MAPPING(BOOK_ID, AUTHOR_ID) values(?, ?)",
	}, f.rec.Statements())

	n, err = f.client.Association("Book", "authors").InsertMissing(context.Background(), Pair(int64(1), int64(3)))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, f.rec.Statements(), 1, "nothing is missing, only the lookup runs")
}

func TestAssociation_Delete(t *testing.T) {
	f := newBookFixture(t)

	n, err := f.client.Association("Book", "authors").Delete(context.Background(),
		Pair(int64(1), int64(1)),
		Pair(int64(1), int64(4)),
	)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t,
		[]string{"delete from BOOK_AUTHOR_MAPPING where (BOOK_ID, AUTHOR_ID) in ((?, ?), (?, ?))"},
		f.rec.Statements())
	assert.Equal(t, 5, f.count(t, mappingTable))
}

func TestAssociation_Reversed(t *testing.T) {
	f := newBookFixture(t)
	ctx := context.Background()

	inverse := f.client.Association("Author", "books")
	require.NoError(t, inverse.Err())
	assert.True(t, inverse.IsReversed())
	assert.False(t, inverse.Reversed().IsReversed())
	assert.True(t, f.client.Association("Book", "authors").Reversed().IsReversed())

	n, err := inverse.Insert(ctx, Pair(int64(3), int64(4)))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t,
		[]string{"insert into BOOK_AUTHOR_MAPPING(AUTHOR_ID, BOOK_ID) values(?, ?)"},
		f.rec.Statements())

	authors, err := f.client.ListLoader("Book", "authors").Load(ctx, int64(4))
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{int64(3), int64(4)}, idsOf(authors))
}

func TestAssociation_Replace(t *testing.T) {
	f := newBookFixture(t)
	ctx := context.Background()
	a := f.client.Association("Book", "authors")

	res, err := a.Replace(ctx, int64(1), int64(1), int64(3))
	require.NoError(t, err)
	assert.Equal(t, ReplaceResult{Inserted: 1, Deleted: 1}, res)

	authors, err := f.client.ListLoader("Book", "authors").Load(ctx, int64(1))
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{int64(1), int64(3)}, idsOf(authors))

	res, err = a.Replace(ctx, int64(5))
	require.NoError(t, err)
	assert.Equal(t, ReplaceResult{}, res)

	_, err = a.Replace(ctx, nil, int64(1))
	assert.ErrorIs(t, err, ErrNilPointer)
}

func TestAssociation_Validation(t *testing.T) {
	f := newBookFixture(t)
	ctx := context.Background()
	a := f.client.Association("Book", "authors")

	n, err := a.Insert(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, f.rec.Scopes(), "no connection is taken for an empty input")

	_, err = a.Insert(ctx, Pair(nil, int64(1)))
	assert.ErrorIs(t, err, ErrNilPointer)

	_, err = a.Sync(ctx, SyncMode(9), Pair(int64(1), int64(3)))
	assert.True(t, IsConfigError(err))

	assert.True(t, IsConfigError(f.client.Association("Book", "store").Err()))
	assert.True(t, IsConfigError(f.client.Association("BookStore", "books").Err()))
	assert.ErrorIs(t, f.client.Association("Book", "title").Err(), ErrUnknownProperty)

	_, err = f.client.Association("Book", "store").Insert(ctx, Pair(int64(1), int64(1)))
	assert.True(t, IsConfigError(err))
	assert.Empty(t, f.rec.Statements())
}

type eventLog struct {
	mu     sync.Mutex
	events []AssociationEvent
}

func (l *eventLog) add(_ context.Context, e AssociationEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func TestAssociation_Triggers(t *testing.T) {
	s := bookSchema(t)
	bus := NewTriggerBus(s, nil)
	var bookSide, authorSide eventLog
	bus.AddAssociationListener("Book", "authors", bookSide.add)
	bus.AddAssociationListener("Author", "books", authorSide.add)

	f := newBookFixture(t, WithTriggers(bus))
	a := f.client.Association("Book", "authors").WithReason("import")

	_, err := a.Insert(context.Background(), Pair(int64(3), int64(1)))
	require.NoError(t, err)

	require.Len(t, bookSide.events, 1)
	ev := bookSide.events[0]
	assert.Equal(t, "Book", ev.Entity.Name)
	assert.Equal(t, "authors", ev.Property.Name)
	assert.Equal(t, int64(3), ev.SourceID)
	assert.Equal(t, int64(1), ev.TargetID)
	assert.Equal(t, Attached, ev.Change)
	assert.Equal(t, "import", ev.Reason)

	require.Len(t, authorSide.events, 1)
	ev = authorSide.events[0]
	assert.Equal(t, "Author", ev.Entity.Name)
	assert.Equal(t, "books", ev.Property.Name)
	assert.Equal(t, int64(1), ev.SourceID)
	assert.Equal(t, int64(3), ev.TargetID)

	// with triggers a delete reads the rows it removes first
	n, err := a.Delete(context.Background(), Pair(int64(3), int64(1)), Pair(int64(3), int64(2)))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	require.Len(t, bookSide.events, 2)
	assert.Equal(t, Detached, bookSide.events[1].Change)
	assert.Equal(t, int64(1), bookSide.events[1].TargetID)
}

func TestAssociation_SQLiteTuples(t *testing.T) {
	f := newBookFixture(t, WithDialect(Dialects.SQLite3))

	n, err := f.client.Association("Book", "authors").Delete(context.Background(),
		Pair(int64(1), int64(1)),
		Pair(int64(2), int64(2)),
	)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Equal(t,
		[]string{"delete from BOOK_AUTHOR_MAPPING where ((BOOK_ID = ? and AUTHOR_ID = ?) or (BOOK_ID = ? and AUTHOR_ID = ?))"},
		f.rec.Statements())
}

func TestAssociation_PostgresStatements(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	c := NewClient(bookSchema(t), NewConnProvider(db), WithDialect(Dialects.PostgreSQL))

	mock.ExpectQuery("select BOOK_ID, AUTHOR_ID from BOOK_AUTHOR_MAPPING where (BOOK_ID, AUTHOR_ID) in (($1, $2), ($3, $4))").
		WithArgs(1, 2, 1, 3).
		WillReturnRows(sqlmock.NewRows([]string{"BOOK_ID", "AUTHOR_ID"}).AddRow(1, 2))
	mock.ExpectExec("insert into BOOK_AUTHOR_MAPPING(BOOK_ID, AUTHOR_ID) values($1, $2)").
		WithArgs(1, 3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := c.Association("Book", "authors").InsertMissing(context.Background(), Pair(1, 2), Pair(1, 3))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssociation_ReplaceStatements(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	c := NewClient(bookSchema(t), NewConnProvider(db))

	mock.ExpectQuery("select AUTHOR_ID from BOOK_AUTHOR_MAPPING where BOOK_ID = ?").
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"AUTHOR_ID"}).AddRow(1).AddRow(2))
	mock.ExpectExec("delete from BOOK_AUTHOR_MAPPING where (BOOK_ID, AUTHOR_ID) in ((?, ?))").
		WithArgs(7, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into BOOK_AUTHOR_MAPPING(BOOK_ID, AUTHOR_ID) values(?, ?)").
		WithArgs(7, 3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := c.Association("Book", "authors").Replace(context.Background(), 7, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, ReplaceResult{Inserted: 1, Deleted: 1}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssociation_EmptyInputRunsNothing(t *testing.T) {
	for _, mode := range []SyncMode{SyncInsert, SyncDelete, SyncInsertMissing} {
		t.Run(mode.String(), func(t *testing.T) {
			bus := NewTriggerBus(bookSchema(t), nil)
			f := newBookFixture(t, WithTriggers(bus))

			n, err := f.client.Association("Book", "authors").Sync(context.Background(), mode)
			require.NoError(t, err)
			assert.Zero(t, n)

			n, err = f.client.Association("Author", "books").Sync(context.Background(), mode, []IDPair{}...)
			require.NoError(t, err)
			assert.Zero(t, n)

			assert.Zero(t, f.rec.Scopes())
			assert.Empty(t, f.rec.Statements())
		})
	}

	f := newBookFixture(t)
	a := f.client.Association("Book", "authors")
	_, err := a.Delete(context.Background())
	require.NoError(t, err)
	_, err = a.InsertMissing(context.Background())
	require.NoError(t, err)
	assert.Zero(t, f.rec.Scopes())
}

func TestAssociation_BatchSize(t *testing.T) {
	f := newBookFixture(t, WithDialect(batchedSQLite(2)))
	ctx := context.Background()
	a := f.client.Association("Book", "authors")

	n, err := a.Insert(ctx, Pair(int64(3), int64(1)), Pair(int64(3), int64(2)), Pair(int64(4), int64(1)))
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.Equal(t, []string{
		"insert into BOOK_AUTHOR_MAPPING(BOOK_ID, AUTHOR_ID) values(?, ?), (?, ?)",
		"insert into BOOK_AUTHOR_MAPPING(BOOK_ID, AUTHOR_ID) values(?, ?)",
	}, f.rec.Statements())
	assert.Equal(t, 9, f.count(t, mappingTable))

	n, err = a.InsertMissing(ctx, Pair(int64(3), int64(1)), Pair(int64(3), int64(3)), Pair(int64(5), int64(4)))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Len(t, f.rec.Statements(), 3, "two lookups and one insert")

	n, err = a.Delete(ctx, Pair(int64(3), int64(1)), Pair(int64(3), int64(2)), Pair(int64(4), int64(1)))
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.Len(t, f.rec.Statements(), 2)
	assert.Equal(t, 7, f.count(t, mappingTable))
}
