package zgraph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezakhademix/zgraph/internal/testutil"
)

func TestFetch_RecursiveTree(t *testing.T) {
	f := newBookFixture(t)
	root := f.object("TreeNode", int64(1))

	err := f.client.Fetch(context.Background(), []*Object{root}, f.fetcher(t, "TreeNode { name, childNodes*3 }"))
	require.NoError(t, err)

	stmts := f.rec.Statements()
	require.Len(t, stmts, 3, "one statement per level")
	assert.Equal(t, "select tb_1_.ID, tb_1_.NAME, tb_1_.PARENT_ID from TREE_NODE as tb_1_ where tb_1_.PARENT_ID in (?)", stmts[0])

	children, loaded := root.List("childNodes")
	require.True(t, loaded)
	assert.ElementsMatch(t, []any{"Food", "Clothing"}, namesOf(children))

	var food, clothing *Object
	for _, c := range children {
		if n, _ := c.Get("name"); n == "Food" {
			food = c
		} else {
			clothing = c
		}
	}
	empty, loaded := clothing.List("childNodes")
	assert.True(t, loaded)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	drinks, _ := food.List("childNodes")
	require.Len(t, drinks, 1)
	cola, _ := drinks[0].List("childNodes")
	require.Len(t, cola, 1)
	assert.Equal(t, []any{"Coca Cola"}, namesOf(cola))
	assert.False(t, cola[0].IsLoaded("childNodes"), "recursion stops at the given depth")
}

func TestFetch_ManyToManyIDsOnly(t *testing.T) {
	f := newBookFixture(t)
	books := []*Object{f.object("Book", int64(1)), f.object("Book", int64(2))}

	err := f.client.Fetch(context.Background(), books, f.fetcher(t, "Book { authors }"))
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"select BOOK_ID, AUTHOR_ID from BOOK_AUTHOR_MAPPING where BOOK_ID in (?, ?)"},
		f.rec.Statements())

	authors, _ := books[0].List("authors")
	assert.ElementsMatch(t, []any{int64(1), int64(2)}, idsOf(authors))
	assert.False(t, authors[0].IsLoaded("firstName"))
}

func TestFetch_ReferenceWithUnknownForeignKey(t *testing.T) {
	f := newBookFixture(t)
	books := []*Object{f.object("Book", int64(1)), f.object("Book", int64(3)), f.object("Book", int64(5))}

	err := f.client.Fetch(context.Background(), books, f.fetcher(t, "Book { store { name } }"))
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"select tb_1_.ID, tb_1_.NAME, tb_2_.ID from BOOK_STORE as tb_1_ inner join BOOK as tb_2_ on tb_1_.ID = tb_2_.STORE_ID where tb_2_.ID in (?, ?, ?)"},
		f.rec.Statements())

	s1, _ := books[0].Ref("store")
	s3, _ := books[1].Ref("store")
	require.NotNil(t, s1)
	assert.Same(t, s1, s3)
	assert.True(t, books[2].IsAbsent("store"))
}

func TestFetch_ReferenceIDsOnly(t *testing.T) {
	f := newBookFixture(t)
	books := []*Object{f.object("Book", int64(4)), f.object("Book", int64(5))}

	err := f.client.Fetch(context.Background(), books, f.fetcher(t, "Book { store }"))
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"select tb_1_.ID, tb_1_.STORE_ID from BOOK as tb_1_ where tb_1_.ID in (?, ?)"},
		f.rec.Statements())

	s, _ := books[0].Ref("store")
	require.NotNil(t, s)
	assert.EqualValues(t, 2, s.ID())
	assert.True(t, books[1].IsAbsent("store"))
}

func TestFetch_ToManyBatch(t *testing.T) {
	f := newBookFixture(t)
	stores := []*Object{f.object("BookStore", int64(1)), f.object("BookStore", int64(2))}

	err := f.client.Fetch(context.Background(), stores, f.fetcher(t, "BookStore { books { name, edition } }"))
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"select tb_1_.ID, tb_1_.NAME, tb_1_.EDITION, tb_1_.STORE_ID from BOOK as tb_1_ where tb_1_.STORE_ID in (?, ?)"},
		f.rec.Statements())

	b1, _ := stores[0].List("books")
	b2, _ := stores[1].List("books")
	assert.ElementsMatch(t, []any{int64(1), int64(2), int64(3)}, idsOf(b1))
	assert.Equal(t, []any{int64(4)}, idsOf(b2))
}

func TestFetch_NestedSharesInstances(t *testing.T) {
	f := newBookFixture(t)
	book := f.object("Book", int64(1))

	err := f.client.Fetch(context.Background(), []*Object{book}, f.fetcher(t, "Book { authors { firstName, books { name } } }"))
	require.NoError(t, err)
	assert.Len(t, f.rec.Statements(), 2)

	authors, _ := book.List("authors")
	require.Len(t, authors, 2)
	l1, _ := authors[0].List("books")
	l2, _ := authors[1].List("books")
	require.Len(t, l1, 2)
	require.Len(t, l2, 2)

	byID := make(map[any]*Object)
	for _, b := range l1 {
		byID[b.ID()] = b
	}
	for _, b := range l2 {
		assert.Same(t, byID[b.ID()], b)
	}
}

func TestFetch_SkipsLoadedAssociations(t *testing.T) {
	f := newBookFixture(t)
	stores := []*Object{f.object("BookStore", int64(1))}
	fetcher := f.fetcher(t, "BookStore { books { name } }")

	require.NoError(t, f.client.Fetch(context.Background(), stores, fetcher))
	assert.Len(t, f.rec.Statements(), 1)

	require.NoError(t, f.client.Fetch(context.Background(), stores, fetcher))
	assert.Empty(t, f.rec.Statements(), "same shape is not loaded twice")

	require.NoError(t, f.client.Fetch(context.Background(), stores, f.fetcher(t, "BookStore { books { name, price } }")))
	assert.Len(t, f.rec.Statements(), 1, "a different shape reloads")
	books, _ := stores[0].List("books")
	assert.True(t, books[0].IsLoaded("price"))
}

func TestFetch_Filter(t *testing.T) {
	f := newBookFixture(t)
	s := f.schema
	store := f.object("BookStore", int64(1))

	firstEditions := FilterFunc(func(args *FilterArgs) {
		args.Where(args.Table().Get("edition").Eq(1))
		args.OrderBy(args.Table().Get("name").Desc())
	})
	fetcher := NewFetcher(s.MustEntity("BookStore")).
		With("books", NewFetcher(s.MustEntity("Book")).Add("name"), WithFilter(firstEditions))

	require.NoError(t, f.client.Fetch(context.Background(), []*Object{store}, fetcher))
	books, _ := store.List("books")
	assert.Equal(t, []any{"Learning GraphQL", "Effective TypeScript"}, namesOf(books))
}

type editionFilter int

func (e editionFilter) Filter(args *FilterArgs) {
	args.Where(args.Table().Get("edition").Eq(int(e)))
}

func TestFetch_EqualFiltersShareLoads(t *testing.T) {
	f := newBookFixture(t)
	s := f.schema
	stores := []*Object{f.object("BookStore", int64(1)), f.object("BookStore", int64(2))}

	child := NewFetcher(s.MustEntity("Book")).Add("name")
	a := NewFetcher(s.MustEntity("BookStore")).With("books", child, WithFilter(editionFilter(2)))
	b := NewFetcher(s.MustEntity("BookStore")).With("books", child, WithFilter(editionFilter(2)))
	assert.Equal(t, a.String(), b.String())

	require.NoError(t, f.client.Fetch(context.Background(), stores, a))
	require.NoError(t, f.client.Fetch(context.Background(), stores, b))
	assert.Len(t, f.rec.Statements(), 1)

	books, _ := stores[0].List("books")
	assert.Equal(t, []any{int64(2)}, idsOf(books))
	books, _ = stores[1].List("books")
	assert.NotNil(t, books)
	assert.Empty(t, books)
}

func TestFetch_FailureLeavesObjectsUntouched(t *testing.T) {
	f := newBookFixture(t)
	s := f.schema
	store := f.object("BookStore", int64(1))

	broken := FilterFunc(func(args *FilterArgs) {
		args.Where(args.Table().Get("nickname").Eq("x"))
	})
	fetcher := NewFetcher(s.MustEntity("BookStore")).With("books",
		NewFetcher(s.MustEntity("Book")).Add("name").With("authors",
			NewFetcher(s.MustEntity("Author")).Add("firstName"), WithFilter(broken)))

	err := f.client.Fetch(context.Background(), []*Object{store}, fetcher)
	require.Error(t, err)

	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "Book", le.Entity)
	assert.Equal(t, "authors", le.Association)
	assert.True(t, IsConfigError(err))

	assert.False(t, store.IsLoaded("books"), "the first level loaded but the fetch failed")
}

func TestFetch_Validation(t *testing.T) {
	f := newBookFixture(t)
	ctx := context.Background()
	bookFetcher := f.fetcher(t, "Book { name }")

	assert.ErrorIs(t, f.client.Fetch(ctx, nil, nil), ErrNilPointer)
	assert.ErrorIs(t, f.client.Fetch(ctx, []*Object{nil}, bookFetcher), ErrNilPointer)

	err := f.client.Fetch(ctx, []*Object{f.object("Author", int64(1))}, bookFetcher)
	assert.True(t, IsConfigError(err))

	noID := MustObject(f.schema.MustEntity("Book"), map[string]any{"name": "x"})
	err = f.client.Fetch(ctx, []*Object{noID}, bookFetcher)
	assert.True(t, IsConfigError(err))

	invalid := NewFetcher(f.schema.MustEntity("Book")).Add("title")
	err = f.client.Fetch(ctx, []*Object{f.object("Book", int64(1))}, invalid)
	assert.ErrorIs(t, err, ErrUnknownProperty)

	assert.Empty(t, f.rec.Statements())
}

func TestFetch_ConcurrentLevels(t *testing.T) {
	f := newBookFixture(t, WithFetchConcurrency(2))
	books := []*Object{f.object("Book", int64(1)), f.object("Book", int64(4))}

	err := f.client.Fetch(context.Background(), books, f.fetcher(t, "Book { store { name, books { name } }, authors { firstName } }"))
	require.NoError(t, err)
	assert.Len(t, f.rec.Statements(), 3)

	s, _ := books[1].Ref("store")
	require.NotNil(t, s)
	storeBooks, _ := s.List("books")
	assert.Equal(t, []any{"GraphQL in Action"}, namesOf(storeBooks))
}

func TestFetch_LogsLevels(t *testing.T) {
	logger, msgs := testutil.NewRecordingLogger(t)
	f := newBookFixture(t, WithLogger(logger))

	root := f.object("TreeNode", int64(1))
	require.NoError(t, f.client.Fetch(context.Background(), []*Object{root}, f.fetcher(t, "TreeNode { childNodes*2 }")))

	assert.Equal(t, 2, msgs.Count("fetch level done"))
	assert.Equal(t, 2, msgs.Count("execute sql"))
}

func TestFetch_DatabaseErrorIsLoadError(t *testing.T) {
	f := newBookFixture(t)
	_, err := f.db.Exec("drop table BOOK_AUTHOR_MAPPING")
	require.NoError(t, err)

	err = f.client.Fetch(context.Background(), []*Object{f.object("Book", int64(1))}, f.fetcher(t, "Book { authors }"))
	var le *LoadError
	require.True(t, errors.As(err, &le))
	var qe *QueryError
	assert.ErrorAs(t, err, &qe)
}

func TestFetch_SharedIDsLoadOnce(t *testing.T) {
	f := newBookFixture(t)
	books := []*Object{f.object("Book", int64(1)), f.object("Book", int64(1)), f.object("Book", int64(4))}

	err := f.client.Fetch(context.Background(), books, f.fetcher(t, "Book { store { name } }"))
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"select tb_1_.ID, tb_1_.NAME, tb_2_.ID from BOOK_STORE as tb_1_ inner join BOOK as tb_2_ on tb_1_.ID = tb_2_.STORE_ID where tb_2_.ID in (?, ?)"},
		f.rec.Statements())

	first, _ := books[0].Ref("store")
	second, _ := books[1].Ref("store")
	require.NotNil(t, first)
	assert.Same(t, first, second)
	name, _ := first.Get("name")
	assert.Equal(t, "O'REILLY", name)

	other, _ := books[2].Ref("store")
	require.NotNil(t, other)
	assert.EqualValues(t, 2, other.ID())
}

func TestFetch_BatchSize(t *testing.T) {
	f := newBookFixture(t, WithDialect(batchedSQLite(2)))
	books := []*Object{f.object("Book", int64(1)), f.object("Book", int64(2)), f.object("Book", int64(3))}

	err := f.client.Fetch(context.Background(), books, f.fetcher(t, "Book { authors }"))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"select BOOK_ID, AUTHOR_ID from BOOK_AUTHOR_MAPPING where BOOK_ID in (?, ?)",
		"select BOOK_ID, AUTHOR_ID from BOOK_AUTHOR_MAPPING where BOOK_ID in (?)",
	}, f.rec.Statements())

	a1, _ := books[0].List("authors")
	a3, _ := books[2].List("authors")
	assert.ElementsMatch(t, []any{int64(1), int64(2)}, idsOf(a1))
	assert.Equal(t, []any{int64(3)}, idsOf(a3))
}
