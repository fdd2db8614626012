package zgraph

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rezakhademix/zgraph/internal/testutil"
)

// bookSchema is the schema most tests run against:
//
//	BookStore 1--* Book *--* Author
//	TreeNode  1--* TreeNode
func bookSchema(t testing.TB) *Schema {
	t.Helper()
	b := NewSchemaBuilder()
	b.MappedSuperclass("NamedEntity").ID("id").Scalar("name")
	b.Entity("BookStore").Extends("NamedEntity").
		Scalar("website", Nullable()).
		OneToMany("books", "Book", "store")
	b.Entity("Book").Extends("NamedEntity").
		Scalars("edition", "price").
		ManyToOne("store", "BookStore", Nullable()).
		ManyToMany("authors", "Author")
	b.Entity("Author").ID("id").
		Scalars("firstName", "lastName").
		ManyToMany("books", "Book", MappedBy("authors"))
	b.Entity("TreeNode").ID("id").
		Scalar("name").
		ManyToOne("parent", "TreeNode", Nullable()).
		OneToMany("childNodes", "TreeNode", "parent")
	s, err := b.Build()
	require.NoError(t, err)
	return s
}

const bookDDL = `
create table BOOK_STORE(ID integer primary key, NAME text not null, WEBSITE text);
create table BOOK(
	ID integer primary key,
	NAME text not null,
	EDITION integer not null,
	PRICE integer not null,
	STORE_ID integer references BOOK_STORE(ID)
);
create table AUTHOR(ID integer primary key, FIRST_NAME text not null, LAST_NAME text not null);
create table BOOK_AUTHOR_MAPPING(
	BOOK_ID integer not null references BOOK(ID),
	AUTHOR_ID integer not null references AUTHOR(ID),
	primary key(BOOK_ID, AUTHOR_ID)
);
create table TREE_NODE(ID integer primary key, NAME text not null, PARENT_ID integer references TREE_NODE(ID));

insert into BOOK_STORE values(1, 'O''REILLY', null), (2, 'MANNING', 'https://manning.com');
insert into BOOK values
	(1, 'Learning GraphQL', 1, 45, 1),
	(2, 'Learning GraphQL', 2, 55, 1),
	(3, 'Effective TypeScript', 1, 73, 1),
	(4, 'GraphQL in Action', 1, 80, 2),
	(5, 'Orphan', 1, 10, null);
insert into AUTHOR values
	(1, 'Eve', 'Procello'),
	(2, 'Alex', 'Banks'),
	(3, 'Dan', 'Vanderkam'),
	(4, 'Samer', 'Buna');
insert into BOOK_AUTHOR_MAPPING values (1, 1), (1, 2), (2, 1), (2, 2), (3, 3), (4, 4);
insert into TREE_NODE values
	(1, 'Home', null),
	(2, 'Food', 1),
	(3, 'Drinks', 2),
	(4, 'Coca Cola', 3),
	(5, 'Clothing', 1);
`

// openBookDB returns an in-memory database holding the book fixture. The
// pool has a single connection so every statement sees the same database.
func openBookDB(t testing.TB) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec("pragma foreign_keys = on")
	require.NoError(t, err)
	for _, stmt := range strings.Split(bookDDL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	return db
}

// recorder is a ConnectionProvider and Conn over a pool that keeps the
// text of every statement it runs.
type recorder struct {
	db *sql.DB

	mu         sync.Mutex
	statements []string
	scopes     int
}

func (r *recorder) RunWithConnection(ctx context.Context, fn func(context.Context, Conn) error) error {
	r.mu.Lock()
	r.scopes++
	r.mu.Unlock()
	return fn(ctx, r)
}

func (r *recorder) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	r.record(query)
	return r.db.QueryContext(ctx, query, args...)
}

func (r *recorder) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	r.record(query)
	return r.db.ExecContext(ctx, query, args...)
}

func (r *recorder) record(query string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statements = append(r.statements, query)
}

// Statements returns the recorded statements and forgets them.
func (r *recorder) Statements() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.statements
	r.statements = nil
	return out
}

func (r *recorder) Scopes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scopes
}

type bookFixture struct {
	schema *Schema
	db     *sql.DB
	rec    *recorder
	client *Client
}

func newBookFixture(t testing.TB, opts ...Option) *bookFixture {
	t.Helper()
	s := bookSchema(t)
	db := openBookDB(t)
	rec := &recorder{db: db}
	opts = append([]Option{WithLogger(testutil.NewTestLogger(t))}, opts...)
	return &bookFixture{schema: s, db: db, rec: rec, client: NewClient(s, rec, opts...)}
}

// object returns an id-only object of entity.
func (f *bookFixture) object(entity string, id any) *Object {
	return idOnlyObject(f.schema.MustEntity(entity), id)
}

func (f *bookFixture) fetcher(t testing.TB, src string) *Fetcher {
	t.Helper()
	fe, err := f.client.ParseFetcher(src)
	require.NoError(t, err)
	return fe
}

// count returns the number of rows of a table.
func (f *bookFixture) count(t testing.TB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, f.db.QueryRow("select count(*) from "+table).Scan(&n))
	return n
}

func idsOf(objects []*Object) []any {
	out := make([]any, len(objects))
	for i, o := range objects {
		out[i] = o.ID()
	}
	return out
}

func namesOf(objects []*Object) []any {
	out := make([]any, len(objects))
	for i, o := range objects {
		out[i], _ = o.Get("name")
	}
	return out
}

// batchedSQLite returns the sqlite dialect binding at most size ids or
// pairs per statement.
func batchedSQLite(size int) *Dialect {
	d := *Dialects.SQLite3
	d.MaxBatchSize = size
	return &d
}
