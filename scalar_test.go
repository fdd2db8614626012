package zgraph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuery_Count(t *testing.T) {
	f := newBookFixture(t)
	ctx := context.Background()
	book := f.client.Table("Book")

	tests := []struct {
		name  string
		query Query
		want  int64
	}{
		{"all", From(book), 5},
		{"where", From(book).Where(book.Get("name").Eq("Learning GraphQL")), 2},
		{"reference join", From(book).Where(book.Join("store").Get("name").Eq("MANNING")), 1},
		{"distinct values", From(book).Select(book.Get("name")).Distinct(), 4},
		{"paginated", From(book).OrderBy(book.ID().Asc()).Limit(2).Offset(1), 2},
		{"grouped", From(book).Select(book.Join("store").ID()).GroupBy(book.Join("store").ID()), 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := tt.query.Count(ctx, f.client)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}

	f.rec.Statements()
	_, err := From(book).Where(book.Get("name").Eq("Orphan")).Count(ctx, f.client)
	require.NoError(t, err)
	assert.Equal(t,
		[]string{"select count(*) from (select tb_1_.ID from BOOK as tb_1_ where tb_1_.NAME = ?) as tb_count_"},
		f.rec.Statements())
}

func TestQuery_Exists(t *testing.T) {
	f := newBookFixture(t)
	ctx := context.Background()
	book := f.client.Table("Book")

	ok, err := From(book).Where(book.Get("name").Eq("Orphan")).Exists(ctx, f.client)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = From(book).Where(book.Get("name").Eq("Missing")).Exists(ctx, f.client)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = From(book).Where(book.Get("title").Eq("x")).Exists(ctx, f.client)
	assert.True(t, IsConfigError(err))
}

func TestQuery_Pluck(t *testing.T) {
	f := newBookFixture(t)
	ctx := context.Background()
	book := f.client.Table("Book")

	names, err := From(book).Select(book.Get("name")).OrderBy(book.ID().Asc()).Pluck(ctx, f.client)
	require.NoError(t, err)
	assert.Equal(t, []any{"Learning GraphQL", "Learning GraphQL", "Effective TypeScript", "GraphQL in Action", "Orphan"}, names)

	_, err = From(book).Pluck(ctx, f.client)
	assert.True(t, IsConfigError(err), "tables are not values")

	_, err = From(book).Select(book.Get("name"), book.Get("edition")).Pluck(ctx, f.client)
	assert.True(t, IsConfigError(err))
}

func TestScalars(t *testing.T) {
	f := newBookFixture(t)
	ctx := context.Background()
	book := f.client.Table("Book")
	byID := From(book).OrderBy(book.ID().Asc())

	prices, err := Scalars[int](ctx, byID.Select(book.Get("price")), f.client)
	require.NoError(t, err)
	assert.Equal(t, []int{45, 55, 73, 80, 10}, prices)

	ids, err := Scalars[string](ctx, byID.Select(book.ID()).Limit(2), f.client)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids)

	stores, err := Scalars[int64](ctx, byID.Select(book.Join("store").ID()), f.client)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 1, 1, 2, 0}, stores, "null store ids stay zero")

	_, err = Scalars[int](ctx, byID.Select(book.Get("name")), f.client)
	assert.Error(t, err)
}
