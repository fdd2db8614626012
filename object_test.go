package zgraph

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObject_States(t *testing.T) {
	s := bookSchema(t)
	book := MustObject(s.MustEntity("Book"), map[string]any{"id": 1, "name": []byte("x"), "store": nil})

	assert.Equal(t, 1, book.ID())
	name, ok := book.Get("name")
	assert.True(t, ok)
	assert.Equal(t, "x", name, "bytes of scalars are read as strings")

	assert.True(t, book.IsLoaded("store"))
	assert.True(t, book.IsAbsent("store"))
	ref, loaded := book.Ref("store")
	assert.True(t, loaded)
	assert.Nil(t, ref)

	assert.False(t, book.IsLoaded("authors"))
	list, loaded := book.List("authors")
	assert.False(t, loaded)
	assert.Nil(t, list)

	_, err := NewObject(s.MustEntity("Book"), map[string]any{"title": "x"})
	assert.ErrorIs(t, err, ErrUnknownProperty)
	_, err = NewObject(nil, nil)
	assert.ErrorIs(t, err, ErrNilPointer)
	assert.Panics(t, func() { MustObject(s.MustEntity("Book"), map[string]any{"title": "x"}) })
}

func TestObject_MarshalJSON(t *testing.T) {
	s := bookSchema(t)

	book := MustObject(s.MustEntity("Book"), map[string]any{"store": nil, "name": "x", "id": 1})
	b, err := json.Marshal(book)
	require.NoError(t, err)
	assert.Equal(t, `{"id":1,"name":"x","store":null}`, string(b))

	store := MustObject(s.MustEntity("BookStore"), map[string]any{"id": 2, "name": "MANNING"})
	author := MustObject(s.MustEntity("Author"), map[string]any{"id": 4})
	book = MustObject(s.MustEntity("Book"), map[string]any{
		"id":      4,
		"store":   store,
		"authors": []*Object{author},
	})
	b, err = json.Marshal(book)
	require.NoError(t, err)
	assert.Equal(t, `{"id":4,"store":{"id":2,"name":"MANNING"},"authors":[{"id":4}]}`, string(b))
}

func TestObject_MapAndString(t *testing.T) {
	s := bookSchema(t)
	store := MustObject(s.MustEntity("BookStore"), map[string]any{"id": 2, "name": "MANNING"})
	book := MustObject(s.MustEntity("Book"), map[string]any{"id": 4, "name": "GraphQL in Action", "store": store})

	assert.Equal(t, map[string]any{
		"id":    4,
		"name":  "GraphQL in Action",
		"store": map[string]any{"id": 2, "name": "MANNING"},
	}, book.Map())
	assert.Equal(t, "Book{id: 4, name: GraphQL in Action, store: BookStore{id: 2, name: MANNING}}", book.String())

	orphan := MustObject(s.MustEntity("Book"), map[string]any{"id": 5, "store": nil})
	assert.Equal(t, map[string]any{"id": 5, "store": nil}, orphan.Map())
	assert.Equal(t, "Book{id: 5, store: null}", orphan.String())
}

type storeView struct {
	ID   int64
	Name string
}

type authorView struct {
	ID        int64 `zgraph:"id"`
	FirstName string
}

type bookView struct {
	ID      int64  `zgraph:"id"`
	Title   string `zgraph:"name"`
	Store   *storeView
	Authors []authorView
}

func TestObject_Decode(t *testing.T) {
	f := newBookFixture(t)
	book := f.client.Table("Book")

	books, err := From(book).
		Where(book.ID().In(1, 5)).
		OrderBy(book.ID().Asc()).
		Select(book.Fetch(f.fetcher(t, "Book { name, store { name }, authors { firstName } }"))).
		Objects(context.Background(), f.client)
	require.NoError(t, err)
	require.Len(t, books, 2)

	var one bookView
	require.NoError(t, books[0].Decode(&one))
	assert.Equal(t, int64(1), one.ID)
	assert.Equal(t, "Learning GraphQL", one.Title)
	require.NotNil(t, one.Store)
	assert.Equal(t, storeView{ID: 1, Name: "O'REILLY"}, *one.Store)
	assert.ElementsMatch(t, []authorView{{ID: 1, FirstName: "Eve"}, {ID: 2, FirstName: "Alex"}}, one.Authors)

	var all []bookView
	require.NoError(t, DecodeAll(books, &all))
	require.Len(t, all, 2)
	assert.Equal(t, "Orphan", all[1].Title)
	assert.Nil(t, all[1].Store)
	assert.Empty(t, all[1].Authors)
}
