package zgraph

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchema_Build(t *testing.T) {
	s := bookSchema(t)

	book := s.MustEntity("Book")
	assert.Equal(t, "BOOK", book.Table)
	assert.Equal(t, "id", book.ID().Name)
	assert.True(t, book.IsSubtypeOf(s.MustEntity("NamedEntity")))

	var names []string
	for _, p := range book.Props() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"id", "name", "edition", "price", "store", "authors"}, names)

	store, _ := book.Prop("store")
	assert.Equal(t, "STORE_ID", store.Assoc.ForeignKey)
	assert.True(t, store.IsReference())

	authors, _ := book.Prop("authors")
	assert.Equal(t, &MiddleTable{Table: "BOOK_AUTHOR_MAPPING", JoinColumn: "BOOK_ID", TargetJoinColumn: "AUTHOR_ID"}, authors.Assoc.Middle)
	assert.True(t, authors.IsList())

	first, _ := s.MustEntity("Author").Prop("firstName")
	assert.Equal(t, "FIRST_NAME", first.Column)

	assert.True(t, s.MustEntity("NamedEntity").Abstract)
	assert.Empty(t, s.MustEntity("NamedEntity").Table)
	assert.Len(t, s.Entities(), 5)
}

func TestSchema_PluralSnakeNaming(t *testing.T) {
	b := NewSchemaBuilder(WithNaming(NewPluralSnakeNaming()))
	b.Entity("BookStore").ID("id").Scalar("websiteURL")
	b.Entity("Book").ID("id").
		ManyToOne("store", "BookStore").
		ManyToMany("authors", "Author")
	b.Entity("Author").ID("id")
	s := b.MustBuild()

	assert.Equal(t, "book_stores", s.MustEntity("BookStore").Table)
	website, _ := s.MustEntity("BookStore").Prop("websiteURL")
	assert.Equal(t, "website_url", website.Column)

	store, _ := s.MustEntity("Book").Prop("store")
	assert.Equal(t, "store_id", store.Assoc.ForeignKey)

	authors, _ := s.MustEntity("Book").Prop("authors")
	assert.Equal(t, "author_book", authors.Assoc.Middle.Table)
	assert.Equal(t, "book_id", authors.Assoc.Middle.JoinColumn)
	assert.Equal(t, "author_id", authors.Assoc.Middle.TargetJoinColumn)
}

func TestSchema_ExplicitNames(t *testing.T) {
	b := NewSchemaBuilder()
	b.Entity("Book").Table("books").
		ID("id", Column("book_id")).
		Version("version").
		ManyToOne("store", "Store", ForeignKey("shop")).
		ManyToMany("tags", "Tag", JoinTable("book_tags", "b", "t"))
	b.Entity("Store").ID("id")
	b.Entity("Tag").ID("id")
	s := b.MustBuild()

	book := s.MustEntity("Book")
	assert.Equal(t, "books", book.Table)
	assert.Equal(t, "book_id", book.ID().Column)
	assert.Equal(t, "version", book.Version().Name)
	store, _ := book.Prop("store")
	assert.Equal(t, "shop", store.Assoc.ForeignKey)
	tags, _ := book.Prop("tags")
	assert.Equal(t, MiddleTable{Table: "book_tags", JoinColumn: "b", TargetJoinColumn: "t"}, *tags.Assoc.Middle)
	assert.Equal(t, MiddleTable{Table: "book_tags", JoinColumn: "t", TargetJoinColumn: "b"}, tags.Assoc.Middle.Inverse())
}

func TestSchema_BuildErrors(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *SchemaBuilder)
		msg   string
	}{
		{"missing id", func(b *SchemaBuilder) {
			b.Entity("Book").Scalar("name")
		}, "must have an id property"},
		{"two ids", func(b *SchemaBuilder) {
			b.Entity("Book").ID("id").Scalar("isbn", Identifier())
		}, "multiple id properties"},
		{"id in super type", func(b *SchemaBuilder) {
			b.MappedSuperclass("Base").ID("id")
			b.Entity("Book").Extends("Base").ID("bookID")
		}, "declared in super type"},
		{"duplicate property", func(b *SchemaBuilder) {
			b.Entity("Book").ID("id").Scalar("name").Scalar("name")
		}, "declared more than once"},
		{"undeclared super type", func(b *SchemaBuilder) {
			b.Entity("Book").Extends("Base").ID("id")
		}, "is not declared"},
		{"entity super type", func(b *SchemaBuilder) {
			b.Entity("Base").ID("id")
			b.Entity("Book").Extends("Base")
		}, "only mapped superclasses can be extended"},
		{"undeclared target", func(b *SchemaBuilder) {
			b.Entity("Book").ID("id").ManyToOne("store", "Store")
		}, `target type "Store" is not declared`},
		{"abstract target", func(b *SchemaBuilder) {
			b.MappedSuperclass("Base").ID("id")
			b.Entity("Book").ID("id").ManyToOne("base", "Base")
		}, "is a mapped superclass"},
		{"unknown mapped by", func(b *SchemaBuilder) {
			b.Entity("Store").ID("id").OneToMany("books", "Book", "shop")
			b.Entity("Book").ID("id")
		}, `mappedBy "shop" is not a property of Book`},
		{"mapped by inverse", func(b *SchemaBuilder) {
			b.Entity("Store").ID("id").OneToMany("books", "Book", "store")
			b.Entity("Book").ID("id").OneToOne("store", "Store", MappedBy("books"))
		}, "must be an owning association"},
		{"mapped by wrong kind", func(b *SchemaBuilder) {
			b.Entity("Store").ID("id").OneToMany("books", "Book", "stores")
			b.Entity("Book").ID("id").ManyToMany("stores", "Store")
		}, "cannot be mapped by"},
		{"entity and superclass", func(b *SchemaBuilder) {
			b.Entity("Book").ID("id")
			b.MappedSuperclass("Book")
		}, "declared both as entity and as mapped superclass"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewSchemaBuilder()
			tt.build(b)
			_, err := b.Build()
			require.Error(t, err)
			assert.True(t, IsConfigError(err))
			assert.Contains(t, err.Error(), tt.msg)
			assert.Panics(t, func() { b.MustBuild() })
		})
	}
}

func TestSchema_Describe(t *testing.T) {
	var buf bytes.Buffer
	bookSchema(t).Describe(&buf)
	out := buf.String()

	assert.Contains(t, out, "BookStore (BOOK_STORE)")
	assert.Contains(t, out, "NamedEntity (mapped superclass)")
	assert.Contains(t, out, "BOOK_AUTHOR_MAPPING(BOOK_ID, AUTHOR_ID)")
	assert.Contains(t, out, "mappedBy authors")
}

func TestLoadSchemaFile(t *testing.T) {
	s, err := LoadSchemaFile("testdata/schema.yaml")
	require.NoError(t, err)

	var want, got bytes.Buffer
	bookSchema(t).Describe(&want)
	s.Describe(&got)
	assert.Equal(t, want.String(), got.String())

	_, err = LoadSchemaFile("testdata/missing.yaml")
	assert.Error(t, err)
}

func TestLoadSchemaYAML_Errors(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		config bool
	}{
		{"unknown field", "entities:\n  - name: Book\n    colour: red\n", false},
		{"unknown naming", "naming: camel\n", true},
		{"unknown kind", "entities:\n  - name: Book\n    properties:\n      - {name: id, id: true}\n      - {name: store, kind: belongs_to}\n", true},
		{"invalid schema", "entities:\n  - name: Book\n    properties:\n      - {name: title}\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadSchemaYAML(strings.NewReader(tt.src))
			require.Error(t, err)
			assert.Equal(t, tt.config, IsConfigError(err), err)
		})
	}
}

func TestClient_MissingTables(t *testing.T) {
	f := newBookFixture(t, WithDialect(Dialects.SQLite3))
	ctx := context.Background()

	missing, err := f.client.MissingTables(ctx)
	require.NoError(t, err)
	assert.Empty(t, missing)

	_, err = f.db.Exec("drop table TREE_NODE")
	require.NoError(t, err)
	missing, err = f.client.MissingTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"TREE_NODE"}, missing)

	_, err = newBookFixture(t).client.MissingTables(ctx)
	assert.True(t, IsConfigError(err), "the default dialect cannot list tables")
}
