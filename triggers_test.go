package zgraph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezakhademix/zgraph/internal/testutil"
)

func TestTriggerBus_EntityListeners(t *testing.T) {
	s := bookSchema(t)
	logger, msgs := testutil.NewRecordingLogger(t)
	bus := NewTriggerBus(s, logger)
	ctx := context.Background()

	var books, named int
	unsubscribe := bus.AddEntityListener("Book", func(context.Context, EntityEvent) error {
		books++
		return nil
	})
	bus.AddEntityListener("NamedEntity", func(context.Context, EntityEvent) error {
		named++
		return errors.New("listener broke")
	})

	old := MustObject(s.MustEntity("Book"), map[string]any{"id": 1})
	bus.FireEntityTableChange(ctx, old, nil, "test")
	assert.Equal(t, 1, books)
	assert.Equal(t, 1, named, "supertype listeners see subtype changes")
	assert.Equal(t, 1, msgs.Count("entity listener failed"))

	store := MustObject(s.MustEntity("BookStore"), map[string]any{"id": 1})
	bus.FireEntityTableChange(ctx, nil, store, nil)
	assert.Equal(t, 1, books)
	assert.Equal(t, 2, named)

	unsubscribe()
	bus.FireEntityTableChange(ctx, old, nil, nil)
	assert.Equal(t, 1, books)

	bus.FireEntityTableChange(ctx, nil, nil, nil)
	assert.Equal(t, 3, named)
}

func TestTriggerBus_AssociationListeners(t *testing.T) {
	s := bookSchema(t)
	logger, msgs := testutil.NewRecordingLogger(t)
	bus := NewTriggerBus(s, logger)
	ctx := context.Background()

	var forward, inverse []AssociationEvent
	bus.AddAssociationListener("Book", "authors", func(_ context.Context, e AssociationEvent) error {
		forward = append(forward, e)
		return nil
	})
	unsubscribe := bus.AddAssociationListener("Author", "books", func(_ context.Context, e AssociationEvent) error {
		inverse = append(inverse, e)
		return errors.New("listener broke")
	})

	book := s.MustEntity("Book")
	authors, _ := book.Prop("authors")
	bus.FireMiddleTableInsert(ctx, book, authors, int64(1), int64(3), "test")

	require.Len(t, forward, 1)
	assert.Equal(t, AssociationEvent{
		Entity: book, Property: authors, SourceID: int64(1), TargetID: int64(3), Change: Attached, Reason: "test",
	}, forward[0])
	require.Len(t, inverse, 1)
	assert.Equal(t, "Author", inverse[0].Entity.Name)
	assert.Equal(t, "books", inverse[0].Property.Name)
	assert.Equal(t, int64(3), inverse[0].SourceID)
	assert.Equal(t, int64(1), inverse[0].TargetID)
	assert.Equal(t, 1, msgs.Count("association listener failed"))

	unsubscribe()
	bus.FireMiddleTableDelete(ctx, book, authors, int64(1), int64(3), nil)
	require.Len(t, forward, 2)
	assert.Equal(t, Detached, forward[1].Change)
	assert.Equal(t, "detached", forward[1].Change.String())
	assert.Len(t, inverse, 1)
}

func TestTriggerBus_DefaultLogger(t *testing.T) {
	bus := NewTriggerBus(nil, nil)
	s := bookSchema(t)
	book := s.MustEntity("Book")
	authors, _ := book.Prop("authors")

	called := false
	bus.AddAssociationListener("Book", "authors", func(context.Context, AssociationEvent) error {
		called = true
		return nil
	})
	// without metadata only the declaring side is notified
	bus.FireMiddleTableInsert(context.Background(), book, authors, 1, 2, nil)
	assert.True(t, called)
}
