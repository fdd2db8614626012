package zgraph

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

// Triggers receives change notifications from mutations. Delivery is
// synchronous and best-effort; it is not part of any transaction.
type Triggers interface {
	FireEntityTableChange(ctx context.Context, old, new *Object, reason any)
	FireMiddleTableInsert(ctx context.Context, entity *EntityType, prop *Property, sourceID, targetID any, reason any)
	FireMiddleTableDelete(ctx context.Context, entity *EntityType, prop *Property, sourceID, targetID any, reason any)
}

// EntityEvent describes a changed entity row. Old is nil for inserts and
// New is nil for deletes.
type EntityEvent struct {
	Entity *EntityType
	ID     any
	Old    *Object
	New    *Object
	Reason any
}

// AssociationChange tells whether a link was attached or detached.
type AssociationChange int

const (
	Attached AssociationChange = iota + 1
	Detached
)

func (c AssociationChange) String() string {
	if c == Attached {
		return "attached"
	}
	return "detached"
}

// AssociationEvent describes one middle table row seen from Entity.Property.
type AssociationEvent struct {
	Entity   *EntityType
	Property *Property
	SourceID any
	TargetID any
	Change   AssociationChange
	Reason   any
}

type (
	EntityListener      func(ctx context.Context, e EntityEvent) error
	AssociationListener func(ctx context.Context, e AssociationEvent) error
)

// TriggerBus is an in-process Triggers implementation dispatching events
// to registered listeners. Association events are delivered to listeners
// of both sides of the association.
type TriggerBus struct {
	meta   MetadataProvider
	logger *slog.Logger

	mu       sync.RWMutex
	seq      int
	entities map[string][]entityListener
	assocs   map[string][]assocListener
}

type entityListener struct {
	id int
	fn EntityListener
}

type assocListener struct {
	id int
	fn AssociationListener
}

// NewTriggerBus returns an empty bus. A nil logger uses slog.Default.
func NewTriggerBus(meta MetadataProvider, logger *slog.Logger) *TriggerBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &TriggerBus{
		meta:     meta,
		logger:   logger,
		entities: make(map[string][]entityListener),
		assocs:   make(map[string][]assocListener),
	}
}

// AddEntityListener registers fn for changes of entity and its subtypes.
// The returned function removes the listener.
func (b *TriggerBus) AddEntityListener(entity string, fn EntityListener) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	id := b.seq
	b.entities[entity] = append(b.entities[entity], entityListener{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.entities[entity] = slices.DeleteFunc(b.entities[entity], func(l entityListener) bool { return l.id == id })
	}
}

// AddAssociationListener registers fn for link changes of entity.prop.
func (b *TriggerBus) AddAssociationListener(entity, prop string, fn AssociationListener) (unsubscribe func()) {
	key := entity + "." + prop
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	id := b.seq
	b.assocs[key] = append(b.assocs[key], assocListener{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.assocs[key] = slices.DeleteFunc(b.assocs[key], func(l assocListener) bool { return l.id == id })
	}
}

func (b *TriggerBus) FireEntityTableChange(ctx context.Context, old, new *Object, reason any) {
	o := new
	if o == nil {
		o = old
	}
	if o == nil {
		return
	}
	ev := EntityEvent{Entity: o.Type(), ID: o.ID(), Old: old, New: new, Reason: reason}

	var listeners []entityListener
	b.mu.RLock()
	for t := o.Type(); t != nil; t = t.Super() {
		listeners = append(listeners, b.entities[t.Name]...)
	}
	b.mu.RUnlock()

	for _, l := range listeners {
		if err := l.fn(ctx, ev); err != nil {
			b.logger.WarnContext(ctx, "entity listener failed",
				"entity", ev.Entity.Name, "id", ev.ID, "error", err)
		}
	}
}

func (b *TriggerBus) FireMiddleTableInsert(ctx context.Context, entity *EntityType, prop *Property, sourceID, targetID any, reason any) {
	b.fireAssociation(ctx, entity, prop, sourceID, targetID, Attached, reason)
}

func (b *TriggerBus) FireMiddleTableDelete(ctx context.Context, entity *EntityType, prop *Property, sourceID, targetID any, reason any) {
	b.fireAssociation(ctx, entity, prop, sourceID, targetID, Detached, reason)
}

func (b *TriggerBus) fireAssociation(ctx context.Context, entity *EntityType, prop *Property, sourceID, targetID any, change AssociationChange, reason any) {
	b.dispatch(ctx, AssociationEvent{
		Entity: entity, Property: prop, SourceID: sourceID, TargetID: targetID, Change: change, Reason: reason,
	})
	if target, inverse := b.inverseOf(entity, prop); inverse != nil {
		b.dispatch(ctx, AssociationEvent{
			Entity: target, Property: inverse, SourceID: targetID, TargetID: sourceID, Change: change, Reason: reason,
		})
	}
}

// inverseOf finds the property of the target declaring mappedBy prop.
func (b *TriggerBus) inverseOf(entity *EntityType, prop *Property) (*EntityType, *Property) {
	if b.meta == nil || prop.Assoc == nil || prop.Assoc.MappedBy != "" {
		return nil, nil
	}
	target, err := b.meta.Entity(prop.Assoc.Target)
	if err != nil {
		return nil, nil
	}
	for _, p := range target.Associations() {
		if p.Assoc.MappedBy == prop.Name && targets(p, entity) {
			return target, p
		}
	}
	return nil, nil
}

func (b *TriggerBus) dispatch(ctx context.Context, ev AssociationEvent) {
	var listeners []assocListener
	b.mu.RLock()
	for t := ev.Entity; t != nil; t = t.Super() {
		listeners = append(listeners, b.assocs[t.Name+"."+ev.Property.Name]...)
	}
	b.mu.RUnlock()

	for _, l := range listeners {
		if err := l.fn(ctx, ev); err != nil {
			b.logger.WarnContext(ctx, "association listener failed",
				"entity", ev.Entity.Name, "property", ev.Property.Name,
				"source", ev.SourceID, "target", ev.TargetID, "error", err)
		}
	}
}
