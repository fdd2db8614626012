package zgraph

// arenaKey identifies a canonical object: the same row loaded with the
// same shape.
type arenaKey struct {
	entity string
	id     any
	shape  string
}

// arena owns the canonical objects of one fetch invocation. Loads return
// fresh objects; interning maps them to the instance every branch of the
// graph shares.
type arena struct {
	index   map[arenaKey]int
	objects []*Object
}

func newArena() *arena {
	return &arena{index: make(map[arenaKey]int)}
}

// intern returns the canonical instance for o loaded with shape, merging
// the values of o the canonical instance does not carry yet.
func (a *arena) intern(o *Object, shape string) *Object {
	k := arenaKey{entity: o.typ.Name, id: idKey(o.ID()), shape: shape}
	if i, ok := a.index[k]; ok {
		canon := a.objects[i]
		if canon != o {
			canon.merge(o)
		}
		return canon
	}
	a.index[k] = len(a.objects)
	a.objects = append(a.objects, o)
	return o
}

func (a *arena) len() int { return len(a.objects) }
