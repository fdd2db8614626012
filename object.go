package zgraph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// absent is stored for a loaded to-one association that has no target.
type absent struct{}

// Object is a loaded entity. Each property is unloaded, loaded with a value,
// or, for references, loaded as absent.
type Object struct {
	typ    *EntityType
	values map[string]any

	// shapes records the child fetcher shape each association was loaded with.
	shapes map[string]string
}

// NewObject creates an object of typ carrying the given property values.
// A nil value for a reference property loads it as absent. Unknown
// properties are rejected.
func NewObject(typ *EntityType, values map[string]any) (*Object, error) {
	if typ == nil {
		return nil, ErrNilPointer
	}
	o := newObject(typ, len(values))
	for name, v := range values {
		p, ok := typ.Prop(name)
		if !ok {
			return nil, unknownProperty("object", typ, name)
		}
		o.set(p, v)
	}
	return o, nil
}

// MustObject is like NewObject but panics on error.
func MustObject(typ *EntityType, values map[string]any) *Object {
	o, err := NewObject(typ, values)
	if err != nil {
		panic(err)
	}
	return o
}

func newObject(typ *EntityType, size int) *Object {
	return &Object{typ: typ, values: make(map[string]any, size)}
}

func (o *Object) set(p *Property, v any) {
	if p.IsReference() && v == nil {
		o.values[p.Name] = absent{}
		return
	}
	if b, ok := v.([]byte); ok && !p.IsAssociation() {
		v = string(b)
	}
	o.values[p.Name] = v
}

func (o *Object) setAssociation(p *Property, v any, shape string) {
	o.set(p, v)
	if o.shapes == nil {
		o.shapes = make(map[string]string)
	}
	o.shapes[p.Name] = shape
}

// loadedWith reports whether prop was loaded with the given child shape.
func (o *Object) loadedWith(prop, shape string) bool {
	s, ok := o.shapes[prop]
	return ok && s == shape
}

// Type returns the entity type.
func (o *Object) Type() *EntityType { return o.typ }

// ID returns the identifier value, nil when not loaded.
func (o *Object) ID() any {
	return o.values[o.typ.ID().Name]
}

// IsLoaded reports whether prop carries a value (absent included).
func (o *Object) IsLoaded(prop string) bool {
	_, ok := o.values[prop]
	return ok
}

// IsAbsent reports whether the reference prop was loaded and has no target.
func (o *Object) IsAbsent(prop string) bool {
	_, ok := o.values[prop].(absent)
	return ok
}

// Get returns the value of prop. Absent references are returned as nil with
// ok set to true.
func (o *Object) Get(prop string) (any, bool) {
	v, ok := o.values[prop]
	if _, isAbsent := v.(absent); isAbsent {
		return nil, true
	}
	return v, ok
}

// Ref returns the target of a reference. The target is nil when the
// reference is absent or unloaded; loaded tells the two apart.
func (o *Object) Ref(prop string) (target *Object, loaded bool) {
	v, ok := o.values[prop]
	if !ok {
		return nil, false
	}
	t, _ := v.(*Object)
	return t, true
}

// List returns the targets of a list association.
func (o *Object) List(prop string) ([]*Object, bool) {
	v, ok := o.values[prop]
	if !ok {
		return nil, false
	}
	l, _ := v.([]*Object)
	return l, true
}

// merge copies loaded values of other that o does not carry yet.
func (o *Object) merge(other *Object) {
	for k, v := range other.values {
		if _, ok := o.values[k]; !ok {
			o.values[k] = v
			if s, ok := other.shapes[k]; ok {
				if o.shapes == nil {
					o.shapes = make(map[string]string)
				}
				o.shapes[k] = s
			}
		}
	}
}

// Map returns the loaded properties as a map. Nested objects become maps,
// absent references become nil and unloaded properties are left out.
func (o *Object) Map() map[string]any {
	out := make(map[string]any, len(o.values))
	for _, p := range o.typ.Props() {
		v, ok := o.values[p.Name]
		if !ok {
			continue
		}
		out[p.Name] = plainValue(v)
	}
	return out
}

func plainValue(v any) any {
	switch x := v.(type) {
	case absent:
		return nil
	case *Object:
		return x.Map()
	case []*Object:
		l := make([]any, len(x))
		for i, e := range x {
			l[i] = e.Map()
		}
		return l
	default:
		return v
	}
}

// MarshalJSON writes loaded properties in declaration order. Absent
// references are written as null; unloaded properties are omitted.
func (o *Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for _, p := range o.typ.Props() {
		v, ok := o.values[p.Name]
		if !ok {
			continue
		}
		if _, isAbsent := v.(absent); isAbsent {
			v = nil
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		key, _ := json.Marshal(p.Name)
		buf.Write(key)
		buf.WriteByte(':')
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("zgraph: encoding %s.%s: %w", o.typ.Name, p.Name, err)
		}
		buf.Write(b)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Decode copies the object graph into out, a pointer to a struct (or a
// slice/map of them). Fields match property names case-insensitively or
// through a `zgraph` tag.
func (o *Object) Decode(out any) error {
	return decodeValue(o.Map(), out)
}

// DecodeAll decodes a list of objects into out, a pointer to a slice.
func DecodeAll(objects []*Object, out any) error {
	l := make([]any, len(objects))
	for i, o := range objects {
		l[i] = o.Map()
	}
	return decodeValue(l, out)
}

func decodeValue(in, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "zgraph",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

func (o *Object) String() string {
	var sb strings.Builder
	sb.WriteString(o.typ.Name)
	sb.WriteString("{")
	first := true
	for _, p := range o.typ.Props() {
		v, ok := o.values[p.Name]
		if !ok {
			continue
		}
		if !first {
			sb.WriteString(", ")
		}
		first = false
		sb.WriteString(p.Name)
		sb.WriteString(": ")
		switch x := v.(type) {
		case absent:
			sb.WriteString("null")
		case *Object:
			sb.WriteString(x.String())
		case []*Object:
			sb.WriteString("[")
			for i, e := range x {
				if i > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString(e.String())
			}
			sb.WriteString("]")
		default:
			fmt.Fprintf(&sb, "%v", x)
		}
	}
	sb.WriteString("}")
	return sb.String()
}
