package zgraph

import (
	"fmt"
	"math"
	"reflect"

	"github.com/google/uuid"
)

// idKey normalizes an identifier so that values coming back from different
// drivers (int vs int64, []byte vs string, uuid.UUID vs its text form) can be
// used as the same map key.
func idKey(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return x
	case int64:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case []byte:
		return string(x)
	case uuid.UUID:
		return x.String()
	case *Object:
		if x == nil {
			return nil
		}
		return idKey(x.ID())
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		return idKey(rv.Elem().Interface())
	}

	switch {
	case isInteger(rv.Kind()):
		return rv.Int()
	case isUint(rv.Kind()):
		if u := rv.Uint(); u <= math.MaxInt64 {
			return int64(u)
		}
		return rv.Uint()
	case isFloat(rv.Kind()):
		f := rv.Float()
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	case rv.Kind() == reflect.String:
		return rv.String()
	}

	if rv.Type().Comparable() {
		return v
	}
	return fmt.Sprintf("%v", v)
}

func isInteger(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUint(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uint64
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

// isCollection reports whether v is a slice, array or map. []byte is an
// identifier value, not a collection.
func isCollection(v any) bool {
	if v == nil {
		return false
	}
	if _, ok := v.([]byte); ok {
		return false
	}
	if _, ok := v.(uuid.UUID); ok {
		return false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return true
	}
	return false
}

// idSet is an insertion ordered set of identifiers.
type idSet struct {
	keys   map[any]int
	values []any
}

func newIDSet(capacity int) *idSet {
	return &idSet{keys: make(map[any]int, capacity), values: make([]any, 0, capacity)}
}

// add stores v unless an equal identifier is present and reports whether it was added.
func (s *idSet) add(v any) bool {
	k := idKey(v)
	if _, ok := s.keys[k]; ok {
		return false
	}
	s.keys[k] = len(s.values)
	s.values = append(s.values, v)
	return true
}

func (s *idSet) len() int { return len(s.values) }
