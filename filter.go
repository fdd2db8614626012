package zgraph

import (
	"fmt"
	"reflect"
	"strconv"
	"sync/atomic"
)

// Filter restricts and orders the targets of an association load. Filters
// only see the target table; they are applied to every batch the load
// issues.
type Filter interface {
	Filter(args *FilterArgs)
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(args *FilterArgs)

// Filter calls f(args).
func (f FilterFunc) Filter(args *FilterArgs) { f(args) }

// KeyedFilter is a Filter with a stable identity. Fetch fields with filters
// of equal keys share their loads.
type KeyedFilter interface {
	Filter
	FilterKey() string
}

// FilterArgs collects the clauses a filter contributes.
type FilterArgs struct {
	table   *Table
	where   []Predicate
	orderBy []Order
}

// Table returns the table of the loaded targets.
func (a *FilterArgs) Table() *Table { return a.table }

// Where adds predicates on the targets.
func (a *FilterArgs) Where(ps ...Predicate) { a.where = append(a.where, ps...) }

// OrderBy orders the targets of each source.
func (a *FilterArgs) OrderBy(orders ...Order) { a.orderBy = append(a.orderBy, orders...) }

func applyFilter(f Filter, t *Table, q Query) Query {
	if f == nil {
		return q
	}
	args := &FilterArgs{table: t}
	f.Filter(args)
	return q.Where(args.where...).OrderBy(args.orderBy...)
}

var filterSeq atomic.Int64

// filterKey names a filter inside fetcher shapes. Keyed filters use their
// key, pointers their address and other comparable values their contents.
// Functions get a fresh name on every call.
func filterKey(f Filter) string {
	if f == nil {
		return ""
	}
	if k, ok := f.(KeyedFilter); ok {
		return k.FilterKey()
	}
	switch t := reflect.TypeOf(f); {
	case t.Kind() == reflect.Pointer:
		return fmt.Sprintf("%T@%p", f, f)
	case t.Kind() != reflect.Func && t.Comparable():
		return fmt.Sprintf("%T%+v", f, f)
	}
	return "#" + strconv.FormatInt(filterSeq.Add(1), 10)
}

// sameFilter reports whether a and b are known to be the same filter.
func sameFilter(a, b Filter) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}
