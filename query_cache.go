package zgraph

import (
	"strings"
	"sync"
)

// templateCache caches the fixed leading part of mutation and middle table
// statements. The text only depends on the dialect and the mapped names.
var templateCache sync.Map

// templateKind is the statement a template starts.
type templateKind string

const (
	templateSelect templateKind = "select"
	templateInsert templateKind = "insert"
	templateDelete templateKind = "delete"
)

type templateKey struct {
	dialect *Dialect
	kind    templateKind
	table   string
	columns string
}

// statementPrefix returns, for the dialect:
//
//	select: "select C1, C2 from TABLE where "
//	insert: "insert into TABLE(C1, C2) values"
//	delete: "delete from TABLE where "
func statementPrefix(d *Dialect, kind templateKind, table string, columns ...string) string {
	key := templateKey{dialect: d, kind: kind, table: table, columns: strings.Join(columns, ",")}
	if cached, ok := templateCache.Load(key); ok {
		return cached.(string)
	}

	w := newSQLWriter(d)
	identList := func() {
		for i, c := range columns {
			if i > 0 {
				w.write(", ")
			}
			w.ident(c)
		}
	}
	switch kind {
	case templateSelect:
		w.write("select ")
		identList()
		w.write(" from ")
		w.ident(table)
		w.write(" where ")
	case templateInsert:
		w.write("insert into ")
		w.ident(table)
		w.write("(")
		identList()
		w.write(") values")
	case templateDelete:
		w.write("delete from ")
		w.ident(table)
		w.write(" where ")
	}
	result := w.String()

	templateCache.Store(key, result)
	return result
}

// ClearTemplateCache clears all cached statement prefixes.
// This should be called if a dialect's quoting is changed at runtime (rare).
func ClearTemplateCache() {
	templateCache.Clear()
}
