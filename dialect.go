package zgraph

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect holds the few SQL differences the renderer cares about:
// identifier quoting, placeholders, pagination and row-value support.
type Dialect struct {
	Name       string
	DriverName string

	// QuoteChar encloses identifiers that need quoting. AlwaysQuote quotes
	// every identifier.
	QuoteChar   string
	AlwaysQuote bool

	PlaceholderChar           string
	IncludeIndexInPlaceholder bool

	// RowValueIn reports support for (a, b) in ((?, ?), ...). Without it
	// tuple membership is rendered as an or of and groups.
	RowValueIn bool

	// UnboundedLimit is bound as the limit when only an offset is set. Nil
	// means the dialect accepts offset without limit.
	UnboundedLimit any

	// QueryListTables lists the tables of the connected database.
	QueryListTables string

	// MaxBatchSize caps the ids or id pairs bound in one statement. Larger
	// batches are split. Zero means no cap.
	MaxBatchSize int
}

// Placeholder returns the placeholder for the n-th (1-based) argument.
func (d *Dialect) Placeholder(n int) string {
	if d.IncludeIndexInPlaceholder {
		return d.PlaceholderChar + strconv.Itoa(n)
	}
	return d.PlaceholderChar
}

// Quote returns name quoted when the dialect requires it. Qualified names
// are quoted part by part.
func (d *Dialect) Quote(name string) string {
	if strings.Contains(name, ".") {
		parts := strings.Split(name, ".")
		for i, p := range parts {
			parts[i] = d.quotePart(p)
		}
		return strings.Join(parts, ".")
	}
	return d.quotePart(name)
}

func (d *Dialect) quotePart(name string) string {
	if !d.AlwaysQuote && !needsQuote(name) {
		return name
	}
	q := d.QuoteChar
	return q + strings.ReplaceAll(name, q, q+q) + q
}

func needsQuote(name string) bool {
	if name == "" {
		return true
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return true
		}
	}
	_, reserved := reservedWords[strings.ToLower(name)]
	return reserved
}

var reservedWords = map[string]struct{}{
	"all": {}, "and": {}, "as": {}, "asc": {}, "between": {}, "by": {}, "case": {},
	"check": {}, "column": {}, "constraint": {}, "create": {}, "default": {},
	"delete": {}, "desc": {}, "distinct": {}, "drop": {}, "else": {}, "end": {},
	"exists": {}, "from": {}, "group": {}, "having": {}, "in": {}, "index": {},
	"inner": {}, "insert": {}, "into": {}, "is": {}, "join": {}, "key": {},
	"left": {}, "like": {}, "limit": {}, "not": {}, "null": {}, "offset": {},
	"on": {}, "or": {}, "order": {}, "outer": {}, "primary": {}, "references": {},
	"select": {}, "set": {}, "table": {}, "then": {}, "to": {}, "union": {},
	"update": {}, "user": {}, "values": {}, "when": {}, "where": {},
}

// Dialects are the supported dialects. Default uses ? placeholders and
// double quotes.
var Dialects = &struct {
	Default    *Dialect
	MySQL      *Dialect
	PostgreSQL *Dialect
	SQLite3    *Dialect
}{
	Default: &Dialect{
		Name:            "default",
		QuoteChar:       `"`,
		PlaceholderChar: "?",
		RowValueIn:      true,
	},

	MySQL: &Dialect{
		Name:            "mysql",
		DriverName:      "mysql",
		QuoteChar:       "`",
		PlaceholderChar: "?",
		RowValueIn:      true,
		UnboundedLimit:  uint64(18446744073709551615),
		QueryListTables: "SHOW TABLES",
		MaxBatchSize:    10000,
	},

	PostgreSQL: &Dialect{
		Name:                      "postgres",
		DriverName:                "postgres",
		QuoteChar:                 `"`,
		PlaceholderChar:           "$",
		IncludeIndexInPlaceholder: true,
		RowValueIn:                true,
		QueryListTables:           "SELECT tablename FROM pg_tables WHERE schemaname = 'public'",
		MaxBatchSize:              10000,
	},

	SQLite3: &Dialect{
		Name:            "sqlite3",
		DriverName:      "sqlite3",
		QuoteChar:       `"`,
		PlaceholderChar: "?",
		UnboundedLimit:  int64(-1),
		QueryListTables: "SELECT name FROM sqlite_schema WHERE type='table'",
		MaxBatchSize:    400,
	},
}

// LookupDialect returns the dialect for a dialect or driver name.
func LookupDialect(name string) (*Dialect, error) {
	switch strings.ToLower(name) {
	case "", "default":
		return Dialects.Default, nil
	case "mysql":
		return Dialects.MySQL, nil
	case "postgres", "postgresql", "pgx":
		return Dialects.PostgreSQL, nil
	case "sqlite3", "sqlite":
		return Dialects.SQLite3, nil
	}
	return nil, newConfigError("dialect", "", "", fmt.Sprintf("unknown dialect %q", name))
}
