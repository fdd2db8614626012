package zgraph

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Sentinel errors for common failure cases
var (
	// ErrConfiguration marks illegal metadata, query shapes, fetch
	// specifications and API misuse. It is raised before any statement runs.
	ErrConfiguration = errors.New("zgraph: configuration error")

	// ErrRecordNotFound is returned when a query returns no results
	ErrRecordNotFound = errors.New("zgraph: record not found")

	// ErrUnknownEntity is returned when the metadata provider has no such entity
	ErrUnknownEntity = errors.New("zgraph: unknown entity")

	// ErrUnknownProperty is returned when an entity has no such property
	ErrUnknownProperty = errors.New("zgraph: unknown property")

	// ErrDuplicateKey is returned for unique constraint violations
	ErrDuplicateKey = errors.New("zgraph: duplicate key violation")

	// ErrForeignKey is returned for foreign key constraint violations
	ErrForeignKey = errors.New("zgraph: foreign key constraint violation")

	// ErrNilPointer is returned when a nil pointer is passed
	ErrNilPointer = errors.New("zgraph: nil pointer")
)

// ConfigError describes a configuration error. It always matches ErrConfiguration.
type ConfigError struct {
	Op       string // schema, query, fetcher, loader, association...
	Entity   string
	Property string
	Msg      string
	Err      error // optional cause, e.g. ErrUnknownProperty
}

func (e *ConfigError) Error() string {
	var sb strings.Builder
	sb.WriteString("zgraph: ")
	sb.WriteString(e.Op)
	if e.Entity != "" {
		sb.WriteString(" ")
		sb.WriteString(e.Entity)
		if e.Property != "" {
			sb.WriteString(".")
			sb.WriteString(e.Property)
		}
	}
	sb.WriteString(": ")
	sb.WriteString(e.Msg)
	return sb.String()
}

func (e *ConfigError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrConfiguration, e.Err}
	}
	return []error{ErrConfiguration}
}

func newConfigError(op, entity, prop, msg string) error {
	return &ConfigError{Op: op, Entity: entity, Property: prop, Msg: msg}
}

func unknownProperty(op string, entity *EntityType, prop string) error {
	return &ConfigError{
		Op:       op,
		Entity:   entity.Name,
		Property: prop,
		Msg:      "no such property",
		Err:      ErrUnknownProperty,
	}
}

// QueryError wraps database errors with query context for better debugging
type QueryError struct {
	Query     string // The SQL query that failed
	Args      []any  // The query arguments
	Operation string // Operation type: SELECT, INSERT, DELETE, SCAN
	Err       error  // The underlying error
}

func (e *QueryError) Error() string {
	argsStr := formatArgs(e.Args)
	return fmt.Sprintf("zgraph: %s failed: %v\nQuery: %s\nArgs: %s",
		e.Operation, e.Err, e.Query, argsStr)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// LoadError wraps a batched association load failure. A fetch that returns a
// LoadError has not populated any caller-supplied object.
type LoadError struct {
	Entity      string
	Association string
	Err         error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("zgraph: loading association '%s' of %s failed: %v",
		e.Association, e.Entity, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// WrapQueryError wraps a database error with query context. Constraint
// violations additionally match ErrDuplicateKey or ErrForeignKey; every other
// error keeps its identity through Unwrap.
func WrapQueryError(operation, query string, args []any, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrRecordNotFound
	}

	switch {
	case isUniqueConstraintError(err):
		err = fmt.Errorf("%w: %w", ErrDuplicateKey, err)
	case isForeignKeyConstraintError(err):
		err = fmt.Errorf("%w: %w", ErrForeignKey, err)
	}

	return &QueryError{
		Query:     query,
		Args:      args,
		Operation: operation,
		Err:       err,
	}
}

// IsNotFound checks if the error is ErrRecordNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound) || errors.Is(err, sql.ErrNoRows)
}

// IsConfigError checks if the error is a configuration error
func IsConfigError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsConstraintViolation checks if the error is a constraint violation
func IsConstraintViolation(err error) bool {
	return errors.Is(err, ErrDuplicateKey) || errors.Is(err, ErrForeignKey)
}

// IsDuplicateKey checks if the error is a duplicate key violation
func IsDuplicateKey(err error) bool {
	return errors.Is(err, ErrDuplicateKey)
}

// IsForeignKeyViolation checks if the error is a foreign key violation
func IsForeignKeyViolation(err error) bool {
	return errors.Is(err, ErrForeignKey)
}

func isUniqueConstraintError(err error) bool {
	if e, ok := asError[*mysql.MySQLError](err); ok {
		return e.Number == 1062
	}
	if e, ok := asError[*pq.Error](err); ok {
		return e.Code == "23505"
	}
	if e, ok := asError[*pgconn.PgError](err); ok {
		return e.Code == "23505"
	}
	if e, ok := asError[sqlite3.Error](err); ok {
		return e.ExtendedCode == sqlite3.ErrConstraintUnique ||
			e.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	// modernc.org/sqlite reports extended result codes through Code().
	if e, ok := asError[interface{ Code() int }](err); ok {
		return e.Code() == 2067 || e.Code() == 1555
	}
	return containsAny(err.Error(),
		"UNIQUE constraint failed",
		"duplicate key",
		"Duplicate entry",
		"violates unique constraint",
	)
}

func isForeignKeyConstraintError(err error) bool {
	if e, ok := asError[*mysql.MySQLError](err); ok {
		return e.Number == 1451 || e.Number == 1452
	}
	if e, ok := asError[*pq.Error](err); ok {
		return e.Code == "23503"
	}
	if e, ok := asError[*pgconn.PgError](err); ok {
		return e.Code == "23503"
	}
	if e, ok := asError[sqlite3.Error](err); ok {
		return e.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	if e, ok := asError[interface{ Code() int }](err); ok {
		return e.Code() == 787
	}
	return containsAny(err.Error(),
		"FOREIGN KEY constraint failed",
		"violates foreign key constraint",
		"foreign key constraint fails",
	)
}

func asError[T any](err error) (T, bool) {
	var target T
	if errors.As(err, &target) {
		return target, true
	}
	return target, false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// formatArgs formats query arguments for error messages
func formatArgs(args []any) string {
	if len(args) == 0 {
		return "[]"
	}

	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = fmt.Sprintf("%v", arg)
	}

	// Limit output length
	result := "[" + strings.Join(parts, ", ") + "]"
	if len(result) > 200 {
		return result[:197] + "...]"
	}
	return result
}
